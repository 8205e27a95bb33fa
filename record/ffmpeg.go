package record

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lumacam/camera"
)

// FFmpegMuxer encodes and muxes through an external ffmpeg process: graded
// NV12 frames on stdin, PCM audio through a named pipe, one movie container
// out. Both inputs are fed by dedicated pump goroutines behind bounded
// channels, so readiness is a channel-capacity check and a slow encoder
// can never block an append.
type FFmpegMuxer struct {
	settings    Settings
	ffmpegPath  string
	ffprobePath string
	outputDir   string
	logger      *zap.Logger

	cmd       *exec.Cmd
	stdin     io.WriteCloser
	audioPath string
	tempPath  string
	finalPath string

	videoChan chan *camera.Frame
	audioChan chan *camera.Frame
	pumpStop  chan struct{}
	closeOnce sync.Once
	pumpErr   error
	pumpMu    sync.Mutex
	pumpWG    sync.WaitGroup

	// started tracks the process lifetime, writing the writable state; a
	// pump failure clears writing while the process still needs teardown.
	started bool
	writing bool
	mu      sync.Mutex
}

// FFmpegMuxerConfig carries the process-level knobs for NewFFmpegFactory.
type FFmpegMuxerConfig struct {
	FFmpegPath   string
	FFprobePath  string
	OutputDir    string
	VideoBacklog int
	AudioBacklog int
}

// NewFFmpegFactory returns a MuxerFactory producing FFmpegMuxers.
func NewFFmpegFactory(cfg FFmpegMuxerConfig, logger *zap.Logger) MuxerFactory {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.VideoBacklog <= 0 {
		cfg.VideoBacklog = 8
	}
	if cfg.AudioBacklog <= 0 {
		cfg.AudioBacklog = 64
	}

	return func(settings Settings) (Muxer, error) {
		return &FFmpegMuxer{
			settings:    settings,
			ffmpegPath:  cfg.FFmpegPath,
			ffprobePath: cfg.FFprobePath,
			outputDir:   cfg.OutputDir,
			logger:      logger.With(zap.String("component", "ffmpeg_muxer")),
			videoChan:   make(chan *camera.Frame, cfg.VideoBacklog),
			audioChan:   make(chan *camera.Frame, cfg.AudioBacklog),
			pumpStop:    make(chan struct{}),
		}, nil
	}
}

// Start launches the ffmpeg process against a fixed in-progress temp path,
// removing any stale leftover from a previous crash first.
func (m *FFmpegMuxer) Start() error {
	if err := os.MkdirAll(m.outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	m.tempPath = filepath.Join(m.outputDir, ".recording-in-progress."+strings.ToLower(m.settings.Extension()))
	if _, err := os.Stat(m.tempPath); err == nil {
		m.logger.Warn("Removing stale in-progress recording", zap.String("path", m.tempPath))
		if err := os.Remove(m.tempPath); err != nil {
			return fmt.Errorf("failed to remove stale temp file: %w", err)
		}
	}

	m.audioPath = filepath.Join(m.outputDir, ".audio-"+uuid.NewString()+".pcm")
	if err := syscall.Mkfifo(m.audioPath, 0o600); err != nil {
		return fmt.Errorf("failed to create audio pipe: %w", err)
	}

	m.cmd = exec.Command(m.ffmpegPath, m.buildArgs()...)

	stdin, err := m.cmd.StdinPipe()
	if err != nil {
		m.cleanupFiles()
		return fmt.Errorf("failed to get ffmpeg stdin pipe: %w", err)
	}
	m.stdin = stdin

	stderr, err := m.cmd.StderrPipe()
	if err != nil {
		m.cleanupFiles()
		return fmt.Errorf("failed to get ffmpeg stderr pipe: %w", err)
	}

	m.logger.Info("Starting ffmpeg muxer",
		zap.String("output", m.tempPath),
		zap.Int("bitrate", m.settings.Bitrate()),
		zap.String("codec", string(m.settings.Codec)))

	if err := m.cmd.Start(); err != nil {
		m.cleanupFiles()
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			m.logger.Debug("ffmpeg_stderr", zap.String("line", scanner.Text()))
		}
	}()

	m.pumpWG.Add(2)
	go m.videoPump()
	go m.audioPump()

	m.mu.Lock()
	m.started = true
	m.writing = true
	m.mu.Unlock()

	return nil
}

// buildArgs assembles the ffmpeg invocation: rawvideo+PCM in, encoded
// container with rotation and informational metadata out.
func (m *FFmpegMuxer) buildArgs() []string {
	s := m.settings

	args := []string{
		"-hide_banner", "-loglevel", "warning", "-y",
		"-f", "rawvideo", "-pix_fmt", "nv12",
		"-s", fmt.Sprintf("%dx%d", s.Width, s.Height),
		"-framerate", strconv.Itoa(s.FrameRate),
		"-i", "pipe:0",
		"-f", "s16le",
		"-ar", strconv.Itoa(s.AudioSampleRate),
		"-ac", strconv.Itoa(s.AudioChannels),
		"-i", m.audioPath,
	}

	switch s.Codec {
	case CodecHEVC:
		args = append(args, "-c:v", "libx265")
		if s.Range != "" && s.Range != "sdr" {
			args = append(args, "-profile:v", "main10", "-pix_fmt", "yuv420p10le")
		} else {
			args = append(args, "-profile:v", "main")
		}
		args = append(args, "-tag:v", "hvc1")
	default:
		args = append(args, "-c:v", "libx264", "-profile:v", "high")
	}

	args = append(args,
		"-b:v", strconv.Itoa(s.Bitrate()),
		"-c:a", "aac",
	)

	if s.Rotation != 0 {
		args = append(args, "-metadata:s:v:0", fmt.Sprintf("rotate=%d", s.Rotation))
	}

	meta := s.Meta
	if meta.Make != "" {
		args = append(args, "-metadata", "make="+meta.Make)
	}
	if meta.Model != "" {
		args = append(args, "-metadata", "model="+meta.Model)
	}
	if meta.Software != "" {
		args = append(args, "-metadata", "software="+meta.Software)
	}
	if !meta.CreationTime.IsZero() {
		args = append(args, "-metadata", "creation_time="+meta.CreationTime.UTC().Format(time.RFC3339))
	}
	if meta.Location != nil {
		args = append(args, "-metadata", "location="+meta.Location.ISO6709())
		args = append(args, "-metadata", fmt.Sprintf("location.accuracy.horizontal=%.3f", meta.Location.HorizontalAccuracy))
	}

	if m.settings.Container == ContainerMP4 {
		args = append(args, "-movflags", "+faststart")
	}

	return append(args, m.tempPath)
}

// videoPump feeds queued frames to ffmpeg stdin: Y plane, then interleaved
// CbCr, which is exactly the nv12 layout the input declares.
func (m *FFmpegMuxer) videoPump() {
	defer m.pumpWG.Done()
	defer m.stdin.Close()

	for frame := range m.videoChan {
		if _, err := m.stdin.Write(frame.Y); err != nil {
			m.setPumpErr(fmt.Errorf("video pipe write failed: %w", err))
			return
		}
		if _, err := m.stdin.Write(frame.CbCr); err != nil {
			m.setPumpErr(fmt.Errorf("video pipe write failed: %w", err))
			return
		}
	}
}

// errMuxerTornDown signals the fifo open loop was released by teardown
// rather than failing.
var errMuxerTornDown = errors.New("muxer torn down before audio pipe opened")

// audioPump opens the fifo write side and streams PCM. The open waits for
// ffmpeg to pick up the read side, which is why the pump lives on its own
// goroutine.
func (m *FFmpegMuxer) audioPump() {
	defer m.pumpWG.Done()

	pipe, err := m.openAudioPipe()
	if err != nil {
		if !errors.Is(err, errMuxerTornDown) {
			m.setPumpErr(err)
		}
		for range m.audioChan {
		}
		return
	}
	defer pipe.Close()

	for frame := range m.audioChan {
		if _, err := pipe.Write(frame.PCM); err != nil {
			m.setPumpErr(fmt.Errorf("audio pipe write failed: %w", err))
			return
		}
	}
}

// openAudioPipe opens the fifo without ever committing to a blocking open:
// ffmpeg can die before it picks up the read side, and a blocking open
// would then wedge the pump forever. Non-blocking attempts are retried
// until a reader appears or the muxer tears down.
func (m *FFmpegMuxer) openAudioPipe() (*os.File, error) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		pipe, err := os.OpenFile(m.audioPath, os.O_WRONLY|syscall.O_NONBLOCK, 0)
		if err == nil {
			return pipe, nil
		}
		if !errors.Is(err, syscall.ENXIO) {
			return nil, fmt.Errorf("failed to open audio pipe: %w", err)
		}

		select {
		case <-m.pumpStop:
			return nil, errMuxerTornDown
		case <-ticker.C:
		}
	}
}

// closeInputs closes both pump inputs and releases a pump still waiting on
// the fifo open. Safe to call more than once.
func (m *FFmpegMuxer) closeInputs() {
	m.closeOnce.Do(func() {
		close(m.pumpStop)
		close(m.videoChan)
		close(m.audioChan)
	})
}

func (m *FFmpegMuxer) setPumpErr(err error) {
	m.pumpMu.Lock()
	if m.pumpErr == nil {
		m.pumpErr = err
		m.logger.Error("Muxer pump failed", zap.Error(err))
	}
	m.pumpMu.Unlock()

	m.mu.Lock()
	m.writing = false
	m.mu.Unlock()
}

// BeginSession records the origin. Sample timing inside the container is
// carried by the declared constant frame rate; the session layer has
// already zeroed and gated timestamps against the origin.
func (m *FFmpegMuxer) BeginSession(origin time.Duration) error {
	return nil
}

func (m *FFmpegMuxer) Writing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writing
}

func (m *FFmpegMuxer) VideoReady() bool {
	return len(m.videoChan) < cap(m.videoChan)
}

func (m *FFmpegMuxer) AudioReady() bool {
	return len(m.audioChan) < cap(m.audioChan)
}

func (m *FFmpegMuxer) WriteVideo(frame *camera.Frame) error {
	select {
	case m.videoChan <- frame:
		return nil
	default:
		return fmt.Errorf("video input saturated")
	}
}

func (m *FFmpegMuxer) WriteAudio(frame *camera.Frame) error {
	select {
	case m.audioChan <- frame:
		return nil
	default:
		return fmt.Errorf("audio input saturated")
	}
}

// Finish closes both inputs, waits for ffmpeg to finalize the container,
// validates it with ffprobe and moves it to its final name. An unplayable
// result is deleted and reported as an error.
func (m *FFmpegMuxer) Finish(ctx context.Context) (string, error) {
	m.mu.Lock()
	m.writing = false
	m.started = false
	m.mu.Unlock()

	m.closeInputs()

	pumpsDone := make(chan struct{})
	go func() {
		m.pumpWG.Wait()
		close(pumpsDone)
	}()
	select {
	case <-pumpsDone:
	case <-ctx.Done():
		if m.cmd != nil && m.cmd.Process != nil {
			m.cmd.Process.Kill()
		}
		<-pumpsDone
	}

	waitErr := m.waitProcess(ctx)

	defer m.cleanupAudioPipe()

	m.pumpMu.Lock()
	pumpErr := m.pumpErr
	m.pumpMu.Unlock()

	if waitErr != nil || pumpErr != nil {
		os.Remove(m.tempPath)
		if waitErr != nil {
			return "", fmt.Errorf("ffmpeg did not finalize cleanly: %w", waitErr)
		}
		return "", pumpErr
	}

	if !m.isPlayable(ctx) {
		os.Remove(m.tempPath)
		return "", fmt.Errorf("output not playable, deleted")
	}

	m.finalPath = filepath.Join(m.outputDir, uuid.NewString()+"."+m.settings.Extension())
	if err := os.Rename(m.tempPath, m.finalPath); err != nil {
		os.Remove(m.tempPath)
		return "", fmt.Errorf("failed to move finished recording: %w", err)
	}

	return m.finalPath, nil
}

// waitProcess waits for ffmpeg to exit, killing it if the context deadline
// passes first.
func (m *FFmpegMuxer) waitProcess(ctx context.Context) error {
	if m.cmd == nil || m.cmd.Process == nil {
		return fmt.Errorf("ffmpeg never started")
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- m.cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		m.logger.Warn("ffmpeg did not exit within timeout, killing", zap.Error(ctx.Err()))
		if err := m.cmd.Process.Kill(); err != nil {
			m.logger.Error("Failed to kill ffmpeg process", zap.Error(err))
		}
		<-errChan
		return ctx.Err()
	case err := <-errChan:
		return err
	}
}

// isPlayable asks ffprobe whether the finished container has a decodable
// video stream.
func (m *FFmpegMuxer) isPlayable(ctx context.Context) bool {
	cmd := exec.CommandContext(ctx, m.ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=codec_name",
		"-of", "default=noprint_wrappers=1:nokey=1",
		m.tempPath)

	output, err := cmd.Output()
	if err != nil {
		m.logger.Error("ffprobe validation failed", zap.Error(err))
		return false
	}
	return len(strings.TrimSpace(string(output))) > 0
}

// Abort kills the process and discards the in-progress container.
func (m *FFmpegMuxer) Abort() {
	m.mu.Lock()
	started := m.started
	m.started = false
	m.writing = false
	m.mu.Unlock()

	if started {
		m.closeInputs()
		if m.cmd != nil && m.cmd.Process != nil {
			_ = m.cmd.Process.Kill()
		}
		m.pumpWG.Wait()
		if m.cmd != nil {
			_ = m.cmd.Wait()
		}
	}

	m.cleanupFiles()
}

func (m *FFmpegMuxer) cleanupFiles() {
	if m.tempPath != "" {
		os.Remove(m.tempPath)
	}
	m.cleanupAudioPipe()
}

func (m *FFmpegMuxer) cleanupAudioPipe() {
	if m.audioPath != "" {
		os.Remove(m.audioPath)
	}
}
