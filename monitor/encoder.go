package monitor

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"lumacam/camera"
)

// TapEncoder turns graded frames into an H.264 elementary stream for the
// remote monitor track. It is a preview surface: the pipeline drops frames
// when the encoder is busy instead of queueing behind it. The stream is a
// monitor feed, so the encoder is tuned for latency, not quality.
type TapEncoder struct {
	ffmpegPath string
	bitrate    int
	logger     *zap.Logger

	mu      sync.Mutex
	running bool
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	frames  chan *camera.Frame
	stdin   io.WriteCloser

	encoded chan []byte
	pumpWG  sync.WaitGroup
}

// NewTapEncoder creates the encoder. channelSize bounds the encoded output
// queue.
func NewTapEncoder(ffmpegPath string, bitrate, channelSize int, logger *zap.Logger) *TapEncoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if bitrate <= 0 {
		bitrate = 2_000_000
	}
	if channelSize <= 0 {
		channelSize = 20
	}
	return &TapEncoder{
		ffmpegPath: ffmpegPath,
		bitrate:    bitrate,
		logger:     logger,
		encoded:    make(chan []byte, channelSize),
	}
}

// Start launches the encoder process for the given capture geometry. A
// running encoder is restarted; the monitor stream hiccups, the recording
// path is untouched.
func (e *TapEncoder) Start(width, height, frameRate int) error {
	e.Stop()

	e.mu.Lock()
	defer e.mu.Unlock()

	if width <= 0 || height <= 0 || frameRate <= 0 {
		return fmt.Errorf("invalid encoder geometry %dx%d@%d", width, height, frameRate)
	}

	ctx, cancel := context.WithCancel(context.Background())

	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-f", "rawvideo",
		"-pix_fmt", "nv12",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-framerate", strconv.Itoa(frameRate),
		"-i", "pipe:0",
		"-an",
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-tune", "zerolatency",
		"-g", strconv.Itoa(frameRate),
		"-b:v", strconv.Itoa(e.bitrate),
		"-f", "h264",
		"pipe:1",
	}

	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to open encoder stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to open encoder stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to open encoder stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("failed to start monitor encoder: %w", err)
	}

	e.cmd = cmd
	e.cancel = cancel
	e.stdin = stdin
	e.frames = make(chan *camera.Frame, 1)
	e.running = true

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			e.logger.Debug("Monitor encoder stderr", zap.String("line", scanner.Text()))
		}
	}()

	e.pumpWG.Add(2)
	go e.writePump(e.frames, stdin)
	go e.readPump(stdout)

	e.logger.Info("Monitor encoder started",
		zap.Int("width", width),
		zap.Int("height", height),
		zap.Int("frame_rate", frameRate),
		zap.Int("bitrate", e.bitrate))
	return nil
}

// Ready reports whether the encoder can take a frame without queueing.
func (e *TapEncoder) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running && len(e.frames) < cap(e.frames)
}

// Enqueue offers a graded frame to the encoder. Never blocks. The lock is
// held across the send so Stop cannot close the channel underneath it.
func (e *TapEncoder) Enqueue(frame *camera.Frame) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return
	}
	select {
	case e.frames <- frame:
	default:
	}
}

// Encoded returns the channel of H.264 NAL units.
func (e *TapEncoder) Encoded() <-chan []byte {
	return e.encoded
}

// writePump feeds raw planes to the encoder stdin.
func (e *TapEncoder) writePump(frames <-chan *camera.Frame, stdin io.WriteCloser) {
	defer e.pumpWG.Done()

	for frame := range frames {
		if _, err := stdin.Write(frame.Y); err != nil {
			e.logger.Debug("Monitor encoder stdin closed", zap.Error(err))
			return
		}
		if _, err := stdin.Write(frame.CbCr); err != nil {
			e.logger.Debug("Monitor encoder stdin closed", zap.Error(err))
			return
		}
	}
}

// readPump splits the elementary stream at Annex-B start codes and forwards
// each unit, dropping when the consumer lags.
func (e *TapEncoder) readPump(stdout io.Reader) {
	defer e.pumpWG.Done()

	startCode := []byte{0, 0, 0, 1}
	reader := bufio.NewReaderSize(stdout, 512*1024)
	var pending []byte
	buf := make([]byte, 64*1024)

	emit := func(unit []byte) {
		if len(unit) == 0 {
			return
		}
		out := make([]byte, len(unit))
		copy(out, unit)
		select {
		case e.encoded <- out:
		default:
			e.logger.Debug("Dropping encoded unit, monitor channel full")
		}
	}

	for {
		n, err := reader.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for {
				idx := bytes.Index(pending[1:], startCode)
				if idx < 0 {
					break
				}
				emit(pending[:idx+1])
				pending = pending[idx+1:]
			}
		}
		if err != nil {
			emit(pending)
			if err != io.EOF {
				e.logger.Debug("Monitor encoder stdout closed", zap.Error(err))
			}
			return
		}
	}
}

// Stop terminates the encoder process. Safe to call when not running.
func (e *TapEncoder) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	frames := e.frames
	stdin := e.stdin
	cancel := e.cancel
	cmd := e.cmd
	e.frames = nil
	e.stdin = nil
	e.cancel = nil
	e.cmd = nil
	e.mu.Unlock()

	close(frames)
	stdin.Close()
	cancel()
	cmd.Wait()
	e.pumpWG.Wait()

	e.logger.Info("Monitor encoder stopped")
}
