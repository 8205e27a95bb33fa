package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sort"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"lumacam/camera"
	"lumacam/config"
	"lumacam/grade"
	"lumacam/lut"
	"lumacam/monitor"
	"lumacam/preview"
	"lumacam/record"
	"lumacam/web"
)

const (
	DefaultConfigPath = "config.toml"
	AppName           = "Lumacam"
	AppVersion        = "1.0.0"
)

// Application wires the capture pipeline to its serving surfaces.
type Application struct {
	config *config.Config
	logger *zap.Logger

	statusStore *config.StatusStore
	luts        *lut.Store
	engine      *grade.Engine
	sink        *preview.Sink
	session     *record.Session
	controller  *camera.Controller
	previewFeed *web.PreviewFeed
	webServer   *web.Server
	tapEncoder  *monitor.TapEncoder
	monitor     *monitor.Server

	ctx    context.Context
	cancel context.CancelFunc
}

func main() {
	var (
		configPath = flag.String("config", DefaultConfigPath, "Path to configuration file")
		logLevel   = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		version    = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *version {
		fmt.Printf("%s v%s\n", AppName, AppVersion)
		fmt.Printf("Go version: %s\n", runtime.Version())
		fmt.Printf("Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	logger, err := createLogger(*logLevel)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting Lumacam",
		zap.String("version", AppVersion),
		zap.String("go_version", runtime.Version()),
		zap.String("platform", runtime.GOOS+"/"+runtime.GOARCH))

	cfg, err := config.LoadConfig(*configPath, logger)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	logger.Info("Configuration loaded",
		zap.Int("web_port", cfg.Server.WebPort),
		zap.Int("devices", len(cfg.Capture.Devices)),
		zap.Bool("monitor_enabled", cfg.Monitor.Enabled))

	app := NewApplication(cfg, logger)

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	if err := app.Start(); err != nil {
		logger.Fatal("Failed to start application", zap.Error(err))
	}

	sig := <-signalCh
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Timeouts.ShutdownTimeout)*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("Shutdown complete")
}

// NewApplication creates an application around the loaded configuration.
func NewApplication(cfg *config.Config, logger *zap.Logger) *Application {
	ctx, cancel := context.WithCancel(context.Background())
	return &Application{
		config: cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start builds and starts every component.
func (a *Application) Start() error {
	cfg := a.config
	logger := a.logger

	a.statusStore = config.NewStatusStore(cfg.Capture.StatusPath, logger)
	status := a.statusStore.Load()

	resolver := lut.DirResolver{Dir: cfg.Grading.PresetDir}
	a.luts = lut.NewStore(resolver, logger)
	a.luts.Load(status.SelectedPresetName)

	a.engine = grade.NewEngine(cfg.Grading.Workers, logger)
	a.sink = preview.NewSink(time.Duration(cfg.Preview.MinIntervalMs)*time.Millisecond, logger)

	factory := record.NewFFmpegFactory(record.FFmpegMuxerConfig{
		FFmpegPath:  cfg.Record.FFmpegPath,
		FFprobePath: cfg.Record.FFprobePath,
		OutputDir:   cfg.Record.OutputDir,
	}, logger)
	a.session = record.NewSession(factory, logger)

	meta := record.StaticMetadata{
		Make:     cfg.Record.Make,
		Model:    cfg.Record.Model,
		Software: AppName + " " + AppVersion,
	}

	var handlers *web.Handlers
	recControl := record.NewControl(a.session, func() config.SessionStatus {
		return handlers.CurrentStatus()
	}, meta, logger)

	catalog := camera.NewConfigCatalog(cfg, logger)
	a.controller = camera.NewController(cfg, catalog, a.engine, a.luts, a.sink, recControl, logger)

	a.previewFeed = web.NewPreviewFeed(cfg.Preview.JPEGQuality, cfg.Buffers.WebSocketSendBuffer,
		cfg.Server.AllowedOrigins, logger)

	if cfg.Monitor.Enabled {
		a.tapEncoder = monitor.NewTapEncoder(cfg.Capture.FFmpegPath, cfg.Monitor.Bitrate,
			cfg.Buffers.MonitorChannelSize, logger)
		a.monitor = monitor.NewServer(cfg, a.tapEncoder, logger)
		a.sink.Attach(preview.NewTee(a.previewFeed, a.tapEncoder))
		a.controller.SetOnConfigured(func(width, height, frameRate int) {
			a.monitor.SetFrameRate(frameRate)
			if err := a.tapEncoder.Start(width, height, frameRate); err != nil {
				logger.Error("Failed to start monitor encoder", zap.Error(err))
			}
		})
	} else {
		a.sink.Attach(a.previewFeed)
	}

	handlers = web.NewHandlers(cfg, a.statusStore, a.controller, a.luts, resolver,
		a.sink, a.session, a.previewFeed, status, logger)
	a.webServer = web.NewServer(cfg, handlers, a.previewFeed, logger)

	accel := camera.IIOAccelerometer{Dir: cfg.Capture.AccelDir}
	sampler := camera.NewOrientationSampler(accel,
		time.Duration(cfg.Capture.AccelInterval)*time.Millisecond,
		a.controller.SetOrientation, logger)
	go sampler.Run(a.ctx)

	thermal := camera.NewThermalMonitor(camera.ZoneThermalSource{Path: cfg.Capture.ThermalZonePath},
		time.Duration(cfg.Capture.ThermalInterval)*time.Millisecond,
		a.controller.HandleThermal, logger)
	go thermal.Run(a.ctx)

	if err := a.webServer.Start(); err != nil {
		return fmt.Errorf("failed to start web server: %w", err)
	}
	if a.monitor != nil {
		if err := a.monitor.Start(); err != nil {
			return fmt.Errorf("failed to start monitor server: %w", err)
		}
	}

	a.controller.Configure(status)

	go a.logStats()

	a.logger.Info("Application started",
		zap.String("web_url", fmt.Sprintf("http://%s:%d", cfg.Server.BindIP, cfg.Server.WebPort)))
	return nil
}

// logStats periodically reports pipeline counters.
func (a *Application) logStats() {
	interval := time.Duration(a.config.Logging.StatsLogInterval) * time.Second
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			forwarded, dropped := a.sink.Stats()
			a.logger.Info("Pipeline stats",
				zap.Uint64("preview_forwarded", forwarded),
				zap.Uint64("preview_dropped", dropped),
				zap.Int("preview_viewers", a.previewFeed.Viewers()),
				zap.String("recording_state", a.session.State().String()),
				zap.Duration("recording_duration", a.session.Duration()),
				zap.Int("recording_dropped_video", a.session.DroppedVideo()))
		}
	}
}

// Stop tears components down in reverse dependency order.
func (a *Application) Stop(ctx context.Context) error {
	a.logger.Info("Stopping application")

	a.cancel()

	if path, err := a.session.Stop(ctx); err != nil {
		if !errors.Is(err, record.ErrNothingToFinalize) {
			a.logger.Error("Failed to finalize recording during shutdown", zap.Error(err))
		}
	} else {
		a.logger.Info("Recording finalized during shutdown", zap.String("path", path))
	}

	a.controller.StopSession()

	if a.webServer != nil {
		if err := a.webServer.Stop(); err != nil {
			a.logger.Error("Error stopping web server", zap.Error(err))
		}
	}
	if a.monitor != nil {
		if err := a.monitor.Stop(); err != nil {
			a.logger.Error("Error stopping monitor server", zap.Error(err))
		}
	}

	a.engine.Close()

	a.logger.Info("All components stopped")
	return nil
}

// createLogger creates a structured logger
func createLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	const logDir = "logs"
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log dir: %w", err)
	}
	ts := time.Now().Format("20060102-150405")
	logFile := filepath.Join(logDir, fmt.Sprintf("lumacam-%s.log", ts))

	// Keep the last 20 log files.
	files, _ := filepath.Glob(filepath.Join(logDir, "lumacam-*.log"))
	if len(files) > 20 {
		sort.Strings(files) // lexicographic order matches timestamp
		for _, f := range files[:len(files)-20] {
			_ = os.Remove(f)
		}
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Sampling: &zap.SamplingConfig{
			Initial:    100,
			Thereafter: 100,
		},
		Encoding: "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout", logFile},
		ErrorOutputPaths: []string{"stderr", logFile},
	}

	return config.Build()
}
