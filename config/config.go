package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
)

// Config represents the application configuration
type Config struct {
	Capture  CaptureConfig `toml:"capture" json:"capture"`
	Grading  GradingConfig `toml:"grading" json:"grading"`
	Preview  PreviewConfig `toml:"preview" json:"preview"`
	Record   RecordConfig  `toml:"record" json:"record"`
	Server   ServerConfig  `toml:"server" json:"server"`
	Monitor  MonitorConfig `toml:"monitor" json:"monitor"`
	Buffers  BufferConfig  `toml:"buffers" json:"buffers"`
	Timeouts TimeoutConfig `toml:"timeouts" json:"timeouts"`
	Logging  LoggingConfig `toml:"logging" json:"logging"`
}

// CaptureConfig holds capture device settings
type CaptureConfig struct {
	StatusPath      string         `toml:"status_path" json:"status_path"`
	AccelInterval   int            `toml:"accel_interval_ms" json:"accel_interval_ms"`
	AccelDir        string         `toml:"accel_dir" json:"accel_dir"`
	ThermalInterval int            `toml:"thermal_interval_ms" json:"thermal_interval_ms"`
	ThermalZonePath string         `toml:"thermal_zone_path" json:"thermal_zone_path"`
	FFmpegPath      string         `toml:"ffmpeg_path" json:"ffmpeg_path"`
	Devices         []DeviceConfig `toml:"devices" json:"devices"`
}

// DeviceConfig describes one physical camera the catalog can resolve.
type DeviceConfig struct {
	Name        string  `toml:"name" json:"name"`
	Position    string  `toml:"position" json:"position"` // front, back
	Lens        string  `toml:"lens" json:"lens"`         // ultra_wide, wide_angle, wide_angle_x2, telephoto
	VideoPath   string  `toml:"video_path" json:"video_path"`
	AudioDevice string  `toml:"audio_device" json:"audio_device"`
	SampleRate  int     `toml:"sample_rate" json:"sample_rate"`
	Channels    int     `toml:"channels" json:"channels"`
	MinZoom     float64 `toml:"min_zoom" json:"min_zoom"`
	MaxZoom     float64 `toml:"max_zoom" json:"max_zoom"`

	Formats []DeviceFormatConfig `toml:"formats" json:"formats"`
}

// DeviceFormatConfig describes one capture format a device offers.
type DeviceFormatConfig struct {
	Width             int     `toml:"width" json:"width"`
	Height            int     `toml:"height" json:"height"`
	Subtype           string  `toml:"subtype" json:"subtype"` // 420f, 420v
	SecondaryNative2x bool    `toml:"secondary_native_2x" json:"secondary_native_2x"`
	MinRate           float64 `toml:"min_rate" json:"min_rate"`
	MaxRate           float64 `toml:"max_rate" json:"max_rate"`
}

// GradingConfig holds LUT grading settings
type GradingConfig struct {
	PresetDir string `toml:"preset_dir" json:"preset_dir"`
	Workers   int    `toml:"workers" json:"workers"` // 0 = GOMAXPROCS
}

// PreviewConfig holds live preview settings
type PreviewConfig struct {
	MinIntervalMs int `toml:"min_interval_ms" json:"min_interval_ms"`
	JPEGQuality   int `toml:"jpeg_quality" json:"jpeg_quality"`
}

// RecordConfig holds recording output settings
type RecordConfig struct {
	OutputDir   string `toml:"output_dir" json:"output_dir"`
	FFmpegPath  string `toml:"ffmpeg_path" json:"ffmpeg_path"`
	FFprobePath string `toml:"ffprobe_path" json:"ffprobe_path"`
	Make        string `toml:"make" json:"make"`
	Model       string `toml:"model" json:"model"`
}

// ServerConfig holds web server settings
type ServerConfig struct {
	WebPort        int      `toml:"web_port" json:"web_port"`
	BindIP         string   `toml:"bind_ip" json:"bind_ip"`
	AllowedOrigins []string `toml:"allowed_origins" json:"allowed_origins"`
}

// MonitorConfig holds remote WebRTC monitor settings
type MonitorConfig struct {
	Enabled    bool   `toml:"enabled" json:"enabled"`
	Port       int    `toml:"port" json:"port"`
	STUNServer string `toml:"stun_server" json:"stun_server"`
	Bitrate    int    `toml:"bitrate" json:"bitrate"`
	MaxClients int    `toml:"max_clients" json:"max_clients"`
}

// BufferConfig holds buffer size settings for channels
type BufferConfig struct {
	VideoChannelSize    int `toml:"video_channel_size" json:"video_channel_size"`
	AudioChannelSize    int `toml:"audio_channel_size" json:"audio_channel_size"`
	MonitorChannelSize  int `toml:"monitor_channel_size" json:"monitor_channel_size"`
	WebSocketSendBuffer int `toml:"websocket_send_buffer" json:"websocket_send_buffer"`
}

// TimeoutConfig holds timeout and delay settings
type TimeoutConfig struct {
	MuxerFinishTimeout  int `toml:"muxer_finish_timeout_seconds" json:"muxer_finish_timeout_seconds"`
	HTTPShutdownTimeout int `toml:"http_shutdown_timeout_seconds" json:"http_shutdown_timeout_seconds"`
	ShutdownTimeout     int `toml:"shutdown_timeout_seconds" json:"shutdown_timeout_seconds"`
}

// LoggingConfig holds logging interval settings
type LoggingConfig struct {
	FrameLogInterval int `toml:"frame_log_interval" json:"frame_log_interval"`
	StatsLogInterval int `toml:"stats_log_interval_seconds" json:"stats_log_interval_seconds"`
}

// LoadConfig loads configuration from a TOML file
func LoadConfig(configPath string, logger *zap.Logger) (*Config, error) {
	// Set default values
	config := &Config{
		Capture: CaptureConfig{
			StatusPath:      "session_status.json",
			AccelInterval:   100,
			AccelDir:        "/sys/bus/iio/devices/iio:device0",
			ThermalInterval: 1000,
			ThermalZonePath: "/sys/class/thermal/thermal_zone0/temp",
			FFmpegPath:      "ffmpeg",
			Devices: []DeviceConfig{
				{
					Name:        "back-wide",
					Position:    "back",
					Lens:        "wide_angle",
					VideoPath:   "/dev/video0",
					AudioDevice: "default",
					SampleRate:  48000,
					Channels:    1,
					MinZoom:     1.0,
					MaxZoom:     8.0,
					Formats: []DeviceFormatConfig{
						{Width: 1280, Height: 720, Subtype: "420f", MinRate: 1, MaxRate: 60},
						{Width: 1920, Height: 1080, Subtype: "420f", MinRate: 1, MaxRate: 120},
						{Width: 3840, Height: 2160, Subtype: "420f", MinRate: 1, MaxRate: 60},
					},
				},
			},
		},
		Grading: GradingConfig{
			PresetDir: "luts",
			Workers:   0,
		},
		Preview: PreviewConfig{
			MinIntervalMs: 20,
			JPEGQuality:   85,
		},
		Record: RecordConfig{
			OutputDir:   "recordings",
			FFmpegPath:  "ffmpeg",
			FFprobePath: "ffprobe",
			Make:        "Phlow Inc.",
			Model:       "lumacam",
		},
		Server: ServerConfig{
			WebPort: 8080,
			BindIP:  "0.0.0.0",
		},
		Monitor: MonitorConfig{
			Enabled:    false,
			Port:       5557,
			STUNServer: "stun:stun.l.google.com:19302",
			Bitrate:    2000000,
			MaxClients: 4,
		},
		Buffers: BufferConfig{
			VideoChannelSize:    30,
			AudioChannelSize:    64,
			MonitorChannelSize:  20,
			WebSocketSendBuffer: 16,
		},
		Timeouts: TimeoutConfig{
			MuxerFinishTimeout:  10,
			HTTPShutdownTimeout: 5,
			ShutdownTimeout:     30,
		},
		Logging: LoggingConfig{
			FrameLogInterval: 300,
			StatsLogInterval: 60,
		},
	}

	// Load from file if it exists
	if _, err := os.Stat(configPath); err == nil {
		if _, err := toml.DecodeFile(configPath, config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
		logger.Info("Config loaded from file", zap.String("path", configPath))
	} else {
		logger.Info("Config file not found, using defaults", zap.String("path", configPath))
	}

	return config, nil
}

// SaveConfig saves the current configuration to a file
func SaveConfig(config *Config, configPath string) error {
	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}
