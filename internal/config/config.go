// Package config provides configuration management for camenashi.
// Configuration is loaded from a YAML file and then overridden by
// CAMENASHI_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

const (
	// Default values
	DefaultConfigFile = "camenashi.yaml"
	DefaultLogLevel   = "info"
	DefaultLogFormat  = "json"
	DefaultDataDir    = ".camenashi"
	DefaultAPIAddr    = "127.0.0.1:8790"

	// Environment variable prefix; CAMENASHI_LOG_LEVEL overrides log_level etc.
	EnvPrefix = "CAMENASHI_"

	// Database filename inside the data directory
	DBFilename = "camenashi.db"

	// Camera defaults
	DefaultRTSPPort   = 554
	DefaultStreamPath = "stream2"

	// Detection defaults
	DefaultLabel                 = "person"
	DefaultConfirmationThreshold = 10
	DefaultNoDetectionSeconds    = 5
	DefaultBlackScreenSeconds    = 600
	DefaultMovieSpeed            = 1

	// Recovery and connectivity defaults
	DefaultPauseSeconds = 60
	DefaultPingRetries  = 3
	DefaultPingDelay    = 5  // seconds
	DefaultPingTimeout  = 2  // seconds
	DefaultLineLimit    = 200 // free plan monthly push quota

	DefaultPresignExpiry  = 7 * 24 * 3600 // seconds, the S3 maximum
	DefaultRetentionDays  = 30
	DefaultSFTPPort       = 22
	DefaultIncidentBuffer = 50

	// Channel names accepted by notify.primary / notify.fallback
	ChannelLine       = "line"
	ChannelLineNotify = "line_notify"
	ChannelDiscord    = "discord"
	ChannelMail       = "mail"
	ChannelMQTT       = "mqtt"
)

// KnownChannels lists every notification channel name.
var KnownChannels = []string{ChannelLine, ChannelLineNotify, ChannelDiscord, ChannelMail, ChannelMQTT}

type Config struct {
	LogLevel     string `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat    string `yaml:"log_format" env:"LOG_FORMAT"`
	DataDir      string `yaml:"data_dir" env:"DATA_DIR"`
	PauseSeconds int    `yaml:"pause_seconds" env:"PAUSE_SECONDS"`

	Camera    CameraConfig    `yaml:"camera" envPrefix:"CAMERA_"`
	Detector  DetectorConfig  `yaml:"detector" envPrefix:"DETECTOR_"`
	Detect    DetectConfig    `yaml:"detect" envPrefix:"DETECT_"`
	Recording RecordingConfig `yaml:"recording" envPrefix:"RECORDING_"`
	Compress  CompressConfig  `yaml:"compress" envPrefix:"COMPRESS_"`
	Storage   StorageConfig   `yaml:"storage" envPrefix:"S3_"`
	Archive   ArchiveConfig   `yaml:"archive" envPrefix:"SSH_"`
	Notify    NotifyConfig    `yaml:"notify" envPrefix:"NOTIFY_"`
	Kafka     KafkaConfig     `yaml:"kafka" envPrefix:"KAFKA_"`
	DB        DBConfig        `yaml:"db" envPrefix:"DB_"`
	API       APIConfig       `yaml:"api" envPrefix:"API_"`
	Ping      PingConfig      `yaml:"ping" envPrefix:"PING_"`
}

type CameraConfig struct {
	Host string `yaml:"host" env:"IP"`
	User string `yaml:"user" env:"USER"`
	Pass string `yaml:"pass" env:"PASS"`
	Port int    `yaml:"port" env:"PORT"`
	Path string `yaml:"path" env:"PATH"`
	// URL overrides the rtsp URL built from the fields above.
	URL string `yaml:"url" env:"URL"`
}

// StreamURL returns the rtsp URL handed to the detector.
func (c CameraConfig) StreamURL() string {
	if c.URL != "" {
		return c.URL
	}
	u := url.URL{
		Scheme: "rtsp",
		Host:   c.Host + ":" + strconv.Itoa(c.Port),
		Path:   "/" + c.Path,
	}
	if c.User != "" {
		u.User = url.UserPassword(c.User, c.Pass)
	}
	return u.String()
}

type DetectorConfig struct {
	Command string   `yaml:"command" env:"COMMAND"`
	Args    []string `yaml:"args" env:"ARGS" envSeparator:" "`
	// Area is the x1,y1,x2,y2 region the detector restricts itself to.
	Area []int `yaml:"area" env:"AREA" envSeparator:","`
}

type DetectConfig struct {
	Labels                []string `yaml:"labels" env:"LABEL" envSeparator:","`
	ConfirmationThreshold int      `yaml:"confirmation_threshold" env:"NOTICE_THRESHOLD"`
	NoDetectionSeconds    float64  `yaml:"no_detection_seconds" env:"NO_DETECTED_SECONDS"`
	BlackScreenSeconds    float64  `yaml:"black_screen_seconds" env:"BLACK_SCREEN_SECONDS"`
	MovieSpeed            int      `yaml:"movie_speed" env:"MOVIE_SPEED"`
}

type RecordingConfig struct {
	Dir     string `yaml:"dir" env:"DIR"`
	Encoder string `yaml:"encoder" env:"ENCODER"` // ffmpeg | gocv
	FFmpeg  string `yaml:"ffmpeg" env:"FFMPEG"`
}

type CompressConfig struct {
	Enabled bool     `yaml:"enabled" env:"ENABLED"`
	FFmpeg  string   `yaml:"ffmpeg" env:"FFMPEG"`
	Options []string `yaml:"options" env:"OPTIONS" envSeparator:" "`
	Timeout int      `yaml:"timeout_seconds" env:"TIMEOUT_SECONDS"`
}

type StorageConfig struct {
	Endpoint  string `yaml:"endpoint" env:"ENDPOINT"`
	AccessKey string `yaml:"access_key" env:"ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"SECRET_KEY"`
	Region    string `yaml:"region" env:"REGION"`
	Bucket    string `yaml:"bucket" env:"BUCKET_NAME"`
	Prefix    string `yaml:"prefix" env:"PREFIX"`
	Secure    bool   `yaml:"secure" env:"SECURE"`
	ExpiresIn int    `yaml:"expires_in" env:"EXPIRES_IN"` // seconds
}

// Enabled reports whether object storage upload is configured.
func (s StorageConfig) Enabled() bool {
	return s.Endpoint != "" && s.Bucket != ""
}

type ArchiveConfig struct {
	Host          string `yaml:"host" env:"HOSTNAME"`
	Port          int    `yaml:"port" env:"PORT"`
	User          string `yaml:"user" env:"USER"`
	Password      string `yaml:"password" env:"PASSWORD"`
	KeyFile       string `yaml:"key_file" env:"KEY_FILE"`
	KnownHosts    string `yaml:"known_hosts" env:"KNOWN_HOSTS"`
	UploadDir     string `yaml:"upload_dir" env:"UPLOAD_DIR"`
	RetentionDays int    `yaml:"retention_days" env:"STORAGE_DAYS"`
}

// Enabled reports whether SFTP archival is configured.
func (a ArchiveConfig) Enabled() bool {
	return a.Host != "" && a.UploadDir != ""
}

type NotifyConfig struct {
	Primary   string `yaml:"primary" env:"PRIMARY"`
	Fallback  string `yaml:"fallback" env:"FALLBACK"`
	MentionID string `yaml:"mention_id" env:"MENTION_ID"`

	Line       LineConfig       `yaml:"line" envPrefix:"LINE_"`
	LineNotify LineNotifyConfig `yaml:"line_notify" envPrefix:"LINE_NOTIFY_"`
	Discord    DiscordConfig    `yaml:"discord" envPrefix:"DISCORD_"`
	Mail       MailConfig       `yaml:"mail" envPrefix:"MAIL_"`
	MQTT       MQTTConfig       `yaml:"mqtt" envPrefix:"MQTT_"`
}

type LineConfig struct {
	BaseURL     string `yaml:"base_url" env:"BASE_URL"`
	AccessToken string `yaml:"access_token" env:"ACCESS_TOKEN"`
	// To is a user id (U...) or group id (C...).
	To    string `yaml:"to" env:"TO"`
	Limit int    `yaml:"limit" env:"LIMIT"`
}

type LineNotifyConfig struct {
	URL   string `yaml:"url" env:"URL"`
	Token string `yaml:"token" env:"TOKEN"`
}

type DiscordConfig struct {
	WebhookURL string `yaml:"webhook_url" env:"WEBHOOK_URL"`
}

type MailConfig struct {
	Host     string   `yaml:"host" env:"HOST"`
	Port     int      `yaml:"port" env:"PORT"`
	User     string   `yaml:"user" env:"USER"`
	Password string   `yaml:"password" env:"PASSWORD"`
	From     string   `yaml:"from" env:"FROM"`
	To       []string `yaml:"to" env:"TO" envSeparator:","`
	Cc       []string `yaml:"cc" env:"CC" envSeparator:","`
	Subject  string   `yaml:"subject" env:"SUBJECT"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker" env:"BROKER"`
	ClientID string `yaml:"client_id" env:"CLIENT_ID"`
	Topic    string `yaml:"topic" env:"TOPIC"`
	Username string `yaml:"username" env:"USERNAME"`
	Password string `yaml:"password" env:"PASSWORD"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers" env:"BROKERS" envSeparator:","`
	Topic   string   `yaml:"topic" env:"TOPIC"`
}

type DBConfig struct {
	Driver string `yaml:"driver" env:"DRIVER"` // sqlite | postgres
	DSN    string `yaml:"dsn" env:"DSN"`
}

type APIConfig struct {
	Addr string `yaml:"addr" env:"ADDR"`
	// Token, when set, is required as a bearer token on every route but /health.
	Token          string `yaml:"token" env:"TOKEN"`
	IncidentBuffer int    `yaml:"incident_buffer" env:"INCIDENT_BUFFER"`
}

type PingConfig struct {
	Retries    int  `yaml:"retries" env:"RETRIES"`
	Delay      int  `yaml:"delay_seconds" env:"DELAY_SECONDS"`
	Timeout    int  `yaml:"timeout_seconds" env:"TIMEOUT_SECONDS"`
	Privileged bool `yaml:"privileged" env:"PRIVILEGED"`
}

// Default returns a Config populated with defaults only.
func Default() *Config {
	return &Config{
		LogLevel:     DefaultLogLevel,
		LogFormat:    DefaultLogFormat,
		DataDir:      defaultDataDir(),
		PauseSeconds: DefaultPauseSeconds,
		Camera: CameraConfig{
			Port: DefaultRTSPPort,
			Path: DefaultStreamPath,
		},
		Detector: DetectorConfig{
			Command: "python3",
			Args:    []string{"-m", "camenashi_detector", "--source", "{url}"},
		},
		Detect: DetectConfig{
			Labels:                []string{DefaultLabel},
			ConfirmationThreshold: DefaultConfirmationThreshold,
			NoDetectionSeconds:    DefaultNoDetectionSeconds,
			BlackScreenSeconds:    DefaultBlackScreenSeconds,
			MovieSpeed:            DefaultMovieSpeed,
		},
		Recording: RecordingConfig{
			Encoder: "ffmpeg",
			FFmpeg:  "ffmpeg",
		},
		Compress: CompressConfig{
			Enabled: true,
			FFmpeg:  "ffmpeg",
			Options: []string{"-vcodec", "libx264", "-crf", "28"},
			Timeout: 600,
		},
		Storage: StorageConfig{
			Secure:    true,
			ExpiresIn: DefaultPresignExpiry,
			Prefix:    "videos",
		},
		Archive: ArchiveConfig{
			Port:          DefaultSFTPPort,
			RetentionDays: DefaultRetentionDays,
		},
		Notify: NotifyConfig{
			Primary:  ChannelDiscord,
			Line:     LineConfig{BaseURL: "https://api.line.me", Limit: DefaultLineLimit},
			LineNotify: LineNotifyConfig{
				URL: "https://notify-api.line.me/api/notify",
			},
			Mail: MailConfig{Port: 587, Subject: "camenashi"},
			MQTT: MQTTConfig{ClientID: "camenashi", Topic: "camenashi/alerts"},
		},
		Kafka: KafkaConfig{Topic: "camenashi.incidents"},
		DB:    DBConfig{Driver: "sqlite"},
		API: APIConfig{
			Addr:           DefaultAPIAddr,
			IncidentBuffer: DefaultIncidentBuffer,
		},
		Ping: PingConfig{
			Retries: DefaultPingRetries,
			Delay:   DefaultPingDelay,
			Timeout: DefaultPingTimeout,
		},
	}
}

// Load reads the YAML file at path over the defaults and applies
// environment overrides. A missing file is not an error when path is the
// default file name, so the agent can be run from environment alone.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultConfigFile
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && path == DefaultConfigFile:
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values the orchestrator cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if c.Camera.Host == "" && c.Camera.URL == "" {
		errs = append(errs, errors.New("camera.host is required"))
	}
	if len(lo.Compact(c.Detect.Labels)) == 0 {
		errs = append(errs, errors.New("detect.labels must not be empty"))
	}
	if c.Detect.ConfirmationThreshold < 1 {
		errs = append(errs, errors.New("detect.confirmation_threshold must be at least 1"))
	}
	if c.Detect.NoDetectionSeconds <= 0 {
		errs = append(errs, errors.New("detect.no_detection_seconds must be positive"))
	}
	if c.Detect.BlackScreenSeconds <= 0 {
		errs = append(errs, errors.New("detect.black_screen_seconds must be positive"))
	}
	if c.Detect.MovieSpeed < 1 {
		errs = append(errs, errors.New("detect.movie_speed must be at least 1"))
	}
	if c.Detector.Command == "" {
		errs = append(errs, errors.New("detector.command is required"))
	}
	if c.Ping.Retries < 1 {
		errs = append(errs, errors.New("ping.retries must be at least 1"))
	}
	if !lo.Contains([]string{"ffmpeg", "gocv"}, c.Recording.Encoder) {
		errs = append(errs, fmt.Errorf("unknown recording.encoder %q", c.Recording.Encoder))
	}
	if !lo.Contains([]string{"sqlite", "postgres"}, c.DB.Driver) {
		errs = append(errs, fmt.Errorf("unknown db.driver %q", c.DB.Driver))
	}
	if !lo.Contains(KnownChannels, c.Notify.Primary) {
		errs = append(errs, fmt.Errorf("unknown notify.primary %q", c.Notify.Primary))
	}
	if c.Notify.Fallback != "" {
		if !lo.Contains(KnownChannels, c.Notify.Fallback) {
			errs = append(errs, fmt.Errorf("unknown notify.fallback %q", c.Notify.Fallback))
		} else if c.Notify.Fallback == c.Notify.Primary {
			errs = append(errs, errors.New("notify.fallback must differ from notify.primary"))
		}
	}
	return errors.Join(errs...)
}

// DBPath returns the full path to the SQLite database file.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, DBFilename)
}

// VideosDir returns the directory recordings are written to.
func (c *Config) VideosDir() string {
	if c.Recording.Dir != "" {
		return c.Recording.Dir
	}
	return filepath.Join(c.DataDir, "videos")
}

func (c *Config) NoDetectionThreshold() time.Duration {
	return seconds(c.Detect.NoDetectionSeconds)
}

func (c *Config) BlackScreenThreshold() time.Duration {
	return seconds(c.Detect.BlackScreenSeconds)
}

func (c *Config) Pause() time.Duration {
	return time.Duration(c.PauseSeconds) * time.Second
}

func (c *Config) PresignExpiry() time.Duration {
	return time.Duration(c.Storage.ExpiresIn) * time.Second
}

func (c *Config) PingDelay() time.Duration {
	return time.Duration(c.Ping.Delay) * time.Second
}

func (c *Config) PingTimeout() time.Duration {
	return time.Duration(c.Ping.Timeout) * time.Second
}

func (c *Config) CompressTimeout() time.Duration {
	return time.Duration(c.Compress.Timeout) * time.Second
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
