package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix 环境变量前缀，例如 SCENEFORGE_MYSQL_DSN
const EnvPrefix = "SCENEFORGE"

type ProviderConfig struct {
	BaseURL    string `yaml:"base_url" envconfig:"BASE_URL"`
	APIKey     string `yaml:"api_key" envconfig:"API_KEY"`
	TimeoutSec int    `yaml:"timeout_sec" envconfig:"TIMEOUT_SEC"`
}

// Timeout returns the HTTP timeout for calls to this provider.
func (p ProviderConfig) Timeout() time.Duration {
	if p.TimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(p.TimeoutSec) * time.Second
}

type MinIOConfig struct {
	Enabled   bool   `yaml:"enabled" envconfig:"ENABLED"`
	Endpoint  string `yaml:"endpoint" envconfig:"ENDPOINT"`
	AccessKey string `yaml:"access_key" envconfig:"ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" envconfig:"SECRET_KEY"`
	Bucket    string `yaml:"bucket" envconfig:"BUCKET"`
	UseSSL    bool   `yaml:"use_ssl" envconfig:"USE_SSL"`
}

type Config struct {
	Server struct {
		Port string `yaml:"port" envconfig:"PORT"`
		Mode string `yaml:"mode" envconfig:"MODE"`
	} `yaml:"server"`
	Log struct {
		Level    string `yaml:"level" envconfig:"LEVEL"`
		Encoding string `yaml:"encoding" envconfig:"ENCODING"`
	} `yaml:"log"`
	MySQL struct {
		DSN string `yaml:"dsn" envconfig:"DSN"`
	} `yaml:"mysql"`
	Redis struct {
		Addr     string `yaml:"addr" envconfig:"ADDR"`
		Password string `yaml:"password" envconfig:"PASSWORD"`
	} `yaml:"redis"`
	MinIO MinIOConfig `yaml:"minio"`
	Providers struct {
		TTS                 ProviderConfig `yaml:"tts" envconfig:"TTS"`
		Music               ProviderConfig `yaml:"music" envconfig:"MUSIC"`
		TextToVideo         ProviderConfig `yaml:"text_to_video" envconfig:"TEXT_TO_VIDEO"`
		ImageToVideo        ProviderConfig `yaml:"image_to_video" envconfig:"IMAGE_TO_VIDEO"`
		ImageToVideoRealism ProviderConfig `yaml:"image_to_video_realism" envconfig:"IMAGE_TO_VIDEO_REALISM"`
	} `yaml:"providers"`
	Poller struct {
		IntervalSec int `yaml:"interval_sec" envconfig:"INTERVAL_SEC"`
		MaxAttempts int `yaml:"max_attempts" envconfig:"MAX_ATTEMPTS"`
		Concurrency int `yaml:"concurrency" envconfig:"CONCURRENCY"`
	} `yaml:"poller"`
	Planner struct {
		APIKey  string `yaml:"api_key" envconfig:"API_KEY"`
		BaseURL string `yaml:"base_url" envconfig:"BASE_URL"`
		Model   string `yaml:"model" envconfig:"MODEL"`
	} `yaml:"planner"`
	Stitch struct {
		Queue      string `yaml:"queue" envconfig:"QUEUE"`
		TimeoutMin int    `yaml:"timeout_min" envconfig:"TIMEOUT_MIN"`
	} `yaml:"stitch"`
}

var AppConfig *Config

// InitConfig 读取配置文件并写入全局 AppConfig
func InitConfig(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	AppConfig = cfg
	return nil
}

// Load reads the yaml file, applies SCENEFORGE_* environment overrides and
// fills defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	defer f.Close()
	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = ":8080"
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "release"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Poller.IntervalSec <= 0 {
		c.Poller.IntervalSec = 8
	}
	if c.Poller.MaxAttempts <= 0 {
		c.Poller.MaxAttempts = 120
	}
	if c.Poller.Concurrency <= 0 {
		c.Poller.Concurrency = 16
	}
	if c.Planner.Model == "" {
		c.Planner.Model = "gpt-4o-mini"
	}
	if c.Stitch.Queue == "" {
		c.Stitch.Queue = "default"
	}
	if c.Stitch.TimeoutMin <= 0 {
		c.Stitch.TimeoutMin = 30
	}
}

// PollInterval is the fixed poll cadence.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Poller.IntervalSec) * time.Second
}

// Validate reports configuration that would make the orchestrator unusable.
func (c *Config) Validate() error {
	var errs []error
	providers := map[string]ProviderConfig{
		"tts":                    c.Providers.TTS,
		"music":                  c.Providers.Music,
		"text_to_video":          c.Providers.TextToVideo,
		"image_to_video":         c.Providers.ImageToVideo,
		"image_to_video_realism": c.Providers.ImageToVideoRealism,
	}
	for _, name := range []string{"tts", "music", "text_to_video", "image_to_video", "image_to_video_realism"} {
		if providers[name].BaseURL == "" {
			errs = append(errs, fmt.Errorf("providers.%s.base_url is required", name))
		}
	}
	if c.MinIO.Enabled && (c.MinIO.Endpoint == "" || c.MinIO.Bucket == "") {
		errs = append(errs, errors.New("minio.endpoint and minio.bucket are required when minio is enabled"))
	}
	return errors.Join(errs...)
}
