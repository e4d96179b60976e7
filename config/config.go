package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	S3       S3Config       `yaml:"s3"`
	JWT      JWTConfig      `yaml:"jwt"`
	Upload   UploadConfig   `yaml:"upload"`
	Cleanup  CleanupConfig  `yaml:"cleanup"`
	Health   HealthConfig   `yaml:"health_check"`
	LogLevel string         `yaml:"log_level"`
}

type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

type DatabaseConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	Charset      string `yaml:"charset"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

type RedisConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Password       string `yaml:"password"`
	DB             int    `yaml:"db"`
	ProgressExpire int    `yaml:"progress_expire"`
}

type S3Config struct {
	Endpoint         string `yaml:"endpoint"`
	Region           string `yaml:"region"`
	Bucket           string `yaml:"bucket"`
	AccessKeyID      string `yaml:"access_key_id"`
	SecretAccessKey  string `yaml:"secret_access_key"`
	UsePathStyle     bool   `yaml:"use_path_style"`
	PublicBaseURL    string `yaml:"public_base_url"`
	ControlTimeoutMs int    `yaml:"control_timeout_ms"`
	UploadTimeoutMs  int    `yaml:"upload_timeout_ms"`
}

type JWTConfig struct {
	Secret      string `yaml:"secret"`
	ExpireHours int    `yaml:"expire_hours"`
}

type UploadConfig struct {
	ChunkSize         int64    `yaml:"chunk_size"`
	MaxObjectSize     int64    `yaml:"max_object_size"`
	SessionExpireHrs  int      `yaml:"session_expire_hours"`
	AllowedMediaTypes []string `yaml:"allowed_media_types"`
	CompleteRetryMax  int      `yaml:"complete_retry_max"`
}

type CleanupConfig struct {
	IntervalHours int  `yaml:"interval_hours"`
	RetainAborted bool `yaml:"retain_aborted"`
}

type HealthConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

var AppConfig *Config

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	AppConfig = &cfg
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Upload.ChunkSize == 0 {
		cfg.Upload.ChunkSize = 5 * 1024 * 1024
	}
	if cfg.Upload.MaxObjectSize == 0 {
		cfg.Upload.MaxObjectSize = 10 * 1024 * 1024 * 1024
	}
	if cfg.Upload.SessionExpireHrs == 0 {
		cfg.Upload.SessionExpireHrs = 24
	}
	if cfg.Upload.CompleteRetryMax == 0 {
		cfg.Upload.CompleteRetryMax = 3
	}
	if len(cfg.Upload.AllowedMediaTypes) == 0 {
		cfg.Upload.AllowedMediaTypes = []string{
			"video/mp4", "video/quicktime", "video/webm",
			"image/jpeg", "image/png", "image/gif", "image/webp",
			"audio/mpeg", "audio/wav",
			"application/zip", "application/pdf", "application/octet-stream",
		}
	}
	if cfg.Cleanup.IntervalHours == 0 {
		cfg.Cleanup.IntervalHours = 6
	}
	if cfg.Redis.ProgressExpire == 0 {
		cfg.Redis.ProgressExpire = 86400
	}
	if cfg.S3.ControlTimeoutMs == 0 {
		cfg.S3.ControlTimeoutMs = 10000
	}
	if cfg.S3.UploadTimeoutMs == 0 {
		cfg.S3.UploadTimeoutMs = 300000
	}
	if cfg.JWT.ExpireHours == 0 {
		cfg.JWT.ExpireHours = 24
	}
	if cfg.Health.Endpoint == "" {
		cfg.Health.Endpoint = "/health"
	}
}
