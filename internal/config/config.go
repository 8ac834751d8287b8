package config

import (
	"time"

	"github.com/spf13/viper"
	"github.com/wb-go/wbf/zlog"
)

// Config holds the main configuration for the application.
type Config struct {
	Server    Server    `mapstructure:"server"`
	Assets    Assets    `mapstructure:"assets"`
	Render    Render    `mapstructure:"render"`
	Artifacts Artifacts `mapstructure:"artifacts"`
	Kafka     Kafka     `mapstructure:"kafka"`
	Retry     Retry     `mapstructure:"retry"`
	Log       Log       `mapstructure:"log"`
}

// Server holds HTTP server-related configuration.
type Server struct {
	HTTPPort      string `mapstructure:"http_port"`       // HTTP port to listen on
	PublicBaseURL string `mapstructure:"public_base_url"` // base for artifact URLs
	APIToken      string `mapstructure:"api_token"`       // empty disables bearer auth
	MaxBodyBytes  int64  `mapstructure:"max_body_bytes"`  // JSON payload cap
}

// Assets holds configuration for the asset CDN and the fetch layer.
type Assets struct {
	BaseURL            string        `mapstructure:"base_url"` // mandatory
	FetchTimeout       time.Duration `mapstructure:"fetch_timeout"`
	MaxConnsPerHost    int           `mapstructure:"max_conns_per_host"`
	CacheTTL           time.Duration `mapstructure:"cache_ttl"`
	CacheMaxItems      int           `mapstructure:"cache_max_items"`
	ImageCacheMaxItems int           `mapstructure:"image_cache_max_items"`
}

// Render holds the pipeline limits and concurrency knobs.
type Render struct {
	MaxWidth               int           `mapstructure:"max_width"`
	MaxHeight              int           `mapstructure:"max_height"`
	MaxLayers              int           `mapstructure:"max_layers"`
	MaxFrames              int           `mapstructure:"max_frames"`
	Concurrency            int           `mapstructure:"concurrency"` // simultaneous renders
	StaticFetchConcurrency int           `mapstructure:"static_fetch_concurrency"`
	FrameFetchConcurrency  int           `mapstructure:"frame_fetch_concurrency"`
	JobTTL                 time.Duration `mapstructure:"job_ttl"` // terminal record eviction, 0 keeps forever
}

// Artifacts holds the artifact directory and the optional mirror bucket.
type Artifacts struct {
	Dir   string `mapstructure:"dir"`
	Minio Minio  `mapstructure:"minio"`
}

// Minio holds the optional S3-compatible artifact mirror. An empty
// endpoint disables mirroring.
type Minio struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// Kafka holds the optional job event topic. No brokers disables events.
type Kafka struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// Retry defines retry policy configuration for event publishing.
type Retry struct {
	Attempts int           `mapstructure:"attempts"`
	Delay    time.Duration `mapstructure:"delay"`
	Backoff  float64       `mapstructure:"backoff"`
}

// Log holds logging configuration.
type Log struct {
	Debug bool `mapstructure:"debug"`
}

// mustBindEnv binds the operational environment variables to Viper keys.
//
// It panics if any environment variable cannot be bound.
func mustBindEnv() {
	bindings := map[string]string{
		"server.http_port":           "PORT",
		"server.public_base_url":     "PUBLIC_BASE_URL",
		"server.api_token":           "API_TOKEN",
		"assets.base_url":            "ASSET_BASE_URL",
		"artifacts.dir":              "ARTIFACT_DIR",
		"artifacts.minio.endpoint":   "MINIO_ENDPOINT",
		"artifacts.minio.access_key": "MINIO_ACCESS_KEY",
		"artifacts.minio.secret_key": "MINIO_SECRET_KEY",
		"artifacts.minio.bucket":     "MINIO_BUCKET",
		"kafka.brokers":              "KAFKA_BROKERS",
		"kafka.topic":                "KAFKA_TOPIC",
		"log.debug":                  "DEBUG",
	}

	for key, env := range bindings {
		if err := viper.BindEnv(key, env); err != nil {
			zlog.Logger.Panic().Err(err).Msgf("failed to bind env %s", env)
		}
	}
}

// MustLoad loads the configuration from the specified file path.
// It panics if the configuration cannot be loaded or is incomplete.
func MustLoad(path string) *Config {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		zlog.Logger.Panic().Err(err).Msg("failed to read config")
	}

	mustBindEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		zlog.Logger.Panic().Err(err).Msgf("failed to unmarshal config: %v", err)
	}

	if cfg.Assets.BaseURL == "" {
		zlog.Logger.Panic().Msg("ASSET_BASE_URL is required")
	}

	return &cfg
}
