package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type AppConfig struct {
	File     string          `json:"-"`
	HTTP     *HTTPConfig     `json:"http,omitempty"`
	Database *DatabaseConfig `json:"database,omitempty"`
	Redis    *RedisConfig    `json:"redis,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
	Export   *ExportConfig   `json:"export,omitempty"`
}

type HTTPConfig struct {
	Addr string `json:"addr"`
}

type DatabaseConfig struct {
	Url string `json:"url"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	WakeKey  string `json:"wakeKey"`
}

type StorageConfig struct {
	Endpoint  string `json:"endpoint"`
	AccessKey string `json:"accessKey"`
	SecretKey string `json:"secretKey"`
	Bucket    string `json:"bucket"`
	UseSSL    bool   `json:"useSSL"`
}

// ExportConfig holds the scheduling and retention policy. Everything here is
// tunable; the defaults mirror production.
type ExportConfig struct {
	Workers        int           `json:"workers"`
	MaxRetries     int           `json:"maxRetries"`
	StuckThreshold time.Duration `json:"stuckThreshold"`
	ArtifactTTL    time.Duration `json:"artifactTTL"`
	SweepInterval  time.Duration `json:"sweepInterval"`
	DownloadTTL    time.Duration `json:"downloadTTL"`
	HealthWindow   time.Duration `json:"healthWindow"`
	HealthFair     int64         `json:"healthFair"`
	HealthPoor     int64         `json:"healthPoor"`
}

func LoadConfig() (*AppConfig, error) {
	bindFlagsAndEnv()

	configFile := getConfigFilePath()
	if configFile != "" {
		if err := loadFromFile(configFile); err != nil {
			return nil, err
		}
	}

	cfg := buildAppConfig(configFile)
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func bindFlagsAndEnv() {
	pflag.String("config_file", "", "Configuration file in JSON format")

	pflag.String("http_addr", ":8080", "HTTP listen address")

	// database
	pflag.String("data_source", "", "Postgres connection string")

	// redis
	pflag.String("redis_addr", "localhost:6379", "Redis address")
	pflag.String("redis_password", "", "Redis password")
	pflag.Int("redis_db", 0, "Redis DB number")
	pflag.String("redis_wake_key", "export:jobs:wake", "Redis list used to wake workers")

	// object storage
	pflag.String("storage_endpoint", "", "S3-compatible storage endpoint")
	pflag.String("storage_access_key", "", "Storage access key")
	pflag.String("storage_secret_key", "", "Storage secret key")
	pflag.String("storage_bucket", "exports", "Storage bucket for artifacts")
	pflag.Bool("storage_use_ssl", false, "Use TLS for storage connections")

	// export policy
	pflag.Int("workers", 4, "Number of concurrent export workers")
	pflag.Int("max_retries", 3, "Retry cap per job")
	pflag.Duration("stuck_threshold", 30*time.Minute, "Age after which a processing job counts as stuck")
	pflag.Duration("artifact_ttl", 7*24*time.Hour, "Retention of completed/failed jobs and their artifacts")
	pflag.Duration("sweep_interval", 5*time.Minute, "Interval between reclaim sweeps")
	pflag.Duration("download_ttl", 15*time.Minute, "Lifetime of presigned download URLs")
	pflag.Duration("health_window", 24*time.Hour, "Trailing window for queue-health counts")
	pflag.Int64("health_fair", 50, "Pending jobs above which queue health is fair")
	pflag.Int64("health_poor", 100, "Pending jobs above which queue health is poor")

	pflag.Parse()

	_ = viper.BindPFlags(pflag.CommandLine)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Explicit mapping
	_ = viper.BindEnv("data_source", "POSTGRES_DSN")
	_ = viper.BindEnv("redis_addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis_db", "REDIS_DB")
	_ = viper.BindEnv("storage_endpoint", "STORAGE_ENDPOINT")
	_ = viper.BindEnv("storage_access_key", "STORAGE_ACCESS_KEY")
	_ = viper.BindEnv("storage_secret_key", "STORAGE_SECRET_KEY")
	_ = viper.BindEnv("storage_bucket", "STORAGE_BUCKET")
}

func getConfigFilePath() string {
	file := viper.GetString("config_file")
	if file == "" {
		file = os.Getenv("EXPORT_QUEUE_CONFIG_FILE")
	}
	return file
}

func loadFromFile(path string) error {
	viper.SetConfigFile(path)
	viper.SetConfigType("json")
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("could not load config file: %w", err)
	}
	return nil
}

func buildAppConfig(file string) *AppConfig {
	return &AppConfig{
		File:     file,
		HTTP:     &HTTPConfig{Addr: viper.GetString("http_addr")},
		Database: &DatabaseConfig{Url: viper.GetString("data_source")},
		Redis: &RedisConfig{
			Addr:     viper.GetString("redis_addr"),
			Password: viper.GetString("redis_password"),
			DB:       viper.GetInt("redis_db"),
			WakeKey:  viper.GetString("redis_wake_key"),
		},
		Storage: &StorageConfig{
			Endpoint:  viper.GetString("storage_endpoint"),
			AccessKey: viper.GetString("storage_access_key"),
			SecretKey: viper.GetString("storage_secret_key"),
			Bucket:    viper.GetString("storage_bucket"),
			UseSSL:    viper.GetBool("storage_use_ssl"),
		},
		Export: &ExportConfig{
			Workers:        viper.GetInt("workers"),
			MaxRetries:     viper.GetInt("max_retries"),
			StuckThreshold: viper.GetDuration("stuck_threshold"),
			ArtifactTTL:    viper.GetDuration("artifact_ttl"),
			SweepInterval:  viper.GetDuration("sweep_interval"),
			DownloadTTL:    viper.GetDuration("download_ttl"),
			HealthWindow:   viper.GetDuration("health_window"),
			HealthFair:     viper.GetInt64("health_fair"),
			HealthPoor:     viper.GetInt64("health_poor"),
		},
	}
}

func validateConfig(cfg *AppConfig) error {
	if cfg.Database.Url == "" {
		return fmt.Errorf("data source is required")
	}
	if cfg.Redis.Addr == "" {
		return fmt.Errorf("redis address is required")
	}
	if cfg.Storage.Endpoint == "" {
		return fmt.Errorf("storage endpoint is required")
	}
	return nil
}
