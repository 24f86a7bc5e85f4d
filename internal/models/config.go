package models

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type Config struct {
	ServerAddr    string `yaml:"server_addr"`
	PublicBaseURL string `yaml:"public_base_url"`
	DatabaseURL   string `yaml:"database_url"`

	KafkaBroker string `yaml:"kafka_broker"`
	KafkaTopic  string `yaml:"kafka_topic"`

	// Object store backend: "minio" or "fs".
	StorageBackend string `yaml:"storage_backend"`
	StoragePath    string `yaml:"storage_path"`

	MinioEndpoint  string `yaml:"minio_endpoint"`
	MinioAccessKey string `yaml:"minio_access_key"`
	MinioSecretKey string `yaml:"minio_secret_key"`
	MinioBucket    string `yaml:"minio_bucket"`
	MinioRegion    string `yaml:"minio_region"`
	MinioSecure    bool   `yaml:"minio_secure"`

	InferenceURL string `yaml:"inference_url"`

	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	MaskThreshold       float64 `yaml:"mask_threshold"`
	MaxFileSizeKB       int     `yaml:"max_file_size_kb"`
	MaxImageSide        int     `yaml:"max_image_side"`
	FontPath            string  `yaml:"font_path"`

	WorkerPollSeconds int `yaml:"worker_poll_seconds"`
	// Jobs stuck in processing longer than this many minutes are flipped
	// back to pending by the worker. 0 disables reclaiming.
	ReclaimAfterMinutes int `yaml:"reclaim_after_minutes"`
}

func LoadConfig(path string) (*Config, error) {
	// .env is optional; environment wins over the YAML file for secrets.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.ConfidenceThreshold == 0 {
		c.ConfidenceThreshold = 0.25
	}
	if c.MaskThreshold == 0 {
		c.MaskThreshold = 0.75
	}
	if c.MaxFileSizeKB == 0 {
		c.MaxFileSizeKB = 500
	}
	if c.MaxImageSide == 0 {
		c.MaxImageSide = 4096
	}
	if c.WorkerPollSeconds == 0 {
		c.WorkerPollSeconds = 2
	}
	if c.StorageBackend == "" {
		c.StorageBackend = "fs"
	}
	if c.StoragePath == "" {
		c.StoragePath = "storage"
	}
	if c.MinioBucket == "" {
		c.MinioBucket = "clothseg"
	}
	if c.MinioRegion == "" {
		c.MinioRegion = "us-east-1"
	}
}

func (c *Config) applyEnv() {
	for env, dst := range map[string]*string{
		"DATABASE_URL":     &c.DatabaseURL,
		"KAFKA_BROKER":     &c.KafkaBroker,
		"INFERENCE_URL":    &c.InferenceURL,
		"MINIO_ENDPOINT":   &c.MinioEndpoint,
		"MINIO_ACCESS_KEY": &c.MinioAccessKey,
		"MINIO_SECRET_KEY": &c.MinioSecretKey,
		"MINIO_BUCKET":     &c.MinioBucket,
	} {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
}

func (c *Config) MaxFileSizeBytes() int64 {
	return int64(c.MaxFileSizeKB) * 1024
}

func (c *Config) WorkerPollInterval() time.Duration {
	return time.Duration(c.WorkerPollSeconds) * time.Second
}

func (c *Config) ReclaimAfter() time.Duration {
	return time.Duration(c.ReclaimAfterMinutes) * time.Minute
}
