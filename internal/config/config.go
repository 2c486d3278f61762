package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pagesmith/orchestrator/internal/model"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	AWS       AWSConfig
	Storage   StorageConfig
	Queues    QueueConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Pipeline  PipelineConfig
}

type ServerConfig struct {
	Port        string
	MetricsPort string
	Env         string
	LogLevel    string
}

type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// EndpointURL overrides the service endpoint for local development
	// (localstack/minio). Empty means real AWS.
	EndpointURL string
}

type StorageConfig struct {
	Bucket   string
	KeyStyle model.KeyStyle
}

// QueueConfig holds the URL of every logical queue the orchestrator touches:
// the two control queues plus one per stage.
type QueueConfig struct {
	Submissions string
	Events      string
	Stages      map[model.Stage]string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RateLimitConfig struct {
	SubmitWindow time.Duration
}

type PipelineConfig struct {
	ReaperInterval time.Duration
	ReaperTTL      time.Duration
	// StageTimeout fails jobs stuck on one stage longer than this.
	// Zero disables the sweep.
	StageTimeout time.Duration
}

func Load() (*Config, error) {
	readSecret("AWS_ACCESS_KEY_ID")
	readSecret("AWS_SECRET_ACCESS_KEY")
	readSecret("REDIS_PASSWORD")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()

	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.metrics_port", "METRICS_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("aws.region", "AWS_REGION")
	_ = viper.BindEnv("aws.access_key_id", "AWS_ACCESS_KEY_ID")
	_ = viper.BindEnv("aws.secret_access_key", "AWS_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("aws.endpoint_url", "AWS_ENDPOINT_URL")
	_ = viper.BindEnv("storage.bucket", "ARTIFACT_BUCKET")
	_ = viper.BindEnv("storage.key_style", "ARTIFACT_KEY_STYLE")
	_ = viper.BindEnv("queues.submissions", "SUBMISSIONS_QUEUE_URL")
	_ = viper.BindEnv("queues.events", "EVENTS_QUEUE_URL")
	_ = viper.BindEnv("queues.research", "RESEARCH_QUEUE_URL")
	_ = viper.BindEnv("queues.product_manager", "PRODUCT_MANAGER_QUEUE_URL")
	_ = viper.BindEnv("queues.drawer", "DRAWER_QUEUE_URL")
	_ = viper.BindEnv("queues.designer", "DESIGNER_QUEUE_URL")
	_ = viper.BindEnv("queues.coder", "CODER_QUEUE_URL")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("ratelimit.submit_window", "SUBMIT_RATE_WINDOW")
	_ = viper.BindEnv("pipeline.reaper_interval", "REAPER_INTERVAL")
	_ = viper.BindEnv("pipeline.reaper_ttl", "REAPER_TTL")
	_ = viper.BindEnv("pipeline.stage_timeout", "STAGE_TIMEOUT")

	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.metrics_port", "")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("aws.region", "us-east-1")
	viper.SetDefault("storage.key_style", string(model.KeyStyleUnderscore))
	viper.SetDefault("ratelimit.submit_window", "60s")
	viper.SetDefault("pipeline.reaper_interval", "1h")
	viper.SetDefault("pipeline.reaper_ttl", "24h")
	viper.SetDefault("pipeline.stage_timeout", "0")

	_ = viper.ReadInConfig()

	keyStyle := model.KeyStyle(viper.GetString("storage.key_style"))
	if keyStyle != model.KeyStyleUnderscore && keyStyle != model.KeyStyleHyphen {
		return nil, fmt.Errorf("invalid storage.key_style %q", keyStyle)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:        viper.GetString("server.port"),
			MetricsPort: viper.GetString("server.metrics_port"),
			Env:         viper.GetString("server.env"),
			LogLevel:    viper.GetString("server.log_level"),
		},
		AWS: AWSConfig{
			Region:          viper.GetString("aws.region"),
			AccessKeyID:     viper.GetString("aws.access_key_id"),
			SecretAccessKey: viper.GetString("aws.secret_access_key"),
			EndpointURL:     viper.GetString("aws.endpoint_url"),
		},
		Storage: StorageConfig{
			Bucket:   viper.GetString("storage.bucket"),
			KeyStyle: keyStyle,
		},
		Queues: QueueConfig{
			Submissions: viper.GetString("queues.submissions"),
			Events:      viper.GetString("queues.events"),
			Stages: map[model.Stage]string{
				model.StageResearch:       viper.GetString("queues.research"),
				model.StageProductManager: viper.GetString("queues.product_manager"),
				model.StageDrawer:         viper.GetString("queues.drawer"),
				model.StageDesigner:       viper.GetString("queues.designer"),
				model.StageCoder:          viper.GetString("queues.coder"),
			},
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		RateLimit: RateLimitConfig{
			SubmitWindow: viper.GetDuration("ratelimit.submit_window"),
		},
		Pipeline: PipelineConfig{
			ReaperInterval: viper.GetDuration("pipeline.reaper_interval"),
			ReaperTTL:      viper.GetDuration("pipeline.reaper_ttl"),
			StageTimeout:   viper.GetDuration("pipeline.stage_timeout"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Storage.Bucket == "" {
		return fmt.Errorf("ARTIFACT_BUCKET is required")
	}
	if c.Queues.Submissions == "" {
		return fmt.Errorf("SUBMISSIONS_QUEUE_URL is required")
	}
	if c.Queues.Events == "" {
		return fmt.Errorf("EVENTS_QUEUE_URL is required")
	}
	for stage, url := range c.Queues.Stages {
		if url == "" {
			return fmt.Errorf("queue URL for stage %s is required", stage)
		}
	}
	return nil
}
