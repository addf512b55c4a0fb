package main

import (
	"fmt"
	"os"
	"time"

	"redlight/internal/assessment/controller"
	"redlight/internal/assessment/signal"
	"redlight/internal/common/cache"
	"redlight/internal/common/db"
	commonmw "redlight/internal/common/http/middleware"
	"redlight/internal/common/mq"
	"redlight/internal/common/storage"
	"redlight/internal/score/repository"
	"redlight/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8080"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	scoreStoreRedis = "redis"
	scoreStoreMySQL = "mysql"

	defaultMaxScore = 100
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`

	CORS commonmw.CORSConfig `yaml:"cors"`

	// ScoreLimit throttles POST /scores. Zero limits disable it.
	ScoreLimit commonmw.RateLimitPolicy `yaml:"scoreLimit"`
}

// AuthConfig holds access-token verification settings.
type AuthConfig struct {
	JWTSecret    string        `yaml:"jwtSecret"`
	JWTIssuer    string        `yaml:"jwtIssuer"`
	RedisTimeout time.Duration `yaml:"redisTimeout"`
}

// ScoreConfig holds score recording settings.
type ScoreConfig struct {
	// Store selects the authoritative aggregate store: redis or mysql.
	Store             string        `yaml:"store"`
	Round             string        `yaml:"round"`
	DedupTTL          time.Duration `yaml:"dedupTTL"`
	StoreTimeout      time.Duration `yaml:"storeTimeout"`
	SideEffectTimeout time.Duration `yaml:"sideEffectTimeout"`

	// Teams are created empty at startup when missing.
	Teams []string `yaml:"teams"`

	ArchivePrefix         string        `yaml:"archivePrefix"`
	EventTopic            string        `yaml:"eventTopic"`
	ConsumerGroup         string        `yaml:"consumerGroup"`
	LeaderboardAppliedTTL time.Duration `yaml:"leaderboardAppliedTTL"`

	// DeadLetterTopic receives score events the projector failed to apply.
	DeadLetterTopic string `yaml:"deadLetterTopic"`

	// MaxScore caps the score a single submission may add.
	MaxScore int `yaml:"maxScore"`
}

// GraderConfig points at the grading service used to score submissions.
type GraderConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// CatalogConfig holds question cache settings.
type CatalogConfig struct {
	CacheTTL      time.Duration `yaml:"cacheTTL"`
	EmptyCacheTTL time.Duration `yaml:"emptyCacheTTL"`
}

// SignalConfig holds the broadcast key, channel and relay keepalive.
type SignalConfig struct {
	Broadcast signal.BroadcasterConfig `yaml:"broadcast"`
	Relay     controller.RelayConfig   `yaml:"relay"`
}

// AppConfig holds the assessment-service configuration.
type AppConfig struct {
	Server ServerConfig  `yaml:"server"`
	Logger logger.Config `yaml:"logger"`
	Auth   AuthConfig    `yaml:"auth"`

	Database db.MySQLConfig      `yaml:"database"`
	Redis    cache.RedisConfig   `yaml:"redis"`
	Kafka    mq.KafkaConfig      `yaml:"kafka"`
	MinIO    storage.MinIOConfig `yaml:"minio"`

	Score   ScoreConfig   `yaml:"score"`
	Grader  GraderConfig  `yaml:"grader"`
	Catalog CatalogConfig `yaml:"catalog"`
	Signal  SignalConfig  `yaml:"signal"`
}

// EventsEnabled reports whether score events are published to kafka.
func (c *AppConfig) EventsEnabled() bool {
	return len(c.Kafka.Brokers) > 0 && c.Score.EventTopic != ""
}

// ArchiveEnabled reports whether accepted submissions are archived to object storage.
func (c *AppConfig) ArchiveEnabled() bool {
	return c.MinIO.Endpoint != "" && c.MinIO.Bucket != ""
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("auth jwtSecret is required")
	}
	if cfg.Grader.Endpoint == "" {
		return nil, fmt.Errorf("grader endpoint is required")
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Auth.JWTIssuer == "" {
		cfg.Auth.JWTIssuer = "redlight"
	}
	if cfg.Auth.RedisTimeout == 0 {
		cfg.Auth.RedisTimeout = 200 * time.Millisecond
	}

	switch cfg.Score.Store {
	case "":
		cfg.Score.Store = scoreStoreRedis
	case scoreStoreRedis, scoreStoreMySQL:
	default:
		return nil, fmt.Errorf("unknown score store %q", cfg.Score.Store)
	}
	if cfg.Score.Round == "" {
		cfg.Score.Round = "round4"
	}
	if err := repository.ValidateRound(cfg.Score.Round); err != nil {
		return nil, err
	}
	if cfg.Score.DedupTTL == 0 {
		cfg.Score.DedupTTL = 24 * time.Hour
	}
	if cfg.Score.DedupTTL < time.Second {
		return nil, fmt.Errorf("score dedupTTL must be at least 1s, got %s", cfg.Score.DedupTTL)
	}
	if cfg.Score.MaxScore == 0 {
		cfg.Score.MaxScore = defaultMaxScore
	}
	if cfg.Score.MaxScore < 0 {
		return nil, fmt.Errorf("score maxScore must not be negative")
	}
	if cfg.Grader.Timeout == 0 {
		cfg.Grader.Timeout = 60 * time.Second
	}
	if cfg.Score.ArchivePrefix == "" {
		cfg.Score.ArchivePrefix = "submissions"
	}
	if cfg.Score.ConsumerGroup == "" {
		cfg.Score.ConsumerGroup = "leaderboard-projector"
	}
	if cfg.Score.LeaderboardAppliedTTL == 0 {
		cfg.Score.LeaderboardAppliedTTL = 48 * time.Hour
	}

	if cfg.Catalog.CacheTTL == 0 {
		cfg.Catalog.CacheTTL = 5 * time.Minute
	}
	if cfg.Catalog.EmptyCacheTTL == 0 {
		cfg.Catalog.EmptyCacheTTL = 30 * time.Second
	}

	return &cfg, nil
}
