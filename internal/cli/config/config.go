package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultBaseURL         = "http://127.0.0.1:8080"
	DefaultRunnerURL       = "http://127.0.0.1:5000/run"
	DefaultGraderURL       = "http://127.0.0.1:5000/evaluate"
	DefaultTimeout         = 10 * time.Second
	DefaultRunTimeout      = 30 * time.Second
	DefaultEvaluateTimeout = 60 * time.Second
	DefaultTokenStatePath  = "configs/cli_state.json"
	DefaultSlotStorePath   = "configs/cli_work.db"
	DefaultLogPath         = "logs/cli.log"
	signalStreamPath       = "/api/v1/signal/ws"
)

// Config holds CLI configuration.
type Config struct {
	BaseURL         string        `yaml:"baseURL"`
	RunnerURL       string        `yaml:"runnerURL"`
	GraderURL       string        `yaml:"graderURL"`
	SignalURL       string        `yaml:"signalURL"`
	Timeout         time.Duration `yaml:"timeout"`
	RunTimeout      time.Duration `yaml:"runTimeout"`
	EvaluateTimeout time.Duration `yaml:"evaluateTimeout"`
	TokenStatePath  string        `yaml:"tokenStatePath"`
	SlotStorePath   string        `yaml:"slotStorePath"`
	LogPath         string        `yaml:"logPath"`
	LogLevel        string        `yaml:"logLevel"`
}

func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file failed: %w", err)
	}
	ApplyDefaults(&cfg)
	return cfg, nil
}

// ApplyDefaults fills every empty field. SignalURL is derived from BaseURL.
func ApplyDefaults(cfg *Config) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.RunnerURL == "" {
		cfg.RunnerURL = DefaultRunnerURL
	}
	if cfg.GraderURL == "" {
		cfg.GraderURL = DefaultGraderURL
	}
	if cfg.SignalURL == "" {
		cfg.SignalURL = SignalURLFor(cfg.BaseURL)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RunTimeout == 0 {
		cfg.RunTimeout = DefaultRunTimeout
	}
	if cfg.EvaluateTimeout == 0 {
		cfg.EvaluateTimeout = DefaultEvaluateTimeout
	}
	if cfg.TokenStatePath == "" {
		cfg.TokenStatePath = DefaultTokenStatePath
	}
	if cfg.SlotStorePath == "" {
		cfg.SlotStorePath = DefaultSlotStorePath
	}
	if cfg.LogPath == "" {
		cfg.LogPath = DefaultLogPath
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

// SignalURLFor maps an http(s) base URL onto the relay's ws(s) endpoint.
func SignalURLFor(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return "ws://127.0.0.1:8080" + signalStreamPath
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + signalStreamPath
	return u.String()
}
