package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to run the agent.
type Config struct {
	Server       ServerConfig        `yaml:"server"`
	Metrics      MetricsBackend      `yaml:"metricsBackend"`
	Logs         LogsBackend         `yaml:"logsBackend"`
	Analysis     AnalysisConfig      `yaml:"analysis"`
	Detection    DetectionConfig     `yaml:"detection"`
	Alerting     AlertingConfig      `yaml:"alerting"`
	Dependencies map[string][]string `yaml:"dependencies"`
	State        StateConfig         `yaml:"state"`
	Cache        CacheConfig         `yaml:"cache"`
	Logging      LoggingConfig       `yaml:"logging"`
}

// ServerConfig controls the control API and metrics listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// MetricsBackend configures the time-series query API.
type MetricsBackend struct {
	BaseURL   string        `yaml:"baseURL"`
	QueryPath string        `yaml:"queryPath"`
	Timeout   time.Duration `yaml:"timeout"`
	Queries   []MetricQuery `yaml:"queries"`
}

// MetricQuery names one instant query evaluated every tick.
type MetricQuery struct {
	SourceID string `yaml:"sourceID"`
	Metric   string `yaml:"metric"`
	Query    string `yaml:"query"`
}

// LogsBackend configures the full-text log search API.
type LogsBackend struct {
	BaseURL string        `yaml:"baseURL"`
	Index   string        `yaml:"index"`
	Timeout time.Duration `yaml:"timeout"`
	Window  time.Duration `yaml:"window"`
	Sources []string      `yaml:"sources"`
}

// AnalysisConfig configures the root-cause analysis service boundary.
type AnalysisConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// DetectionConfig groups the thresholds driving scoring and correlation.
type DetectionConfig struct {
	PollingInterval       time.Duration `yaml:"pollingInterval"`
	AnomalyScoreThreshold float64       `yaml:"anomalyScoreThreshold"`
	ZScoreThreshold       float64       `yaml:"zScoreThreshold"`
	ErrorRateThreshold    float64       `yaml:"errorRateThreshold"`
	HighErrorThreshold    int           `yaml:"highErrorThreshold"`
	MinSamples            int           `yaml:"minSamples"`
	CorrelationWindow     time.Duration `yaml:"correlationWindow"`
	QuietPeriod           time.Duration `yaml:"quietPeriod"`
}

// AlertingConfig configures notification channels and escalation policy.
type AlertingConfig struct {
	ChatWebhookURL    string        `yaml:"chatWebhookURL"`
	GenericWebhookURL string        `yaml:"genericWebhookURL"`
	Timeout           time.Duration `yaml:"timeout"`
	EscalateAfter     time.Duration `yaml:"escalateAfter"`
	MinSeverity       string        `yaml:"minSeverity"`
	RoutingRulesPath  string        `yaml:"routingRulesPath"`
}

// StateConfig controls on-disk persistence of learned baselines.
type StateConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig controls the optional Valkey-backed shared state.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	TLS          bool          `yaml:"tls"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("OBSERVEAI_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if cfg.Detection.QuietPeriod <= 0 {
		cfg.Detection.QuietPeriod = 2 * cfg.Detection.PollingInterval
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Metrics: MetricsBackend{
			QueryPath: "/api/v1/query",
			Timeout:   10 * time.Second,
		},
		Logs: LogsBackend{
			Index:   "logs-*",
			Timeout: 10 * time.Second,
			Window:  5 * time.Minute,
		},
		Analysis: AnalysisConfig{
			Timeout: 10 * time.Second,
		},
		Detection: DetectionConfig{
			PollingInterval:       30 * time.Second,
			AnomalyScoreThreshold: 0.7,
			ZScoreThreshold:       2.0,
			ErrorRateThreshold:    0.5,
			HighErrorThreshold:    25,
			MinSamples:            10,
			CorrelationWindow:     5 * time.Minute,
		},
		Alerting: AlertingConfig{
			Timeout:       10 * time.Second,
			EscalateAfter: 15 * time.Minute,
			MinSeverity:   "medium",
		},
		State: StateConfig{Path: "data/baselines.json"},
		Cache: CacheConfig{
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OBSERVEAI_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("OBSERVEAI_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("OBSERVEAI_METRICS_BACKEND_URL"); v != "" {
		cfg.Metrics.BaseURL = v
	}
	if v := os.Getenv("OBSERVEAI_LOGS_BACKEND_URL"); v != "" {
		cfg.Logs.BaseURL = v
	}
	if v := os.Getenv("OBSERVEAI_LOGS_INDEX"); v != "" {
		cfg.Logs.Index = v
	}
	if v := os.Getenv("OBSERVEAI_ANALYSIS_URL"); v != "" {
		cfg.Analysis.URL = v
	}
	if v := os.Getenv("OBSERVEAI_ANALYSIS_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Analysis.Timeout = d
		}
	}
	if v := os.Getenv("OBSERVEAI_POLLING_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Detection.PollingInterval = d
		}
	}
	if v := os.Getenv("OBSERVEAI_ANOMALY_SCORE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Detection.AnomalyScoreThreshold = f
		}
	}
	if v := os.Getenv("OBSERVEAI_ERROR_RATE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Detection.ErrorRateThreshold = f
		}
	}
	if v := os.Getenv("OBSERVEAI_HIGH_ERROR_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Detection.HighErrorThreshold = n
		}
	}
	if v := os.Getenv("OBSERVEAI_CORRELATION_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Detection.CorrelationWindow = d
		}
	}
	if v := os.Getenv("OBSERVEAI_STATE_PATH"); v != "" {
		cfg.State.Path = v
	}
	if v := os.Getenv("OBSERVEAI_CHAT_WEBHOOK_URL"); v != "" {
		cfg.Alerting.ChatWebhookURL = v
	}
	if v := os.Getenv("OBSERVEAI_GENERIC_WEBHOOK_URL"); v != "" {
		cfg.Alerting.GenericWebhookURL = v
	}
	if v := os.Getenv("OBSERVEAI_ROUTING_RULES_PATH"); v != "" {
		cfg.Alerting.RoutingRulesPath = v
	}
	if v := os.Getenv("OBSERVEAI_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("OBSERVEAI_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("OBSERVEAI_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("OBSERVEAI_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("OBSERVEAI_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("OBSERVEAI_CACHE_TLS"); strings.EqualFold(v, "true") || strings.EqualFold(v, "1") {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("OBSERVEAI_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("OBSERVEAI_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
}
