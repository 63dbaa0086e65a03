package config

import (
	"fmt"
	"os"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	redisclient "github.com/vietddude/harvester/internal/infra/redis"
	"github.com/vietddude/harvester/internal/infra/storage/sqlstore"
	"github.com/vietddude/harvester/internal/processing/health"
	"github.com/vietddude/harvester/internal/processing/recovery"
)

// EnvPrefix is the prefix for environment overrides, e.g. HARVESTER_SCHEDULER_THRESHOLD.
const EnvPrefix = "harvester"

// Load reads configuration from a YAML file, applies defaults and
// environment overrides, and validates the result.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a configuration from YAML content. Keys absent from the
// document keep their default value; explicit zero values are kept as given.
func Parse(data []byte) (*AppConfig, error) {
	cfg := Default()
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	for i := range cfg.Sources {
		if cfg.Sources[i].Kind == "" {
			cfg.Sources[i].Kind = "task"
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *AppConfig {
	return &AppConfig{
		Server:  ServerConfig{Port: 8080},
		Logging: LoggingConfig{Level: "info"},
		Redis:   redisclient.Config{Queue: redisclient.DefaultQueue},
		Scheduler: SchedulerConfig{
			Interval:        5 * time.Minute,
			Threshold:       70,
			EscalationAfter: 3,
			EscalationStep:  60 * time.Second,
			EscalationMax:   10 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
		},
		Retry:   recovery.DefaultPolicy(),
		Breaker: health.DefaultConfig(),
		Retention: RetentionConfig{
			Period:        90 * 24 * time.Hour,
			CheckInterval: time.Hour,
		},
		Scorer:  ScorerConfig{Timeout: 30 * time.Second},
		Emitter: EmitterConfig{Type: EmitterTypes{"log"}},
	}
}

// Validate checks the configuration.
func (c *AppConfig) Validate() error {
	if err := validation.ValidateStruct(&c.Scheduler,
		validation.Field(&c.Scheduler.Threshold, validation.Min(0), validation.Max(100)),
		validation.Field(&c.Scheduler.Interval, validation.Min(time.Second)),
		validation.Field(&c.Scheduler.MaxIterations, validation.Min(0)),
		validation.Field(&c.Scheduler.FetchLimit, validation.Min(0)),
	); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	if err := validation.ValidateStruct(&c.Database,
		validation.Field(&c.Database.Driver, validation.In(sqlstore.DriverSQLite, sqlstore.DriverPostgres, sqlstore.DriverPgx)),
	); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}

	if err := validation.ValidateStruct(&c.Breaker,
		validation.Field(&c.Breaker.FailureThreshold, validation.Min(1)),
		validation.Field(&c.Breaker.RecoveryTimeout, validation.Min(time.Duration(0))),
	); err != nil {
		return fmt.Errorf("breaker: %w", err)
	}

	if err := validation.ValidateStruct(&c.Emitter,
		validation.Field(&c.Emitter.Type, validation.Required, validation.Each(validation.In("log", "redis"))),
	); err != nil {
		return fmt.Errorf("emitter: %w", err)
	}
	if c.Emitter.Type.Has("redis") && c.Redis.URL == "" {
		return fmt.Errorf("emitter: redis url is required for the redis emitter")
	}
	if c.Scorer.Enabled && c.Scorer.URL == "" {
		return fmt.Errorf("scorer: url is required when enabled")
	}

	seen := make(map[string]bool, len(c.Sources))
	for i := range c.Sources {
		src := &c.Sources[i]
		if err := src.Validate(); err != nil {
			return fmt.Errorf("sources[%d]: %w", i, err)
		}
		if seen[src.Name] {
			return fmt.Errorf("sources[%d]: duplicate source name %q", i, src.Name)
		}
		seen[src.Name] = true
	}
	return nil
}

// Validate checks a single source entry.
func (s *SourceConfig) Validate() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.Name, validation.Required),
		validation.Field(&s.Type, validation.Required, validation.In("json", "sqs")),
		validation.Field(&s.Kind, validation.In("task", "message")),
		validation.Field(&s.Path, validation.When(s.Type == "json" && !s.Disabled, validation.Required)),
		validation.Field(&s.QueueURL, validation.When(s.Type == "sqs" && !s.Disabled, validation.Required)),
		validation.Field(&s.MaxMessages, validation.Min(0)),
	)
}
