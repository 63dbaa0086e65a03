package config

import (
	"slices"
	"time"

	redisclient "github.com/vietddude/harvester/internal/infra/redis"
	"github.com/vietddude/harvester/internal/infra/storage/sqlstore"
	"github.com/vietddude/harvester/internal/processing/health"
	"github.com/vietddude/harvester/internal/processing/recovery"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig       `yaml:"server"`
	Logging   LoggingConfig      `yaml:"logging"`
	Database  sqlstore.Config    `yaml:"database"`
	Redis     redisclient.Config `yaml:"redis"`
	Scheduler SchedulerConfig    `yaml:"scheduler"`
	Retry     recovery.Policy    `yaml:"retry"`
	Breaker   health.Config      `yaml:"breaker"`
	Retention RetentionConfig    `yaml:"retention"`
	Scorer    ScorerConfig       `yaml:"scorer"`
	Emitter   EmitterConfig      `yaml:"emitter"`
	Sources   []SourceConfig     `yaml:"sources"   ignored:"true"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// SchedulerConfig controls the harvest loop.
type SchedulerConfig struct {
	Interval        time.Duration `yaml:"interval"`
	Threshold       int           `yaml:"threshold"`
	Reprint         bool          `yaml:"reprint"`
	DryRun          bool          `yaml:"dry_run"          split_words:"true"`
	ShowAll         bool          `yaml:"show_all"         split_words:"true"`
	MaxIterations   int           `yaml:"max_iterations"   split_words:"true"` // 0 = unlimited
	FetchLimit      int           `yaml:"fetch_limit"      split_words:"true"` // new records per source and cycle, 0 = unlimited
	EscalationAfter int           `yaml:"escalation_after" split_words:"true"`
	EscalationStep  time.Duration `yaml:"escalation_step"  split_words:"true"`
	EscalationMax   time.Duration `yaml:"escalation_max"   split_words:"true"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" split_words:"true"`
}

// RetentionConfig controls ledger pruning.
type RetentionConfig struct {
	Period        time.Duration `yaml:"period"` // 0 = keep forever
	CheckInterval time.Duration `yaml:"check_interval" split_words:"true"`
}

// ScorerConfig points at the external scoring service.
type ScorerConfig struct {
	Enabled bool          `yaml:"enabled"`
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key" split_words:"true"`
	Timeout time.Duration `yaml:"timeout"`
}

// EmitterConfig selects where artifacts go.
type EmitterConfig struct {
	Type EmitterTypes `yaml:"type"` // log, redis, or a list of both
}

// EmitterTypes is one emitter name or a list of them. From the environment
// it is a comma-separated list.
type EmitterTypes []string

// UnmarshalYAML accepts a scalar or a sequence.
func (t *EmitterTypes) UnmarshalYAML(unmarshal func(any) error) error {
	var one string
	if err := unmarshal(&one); err == nil {
		*t = EmitterTypes{one}
		return nil
	}

	var many []string
	if err := unmarshal(&many); err != nil {
		return err
	}
	*t = many
	return nil
}

// Has reports whether name is one of the configured emitters.
func (t EmitterTypes) Has(name string) bool {
	return slices.Contains(t, name)
}

// SourceConfig describes one input source.
type SourceConfig struct {
	Name        string        `yaml:"name"`
	Type        string        `yaml:"type"` // json, sqs
	Kind        string        `yaml:"kind"` // task, message
	Path        string        `yaml:"path"`
	Schema      string        `yaml:"schema"`
	QueueURL    string        `yaml:"queue_url"`
	Region      string        `yaml:"region"`
	Endpoint    string        `yaml:"endpoint"`
	MaxMessages int           `yaml:"max_messages"`
	WaitTime    time.Duration `yaml:"wait_time"`
	Disabled    bool          `yaml:"disabled"`
}
