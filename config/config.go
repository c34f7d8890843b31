package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/robfig/cron/v3"
)

// Supported source database types.
const (
	SourceTypeMySQL  = "mysql"
	SourceTypeSQLite = "sqlite"
)

// Defaults applied by Validate.
const (
	DefaultBatchSize      = 500
	DefaultMaxBatchErrors = 5
	DefaultLoadTimeout    = 60 * time.Second
	DefaultQueryTimeout   = 300 * time.Second
	DefaultMaxBackoff     = 30 * time.Second
	DefaultEngine         = "ReplacingMergeTree()"
	DefaultMySQLPort      = "3306"
)

// SourceConfig describes the relational database tables are copied from.
type SourceConfig struct {
	Type string `toml:"type"`

	Host     string `toml:"host,omitempty"`
	Port     string `toml:"port,omitempty"`
	Database string `toml:"database,omitempty"`
	User     string `toml:"user,omitempty"`
	Password string `toml:"password,omitempty"`
	Path     string `toml:"path,omitempty"`

	QueryTimeout time.Duration `toml:"query_timeout,omitempty"`
}

// ClickHouseConfig describes the HTTP endpoint of the ClickHouse sink.
type ClickHouseConfig struct {
	URL                string        `toml:"url"`
	Database           string        `toml:"database,omitempty"`
	User               string        `toml:"user,omitempty"`
	Password           string        `toml:"password,omitempty"`
	InsecureSkipVerify bool          `toml:"insecure_skip_verify,omitempty"`
	Compress           bool          `toml:"compress,omitempty"`
	Engine             string        `toml:"engine,omitempty"`
	QueryTimeout       time.Duration `toml:"query_timeout,omitempty"`
	LoadTimeout        time.Duration `toml:"load_timeout,omitempty"`
}

// SyncConfig holds the batch engine settings shared by all tasks.
type SyncConfig struct {
	BatchSize       int           `toml:"batch_size,omitempty"`
	MaxBatchErrors  int           `toml:"max_batch_errors,omitempty"`
	RetryBackoff    time.Duration `toml:"retry_backoff,omitempty"`
	RetryMaxBackoff time.Duration `toml:"retry_max_backoff,omitempty"`
	ReportPath      string        `toml:"report_path,omitempty"`
	Schedule        string        `toml:"schedule,omitempty"`
	Progress        *bool         `toml:"progress,omitempty"`
}

// ShowProgress reports whether the terminal progress bar is enabled (default true).
func (s SyncConfig) ShowProgress() bool {
	return s.Progress == nil || *s.Progress
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level    string `toml:"level,omitempty"`
	Encoding string `toml:"encoding,omitempty"`
}

// MetricsConfig enables the Prometheus endpoint when Listen is set.
type MetricsConfig struct {
	Listen string `toml:"listen,omitempty"`
	Path   string `toml:"path,omitempty"`
}

// TaskConfig defines a single table to copy.
type TaskConfig struct {
	TableName   string `toml:"table_name"`
	TargetTable string `toml:"target_table,omitempty"`
	Ignore      bool   `toml:"ignore"`
	BatchSize   int    `toml:"batch_size,omitempty"`
}

// Target returns the ClickHouse table name, defaulting to the source table name.
func (t TaskConfig) Target() string {
	if t.TargetTable != "" {
		return t.TargetTable
	}
	return t.TableName
}

// Config is the top-level configuration structure decoded from sync.toml.
type Config struct {
	Source     SourceConfig     `toml:"source"`
	ClickHouse ClickHouseConfig `toml:"clickhouse"`
	Sync       SyncConfig       `toml:"sync"`
	Log        LogConfig        `toml:"log"`
	Metrics    MetricsConfig    `toml:"metrics"`
	Tasks      []TaskConfig     `toml:"tasks"`
}

// LoadConfig decodes the TOML configuration file and validates its content.
func LoadConfig(tomlPath string) (*Config, error) {
	cfg := &Config{}
	if _, err := toml.DecodeFile(tomlPath, cfg); err != nil {
		return nil, fmt.Errorf("error decoding TOML file: %w", err)
	}

	cfg.expandEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// expandEnv resolves ${VAR} references in connection settings so credentials can stay
// out of the file.
func (c *Config) expandEnv() {
	for _, field := range []*string{
		&c.Source.Host, &c.Source.User, &c.Source.Password, &c.Source.Database, &c.Source.Path,
		&c.ClickHouse.URL, &c.ClickHouse.User, &c.ClickHouse.Password, &c.ClickHouse.Database,
	} {
		*field = os.ExpandEnv(*field)
	}
}

// Validate ensures configuration integrity and fills in defaults.
func (c *Config) Validate() error {
	if err := c.validateSource(); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if err := c.validateClickHouse(); err != nil {
		return fmt.Errorf("clickhouse: %w", err)
	}
	if err := c.validateSync(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	if len(c.Tasks) == 0 {
		return fmt.Errorf("at least one task must be defined under [[tasks]]")
	}

	targets := make(map[string]int, len(c.Tasks))
	for i, task := range c.Tasks {
		if task.TableName == "" {
			return fmt.Errorf("task %d: table_name is required", i+1)
		}
		if task.BatchSize < 0 {
			return fmt.Errorf("task %d: batch_size must not be negative", i+1)
		}
		if task.Ignore {
			continue
		}
		if prev, exists := targets[task.Target()]; exists {
			return fmt.Errorf("task %d: target table '%s' already written by task %d", i+1, task.Target(), prev)
		}
		targets[task.Target()] = i + 1
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Encoding == "" {
		c.Log.Encoding = "console"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	return nil
}

func (c *Config) validateSource() error {
	c.Source.Type = strings.ToLower(c.Source.Type)
	switch c.Source.Type {
	case SourceTypeMySQL:
		if c.Source.Port == "" {
			c.Source.Port = DefaultMySQLPort
		}
		if c.Source.Host == "" {
			return fmt.Errorf("host is required for MySQL database")
		}
		if c.Source.User == "" {
			return fmt.Errorf("user is required for MySQL database")
		}
		if c.Source.Database == "" {
			return fmt.Errorf("database is required for MySQL database")
		}
	case SourceTypeSQLite:
		if c.Source.Path == "" {
			return fmt.Errorf("path is required for sqlite database")
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unsupported database type '%s'", c.Source.Type)
	}

	if c.Source.QueryTimeout <= 0 {
		c.Source.QueryTimeout = DefaultQueryTimeout
	}
	return nil
}

func (c *Config) validateClickHouse() error {
	if c.ClickHouse.URL == "" {
		return fmt.Errorf("url is required")
	}
	if !strings.HasPrefix(c.ClickHouse.URL, "http://") && !strings.HasPrefix(c.ClickHouse.URL, "https://") {
		return fmt.Errorf("url must start with http:// or https://")
	}
	if c.ClickHouse.Engine == "" {
		c.ClickHouse.Engine = DefaultEngine
	}
	if c.ClickHouse.QueryTimeout <= 0 {
		c.ClickHouse.QueryTimeout = DefaultQueryTimeout
	}
	if c.ClickHouse.LoadTimeout <= 0 {
		c.ClickHouse.LoadTimeout = DefaultLoadTimeout
	}
	return nil
}

func (c *Config) validateSync() error {
	if c.Sync.BatchSize < 0 {
		return fmt.Errorf("batch_size must not be negative")
	}
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = DefaultBatchSize
	}
	if c.Sync.MaxBatchErrors < 0 {
		return fmt.Errorf("max_batch_errors must not be negative")
	}
	if c.Sync.MaxBatchErrors == 0 {
		c.Sync.MaxBatchErrors = DefaultMaxBatchErrors
	}
	if c.Sync.RetryBackoff < 0 || c.Sync.RetryMaxBackoff < 0 {
		return fmt.Errorf("retry backoff must not be negative")
	}
	if c.Sync.RetryMaxBackoff == 0 {
		c.Sync.RetryMaxBackoff = DefaultMaxBackoff
	}
	if c.Sync.Schedule != "" {
		if _, err := cron.ParseStandard(c.Sync.Schedule); err != nil {
			return fmt.Errorf("invalid schedule %q: %w", c.Sync.Schedule, err)
		}
	}
	return nil
}

// ActiveTasks returns the tasks that are not ignored, in configuration order.
func (c *Config) ActiveTasks() []TaskConfig {
	tasks := make([]TaskConfig, 0, len(c.Tasks))
	for _, task := range c.Tasks {
		if !task.Ignore {
			tasks = append(tasks, task)
		}
	}
	return tasks
}

// BatchSizeFor returns the task's batch size override or the global batch size.
func (c *Config) BatchSizeFor(task TaskConfig) int {
	if task.BatchSize > 0 {
		return task.BatchSize
	}
	return c.Sync.BatchSize
}

// FilterTasks keeps only the named tables, preserving configuration order.
func (c *Config) FilterTasks(tables []string) error {
	if len(tables) == 0 {
		return nil
	}
	wanted := make(map[string]bool, len(tables))
	for _, name := range tables {
		wanted[name] = true
	}

	filtered := make([]TaskConfig, 0, len(tables))
	for _, task := range c.Tasks {
		if wanted[task.TableName] {
			filtered = append(filtered, task)
			delete(wanted, task.TableName)
		}
	}
	for name := range wanted {
		return fmt.Errorf("table '%s' is not defined under [[tasks]]", name)
	}
	c.Tasks = filtered
	return nil
}
