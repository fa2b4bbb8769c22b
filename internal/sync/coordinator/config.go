package coordinator

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/icereplica/coreflow/internal/sync/merge"
	"github.com/icereplica/coreflow/pkg/errors"
)

var codeConfigLoadFailed = errors.AppCode("config_load_failed")

// Config parameterises a Coordinator: nested structs per concern,
// durations typed as time.Duration, everything yaml-tagged for file-based
// configuration.
type Config struct {
	Warehouse WarehouseConfig `yaml:"warehouse"`
	Watermark WatermarkConfig `yaml:"watermark"`
	Source    SourceConfig    `yaml:"source"`
	Target    TargetConfig    `yaml:"target"`
	Merge     MergeConfig     `yaml:"merge"`
	Retry     RetryConfig     `yaml:"retry"`
}

// WarehouseConfig locates the filesystem catalog root.
type WarehouseConfig struct {
	RootPath string `yaml:"root_path"`
}

// WatermarkConfig names the per-table watermark column the change detector
// filters on.
type WatermarkConfig struct {
	Column string `yaml:"column"`
}

// SourceConfig bounds one run's extraction step. Table overrides the
// source-side table name when it differs from the Iceberg table's; empty
// means they share a name.
type SourceConfig struct {
	Table          string        `yaml:"table"`
	BatchThreshold int           `yaml:"batch_threshold"`
	QueryTimeout   time.Duration `yaml:"query_timeout"`
}

// TargetConfig names the destination table and the connection string used
// to open it.
type TargetConfig struct {
	Table string `yaml:"table"`
	DSN   string `yaml:"dsn"`
}

// MergeConfig carries the merge strategy selection through to the merge
// driver.
type MergeConfig struct {
	Strategy     merge.Strategy `yaml:"strategy"`
	PrimaryKey   string         `yaml:"primary_key"`
	BatchSize    int            `yaml:"batch_size"`
	MergeTimeout time.Duration  `yaml:"merge_timeout"`
}

// RetryConfig configures the retry policy wrapped around extraction and
// merge.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	Multiplier      float64       `yaml:"multiplier"`
	Jitter          bool          `yaml:"jitter"`
}

// RetryPolicy converts the yaml-decoded RetryConfig into the Retryer's
// RetryPolicy, falling back to DefaultRetryPolicy's values for any unset
// (zero-value) attempt count, interval or multiplier. Jitter is always
// taken from rc, so a config that leaves it unset runs without jitter.
func (rc RetryConfig) RetryPolicy() RetryPolicy {
	p := DefaultRetryPolicy()
	if rc.MaxAttempts > 0 {
		p.MaxAttempts = rc.MaxAttempts
	}
	if rc.InitialInterval > 0 {
		p.InitialInterval = rc.InitialInterval
	}
	if rc.MaxInterval > 0 {
		p.MaxInterval = rc.MaxInterval
	}
	if rc.Multiplier > 0 {
		p.Multiplier = rc.Multiplier
	}
	p.Jitter = rc.Jitter
	return p
}

// LoadConfig reads one table's Config from a YAML file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(codeConfigLoadFailed, err, "reading config file %q", path)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrapf(codeConfigLoadFailed, err, "parsing config file %q", path)
	}
	return cfg, nil
}

// Save writes cfg back out as YAML.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(codeConfigLoadFailed, err, "marshaling config")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(codeConfigLoadFailed, err, "writing config file %q", path)
	}
	return nil
}
