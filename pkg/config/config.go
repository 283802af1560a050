// Package config loads the genexbench configuration from a YAML file and
// GENEXBENCH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Sentinel validation errors.
var (
	ErrInvalidK         = errors.New("k must be positive")
	ErrInvalidNQuery    = errors.New("query count must be positive")
	ErrNoDistances      = errors.New("at least one distance is required")
	ErrInvalidBlockSize = errors.New("paa block size must be positive")
	ErrInvalidThreads   = errors.New("thread hint must be positive")
	ErrInvalidSweep     = errors.New("grouping sweep needs 0 < from_st < to_st")
	ErrInvalidTimeout   = errors.New("engine timeout must not be negative")
	ErrInvalidFormat    = errors.New("log format must be text or json")
	ErrInvalidRatio     = errors.New("sample ratio must be within [0, 1]")
)

const (
	envPrefix      = "GENEXBENCH"
	configName     = "genexbench"
	systemConfig   = "/etc/genexbench"
	logFormatText  = "text"
	logFormatJSON  = "json"
	maxSampleRatio = 1
)

// Config holds all configuration for genexbench.
type Config struct {
	Paths         PathsConfig         `mapstructure:"paths"`
	Engine        EngineConfig        `mapstructure:"engine"`
	Experiment    ExperimentConfig    `mapstructure:"experiment"`
	Grouping      GroupingConfig      `mapstructure:"grouping"`
	Notify        NotifyConfig        `mapstructure:"notify"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Archive       ArchiveConfig       `mapstructure:"archive"`
}

// PathsConfig holds the storage roots.
type PathsConfig struct {
	DatasetRoot    string `mapstructure:"dataset_root"`
	GroupsRoot     string `mapstructure:"groups_root"`
	ExperimentRoot string `mapstructure:"experiment_root"`
	Catalog        string `mapstructure:"catalog"`
}

// EngineConfig holds how the search engine process is started and fed.
type EngineConfig struct {
	Command     string        `mapstructure:"command"`
	Args        []string      `mapstructure:"args"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Delimiter   string        `mapstructure:"delimiter"`
	LabelColumn int           `mapstructure:"label_column"`
	SkipColumns int           `mapstructure:"skip_columns"`
	Threads     int           `mapstructure:"threads"`
}

// ExperimentConfig holds the query experiment parameters.
type ExperimentConfig struct {
	K            int       `mapstructure:"k"`
	NQuery       int       `mapstructure:"nquery"`
	Distances    []string  `mapstructure:"distances"`
	PAABlockSize int       `mapstructure:"paa_block_size"`
	Thresholds   []float64 `mapstructure:"thresholds"`
	Seed         uint64    `mapstructure:"seed"`
}

// GroupingConfig holds the threshold sweep bounds.
type GroupingConfig struct {
	FromST float64 `mapstructure:"from_st"`
	ToST   float64 `mapstructure:"to_st"`
}

// NotifyConfig holds the SMTP relay. An empty server disables mail.
type NotifyConfig struct {
	SMTPServer string `mapstructure:"smtp_server"`
	From       string `mapstructure:"from"`
	To         string `mapstructure:"to"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ObservabilityConfig holds the tracing and metrics exporters.
type ObservabilityConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	OTLPHeaders  string  `mapstructure:"otlp_headers"`
	OTLPInsecure bool    `mapstructure:"otlp_insecure"`
	MetricsAddr  string  `mapstructure:"metrics_addr"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

// ArchiveConfig holds where ledger snapshots go. An empty Dir disables
// archiving; an empty S3Bucket keeps snapshots local.
type ArchiveConfig struct {
	Dir string `mapstructure:"dir"`

	S3Endpoint      string `mapstructure:"s3_endpoint"`
	S3Bucket        string `mapstructure:"s3_bucket"`
	S3Prefix        string `mapstructure:"s3_prefix"`
	S3Secure        bool   `mapstructure:"s3_secure"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// LoadConfig loads configuration from file and environment variables. An
// empty configPath searches ., ./config and /etc/genexbench for
// genexbench.yaml and falls back to defaults when none exists.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	setDefaults(viperCfg)

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.SetConfigType("yaml")
		viperCfg.AddConfigPath(".")
		viperCfg.AddConfigPath("./config")
		viperCfg.AddConfigPath(systemConfig)
	}

	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.AutomaticEnv()
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFoundErr) {
			return nil, fmt.Errorf("failed to read config file: %w", readErr)
		}
	}

	var config Config

	unmarshalErr := viperCfg.Unmarshal(&config)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", unmarshalErr)
	}

	validateErr := Validate(&config)
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &config, nil
}

// setDefaults sets default configuration values.
func setDefaults(viperCfg *viper.Viper) {
	// Path defaults.
	viperCfg.SetDefault("paths.dataset_root", DefaultDatasetRoot)
	viperCfg.SetDefault("paths.groups_root", DefaultGroupsRoot)
	viperCfg.SetDefault("paths.experiment_root", DefaultExperimentRoot)
	viperCfg.SetDefault("paths.catalog", DefaultCatalog)

	// Engine defaults.
	viperCfg.SetDefault("engine.command", DefaultEngineCommand)
	viperCfg.SetDefault("engine.args", []string{})
	viperCfg.SetDefault("engine.timeout", "0s")
	viperCfg.SetDefault("engine.delimiter", DefaultDelimiter)
	viperCfg.SetDefault("engine.label_column", DefaultLabelColumn)
	viperCfg.SetDefault("engine.skip_columns", DefaultSkipColumns)
	viperCfg.SetDefault("engine.threads", DefaultThreads)

	// Experiment defaults.
	viperCfg.SetDefault("experiment.k", DefaultK)
	viperCfg.SetDefault("experiment.nquery", DefaultNQuery)
	viperCfg.SetDefault("experiment.distances", []string{DefaultDistance})
	viperCfg.SetDefault("experiment.paa_block_size", DefaultPAABlockSize)
	viperCfg.SetDefault("experiment.thresholds", []float64{0.1, 0.2, 0.3, 0.4, 0.5})
	viperCfg.SetDefault("experiment.seed", 0)

	// Grouping defaults.
	viperCfg.SetDefault("grouping.from_st", DefaultFromST)
	viperCfg.SetDefault("grouping.to_st", DefaultToST)

	// Notification defaults.
	viperCfg.SetDefault("notify.smtp_server", "")
	viperCfg.SetDefault("notify.from", DefaultFromAddr)
	viperCfg.SetDefault("notify.to", "")

	// Logging defaults.
	viperCfg.SetDefault("logging.level", DefaultLogLevel)
	viperCfg.SetDefault("logging.format", DefaultLogFormat)

	// Observability defaults.
	viperCfg.SetDefault("observability.otlp_endpoint", "")
	viperCfg.SetDefault("observability.otlp_headers", "")
	viperCfg.SetDefault("observability.otlp_insecure", false)
	viperCfg.SetDefault("observability.metrics_addr", "")
	viperCfg.SetDefault("observability.sample_ratio", DefaultSampleRatio)

	// Archive defaults.
	viperCfg.SetDefault("archive.dir", "")
	viperCfg.SetDefault("archive.s3_endpoint", "")
	viperCfg.SetDefault("archive.s3_bucket", "")
	viperCfg.SetDefault("archive.s3_prefix", "")
	viperCfg.SetDefault("archive.s3_secure", true)
	viperCfg.SetDefault("archive.access_key_id", "")
	viperCfg.SetDefault("archive.secret_access_key", "")
}

// Validate checks the configuration. The CLI calls it again after flags
// override loaded values.
func Validate(config *Config) error {
	if config.Experiment.K <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidK, config.Experiment.K)
	}

	if config.Experiment.NQuery <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidNQuery, config.Experiment.NQuery)
	}

	if len(config.Experiment.Distances) == 0 {
		return ErrNoDistances
	}

	if config.Experiment.PAABlockSize <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidBlockSize, config.Experiment.PAABlockSize)
	}

	if config.Engine.Threads <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidThreads, config.Engine.Threads)
	}

	if config.Engine.Timeout < 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTimeout, config.Engine.Timeout)
	}

	if config.Grouping.FromST <= 0 || config.Grouping.ToST <= config.Grouping.FromST {
		return fmt.Errorf("%w: [%.1f, %.1f)", ErrInvalidSweep, config.Grouping.FromST, config.Grouping.ToST)
	}

	switch config.Logging.Format {
	case logFormatText, logFormatJSON:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidFormat, config.Logging.Format)
	}

	if config.Observability.SampleRatio < 0 || config.Observability.SampleRatio > maxSampleRatio {
		return fmt.Errorf("%w: %v", ErrInvalidRatio, config.Observability.SampleRatio)
	}

	return nil
}
