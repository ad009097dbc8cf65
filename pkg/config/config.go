// Package config loads and validates par3's runtime configuration: block
// sizing, memory budget, mapper strategy, and search/repair tuning.
// Configuration sources, in order of precedence:
//
//  1. Environment variables (PAR3_*, highest priority)
//  2. Configuration file (YAML)
//  3. Default values (lowest priority)
//
// CLI flags are not bound into this package.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/marmos91/par3/internal/bytesize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is par3's top-level configuration.
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Mapper controls chunk/block mapping: strategy, block size, and the
	// field's generator overrides.
	Mapper MapperConfig `mapstructure:"mapper" yaml:"mapper"`

	// Recovery controls Reed-Solomon recovery-block count and the Cauchy
	// row hints used to derive X values.
	Recovery RecoveryConfig `mapstructure:"recovery" yaml:"recovery"`

	// Container controls payload file sizing and the critical-packet
	// repetition schedule.
	Container ContainerConfig `mapstructure:"container" yaml:"container"`

	// Search controls the slide-window scan's time budget.
	Search SearchConfig `mapstructure:"search" yaml:"search"`

	// Memory caps the three pools a run draws on: scan working buffers,
	// the block-data region, and recovery-block residency.
	Memory MemoryConfig `mapstructure:"memory" yaml:"memory"`

	// Metrics contains Prometheus metrics HTTP server configuration.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive).
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format.
	// Valid values: text, json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written.
	// Valid values: stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// MapperConfig controls chunk/block mapping.
type MapperConfig struct {
	// BlockSize is the fixed block size in bytes.
	// Supports human-readable sizes: "4Mi", "512Ki".
	BlockSize bytesize.ByteSize `mapstructure:"block_size" validate:"required" yaml:"block_size"`

	// Strategy selects one of "simple", "hashed", "slide-search".
	Strategy string `mapstructure:"strategy" validate:"required,oneof=simple hashed slide-search" yaml:"strategy"`

	// AbsolutePath records path components above the input root as a
	// synthetic directory chain.
	AbsolutePath bool `mapstructure:"absolute_path" yaml:"absolute_path"`

	// Generator overrides the field generator polynomial. Zero means
	// "use the width-appropriate default".
	Generator uint32 `mapstructure:"generator" yaml:"generator,omitempty"`
}

// RecoveryConfig controls Reed-Solomon recovery generation.
type RecoveryConfig struct {
	// BlockCount is the number of recovery blocks to generate.
	BlockCount int `mapstructure:"block_count" validate:"required,gt=0" yaml:"block_count"`

	// RowHints optionally overrides the default X value set used to build
	// the Cauchy matrix's recovery rows; the values travel with the set in
	// its Matrix Packet.
	RowHints []uint64 `mapstructure:"row_hints" yaml:"row_hints,omitempty"`
}

// ContainerConfig controls payload file sizing.
type ContainerConfig struct {
	// Scheme selects "uniform", "power-of-two", or "size-limited".
	Scheme string `mapstructure:"scheme" validate:"required,oneof=uniform power-of-two size-limited" yaml:"scheme"`

	// FileCount is the desired payload file count for the uniform scheme;
	// the other two schemes ignore it. Zero is accepted only for recovery
	// volumes with MaxFileSize set; otherwise the uniform scheme rejects it.
	FileCount int `mapstructure:"file_count" validate:"gte=0" yaml:"file_count,omitempty"`

	// MaxBlocksPerFile bounds the size-limited scheme; the other two
	// schemes ignore it.
	MaxBlocksPerFile int `mapstructure:"max_blocks_per_file" validate:"gte=0" yaml:"max_blocks_per_file,omitempty"`

	// MaxFileSize is a recovery-volume size hint honoured by the uniform
	// scheme when FileCount is unset: volumes are split so no file exceeds
	// it. Zero disables the override. Supports human-readable sizes.
	MaxFileSize bytesize.ByteSize `mapstructure:"max_file_size" yaml:"max_file_size,omitempty"`

	// CriticalPacketRepeatLimit is the user-visible cap on how many times
	// the critical-packet bundle repeats per payload file, bounding the
	// `min(ceil(log2 k)+1, limit)` repetition factor.
	CriticalPacketRepeatLimit int `mapstructure:"critical_packet_repeat_limit" validate:"gt=0" yaml:"critical_packet_repeat_limit"`
}

// SearchConfig controls the slide-window verification scan.
type SearchConfig struct {
	// LimitMillis bounds wall-clock time spent sliding a single window
	// type over a single file before abandoning that window and
	// resuming at the next block boundary. Default 100ms.
	LimitMillis int64 `mapstructure:"limit_millis" validate:"gt=0" yaml:"limit_millis"`
}

// MemoryConfig caps the memory pools a run draws on.
type MemoryConfig struct {
	// Limit is the total memory budget across scan buffers, the
	// block-data region, and recovery-block residency.
	Limit bytesize.ByteSize `mapstructure:"limit" validate:"required" yaml:"limit"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
type MetricsConfig struct {
	// Enabled controls whether metrics collection and the HTTP server
	// are enabled.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the metrics endpoint. Default: 9090.
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (PAR3_*)
//  2. Configuration file
//  3. Default values
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		cfg := DefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks cfg against its `validate` struct tags.
func Validate(cfg *Config) error {
	return validate.Struct(cfg)
}

var validate = validator.New()

// SaveConfig writes cfg to path in YAML form.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("config: failed to create directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: failed to marshal: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("config: failed to write %s: %w", path, err)
	}
	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("PAR3")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("par3")
		v.SetConfigType("yaml")
	}
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("config: failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks returns the combined decode hook for ByteSize fields.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(byteSizeDecodeHook())
}

func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}
