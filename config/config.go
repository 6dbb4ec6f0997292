// Package config loads bridge settings from defaults, an optional file and
// FFIBRIDGE_ environment variables.
package config

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/wippyai/ffi-bridge/errors"
	"github.com/wippyai/ffi-bridge/transcoder"
)

// EnvPrefix prefixes every environment override, e.g. FFIBRIDGE_ASYNC_MAX_CONCURRENCY.
const EnvPrefix = "FFIBRIDGE"

// Config holds bridge configuration.
type Config struct {
	Log    LogConfig    `mapstructure:"log"`
	Codec  CodecConfig  `mapstructure:"codec"`
	Table  TableConfig  `mapstructure:"table"`
	Async  AsyncConfig  `mapstructure:"async"`
	Schema SchemaConfig `mapstructure:"schema"`
}

// LogConfig selects the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

// CodecConfig bounds a single encode or decode.
type CodecConfig struct {
	MaxStringSize   uint32 `mapstructure:"max_string_size" validate:"gt=0"`
	MaxSequenceLen  uint32 `mapstructure:"max_sequence_len" validate:"gt=0"`
	MaxNestingDepth int    `mapstructure:"max_nesting_depth" validate:"gt=0,lte=4096"`
}

// Limits converts the settings for transcoder.WithLimits.
func (c CodecConfig) Limits() transcoder.Limits {
	return transcoder.Limits{
		MaxStringSize:   c.MaxStringSize,
		MaxSequenceLen:  c.MaxSequenceLen,
		MaxNestingDepth: c.MaxNestingDepth,
	}
}

type TableConfig struct {
	Shards int `mapstructure:"shards" validate:"gte=1,lte=1024"`
}

type AsyncConfig struct {
	MaxConcurrency int64 `mapstructure:"max_concurrency" validate:"gte=1"`
}

// SchemaConfig points at the interface description to load. Empty means
// the caller supplies one.
type SchemaConfig struct {
	Path string `mapstructure:"path"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func setDefaults(v *viper.Viper) {
	limits := transcoder.DefaultLimits()
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("codec.max_string_size", limits.MaxStringSize)
	v.SetDefault("codec.max_sequence_len", limits.MaxSequenceLen)
	v.SetDefault("codec.max_nesting_depth", limits.MaxNestingDepth)
	v.SetDefault("table.shards", 16)
	v.SetDefault("async.max_concurrency", 64)
	v.SetDefault("schema.path", "")
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var c Config
	_ = v.Unmarshal(&c)
	return c
}

// Load reads configuration. path names a config file (yaml, toml or json);
// when empty, FFIBRIDGE_CONFIG is consulted, then ffibridge.* in the working
// directory and $HOME/.config/ffibridge. A missing file is not an error
// unless it was named explicitly.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	explicit := path != ""
	if explicit {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("ffibridge")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "ffibridge"))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || !stderrors.As(err, &notFound) {
			return Config{}, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "read config")
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "unmarshal config")
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "invalid config")
	}
	return nil
}
