package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config represents the full tool configuration.
type Config struct {
	Thumbnail ThumbnailConfig `mapstructure:"thumbnail"`
	Metadata  MetadataConfig  `mapstructure:"metadata"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ThumbnailConfig controls thumbnail embedding. An empty path disables it.
type ThumbnailConfig struct {
	Path           string `mapstructure:"path"`
	Width          int    `mapstructure:"width"`
	Height         int    `mapstructure:"height"`
	Quality        int    `mapstructure:"quality"`
	FragmentHeight int    `mapstructure:"fragment_height"`
	ChunkSize      int    `mapstructure:"chunk_size"`
	Rescale        bool   `mapstructure:"rescale"`
}

// MetadataConfig holds the metadata field overrides. Empty string and
// negative infill mean "not configured".
type MetadataConfig struct {
	Material string `mapstructure:"material"`
	AmountMM string `mapstructure:"amount_mm"`
	Infill   int    `mapstructure:"infill"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// flagBindings maps config keys to the CLI flag that overrides each one.
var flagBindings = map[string]string{
	"thumbnail.path":     "thumbnail",
	"thumbnail.quality":  "quality",
	"thumbnail.rescale":  "rescale",
	"metadata.material":  "material",
	"metadata.amount_mm": "amount",
	"metadata.infill":    "infill",
	"logging.level":      "log-level",
}

// Load loads configuration from an optional YAML file, MPMDMETA_* environment
// variables and any bound command-line flags, in increasing precedence.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	// Environment variable support
	v.SetEnvPrefix("MPMDMETA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		for key, name := range flagBindings {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("binding flag %s: %w", name, err)
				}
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	return &config, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Thumbnail defaults match the MPMDv2 display firmware expectations.
	v.SetDefault("thumbnail.path", "")
	v.SetDefault("thumbnail.width", 140)
	v.SetDefault("thumbnail.height", 140)
	v.SetDefault("thumbnail.quality", 30)
	v.SetDefault("thumbnail.fragment_height", 16)
	v.SetDefault("thumbnail.chunk_size", 80)
	v.SetDefault("thumbnail.rescale", false)

	v.SetDefault("metadata.material", "")
	v.SetDefault("metadata.amount_mm", "")
	v.SetDefault("metadata.infill", -1)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.max_size", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", false)
}
