package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
)

// Config - root of the application configuration, parsed from YAML and
// checked with validate tags.
type Config struct {
	Logger LoggerConfig `yaml:"logger" validate:"required"`
	DB     `yaml:"db" validate:"required"`
}

type DB struct {
	Path       string           `yaml:"path" validate:"required"`
	KeyType    string           `yaml:"key_type" validate:"required,oneof=string number"`
	Memtable   MemtableConfig   `yaml:"memtable" validate:"required"`
	WAL        WALConfig        `yaml:"wal"`
	Compaction CompactionConfig `yaml:"compaction" validate:"required"`
}

type MemtableConfig struct {
	FlushThresholdBytes int `yaml:"flush_threshold" validate:"required,min=1"`
}

type WALConfig struct {
	Enabled bool `yaml:"enabled"`
}

type CompactionConfig struct {
	// SizeUnit is the level budget base in bytes: level i holds
	// 10^(i+1) units.
	SizeUnit    int64   `yaml:"size_unit" validate:"required,min=1"`
	BloomCache  bool    `yaml:"bloom_cache"`
	BloomFPRate float64 `yaml:"bloom_fp_rate" validate:"required,gt=0,lt=1"`
	// AutoCompact requests a pass after every flush.
	AutoCompact bool `yaml:"auto_compact"`
}

type LoggerConfig struct {
	Level string `yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
	JSON  bool   `yaml:"json"`
}

// Default returns a baseline development config.
func Default() Config {
	return Config{
		Logger: LoggerConfig{
			Level: "INFO",
			JSON:  false,
		},
		DB: DB{
			Path:    "./data",
			KeyType: "string",
			Memtable: MemtableConfig{
				FlushThresholdBytes: 4 << 20,
			},
			WAL: WALConfig{
				Enabled: true,
			},
			Compaction: CompactionConfig{
				SizeUnit:    1 << 20,
				BloomCache:  true,
				BloomFPRate: 0.01,
				AutoCompact: false,
			},
		},
	}
}

// Load reads the YAML file at path over Default and validates the result.
// A missing file yields the defaults; found reports whether it existed.
func Load(path string) (cfg Config, found bool, err error) {
	cfg = Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, false, nil
		}
		return cfg, false, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, true, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, true, err
	}
	return cfg, true, nil
}

// Validate checks the validate tags.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
