package config

import (
	"fmt"
	"log/slog"

	"github.com/ossyrian/mintywz/internal/crypto"
	"github.com/ossyrian/mintywz/internal/ops"
	"github.com/ossyrian/mintywz/internal/wz"
)

// Config holds app configuration
type Config struct {
	// Key is the archive encryption region (gms, kms, none).
	// Used to determine the encryption IV
	Key string `mapstructure:"key"`

	// GameVersion is the MapleStory patch version number (e.g. 83, 176).
	// Used to calculate the version hash for offset decryption.
	// If zero, the reader will attempt to bruteforce it
	GameVersion int `mapstructure:"game_version"`

	Workers   int  `mapstructure:"workers"`
	CacheSize int  `mapstructure:"cache_size"`
	Mmap      bool `mapstructure:"mmap"`
	Deep      bool `mapstructure:"deep"`

	LogLevel     string `mapstructure:"log_level"`
	LogOutputDir string `mapstructure:"log_output_dir"`
}

// Validate checks the values that the flags cannot constrain.
func (c *Config) Validate() error {
	if _, err := crypto.ParseRegion(c.Key); err != nil {
		return err
	}
	if c.GameVersion < 0 || c.GameVersion > wz.MaxVersion {
		return fmt.Errorf("invalid game version %d: must be between 0 and %d", c.GameVersion, wz.MaxVersion)
	}
	if c.Workers < 0 {
		return fmt.Errorf("invalid workers %d: must not be negative", c.Workers)
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("invalid cache size %d: must not be negative", c.CacheSize)
	}
	return nil
}

// Options converts the config into operation options.
func (c *Config) Options(logger *slog.Logger) (ops.Options, error) {
	region, err := crypto.ParseRegion(c.Key)
	if err != nil {
		return ops.Options{}, err
	}
	return ops.Options{
		Region:    region,
		Version:   c.GameVersion,
		Workers:   c.Workers,
		Mmap:      c.Mmap,
		CacheSize: c.CacheSize,
		Deep:      c.Deep,
		Logger:    logger,
	}, nil
}
