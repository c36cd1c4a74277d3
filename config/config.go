// Package config loads the YAML configuration of the gojopool CLI.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/sushant-115/gojopool/pkg/logger"
	"github.com/sushant-115/gojopool/pkg/telemetry"
	"gopkg.in/yaml.v3"
)

const (
	DefaultFrames  = 64
	DefaultDataDir = "./gojopool_data"
)

// PoolConfig sizes the buffer pool.
type PoolConfig struct {
	// Frames is the number of page frames, fixed for the lifetime of the pool.
	Frames int `yaml:"frames"`
	// MaxIndexEntries caps the page table; zero leaves it unbounded.
	MaxIndexEntries int `yaml:"max_index_entries"`
}

// StorageConfig says where database files live.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

type Config struct {
	Pool      PoolConfig       `yaml:"pool"`
	Storage   StorageConfig    `yaml:"storage"`
	Logger    logger.Config    `yaml:"logger"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Pool:    PoolConfig{Frames: DefaultFrames},
		Storage: StorageConfig{DataDir: DefaultDataDir},
		Logger: logger.Config{
			Level:      "info",
			Format:     "console",
			OutputFile: "stderr",
		},
		Telemetry: telemetry.Config{
			Enabled:     false,
			ServiceName: logger.ServiceName,
		},
	}
}

// Load reads path on top of Default. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if c.Pool.Frames < 1 {
		errs = append(errs, fmt.Errorf("pool.frames must be at least 1, got %d", c.Pool.Frames))
	}
	if c.Pool.MaxIndexEntries < 0 {
		errs = append(errs, fmt.Errorf("pool.max_index_entries must not be negative, got %d", c.Pool.MaxIndexEntries))
	}
	if c.Storage.DataDir == "" {
		errs = append(errs, errors.New("storage.data_dir must be set"))
	}
	if c.Telemetry.Enabled && c.Telemetry.ServiceName == "" {
		errs = append(errs, errors.New("telemetry.service_name must be set when telemetry is enabled"))
	}
	return errors.Join(errs...)
}
