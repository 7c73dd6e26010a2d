package config

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/stuarteiffert/nanodet/pkg/errors"
)

// Load reads a YAML config file on top of the defaults and validates it.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.UnmarshalStrict(raw, cfg); err != nil {
		return nil, errors.NewConfigInvalidError(fmt.Sprintf("parse %s: %v", path, err))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Model.Arch.Name == "" {
		return errors.NewConfigInvalidError("model.arch.name is required")
	}
	if c.SaveDir == "" {
		return errors.NewConfigInvalidError("save_dir is required")
	}
	if c.Model.Arch.Head.NumClasses != len(c.ClassNames) {
		return errors.NewClassCountError(c.Model.Arch.Head.NumClasses, len(c.ClassNames))
	}
	if c.Device.BatchSizePerGPU <= 0 {
		return errors.NewConfigInvalidError("device.batchsize_per_gpu must be positive")
	}
	if c.Schedule.TotalEpochs <= 0 {
		return errors.NewConfigInvalidError("schedule.total_epochs must be positive")
	}
	return nil
}
