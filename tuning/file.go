package tuning

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML tuning file. A missing file yields the defaults; fields
// absent from the file keep their default values.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("reading tuning file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("parsing tuning file %s: %w", path, err)
	}
	return cfg.Normalize(), nil
}

func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg.Normalize())
	if err != nil {
		return fmt.Errorf("encoding tuning: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating tuning dir: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing tuning file: %w", err)
	}
	return os.Rename(tmp, path)
}
