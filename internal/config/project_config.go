package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// InitProjectConfigScaffold 在 dir 下写入默认配置模板；已存在时保持不变
// InitProjectConfigScaffold writes the default configuration to dir as
// sessionvault.config.json (or .yaml when asYAML is set). An existing file is
// left untouched. It returns the path of the config file.
func InitProjectConfigScaffold(dir string, asYAML bool) (string, error) {
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("get current working directory: %w", err)
		}
		dir = cwd
	}

	name := "sessionvault.config.json"
	if asYAML {
		name = "sessionvault.config.yaml"
	}
	path := filepath.Join(dir, name)

	info, err := os.Stat(path)
	if err == nil {
		if info.IsDir() {
			return "", fmt.Errorf("project config path is a directory: %s", path)
		}
		return path, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("stat project config: %w", err)
	}

	cfg := Default()
	var data []byte
	if asYAML {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return "", fmt.Errorf("marshal default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write project config: %w", err)
	}
	return path, nil
}
