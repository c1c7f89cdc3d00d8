// Package setup initializes a Velora data directory.
package setup

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/velora-app/velora/internal/model"
	atomicyaml "github.com/velora-app/velora/internal/yaml"
	"github.com/velora-app/velora/templates"
)

const configFileName = "velora.yaml"

// Run prepares dataDir for a daemon: creates the directory tree and
// writes a default config. projectName overrides the auto-detected name
// (directory basename when empty). Refuses to touch a directory that
// already holds a config.
func Run(dataDir, projectName string) error {
	absDir, err := filepath.Abs(dataDir)
	if err != nil {
		return fmt.Errorf("resolve data dir: %w", err)
	}

	configPath := filepath.Join(absDir, configFileName)
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("%s already exists", configPath)
	}

	if err := os.MkdirAll(filepath.Join(absDir, "logs"), 0755); err != nil {
		return fmt.Errorf("create logs directory: %w", err)
	}

	cfg, err := generateConfig(absDir, projectName)
	if err != nil {
		return fmt.Errorf("generate config: %w", err)
	}

	if err := atomicyaml.AtomicWrite(configPath, cfg); err != nil {
		return fmt.Errorf("write %s: %w", configFileName, err)
	}

	return nil
}

func generateConfig(dataDir, projectName string) (*model.Config, error) {
	data, err := fs.ReadFile(templates.FS, configFileName)
	if err != nil {
		return nil, fmt.Errorf("read config template: %w", err)
	}

	var cfg model.Config
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config template: %w", err)
	}

	if projectName != "" {
		cfg.Project.Name = projectName
	} else {
		cfg.Project.Name = filepath.Base(dataDir)
	}
	cfg.ApplyDefaults()

	return &cfg, nil
}
