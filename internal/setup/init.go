// Package setup handles warden workspace initialization.
package setup

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/warden/internal/model"
	yamlutil "github.com/msageha/warden/internal/yaml"
	"github.com/msageha/warden/templates"
)

const wardenDirName = ".warden"

// Run initializes the .warden/ workspace in the given project directory.
// projectName overrides the auto-detected name (defaults to directory
// basename if empty).
func Run(projectDir, projectName string) error {
	absDir, err := filepath.Abs(projectDir)
	if err != nil {
		return fmt.Errorf("resolve project dir: %w", err)
	}

	base := filepath.Join(absDir, wardenDirName)

	if _, err := os.Stat(base); err == nil {
		return fmt.Errorf("%s already exists", base)
	}

	// Create directory structure
	dirs := []string{
		filepath.Join("queue", "inbound"),
		filepath.Join("queue", "outbound"),
		"approvals",
		"state",
		"locks",
		filepath.Join("logs", "audit"),
		"quarantine",
	}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(base, d), 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", d, err)
		}
	}

	if err := copyTemplateFile("warden.md", filepath.Join(base, "warden.md")); err != nil {
		return err
	}

	// Generate and write config.yaml with auto-filled fields
	cfg, err := generateConfig(absDir, projectName)
	if err != nil {
		return fmt.Errorf("generate config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("template config invalid: %w", err)
	}
	if err := yamlutil.AtomicWrite(filepath.Join(base, "config.yaml"), cfg); err != nil {
		return fmt.Errorf("write config.yaml: %w", err)
	}

	if err := writeServicesSkeleton(filepath.Join(base, "state", "services.yaml")); err != nil {
		return fmt.Errorf("write services.yaml: %w", err)
	}

	// Create daemon.lock (empty)
	if err := os.WriteFile(filepath.Join(base, "locks", "daemon.lock"), nil, 0600); err != nil {
		return fmt.Errorf("create daemon.lock: %w", err)
	}

	return nil
}

func copyTemplateFile(name, dst string) error {
	data, err := fs.ReadFile(templates.FS, name)
	if err != nil {
		return fmt.Errorf("read template %s: %w", name, err)
	}
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}

// generateConfig layers the template over the built-in defaults, the same
// way the daemon loads user config, then fills the workspace fields.
func generateConfig(projectDir, projectName string) (*model.Config, error) {
	data, err := fs.ReadFile(templates.FS, "config.yaml")
	if err != nil {
		return nil, fmt.Errorf("read config template: %w", err)
	}

	cfg := model.DefaultConfig()
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config template: %w", err)
	}

	if projectName != "" {
		cfg.Project.Name = projectName
	} else {
		cfg.Project.Name = filepath.Base(projectDir)
	}
	cfg.Warden.ProjectRoot = projectDir
	cfg.Warden.Created = time.Now().Format(time.RFC3339)

	return &cfg, nil
}

func writeServicesSkeleton(path string) error {
	st := model.ServicesState{
		SchemaVersion: 1,
		FileType:      "state_services",
		Services:      map[string]model.ServiceRecord{},
	}
	return yamlutil.AtomicWrite(path, st)
}
