// Package config loads the orchestrator's on-disk configuration and owns
// the layout of the .autonomous directory created inside the repository
// root.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AutonomousDir is the directory created in the repository root that holds
// every durable, per-instance artifact the orchestrator produces.
const AutonomousDir = ".autonomous"

const defaultConfigYAML = `# autopilot orchestrator configuration
version: 1

board:
  status_field: Status
  assigned_instance_field: "Assigned Instance"

providers:
  claude:
    capacity: 2
  gemini:
    capacity: 1
  codex:
    capacity: 1

tick_interval: 5s
reconcile_interval: 60s
board_call_timeout: 30s
base_dir: ".."
`

// ProviderConfig describes one Worker CLI provider's fixed-capacity slot
// pool and the command used to invoke it.
type ProviderConfig struct {
	Command  string `yaml:"command,omitempty"`
	Capacity int    `yaml:"capacity"`
}

// BoardConfig names the concrete board fields the core reads and writes.
// No field name is hardcoded in internal/board; it is always supplied here.
type BoardConfig struct {
	StatusField           string `yaml:"status_field"`
	AssignedInstanceField string `yaml:"assigned_instance_field"`
	BaseURL               string `yaml:"base_url,omitempty"`
}

// FileConfig is the shape of .autonomous/config.yaml.
type FileConfig struct {
	Version           int                       `yaml:"version"`
	Board             BoardConfig               `yaml:"board"`
	Providers         map[string]ProviderConfig `yaml:"providers"`
	TickInterval      string                    `yaml:"tick_interval"`
	ReconcileInterval string                    `yaml:"reconcile_interval"`
	BoardCallTimeout  string                    `yaml:"board_call_timeout"`
	BaseDir           string                    `yaml:"base_dir"`
}

// Config is the resolved runtime configuration for one orchestrator run.
type Config struct {
	// RepoRoot is the repository the orchestrator supervises.
	RepoRoot string

	File FileConfig

	TickInterval      time.Duration
	ReconcileInterval time.Duration
	BoardCallTimeout  time.Duration
}

func defaultFileConfig() FileConfig {
	return FileConfig{
		Version: 1,
		Board: BoardConfig{
			StatusField:           "Status",
			AssignedInstanceField: "Assigned Instance",
		},
		Providers: map[string]ProviderConfig{
			"claude": {Capacity: 2},
			"gemini": {Capacity: 1},
			"codex":  {Capacity: 1},
		},
		TickInterval:      "5s",
		ReconcileInterval: "60s",
		BoardCallTimeout:  "30s",
		BaseDir:           "..",
	}
}

// InitAutonomousDir creates the .autonomous directory structure inside
// repoRoot. Safe to call repeatedly.
func InitAutonomousDir(repoRoot string) error {
	base := filepath.Join(repoRoot, AutonomousDir)
	dirs := []string{
		filepath.Join(base, "logs"),
		filepath.Join(base, "sessions"),
		filepath.Join(base, "prompts"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create %s: %w", dir, err)
		}
	}
	return ensureConfigFile(filepath.Join(base, "config.yaml"))
}

func ensureConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultConfigYAML), 0o644)
}

// Load reads .autonomous/config.yaml under repoRoot, applying defaults for
// anything left unset. Missing files are not an error: the defaults alone
// are enough to run.
func Load(repoRoot string) (*Config, error) {
	repoRoot, err := filepath.Abs(repoRoot)
	if err != nil {
		return nil, fmt.Errorf("config: resolve repo root: %w", err)
	}
	file := defaultFileConfig()
	path := filepath.Join(repoRoot, AutonomousDir, "config.yaml")
	if data, err := os.ReadFile(path); err == nil {
		var parsed FileConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		mergeFileConfig(&file, parsed)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := &Config{RepoRoot: repoRoot, File: file}
	if cfg.TickInterval, err = parseDurationOrDefault(file.TickInterval, 5*time.Second); err != nil {
		return nil, fmt.Errorf("config: tick_interval: %w", err)
	}
	if cfg.ReconcileInterval, err = parseDurationOrDefault(file.ReconcileInterval, 60*time.Second); err != nil {
		return nil, fmt.Errorf("config: reconcile_interval: %w", err)
	}
	if cfg.BoardCallTimeout, err = parseDurationOrDefault(file.BoardCallTimeout, 30*time.Second); err != nil {
		return nil, fmt.Errorf("config: board_call_timeout: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func mergeFileConfig(dst *FileConfig, src FileConfig) {
	if src.Version != 0 {
		dst.Version = src.Version
	}
	if strings.TrimSpace(src.Board.StatusField) != "" {
		dst.Board.StatusField = src.Board.StatusField
	}
	if strings.TrimSpace(src.Board.AssignedInstanceField) != "" {
		dst.Board.AssignedInstanceField = src.Board.AssignedInstanceField
	}
	if strings.TrimSpace(src.Board.BaseURL) != "" {
		dst.Board.BaseURL = src.Board.BaseURL
	}
	if src.Providers != nil {
		dst.Providers = src.Providers
	}
	if strings.TrimSpace(src.TickInterval) != "" {
		dst.TickInterval = src.TickInterval
	}
	if strings.TrimSpace(src.ReconcileInterval) != "" {
		dst.ReconcileInterval = src.ReconcileInterval
	}
	if strings.TrimSpace(src.BoardCallTimeout) != "" {
		dst.BoardCallTimeout = src.BoardCallTimeout
	}
	if strings.TrimSpace(src.BaseDir) != "" {
		dst.BaseDir = src.BaseDir
	}
}

func parseDurationOrDefault(value string, fallback time.Duration) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback, nil
	}
	return time.ParseDuration(value)
}

func (c *Config) validate() error {
	if len(c.File.Providers) == 0 {
		return fmt.Errorf("config: at least one provider must be configured")
	}
	for name, p := range c.File.Providers {
		if p.Capacity < 0 {
			return fmt.Errorf("config: provider %s: capacity must be >= 0", name)
		}
	}
	return nil
}

// AutonomousRoot returns <repoRoot>/.autonomous.
func (c *Config) AutonomousRoot() string {
	return filepath.Join(c.RepoRoot, AutonomousDir)
}

// LogsDir returns the directory holding per-instance output logs.
func (c *Config) LogsDir() string {
	return filepath.Join(c.AutonomousRoot(), "logs")
}

// SessionsDir returns the directory holding transient session descriptors.
func (c *Config) SessionsDir() string {
	return filepath.Join(c.AutonomousRoot(), "sessions")
}

// PromptsDir returns the directory holding the exact prompt text sent to
// each instance, kept for debugging.
func (c *Config) PromptsDir() string {
	return filepath.Join(c.AutonomousRoot(), "prompts")
}

// WorktreeBaseDir resolves the configured base directory (default "..",
// meaning a sibling of the repository root) to an absolute path.
func (c *Config) WorktreeBaseDir() (string, error) {
	dir := c.File.BaseDir
	if dir == "" {
		dir = ".."
	}
	if filepath.IsAbs(dir) {
		return dir, nil
	}
	return filepath.Abs(filepath.Join(c.RepoRoot, dir))
}

// ProviderCapacities returns the configured slot capacity per provider name.
func (c *Config) ProviderCapacities() map[string]int {
	out := make(map[string]int, len(c.File.Providers))
	for name, p := range c.File.Providers {
		out[name] = p.Capacity
	}
	return out
}

// ProviderCommand returns the executable used to invoke a provider's
// Worker CLI, defaulting to the provider name itself.
func (c *Config) ProviderCommand(provider string) string {
	if p, ok := c.File.Providers[provider]; ok && strings.TrimSpace(p.Command) != "" {
		return p.Command
	}
	return provider
}
