// Package config loads sm's static configuration, grounded on the
// teacher's ~/.h2/config.yaml loader (internal/config/config.go).
// Dispatch-template loading and the teacher's role-template system are out
// of scope (spec.md §1) and are not carried forward — see DESIGN.md.
package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the tunables spec.md leaves to "configurable" language.
type Config struct {
	// BindAddr is the loopback address the HTTP surface listens on
	// (spec.md §6 default 127.0.0.1:8420).
	BindAddr string `yaml:"bind_addr"`

	// StateDir holds the sqlite file and JSON snapshot (spec.md §6).
	StateDir string `yaml:"state_dir"`
	// LogDir holds per-session capture logs (spec.md §6).
	LogDir string `yaml:"log_dir"`

	IdleThreshold       time.Duration `yaml:"idle_threshold"`
	MaxBatchSize        int           `yaml:"max_batch_size"`
	SettleDelay         time.Duration `yaml:"settle_delay"`
	UrgentReadyTimeout  time.Duration `yaml:"urgent_ready_timeout"`
	UrgentPollInterval  time.Duration `yaml:"urgent_poll_interval"`
	WatchPollInterval   time.Duration `yaml:"watch_poll_interval"`
	SkipFenceWindow     time.Duration `yaml:"skip_fence_window"`
	StopNotifySuppress  time.Duration `yaml:"stop_notify_suppress_window"`

	DefaultRemindSoftSecs int `yaml:"default_remind_soft_seconds"`
	DefaultRemindHardSecs int `yaml:"default_remind_hard_seconds"`
	DefaultParentWakeSecs int `yaml:"default_parent_wake_seconds"`

	ContextWarningPercentage  float64 `yaml:"context_warning_percentage"`
	ContextCriticalPercentage float64 `yaml:"context_critical_percentage"`

	// ProviderCommands maps a provider tag to the CLI command used to
	// launch it (e.g. "claude", "codex"). codex-app has no command; it is
	// addressed entirely through its structured-event protocol.
	ProviderCommands map[string]string `yaml:"provider_commands"`
}

// Default returns the built-in defaults, matching the literal values named
// throughout spec.md (idle threshold 300s, urgent timeout 3s, poll 50ms,
// watch poll 2s, skip fence 8s, remind 180/300, context 50%/65%).
func Default() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".sm")
	return &Config{
		BindAddr:                  "127.0.0.1:8420",
		StateDir:                  base,
		LogDir:                    filepath.Join(base, "logs"),
		IdleThreshold:             300 * time.Second,
		MaxBatchSize:              20,
		SettleDelay:               300 * time.Millisecond,
		UrgentReadyTimeout:        3 * time.Second,
		UrgentPollInterval:        50 * time.Millisecond,
		WatchPollInterval:         2 * time.Second,
		SkipFenceWindow:           8 * time.Second,
		StopNotifySuppress:        10 * time.Second,
		DefaultRemindSoftSecs:     180,
		DefaultRemindHardSecs:     300,
		DefaultParentWakeSecs:     120,
		ContextWarningPercentage:  50,
		ContextCriticalPercentage: 65,
		ProviderCommands: map[string]string{
			"claude": "claude",
			"codex":  "codex",
		},
	}
}

// Load reads config from path, overlaying onto Default(). A missing file is
// not an error — Default() is returned unchanged, matching the teacher's
// LoadFrom behavior for a missing ~/.h2/config.yaml.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultPath returns ~/.sm/config.yaml.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".sm", "config.yaml")
}

// DBPath returns the sqlite database file path under StateDir.
func (c *Config) DBPath() string {
	return filepath.Join(c.StateDir, "sm.db")
}

// SnapshotPath returns the JSON snapshot path under StateDir (spec.md §6).
func (c *Config) SnapshotPath() string {
	return filepath.Join(c.StateDir, "sessions.json")
}

// EnsureDirs creates StateDir, LogDir and the activity log directory if
// missing.
func (c *Config) EnsureDirs() error {
	if err := os.MkdirAll(c.StateDir, 0o755); err != nil {
		return err
	}
	if err := os.MkdirAll(c.LogDir, 0o755); err != nil {
		return err
	}
	return os.MkdirAll(c.ActivityLogDir(), 0o755)
}

// ActivityLogDir returns the directory holding per-session hook/tool-use
// JSONL audit logs (spec.md §4.7), grounded on the teacher's per-agent
// eventstore directory under ~/.h2.
func (c *Config) ActivityLogDir() string {
	return filepath.Join(c.StateDir, "activity")
}

// ActivityLogPath returns the JSONL audit log path for a single session.
func (c *Config) ActivityLogPath(sessionID string) string {
	return filepath.Join(c.ActivityLogDir(), sessionID+".jsonl")
}
