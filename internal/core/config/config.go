// Package config handles configuration loading and validation for companion.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	// LogRoot is the assistant CLI's state directory. Conversation logs live
	// under <LogRoot>/projects/<encoded-path>/<log-id>.jsonl.
	LogRoot string `yaml:"log_root"`

	// SessionTag is the multiplexer session environment variable that marks
	// a session as opted in to tracking.
	SessionTag string `yaml:"session_tag"`

	TmuxPath string `yaml:"tmux_path"`

	Watcher WatcherConfig  `yaml:"watcher"`
	Tools   ToolVocabulary `yaml:"tools"`
}

// WatcherConfig holds timing knobs for the watch/debounce layer.
type WatcherConfig struct {
	// Debounce is how long a path must stay quiet after a filesystem
	// notification before it is re-parsed.
	Debounce time.Duration `yaml:"debounce"`

	// RefreshInterval is how often tagged multiplexer sessions are re-queried.
	RefreshInterval time.Duration `yaml:"refresh_interval"`

	// NewFileWindow bounds how old a previously unseen log may be and still
	// be picked up. Keeps startup from bulk-loading the historical archive.
	NewFileWindow time.Duration `yaml:"new_file_window"`

	// StartupGrace is the window after start during which the most recently
	// modified tagged session keeps being re-selected as active.
	StartupGrace time.Duration `yaml:"startup_grace"`

	// HistoryLimit caps the historical log chain returned per identity.
	HistoryLimit int `yaml:"history_limit"`
}

// ToolVocabulary describes the external CLI's tool names and phrasing.
// The producer's vocabulary evolves between releases, so this is shipped as
// configuration with defaults rather than compiled-in logic.
type ToolVocabulary struct {
	// Version identifies the vocabulary table, not the config schema.
	Version int `yaml:"version"`

	// QuestionTool is the dedicated interactive "ask user" tool.
	QuestionTool string `yaml:"question_tool"`

	// ApprovalTools are tools whose pending invocations block on a user
	// approval and should surface a synthesized yes/no question.
	ApprovalTools []string `yaml:"approval_tools"`

	// BackgroundTools are long-running background-task tools excluded from
	// approval synthesis even when listed in ApprovalTools.
	BackgroundTools []string `yaml:"background_tools"`

	// ActivityVerbs maps tool names to human-readable activity phrases.
	ActivityVerbs map[string]string `yaml:"activity_verbs"`
}

// RequiresApproval reports whether a pending invocation of the named tool
// should synthesize an approval question.
func (v ToolVocabulary) RequiresApproval(tool string) bool {
	for _, bg := range v.BackgroundTools {
		if tool == bg {
			return false
		}
	}
	for _, t := range v.ApprovalTools {
		if tool == t {
			return true
		}
	}
	return false
}

// Verb returns the activity phrase for a tool, or "" when unknown.
func (v ToolVocabulary) Verb(tool string) string {
	return v.ActivityVerbs[tool]
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()

	return Config{
		LogRoot:    filepath.Join(home, ".claude"),
		SessionTag: "COMPANION_SESSION",
		TmuxPath:   "tmux",
		Watcher: WatcherConfig{
			Debounce:        100 * time.Millisecond,
			RefreshInterval: 15 * time.Second,
			NewFileWindow:   5 * time.Minute,
			StartupGrace:    10 * time.Second,
			HistoryLimit:    10,
		},
		Tools: DefaultToolVocabulary(),
	}
}

// DefaultToolVocabulary returns the vocabulary table for the current
// assistant CLI release.
func DefaultToolVocabulary() ToolVocabulary {
	return ToolVocabulary{
		Version:       1,
		QuestionTool:  "AskUserQuestion",
		ApprovalTools: []string{"Bash", "Write", "Edit", "MultiEdit", "NotebookEdit", "Task", "WebFetch"},
		// Output pollers for long-running background work stay pending for
		// minutes; prompting "approve?" for them would mislead.
		BackgroundTools: []string{"BashOutput", "TaskOutput"},
		ActivityVerbs: map[string]string{
			"Bash":            "Running command",
			"Read":            "Reading file",
			"Write":           "Writing file",
			"Edit":            "Editing file",
			"MultiEdit":       "Editing files",
			"NotebookEdit":    "Editing notebook",
			"Grep":            "Searching code",
			"Glob":            "Finding files",
			"Task":            "Running sub-task",
			"WebFetch":        "Fetching web page",
			"WebSearch":       "Searching the web",
			"TodoWrite":       "Updating todo list",
			"TaskCreate":      "Creating task",
			"TaskUpdate":      "Updating task",
			"AskUserQuestion": "Waiting for your answer",
		},
	}
}

// Load reads configuration from the given path.
// If configPath is empty or doesn't exist, defaults are returned.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}

			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults fills zero values left by a partial config file.
func (c *Config) applyDefaults() {
	def := DefaultConfig()

	if c.LogRoot == "" {
		c.LogRoot = def.LogRoot
	}
	if c.SessionTag == "" {
		c.SessionTag = def.SessionTag
	}
	if c.TmuxPath == "" {
		c.TmuxPath = def.TmuxPath
	}
	if c.Watcher.Debounce <= 0 {
		c.Watcher.Debounce = def.Watcher.Debounce
	}
	if c.Watcher.RefreshInterval <= 0 {
		c.Watcher.RefreshInterval = def.Watcher.RefreshInterval
	}
	if c.Watcher.NewFileWindow <= 0 {
		c.Watcher.NewFileWindow = def.Watcher.NewFileWindow
	}
	if c.Watcher.StartupGrace <= 0 {
		c.Watcher.StartupGrace = def.Watcher.StartupGrace
	}
	if c.Watcher.HistoryLimit <= 0 {
		c.Watcher.HistoryLimit = def.Watcher.HistoryLimit
	}
	if c.Tools.QuestionTool == "" && len(c.Tools.ApprovalTools) == 0 {
		c.Tools = def.Tools
	} else if c.Tools.ActivityVerbs == nil {
		c.Tools.ActivityVerbs = def.Tools.ActivityVerbs
	}
}

// Validate checks the configuration for obvious misconfiguration.
func (c *Config) Validate() error {
	if c.LogRoot == "" {
		return fmt.Errorf("log_root must be set")
	}
	if c.SessionTag == "" {
		return fmt.Errorf("session_tag must be set")
	}
	return nil
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "companion", "config.yml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "companion", "config.yml")
}
