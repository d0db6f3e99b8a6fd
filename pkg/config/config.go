package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Mode controls how much of a file the remediation engine may alter.
type Mode string

const (
	// ModeStrict restricts edits to violation spans only.
	ModeStrict Mode = "STRICT"
	// ModeImprove allows cleanup of code adjacent to violation spans.
	ModeImprove Mode = "IMPROVE"
	// ModeAdvise records suggested diffs without applying anything.
	ModeAdvise Mode = "ADVISE"
)

// ParseMode parses a user-supplied fixing mode, case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "STRICT", "S":
		return ModeStrict, nil
	case "IMPROVE", "I":
		return ModeImprove, nil
	case "ADVISE", "A":
		return ModeAdvise, nil
	}
	return "", fmt.Errorf("unknown fixing mode %q (want strict, improve or advise)", s)
}

// Config holds the run configuration. Persisted fields live in
// .klocfix/config.json; credentials come from the environment only.
type Config struct {
	Model             string  `json:"model"`
	APIBaseURL        string  `json:"api_base_url"`
	KnowledgeBaseDir  string  `json:"knowledge_base_dir"`
	OutputDir         string  `json:"output_dir"`
	MaxWorkers        int     `json:"max_workers"`
	EngineConcurrency int64   `json:"engine_concurrency"`
	EngineTimeoutSecs int     `json:"engine_timeout_secs"`
	MinConfidence     float64 `json:"min_confidence"`
	GroupDistance     int     `json:"group_distance"`
	ContextMargin     int     `json:"context_margin"`
	ClassifierWindow  int     `json:"classifier_window"`

	// Internal use, not saved to config.
	Mode       Mode   `json:"-"`
	APIKey     string `json:"-"`
	SkipPrompt bool   `json:"-"`
}

const configDir = ".klocfix"
const configFile = "config.json"

// DefaultConfig returns a config populated with defaults.
func DefaultConfig() *Config {
	return &Config{
		Model:             "gpt-4.1-mini",
		APIBaseURL:        "https://api.openai.com/v1",
		KnowledgeBaseDir:  "knowledge_base",
		OutputDir:         "outputs",
		MaxWorkers:        4,
		EngineConcurrency: 2,
		EngineTimeoutSecs: 120,
		MinConfidence:     0.5,
		GroupDistance:     10,
		ContextMargin:     5,
		ClassifierWindow:  8,
		Mode:              ModeStrict,
	}
}

// LoadOrInitConfig loads .klocfix/config.json, creating it with defaults when
// absent. Environment variables always override credentials and endpoint:
// KLOCFIX_API_KEY (or API_KEY), KLOCFIX_API_BASE_URL, KLOCFIX_MODEL.
func LoadOrInitConfig(skipPrompt bool) (*Config, error) {
	cfg := DefaultConfig()
	path := filepath.Join(configDir, configFile)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if uerr := json.Unmarshal(data, cfg); uerr != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, uerr)
		}
	case os.IsNotExist(err):
		if werr := cfg.save(path); werr != nil {
			// A read-only working directory is not fatal; run on defaults.
			fmt.Fprintf(os.Stderr, "warning: could not write default config: %v\n", werr)
		}
	default:
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	cfg.SkipPrompt = skipPrompt
	cfg.applyEnv()
	cfg.normalize()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("KLOCFIX_API_KEY"); v != "" {
		c.APIKey = v
	} else if v := os.Getenv("API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("KLOCFIX_API_BASE_URL"); v != "" {
		c.APIBaseURL = v
	}
	if v := os.Getenv("KLOCFIX_MODEL"); v != "" {
		c.Model = v
	}
}

func (c *Config) normalize() {
	if c.MaxWorkers < 1 {
		c.MaxWorkers = 1
	}
	if c.EngineConcurrency < 1 {
		c.EngineConcurrency = 1
	}
	if c.EngineTimeoutSecs < 1 {
		c.EngineTimeoutSecs = 120
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		c.MinConfidence = 0.5
	}
	if c.GroupDistance < 0 {
		c.GroupDistance = 10
	}
	if c.ContextMargin < 0 {
		c.ContextMargin = 5
	}
	if c.ClassifierWindow < 1 {
		c.ClassifierWindow = 8
	}
	if c.Mode == "" {
		c.Mode = ModeStrict
	}
}

func (c *Config) save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
