package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/park285/cheese-analyzer/internal/chess"
)

// ConfigPathEnv names the optional YAML file read before env overrides.
const ConfigPathEnv = "ANALYZER_CONFIG"

type EngineConfig struct {
	Path    string `yaml:"path"`
	Profile string `yaml:"profile"`
	Threads int    `yaml:"threads"`
	HashMB  int    `yaml:"hash_mb"`
	MultiPV int    `yaml:"multipv"`
}

type AnalysisConfig struct {
	// BudgetsSec are per-step windows in seconds, e.g. [0.05, 0.2, 0.6].
	BudgetsSec       []float64 `yaml:"budgets"`
	ProbeMS          int       `yaml:"probe_ms"`
	PollMS           int       `yaml:"poll_ms"`
	StartRetryMS     int       `yaml:"start_retry_ms"`
	FaultBackoffMS   int       `yaml:"fault_backoff_ms"`
	UnavailableAfter int       `yaml:"unavailable_after"`
}

type BookConfig struct {
	PolyglotPath string `yaml:"polyglot_path"`
	MaxPly       int    `yaml:"max_ply"`
	MinWeight    int    `yaml:"min_weight"`
	Disabled     bool   `yaml:"disabled"`
}

type WebhookConfig struct {
	URL       string `yaml:"url"`
	TimeoutMS int    `yaml:"timeout_ms"`
	Retries   int    `yaml:"retries"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

type AppConfig struct {
	ListenAddr  string `yaml:"listen_addr"`
	RedisURL    string `yaml:"redis_url"`
	DatabaseURL string `yaml:"database_url"`
	CacheTTLSec int    `yaml:"cache_ttl_sec"`
	QueueSize   int    `yaml:"persist_queue"`

	Engine   EngineConfig   `yaml:"engine"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Book     BookConfig     `yaml:"book"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Log      LogConfig      `yaml:"log"`
}

// Defaults returns the built-in configuration, seeded from the standard
// analysis profile.
func Defaults() *AppConfig {
	p, _ := chess.GetProfile("standard")
	budgets := make([]float64, 0, len(p.Budgets))
	for _, b := range p.Budgets {
		budgets = append(budgets, b.Seconds())
	}
	return &AppConfig{
		ListenAddr:  ":8080",
		CacheTTLSec: 24 * 3600,
		QueueSize:   256,
		Engine: EngineConfig{
			Profile: p.Name,
			Threads: p.Threads,
			HashMB:  p.HashMB,
			MultiPV: p.MultiPV,
		},
		Analysis: AnalysisConfig{
			BudgetsSec:       budgets,
			ProbeMS:          int(p.ProbeBudget / time.Millisecond),
			PollMS:           50,
			StartRetryMS:     200,
			FaultBackoffMS:   50,
			UnavailableAfter: 3,
		},
		Webhook: WebhookConfig{TimeoutMS: 5000, Retries: 3},
		Log:     LogConfig{Level: "info", Format: "legacy", Console: true},
	}
}

// Load layers defaults, the optional YAML file, and env overrides, then
// validates the result.
func Load() (*AppConfig, error) {
	return LoadWith(nil)
}

// LoadWith is Load with a final override step applied after env and before
// validation. The CLI uses it for flags.
func LoadWith(override func(*AppConfig) error) (*AppConfig, error) {
	cfg := Defaults()
	if path := strings.TrimSpace(os.Getenv(ConfigPathEnv)); path != "" {
		if err := cfg.MergeFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if override != nil {
		if err := override(cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MergeFile overlays a YAML file. Keys absent from the file keep their
// current values. A profile named in the file replaces engine options and
// budgets the file does not set itself.
func (c *AppConfig) MergeFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %q: %w", path, err)
	}
	var probe struct {
		Engine struct {
			Profile string `yaml:"profile"`
		} `yaml:"engine"`
	}
	if err := yaml.Unmarshal(raw, &probe); err != nil {
		return fmt.Errorf("parse config %q: %w", path, err)
	}
	if name := strings.TrimSpace(probe.Engine.Profile); name != "" {
		if err := c.ApplyProfile(name); err != nil {
			return err
		}
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config %q: %w", path, err)
	}
	return nil
}

// ApplyProfile copies a named profile's engine options and budgets.
func (c *AppConfig) ApplyProfile(name string) error {
	p, err := chess.GetProfile(name)
	if err != nil {
		return err
	}
	c.Engine.Profile = p.Name
	c.Engine.Threads = p.Threads
	c.Engine.HashMB = p.HashMB
	c.Engine.MultiPV = p.MultiPV
	c.Analysis.BudgetsSec = nil
	for _, b := range p.Budgets {
		c.Analysis.BudgetsSec = append(c.Analysis.BudgetsSec, b.Seconds())
	}
	c.Analysis.ProbeMS = int(p.ProbeBudget / time.Millisecond)
	return nil
}

func (c *AppConfig) applyEnv() error {
	if v := env("ANALYSIS_PROFILE"); v != "" {
		if err := c.ApplyProfile(v); err != nil {
			return err
		}
	}
	setString(&c.Engine.Path, "STOCKFISH_PATH")
	setInt(&c.Engine.Threads, "ENGINE_THREADS")
	setInt(&c.Engine.HashMB, "ENGINE_HASH_MB")
	setInt(&c.Engine.MultiPV, "ENGINE_MULTIPV")

	if v := env("ANALYSIS_BUDGETS"); v != "" {
		budgets, err := ParseBudgets(v)
		if err != nil {
			return fmt.Errorf("ANALYSIS_BUDGETS: %w", err)
		}
		c.Analysis.BudgetsSec = budgets
	}
	setInt(&c.Analysis.ProbeMS, "ANALYSIS_PROBE_MS")
	setInt(&c.Analysis.PollMS, "ANALYSIS_POLL_MS")

	setString(&c.ListenAddr, "LISTEN_ADDR")
	setString(&c.RedisURL, "REDIS_URL")
	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.Webhook.URL, "WEBHOOK_URL")
	setInt(&c.Webhook.TimeoutMS, "WEBHOOK_TIMEOUT_MS")
	setInt(&c.CacheTTLSec, "CACHE_TTL_SEC")

	setString(&c.Book.PolyglotPath, "CHESS_POLYGLOT_BOOK_PATH")
	setInt(&c.Book.MaxPly, "CHESS_OPENING_MAX_PLY")
	setInt(&c.Book.MinWeight, "CHESS_OPENING_MIN_WEIGHT")
	if v := env("BOOK_DISABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Book.Disabled = b
		}
	}

	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")
	setString(&c.Log.File, "LOG_FILE")
	return nil
}

func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.Engine.Path) == "" {
		return errors.New("STOCKFISH_PATH is required")
	}
	switch {
	case c.Engine.Threads <= 0:
		return fmt.Errorf("engine threads must be > 0: %d", c.Engine.Threads)
	case c.Engine.HashMB <= 0:
		return fmt.Errorf("engine hash must be > 0: %d", c.Engine.HashMB)
	case c.Engine.MultiPV <= 0:
		return fmt.Errorf("engine multipv must be > 0: %d", c.Engine.MultiPV)
	case len(c.Analysis.BudgetsSec) == 0:
		return errors.New("at least one analysis budget required")
	case c.Analysis.ProbeMS < 0:
		return fmt.Errorf("probe budget must be >= 0: %d", c.Analysis.ProbeMS)
	}
	for i, b := range c.Analysis.BudgetsSec {
		if b <= 0 {
			return fmt.Errorf("budget %d must be > 0: %v", i, b)
		}
	}
	return nil
}

// Budgets converts the configured seconds to durations.
func (c *AppConfig) Budgets() []time.Duration {
	out := make([]time.Duration, 0, len(c.Analysis.BudgetsSec))
	for _, s := range c.Analysis.BudgetsSec {
		out = append(out, time.Duration(s*float64(time.Second)))
	}
	return out
}

func (c *AppConfig) ProbeBudget() time.Duration {
	return time.Duration(c.Analysis.ProbeMS) * time.Millisecond
}

func (c *AppConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSec) * time.Second
}

// ParseBudgets reads a comma separated list of seconds.
func ParseBudgets(raw string) ([]float64, error) {
	var out []float64
	for _, part := range strings.Split(raw, ",") {
		s := strings.TrimSpace(part)
		if s == "" {
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid budget %q: %w", s, err)
		}
		if v <= 0 {
			return nil, fmt.Errorf("budget must be > 0: %q", s)
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, errors.New("no budgets given")
	}
	return out, nil
}

func env(key string) string { return strings.TrimSpace(os.Getenv(key)) }

func setString(dst *string, key string) {
	if v := env(key); v != "" {
		*dst = v
	}
}

// 양수일 때만 덮어쓴다.
func setInt(dst *int, key string) {
	if v := env(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}
