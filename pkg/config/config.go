// Package config provides configuration file support for goldgate.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jvs-project/goldgate/pkg/errclass"
	"github.com/jvs-project/goldgate/pkg/model"
	"github.com/jvs-project/goldgate/pkg/webhook"
)

const (
	// StateDir is the per-repository state directory.
	StateDir = ".goldgate"
	// FileName is the config file name inside StateDir.
	FileName = "config.yaml"
	// EnvPrefix prefixes environment overrides, e.g. GOLDGATE_SCANNER_TIMEOUT.
	EnvPrefix = "GOLDGATE"
)

// Config represents the goldgate configuration.
type Config struct {
	Paths     PathsConfig     `yaml:"paths" mapstructure:"paths"`
	Scanner   ScannerConfig   `yaml:"scanner" mapstructure:"scanner"`
	Promotion PromotionConfig `yaml:"promotion" mapstructure:"promotion"`
	Logging   LoggingConfig   `yaml:"logging" mapstructure:"logging"`
	Mirror    MirrorConfig    `yaml:"mirror" mapstructure:"mirror"`
	Webhooks  webhook.Config  `yaml:"webhooks" mapstructure:"webhooks"`
}

// PathsConfig locates the artifact roots and state files, relative to the repo root.
type PathsConfig struct {
	GeneratedRoot string `yaml:"generated_root" mapstructure:"generated_root"`
	GoldenRoot    string `yaml:"golden_root" mapstructure:"golden_root"`
	RulesFile     string `yaml:"rules_file" mapstructure:"rules_file"`
	LedgerFile    string `yaml:"ledger_file" mapstructure:"ledger_file"`
}

// ScannerConfig configures the external secret scanner.
type ScannerConfig struct {
	Binary  string        `yaml:"binary" mapstructure:"binary"`
	Args    []string      `yaml:"args" mapstructure:"args"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// PromotionConfig configures the promotion workflow.
type PromotionConfig struct {
	TestCommand     []string      `yaml:"test_command" mapstructure:"test_command"`
	TestTimeout     time.Duration `yaml:"test_timeout" mapstructure:"test_timeout"`
	LockMode        string        `yaml:"lock_mode" mapstructure:"lock_mode"`
	LockWaitTimeout time.Duration `yaml:"lock_wait_timeout" mapstructure:"lock_wait_timeout"`
	LeaseTTL        time.Duration `yaml:"lease_ttl" mapstructure:"lease_ttl"`
	Commit          bool          `yaml:"commit" mapstructure:"commit"`
}

// LoggingConfig configures logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json, console
}

// MirrorConfig configures the best-effort Kafka ledger mirror.
type MirrorConfig struct {
	Enabled bool     `yaml:"enabled" mapstructure:"enabled"`
	Brokers []string `yaml:"brokers" mapstructure:"brokers"`
	Topic   string   `yaml:"topic" mapstructure:"topic"`

	// DrainTimeout bounds how long a command waits on exit for queued entries.
	DrainTimeout time.Duration `yaml:"drain_timeout" mapstructure:"drain_timeout"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			GeneratedRoot: "tests/generated",
			GoldenRoot:    "tests/golden",
			RulesFile:     filepath.ToSlash(filepath.Join(StateDir, "rules.yaml")),
			LedgerFile:    filepath.ToSlash(filepath.Join(StateDir, "ledger.jsonl")),
		},
		Scanner: ScannerConfig{
			Binary: "gitleaks",
			Args: []string{
				"detect", "--no-git", "--no-banner",
				"--source", "{path}",
				"--report-format", "json",
				"--report-path", "/dev/stdout",
				"--exit-code", "1",
			},
			Timeout: 10 * time.Second,
		},
		Promotion: PromotionConfig{
			TestCommand:     []string{"pytest", "-q", "{path}"},
			TestTimeout:     5 * time.Minute,
			LockMode:        string(model.LockModeFail),
			LockWaitTimeout: 30 * time.Second,
			LeaseTTL:        10 * time.Minute,
			Commit:          false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Mirror: MirrorConfig{
			Topic:        "goldgate.ledger",
			DrainTimeout: 2 * time.Second,
		},
		Webhooks: *webhook.DefaultConfig(),
	}
}

// Path returns the config file location for repoRoot.
func Path(repoRoot string) string {
	return filepath.Join(repoRoot, StateDir, FileName)
}

// Load loads configuration from .goldgate/config.yaml with GOLDGATE_ environment
// overrides. A missing file yields the defaults.
func Load(repoRoot string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range defaultValues() {
		v.SetDefault(key, value)
	}

	cfgPath := Path(repoRoot)
	if _, err := os.Stat(cfgPath); err == nil {
		v.SetConfigFile(cfgPath)
		if err := v.MergeInConfig(); err != nil {
			return nil, errclass.ErrConfiguration.WithMessagef("parse config %s: %v", cfgPath, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat config: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errclass.ErrConfiguration.WithMessagef("decode config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes configuration to .goldgate/config.yaml.
func Save(repoRoot string, cfg *Config) error {
	cfgPath := Path(repoRoot)

	if err := os.MkdirAll(filepath.Dir(cfgPath), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(cfgPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// Validate checks values that cannot be caught by decoding alone.
func (c *Config) Validate() error {
	if c.Paths.GeneratedRoot == "" || c.Paths.GoldenRoot == "" {
		return errclass.ErrConfiguration.WithMessage("paths.generated_root and paths.golden_root are required")
	}
	if filepath.Clean(c.Paths.GeneratedRoot) == filepath.Clean(c.Paths.GoldenRoot) {
		return errclass.ErrConfiguration.WithMessage("generated and golden roots must differ")
	}
	if c.Paths.LedgerFile == "" {
		return errclass.ErrConfiguration.WithMessage("paths.ledger_file is required")
	}
	switch model.LockMode(c.Promotion.LockMode) {
	case model.LockModeFail, model.LockModeWait:
	default:
		return errclass.ErrConfiguration.WithMessagef("promotion.lock_mode must be fail or wait, got %q", c.Promotion.LockMode)
	}
	if c.Scanner.Timeout <= 0 {
		return errclass.ErrConfiguration.WithMessage("scanner.timeout must be positive")
	}
	if c.Promotion.LeaseTTL <= 0 {
		return errclass.ErrConfiguration.WithMessage("promotion.lease_ttl must be positive")
	}
	if c.Mirror.Enabled && (len(c.Mirror.Brokers) == 0 || c.Mirror.Topic == "") {
		return errclass.ErrConfiguration.WithMessage("mirror.brokers and mirror.topic are required when the mirror is enabled")
	}
	return nil
}

// Resolve returns p joined onto repoRoot unless p is already absolute.
func Resolve(repoRoot, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(repoRoot, filepath.FromSlash(p))
}

// LockPolicy converts the promotion section into a lock policy.
func (c *Config) LockPolicy() model.LockPolicy {
	p := model.DefaultLockPolicy()
	p.Mode = model.LockMode(c.Promotion.LockMode)
	p.LeaseTTL = c.Promotion.LeaseTTL
	if c.Promotion.LockWaitTimeout > 0 {
		p.WaitTimeout = c.Promotion.LockWaitTimeout
	}
	return p
}

// Get returns the value at a dotted key such as "scanner.timeout".
func (c *Config) Get(key string) (any, error) {
	flat := flatten(c)
	v, ok := flat[key]
	if !ok {
		return nil, errclass.ErrNotFound.WithMessagef("unknown config key: %s", key)
	}
	return v, nil
}

// Keys lists every dotted key in sorted order.
func (c *Config) Keys() []string {
	flat := flatten(c)
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func defaultValues() map[string]any {
	return flatten(Default())
}

// flatten maps a config onto dotted viper keys by round-tripping through yaml.
func flatten(c *Config) map[string]any {
	data, err := yaml.Marshal(c)
	if err != nil {
		return map[string]any{}
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return map[string]any{}
	}
	out := make(map[string]any)
	flattenInto(out, "", tree)
	return out
}

func flattenInto(out map[string]any, prefix string, tree map[string]any) {
	for k, v := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok {
			flattenInto(out, key, sub)
			continue
		}
		out[key] = v
	}
}
