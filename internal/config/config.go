package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/stackvisor/internal/env"
	"github.com/loykin/stackvisor/internal/logger"
	"github.com/loykin/stackvisor/internal/probe"
	"github.com/loykin/stackvisor/internal/process"
	"github.com/loykin/stackvisor/internal/step"
	"github.com/loykin/stackvisor/internal/supervisor"
	tlsutil "github.com/loykin/stackvisor/internal/tls"
)

// EnvPrefix is the prefix for environment overrides, e.g.
// STACKVISOR_GRACE_PERIOD=10s or STACKVISOR_PROBE_ENABLED=true.
const EnvPrefix = "STACKVISOR"

// PathVar names the config file when --config is not given.
const PathVar = EnvPrefix + "_CONFIG"

var ErrInvalidConfig = errors.New("invalid config")

// Config is the top-level file structure.
type Config struct {
	PollInterval    time.Duration  `mapstructure:"poll_interval"`
	GracePeriod     time.Duration  `mapstructure:"grace_period"`
	OutputTailBytes int            `mapstructure:"output_tail_bytes"`
	Env             []string       `mapstructure:"env"`       // KEY=VALUE for every child
	EnvFiles        []string       `mapstructure:"env_files"` // .env files applied before Env
	Log             logger.Config  `mapstructure:"log"`
	Processes       []process.Spec `mapstructure:"processes"`
	Steps           []step.Spec    `mapstructure:"steps"`
	Probe           ProbeConfig    `mapstructure:"probe"`
	Notify          NotifyConfig   `mapstructure:"notify"`
	Server          ServerConfig   `mapstructure:"server"`
	Metrics         MetricsConfig  `mapstructure:"metrics"`
	History         HistoryConfig  `mapstructure:"history"`
	Workflow        WorkflowConfig `mapstructure:"workflow"`
}

type ProbeConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Endpoint string        `mapstructure:"endpoint"`
	Attempts int           `mapstructure:"attempts"`
	Delay    time.Duration `mapstructure:"delay"`
	Timeout  time.Duration `mapstructure:"timeout"` // per attempt
	Task     string        `mapstructure:"task"`    // name reported to the dashboard
}

type NotifyConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ServerConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Listen   string         `mapstructure:"listen"`
	BasePath string         `mapstructure:"base_path"`
	TLS      tlsutil.Config `mapstructure:"tls"`
}

type MetricsConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	SampleResources bool `mapstructure:"sample_resources"`
}

type HistoryConfig struct {
	DSNs []string `mapstructure:"dsns"`
}

// WorkflowConfig toggles the optional workflow webserver and scheduler.
type WorkflowConfig struct {
	Enabled   bool           `mapstructure:"enabled"`
	Processes []process.Spec `mapstructure:"processes"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("poll_interval", supervisor.DefaultPollInterval)
	v.SetDefault("grace_period", supervisor.DefaultGracePeriod)
	v.SetDefault("output_tail_bytes", process.DefaultTailBytes)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.color", false)

	v.SetDefault("probe.enabled", false)
	v.SetDefault("probe.endpoint", probe.DefaultEndpoint)
	v.SetDefault("probe.attempts", probe.DefaultAttempts)
	v.SetDefault("probe.delay", probe.DefaultDelay)
	v.SetDefault("probe.timeout", probe.DefaultAttemptTimeout)
	v.SetDefault("probe.task", "test_api")

	v.SetDefault("notify.url", "")
	v.SetDefault("notify.timeout", 2*time.Second)

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.listen", "127.0.0.1:9090")
	v.SetDefault("server.base_path", "")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.sample_resources", true)

	v.SetDefault("history.dsns", []string{})
	v.SetDefault("workflow.enabled", false)
}

// Load reads the config file at path (TOML, YAML or JSON by extension). An
// empty path falls back to $STACKVISOR_CONFIG, then to built-in defaults.
// Environment variables with the STACKVISOR_ prefix override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv(PathVar)
	}
	if path != "" {
		v.SetConfigFile(filepath.Clean(path))
		v.SetConfigType(configType(path))
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if !v.IsSet("processes") {
		cfg.Processes = DefaultProcesses()
	}
	if !v.IsSet("steps") {
		cfg.Steps = DefaultSteps()
	}
	if !v.IsSet("workflow.processes") {
		cfg.Workflow.Processes = DefaultWorkflowProcesses()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	default:
		return "toml"
	}
}

// AllProcesses returns the processes to launch, in order, including the
// workflow pair when enabled.
func (c *Config) AllProcesses() []process.Spec {
	out := make([]process.Spec, 0, len(c.Processes)+len(c.Workflow.Processes))
	out = append(out, c.Processes...)
	if c.Workflow.Enabled {
		out = append(out, c.Workflow.Processes...)
	}
	return out
}

// Validate checks the loaded config and reports every problem it finds.
func (c *Config) Validate() error {
	var errs []error
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval))
	}
	if c.GracePeriod <= 0 {
		errs = append(errs, fmt.Errorf("grace_period must be positive, got %s", c.GracePeriod))
	}
	if c.OutputTailBytes < 0 {
		errs = append(errs, fmt.Errorf("output_tail_bytes cannot be negative"))
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	seen := make(map[string]bool)
	for _, p := range c.AllProcesses() {
		if err := p.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("duplicate process name %q", p.Name))
		}
		seen[p.Name] = true
	}
	for _, s := range c.Steps {
		if err := s.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, kv := range c.Env {
		if strings.IndexByte(kv, '=') <= 0 {
			errs = append(errs, fmt.Errorf("env entry %q must be KEY=VALUE", kv))
		}
	}
	if c.Probe.Attempts < 1 {
		errs = append(errs, fmt.Errorf("probe.attempts must be >= 1, got %d", c.Probe.Attempts))
	}
	if c.Probe.Delay < 0 {
		errs = append(errs, fmt.Errorf("probe.delay cannot be negative"))
	}
	if c.Server.Enabled && c.Server.Listen == "" {
		errs = append(errs, fmt.Errorf("server.listen is required when the server is enabled"))
	}
	if t := c.Server.TLS; t.Enabled && t.Dir == "" && (t.CertFile == "" || t.KeyFile == "") {
		errs = append(errs, fmt.Errorf("server.tls needs cert_file and key_file, or dir"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Environment builds the child environment: the supervisor's own environment,
// then env_files in order, then env. BIND_HOST is derived from
// RUNNING_IN_DOCKER unless one of those sets it explicitly.
func (c *Config) Environment(getenv func(string) string) (*env.Env, error) {
	e := env.New()
	e.FromOS()
	for _, p := range c.EnvFiles {
		pairs, err := LoadEnvFile(p)
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", p, err)
		}
		for _, kv := range pairs {
			k, v, _ := strings.Cut(kv, "=")
			e.Set(k, v)
		}
	}
	for _, kv := range c.Env {
		k, v, _ := strings.Cut(kv, "=")
		e.Set(k, v)
	}
	if _, ok := e.Var[env.BindHostVar]; !ok {
		e.Set(env.BindHostVar, env.BindHost(getenv))
	}
	return e, nil
}

// LoadEnvFile parses a simple .env file and returns a slice of "KEY=VALUE" entries.
func LoadEnvFile(path string) ([]string, error) {
	m, order, err := loadEnvFile(path)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(m))
	for _, k := range order {
		out = append(out, k+"="+m[k])
	}
	return out, nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, []string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, nil, err
	}
	m := make(map[string]string)
	var order []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i > 0 {
			k := strings.TrimSpace(line[:i])
			if _, dup := m[k]; !dup {
				order = append(order, k)
			}
			m[k] = strings.TrimSpace(line[i+1:])
		}
	}
	return m, order, nil
}
