// Package config loads service configuration from an optional YAML file with
// environment overrides. Decode is strict: unknown keys are rejected so typos
// fail at startup instead of silently running with defaults.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Role selects which fields Validate treats as required.
type Role string

const (
	RoleServe   Role = "serve"
	RoleRunner  Role = "runner"
	RoleMigrate Role = "migrate"
)

// Rate limiter backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type RunnerConfig struct {
	// Addr is the listen address of the runner service.
	Addr string `yaml:"addr"`
	// URL is the base URL the control plane uses to reach the runner.
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`

	BuildTimeoutS int    `yaml:"build_timeout_s"`
	MemoryLimit   string `yaml:"memory_limit"`
	CPULimit      string `yaml:"cpu_limit"`
	Image         string `yaml:"image"`
}

type RateLimitConfig struct {
	Backend       string `yaml:"backend"`
	RedisURL      string `yaml:"redis_url"`
	PromptMax     int    `yaml:"prompt_max"`
	PromptWindowS int    `yaml:"prompt_window_s"`
}

type Config struct {
	Addr         string `yaml:"addr"`
	LogLevel     string `yaml:"log_level"`
	DatabaseURL  string `yaml:"database_url"`
	JWTSecret    string `yaml:"jwt_secret"`
	WebOrigin    string `yaml:"web_origin"`
	ProjectsDir  string `yaml:"projects_dir"`
	TemplatesDir string `yaml:"templates_dir"`

	Runner    RunnerConfig    `yaml:"runner"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// Load reads path (when non-empty), applies environment overrides, then
// defaults. Callers validate with the role they are about to run.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := decodeYAMLStrict(b, &cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}
	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	return &cfg, nil
}

func decodeYAMLStrict(b []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if err == io.EOF {
			return nil // empty file is a valid config
		}
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("yaml: multiple documents are not allowed")
		}
		return err
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	setIfEnv(&cfg.Addr, "SITESMITH_ADDR")
	setIfEnv(&cfg.LogLevel, "LOG_LEVEL")
	setIfEnv(&cfg.DatabaseURL, "DATABASE_URL")
	setIfEnv(&cfg.JWTSecret, "JWT_SECRET")
	setIfEnv(&cfg.WebOrigin, "WEB_ORIGIN")
	setIfEnv(&cfg.ProjectsDir, "PROJECTS_DIR")
	setIfEnv(&cfg.TemplatesDir, "TEMPLATES_DIR")
	setIfEnv(&cfg.Runner.Addr, "RUNNER_ADDR")
	setIfEnv(&cfg.Runner.URL, "RUNNER_URL")
	setIfEnv(&cfg.Runner.Secret, "RUNNER_SECRET")
	setIfEnv(&cfg.RateLimit.RedisURL, "REDIS_URL")
	if parseBool(os.Getenv("USE_POSTGRES_RATE_LIMIT")) {
		cfg.RateLimit.Backend = BackendPostgres
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Addr == "" {
		cfg.Addr = ":8000"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.WebOrigin == "" {
		cfg.WebOrigin = "http://localhost:3000"
	}
	if cfg.ProjectsDir == "" {
		cfg.ProjectsDir = "./projects"
	}
	if cfg.TemplatesDir == "" {
		cfg.TemplatesDir = "./templates"
	}
	if cfg.Runner.Addr == "" {
		cfg.Runner.Addr = ":8081"
	}
	if cfg.Runner.URL == "" {
		cfg.Runner.URL = "http://localhost:8081"
	}
	if cfg.Runner.BuildTimeoutS == 0 {
		cfg.Runner.BuildTimeoutS = 300
	}
	if cfg.Runner.MemoryLimit == "" {
		cfg.Runner.MemoryLimit = "1g"
	}
	if cfg.Runner.CPULimit == "" {
		cfg.Runner.CPULimit = "1.0"
	}
	if cfg.Runner.Image == "" {
		cfg.Runner.Image = "node:18-alpine"
	}
	if cfg.RateLimit.Backend == "" {
		cfg.RateLimit.Backend = BackendMemory
	}
	if cfg.RateLimit.PromptMax == 0 {
		cfg.RateLimit.PromptMax = 10
	}
	if cfg.RateLimit.PromptWindowS == 0 {
		cfg.RateLimit.PromptWindowS = 60
	}
}

// Validate checks that everything the given role needs is present.
func (c *Config) Validate(role Role) error {
	switch c.RateLimit.Backend {
	case BackendMemory, BackendPostgres, BackendRedis:
	default:
		return fmt.Errorf("rate_limit.backend must be one of memory, postgres, redis; got %q", c.RateLimit.Backend)
	}
	if c.RateLimit.Backend == BackendRedis && strings.TrimSpace(c.RateLimit.RedisURL) == "" {
		return fmt.Errorf("rate_limit.backend redis requires REDIS_URL")
	}
	switch role {
	case RoleServe:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}
		if strings.TrimSpace(c.JWTSecret) == "" {
			return fmt.Errorf("JWT_SECRET is required")
		}
		if strings.TrimSpace(c.Runner.Secret) == "" {
			return fmt.Errorf("RUNNER_SECRET is required")
		}
	case RoleRunner:
		if strings.TrimSpace(c.Runner.Secret) == "" {
			return fmt.Errorf("RUNNER_SECRET is required")
		}
	case RoleMigrate:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}
	default:
		return fmt.Errorf("unknown role %q", role)
	}
	return nil
}

func setIfEnv(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func parseBool(s string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(s))
	return err == nil && v
}
