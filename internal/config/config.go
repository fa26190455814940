package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr      string `yaml:"addr"`
	URLPrefix string `yaml:"url_prefix"`
	Env       string `yaml:"env"`
	LogLevel  string `yaml:"log_level"`
	Title     string `yaml:"title"`

	// HostRoot is the platform origin, e.g. https://ci.kbase.us
	HostRoot      string        `yaml:"host_root"`
	ServiceRoutes ServiceRoutes `yaml:"service_routes"`
	ViewRoutes    ViewRoutes    `yaml:"view_routes"`

	MeiliURL       string `yaml:"meili_url"`
	MeiliMasterKey string `yaml:"meili_master_key"`
	DatabaseURL    string `yaml:"database_url"`
	MigrationsDir  string `yaml:"migrations_dir"`
	RedisURL       string `yaml:"redis_url"`

	StaticDir     string        `yaml:"static_dir"`
	SessionSecret string        `yaml:"session_secret"`
	SessionTTL    time.Duration `yaml:"session_ttl"`

	MaxSessions      int           `yaml:"max_sessions"`
	MaxCachedPages   int           `yaml:"max_cached_pages"`
	IdentityCacheTTL time.Duration `yaml:"identity_cache_ttl"`
	UpstreamTimeout  time.Duration `yaml:"upstream_timeout"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
}

// ServiceRoutes are the platform service endpoints the navigator talks to.
type ServiceRoutes struct {
	Auth        string `yaml:"auth"`
	Workspace   string `yaml:"workspace"`
	UserProfile string `yaml:"user_profile"`
}

type ViewRoutes struct {
	Narrative string `yaml:"narrative"`
}

// Load builds the configuration from defaults, an optional YAML file and
// environment overrides, in that order.
func Load(path string) (Config, error) {
	cfg := defaults()

	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		data = expandEnvVars(data)
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		Addr:             ":5000",
		Env:              "local",
		Title:            "Narratives",
		HostRoot:         "https://ci.kbase.us",
		MeiliURL:         "http://localhost:7700",
		MigrationsDir:    "./db/migrations",
		StaticDir:        "./static",
		SessionSecret:    "navigator-dev-secret",
		SessionTTL:       12 * time.Hour,
		MaxSessions:      1024,
		MaxCachedPages:   64,
		IdentityCacheTTL: 5 * time.Minute,
		UpstreamTimeout:  15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

func applyEnv(cfg *Config) {
	cfg.Addr = getenv("NAVIGATOR_ADDR", cfg.Addr)
	cfg.URLPrefix = getenv("URL_PREFIX", cfg.URLPrefix)
	cfg.Env = getenv("ENV", cfg.Env)
	cfg.LogLevel = getenv("LOG_LEVEL", cfg.LogLevel)
	cfg.HostRoot = getenv("KBASE_ROOT", cfg.HostRoot)
	cfg.ServiceRoutes.Auth = getenv("KBASE_AUTH_URL", cfg.ServiceRoutes.Auth)
	cfg.ServiceRoutes.Workspace = getenv("KBASE_WORKSPACE_URL", cfg.ServiceRoutes.Workspace)
	cfg.ServiceRoutes.UserProfile = getenv("KBASE_USER_PROFILE_URL", cfg.ServiceRoutes.UserProfile)
	cfg.ViewRoutes.Narrative = getenv("KBASE_NARRATIVE_URL", cfg.ViewRoutes.Narrative)
	cfg.MeiliURL = getenv("MEILI_URL", cfg.MeiliURL)
	cfg.MeiliMasterKey = getenv("MEILI_MASTER_KEY", cfg.MeiliMasterKey)
	cfg.DatabaseURL = getenv("DATABASE_URL", cfg.DatabaseURL)
	cfg.MigrationsDir = getenv("NAVIGATOR_MIGRATIONS_DIR", cfg.MigrationsDir)
	cfg.RedisURL = getenv("REDIS_URL", cfg.RedisURL)
	cfg.StaticDir = getenv("NAVIGATOR_STATIC_DIR", cfg.StaticDir)
	cfg.SessionSecret = getenv("NAVIGATOR_SESSION_SECRET", cfg.SessionSecret)
	cfg.SessionTTL = time.Duration(getenvInt("NAVIGATOR_SESSION_TTL_SECONDS", int(cfg.SessionTTL/time.Second))) * time.Second
	cfg.MaxSessions = getenvInt("NAVIGATOR_MAX_SESSIONS", cfg.MaxSessions)
	cfg.MaxCachedPages = getenvInt("NAVIGATOR_MAX_CACHED_PAGES", cfg.MaxCachedPages)
}

// ApplyDefaults derives service routes from the host root when they are not
// set explicitly.
func (c *Config) ApplyDefaults() {
	c.HostRoot = strings.TrimRight(c.HostRoot, "/")
	c.URLPrefix = normalizePrefix(c.URLPrefix)
	if c.ServiceRoutes.Auth == "" {
		c.ServiceRoutes.Auth = c.HostRoot + "/services/auth"
	}
	if c.ServiceRoutes.Workspace == "" {
		c.ServiceRoutes.Workspace = c.HostRoot + "/services/ws"
	}
	if c.ServiceRoutes.UserProfile == "" {
		c.ServiceRoutes.UserProfile = c.HostRoot + "/services/user_profile/rpc"
	}
	if c.ViewRoutes.Narrative == "" {
		c.ViewRoutes.Narrative = c.HostRoot + "/narrative"
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = 1024
	}
	if c.MaxCachedPages <= 0 {
		c.MaxCachedPages = 64
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = 12 * time.Hour
	}
	if c.IdentityCacheTTL <= 0 {
		c.IdentityCacheTTL = 5 * time.Minute
	}
	if c.UpstreamTimeout <= 0 {
		c.UpstreamTimeout = 15 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.Title == "" {
		c.Title = "Narratives"
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("addr is required")
	}
	if strings.TrimSpace(c.MeiliURL) == "" && strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("at least one search backend (meili_url or database_url) is required")
	}
	if !strings.HasPrefix(c.HostRoot, "http://") && !strings.HasPrefix(c.HostRoot, "https://") {
		return fmt.Errorf("host_root must be an absolute http(s) URL, got %q", c.HostRoot)
	}
	if len(c.SessionSecret) < 8 {
		return fmt.Errorf("session_secret must be at least 8 characters")
	}
	return nil
}

// normalizePrefix returns a prefix with a leading slash and no trailing slash,
// or the empty string.
func normalizePrefix(prefix string) string {
	trimmed := strings.Trim(strings.TrimSpace(prefix), "/")
	if trimmed == "" {
		return ""
	}
	return "/" + trimmed
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment values.
func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		name, fallback, hasDefault := strings.Cut(expr, ":-")
		value := os.Getenv(name)
		if value == "" && hasDefault {
			value = fallback
		}
		return []byte(value)
	})
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
