package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

type Config struct {
	Env      string `mapstructure:"ODK_ENV"`
	LogLevel string `mapstructure:"ODK_LOG_LEVEL"`
	HTTPAddr string `mapstructure:"ODK_HTTP_ADDR"`

	Workspace WorkspaceConfig `mapstructure:",squash"`
	Schedule  ScheduleConfig  `mapstructure:",squash"`
	Cache     CacheConfig     `mapstructure:",squash"`
	Audit     AuditConfig     `mapstructure:",squash"`
	Posting   PostingConfig   `mapstructure:",squash"`
	Security  SecurityConfig  `mapstructure:",squash"`
}

type WorkspaceConfig struct {
	Root          string   `mapstructure:"ODK_WORKSPACE_ROOT"`
	OutreachBase  string   `mapstructure:"ODK_OUTREACH_BASE"` // relative to Root unless absolute
	Platforms     []string `mapstructure:"ODK_PLATFORMS"`
	PlatformsFile string   `mapstructure:"ODK_PLATFORMS_FILE"`
	AssetBases    []string `mapstructure:"ODK_ASSET_BASES"`
	WatchEnabled  bool     `mapstructure:"ODK_WATCH_ENABLED"`
}

type ScheduleConfig struct {
	Timezone string `mapstructure:"ODK_TIMEZONE"`
}

type CacheConfig struct {
	RedisURL     string        `mapstructure:"ODK_REDIS_URL"`
	KVBackend    string        `mapstructure:"ODK_KV_BACKEND"` // "memory" or "redis"
	ListCacheTTL time.Duration `mapstructure:"ODK_LIST_CACHE_TTL"`
}

type AuditConfig struct {
	Backend string `mapstructure:"ODK_AUDIT_BACKEND"` // "memory", "sqlite", "postgres"
	DSN     string `mapstructure:"ODK_AUDIT_DSN"`
}

type PostingConfig struct {
	Timeout time.Duration `mapstructure:"ODK_POST_TIMEOUT"`
	RPM     int           `mapstructure:"ODK_POST_RPM"`
}

type SecurityConfig struct {
	RateLimitRPM       int      `mapstructure:"ODK_RATE_LIMIT_RPM"`
	CORSAllowedOrigins []string `mapstructure:"ODK_CORS_ALLOWED_ORIGINS"`
}

var listKeys = []string{
	"ODK_PLATFORMS",
	"ODK_ASSET_BASES",
	"ODK_CORS_ALLOWED_ORIGINS",
}

func loadDotEnvFiles() {
	candidates := []string{
		".env",
		filepath.Join("..", ".env"),
		filepath.Join("..", "..", ".env"),
	}

	seen := make(map[string]struct{})
	for _, path := range candidates {
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}

		if _, err := os.Stat(path); err == nil {
			_ = gotenv.Load(path) // already-set env vars win
		}
	}
}

func setDefaults(v *viper.Viper) {
	home, _ := os.UserHomeDir()

	v.SetDefault("ODK_ENV", "dev")
	v.SetDefault("ODK_LOG_LEVEL", "")
	v.SetDefault("ODK_HTTP_ADDR", ":8080")
	v.SetDefault("ODK_WORKSPACE_ROOT", filepath.Join(home, "clawd"))
	v.SetDefault("ODK_OUTREACH_BASE", "outreach")
	v.SetDefault("ODK_PLATFORMS", "reddit,x,instagram,tiktok")
	v.SetDefault("ODK_PLATFORMS_FILE", "")
	v.SetDefault("ODK_ASSET_BASES", "")
	v.SetDefault("ODK_WATCH_ENABLED", true)
	v.SetDefault("ODK_TIMEZONE", "America/New_York")
	v.SetDefault("ODK_REDIS_URL", "")
	v.SetDefault("ODK_KV_BACKEND", "memory")
	v.SetDefault("ODK_LIST_CACHE_TTL", "5s")
	v.SetDefault("ODK_AUDIT_BACKEND", "memory")
	v.SetDefault("ODK_AUDIT_DSN", "")
	v.SetDefault("ODK_POST_TIMEOUT", "30s")
	v.SetDefault("ODK_POST_RPM", 6)
	v.SetDefault("ODK_RATE_LIMIT_RPM", 120)
	v.SetDefault("ODK_CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
}

func Load() (*Config, error) {
	loadDotEnvFiles()

	v := viper.New()
	v.SetConfigType("env")
	v.AutomaticEnv()
	setDefaults(v)

	for _, key := range listKeys {
		v.Set(key, splitList(v.GetString(key)))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.applyWorkspaceDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// applyWorkspaceDefaults resolves relative paths against the workspace root and
// fills in the platform manifest and asset base defaults.
func (c *Config) applyWorkspaceDefaults() {
	ws := &c.Workspace
	ws.Root = filepath.Clean(ws.Root)

	if !filepath.IsAbs(ws.OutreachBase) {
		ws.OutreachBase = filepath.Join(ws.Root, ws.OutreachBase)
	}
	if ws.PlatformsFile == "" {
		ws.PlatformsFile = filepath.Join(ws.OutreachBase, "platforms.yaml")
	}
	if len(ws.AssetBases) == 0 {
		ws.AssetBases = []string{ws.OutreachBase, filepath.Join(ws.Root, "assets")}
	}
	for i, base := range ws.AssetBases {
		if !filepath.IsAbs(base) {
			ws.AssetBases[i] = filepath.Join(ws.Root, base)
		}
	}
	for i, p := range ws.Platforms {
		ws.Platforms[i] = strings.ToLower(p)
	}

	c.Audit.Backend = strings.ToLower(c.Audit.Backend)
	if c.Audit.Backend == "sqlite" && c.Audit.DSN == "" {
		c.Audit.DSN = filepath.Join(ws.OutreachBase, ".audit.db")
	}
}

func (c *Config) validate() error {
	if c.Workspace.Root == "" || c.Workspace.Root == "." {
		return fmt.Errorf("ODK_WORKSPACE_ROOT is required")
	}
	if len(c.Workspace.Platforms) == 0 {
		return fmt.Errorf("ODK_PLATFORMS must list at least one platform")
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		return fmt.Errorf("invalid ODK_TIMEZONE %q: %w", c.Schedule.Timezone, err)
	}
	switch c.Cache.KVBackend {
	case "memory":
	case "redis":
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("ODK_REDIS_URL is required when ODK_KV_BACKEND=redis")
		}
	default:
		return fmt.Errorf("invalid ODK_KV_BACKEND %q (must be memory or redis)", c.Cache.KVBackend)
	}
	switch c.Audit.Backend {
	case "memory", "sqlite":
	case "postgres":
		if c.Audit.DSN == "" {
			return fmt.Errorf("ODK_AUDIT_DSN is required when ODK_AUDIT_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("invalid ODK_AUDIT_BACKEND %q (must be memory, sqlite, or postgres)", c.Audit.Backend)
	}
	if c.Posting.Timeout <= 0 {
		return fmt.Errorf("ODK_POST_TIMEOUT must be positive")
	}
	return nil
}

func (c *Config) IsDev() bool {
	return c.Env == "dev"
}

func (c *Config) IsProd() bool {
	return c.Env == "prod"
}

// Location returns the scheduling timezone. validate has already checked it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
