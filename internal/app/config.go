package app

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/eventguard/eventguard/internal/platform/db"
)

// Config holds runtime configuration for the EventGuard binaries.
type Config struct {
	AppEnv string `envconfig:"APP_ENV" default:"development"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	// PGDSN selects the Postgres backed stores. Empty keeps everything in memory.
	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	CatalogFile string `envconfig:"EGD_CATALOG_FILE"`
	OwnerRole   string `envconfig:"EGD_OWNER_ROLE" default:"owner"`

	Cache   CacheConfig
	Tables  TableNames
	Columns ColumnNames
	Ops     OpsConfig
	Jobs    JobsConfig
}

// OpsConfig controls the worker's operations listener (health, metrics).
type OpsConfig struct {
	// Addr enables the listener when set, e.g. ":9090".
	Addr           string        `envconfig:"EGD_OPS_ADDR"`
	RequestTimeout time.Duration `envconfig:"EGD_OPS_REQUEST_TIMEOUT" default:"30s"`
	RateLimit      int           `envconfig:"EGD_OPS_RATE_LIMIT" default:"60"`
	// SubjectHeader exposes GET /events/{event}/permissions for the subject
	// named in this header. Empty keeps the route off. The header is not
	// authenticated: anyone reaching the listener can read any subject's
	// permissions, so Validate requires Addr to bind a loopback host.
	SubjectHeader string `envconfig:"EGD_OPS_SUBJECT_HEADER"`
}

// JobsConfig schedules the background jobs.
type JobsConfig struct {
	Concurrency int    `envconfig:"EGD_JOBS_CONCURRENCY" default:"5"`
	WarmupCron  string `envconfig:"EGD_JOBS_WARMUP_CRON" default:"15 1 * * *"`
}

// CacheConfig mirrors the permission cache options.
type CacheConfig struct {
	ExpirationTime time.Duration `envconfig:"EGD_CACHE_EXPIRATION_TIME" default:"24h"`
	Key            string        `envconfig:"EGD_CACHE_KEY" default:"eventguard.permission.cache"`
	Store          string        `envconfig:"EGD_CACHE_STORE" default:"default"`
	SweepInterval  time.Duration `envconfig:"EGD_CACHE_SWEEP_INTERVAL" default:"0s"`
}

// TableNames lists overridable table names.
type TableNames struct {
	EventTypes          string `envconfig:"EGD_TABLE_EVENT_TYPES" default:"egd_event_types"`
	Events              string `envconfig:"EGD_TABLE_EVENTS" default:"egd_events"`
	Roles               string `envconfig:"EGD_TABLE_ROLES" default:"egd_roles"`
	Permissions         string `envconfig:"EGD_TABLE_PERMISSIONS" default:"egd_permissions"`
	RolePermission      string `envconfig:"EGD_TABLE_ROLE_PERMISSION" default:"egd_role_permission"`
	ModelHasPermissions string `envconfig:"EGD_TABLE_MODEL_HAS_PERMISSIONS" default:"egd_model_has_permissions"`
	ModelHasRoles       string `envconfig:"EGD_TABLE_MODEL_HAS_ROLES" default:"egd_model_has_roles"`
	SchemaMigrations    string `envconfig:"EGD_TABLE_SCHEMA_MIGRATIONS" default:"egd_schema_migrations"`
}

// ColumnNames lists overridable column names.
type ColumnNames struct {
	ModelMorphKey      string `envconfig:"EGD_COLUMN_MODEL_MORPH_KEY" default:"model_id"`
	RolePivotKey       string `envconfig:"EGD_COLUMN_ROLE_PIVOT_KEY" default:"role_id"`
	PermissionPivotKey string `envconfig:"EGD_COLUMN_PERMISSION_PIVOT_KEY" default:"permission_id"`
}

var validCacheStores = map[string]struct{}{
	"default": {},
	"memory":  {},
	"redis":   {},
	"none":    {},
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks option combinations envconfig cannot express.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	c.Cache.Store = strings.ToLower(strings.TrimSpace(c.Cache.Store))
	if _, ok := validCacheStores[c.Cache.Store]; !ok {
		return fmt.Errorf("config: unsupported cache store %q", c.Cache.Store)
	}
	if c.Cache.Store == "redis" && c.RedisAddr == "" {
		return errors.New("config: cache store redis requires REDIS_ADDR")
	}
	if c.Cache.ExpirationTime <= 0 {
		return errors.New("config: cache expiration time must be positive")
	}
	if strings.TrimSpace(c.Cache.Key) == "" {
		return errors.New("config: cache key must be provided")
	}
	if c.Cache.SweepInterval < 0 {
		return errors.New("config: cache sweep interval must not be negative")
	}
	if strings.TrimSpace(c.Ops.SubjectHeader) != "" && c.Ops.Addr != "" && !loopbackAddr(c.Ops.Addr) {
		return fmt.Errorf("config: EGD_OPS_SUBJECT_HEADER requires a loopback EGD_OPS_ADDR, got %q", c.Ops.Addr)
	}
	return nil
}

func loopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}

// UsesPostgres reports whether the durable stores should be used.
func (c *Config) UsesPostgres() bool {
	return c != nil && strings.TrimSpace(c.PGDSN) != ""
}

// DBTables converts the table and column overrides for the stores.
func (c *Config) DBTables() db.Tables {
	return db.Tables{
		EventTypes:          c.Tables.EventTypes,
		Events:              c.Tables.Events,
		Roles:               c.Tables.Roles,
		Permissions:         c.Tables.Permissions,
		RolePermission:      c.Tables.RolePermission,
		ModelHasPermissions: c.Tables.ModelHasPermissions,
		ModelHasRoles:       c.Tables.ModelHasRoles,
		SchemaMigrations:    c.Tables.SchemaMigrations,
		ModelMorphKey:       c.Columns.ModelMorphKey,
		RolePivotKey:        c.Columns.RolePivotKey,
		PermissionPivotKey:  c.Columns.PermissionPivotKey,
	}.WithDefaults()
}
