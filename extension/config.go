package extension

import "time"

// Config holds the subscription ledger extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.subledger" or "subledger" keys).
type Config struct {
	// DisableRoutes prevents the admin API handler from being exposed.
	DisableRoutes bool `json:"disable_routes" mapstructure:"disable_routes" yaml:"disable_routes"`

	// DisableMigrate skips store migration and catalog seeding on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// DisableSeed runs migrations but leaves the plan catalog untouched.
	DisableSeed bool `json:"disable_seed" mapstructure:"disable_seed" yaml:"disable_seed"`

	// BasePath is the URL prefix for ledger routes (default: "/subledger").
	BasePath string `json:"base_path" mapstructure:"base_path" yaml:"base_path"`

	// JWTSecret enables HS256 admin authentication on the API.
	JWTSecret string `json:"jwt_secret" mapstructure:"jwt_secret" yaml:"jwt_secret"`

	// PlanCacheTTL controls how long plan lookups are cached in-process
	// (default: 10m).
	PlanCacheTTL time.Duration `json:"plan_cache_ttl" mapstructure:"plan_cache_ttl" yaml:"plan_cache_ttl"`

	// PluginTimeout bounds each plugin hook call (default: 5s).
	PluginTimeout time.Duration `json:"plugin_timeout" mapstructure:"plugin_timeout" yaml:"plugin_timeout"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BasePath:      "/subledger",
		PlanCacheTTL:  10 * time.Minute,
		PluginTimeout: 5 * time.Second,
	}
}
