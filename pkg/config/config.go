// Package config loads the server configuration. Values are layered:
// built-in defaults, then an optional YAML file, then COMPAT_* environment
// variables, then command-line flags.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gorm.io/gorm/logger"

	"github.com/autoparts/compat-engine/pkg/cache"
	"github.com/autoparts/compat-engine/pkg/compat"
	"github.com/autoparts/compat-engine/pkg/conformity"
	"github.com/autoparts/compat-engine/pkg/criteria"
	"github.com/autoparts/compat-engine/pkg/jobs"
	"github.com/autoparts/compat-engine/pkg/store"
)

// EnvPrefix prefixes every environment variable, e.g. COMPAT_DB_DSN.
const EnvPrefix = "COMPAT"

// Config is the fully resolved server configuration.
type Config struct {
	HTTP       HTTPConfig
	DB         store.DBConfig
	Timeouts   TimeoutConfig
	Cache      *cache.CacheConfig
	Conformity ConformityConfig
	Audit      *jobs.AuditConfig
	Criteria   CriteriaConfig
	Log        LogConfig
}

// HTTPConfig configures the listener.
type HTTPConfig struct {
	Listen      string
	CORSOrigins []string
}

// TimeoutConfig bounds each class of store call.
type TimeoutConfig struct {
	Resolve   time.Duration
	Audit     time.Duration
	Drilldown time.Duration
}

// ConformityConfig holds audit arithmetic settings.
type ConformityConfig struct {
	// ConfidenceThreshold is the minimum link confidence counted as coverage.
	ConfidenceThreshold float64
}

// CriteriaConfig selects the keyword vocabulary.
type CriteriaConfig struct {
	VocabularyFile string
	// CanonicalIDs overrides the vocabulary's canonical assembly-side
	// definitions when non-empty.
	CanonicalIDs []int64
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string // debug, info, warn or error
	Format string // text or json
}

// flagKeys maps flag names to configuration keys.
var flagKeys = map[string]string{
	"listen":               "http.listen",
	"db-type":              "db.type",
	"db-dsn":               "db.dsn",
	"audit-enabled":        "audit.enabled",
	"audit-interval":       "audit.interval",
	"confidence-threshold": "conformity.confidence_threshold",
	"vocabulary-file":      "criteria.vocabulary_file",
	"log-level":            "log.level",
	"log-format":           "log.format",
}

// BindFlags registers the server flags on fs.
func BindFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to a YAML configuration file")
	fs.String("listen", ":8080", "Address to listen on")
	fs.String("db-type", "postgres", "Database type (postgres, mysql or sqlite)")
	fs.String("db-dsn", "", "Database connection string")
	fs.Bool("audit-enabled", false, "Run the scheduled conformity audit")
	fs.Duration("audit-interval", 15*time.Minute, "Time between scheduled audits")
	fs.Float64("confidence-threshold", 0.9, "Minimum link confidence counted as coverage")
	fs.String("vocabulary-file", "", "YAML keyword vocabulary replacing the embedded one")
	fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	fs.String("log-format", "text", "Log format (text or json)")
}

func setDefaults(v *viper.Viper) {
	db := store.DefaultDBConfig()
	cc := cache.DefaultCacheConfig()
	ac := jobs.DefaultAuditConfig()

	v.SetDefault("http.listen", ":8080")
	v.SetDefault("http.cors_origins", []string{"*"})
	v.SetDefault("db.type", db.Type)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_open_conns", db.MaxOpenConns)
	v.SetDefault("db.max_idle_conns", db.MaxIdleConns)
	v.SetDefault("db.conn_max_lifetime", db.ConnMaxLifetime)
	v.SetDefault("timeouts.resolve", compat.DefaultConfig().FetchTimeout)
	v.SetDefault("timeouts.audit", conformity.DefaultConfig().AuditTimeout)
	v.SetDefault("timeouts.drilldown", conformity.DefaultConfig().DrilldownTimeout)
	v.SetDefault("cache.definitions_ttl", cc.DefinitionsTTL)
	v.SetDefault("cache.max_size", cc.MaxSize)
	v.SetDefault("conformity.confidence_threshold", store.DefaultConfidenceThreshold)
	v.SetDefault("audit.enabled", ac.Enabled)
	v.SetDefault("audit.interval", ac.Interval)
	v.SetDefault("audit.workers", ac.Workers)
	v.SetDefault("audit.partitioned", ac.Partitioned)
	v.SetDefault("criteria.vocabulary_file", "")
	v.SetDefault("criteria.canonical_ids", []int64{})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load resolves the configuration from v, with fs (which may be nil)
// providing flag overrides.
func Load(v *viper.Viper, fs *pflag.FlagSet) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
		if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
			v.SetConfigFile(f.Value.String())
		}
	}
	if path := v.ConfigFileUsed(); path != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	ids, err := int64Slice(v.Get("criteria.canonical_ids"))
	if err != nil {
		return nil, fmt.Errorf("criteria.canonical_ids: %w", err)
	}

	db := store.DefaultDBConfig()
	db.Type = v.GetString("db.type")
	db.DSN = v.GetString("db.dsn")
	db.MaxOpenConns = v.GetInt("db.max_open_conns")
	db.MaxIdleConns = v.GetInt("db.max_idle_conns")
	db.ConnMaxLifetime = v.GetDuration("db.conn_max_lifetime")
	if v.GetString("log.level") == "debug" {
		db.LogLevel = logger.Info
	}

	cfg := &Config{
		HTTP: HTTPConfig{
			Listen:      v.GetString("http.listen"),
			CORSOrigins: v.GetStringSlice("http.cors_origins"),
		},
		DB: db,
		Timeouts: TimeoutConfig{
			Resolve:   v.GetDuration("timeouts.resolve"),
			Audit:     v.GetDuration("timeouts.audit"),
			Drilldown: v.GetDuration("timeouts.drilldown"),
		},
		Cache: &cache.CacheConfig{
			DefinitionsTTL: v.GetDuration("cache.definitions_ttl"),
			MaxSize:        v.GetInt("cache.max_size"),
			LoadTimeout:    v.GetDuration("timeouts.resolve"),
		},
		Conformity: ConformityConfig{
			ConfidenceThreshold: v.GetFloat64("conformity.confidence_threshold"),
		},
		Audit: &jobs.AuditConfig{
			Enabled:     v.GetBool("audit.enabled"),
			Interval:    v.GetDuration("audit.interval"),
			Workers:     v.GetInt("audit.workers"),
			Partitioned: v.GetBool("audit.partitioned"),
		},
		Criteria: CriteriaConfig{
			VocabularyFile: v.GetString("criteria.vocabulary_file"),
			CanonicalIDs:   ids,
		},
		Log: LogConfig{
			Level:  strings.ToLower(v.GetString("log.level")),
			Format: strings.ToLower(v.GetString("log.format")),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.HTTP.Listen == "" {
		return fmt.Errorf("http.listen is required")
	}
	switch c.DB.Type {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("db.type must be postgres, mysql or sqlite, got %q", c.DB.Type)
	}
	for key, d := range map[string]time.Duration{
		"timeouts.resolve":   c.Timeouts.Resolve,
		"timeouts.audit":     c.Timeouts.Audit,
		"timeouts.drilldown": c.Timeouts.Drilldown,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", key, d)
		}
	}
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	if err := c.Audit.Validate(); err != nil {
		return err
	}
	if t := c.Conformity.ConfidenceThreshold; t <= 0 || t > 1 {
		return fmt.Errorf("conformity.confidence_threshold must be in (0, 1], got %v", t)
	}
	for _, id := range c.Criteria.CanonicalIDs {
		if id <= 0 {
			return fmt.Errorf("criteria.canonical_ids must be positive, got %d", id)
		}
	}
	if _, err := c.Log.level(); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// ResolverConfig returns the compatibility resolver settings.
func (c *Config) ResolverConfig() compat.Config {
	return compat.Config{FetchTimeout: c.Timeouts.Resolve}
}

// EngineConfig returns the conformity engine settings.
func (c *Config) EngineConfig() conformity.Config {
	return conformity.Config{
		AuditTimeout:     c.Timeouts.Audit,
		DrilldownTimeout: c.Timeouts.Drilldown,
		Workers:          c.Audit.Workers,
	}
}

// Vocabulary loads the configured keyword vocabulary.
func (c *Config) Vocabulary() (*criteria.Vocabulary, error) {
	vocab := criteria.DefaultVocabulary()
	if c.Criteria.VocabularyFile != "" {
		var err error
		if vocab, err = criteria.LoadVocabulary(c.Criteria.VocabularyFile); err != nil {
			return nil, err
		}
	}
	if len(c.Criteria.CanonicalIDs) == 0 {
		return vocab, nil
	}
	return vocab.WithCanonicalIDs(c.Criteria.CanonicalIDs), nil
}

// NewLogger builds the process logger writing to w.
func (l LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := l.level()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func (l LogConfig) level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// int64Slice accepts the shapes viper hands back for a list key: a YAML
// sequence, a typed slice default, or a comma-separated env/flag string.
func int64Slice(raw any) ([]int64, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []int64:
		return v, nil
	case []int:
		out := make([]int64, len(v))
		for i, n := range v {
			out[i] = int64(n)
		}
		return out, nil
	case []any:
		out := make([]int64, 0, len(v))
		for _, item := range v {
			n, err := cast.ToInt64E(item)
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		}
		return out, nil
	case string:
		fields := strings.FieldsFunc(strings.Trim(v, "[]"), func(r rune) bool {
			return r == ',' || r == ' '
		})
		out := make([]int64, 0, len(fields))
		for _, f := range fields {
			n, err := strconv.ParseInt(f, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid id %q", f)
			}
			out = append(out, n)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value %T", raw)
	}
}
