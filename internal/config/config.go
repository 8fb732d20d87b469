package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v8"
)

type Config struct {
	// Reconciliation modes
	Force                bool   `env:"FORCE" envDefault:"false"`                  // Destructive recreate + value-changed updates
	Reset                bool   `env:"RESET" envDefault:"false"`                  // Delete all rows of a target table before loading
	IgnoreMissingColumns bool   `env:"IGNORE_MISSING_COLUMNS" envDefault:"false"` // Keep legacy columns instead of reporting a conflict
	GenerateViews        bool   `env:"GENERATE_VIEWS" envDefault:"true"`
	DryRun               bool   `env:"DRY_RUN" envDefault:"false"`
	DefaultPrimaryKey    string `env:"DEFAULT_PRIMARY_KEY" envDefault:""` // e.g. UAID; added to tables without a key

	// Geometry
	DBSRID            int     `env:"DB_SRID" envDefault:"4326"`
	SourceSRID        int     `env:"SOURCE_SRID" envDefault:"4326"`
	GeometryTolerance float64 `env:"GEOMETRY_TOLERANCE" envDefault:"0.000000001"`

	// Inputs
	NameMapFile  string `env:"NAME_MAP_FILE" envDefault:""`
	SchemaFile   string `env:"SCHEMA_FILE" envDefault:""`
	RecordsFile  string `env:"RECORDS_FILE" envDefault:""`
	RecordsTable string `env:"RECORDS_TABLE" envDefault:""` // External table name the records belong to
	RecordFilter string `env:"RECORD_FILTER" envDefault:""` // expr-lang boolean expression over row columns
	CSVXColumn   string `env:"CSV_X_COLUMN" envDefault:""`
	CSVYColumn   string `env:"CSV_Y_COLUMN" envDefault:""`

	// Connection retry
	MaxRetries    int           `env:"MAX_RETRIES" envDefault:"3"`
	RetryInterval time.Duration `env:"RETRY_INTERVAL" envDefault:"5s"`

	// Connection pool
	ConnPoolSize    int           `env:"CONN_POOL_SIZE" envDefault:"4"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"1h"`

	// Observability & debugging
	EnableJsonLogging bool `env:"ENABLE_JSON_LOGGING" envDefault:"false"`
	DebugMode         bool `env:"DEBUG_MODE" envDefault:"false"`
	EnableHTTP        bool `env:"ENABLE_HTTP" envDefault:"false"` // Serve /metrics, /healthz, /readyz until signalled
	EnablePprof       bool `env:"ENABLE_PPROF" envDefault:"false"`
	MetricsPort       int  `env:"METRICS_PORT" envDefault:"9091"`

	// Vault
	VaultEnabled    bool   `env:"VAULT_ENABLED" envDefault:"false"`
	VaultAddr       string `env:"VAULT_ADDR" envDefault:"http://127.0.0.1:8200"`
	VaultToken      string `env:"VAULT_TOKEN" envDefault:""`
	VaultCACert     string `env:"VAULT_CACERT" envDefault:""`
	VaultSkipVerify bool   `env:"VAULT_SKIP_VERIFY" envDefault:"false"`
	VaultMount      string `env:"VAULT_MOUNT" envDefault:"secret"`
	DBSecretPath    string `env:"DB_SECRET_PATH" envDefault:""`
	DBUsernameKey   string `env:"DB_USERNAME_KEY" envDefault:"username"`
	DBPasswordKey   string `env:"DB_PASSWORD_KEY" envDefault:"password"`

	DB DatabaseConfig `envPrefix:"DB_"`
}

type DatabaseConfig struct {
	Dialect  string `env:"DIALECT,required"`
	Host     string `env:"HOST" envDefault:"localhost"`
	Port     int    `env:"PORT" envDefault:"0"` // 0 selects the dialect default
	User     string `env:"USER" envDefault:""`
	Password string `env:"PASSWORD" envDefault:""` // May come from Vault instead
	DBName   string `env:"DBNAME,required"`        // File path for sqlite
	SSLMode  string `env:"SSLMODE" envDefault:"disable"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	opts := env.Options{RequiredIfNoDef: true}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("config parsing error: %w", err)
	}

	cfg.DB.Dialect = strings.ToLower(cfg.DB.Dialect)
	if cfg.DB.Port == 0 {
		cfg.DB.Port = defaultPort(cfg.DB.Dialect)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks a fully populated config. It is also run after CLI
// overrides are applied.
func Validate(cfg *Config) error {
	allowedDialects := map[string]bool{"mysql": true, "postgres": true, "sqlite": true}
	if !allowedDialects[cfg.DB.Dialect] {
		return fmt.Errorf("invalid database dialect: %s. Valid options: %v", cfg.DB.Dialect, getMapKeys(allowedDialects))
	}

	if cfg.DB.Dialect != "sqlite" {
		if cfg.DB.Port < 1 || cfg.DB.Port > 65535 {
			return fmt.Errorf("invalid database port: %d", cfg.DB.Port)
		}
		validSSL := map[string]bool{
			"disable": true, "allow": true, "prefer": true,
			"require": true, "verify-ca": true, "verify-full": true,
		}
		if !validSSL[strings.ToLower(cfg.DB.SSLMode)] {
			return fmt.Errorf("invalid SSL mode: %s", cfg.DB.SSLMode)
		}
	}
	if cfg.EnableHTTP && (cfg.MetricsPort < 1 || cfg.MetricsPort > 65535) {
		return fmt.Errorf("invalid metrics port: %d", cfg.MetricsPort)
	}

	if cfg.DBSRID <= 0 {
		return fmt.Errorf("database SRID must be positive")
	}
	if cfg.SourceSRID < 0 {
		return fmt.Errorf("source SRID cannot be negative")
	}
	if cfg.GeometryTolerance < 0 {
		return fmt.Errorf("geometry tolerance cannot be negative")
	}
	if (cfg.CSVXColumn == "") != (cfg.CSVYColumn == "") {
		return fmt.Errorf("CSV_X_COLUMN and CSV_Y_COLUMN must be set together")
	}
	if cfg.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if cfg.ConnPoolSize <= 0 {
		return fmt.Errorf("connection pool size must be positive")
	}
	if cfg.VaultEnabled && cfg.VaultAddr == "" {
		return fmt.Errorf("VAULT_ADDR is required when Vault is enabled")
	}
	return nil
}

func defaultPort(dialect string) int {
	switch dialect {
	case "mysql":
		return 3306
	case "postgres":
		return 5432
	default:
		return 0
	}
}

func getMapKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
