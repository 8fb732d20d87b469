package main

import (
	"context"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v8"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arwahdevops/surveysync/internal/config"
	"github.com/arwahdevops/surveysync/internal/db"
	"github.com/arwahdevops/surveysync/internal/geo"
	"github.com/arwahdevops/surveysync/internal/logger"
	"github.com/arwahdevops/surveysync/internal/metrics"
	"github.com/arwahdevops/surveysync/internal/secrets"
	"github.com/arwahdevops/surveysync/internal/server"
	projectSync "github.com/arwahdevops/surveysync/internal/sync"
)

// cliOverrides holds flag values applied on top of the environment.
type cliOverrides struct {
	force                bool
	reset                bool
	ignoreMissingColumns bool
	noViews              bool
	dryRun               bool
	dbSRID               int
	sourceSRID           int
	nameMapFile          string
	defaultPrimaryKey    string
	recordsTable         string
	recordFilter         string
	csvXColumn           string
	csvYColumn           string
}

var (
	overrides cliOverrides
	exitCode  int
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		if logger.Log != nil {
			logger.Log.Error("Command failed", zap.Error(err))
		} else {
			stdlog.Printf("Error: %v", err)
		}
		if exitCode == 0 {
			exitCode = 1
		}
	}
	os.Exit(exitCode)
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "surveysync",
		Short: "Reconcile a feature service schema and its records into a relational database",
		Long: `surveysync creates and evolves database tables from an exported feature service
layer document, then loads survey records into them without duplicating rows.
Configuration comes from the environment (and .env); flags override it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.BoolVar(&overrides.force, "force", false, "Override FORCE: recreate mismatched tables and update changed rows")
	pf.BoolVar(&overrides.reset, "reset", false, "Override RESET: delete all rows of a table before loading")
	pf.BoolVar(&overrides.ignoreMissingColumns, "ignore-missing-columns", false, "Override IGNORE_MISSING_COLUMNS")
	pf.BoolVar(&overrides.noViews, "no-views", false, "Do not generate <table>_view views")
	pf.BoolVar(&overrides.dryRun, "dry-run", false, "Override DRY_RUN: report planned changes without executing them")
	pf.IntVar(&overrides.dbSRID, "db-srid", 0, "Override DB_SRID")
	pf.IntVar(&overrides.sourceSRID, "source-srid", 0, "Override SOURCE_SRID")
	pf.StringVar(&overrides.nameMapFile, "name-map", "", "Override NAME_MAP_FILE (.yaml, .yml or .toml)")
	pf.StringVar(&overrides.defaultPrimaryKey, "default-primary-key", "", "Override DEFAULT_PRIMARY_KEY")

	tableFlags := func(cmd *cobra.Command) {
		f := cmd.Flags()
		f.StringVar(&overrides.recordsTable, "table", "", "Override RECORDS_TABLE (defaults to the file name)")
		f.StringVar(&overrides.csvXColumn, "x-column", "", "Override CSV_X_COLUMN")
		f.StringVar(&overrides.csvYColumn, "y-column", "", "Override CSV_Y_COLUMN")
	}
	recordFlags := func(cmd *cobra.Command) {
		tableFlags(cmd)
		cmd.Flags().StringVar(&overrides.recordFilter, "filter", "", "Override RECORD_FILTER")
	}

	schemaCmd := &cobra.Command{
		Use:   "schema [layers.json|schema.csv]",
		Short: "Reconcile tables, foreign keys, indexes, views and lookup rows from a layer document or schema sheet",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, func(cfg *config.Config) {
				if len(args) == 1 {
					cfg.SchemaFile = args[0]
				}
				cfg.RecordsFile = ""
			})
		},
	}

	loadCmd := &cobra.Command{
		Use:   "load [records.json|records.csv]",
		Short: "Load records into tables that already exist",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, func(cfg *config.Config) {
				if len(args) == 1 {
					cfg.RecordsFile = args[0]
				}
				cfg.SchemaFile = ""
			})
		},
	}
	tableFlags(schemaCmd)
	recordFlags(loadCmd)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Reconcile SCHEMA_FILE, then load RECORDS_FILE",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return execute(cmd, nil)
		},
	}
	recordFlags(runCmd)

	root.AddCommand(schemaCmd, loadCmd, runCmd)
	return root
}

// execute is the shared startup sequence for every subcommand. scope
// adjusts which inputs the subcommand reads.
func execute(cmd *cobra.Command, scope func(cfg *config.Config)) error {
	// 1. Load environment variables (.env overrides)
	if err := godotenv.Overload(".env"); err != nil {
		stdlog.Printf("Warning: Could not load .env file: %v. Relying on environment variables.\n", err)
	}

	// 2. Logger settings are needed before the full config is parsed
	preCfg := &struct {
		EnableJsonLogging bool `env:"ENABLE_JSON_LOGGING" envDefault:"false"`
		DebugMode         bool `env:"DEBUG_MODE" envDefault:"false"`
	}{}
	if err := env.Parse(preCfg); err != nil {
		return fmt.Errorf("failed to parse pre-configuration for logger: %w", err)
	}

	// 3. Initialize Zap logger
	if err := logger.Init(preCfg.DebugMode, preCfg.EnableJsonLogging); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Log.Sync() }()

	// 4. Load and validate configuration, then apply flags
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("configuration loading error from environment: %w", err)
	}
	applyCliOverrides(cmd, cfg)
	if scope != nil {
		scope(cfg)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration after CLI overrides: %w", err)
	}
	if cfg.SchemaFile == "" && cfg.RecordsFile == "" {
		return fmt.Errorf("nothing to do: provide a layer document (SCHEMA_FILE) or a records file (RECORDS_FILE)")
	}
	logLoadedConfig(cfg)

	// 5. Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 6. Read the inputs before touching the database
	names, err := config.LoadNameMap(cfg.NameMapFile, logger.Log)
	if err != nil {
		return err
	}
	input, err := readInput(cfg, names)
	if err != nil {
		return err
	}

	// 7. Metrics store
	metricsStore := metrics.NewMetricsStore()

	// 8. Secret managers and credentials
	vaultMgr, vaultErr := secrets.NewVaultManager(cfg, logger.Log)
	if vaultErr != nil {
		if cfg.VaultEnabled {
			return fmt.Errorf("failed to initialize Vault secret manager: %w", vaultErr)
		}
		logger.Log.Warn("Could not initialize Vault secret manager (Vault not enabled or config error)", zap.Error(vaultErr))
	}
	availableSecretManagers := make([]secrets.SecretManager, 0)
	if vaultMgr != nil && vaultMgr.IsEnabled() {
		availableSecretManagers = append(availableSecretManagers, vaultMgr)
	}
	creds, err := loadCredentials(ctx, cfg, availableSecretManagers)
	if err != nil {
		return fmt.Errorf("failed to load DB credentials: %w", err)
	}

	// 9. Connect with retry
	conn, err := connectDBWithRetry(ctx, cfg, creds, metricsStore)
	if err != nil {
		return err
	}
	defer func() {
		logger.Log.Info("Closing database connection...")
		if err := conn.Close(); err != nil {
			logger.Log.Error("Error closing DB", zap.Error(err))
		}
	}()
	if err := conn.Optimize(cfg.ConnPoolSize, cfg.ConnMaxLifetime); err != nil {
		logger.Log.Warn("Failed to optimize DB pool", zap.Error(err))
	}
	metricsStore.DBOpenConnections.Set(float64(conn.OpenConnections()))

	// 10. HTTP server for metrics and health
	if cfg.EnableHTTP {
		go server.RunHTTPServer(ctx, cfg, metricsStore, conn, logger.Log)
	}

	// 11. Reconcile
	var reprojector geo.Reprojector = geo.Identity{}
	if conn.Dialect != "sqlite" {
		reprojector = geo.NewSQLReprojector(conn.DB, conn.Dialect, logger.Log)
	}
	orchestrator, err := projectSync.NewOrchestrator(conn, projectSync.OptionsFromConfig(cfg), names, reprojector, logger.Log, metricsStore)
	if err != nil {
		return err
	}
	report := orchestrator.Run(ctx, input)

	// 12. Report
	exitCode = processReport(report, len(input.Records))

	// 13. Keep serving metrics until signalled
	if cfg.EnableHTTP && ctx.Err() == nil {
		logger.Log.Info("Reconciliation completed. Serving metrics until shutdown signal (Ctrl+C or SIGTERM)...")
		<-ctx.Done()
	}
	logger.Log.Info("Shutdown complete.", zap.Int("exit_code", exitCode))
	return nil
}

// applyCliOverrides copies explicitly set flags onto cfg.
func applyCliOverrides(cmd *cobra.Command, cfg *config.Config) {
	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}
	if changed("force") {
		logger.Log.Info("Overriding FORCE with CLI flag", zap.Bool("env_value", cfg.Force), zap.Bool("cli_value", overrides.force))
		cfg.Force = overrides.force
	}
	if changed("reset") {
		logger.Log.Info("Overriding RESET with CLI flag", zap.Bool("env_value", cfg.Reset), zap.Bool("cli_value", overrides.reset))
		cfg.Reset = overrides.reset
	}
	if changed("ignore-missing-columns") {
		logger.Log.Info("Overriding IGNORE_MISSING_COLUMNS with CLI flag", zap.Bool("env_value", cfg.IgnoreMissingColumns), zap.Bool("cli_value", overrides.ignoreMissingColumns))
		cfg.IgnoreMissingColumns = overrides.ignoreMissingColumns
	}
	if changed("no-views") {
		logger.Log.Info("Overriding GENERATE_VIEWS with CLI flag", zap.Bool("env_value", cfg.GenerateViews), zap.Bool("cli_value", !overrides.noViews))
		cfg.GenerateViews = !overrides.noViews
	}
	if changed("dry-run") {
		logger.Log.Info("Overriding DRY_RUN with CLI flag", zap.Bool("env_value", cfg.DryRun), zap.Bool("cli_value", overrides.dryRun))
		cfg.DryRun = overrides.dryRun
	}
	if overrides.dbSRID > 0 {
		logger.Log.Info("Overriding DB_SRID with CLI flag", zap.Int("env_value", cfg.DBSRID), zap.Int("cli_value", overrides.dbSRID))
		cfg.DBSRID = overrides.dbSRID
	}
	if overrides.sourceSRID > 0 {
		logger.Log.Info("Overriding SOURCE_SRID with CLI flag", zap.Int("env_value", cfg.SourceSRID), zap.Int("cli_value", overrides.sourceSRID))
		cfg.SourceSRID = overrides.sourceSRID
	}
	if overrides.nameMapFile != "" {
		logger.Log.Info("Overriding NAME_MAP_FILE with CLI flag", zap.String("env_value", cfg.NameMapFile), zap.String("cli_value", overrides.nameMapFile))
		cfg.NameMapFile = overrides.nameMapFile
	}
	if overrides.defaultPrimaryKey != "" {
		logger.Log.Info("Overriding DEFAULT_PRIMARY_KEY with CLI flag", zap.String("env_value", cfg.DefaultPrimaryKey), zap.String("cli_value", overrides.defaultPrimaryKey))
		cfg.DefaultPrimaryKey = overrides.defaultPrimaryKey
	}
	if overrides.recordsTable != "" {
		logger.Log.Info("Overriding RECORDS_TABLE with CLI flag", zap.String("env_value", cfg.RecordsTable), zap.String("cli_value", overrides.recordsTable))
		cfg.RecordsTable = overrides.recordsTable
	}
	if overrides.recordFilter != "" {
		logger.Log.Info("Overriding RECORD_FILTER with CLI flag", zap.String("env_value", cfg.RecordFilter), zap.String("cli_value", overrides.recordFilter))
		cfg.RecordFilter = overrides.recordFilter
	}
	if overrides.csvXColumn != "" || overrides.csvYColumn != "" {
		logger.Log.Info("Overriding CSV coordinate columns with CLI flags",
			zap.String("env_x", cfg.CSVXColumn), zap.String("env_y", cfg.CSVYColumn),
			zap.String("cli_x", overrides.csvXColumn), zap.String("cli_y", overrides.csvYColumn))
		cfg.CSVXColumn = overrides.csvXColumn
		cfg.CSVYColumn = overrides.csvYColumn
	}
}

// logLoadedConfig logs the final configuration in use.
func logLoadedConfig(cfg *config.Config) {
	passSource := "not set"
	if cfg.DB.Password != "" {
		passSource = "env var"
	} else if cfg.VaultEnabled && cfg.DBSecretPath != "" {
		passSource = "vault"
	}

	logger.Log.Info("Final configuration in use",
		zap.Bool("force", cfg.Force), zap.Bool("reset", cfg.Reset),
		zap.Bool("ignore_missing_columns", cfg.IgnoreMissingColumns), zap.Bool("generate_views", cfg.GenerateViews),
		zap.Bool("dry_run", cfg.DryRun), zap.String("default_primary_key", cfg.DefaultPrimaryKey),
		zap.Int("db_srid", cfg.DBSRID), zap.Int("source_srid", cfg.SourceSRID), zap.Float64("geometry_tolerance", cfg.GeometryTolerance),
		zap.String("schema_file", cfg.SchemaFile), zap.String("records_file", cfg.RecordsFile), zap.String("records_table", cfg.RecordsTable),
		zap.String("record_filter", cfg.RecordFilter), zap.String("name_map_file", cfg.NameMapFile),
		zap.String("dialect", cfg.DB.Dialect), zap.String("host", cfg.DB.Host), zap.Int("port", cfg.DB.Port), zap.String("user", cfg.DB.User),
		zap.String("password_source", passSource), zap.String("dbname", cfg.DB.DBName), zap.String("sslmode", cfg.DB.SSLMode),
		zap.Int("max_retries", cfg.MaxRetries), zap.Duration("retry_interval", cfg.RetryInterval),
		zap.Int("conn_pool_size", cfg.ConnPoolSize), zap.Duration("conn_max_lifetime", cfg.ConnMaxLifetime),
		zap.Bool("json_logging", cfg.EnableJsonLogging), zap.Bool("debug_mode", cfg.DebugMode),
		zap.Bool("enable_http", cfg.EnableHTTP), zap.Bool("enable_pprof", cfg.EnablePprof), zap.Int("metrics_port", cfg.MetricsPort),
		zap.Bool("vault_enabled", cfg.VaultEnabled), zap.String("vault_addr", cfg.VaultAddr), zap.Bool("vault_token_present", cfg.VaultToken != ""),
		zap.String("db_secret_path", cfg.DBSecretPath), zap.String("db_username_key", cfg.DBUsernameKey), zap.String("db_password_key", cfg.DBPasswordKey),
	)
}

// loadCredentials prefers DB_PASSWORD, then the secret managers.
func loadCredentials(ctx context.Context, cfg *config.Config, secretManagers []secrets.SecretManager) (*secrets.Credentials, error) {
	log := logger.Log.With(zap.String("dialect", cfg.DB.Dialect))
	if cfg.DB.Dialect == "sqlite" {
		return &secrets.Credentials{}, nil
	}

	if cfg.DB.Password != "" {
		log.Info("Using password directly from environment variable for DB.")
		if cfg.DB.User == "" {
			return nil, fmt.Errorf("password provided via DB_PASSWORD, but DB_USER is missing")
		}
		return secrets.EnvCredentials{Username: cfg.DB.User, Password: cfg.DB.Password}.GetCredentials(ctx, "", "", "")
	}
	log.Info("Password not found in DB_PASSWORD. Checking secret managers...")

	if cfg.DBSecretPath == "" {
		return nil, fmt.Errorf("could not load DB credentials. Set DB_PASSWORD, or enable Vault (VAULT_ENABLED=true) with DB_SECRET_PATH")
	}
	if len(secretManagers) == 0 {
		log.Warn("Secret path is configured, but no secret managers are active/enabled.")
	}
	for _, sm := range secretManagers {
		log.Info("Attempting to retrieve credentials from secret manager",
			zap.String("manager_type", fmt.Sprintf("%T", sm)),
			zap.String("path", cfg.DBSecretPath))
		getCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		creds, err := sm.GetCredentials(getCtx, cfg.DBSecretPath, cfg.DBUsernameKey, cfg.DBPasswordKey)
		cancel()
		if err != nil || creds == nil {
			log.Warn("Failed to retrieve credentials from secret manager. Trying next if available.",
				zap.String("manager_type", fmt.Sprintf("%T", sm)), zap.Error(err))
			continue
		}
		if creds.Password == "" {
			return nil, fmt.Errorf("retrieved credentials from %T, but password field is empty", sm)
		}
		if creds.Username == "" {
			log.Warn("Username field empty in retrieved secret. Falling back to DB_USER.", zap.String("db_config_user", cfg.DB.User))
			creds.Username = cfg.DB.User
			if creds.Username == "" {
				return nil, fmt.Errorf("password retrieved, but username is missing in both secret and DB_USER")
			}
		}
		log.Info("Successfully retrieved credentials from secret manager.")
		return creds, nil
	}
	return nil, fmt.Errorf("no enabled secret manager provided credentials for %s", cfg.DBSecretPath)
}

// connectDBWithRetry connects and pings, retrying on failure.
func connectDBWithRetry(ctx context.Context, cfg *config.Config, creds *secrets.Credentials, metricsStore *metrics.Store) (*db.Connector, error) {
	dbCfg := cfg.DB
	dsn, err := db.BuildDSN(dbCfg.Dialect, dbCfg.Host, dbCfg.Port, dbCfg.DBName, dbCfg.SSLMode, creds.Username, creds.Password)
	if err != nil {
		metricsStore.Error("connection", "")
		return nil, err
	}
	gl := logger.GetGormLogger()

	var lastErr error
	for i := 0; i <= cfg.MaxRetries; i++ {
		attemptStart := time.Now()
		if i > 0 {
			logger.Log.Warn("Retrying database connection",
				zap.Int("attempt", i+1),
				zap.Int("max_attempts", cfg.MaxRetries+1),
				zap.Duration("wait_interval", cfg.RetryInterval),
				zap.NamedError("previous_error", lastErr))
			timer := time.NewTimer(cfg.RetryInterval)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				metricsStore.Error("connection_cancelled", "")
				return nil, fmt.Errorf("context cancelled while waiting to retry connection (attempt %d): %w; last error: %v", i+1, ctx.Err(), lastErr)
			}
		}

		logger.Log.Info("Attempting to connect",
			zap.String("dialect", dbCfg.Dialect),
			zap.String("host", dbCfg.Host),
			zap.Int("port", dbCfg.Port),
			zap.String("dbname", dbCfg.DBName),
			zap.String("user", creds.Username),
			zap.Int("attempt", i+1))

		conn, err := db.New(dbCfg.Dialect, dsn, gl, logger.Log)
		if err != nil {
			lastErr = fmt.Errorf("connect attempt %d/%d failed: %w", i+1, cfg.MaxRetries+1, err)
			continue
		}
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		pingErr := conn.Ping(pingCtx)
		pingCancel()
		if pingErr != nil {
			lastErr = fmt.Errorf("ping attempt %d/%d failed: %w", i+1, cfg.MaxRetries+1, pingErr)
			_ = conn.Close()
			continue
		}

		logger.Log.Info("Database connection successful", zap.Duration("connect_duration", time.Since(attemptStart)))
		return conn, nil
	}

	logger.Log.Error("Failed to connect to database after all retries",
		zap.Int("attempts", cfg.MaxRetries+1),
		zap.NamedError("final_error", lastErr))
	metricsStore.Error("connection_failed", "")
	return nil, fmt.Errorf("failed to connect to %s database %s at %s:%d after %d attempts: %w",
		dbCfg.Dialect, dbCfg.DBName, dbCfg.Host, dbCfg.Port, cfg.MaxRetries+1, lastErr)
}
