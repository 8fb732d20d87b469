package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Connector is the single destination database a run reconciles against.
type Connector struct {
	DB      *gorm.DB
	Dialect string
	logger  *zap.Logger
}

func New(dialect, dsn string, gl gormlogger.Interface, logger *zap.Logger) (*Connector, error) {
	var dialector gorm.Dialector

	lcDialect := strings.ToLower(dialect)
	switch lcDialect {
	case "mysql":
		dialector = mysql.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gl,
		// Writes are issued one row at a time by the upsert executor and must
		// not be wrapped in implicit transactions.
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database (%s): %w", lcDialect, err)
	}

	if lcDialect == "sqlite" {
		// Connection-scoped pragmas such as foreign_keys must apply to every
		// statement of the run.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sql.DB (%s): %w", lcDialect, err)
		}
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetConnMaxLifetime(0)
	}

	return &Connector{
		DB:      db,
		Dialect: lcDialect,
		logger:  logger.Named("db").With(zap.String("dialect", lcDialect)),
	}, nil
}

// Optimize configures the underlying connection pool.
func (c *Connector) Optimize(poolSize int, maxLifetime time.Duration) error {
	sqlDB, err := c.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB for optimization: %w", err)
	}
	if poolSize <= 0 {
		poolSize = 4
	}
	if maxLifetime <= 0 {
		maxLifetime = time.Hour
	}

	switch c.Dialect {
	case "mysql", "postgres":
		sqlDB.SetMaxIdleConns(poolSize)
		sqlDB.SetMaxOpenConns(poolSize)
		sqlDB.SetConnMaxLifetime(maxLifetime)
	case "sqlite":
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetConnMaxLifetime(0)
	}
	return nil
}

func (c *Connector) Ping(ctx context.Context) error {
	sqlDB, err := c.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB for ping: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return sqlDB.PingContext(pingCtx)
}

// OpenConnections reports the pool's open connection count.
func (c *Connector) OpenConnections() int {
	sqlDB, err := c.DB.DB()
	if err != nil {
		return 0
	}
	return sqlDB.Stats().OpenConnections
}

func (c *Connector) Close() error {
	sqlDB, err := c.DB.DB()
	if err != nil {
		c.logger.Warn("Failed to get sql.DB for closing", zap.Error(err))
		return fmt.Errorf("failed to get sql.DB handle to close: %w", err)
	}
	c.logger.Info("Closing database connection pool")
	return sqlDB.Close()
}

// BuildDSN renders the driver connection string for cfg-style parameters.
func BuildDSN(dialect, host string, port int, dbname, sslmode, username, password string) (string, error) {
	sslmode = strings.ToLower(sslmode)
	switch strings.ToLower(dialect) {
	case "mysql":
		tls := "false"
		switch sslmode {
		case "", "disable":
		case "skip-verify", "preferred", "prefer", "allow":
			tls = "skip-verify"
		default:
			tls = "true"
		}
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC&timeout=10s&readTimeout=60s&writeTimeout=60s&tls=%s",
			username, password, host, port, dbname, tls), nil
	case "postgres":
		if sslmode == "" {
			sslmode = "disable"
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=10",
			host, port, username, password, dbname, sslmode), nil
	case "sqlite":
		return fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000", dbname), nil
	default:
		return "", fmt.Errorf("cannot build DSN: unsupported dialect %q", dialect)
	}
}
