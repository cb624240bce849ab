package database

import (
	"context"
	"database/sql"
	"errors"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/toyforge/storefront/internal/config"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schema string

// OpenDB opens the primary read/write pool.
func OpenDB(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*sql.DB, error) {
	return OpenDBWithDSN(ctx, cfg.PrimaryDSN, cfg, logger.With(zap.String("pool", "primary")))
}

// OpenReadOnlyDB opens the pool used by the analytics assistant and dashboard.
func OpenReadOnlyDB(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*sql.DB, error) {
	return OpenDBWithDSN(ctx, cfg.ReadOnlyDSN, cfg, logger.With(zap.String("pool", "readonly")))
}

// OpenDBWithDSN creates and configures a connection pool for any DSN.
func OpenDBWithDSN(ctx context.Context, dsn string, cfg config.DatabaseConfig, logger *zap.Logger) (*sql.DB, error) {
	// 1. Normalise the DSN: times are scanned into time.Time in UTC.
	normalized, err := NormalizeDSN(dsn)
	if err != nil {
		return nil, err
	}

	// 2. Open a new connection pool.
	db, err := sql.Open("mysql", normalized)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	// 3. Configure the connection pool settings.
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnLifetime)

	// 4. Ping the database to verify the connection.
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	logger.Info("database connection pool established",
		zap.Int("maxOpenConns", cfg.MaxOpenConns),
		zap.Duration("connLifetime", cfg.ConnLifetime),
	)
	return db, nil
}

// NormalizeDSN forces parseTime and UTC on a MySQL DSN.
func NormalizeDSN(dsn string) (string, error) {
	c, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	c.ParseTime = true
	c.Loc = time.UTC
	if c.Params == nil {
		c.Params = map[string]string{}
	}
	if _, ok := c.Params["time_zone"]; !ok {
		c.Params["time_zone"] = "'+00:00'"
	}
	return c.FormatDSN(), nil
}

// Migrate creates any missing tables. Statements are idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range Statements() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i+1, err)
		}
	}
	return nil
}

// Statements splits the embedded schema into single statements.
func Statements() []string {
	var out []string
	for _, part := range strings.Split(schema, ";") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// IsDuplicateEntry reports whether err is a MySQL unique-key violation.
func IsDuplicateEntry(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}
