package db

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"   // PostgreSQL driver
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/unklstewy/balloonscope/pkg/config"
)

//go:embed schema.sql
var schemaSQL string

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DB wraps a database connection with helper methods.
type DB struct {
	*sql.DB
	config config.DatabaseConfig
}

// Connect establishes a connection to PostgreSQL, or opens the SQLite file
// named by cfg.Database.
func Connect(cfg config.DatabaseConfig) (*DB, error) {
	driver, dsn, err := dataSource(cfg)
	if err != nil {
		return nil, err
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if driver == DriverSQLite {
		// One writer avoids SQLITE_BUSY between pooled connections
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if driver == DriverSQLite {
		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout=5000",
			"PRAGMA synchronous=NORMAL",
		} {
			if _, err := sqlDB.ExecContext(ctx, pragma); err != nil {
				sqlDB.Close()
				return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
			}
		}
	}

	return &DB{DB: sqlDB, config: cfg}, nil
}

func dataSource(cfg config.DatabaseConfig) (driver, dsn string, err error) {
	switch cfg.Driver {
	case DriverPostgres:
		return DriverPostgres, fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host,
			cfg.Port,
			cfg.Username,
			cfg.Password,
			cfg.Database,
			cfg.SSLMode,
		), nil
	case DriverSQLite, "sqlite3":
		if cfg.Database == "" {
			return "", "", fmt.Errorf("sqlite database path is empty")
		}
		return DriverSQLite, cfg.Database, nil
	default:
		return "", "", fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// Driver returns the database/sql driver name in use.
func (db *DB) Driver() string {
	if db.config.Driver == DriverPostgres {
		return DriverPostgres
	}
	return DriverSQLite
}

// InitSchema creates the tables if they do not exist.
// This should be called once at application startup.
func (db *DB) InitSchema(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// Rebind rewrites ? placeholders to $n for PostgreSQL.
func (db *DB) Rebind(query string) string {
	if db.Driver() != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// CleanupOldData removes packets received before now-maxAge.
// Should be called periodically to prevent unbounded growth.
func (db *DB) CleanupOldData(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge).UnixMilli()
	res, err := db.ExecContext(ctx, db.Rebind(`DELETE FROM packets WHERE received_ms < ?`), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old packets: %w", err)
	}
	return res.RowsAffected()
}

// GetStats returns database statistics.
func (db *DB) GetStats(ctx context.Context) (map[string]int64, error) {
	stats := make(map[string]int64)

	var packets int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM packets`).Scan(&packets); err != nil {
		return nil, err
	}
	stats["packets"] = packets

	var callsigns int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT callsign) FROM packets`).Scan(&callsigns); err != nil {
		return nil, err
	}
	stats["callsigns"] = callsigns

	var predictions int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM predictions`).Scan(&predictions); err != nil {
		return nil, err
	}
	stats["predictions"] = predictions

	return stats, nil
}
