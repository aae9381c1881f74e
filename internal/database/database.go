package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	"github.com/XSAM/otelsql"
	_ "github.com/jackc/pgx/v5/stdlib"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"oppcore/internal/config"
)

var sqlOpen = sql.Open

// RedactDSN masks the password segment of a connection URL for logging.
func RedactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, has := u.User.Password(); has {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// NewPostgres opens a database/sql handle using the pgx stdlib driver wrapped
// with otelsql for tracing. The handle is capped at the pool's full capacity so
// the admission pool above it is the only arbiter of connection counts;
// ConnMaxLifetime acts as a backstop behind the pool's own TTL recycling.
func NewPostgres(dsn string, pool config.PoolConfig) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database URL is required")
	}
	if err := pool.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pool config: %w", err)
	}

	// Register the otelsql driver wrapper
	driverName, err := otelsql.Register("pgx",
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
		otelsql.WithSQLCommenter(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register otelsql: %w", err)
	}

	db, err := sqlOpen(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}

	db.SetMaxOpenConns(pool.Capacity())
	db.SetMaxIdleConns(pool.Size)
	db.SetConnMaxLifetime(pool.ConnTTL)

	// Verify connectivity with a short timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	return db, nil
}

// SQLConnDialer returns a Dialer that pins dedicated connections from db.
// Each dialed Conn maps to exactly one underlying driver connection until closed.
func SQLConnDialer(db *sql.DB) Dialer {
	return func(ctx context.Context) (Conn, error) {
		return db.Conn(ctx)
	}
}
