package telemetry

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

const insertEventSQL = `
INSERT INTO signaling_events (id, kind, user_id, target_id, call_id, message_id, actor_name, detail, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

// execer is the part of *pgxpool.Pool the sink writes through.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresSink appends records to the signaling_events audit table.
type PostgresSink struct {
	db    execer
	close func()
}

// NewPostgresSink connects to dsn, applies pending migrations and returns the sink.
func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	pool, err := newPool(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &PostgresSink{db: pool, close: pool.Close}, nil
}

func (s *PostgresSink) Name() string { return "postgres" }

// Write inserts e. Re-inserting an already stored id is not an error.
func (s *PostgresSink) Write(ctx context.Context, e Event) error {
	_, err := s.db.Exec(ctx, insertEventSQL,
		e.ID, string(e.Kind), e.UserID, e.TargetID, e.CallID, e.MessageID, e.ActorName, e.Detail, e.OccurredAt)
	if err != nil && !isUniqueViolation(err) {
		return fmt.Errorf("insert signaling event: %w", err)
	}
	return nil
}

func (s *PostgresSink) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}

// newPool opens a small pgx pool and runs the embedded migrations.
func newPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}

	// Only the telemetry worker writes.
	config.MaxConns = 4
	config.MinConns = 1
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	sqlDB := stdlib.OpenDBFromPool(pool)
	defer sqlDB.Close()

	if err := runMigrations(ctx, sqlDB); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(embedMigrations)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	return nil
}

// isUniqueViolation reports a PostgreSQL unique constraint violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
