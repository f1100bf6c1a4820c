package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/seanankenbruck/kql-resolver/internal/errors"
)

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host     string
	Port     string
	Database string
	Username string
	Password string
	SSLMode  string
}

// DSN returns the lib/pq connection string
func (c PostgresConfig) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.Database, sslMode)
}

// URL returns the connection string in URL form, as golang-migrate expects
func (c PostgresConfig) URL() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.Username, c.Password, c.Host, c.Port, c.Database, sslMode)
}

// PostgresStore implements Store on the query_history table
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens and verifies a connection pool
func NewPostgresStore(config PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", config.DSN())
	if err != nil {
		return nil, errors.NewDatabaseConnectionError(err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.NewDatabaseConnectionError(err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresStore{db: db}, nil
}

// Ping tests the database connection
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Record inserts an entry
func (s *PostgresStore) Record(ctx context.Context, entry Entry) error {
	entry = prepare(entry, time.Now().UTC())

	query := `
		INSERT INTO query_history (
			id, template, raw_query, workspace, from_raw, to_raw,
			range_from, range_to, interval, macros, user_id,
			executed, cached, row_count, duration_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		entry.Template,
		entry.RawQuery,
		entry.Workspace,
		entry.FromRaw,
		entry.ToRaw,
		entry.From,
		entry.To,
		entry.Interval,
		pq.Array(entry.Macros),
		entry.UserID,
		entry.Executed,
		entry.Cached,
		entry.RowCount,
		entry.DurationMS,
		entry.CreatedAt,
	)
	if err != nil {
		return errors.NewDatabaseQueryError(err, "record query history")
	}
	return nil
}

// Recent returns the newest entries first
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	return s.RecentByUser(ctx, "", limit)
}

// RecentByUser returns the newest entries for a user first. An empty
// userID matches every entry.
func (s *PostgresStore) RecentByUser(ctx context.Context, userID string, limit int) ([]Entry, error) {
	query := `
		SELECT id, template, raw_query, workspace, from_raw, to_raw,
		       range_from, range_to, interval, macros, user_id,
		       executed, cached, row_count, duration_ms, created_at
		FROM query_history
		WHERE ($1 = '' OR user_id = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, userID, NormalizeLimit(limit))
	if err != nil {
		return nil, errors.NewDatabaseQueryError(err, "list query history")
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		err := rows.Scan(
			&e.ID,
			&e.Template,
			&e.RawQuery,
			&e.Workspace,
			&e.FromRaw,
			&e.ToRaw,
			&e.From,
			&e.To,
			&e.Interval,
			pq.Array(&e.Macros),
			&e.UserID,
			&e.Executed,
			&e.Cached,
			&e.RowCount,
			&e.DurationMS,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history rows: %w", err)
	}

	return entries, nil
}
