package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxlog/journal-gateway/internal/analysis"
	"github.com/voxlog/journal-gateway/internal/resilience"
	"github.com/voxlog/journal-gateway/internal/transcript"
)

// Record is a finalized session ready for durable storage.
type Record struct {
	SessionID  string
	UserID     string
	Transcript string
	Words      []transcript.Word
	PauseTimes []float64
	StartedAt  time.Time
	Duration   time.Duration
	Analysis   *analysis.Result
}

// SessionStore persists finalized sessions. A nil store disables
// persistence; failures never affect the in-flight client response.
type SessionStore interface {
	SaveSession(ctx context.Context, rec *Record) error
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements SessionStore on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the configured database.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// SaveSession inserts the finalized session row, retrying transient
// network failures a bounded number of times.
func (s *PostgresStore) SaveSession(ctx context.Context, rec *Record) error {
	words, err := json.Marshal(rec.Words)
	if err != nil {
		return fmt.Errorf("failed to encode words: %w", err)
	}
	result, err := json.Marshal(rec.Analysis)
	if err != nil {
		return fmt.Errorf("failed to encode analysis: %w", err)
	}

	return resilience.Retry(func() error {
		_, execErr := s.pool.Exec(ctx, `
			INSERT INTO journal_sessions
				(session_id, user_id, transcript, words, pause_times, started_at, duration_seconds, analysis, title)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (session_id) DO NOTHING`,
			rec.SessionID,
			rec.UserID,
			rec.Transcript,
			words,
			rec.PauseTimes,
			rec.StartedAt,
			rec.Duration.Seconds(),
			result,
			rec.Analysis.Title,
		)
		return execErr
	}, resilience.DefaultRetryConfig(), resilience.IsRetryableNetworkError)
}

// Ping reports database reachability for readiness checks.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}
