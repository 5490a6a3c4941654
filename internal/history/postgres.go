package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `CREATE TABLE IF NOT EXISTS analysis_history (
	id         uuid PRIMARY KEY,
	subject    text NOT NULL,
	created_at timestamptz NOT NULL,
	payload    jsonb NOT NULL
);
CREATE INDEX IF NOT EXISTS analysis_history_created_at ON analysis_history (created_at DESC);`

// PostgresStore keeps history in the analysis_history table.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ Store = (*PostgresStore)(nil)

// ConnectPostgres opens a pool, checks it answers and creates the table.
func ConnectPostgres(ctx context.Context, url string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse db url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &PostgresStore{pool: pool, now: time.Now}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create history table: %w", err)
	}
	return nil
}

// Ping reports database health for readiness checks.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Append(ctx context.Context, rec Record) (Record, error) {
	rec = prepare(rec, s.now())
	payload := rec.Payload
	if len(payload) == 0 {
		payload = []byte("null")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO analysis_history (id, subject, created_at, payload) VALUES ($1, $2, $3, $4)`,
		rec.ID, rec.Subject, rec.CreatedAt, string(payload))
	if err != nil {
		return Record{}, fmt.Errorf("insert history record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]Record, error) {
	query := `SELECT id::text, subject, created_at FROM analysis_history ORDER BY created_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Subject, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history record: %w", err)
		}
		rec.CreatedAt = rec.CreatedAt.UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// recordID parses id as a uuid. Anything else cannot name a stored record.
func recordID(id string) (string, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return "", ErrNotFound
	}
	return u.String(), nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Record, error) {
	key, err := recordID(id)
	if err != nil {
		return Record{}, err
	}
	var (
		rec     Record
		payload string
	)
	err = s.pool.QueryRow(ctx,
		`SELECT id::text, subject, created_at, payload::text FROM analysis_history WHERE id = $1`, key,
	).Scan(&rec.ID, &rec.Subject, &rec.CreatedAt, &payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get history record: %w", err)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.Payload = []byte(payload)
	return rec, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	key, err := recordID(id)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM analysis_history WHERE id = $1`, key)
	if err != nil {
		return fmt.Errorf("delete history record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
