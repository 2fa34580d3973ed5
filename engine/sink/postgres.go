package sink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cshuaimin/ipfs-crawler/pkg/fn"
)

// The html table is the search surface: a weighted tsvector over filename,
// title and body text, maintained by Postgres itself. One statement per
// entry: pgx's default protocol rejects multi-statement strings.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS html (
		hash     text PRIMARY KEY,
		filename text NOT NULL DEFAULT '',
		mime     text NOT NULL DEFAULT '',
		title    text NOT NULL DEFAULT '',
		text     text NOT NULL DEFAULT '',
		tsv      tsvector GENERATED ALWAYS AS (
			setweight(to_tsvector('simple', filename), 'A') ||
			setweight(to_tsvector('simple', title), 'B') ||
			setweight(to_tsvector('simple', text), 'C')
		) STORED
	)`,
	`CREATE INDEX IF NOT EXISTS html_tsv_idx ON html USING gin (tsv)`,
}

const upsertSQL = `
INSERT INTO html (hash, filename, mime, title, text)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (hash) DO UPDATE SET
	filename = EXCLUDED.filename,
	mime     = EXCLUDED.mime,
	title    = EXCLUDED.title,
	text     = EXCLUDED.text
`

// Postgres upserts records into a full-text indexed table.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to dsn and ensures the schema. The database is often
// still booting when the crawler starts, so the initial ping retries with
// backoff before giving up.
func NewPostgres(ctx context.Context, dsn string, log *slog.Logger) (*Postgres, error) {
	if log == nil {
		log = slog.Default()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("sink: parse postgres dsn: %w", err)
	}

	ping := fn.Retry(ctx, fn.RetryOpts{
		MaxAttempts: 10,
		InitialWait: time.Second,
		MaxWait:     8 * time.Second,
		Jitter:      true,
	}, func(ctx context.Context) fn.Result[struct{}] {
		if err := pool.Ping(ctx); err != nil {
			log.Warn("waiting for database", "error", err)
			return fn.Err[struct{}](err)
		}
		return fn.Ok(struct{}{})
	})
	if _, err := ping.Unwrap(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("sink: database unreachable: %w", err)
	}

	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("sink: ensure schema: %w", err)
		}
	}
	return &Postgres{pool: pool}, nil
}

// Upsert implements Sink.
func (p *Postgres) Upsert(ctx context.Context, rec Record) error {
	_, err := p.pool.Exec(ctx, upsertSQL, rec.CID, rec.Filename, rec.MIME, rec.Title, rec.Text)
	if err != nil {
		return fmt.Errorf("sink: upsert %s: %w", rec.CID, err)
	}
	return nil
}

// Close implements Sink.
func (p *Postgres) Close(context.Context) error {
	p.pool.Close()
	return nil
}
