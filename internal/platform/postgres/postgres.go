package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JDerekLomas/secondrenaissance-sub001/internal/logger"
)

type Options struct {
	URL string
}

type Service struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

func New(ctx context.Context, opts Options) (*Service, error) {
	pool, err := pgxpool.New(ctx, opts.URL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Service{pool: pool, log: logger.New("Postgres")}, nil
}

func (s *Service) Close()              { s.pool.Close() }
func (s *Service) Pool() *pgxpool.Pool { return s.pool }

func (s *Service) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.pool.Ping(ctx); err != nil {
		s.log.LogErrorf("postgres health check failed: %v", err)
		return fmt.Errorf("postgres ping failed: %v", err)
	}
	return nil
}

// Migrate creates the job tables when they do not exist yet. The hosted
// database is shared with the web application, so everything is
// IF NOT EXISTS.
func (s *Service) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS translation_jobs (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	remote_source_id TEXT,
	upload_path TEXT,
	original_filename TEXT,
	title TEXT,
	creator TEXT,
	year INT,
	provider TEXT NOT NULL DEFAULT 'openai',
	prompts JSONB NOT NULL DEFAULT '{}'::jsonb,
	preview_pages INT NOT NULL DEFAULT 30,
	total_pages INT,
	pages_processed INT NOT NULL DEFAULT 0,
	current_page INT NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'pending',
	error_message TEXT,
	claim_count INT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at TIMESTAMPTZ,
	preview_completed_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_translation_jobs_claim
	ON translation_jobs (status, created_at);
CREATE INDEX IF NOT EXISTS idx_translation_jobs_user
	ON translation_jobs (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS job_pages (
	job_id TEXT NOT NULL REFERENCES translation_jobs(id) ON DELETE CASCADE,
	page_number INT NOT NULL,
	image_url TEXT,
	ocr_text TEXT,
	translation_text TEXT,
	summary_text TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	processing_time_ms BIGINT,
	error_message TEXT,
	processed_at TIMESTAMPTZ,
	PRIMARY KEY (job_id, page_number)
);
`
