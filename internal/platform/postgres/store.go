package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JDerekLomas/secondrenaissance-sub001/internal/core/job"
)

// Store implements job.Store on the shared postgres database.
type Store struct {
	svc *Service
}

func NewStore(svc *Service) *Store { return &Store{svc: svc} }

const jobColumns = `id, user_id, remote_source_id, upload_path, original_filename,
	title, creator, year, provider, prompts, preview_pages,
	total_pages, pages_processed, current_page, status, error_message, claim_count,
	created_at, started_at, preview_completed_at, completed_at`

func scanJob(row pgx.Row) (*job.Job, error) {
	j := &job.Job{}
	err := row.Scan(
		&j.ID, &j.UserID, &j.RemoteSourceID, &j.UploadPath, &j.OriginalFilename,
		&j.Title, &j.Creator, &j.Year, &j.Provider, &j.Prompts, &j.PreviewPages,
		&j.TotalPages, &j.PagesProcessed, &j.CurrentPage, &j.Status, &j.ErrorMessage, &j.ClaimCount,
		&j.CreatedAt, &j.StartedAt, &j.PreviewCompletedAt, &j.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, job.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return j, nil
}

func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	_, err := s.svc.pool.Exec(ctx, `
		INSERT INTO translation_jobs (
			id, user_id, remote_source_id, upload_path, original_filename,
			title, creator, year, provider, prompts, preview_pages,
			status, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		j.ID, j.UserID, j.RemoteSourceID, j.UploadPath, j.OriginalFilename,
		j.Title, j.Creator, j.Year, j.Provider, j.Prompts, j.PreviewPages,
		j.Status, j.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id, userID string) (*job.Job, error) {
	row := s.svc.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM translation_jobs WHERE id = $1 AND user_id = $2`,
		id, userID)
	return scanJob(row)
}

func (s *Store) GetJobByID(ctx context.Context, id string) (*job.Job, error) {
	row := s.svc.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM translation_jobs WHERE id = $1`, id)
	return scanJob(row)
}

func (s *Store) ListJobs(ctx context.Context, userID string, status *job.Status, limit int) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM translation_jobs WHERE user_id = $1`
	args := []interface{}{userID}
	if status != nil {
		query += ` AND status = $2`
		args = append(args, *status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := s.svc.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*job.Job, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *Store) UpdateJob(ctx context.Context, id string, upd job.JobUpdate) (*job.Job, error) {
	sets := make([]string, 0, 8)
	args := []interface{}{id}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if upd.Status != nil {
		sets = append(sets, "status = "+arg(*upd.Status))
	}
	if upd.Prompts != nil {
		sets = append(sets, "prompts = "+arg(*upd.Prompts))
	}
	if upd.TotalPages != nil {
		sets = append(sets, "total_pages = "+arg(*upd.TotalPages))
	}
	if upd.PagesProcessed != nil {
		// Monotonic, and never past the page count. When the same report
		// carries total_pages, clamp against the incoming value since SET
		// expressions still see the old column.
		reported := "GREATEST(pages_processed, " + arg(*upd.PagesProcessed) + ")"
		total := "total_pages"
		if upd.TotalPages != nil {
			total = arg(*upd.TotalPages)
		}
		sets = append(sets, fmt.Sprintf(
			"pages_processed = LEAST(%s, COALESCE(%s, %s))", reported, total, reported))
	}
	if upd.CurrentPage != nil {
		sets = append(sets, "current_page = "+arg(*upd.CurrentPage))
	}
	if upd.ErrorMessage != nil {
		sets = append(sets, "error_message = "+arg(*upd.ErrorMessage))
	}
	if upd.PreviewCompletedAt != nil {
		sets = append(sets, "preview_completed_at = "+arg(*upd.PreviewCompletedAt))
	}
	if upd.CompletedAt != nil {
		sets = append(sets, "completed_at = "+arg(*upd.CompletedAt))
	}
	if len(sets) == 0 {
		return s.GetJobByID(ctx, id)
	}

	query := "UPDATE translation_jobs SET "
	for i, set := range sets {
		if i > 0 {
			query += ", "
		}
		query += set
	}
	query += " WHERE id = $1 RETURNING " + jobColumns

	return scanJob(s.svc.pool.QueryRow(ctx, query, args...))
}

func (s *Store) DeleteJob(ctx context.Context, id, userID string) error {
	tag, err := s.svc.pool.Exec(ctx,
		`DELETE FROM translation_jobs WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return job.ErrNotFound
	}
	return nil
}

var claimableStatuses = []string{
	string(job.StatusPending),
	string(job.StatusProcessingPreview),
	string(job.StatusProcessingFull),
}

// ClaimNext selects and claims one job inside a single transaction.
// FOR UPDATE SKIP LOCKED serializes concurrent pollers at the row: two calls
// racing on the same pending job cannot both observe it pre-claim.
func (s *Store) ClaimNext(ctx context.Context, maxClaims int) (*job.Job, error) {
	tx, err := s.svc.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback(ctx)

	// dirty tracks writes (abandonment marks) that must survive a
	// no-work exit.
	dirty := false

	for {
		var (
			id         string
			status     job.Status
			remote     *string
			claimCount int
		)
		err := tx.QueryRow(ctx, `
			SELECT id, status, remote_source_id, claim_count
			FROM translation_jobs
			WHERE status = ANY($1)
			ORDER BY (status = 'pending')::int ASC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED`,
			claimableStatuses,
		).Scan(&id, &status, &remote, &claimCount)
		if errors.Is(err, pgx.ErrNoRows) {
			if dirty {
				if err := tx.Commit(ctx); err != nil {
					return nil, fmt.Errorf("commit claim: %w", err)
				}
			}
			return nil, job.ErrNoWork
		}
		if err != nil {
			return nil, fmt.Errorf("select claimable job: %w", err)
		}

		// A job re-handed too many times is stuck, not unlucky. Fail it and
		// move on rather than starving fresh work forever.
		if maxClaims > 0 && claimCount >= maxClaims {
			msg := fmt.Sprintf("abandoned after %d claim attempts without completing", claimCount)
			if _, err := tx.Exec(ctx, `
				UPDATE translation_jobs SET status = $2, error_message = $3
				WHERE id = $1`,
				id, job.StatusFailed, msg); err != nil {
				return nil, fmt.Errorf("fail stuck job: %w", err)
			}
			s.svc.log.LogWarnf("job %s failed: %s", id, msg)
			dirty = true
			continue
		}

		newStatus := status
		if status == job.StatusPending {
			if remote != nil && *remote != "" {
				newStatus = job.StatusProcessingPreview
			} else {
				newStatus = job.StatusRendering
			}
		}

		row := tx.QueryRow(ctx, `
			UPDATE translation_jobs
			SET status = $2,
			    started_at = COALESCE(started_at, now()),
			    claim_count = claim_count + 1
			WHERE id = $1
			RETURNING `+jobColumns,
			id, newStatus)
		j, err := scanJob(row)
		if err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit claim: %w", err)
		}
		return j, nil
	}
}

func (s *Store) UpsertPage(ctx context.Context, p *job.Page) error {
	// Full replacement on conflict: the worker's latest report for a page
	// wins wholesale, no field-level merging.
	_, err := s.svc.pool.Exec(ctx, `
		INSERT INTO job_pages (
			job_id, page_number, image_url, ocr_text, translation_text,
			summary_text, status, processing_time_ms, error_message, processed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (job_id, page_number) DO UPDATE SET
			image_url = EXCLUDED.image_url,
			ocr_text = EXCLUDED.ocr_text,
			translation_text = EXCLUDED.translation_text,
			summary_text = EXCLUDED.summary_text,
			status = EXCLUDED.status,
			processing_time_ms = EXCLUDED.processing_time_ms,
			error_message = EXCLUDED.error_message,
			processed_at = EXCLUDED.processed_at`,
		p.JobID, p.PageNumber, p.ImageURL, p.OCRText, p.TranslationText,
		p.SummaryText, p.Status, p.ProcessingTimeMS, p.ErrorMessage, p.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert page: %w", err)
	}
	return nil
}

func (s *Store) ListPages(ctx context.Context, jobID string) ([]*job.Page, error) {
	rows, err := s.svc.pool.Query(ctx, `
		SELECT job_id, page_number, image_url, ocr_text, translation_text,
		       summary_text, status, processing_time_ms, error_message, processed_at
		FROM job_pages
		WHERE job_id = $1
		ORDER BY page_number ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()

	pages := make([]*job.Page, 0)
	for rows.Next() {
		p := &job.Page{}
		if err := rows.Scan(
			&p.JobID, &p.PageNumber, &p.ImageURL, &p.OCRText, &p.TranslationText,
			&p.SummaryText, &p.Status, &p.ProcessingTimeMS, &p.ErrorMessage, &p.ProcessedAt,
		); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}
