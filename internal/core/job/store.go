package job

import (
	"context"
	"time"

	"github.com/JDerekLomas/secondrenaissance-sub001/prompts"
)

// JobUpdate is a sparse write against a job row. Nil fields are left
// untouched. pages_processed is kept monotonic and clamped to total_pages by
// the store, so the counter invariant holds after every write.
type JobUpdate struct {
	Status             *Status
	Prompts            *prompts.Set
	TotalPages         *int
	PagesProcessed     *int
	CurrentPage        *int
	ErrorMessage       *string
	PreviewCompletedAt *time.Time
	CompletedAt        *time.Time
}

// Empty reports whether the update would write nothing.
func (u JobUpdate) Empty() bool {
	return u.Status == nil && u.Prompts == nil && u.TotalPages == nil &&
		u.PagesProcessed == nil && u.CurrentPage == nil && u.ErrorMessage == nil &&
		u.PreviewCompletedAt == nil && u.CompletedAt == nil
}

// Store is the persistence contract for jobs and their pages. The postgres
// implementation lives in internal/platform/postgres; tests use an in-memory
// fake. ClaimNext is the one operation that must be atomic at the storage
// layer: concurrent callers must never both claim the same pending job.
type Store interface {
	CreateJob(ctx context.Context, j *Job) error

	// GetJob is owner-scoped: a job belonging to another user is ErrNotFound.
	GetJob(ctx context.Context, id, userID string) (*Job, error)

	// GetJobByID is the worker path and ignores ownership.
	GetJobByID(ctx context.Context, id string) (*Job, error)

	ListJobs(ctx context.Context, userID string, status *Status, limit int) ([]*Job, error)

	UpdateJob(ctx context.Context, id string, upd JobUpdate) (*Job, error)

	// DeleteJob removes the job and cascades to its pages. Owner-scoped.
	DeleteJob(ctx context.Context, id, userID string) error

	// ClaimNext selects and claims the next eligible job: in-flight states
	// before pending, FIFO by created_at within a bucket. A claimed pending
	// job advances to processing_preview (remote source) or rendering
	// (upload source); in-flight jobs are re-handed unchanged. Jobs handed
	// out maxClaims times (0 = unlimited) are failed instead of re-handed.
	// Returns ErrNoWork when nothing is eligible.
	ClaimNext(ctx context.Context, maxClaims int) (*Job, error)

	// UpsertPage fully replaces any existing row with the same
	// (job_id, page_number) key.
	UpsertPage(ctx context.Context, p *Page) error

	ListPages(ctx context.Context, jobID string) ([]*Page, error)
}
