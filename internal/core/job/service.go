package job

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/JDerekLomas/secondrenaissance-sub001/internal/logger"
	"github.com/JDerekLomas/secondrenaissance-sub001/prompts"
)

// FileStore persists an uploaded document before its job row exists. A job
// must never reference a payload that failed to persist.
type FileStore interface {
	Save(ctx context.Context, filename string, data []byte) (string, error)
}

type Service struct {
	log       *logger.Logger
	store     Store
	files     FileStore
	maxClaims int
	provider  string
}

func NewService(store Store, files FileStore, defaultProvider string, maxClaims int) *Service {
	return &Service{
		log:       logger.New("JobService"),
		store:     store,
		files:     files,
		maxClaims: maxClaims,
		provider:  defaultProvider,
	}
}

// SubmitRequest carries a normalized submission: exactly one of
// RemoteSourceID or File must be present. PromptsRaw is the submitter's
// stage->text mapping as JSON, or nil for the defaults.
type SubmitRequest struct {
	RemoteSourceID string
	Title          string
	Creator        string
	Year           int

	File     []byte
	Filename string

	Provider     string
	PromptsRaw   []byte
	PreviewPages int
}

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// Submit validates and persists a new translation job in the pending state.
func (s *Service) Submit(ctx context.Context, userID string, req SubmitRequest) (*Job, error) {
	hasRemote := req.RemoteSourceID != ""
	hasFile := len(req.File) > 0
	if req.Filename != "" && !hasFile {
		return nil, fmt.Errorf("%w: uploaded file is empty", ErrInvalidInput)
	}
	if hasRemote == hasFile {
		return nil, fmt.Errorf("%w: exactly one of remote_source_identifier or file is required", ErrInvalidInput)
	}

	promptSet := prompts.Defaults()
	if len(req.PromptsRaw) > 0 {
		overrides, err := prompts.ParseOverrides(req.PromptsRaw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		promptSet = promptSet.Merge(overrides)
	}

	previewPages := req.PreviewPages
	if previewPages <= 0 {
		previewPages = DefaultPreviewPages
	}
	provider := req.Provider
	if provider == "" {
		provider = s.provider
	}

	j := &Job{
		ID:           uuid.New().String(),
		UserID:       userID,
		Provider:     provider,
		Prompts:      promptSet,
		PreviewPages: previewPages,
		Status:       StatusPending,
		CreatedAt:    time.Now().UTC(),
	}

	if hasRemote {
		j.RemoteSourceID = &req.RemoteSourceID
		if req.Title != "" {
			j.Title = &req.Title
		}
		if req.Creator != "" {
			j.Creator = &req.Creator
		}
		if req.Year != 0 {
			j.Year = &req.Year
		}
	} else {
		// Persist the payload before the job row exists.
		name := fmt.Sprintf("%d_%s", time.Now().UnixMilli(),
			unsafeFilenameChars.ReplaceAllString(req.Filename, "_"))
		path, err := s.files.Save(ctx, name, req.File)
		if err != nil {
			return nil, fmt.Errorf("persist upload: %w", err)
		}
		j.UploadPath = &path
		filename := req.Filename
		j.OriginalFilename = &filename
	}

	if err := s.store.CreateJob(ctx, j); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	s.log.LogInfof("job %s submitted by %s (remote=%v)", j.ID, userID, hasRemote)
	return j, nil
}

// Get returns a job and its pages, ordered by page number.
func (s *Service) Get(ctx context.Context, id, userID string) (*Job, []*Page, error) {
	j, err := s.store.GetJob(ctx, id, userID)
	if err != nil {
		return nil, nil, err
	}
	pages, err := s.store.ListPages(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("list pages: %w", err)
	}
	return j, pages, nil
}

// List returns the caller's jobs, newest first, optionally filtered by status.
func (s *Service) List(ctx context.Context, userID string, status *Status, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	return s.store.ListJobs(ctx, userID, status, limit)
}

func (s *Service) Delete(ctx context.Context, id, userID string) error {
	return s.store.DeleteJob(ctx, id, userID)
}

// Review gate actions.
const (
	ActionContinue = "continue"
	ActionCancel   = "cancel"
)

// UpdateRequest is one review-gate call. The three operations are mutually
// exclusive: a prompt edit, an action, or a direct status change.
type UpdateRequest struct {
	PromptsRaw []byte
	Action     string
	Status     string
}

// Update applies a review-gate operation to a job the caller owns.
func (s *Service) Update(ctx context.Context, id, userID string, req UpdateRequest) (*Job, error) {
	set := 0
	if len(req.PromptsRaw) > 0 {
		set++
	}
	if req.Action != "" {
		set++
	}
	if req.Status != "" {
		set++
	}
	if set == 0 {
		return nil, fmt.Errorf("%w: no updates provided", ErrInvalidInput)
	}
	if set > 1 {
		return nil, fmt.Errorf("%w: prompts, action and status are mutually exclusive", ErrInvalidInput)
	}

	j, err := s.store.GetJob(ctx, id, userID)
	if err != nil {
		return nil, err
	}

	var upd JobUpdate
	switch {
	case len(req.PromptsRaw) > 0:
		overrides, err := prompts.ParseOverrides(req.PromptsRaw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		merged := j.Prompts.Merge(overrides)
		upd.Prompts = &merged

	case req.Action == ActionContinue:
		if j.Status != StatusAwaitingReview {
			return nil, fmt.Errorf("%w (status is %s)", ErrNotAwaitingReview, j.Status)
		}
		status := StatusProcessingFull
		upd.Status = &status

	case req.Action == ActionCancel:
		if j.Status.Terminal() {
			return nil, fmt.Errorf("%w: cannot cancel from %s", ErrTerminal, j.Status)
		}
		status := StatusCancelled
		upd.Status = &status

	case req.Action != "":
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidInput, req.Action)

	default:
		// Direct status changes go through the same transition table as
		// worker and review transitions; there is no unchecked override.
		target := Status(req.Status)
		if !CanTransition(j.Status, target) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, target)
		}
		upd.Status = &target
	}

	updated, err := s.store.UpdateJob(ctx, id, upd)
	if err != nil {
		return nil, fmt.Errorf("update job: %w", err)
	}
	if upd.Status != nil {
		s.log.LogInfof("job %s: %s -> %s", id, j.Status, *upd.Status)
	}
	return updated, nil
}

// Claim hands the next eligible job to a polling worker, or ErrNoWork.
func (s *Service) Claim(ctx context.Context) (*Job, error) {
	j, err := s.store.ClaimNext(ctx, s.maxClaims)
	if err != nil {
		return nil, err
	}
	s.log.LogInfof("job %s claimed (status=%s, claim_count=%d)", j.ID, j.Status, j.ClaimCount)
	return j, nil
}

// PageResult is one page outcome reported by the worker.
type PageResult struct {
	PageNumber       int        `json:"page_number"`
	ImageURL         *string    `json:"image_url,omitempty"`
	OCRText          *string    `json:"ocr_text,omitempty"`
	TranslationText  *string    `json:"translation_text,omitempty"`
	SummaryText      *string    `json:"summary_text,omitempty"`
	Status           PageStatus `json:"status"`
	ProcessingTimeMS *int64     `json:"processing_time_ms,omitempty"`
	ErrorMessage     *string    `json:"error_message,omitempty"`
}

// ProgressReport is the worker's sparse update: any subset of the job fields
// plus at most one page result.
type ProgressReport struct {
	JobID              string      `json:"job_id"`
	Status             *Status     `json:"status,omitempty"`
	TotalPages         *int        `json:"total_pages,omitempty"`
	PagesProcessed     *int        `json:"pages_processed,omitempty"`
	CurrentPage        *int        `json:"current_page,omitempty"`
	ErrorMessage       *string     `json:"error_message,omitempty"`
	PreviewCompletedAt *time.Time  `json:"preview_completed_at,omitempty"`
	CompletedAt        *time.Time  `json:"completed_at,omitempty"`
	PageResult         *PageResult `json:"page_result,omitempty"`
}

// ReportProgress persists a worker report. Only supplied fields are written;
// the reported status is trusted as-is. Writes against a terminal job are
// tolerated since the worker may be mid-page when a cancellation lands.
func (s *Service) ReportProgress(ctx context.Context, rep ProgressReport) error {
	if rep.JobID == "" {
		return fmt.Errorf("%w: job_id is required", ErrInvalidInput)
	}
	if _, err := s.store.GetJobByID(ctx, rep.JobID); err != nil {
		return err
	}

	upd := JobUpdate{
		Status:             rep.Status,
		TotalPages:         rep.TotalPages,
		PagesProcessed:     rep.PagesProcessed,
		CurrentPage:        rep.CurrentPage,
		ErrorMessage:       rep.ErrorMessage,
		PreviewCompletedAt: rep.PreviewCompletedAt,
		CompletedAt:        rep.CompletedAt,
	}
	if !upd.Empty() {
		if _, err := s.store.UpdateJob(ctx, rep.JobID, upd); err != nil {
			return fmt.Errorf("update job: %w", err)
		}
	}

	if rep.PageResult != nil {
		pr := rep.PageResult
		if pr.PageNumber < 1 {
			return fmt.Errorf("%w: page_number must be positive", ErrInvalidInput)
		}
		page := &Page{
			JobID:            rep.JobID,
			PageNumber:       pr.PageNumber,
			ImageURL:         pr.ImageURL,
			OCRText:          pr.OCRText,
			TranslationText:  pr.TranslationText,
			SummaryText:      pr.SummaryText,
			Status:           pr.Status,
			ProcessingTimeMS: pr.ProcessingTimeMS,
			ErrorMessage:     pr.ErrorMessage,
		}
		if pr.Status == PageStatusCompleted {
			now := time.Now().UTC()
			page.ProcessedAt = &now
		}
		if err := s.store.UpsertPage(ctx, page); err != nil {
			return fmt.Errorf("upsert page: %w", err)
		}
	}
	return nil
}
