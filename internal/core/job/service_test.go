package job_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JDerekLomas/secondrenaissance-sub001/internal/core/job"
	"github.com/JDerekLomas/secondrenaissance-sub001/internal/core/job/jobtest"
	"github.com/JDerekLomas/secondrenaissance-sub001/prompts"
)

type memFiles struct {
	mu    sync.Mutex
	saved map[string][]byte
	fail  bool
}

func newMemFiles() *memFiles { return &memFiles{saved: make(map[string][]byte)} }

func (m *memFiles) Save(_ context.Context, filename string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return "", fmt.Errorf("disk full")
	}
	m.saved[filename] = data
	return "uploads/" + filename, nil
}

func newService(maxClaims int) (*job.Service, *jobtest.Store, *memFiles) {
	store := jobtest.NewStore()
	files := newMemFiles()
	return job.NewService(store, files, "openai", maxClaims), store, files
}

func seedJob(t *testing.T, store *jobtest.Store, id string, status job.Status, createdAt time.Time, remote string) {
	t.Helper()
	j := &job.Job{
		ID:           id,
		UserID:       "user-1",
		Provider:     "openai",
		Prompts:      prompts.Defaults(),
		PreviewPages: job.DefaultPreviewPages,
		Status:       status,
		CreatedAt:    createdAt,
	}
	if remote != "" {
		j.RemoteSourceID = &remote
	}
	require.NoError(t, store.CreateJob(context.Background(), j))
}

func TestSubmitRemoteSource(t *testing.T) {
	svc, _, _ := newService(0)
	ctx := context.Background()

	j, err := svc.Submit(ctx, "user-1", job.SubmitRequest{
		RemoteSourceID: "demysteriisaegyp00iamb",
		Title:          "De Mysteriis Aegyptiorum",
		Creator:        "Iamblichus",
		Year:           1497,
	})
	require.NoError(t, err)

	assert.Equal(t, job.StatusPending, j.Status)
	assert.Equal(t, "user-1", j.UserID)
	assert.Equal(t, "openai", j.Provider)
	assert.Equal(t, job.DefaultPreviewPages, j.PreviewPages)
	assert.Equal(t, prompts.Defaults(), j.Prompts)
	require.NotNil(t, j.Title)
	assert.Equal(t, "De Mysteriis Aegyptiorum", *j.Title)
	assert.True(t, j.HasRemoteSource())
	assert.Nil(t, j.StartedAt)
	assert.False(t, j.CreatedAt.IsZero())
}

func TestSubmitUploadPersistsBeforeCreate(t *testing.T) {
	svc, store, files := newService(0)
	ctx := context.Background()

	j, err := svc.Submit(ctx, "user-1", job.SubmitRequest{
		File:     []byte("%PDF-1.4 ..."),
		Filename: "Ficino de vita (1489).pdf",
	})
	require.NoError(t, err)

	require.NotNil(t, j.UploadPath)
	assert.False(t, j.HasRemoteSource())
	require.NotNil(t, j.OriginalFilename)
	assert.Equal(t, "Ficino de vita (1489).pdf", *j.OriginalFilename)

	// Stored under a sanitized, timestamp-prefixed name
	require.Len(t, files.saved, 1)
	for name := range files.saved {
		assert.Regexp(t, `^\d+_Ficino_de_vita__1489_\.pdf$`, name)
	}

	// Storage failure must leave no job row behind
	files.fail = true
	_, err = svc.Submit(ctx, "user-1", job.SubmitRequest{File: []byte("x"), Filename: "b.pdf"})
	require.Error(t, err)
	jobs, err := store.ListJobs(ctx, "user-1", nil, 100)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestSubmitValidation(t *testing.T) {
	svc, store, _ := newService(0)
	ctx := context.Background()

	tests := []struct {
		name string
		req  job.SubmitRequest
	}{
		{"no source at all", job.SubmitRequest{Title: "orphan"}},
		{"both sources", job.SubmitRequest{RemoteSourceID: "x", File: []byte("y"), Filename: "y.pdf"}},
		{"empty upload", job.SubmitRequest{Filename: "empty.pdf"}},
		{"unparseable prompts", job.SubmitRequest{RemoteSourceID: "x", PromptsRaw: []byte("{nope")}},
		{"unknown prompt stage", job.SubmitRequest{RemoteSourceID: "x", PromptsRaw: []byte(`{"ocr":"a","marginalia":"b"}`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Submit(ctx, "user-1", tt.req)
			assert.ErrorIs(t, err, job.ErrInvalidInput)
		})
	}

	// No rows were created by any rejected submission
	jobs, err := store.ListJobs(ctx, "user-1", nil, 100)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestSubmitPromptAndPreviewOverrides(t *testing.T) {
	svc, _, _ := newService(0)
	ctx := context.Background()

	j, err := svc.Submit(ctx, "user-1", job.SubmitRequest{
		RemoteSourceID: "x",
		PromptsRaw:     []byte(`{"summary":"one sentence only"}`),
		PreviewPages:   5,
		Provider:       "anthropic",
	})
	require.NoError(t, err)
	assert.Equal(t, 5, j.PreviewPages)
	assert.Equal(t, "anthropic", j.Provider)
	assert.Equal(t, "one sentence only", j.Prompts.Summary)
	assert.Equal(t, prompts.Defaults().OCR, j.Prompts.OCR)

	// Non-positive preview counts fall back to the default
	j, err = svc.Submit(ctx, "user-1", job.SubmitRequest{RemoteSourceID: "y", PreviewPages: -3})
	require.NoError(t, err)
	assert.Equal(t, job.DefaultPreviewPages, j.PreviewPages)
}

func TestClaimPrefersInFlightOverPending(t *testing.T) {
	svc, store, _ := newService(0)
	ctx := context.Background()

	t1 := time.Now().Add(-2 * time.Hour)
	t2 := time.Now().Add(-1 * time.Hour)
	seedJob(t, store, "older-pending", job.StatusPending, t1, "item-a")
	seedJob(t, store, "newer-inflight", job.StatusProcessingPreview, t2, "item-b")

	j, err := svc.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, "newer-inflight", j.ID)
	// Re-handing an in-flight job leaves its state unchanged
	assert.Equal(t, job.StatusProcessingPreview, j.Status)
}

func TestClaimFIFOWithinBucket(t *testing.T) {
	svc, store, _ := newService(0)
	ctx := context.Background()

	seedJob(t, store, "second", job.StatusPending, time.Now().Add(-1*time.Hour), "b")
	seedJob(t, store, "first", job.StatusPending, time.Now().Add(-2*time.Hour), "a")

	j, err := svc.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", j.ID)
}

func TestClaimTransitionsBySource(t *testing.T) {
	svc, store, _ := newService(0)
	ctx := context.Background()

	seedJob(t, store, "remote", job.StatusPending, time.Now().Add(-2*time.Hour), "ia-item")
	j, err := svc.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, job.StatusProcessingPreview, j.Status)
	require.NotNil(t, j.StartedAt)
	firstStart := *j.StartedAt

	// Uploads need local rendering first
	upload := &job.Job{
		ID: "upload", UserID: "user-1", Provider: "openai",
		Prompts: prompts.Defaults(), PreviewPages: 30,
		Status: job.StatusPending, CreatedAt: time.Now(),
	}
	path := "uploads/123_book.pdf"
	upload.UploadPath = &path
	require.NoError(t, store.CreateJob(ctx, upload))

	// In-flight "remote" is still preferred; claim it again and check
	// started_at is only set once
	j, err = svc.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, "remote", j.ID)
	assert.Equal(t, firstStart, *j.StartedAt)

	// Cancel it so the pending upload becomes the head of the queue
	_, err = svc.Update(ctx, "remote", "user-1", job.UpdateRequest{Action: job.ActionCancel})
	require.NoError(t, err)

	j, err = svc.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, "upload", j.ID)
	assert.Equal(t, job.StatusRendering, j.Status)
}

func TestClaimNoWork(t *testing.T) {
	svc, store, _ := newService(0)
	ctx := context.Background()

	_, err := svc.Claim(ctx)
	assert.ErrorIs(t, err, job.ErrNoWork)

	// Terminal and reviewing jobs are not claimable
	seedJob(t, store, "done", job.StatusCompleted, time.Now(), "a")
	seedJob(t, store, "review", job.StatusAwaitingReview, time.Now(), "b")
	_, err = svc.Claim(ctx)
	assert.ErrorIs(t, err, job.ErrNoWork)
}

func TestClaimExclusivityUnderConcurrency(t *testing.T) {
	svc, store, _ := newService(0)
	ctx := context.Background()

	seedJob(t, store, "contested", job.StatusPending, time.Now().Add(-time.Hour), "item")

	const callers = 8
	results := make([]*job.Job, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			j, err := svc.Claim(ctx)
			if err == nil {
				results[i] = j
			}
		}(i)
	}
	wg.Wait()

	// Exactly one caller performed the pending -> in-flight transition;
	// everyone else got the job re-handed post-claim, never pre-claim.
	freshClaims := 0
	for _, j := range results {
		require.NotNil(t, j)
		assert.NotEqual(t, job.StatusPending, j.Status)
		if j.ClaimCount == 1 {
			freshClaims++
		}
	}
	assert.Equal(t, 1, freshClaims)

	final, err := store.GetJobByID(ctx, "contested")
	require.NoError(t, err)
	assert.Equal(t, callers, final.ClaimCount)
}

func TestClaimAbandonsStuckJobs(t *testing.T) {
	svc, store, _ := newService(3)
	ctx := context.Background()

	seedJob(t, store, "stuck", job.StatusProcessingPreview, time.Now().Add(-2*time.Hour), "a")
	seedJob(t, store, "fresh", job.StatusPending, time.Now().Add(-1*time.Hour), "b")

	var lastID string
	for i := 0; i < 3; i++ {
		j, err := svc.Claim(ctx)
		require.NoError(t, err)
		lastID = j.ID
	}
	assert.Equal(t, "stuck", lastID)

	// Fourth poll fails the stuck job and moves on to fresh work
	j, err := svc.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fresh", j.ID)

	stuck, err := store.GetJobByID(ctx, "stuck")
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, stuck.Status)
	require.NotNil(t, stuck.ErrorMessage)
	assert.Contains(t, *stuck.ErrorMessage, "claim attempts")
}

func TestUpdateContinuePrecondition(t *testing.T) {
	svc, store, _ := newService(0)
	ctx := context.Background()

	for _, status := range []job.Status{job.StatusPending, job.StatusProcessingPreview, job.StatusCompleted} {
		id := "job-" + string(status)
		seedJob(t, store, id, status, time.Now(), "x")

		_, err := svc.Update(ctx, id, "user-1", job.UpdateRequest{Action: job.ActionContinue})
		assert.ErrorIs(t, err, job.ErrNotAwaitingReview)

		unchanged, err := store.GetJobByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, status, unchanged.Status)
	}

	seedJob(t, store, "reviewing", job.StatusAwaitingReview, time.Now(), "x")
	j, err := svc.Update(ctx, "reviewing", "user-1", job.UpdateRequest{Action: job.ActionContinue})
	require.NoError(t, err)
	assert.Equal(t, job.StatusProcessingFull, j.Status)
}

func TestUpdateCancelAvailability(t *testing.T) {
	svc, store, _ := newService(0)
	ctx := context.Background()

	nonTerminal := []job.Status{
		job.StatusPending, job.StatusRendering, job.StatusProcessingPreview,
		job.StatusAwaitingReview, job.StatusProcessingFull,
	}
	for _, status := range nonTerminal {
		id := "ok-" + string(status)
		seedJob(t, store, id, status, time.Now(), "x")
		j, err := svc.Update(ctx, id, "user-1", job.UpdateRequest{Action: job.ActionCancel})
		require.NoError(t, err, "cancel from %s", status)
		assert.Equal(t, job.StatusCancelled, j.Status)
	}

	for _, status := range []job.Status{job.StatusCompleted, job.StatusFailed, job.StatusCancelled} {
		id := "no-" + string(status)
		seedJob(t, store, id, status, time.Now(), "x")
		_, err := svc.Update(ctx, id, "user-1", job.UpdateRequest{Action: job.ActionCancel})
		assert.ErrorIs(t, err, job.ErrTerminal, "cancel from %s", status)
	}
}

func TestUpdateDirectStatusIsValidated(t *testing.T) {
	svc, store, _ := newService(0)
	ctx := context.Background()

	seedJob(t, store, "previewing", job.StatusProcessingPreview, time.Now(), "x")

	// Forcing completed would bypass the whole pipeline
	_, err := svc.Update(ctx, "previewing", "user-1", job.UpdateRequest{Status: "completed"})
	assert.ErrorIs(t, err, job.ErrInvalidTransition)

	j, err := svc.Update(ctx, "previewing", "user-1", job.UpdateRequest{Status: "awaiting_review"})
	require.NoError(t, err)
	assert.Equal(t, job.StatusAwaitingReview, j.Status)
}

func TestUpdatePrompts(t *testing.T) {
	svc, store, _ := newService(0)
	ctx := context.Background()
	seedJob(t, store, "j1", job.StatusAwaitingReview, time.Now(), "x")

	j, err := svc.Update(ctx, "j1", "user-1", job.UpdateRequest{PromptsRaw: []byte(`{"ocr":"careful with ligatures"}`)})
	require.NoError(t, err)
	assert.Equal(t, "careful with ligatures", j.Prompts.OCR)
	assert.Equal(t, prompts.Defaults().Translation, j.Prompts.Translation)
	// Prompt edits never touch the state machine
	assert.Equal(t, job.StatusAwaitingReview, j.Status)
}

func TestUpdateRejectsEmptyAndMixedCalls(t *testing.T) {
	svc, store, _ := newService(0)
	ctx := context.Background()
	seedJob(t, store, "j1", job.StatusAwaitingReview, time.Now(), "x")

	_, err := svc.Update(ctx, "j1", "user-1", job.UpdateRequest{})
	assert.ErrorIs(t, err, job.ErrInvalidInput)

	_, err = svc.Update(ctx, "j1", "user-1", job.UpdateRequest{
		Action: job.ActionContinue, PromptsRaw: []byte(`{"ocr":"x"}`),
	})
	assert.ErrorIs(t, err, job.ErrInvalidInput)

	_, err = svc.Update(ctx, "j1", "user-1", job.UpdateRequest{Action: "restart"})
	assert.ErrorIs(t, err, job.ErrInvalidInput)
}

func TestOwnershipScoping(t *testing.T) {
	svc, store, _ := newService(0)
	ctx := context.Background()
	seedJob(t, store, "mine", job.StatusAwaitingReview, time.Now(), "x")

	_, _, err := svc.Get(ctx, "mine", "someone-else")
	assert.ErrorIs(t, err, job.ErrNotFound)

	_, err = svc.Update(ctx, "mine", "someone-else", job.UpdateRequest{Action: job.ActionCancel})
	assert.ErrorIs(t, err, job.ErrNotFound)

	err = svc.Delete(ctx, "mine", "someone-else")
	assert.ErrorIs(t, err, job.ErrNotFound)

	// Owner still sees it, untouched
	j, _, err := svc.Get(ctx, "mine", "user-1")
	require.NoError(t, err)
	assert.Equal(t, job.StatusAwaitingReview, j.Status)
}

func TestReportProgressSparseMerge(t *testing.T) {
	svc, store, _ := newService(0)
	ctx := context.Background()
	seedJob(t, store, "j1", job.StatusProcessingPreview, time.Now(), "x")

	total := 5
	pages := 2
	current := 3
	require.NoError(t, svc.ReportProgress(ctx, job.ProgressReport{
		JobID: "j1", TotalPages: &total, PagesProcessed: &pages, CurrentPage: &current,
	}))

	j, err := store.GetJobByID(ctx, "j1")
	require.NoError(t, err)
	require.NotNil(t, j.TotalPages)
	assert.Equal(t, 5, *j.TotalPages)
	assert.Equal(t, 2, j.PagesProcessed)
	assert.Equal(t, 3, j.CurrentPage)
	// Untouched fields keep their values
	assert.Equal(t, job.StatusProcessingPreview, j.Status)

	// Absent fields stay put on a later report
	status := job.StatusAwaitingReview
	require.NoError(t, svc.ReportProgress(ctx, job.ProgressReport{JobID: "j1", Status: &status}))
	j, _ = store.GetJobByID(ctx, "j1")
	assert.Equal(t, job.StatusAwaitingReview, j.Status)
	assert.Equal(t, 2, j.PagesProcessed)
}

func TestReportProgressCounterInvariant(t *testing.T) {
	svc, store, _ := newService(0)
	ctx := context.Background()
	seedJob(t, store, "j1", job.StatusProcessingFull, time.Now(), "x")

	total := 10
	over := 14
	require.NoError(t, svc.ReportProgress(ctx, job.ProgressReport{
		JobID: "j1", TotalPages: &total, PagesProcessed: &over,
	}))
	j, _ := store.GetJobByID(ctx, "j1")
	assert.Equal(t, 10, j.PagesProcessed, "pages_processed must never exceed total_pages")

	// Monotonic: a stale lower counter does not regress the job
	stale := 4
	require.NoError(t, svc.ReportProgress(ctx, job.ProgressReport{JobID: "j1", PagesProcessed: &stale}))
	j, _ = store.GetJobByID(ctx, "j1")
	assert.Equal(t, 10, j.PagesProcessed)
}

func TestReportProgressPageUpsert(t *testing.T) {
	svc, store, _ := newService(0)
	ctx := context.Background()
	seedJob(t, store, "j1", job.StatusProcessingPreview, time.Now(), "x")

	ocr1 := "first pass"
	elapsed := int64(1200)
	require.NoError(t, svc.ReportProgress(ctx, job.ProgressReport{
		JobID: "j1",
		PageResult: &job.PageResult{
			PageNumber: 1, OCRText: &ocr1, Status: job.PageStatusProcessing, ProcessingTimeMS: &elapsed,
		},
	}))

	pages, err := store.ListPages(ctx, "j1")
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Nil(t, pages[0].ProcessedAt, "processed_at only set on completion")

	// Same key again: full replacement, not a merge
	ocr2 := "second pass"
	translation := "On the mysteries of the Egyptians"
	require.NoError(t, svc.ReportProgress(ctx, job.ProgressReport{
		JobID: "j1",
		PageResult: &job.PageResult{
			PageNumber: 1, OCRText: &ocr2, TranslationText: &translation, Status: job.PageStatusCompleted,
		},
	}))

	pages, err = store.ListPages(ctx, "j1")
	require.NoError(t, err)
	require.Len(t, pages, 1, "one row per (job, page_number)")
	assert.Equal(t, "second pass", *pages[0].OCRText)
	assert.Equal(t, "On the mysteries of the Egyptians", *pages[0].TranslationText)
	assert.Nil(t, pages[0].ProcessingTimeMS, "replacement drops fields the new report omits")
	require.NotNil(t, pages[0].ProcessedAt)
}

func TestReportProgressErrors(t *testing.T) {
	svc, store, _ := newService(0)
	ctx := context.Background()

	err := svc.ReportProgress(ctx, job.ProgressReport{})
	assert.ErrorIs(t, err, job.ErrInvalidInput)

	status := job.StatusCompleted
	err = svc.ReportProgress(ctx, job.ProgressReport{JobID: "ghost", Status: &status})
	assert.ErrorIs(t, err, job.ErrNotFound)

	seedJob(t, store, "j1", job.StatusProcessingPreview, time.Now(), "x")
	err = svc.ReportProgress(ctx, job.ProgressReport{
		JobID:      "j1",
		PageResult: &job.PageResult{PageNumber: 0, Status: job.PageStatusCompleted},
	})
	assert.ErrorIs(t, err, job.ErrInvalidInput)
}

func TestReportProgressToleratedOnTerminalJob(t *testing.T) {
	svc, store, _ := newService(0)
	ctx := context.Background()
	seedJob(t, store, "j1", job.StatusCancelled, time.Now(), "x")

	// The worker may be mid-page when a cancellation lands; its report is
	// accepted last-write-wins rather than rejected.
	pages := 3
	require.NoError(t, svc.ReportProgress(ctx, job.ProgressReport{JobID: "j1", PagesProcessed: &pages}))
	j, _ := store.GetJobByID(ctx, "j1")
	assert.Equal(t, 3, j.PagesProcessed)
	assert.Equal(t, job.StatusCancelled, j.Status)
}

func TestListJobs(t *testing.T) {
	svc, store, _ := newService(0)
	ctx := context.Background()

	seedJob(t, store, "a", job.StatusCompleted, time.Now().Add(-3*time.Hour), "x")
	seedJob(t, store, "b", job.StatusPending, time.Now().Add(-2*time.Hour), "y")
	seedJob(t, store, "c", job.StatusPending, time.Now().Add(-1*time.Hour), "z")

	jobs, err := svc.List(ctx, "user-1", nil, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, "c", jobs[0].ID, "newest first")

	pending := job.StatusPending
	jobs, err = svc.List(ctx, "user-1", &pending, 0)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestDeleteCascadesPages(t *testing.T) {
	svc, store, _ := newService(0)
	ctx := context.Background()
	seedJob(t, store, "j1", job.StatusCompleted, time.Now(), "x")

	require.NoError(t, store.UpsertPage(ctx, &job.Page{JobID: "j1", PageNumber: 1, Status: job.PageStatusCompleted}))
	require.NoError(t, store.UpsertPage(ctx, &job.Page{JobID: "j1", PageNumber: 2, Status: job.PageStatusCompleted}))

	require.NoError(t, svc.Delete(ctx, "j1", "user-1"))

	_, err := store.GetJobByID(ctx, "j1")
	assert.ErrorIs(t, err, job.ErrNotFound)
	pages, err := store.ListPages(ctx, "j1")
	require.NoError(t, err)
	assert.Empty(t, pages)
}
