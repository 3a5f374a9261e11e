// Package jobtest provides an in-memory job.Store for tests, with the same
// claim, clamp and upsert semantics as the postgres implementation.
package jobtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JDerekLomas/secondrenaissance-sub001/internal/core/job"
)

type pageKey struct {
	jobID string
	page  int
}

type Store struct {
	mu    sync.Mutex
	jobs  map[string]*job.Job
	pages map[pageKey]*job.Page
}

var _ job.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		jobs:  make(map[string]*job.Job),
		pages: make(map[pageKey]*job.Page),
	}
}

func copyJob(j *job.Job) *job.Job {
	c := *j
	return &c
}

func copyPage(p *job.Page) *job.Page {
	c := *p
	return &c
}

func (s *Store) CreateJob(_ context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.ID]; ok {
		return fmt.Errorf("duplicate job id %s", j.ID)
	}
	s.jobs[j.ID] = copyJob(j)
	return nil
}

func (s *Store) GetJob(_ context.Context, id, userID string) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.UserID != userID {
		return nil, job.ErrNotFound
	}
	return copyJob(j), nil
}

func (s *Store) GetJobByID(_ context.Context, id string) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, job.ErrNotFound
	}
	return copyJob(j), nil
}

func (s *Store) ListJobs(_ context.Context, userID string, status *job.Status, limit int) ([]*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*job.Job, 0)
	for _, j := range s.jobs {
		if j.UserID != userID {
			continue
		}
		if status != nil && j.Status != *status {
			continue
		}
		out = append(out, copyJob(j))
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) UpdateJob(_ context.Context, id string, upd job.JobUpdate) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, job.ErrNotFound
	}
	if upd.Status != nil {
		j.Status = *upd.Status
	}
	if upd.Prompts != nil {
		j.Prompts = *upd.Prompts
	}
	if upd.PagesProcessed != nil {
		reported := *upd.PagesProcessed
		if reported < j.PagesProcessed {
			reported = j.PagesProcessed
		}
		total := j.TotalPages
		if upd.TotalPages != nil {
			total = upd.TotalPages
		}
		if total != nil && reported > *total {
			reported = *total
		}
		j.PagesProcessed = reported
	}
	if upd.TotalPages != nil {
		v := *upd.TotalPages
		j.TotalPages = &v
	}
	if upd.CurrentPage != nil {
		j.CurrentPage = *upd.CurrentPage
	}
	if upd.ErrorMessage != nil {
		v := *upd.ErrorMessage
		j.ErrorMessage = &v
	}
	if upd.PreviewCompletedAt != nil {
		v := *upd.PreviewCompletedAt
		j.PreviewCompletedAt = &v
	}
	if upd.CompletedAt != nil {
		v := *upd.CompletedAt
		j.CompletedAt = &v
	}
	return copyJob(j), nil
}

func (s *Store) DeleteJob(_ context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.UserID != userID {
		return job.ErrNotFound
	}
	delete(s.jobs, id)
	for k := range s.pages {
		if k.jobID == id {
			delete(s.pages, k)
		}
	}
	return nil
}

func (s *Store) ClaimNext(_ context.Context, maxClaims int) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		var candidate *job.Job
		for _, j := range s.jobs {
			switch j.Status {
			case job.StatusPending, job.StatusProcessingPreview, job.StatusProcessingFull:
			default:
				continue
			}
			if candidate == nil || claimBefore(j, candidate) {
				candidate = j
			}
		}
		if candidate == nil {
			return nil, job.ErrNoWork
		}

		if maxClaims > 0 && candidate.ClaimCount >= maxClaims {
			msg := fmt.Sprintf("abandoned after %d claim attempts without completing", candidate.ClaimCount)
			candidate.Status = job.StatusFailed
			candidate.ErrorMessage = &msg
			continue
		}

		if candidate.Status == job.StatusPending {
			if candidate.HasRemoteSource() {
				candidate.Status = job.StatusProcessingPreview
			} else {
				candidate.Status = job.StatusRendering
			}
		}
		if candidate.StartedAt == nil {
			now := time.Now().UTC()
			candidate.StartedAt = &now
		}
		candidate.ClaimCount++
		return copyJob(candidate), nil
	}
}

// claimBefore orders a ahead of b: in-flight states before pending, then
// FIFO by creation time.
func claimBefore(a, b *job.Job) bool {
	aPending := a.Status == job.StatusPending
	bPending := b.Status == job.StatusPending
	if aPending != bPending {
		return bPending
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func (s *Store) UpsertPage(_ context.Context, p *job.Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[pageKey{p.JobID, p.PageNumber}] = copyPage(p)
	return nil
}

func (s *Store) ListPages(_ context.Context, jobID string) ([]*job.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*job.Page, 0)
	for k, p := range s.pages {
		if k.jobID == jobID {
			out = append(out, copyPage(p))
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].PageNumber < out[b].PageNumber })
	return out, nil
}
