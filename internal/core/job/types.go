package job

import (
	"errors"
	"time"

	"github.com/JDerekLomas/secondrenaissance-sub001/prompts"
)

// Status for job lifecycle tracking. Values are persisted verbatim.
type Status string

const (
	StatusPending           Status = "pending"
	StatusRendering         Status = "rendering"
	StatusProcessingPreview Status = "processing_preview"
	StatusAwaitingReview    Status = "awaiting_review"
	StatusProcessingFull    Status = "processing_full"
	StatusCompleted         Status = "completed"
	StatusFailed            Status = "failed"
	StatusCancelled         Status = "cancelled"
)

// PageStatus for per-page tracking. The worker owns these values; the server
// stores what it is told.
type PageStatus string

const (
	PageStatusPending    PageStatus = "pending"
	PageStatusProcessing PageStatus = "processing"
	PageStatusCompleted  PageStatus = "completed"
	PageStatusFailed     PageStatus = "failed"
)

// Terminal reports whether no further transitions are accepted from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// transitions is the authoritative state machine. A claim moves pending into
// rendering (upload source) or processing_preview (remote source); the worker
// drives the processing states; the review gate drives awaiting_review.
var transitions = map[Status][]Status{
	StatusPending:           {StatusRendering, StatusProcessingPreview, StatusCancelled},
	StatusRendering:         {StatusProcessingPreview, StatusFailed, StatusCancelled},
	StatusProcessingPreview: {StatusAwaitingReview, StatusFailed, StatusCancelled},
	StatusAwaitingReview:    {StatusProcessingFull, StatusCancelled},
	StatusProcessingFull:    {StatusCompleted, StatusFailed, StatusCancelled},
}

// CanTransition reports whether from -> to is a legal state change.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Sentinel errors mapped to HTTP statuses at the handler boundary.
var (
	ErrNotFound          = errors.New("job not found")
	ErrNoWork            = errors.New("no work available")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotAwaitingReview = errors.New("job is not awaiting review")
	ErrTerminal          = errors.New("job is in a terminal state")
)

// DefaultPreviewPages is the page count processed before the review gate
// when the submitter does not choose one.
const DefaultPreviewPages = 30

// Job is one submitted document's end-to-end translation task.
type Job struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`

	// Source: exactly one of RemoteSourceID (archive item to fetch pages
	// from) or UploadPath (file persisted at submission time).
	RemoteSourceID   *string `json:"remote_source_identifier,omitempty"`
	UploadPath       *string `json:"upload_path,omitempty"`
	OriginalFilename *string `json:"original_filename,omitempty"`

	Title   *string `json:"title,omitempty"`
	Creator *string `json:"creator,omitempty"`
	Year    *int    `json:"year,omitempty"`

	Provider     string      `json:"provider"`
	Prompts      prompts.Set `json:"prompts"`
	PreviewPages int         `json:"preview_pages"`

	TotalPages     *int `json:"total_pages"`
	PagesProcessed int  `json:"pages_processed"`
	CurrentPage    int  `json:"current_page"`

	Status       Status  `json:"status"`
	ErrorMessage *string `json:"error_message,omitempty"`
	ClaimCount   int     `json:"claim_count"`

	CreatedAt          time.Time  `json:"created_at"`
	StartedAt          *time.Time `json:"started_at"`
	PreviewCompletedAt *time.Time `json:"preview_completed_at"`
	CompletedAt        *time.Time `json:"completed_at"`
}

// HasRemoteSource reports whether the job fetches pages from a remote archive
// rather than a rendered local upload.
func (j *Job) HasRemoteSource() bool {
	return j.RemoteSourceID != nil && *j.RemoteSourceID != ""
}

// Page is one page-level unit of work within a job, keyed by
// (job id, 1-based page number).
type Page struct {
	JobID      string `json:"job_id"`
	PageNumber int    `json:"page_number"`

	ImageURL        *string `json:"image_url,omitempty"`
	OCRText         *string `json:"ocr_text,omitempty"`
	TranslationText *string `json:"translation_text,omitempty"`
	SummaryText     *string `json:"summary_text,omitempty"`

	Status           PageStatus `json:"status"`
	ProcessingTimeMS *int64     `json:"processing_time_ms,omitempty"`
	ErrorMessage     *string    `json:"error_message,omitempty"`
	ProcessedAt      *time.Time `json:"processed_at"`
}
