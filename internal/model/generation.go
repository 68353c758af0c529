package model

import "time"

type GenerationKind string

const (
	KindImage GenerationKind = "image"
	KindVideo GenerationKind = "video"
)

// GenerationStatus is the lifecycle state of a tracked job:
// created → processing → {succeeded | failed}. Terminal states are immutable,
// so out-of-order or duplicate status updates cannot regress a finished job.
type GenerationStatus string

const (
	StatusCreated    GenerationStatus = "created"
	StatusProcessing GenerationStatus = "processing"
	StatusSucceeded  GenerationStatus = "succeeded"
	StatusFailed     GenerationStatus = "failed"
)

func (s GenerationStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// GenerationJob tracks one prediction submitted to the inference provider,
// keyed by the provider's opaque job id.
type GenerationJob struct {
	JobID       string           `json:"job_id"`
	UserID      string           `json:"user_id"`
	Kind        GenerationKind   `json:"kind"`
	Model       string           `json:"model"`
	DurationSec int              `json:"duration_sec,omitempty"`
	Status      GenerationStatus `json:"status"`
	Cost        int64            `json:"cost"`
	Output      string           `json:"output,omitempty"`
	Error       string           `json:"error,omitempty"`
	Refunded    bool             `json:"refunded"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

type GenerationRequest struct {
	UserID      string
	Email       string
	Kind        GenerationKind
	Model       string
	DurationSec int
	Input       map[string]any
	// Sync makes the submission wait inline for the terminal state instead of
	// relying on the provider webhook.
	Sync bool
}

type GenerationResult struct {
	JobID      string           `json:"job_id"`
	Status     GenerationStatus `json:"status"`
	Output     string           `json:"output,omitempty"`
	NewBalance int64            `json:"new_balance"`
}

// JobUpdate is a status change reported by the provider (webhook or poll).
type JobUpdate struct {
	JobID  string
	Status GenerationStatus
	Output string
	Error  string
}
