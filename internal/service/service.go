package service

import (
	"context"
	"time"

	"dreammotion/internal/inference"
	"dreammotion/internal/model"
)

// LedgerStore is the credit balance + transaction log surface the engine and
// the sync worker depend on. Implemented by repository.LedgerRepo.
type LedgerStore interface {
	Spend(ctx context.Context, req model.SpendRequest) (*model.SpendResult, error)
	Credit(ctx context.Context, req model.CreditRequest) (bool, error)
	Balance(ctx context.Context, userID string) (int64, error)
	UserIDByEmail(ctx context.Context, email string) (string, error)
	SyncSpend(ctx context.Context, event model.SpendEvent) error
}

// GenerationStore tracks submitted jobs. Implemented by
// repository.GenerationRepo.
type GenerationStore interface {
	Create(ctx context.Context, job *model.GenerationJob) error
	Get(ctx context.Context, jobID string) (*model.GenerationJob, error)
	MarkProcessing(ctx context.Context, jobID string) (bool, error)
	MarkTerminal(ctx context.Context, jobID string, status model.GenerationStatus, output, errMsg string) (bool, error)
	MarkRefunded(ctx context.Context, jobID string) error
	ListStale(ctx context.Context, cutoff time.Time) ([]*model.GenerationJob, error)
}

// InferenceAPI is the provider client surface. Implemented by
// inference.Client.
type InferenceAPI interface {
	CreatePrediction(ctx context.Context, req inference.CreateRequest) (*inference.Prediction, error)
	Wait(ctx context.Context, id string) (*inference.Prediction, error)
}

// Engine is the business surface of the credit engine. Transport layers and
// workers depend on this interface, not on the concrete implementation.
type Engine interface {
	Submit(ctx context.Context, req model.GenerationRequest) (*model.GenerationResult, error)
	JobStatus(ctx context.Context, jobID, userID string) (*model.GenerationJob, error)
	Balance(ctx context.Context, userID string) (int64, error)
	CompleteJob(ctx context.Context, upd model.JobUpdate) error
	ApplyPurchase(ctx context.Context, sale model.Sale) (bool, error)
	AdjustCredits(ctx context.Context, userID string, amount int64, reason string) error
	ReapStale(ctx context.Context, olderThan time.Duration) (int, error)
}
