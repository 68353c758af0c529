package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"dreammotion/internal/inference"
	"dreammotion/internal/model"
	"dreammotion/internal/pricing"
)

// CreditEngine orchestrates the generation lifecycle against the ledger:
// price → atomic spend → submit, then terminal-state handling with an
// exactly-once refund keyed on the job id.
type CreditEngine struct {
	ledger     LedgerStore
	jobs       GenerationStore
	inference  InferenceAPI
	webhookURL string
}

func NewCreditEngine(ledger LedgerStore, jobs GenerationStore, inf InferenceAPI, webhookURL string) *CreditEngine {
	return &CreditEngine{
		ledger:     ledger,
		jobs:       jobs,
		inference:  inf,
		webhookURL: webhookURL,
	}
}

// Submit prices the request, deducts the cost atomically, and only then
// submits the job to the provider. Any failure after the deduction refunds
// it, whether the job was submitted or not.
func (e *CreditEngine) Submit(ctx context.Context, req model.GenerationRequest) (*model.GenerationResult, error) {
	cost, err := pricing.Cost(req.Kind, req.Model, req.DurationSec)
	if err != nil {
		return nil, err
	}

	// The deduction happens before the provider assigns a job id, so the
	// spend is keyed on a request id of our own.
	requestID := uuid.NewString()
	spent, err := e.ledger.Spend(ctx, model.SpendRequest{
		UserID:         req.UserID,
		Email:          req.Email,
		Amount:         cost,
		Reference:      requestID,
		IdempotencyKey: "spend:" + requestID,
	})
	if err != nil {
		return nil, err
	}

	pred, err := e.inference.CreatePrediction(ctx, inference.CreateRequest{
		Model:      req.Model,
		Input:      req.Input,
		WebhookURL: e.webhookURL,
	})
	if err != nil {
		e.refundSubmission(ctx, req.UserID, cost, requestID)
		return nil, fmt.Errorf("create prediction: %w", err)
	}

	job := &model.GenerationJob{
		JobID:       pred.ID,
		UserID:      req.UserID,
		Kind:        req.Kind,
		Model:       req.Model,
		DurationSec: req.DurationSec,
		Status:      model.StatusCreated,
		Cost:        cost,
	}
	if err := e.jobs.Create(ctx, job); err != nil {
		// The job may still run at the provider, but without a record the
		// webhook will ignore it; give the credits back.
		e.refundSubmission(ctx, req.UserID, cost, requestID)
		return nil, fmt.Errorf("track generation job: %w", err)
	}

	if !req.Sync {
		return &model.GenerationResult{
			JobID:      pred.ID,
			Status:     model.StatusCreated,
			NewBalance: spent.NewBalance,
		}, nil
	}

	final, err := e.inference.Wait(ctx, pred.ID)
	if err != nil || final.Status != inference.StatusSucceeded {
		msg := "generation did not complete"
		switch {
		case err != nil:
			msg = err.Error()
		case final.Error != "":
			msg = final.Error
		}
		if _, terr := e.jobs.MarkTerminal(ctx, pred.ID, model.StatusFailed, "", msg); terr != nil {
			slog.Error("failed to mark job failed", "job_id", pred.ID, "error", terr)
		}
		if rerr := e.refundFailed(ctx, pred.ID); rerr != nil {
			slog.Error("failed to refund failed job", "job_id", pred.ID, "error", rerr)
		}
		return nil, fmt.Errorf("%w: %s", model.ErrGenerationFailed, msg)
	}

	output := string(final.Output)
	if _, err := e.jobs.MarkTerminal(ctx, pred.ID, model.StatusSucceeded, output, ""); err != nil {
		slog.Error("failed to mark job succeeded", "job_id", pred.ID, "error", err)
	}
	return &model.GenerationResult{
		JobID:      pred.ID,
		Status:     model.StatusSucceeded,
		Output:     output,
		NewBalance: spent.NewBalance,
	}, nil
}

// JobStatus returns the tracked job, scoped to its owner.
func (e *CreditEngine) JobStatus(ctx context.Context, jobID, userID string) (*model.GenerationJob, error) {
	job, err := e.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, model.ErrJobNotFound
	}
	return job, nil
}

func (e *CreditEngine) Balance(ctx context.Context, userID string) (int64, error) {
	return e.ledger.Balance(ctx, userID)
}

// CompleteJob applies a provider status update. Updates for job ids we never
// tracked are ignored: those belong to jobs whose submission path already
// resolved them. Terminal updates that lose the race against an earlier
// delivery are no-ops, and the refund is idempotent on top of that.
func (e *CreditEngine) CompleteJob(ctx context.Context, upd model.JobUpdate) error {
	job, err := e.jobs.Get(ctx, upd.JobID)
	if errors.Is(err, model.ErrJobNotFound) {
		slog.Debug("status update for untracked job, ignoring", "job_id", upd.JobID)
		return nil
	}
	if err != nil {
		return err
	}

	switch upd.Status {
	case model.StatusProcessing:
		if job.Status == model.StatusCreated {
			if _, err := e.jobs.MarkProcessing(ctx, upd.JobID); err != nil {
				return err
			}
		}
		return nil
	case model.StatusSucceeded:
		_, err := e.jobs.MarkTerminal(ctx, upd.JobID, model.StatusSucceeded, upd.Output, "")
		return err
	case model.StatusFailed:
		if _, err := e.jobs.MarkTerminal(ctx, upd.JobID, model.StatusFailed, "", upd.Error); err != nil {
			return err
		}
		return e.refundFailed(ctx, upd.JobID)
	default:
		slog.Warn("unknown job status, ignoring", "job_id", upd.JobID, "status", upd.Status)
		return nil
	}
}

// refundFailed gives the job's cost back to its owner, at most once. The
// ledger row keyed "refund:<job id>" is the idempotency guard; the refunded
// flag on the job is bookkeeping for the API, not the guard itself.
func (e *CreditEngine) refundFailed(ctx context.Context, jobID string) error {
	job, err := e.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != model.StatusFailed || job.Refunded || job.Cost == 0 {
		return nil
	}

	applied, err := e.ledger.Credit(ctx, model.CreditRequest{
		UserID:         job.UserID,
		Amount:         job.Cost,
		Type:           model.TxRefund,
		Reference:      job.JobID,
		IdempotencyKey: "refund:" + job.JobID,
	})
	if err != nil {
		return fmt.Errorf("refund job %s: %w", jobID, err)
	}
	if err := e.jobs.MarkRefunded(ctx, jobID); err != nil {
		return err
	}

	if applied {
		slog.Info("refunded failed generation", "job_id", jobID, "user_id", job.UserID, "amount", job.Cost)
	} else {
		slog.Debug("refund already applied", "job_id", jobID)
	}
	return nil
}

func (e *CreditEngine) refundSubmission(ctx context.Context, userID string, cost int64, requestID string) {
	if _, err := e.ledger.Credit(ctx, model.CreditRequest{
		UserID:         userID,
		Amount:         cost,
		Type:           model.TxRefund,
		Reference:      requestID,
		IdempotencyKey: "refund:" + requestID,
	}); err != nil {
		slog.Error("failed to refund aborted submission",
			"user_id", userID, "request_id", requestID, "error", err)
	}
}

// ApplyPurchase credits the buyer with the plan mapped from the product code.
// Replayed sale notifications report applied=false and leave the balance
// untouched.
func (e *CreditEngine) ApplyPurchase(ctx context.Context, sale model.Sale) (bool, error) {
	plan, ok := pricing.PlanByCode(sale.ProductCode)
	if !ok {
		return false, fmt.Errorf("%w: %q", model.ErrUnknownProduct, sale.ProductCode)
	}

	userID, err := e.ledger.UserIDByEmail(ctx, sale.Email)
	if err != nil {
		return false, err
	}

	price, currency := plan.Price, plan.Currency
	if !sale.Price.IsZero() {
		price = sale.Price
	}
	if sale.Currency != "" {
		currency = sale.Currency
	}

	applied, err := e.ledger.Credit(ctx, model.CreditRequest{
		UserID:         userID,
		Amount:         plan.Credits,
		Type:           model.TxPurchase,
		Reference:      sale.TransactionID,
		IdempotencyKey: "purchase:" + sale.TransactionID + ":" + userID,
		Price:          price,
		Currency:       currency,
	})
	if err != nil {
		return false, err
	}

	if applied {
		slog.Info("purchase credited",
			"user_id", userID, "plan", plan.Name, "credits", plan.Credits, "sale_id", sale.TransactionID)
	} else {
		slog.Info("duplicate purchase webhook ignored", "sale_id", sale.TransactionID)
	}
	return applied, nil
}

// AdjustCredits applies a signed manual correction. Every call gets a fresh
// idempotency key, so this is not replay-safe by design; it is an operator
// tool, not a webhook target.
func (e *CreditEngine) AdjustCredits(ctx context.Context, userID string, amount int64, reason string) error {
	if amount == 0 {
		return errors.New("adjustment amount must be non-zero")
	}
	_, err := e.ledger.Credit(ctx, model.CreditRequest{
		UserID:         userID,
		Amount:         amount,
		Type:           model.TxAdjustment,
		Reference:      reason,
		IdempotencyKey: "adjust:" + uuid.NewString(),
	})
	return err
}

// ReapStale fails and refunds jobs stuck in a non-terminal state longer than
// olderThan, covering webhooks the provider never delivered. Returns how many
// jobs were transitioned.
func (e *CreditEngine) ReapStale(ctx context.Context, olderThan time.Duration) (int, error) {
	stale, err := e.jobs.ListStale(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, job := range stale {
		changed, err := e.jobs.MarkTerminal(ctx, job.JobID, model.StatusFailed, "", "timed out waiting for provider")
		if err != nil {
			slog.Error("failed to reap stale job", "job_id", job.JobID, "error", err)
			continue
		}
		if !changed {
			continue
		}
		if err := e.refundFailed(ctx, job.JobID); err != nil {
			slog.Error("failed to refund reaped job", "job_id", job.JobID, "error", err)
			continue
		}
		reaped++
	}
	return reaped, nil
}
