// Package worker holds the background loops: the ledger sync consumer and
// the stale-job reaper.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"dreammotion/internal/model"
	"dreammotion/internal/repository"
	"dreammotion/internal/service"
)

// LedgerSyncWorker consumes spend events from the bus and applies them to
// Postgres, keeping the durable balance and the transaction log in step with
// the Redis hot path.
type LedgerSyncWorker struct {
	ledger   service.LedgerStore
	natsConn *nats.Conn
}

func NewLedgerSyncWorker(ledger service.LedgerStore, nc *nats.Conn) *LedgerSyncWorker {
	return &LedgerSyncWorker{ledger: ledger, natsConn: nc}
}

// Start subscribes with a queue group so that only one instance applies each
// event, and blocks until ctx is cancelled.
func (w *LedgerSyncWorker) Start(ctx context.Context) error {
	sub, err := w.natsConn.QueueSubscribe(repository.TopicCreditsSpent, "ledger_sync", func(m *nats.Msg) {
		var event model.SpendEvent
		if err := json.Unmarshal(m.Data, &event); err != nil {
			slog.Error("sync worker: failed to unmarshal spend event", "error", err)
			return
		}

		// Idempotent: redelivered events hit the unique key and change nothing.
		if err := w.ledger.SyncSpend(ctx, event); err != nil {
			slog.Error("sync worker: failed to apply spend event",
				"user_id", event.UserID,
				"key", event.IdempotencyKey,
				"error", err,
			)
			return
		}

		slog.Debug("sync worker: spend applied",
			"user_id", event.UserID,
			"key", event.IdempotencyKey,
		)
	})
	if err != nil {
		return fmt.Errorf("sync worker: failed to subscribe: %w", err)
	}

	slog.Info("ledger sync worker is running")

	<-ctx.Done()

	slog.Info("ledger sync worker shutting down, draining subscription...")
	return sub.Drain()
}

// Stop implements the infrastructure.Server interface (shutdown is via ctx).
func (w *LedgerSyncWorker) Stop(ctx context.Context) error {
	return nil
}
