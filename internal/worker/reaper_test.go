package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"dreammotion/internal/model"
)

type countingEngine struct {
	sweeps atomic.Int32
}

func (e *countingEngine) Submit(context.Context, model.GenerationRequest) (*model.GenerationResult, error) {
	return nil, nil
}
func (e *countingEngine) JobStatus(context.Context, string, string) (*model.GenerationJob, error) {
	return nil, nil
}
func (e *countingEngine) Balance(context.Context, string) (int64, error) { return 0, nil }
func (e *countingEngine) CompleteJob(context.Context, model.JobUpdate) error { return nil }
func (e *countingEngine) ApplyPurchase(context.Context, model.Sale) (bool, error) {
	return false, nil
}
func (e *countingEngine) AdjustCredits(context.Context, string, int64, string) error { return nil }
func (e *countingEngine) ReapStale(context.Context, time.Duration) (int, error) {
	e.sweeps.Add(1)
	return 0, nil
}

func TestReaper_SweepsUntilCancelled(t *testing.T) {
	engine := &countingEngine{}
	reaper := NewReaper(engine, 10*time.Millisecond, 15*time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()

	assert.NoError(t, reaper.Start(ctx))
	assert.GreaterOrEqual(t, engine.sweeps.Load(), int32(2))
}
