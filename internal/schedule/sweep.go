package schedule

import (
	"context"
	"errors"
	"time"

	"github.com/tfdgestao/relatorios/internal/logs"
	"github.com/tfdgestao/relatorios/internal/metrics"
	"golang.org/x/sync/semaphore"
)

const defaultSweepConcurrency = 4

// Sweeper runs every overdue schedule straight from the store. Unlike the
// Scheduler it holds no state, so it catches whatever timers were lost.
type Sweeper struct {
	store       Store
	exec        Executor
	concurrency int64
	metrics     *metrics.Metrics
}

func NewSweeper(store Store, exec Executor, concurrency int, m *metrics.Metrics) *Sweeper {
	if concurrency <= 0 {
		concurrency = defaultSweepConcurrency
	}
	return &Sweeper{store: store, exec: exec, concurrency: int64(concurrency), metrics: m}
}

// SweepPending executes each schedule due at now once, with bounded
// concurrency. Individual failures are reported in the outcomes and never
// stop the sweep; schedules already running elsewhere are skipped. The
// error is non-nil only when the due list could not be read.
func (sw *Sweeper) SweepPending(ctx context.Context, now time.Time) ([]Outcome, error) {
	due, err := sw.store.ListDue(ctx, now)
	if err != nil {
		return nil, err
	}
	sw.metrics.ObserveSweep(len(due))
	if len(due) == 0 {
		logs.CtxDebug(ctx, "[sweep] nothing due at %s", now.Format(time.RFC3339))
		return []Outcome{}, nil
	}

	sem := semaphore.NewWeighted(sw.concurrency)
	results := make([]*Outcome, len(due))
	done := make(chan struct{}, len(due))
	started := 0

	for i := range due {
		if err := sem.Acquire(ctx, 1); err != nil {
			logs.CtxWarn(ctx, "[sweep] interrupted after %d of %d schedules: %v", i, len(due), err)
			break
		}
		started++
		go func(i int, id uint) {
			defer func() { done <- struct{}{} }()
			defer sem.Release(1)

			outcome, err := sw.exec.Run(ctx, id, TriggerSweep)
			if err != nil {
				if errors.Is(err, ErrRunInProgress) || errors.Is(err, ErrNotDue) {
					logs.CtxDebug(ctx, "[sweep] schedule %d skipped: %v", id, err)
				} else {
					logs.CtxWarn(ctx, "[sweep] schedule %d: %v", id, err)
				}
				return
			}
			results[i] = &outcome
		}(i, due[i].ID)
	}
	for j := 0; j < started; j++ {
		<-done
	}

	outcomes := make([]Outcome, 0, len(due))
	failed := 0
	for _, o := range results {
		if o == nil {
			continue
		}
		if o.Error != "" {
			failed++
		}
		outcomes = append(outcomes, *o)
	}
	logs.CtxInfo(ctx, "[sweep] %d due, %d executed, %d failed", len(due), len(outcomes), failed)
	return outcomes, nil
}
