package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/tfdgestao/relatorios/internal/logs"
)

// SweepTrigger runs the pending sweep on a cron spec. Overlapping passes
// are skipped rather than queued.
type SweepTrigger struct {
	cron    *cron.Cron
	service *Service
	spec    string
}

func NewSweepTrigger(service *Service, spec string, loc *time.Location) (*SweepTrigger, error) {
	if loc == nil {
		loc = time.Local
	}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{})),
	)

	t := &SweepTrigger{cron: c, service: service, spec: spec}
	if _, err := c.AddFunc(spec, t.run); err != nil {
		return nil, fmt.Errorf("invalid sweep spec %q: %w", spec, err)
	}
	return t, nil
}

func (t *SweepTrigger) Start() {
	t.cron.Start()
	logs.Info("[sweep] scheduled with spec %q", t.spec)
}

// Stop prevents further passes and waits for one in flight until ctx
// expires. The pass itself is not cancelled: a run cut short by shutdown
// keeps its slot and is picked up by the next sweep after restart.
func (t *SweepTrigger) Stop(ctx context.Context) {
	select {
	case <-t.cron.Stop().Done():
	case <-ctx.Done():
		logs.Warn("[sweep] stop timed out: %v", ctx.Err())
	}
}

func (t *SweepTrigger) run() {
	ctx := logs.WithNewLogID(context.Background())
	if _, err := t.service.SweepNow(ctx); err != nil {
		logs.CtxError(ctx, "[sweep] pass failed: %v", err)
	}
}

// cronLogger routes robfig/cron diagnostics to the application logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logs.Debug("[cron] %s %v", msg, keysAndValues)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logs.Error("[cron] %s: %v %v", msg, err, keysAndValues)
}
