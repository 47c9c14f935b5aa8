package schedule

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/tfdgestao/relatorios/internal/logs"
	"github.com/tfdgestao/relatorios/internal/metrics"
	"github.com/tfdgestao/relatorios/internal/models"
)

const (
	defaultLookahead      = time.Hour
	defaultReloadInterval = 5 * time.Minute
)

type SchedulerConfig struct {
	Lookahead      time.Duration
	ReloadInterval time.Duration
	Metrics        *metrics.Metrics
	Now            func() time.Time
}

// Scheduler keeps one single-shot timer per schedule whose next run falls
// inside the lookahead window. It only lowers latency: the timer map is
// rebuilt from the store on every reload, and the pending sweep covers
// anything it misses.
type Scheduler struct {
	store          Store
	exec           Executor
	lookahead      time.Duration
	reloadInterval time.Duration
	metrics        *metrics.Metrics
	now            func() time.Time

	mu      sync.Mutex
	timers  map[uint]*armedTimer
	ctx     context.Context
	stopped bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type armedTimer struct {
	timer *time.Timer
	at    time.Time
}

// ArmedSchedule is a snapshot entry of the timer map.
type ArmedSchedule struct {
	ScheduleID uint      `json:"schedule_id"`
	FiresAt    time.Time `json:"fires_at"`
}

func NewScheduler(store Store, exec Executor, cfg SchedulerConfig) *Scheduler {
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = defaultLookahead
	}
	if cfg.ReloadInterval <= 0 {
		cfg.ReloadInterval = defaultReloadInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Scheduler{
		store:          store,
		exec:           exec,
		lookahead:      cfg.Lookahead,
		reloadInterval: cfg.ReloadInterval,
		metrics:        cfg.Metrics,
		now:            cfg.Now,
		timers:         make(map[uint]*armedTimer),
		ctx:            context.Background(),
	}
}

// Start arms everything currently due within the lookahead window and then
// reloads periodically until Stop.
func (sc *Scheduler) Start(ctx context.Context) {
	ctx, sc.cancel = context.WithCancel(ctx)
	sc.mu.Lock()
	sc.ctx = ctx
	sc.mu.Unlock()

	sc.Reload(ctx)

	sc.wg.Add(1)
	go func() {
		defer sc.wg.Done()
		sc.loop(ctx)
	}()

	logs.CtxInfo(ctx, "[scheduler] started (lookahead=%s, reload=%s)", sc.lookahead, sc.reloadInterval)
}

// Stop cancels the reload loop and every armed timer, then waits for fired
// executions to finish or ctx to expire. Running executions are not
// cancelled.
func (sc *Scheduler) Stop(ctx context.Context) {
	if sc.cancel != nil {
		sc.cancel()
	}

	sc.mu.Lock()
	sc.stopped = true
	for id, at := range sc.timers {
		at.timer.Stop()
		delete(sc.timers, id)
	}
	sc.metrics.SetArmed(0)
	sc.mu.Unlock()

	done := make(chan struct{})
	go func() {
		sc.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		logs.CtxWarn(ctx, "[scheduler] stop timed out waiting for running reports")
	}
	logs.CtxInfo(ctx, "[scheduler] stopped")
}

// Reload re-reads the store and arms every eligible schedule that is not
// armed yet or whose next run moved.
func (sc *Scheduler) Reload(ctx context.Context) {
	schedules, err := sc.store.ListArmable(ctx, sc.now().Add(sc.lookahead))
	if err != nil {
		logs.CtxError(ctx, "[scheduler] reload: %v", err)
		return
	}

	armed := 0
	sc.mu.Lock()
	for i := range schedules {
		s := &schedules[i]
		if existing, ok := sc.timers[s.ID]; ok && existing.at.Equal(*s.NextRun) {
			continue
		}
		sc.disarmLocked(s.ID)
		if sc.armLocked(s) {
			armed++
		}
	}
	sc.mu.Unlock()

	logs.CtxDebug(ctx, "[scheduler] reload: %d eligible, %d newly armed", len(schedules), armed)
}

// Sync brings the timer for s in line with its stored state: any existing
// timer is cancelled and a new one armed if s is eligible.
func (sc *Scheduler) Sync(s *models.ReportSchedule) {
	if s == nil {
		return
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.disarmLocked(s.ID)
	sc.armLocked(s)
}

// Cancel disarms the timer for id, if any.
func (sc *Scheduler) Cancel(id uint) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.disarmLocked(id)
}

// Armed lists armed timers ordered by fire time.
func (sc *Scheduler) Armed() []ArmedSchedule {
	sc.mu.Lock()
	out := make([]ArmedSchedule, 0, len(sc.timers))
	for id, at := range sc.timers {
		out = append(out, ArmedSchedule{ScheduleID: id, FiresAt: at.at})
	}
	sc.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].FiresAt.Equal(out[j].FiresAt) {
			return out[i].ScheduleID < out[j].ScheduleID
		}
		return out[i].FiresAt.Before(out[j].FiresAt)
	})
	return out
}

func (sc *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(sc.reloadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sc.Reload(ctx)
		}
	}
}

// armLocked registers a timer for s when it is schedulable and due within
// the lookahead window. Past-due schedules fire immediately.
func (sc *Scheduler) armLocked(s *models.ReportSchedule) bool {
	if sc.stopped || !s.Schedulable() || s.NextRun == nil {
		return false
	}
	delay := s.NextRun.Sub(sc.now())
	if delay > sc.lookahead {
		return false
	}
	if delay < 0 {
		delay = 0
	}

	id := s.ID
	entry := &armedTimer{at: *s.NextRun}
	entry.timer = time.AfterFunc(delay, func() { sc.fire(id, entry) })
	sc.timers[id] = entry
	sc.metrics.SetArmed(len(sc.timers))
	return true
}

func (sc *Scheduler) disarmLocked(id uint) {
	entry, ok := sc.timers[id]
	if !ok {
		return
	}
	entry.timer.Stop()
	delete(sc.timers, id)
	sc.metrics.SetArmed(len(sc.timers))
}

func (sc *Scheduler) fire(id uint, entry *armedTimer) {
	sc.mu.Lock()
	// A timer that was replaced or cancelled after it elapsed must not run.
	if sc.stopped || sc.timers[id] != entry {
		sc.mu.Unlock()
		return
	}
	delete(sc.timers, id)
	sc.metrics.SetArmed(len(sc.timers))
	// Stop waits for the run instead of cancelling it, so an interrupted
	// slot is never recorded as a failure.
	ctx := logs.WithNewLogID(context.WithoutCancel(sc.ctx))
	sc.wg.Add(1)
	sc.mu.Unlock()
	defer sc.wg.Done()

	if _, err := sc.exec.Run(ctx, id, TriggerTimer); err != nil {
		switch {
		case errors.Is(err, ErrRunInProgress), errors.Is(err, ErrNotDue):
			logs.CtxDebug(ctx, "[scheduler] schedule %d skipped: %v", id, err)
		default:
			schedErr := &SchedulerInternalError{ScheduleID: id, Err: err}
			logs.CtxWarn(ctx, "%v; left to the pending sweep", schedErr)
		}
	}
}
