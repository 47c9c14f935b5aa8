package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tfdgestao/relatorios/internal/logs"
	"github.com/tfdgestao/relatorios/internal/metrics"
	"github.com/tfdgestao/relatorios/internal/models"
	"github.com/tfdgestao/relatorios/internal/notify"
)

const defaultRunTimeout = 5 * time.Minute

// Trigger names what started an execution.
type Trigger string

const (
	TriggerTimer  Trigger = "timer"
	TriggerSweep  Trigger = "sweep"
	TriggerManual Trigger = "manual"
)

// Outcome is the result of one execution attempt.
type Outcome struct {
	ScheduleID uint             `json:"schedule_id"`
	Name       string           `json:"name"`
	Status     models.RunStatus `json:"status"`
	Error      string           `json:"error,omitempty"`
	RanAt      time.Time        `json:"ran_at"`
	NextRun    *time.Time       `json:"next_run"`
}

type RunnerConfig struct {
	Directory Directory
	Notifier  FailureNotifier
	Metrics   *metrics.Metrics
	// Now must return times in the service time zone.
	Now     func() time.Time
	Timeout time.Duration
}

// Runner executes schedules: mark pending, generate, deliver, record.
// Execution failures never escape Run; they end up in the Outcome and in
// the store.
type Runner struct {
	store     Store
	renderer  Renderer
	mailer    Mailer
	directory Directory
	notifier  FailureNotifier
	metrics   *metrics.Metrics
	now       func() time.Time
	timeout   time.Duration

	runningMu sync.Mutex
	running   map[uint]struct{}

	hookMu     sync.RWMutex
	onComplete func(*models.ReportSchedule)
}

func NewRunner(store Store, renderer Renderer, mailer Mailer, cfg RunnerConfig) *Runner {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRunTimeout
	}
	return &Runner{
		store:     store,
		renderer:  renderer,
		mailer:    mailer,
		directory: cfg.Directory,
		notifier:  cfg.Notifier,
		metrics:   cfg.Metrics,
		now:       cfg.Now,
		timeout:   cfg.Timeout,
		running:   make(map[uint]struct{}),
	}
}

// OnComplete registers fn to receive the stored schedule after every
// recorded outcome.
func (r *Runner) OnComplete(fn func(*models.ReportSchedule)) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.onComplete = fn
}

// Run executes schedule id once. The returned error is non-nil only when
// nothing ran: the schedule does not exist, another run for it is in
// flight, or an automatic trigger found it no longer due.
func (r *Runner) Run(ctx context.Context, id uint, trigger Trigger) (Outcome, error) {
	if !r.tryStart(id) {
		return Outcome{}, fmt.Errorf("%w: %d", ErrRunInProgress, id)
	}
	defer r.finish(id)

	s, err := r.store.Get(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	if trigger != TriggerManual && !r.due(s) {
		return Outcome{}, fmt.Errorf("%w: %d", ErrNotDue, id)
	}

	started := time.Now()
	if err := r.store.MarkPending(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return Outcome{}, err
		}
		logs.CtxWarn(ctx, "[runner] schedule %d: mark pending: %v", id, err)
	}
	logs.CtxInfo(ctx, "[runner] schedule %d (%s) started by %s", id, s.Name, trigger)

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	execErr := r.execute(runCtx, s)
	cancel()

	// The outcome is recorded even when the caller's context is gone.
	recordCtx := context.WithoutCancel(ctx)
	outcome := Outcome{
		ScheduleID: id,
		Name:       s.Name,
		Status:     models.RunStatusSuccess,
		RanAt:      r.now(),
	}
	if execErr != nil {
		outcome.Status = models.RunStatusError
		outcome.Error = execErr.Error()
	}
	outcome.NextRun = r.nextRun(recordCtx, s, outcome.RanAt)

	stored, err := r.store.RecordRunOutcome(recordCtx, id, RunOutcome{
		Status:  outcome.Status,
		Error:   outcome.Error,
		RanAt:   outcome.RanAt,
		NextRun: outcome.NextRun,
	})
	switch {
	case errors.Is(err, ErrNotFound):
		logs.CtxInfo(ctx, "[runner] schedule %d was deleted while running, outcome dropped", id)
		outcome.NextRun = nil
	case err != nil:
		logs.CtxError(ctx, "[runner] schedule %d: record outcome: %v", id, err)
	default:
		outcome.NextRun = stored.NextRun
		r.complete(stored)
	}

	r.metrics.ObserveRun(string(trigger), string(s.ReportType), string(outcome.Status), time.Since(started))

	if execErr != nil {
		logs.CtxError(ctx, "[runner] schedule %d (%s) failed: %v", id, s.Name, execErr)
		if r.notifier != nil {
			if err := r.notifier.NotifyFailure(recordCtx, s, outcome.Error); err != nil {
				logs.CtxWarn(ctx, "[runner] schedule %d: failure notification: %v", id, err)
			}
		}
	} else {
		logs.CtxInfo(ctx, "[runner] schedule %d (%s) succeeded, next run %s", id, s.Name, formatNext(outcome.NextRun))
	}
	return outcome, nil
}

// IsRunning reports whether an execution for id is in flight.
func (r *Runner) IsRunning(id uint) bool {
	r.runningMu.Lock()
	defer r.runningMu.Unlock()
	_, ok := r.running[id]
	return ok
}

func (r *Runner) execute(ctx context.Context, s *models.ReportSchedule) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &GenerationError{Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	generatedAt := r.now()
	doc, err := r.renderer.Generate(ctx, s.ReportType, s.Parameters, s.OutputFormat)
	if err != nil {
		return &GenerationError{Err: err}
	}

	if len(s.Recipients) == 0 {
		logs.CtxDebug(ctx, "[runner] schedule %d has no recipients, delivery skipped", s.ID)
		return nil
	}
	if r.mailer == nil {
		return &DeliveryError{Err: errors.New("mail sender not configured")}
	}

	mail := notify.Mail{
		To:      s.Recipients,
		Subject: fmt.Sprintf("Relatório agendado: %s", s.Name),
		Body:    r.mailBody(ctx, s, generatedAt, doc.Rows),
		Attachment: &notify.Attachment{
			Filename:    s.Filename(generatedAt),
			Data:        doc.Data,
			ContentType: doc.ContentType,
		},
	}
	if err := r.mailer.Send(ctx, mail); err != nil {
		return &DeliveryError{Err: err}
	}
	return nil
}

func (r *Runner) mailBody(ctx context.Context, s *models.ReportSchedule, at time.Time, rows int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Segue em anexo o relatório \"%s\" gerado em %s.\n", s.Name, at.Format("02/01/2006 15:04"))
	if s.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", s.Description)
	}
	fmt.Fprintf(&b, "\nRegistros: %d\n", rows)
	if owner := r.ownerName(ctx, s.CreatedBy); owner != "" {
		fmt.Fprintf(&b, "Agendado por: %s\n", owner)
	}
	return b.String()
}

func (r *Runner) ownerName(ctx context.Context, id uint) string {
	if r.directory == nil || id == 0 {
		return ""
	}
	identity, err := r.directory.Lookup(ctx, id)
	if err != nil {
		logs.CtxDebug(ctx, "[runner] owner %d lookup: %v", id, err)
		return ""
	}
	return identity.Name
}

// nextRun derives the following slot from the row as it is now, so edits
// made while the report was generating are respected.
func (r *Runner) nextRun(ctx context.Context, picked *models.ReportSchedule, ranAt time.Time) *time.Time {
	s := picked
	if fresh, err := r.store.Get(ctx, picked.ID); err == nil {
		s = fresh
	}
	if !s.Schedulable() {
		return nil
	}
	return ComputeNextRun(s, ranAt)
}

func (r *Runner) due(s *models.ReportSchedule) bool {
	return s.Schedulable() && s.NextRun != nil && !s.NextRun.After(r.now())
}

func (r *Runner) complete(s *models.ReportSchedule) {
	r.hookMu.RLock()
	fn := r.onComplete
	r.hookMu.RUnlock()
	if fn != nil {
		fn(s)
	}
}

func (r *Runner) tryStart(id uint) bool {
	r.runningMu.Lock()
	defer r.runningMu.Unlock()
	if _, ok := r.running[id]; ok {
		return false
	}
	r.running[id] = struct{}{}
	return true
}

func (r *Runner) finish(id uint) {
	r.runningMu.Lock()
	defer r.runningMu.Unlock()
	delete(r.running, id)
}

func formatNext(t *time.Time) string {
	if t == nil {
		return "none"
	}
	return t.Format(time.RFC3339)
}
