package schedule

import (
	"context"
	"time"

	"github.com/tfdgestao/relatorios/internal/logs"
	"github.com/tfdgestao/relatorios/internal/models"
	"gorm.io/datatypes"
)

// Service is the caller-facing API over the store, the scheduler and the
// runner. Every mutation keeps the timer map in line with the stored row.
type Service struct {
	store     Store
	runner    *Runner
	scheduler *Scheduler
	sweeper   *Sweeper
	now       func() time.Time
}

func NewService(store Store, runner *Runner, scheduler *Scheduler, sweeper *Sweeper, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	runner.OnComplete(scheduler.Sync)
	return &Service{store: store, runner: runner, scheduler: scheduler, sweeper: sweeper, now: now}
}

func (svc *Service) Create(ctx context.Context, def *models.ReportSchedule, ownerID uint) (*models.ReportSchedule, error) {
	s, err := svc.store.Create(ctx, def, ownerID)
	if err != nil {
		return nil, err
	}
	svc.scheduler.Sync(s)
	logs.CtxInfo(ctx, "[schedule] created %d (%s, %s), next run %s", s.ID, s.Name, s.Recurrence, formatNext(s.NextRun))
	return s, nil
}

// Import creates every definition in one transaction.
func (svc *Service) Import(ctx context.Context, defs []models.ReportSchedule, ownerID uint) ([]models.ReportSchedule, error) {
	created, err := svc.store.CreateMany(ctx, defs, ownerID)
	if err != nil {
		return nil, err
	}
	for i := range created {
		svc.scheduler.Sync(&created[i])
	}
	logs.CtxInfo(ctx, "[schedule] imported %d schedules", len(created))
	return created, nil
}

func (svc *Service) List(ctx context.Context, filter Filter, page Pagination) (*Page, error) {
	return svc.store.List(ctx, filter, page)
}

func (svc *Service) Get(ctx context.Context, id uint) (*models.ReportSchedule, error) {
	return svc.store.Get(ctx, id)
}

func (svc *Service) Update(ctx context.Context, id uint, u Update) (*models.ReportSchedule, error) {
	s, err := svc.store.Update(ctx, id, u)
	if err != nil {
		return nil, err
	}
	svc.scheduler.Sync(s)
	logs.CtxInfo(ctx, "[schedule] updated %d, next run %s", s.ID, formatNext(s.NextRun))
	return s, nil
}

func (svc *Service) SetActive(ctx context.Context, id uint, active bool) (*models.ReportSchedule, error) {
	s, err := svc.store.SetActive(ctx, id, active)
	if err != nil {
		return nil, err
	}
	svc.scheduler.Sync(s)
	logs.CtxInfo(ctx, "[schedule] %d active=%t, next run %s", s.ID, s.Active, formatNext(s.NextRun))
	return s, nil
}

// Delete removes the schedule and disarms its timer. A run already in
// flight finishes and its outcome is dropped.
func (svc *Service) Delete(ctx context.Context, id uint) error {
	svc.scheduler.Cancel(id)
	if err := svc.store.Delete(ctx, id); err != nil {
		return err
	}
	logs.CtxInfo(ctx, "[schedule] deleted %d", id)
	return nil
}

// RunNow executes the schedule immediately, whatever its recurrence or
// active flag, and returns the recorded outcome.
func (svc *Service) RunNow(ctx context.Context, id uint) (Outcome, error) {
	return svc.runner.Run(ctx, id, TriggerManual)
}

// SweepNow runs the pending sweep at the current time.
func (svc *Service) SweepNow(ctx context.Context) ([]Outcome, error) {
	return svc.sweeper.SweepPending(ctx, svc.now())
}

func (svc *Service) Armed() []ArmedSchedule {
	return svc.scheduler.Armed()
}

// CreateDefaultSchedules seeds an inactive starter set when the store is
// empty. It returns the number of schedules created.
func (svc *Service) CreateDefaultSchedules(ctx context.Context, ownerID uint) (int, error) {
	n, err := svc.store.Count(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		return 0, nil
	}

	created, err := svc.Import(ctx, DefaultSchedules(), ownerID)
	if err != nil {
		return 0, err
	}
	return len(created), nil
}

// DefaultSchedules is the starter set offered to a fresh installation. All
// of them start inactive and without recipients.
func DefaultSchedules() []models.ReportSchedule {
	monday, first := 1, 1
	return []models.ReportSchedule{
		{
			Name:         "Solicitações de viagem da semana",
			Description:  "Viagens TFD dos últimos 7 dias",
			ReportType:   models.ReportTypeTripRequests,
			Parameters:   datatypes.JSONMap{"period_days": 7},
			Recurrence:   models.RecurrenceWeekly,
			Weekday:      &monday,
			TimeOfDay:    "08:00",
			OutputFormat: models.OutputFormatExcel,
		},
		{
			Name:         "Logs de acesso diários",
			Description:  "Requisições à API nas últimas 24 horas",
			ReportType:   models.ReportTypeAccessLogs,
			Parameters:   datatypes.JSONMap{"period_days": 1},
			Recurrence:   models.RecurrenceDaily,
			TimeOfDay:    "07:00",
			OutputFormat: models.OutputFormatCSV,
		},
		{
			Name:         "Prefeituras cadastradas",
			Description:  "Relação mensal das prefeituras do programa",
			ReportType:   models.ReportTypeMunicipalities,
			Recurrence:   models.RecurrenceMonthly,
			DayOfMonth:   &first,
			TimeOfDay:    "08:00",
			OutputFormat: models.OutputFormatPDF,
		},
		{
			Name:         "Usuários do sistema",
			ReportType:   models.ReportTypeUsers,
			Recurrence:   models.RecurrenceOnDemand,
			OutputFormat: models.OutputFormatPDF,
		},
	}
}
