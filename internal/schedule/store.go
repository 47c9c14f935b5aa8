package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tfdgestao/relatorios/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Store is the persistent collection of report schedules. It is the single
// source of truth; every in-memory structure is derived from it.
type Store interface {
	List(ctx context.Context, filter Filter, page Pagination) (*Page, error)
	Get(ctx context.Context, id uint) (*models.ReportSchedule, error)
	Create(ctx context.Context, def *models.ReportSchedule, ownerID uint) (*models.ReportSchedule, error)
	CreateMany(ctx context.Context, defs []models.ReportSchedule, ownerID uint) ([]models.ReportSchedule, error)
	Update(ctx context.Context, id uint, u Update) (*models.ReportSchedule, error)
	SetActive(ctx context.Context, id uint, active bool) (*models.ReportSchedule, error)
	Delete(ctx context.Context, id uint) error
	Count(ctx context.Context) (int64, error)

	MarkPending(ctx context.Context, id uint) error
	RecordRunOutcome(ctx context.Context, id uint, outcome RunOutcome) (*models.ReportSchedule, error)

	// ListDue returns active recurring schedules whose next run is at or before now.
	ListDue(ctx context.Context, now time.Time) ([]models.ReportSchedule, error)
	ListArmable(ctx context.Context, until time.Time) ([]models.ReportSchedule, error)
}

type Filter struct {
	Active     *bool
	ReportType models.ReportType
	Recurrence models.Recurrence
	CreatedBy  uint
	Search     string
}

type Pagination struct {
	Page     int
	PageSize int
}

type Page struct {
	Items    []models.ReportSchedule `json:"items"`
	Total    int64                   `json:"total"`
	Page     int                     `json:"page"`
	PageSize int                     `json:"page_size"`
}

// Update carries a partial change; nil fields are left untouched.
type Update struct {
	Name         *string              `json:"name,omitempty"`
	Description  *string              `json:"description,omitempty"`
	ReportType   *models.ReportType   `json:"report_type,omitempty"`
	Parameters   *datatypes.JSONMap   `json:"parameters,omitempty"`
	Recurrence   *models.Recurrence   `json:"recurrence,omitempty"`
	Weekday      *int                 `json:"weekday,omitempty"`
	DayOfMonth   *int                 `json:"day_of_month,omitempty"`
	TimeOfDay    *string              `json:"time_of_day,omitempty"`
	OutputFormat *models.OutputFormat `json:"output_format,omitempty"`
	Recipients   *[]string            `json:"recipients,omitempty"`
	Active       *bool                `json:"active,omitempty"`
}

// RunOutcome is what the runner writes back after an execution attempt.
type RunOutcome struct {
	Status  models.RunStatus
	Error   string
	RanAt   time.Time
	NextRun *time.Time
}

// definitionColumns are written by Update; run bookkeeping columns are left
// to the runner so an edit never clobbers an in-flight status.
var definitionColumns = []string{
	"name", "description", "report_type", "parameters", "recurrence", "weekday",
	"day_of_month", "time_of_day", "output_format", "recipients", "active", "next_run",
}

type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormStore builds a store over db. now supplies the clock used for
// next-run computation and must return times in the service time zone.
func NewGormStore(db *gorm.DB, now func() time.Time) *GormStore {
	if now == nil {
		now = time.Now
	}
	return &GormStore{db: db, now: now}
}

func (gs *GormStore) List(ctx context.Context, filter Filter, page Pagination) (*Page, error) {
	if page.Page < 1 {
		page.Page = 1
	}
	if page.PageSize <= 0 {
		page.PageSize = defaultPageSize
	}
	if page.PageSize > maxPageSize {
		page.PageSize = maxPageSize
	}

	query := gs.db.WithContext(ctx).Model(&models.ReportSchedule{})
	if filter.Active != nil {
		query = query.Where("active = ?", *filter.Active)
	}
	if filter.ReportType != "" {
		query = query.Where("report_type = ?", filter.ReportType)
	}
	if filter.Recurrence != "" {
		query = query.Where("recurrence = ?", filter.Recurrence)
	}
	if filter.CreatedBy != 0 {
		query = query.Where("created_by = ?", filter.CreatedBy)
	}
	if filter.Search != "" {
		query = query.Where("name LIKE ?", "%"+filter.Search+"%")
	}

	result := &Page{Page: page.Page, PageSize: page.PageSize, Items: []models.ReportSchedule{}}
	if err := query.Count(&result.Total).Error; err != nil {
		return nil, fmt.Errorf("failed to count schedules: %w", err)
	}
	if err := query.Order("id asc").
		Offset((page.Page - 1) * page.PageSize).
		Limit(page.PageSize).
		Find(&result.Items).Error; err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	return result, nil
}

func (gs *GormStore) Get(ctx context.Context, id uint) (*models.ReportSchedule, error) {
	return gs.get(gs.db.WithContext(ctx), id)
}

func (gs *GormStore) get(db *gorm.DB, id uint) (*models.ReportSchedule, error) {
	var s models.ReportSchedule
	if err := db.First(&s, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to load schedule %d: %w", id, err)
	}
	return &s, nil
}

func (gs *GormStore) Create(ctx context.Context, def *models.ReportSchedule, ownerID uint) (*models.ReportSchedule, error) {
	s, err := gs.prepare(def, ownerID)
	if err != nil {
		return nil, err
	}
	if err := gs.db.WithContext(ctx).Create(s).Error; err != nil {
		return nil, fmt.Errorf("failed to create schedule: %w", err)
	}
	return s, nil
}

// CreateMany creates all definitions or none of them. A *ValidationError
// for the i-th definition has its field names prefixed with "[i].".
func (gs *GormStore) CreateMany(ctx context.Context, defs []models.ReportSchedule, ownerID uint) ([]models.ReportSchedule, error) {
	created := make([]models.ReportSchedule, 0, len(defs))
	for i := range defs {
		s, err := gs.prepare(&defs[i], ownerID)
		if err != nil {
			var verr *ValidationError
			if errors.As(err, &verr) {
				return nil, verr.prefixed(fmt.Sprintf("[%d].", i))
			}
			return nil, err
		}
		created = append(created, *s)
	}
	if len(created) == 0 {
		return created, nil
	}

	err := gs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range created {
			if err := tx.Create(&created[i]).Error; err != nil {
				return fmt.Errorf("failed to create schedule %q: %w", created[i].Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// prepare copies def into a fresh row owned by ownerID, validated and with
// its first next run computed.
func (gs *GormStore) prepare(def *models.ReportSchedule, ownerID uint) (*models.ReportSchedule, error) {
	s := *def
	s.ID = 0
	s.CreatedAt = time.Time{}
	s.UpdatedAt = time.Time{}
	s.CreatedBy = ownerID
	s.LastRun = nil
	s.LastRunStatus = models.RunStatusNone
	s.LastRunError = nil
	s.Recipients = append(datatypes.JSONSlice[string]{}, def.Recipients...)

	normalize(&s)
	if err := Validate(&s); err != nil {
		return nil, err
	}
	s.NextRun = gs.nextRunFor(&s)
	return &s, nil
}

func (gs *GormStore) Update(ctx context.Context, id uint, u Update) (*models.ReportSchedule, error) {
	var updated *models.ReportSchedule
	err := gs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		s, err := gs.get(tx, id)
		if err != nil {
			return err
		}
		before := *s

		u.apply(s)
		normalize(s)
		if err := Validate(s); err != nil {
			return err
		}
		if recurrenceChanged(&before, s) {
			s.NextRun = gs.nextRunFor(s)
		}

		if err := tx.Model(s).Select(definitionColumns).Updates(s).Error; err != nil {
			return fmt.Errorf("failed to update schedule %d: %w", id, err)
		}
		updated = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (gs *GormStore) SetActive(ctx context.Context, id uint, active bool) (*models.ReportSchedule, error) {
	return gs.Update(ctx, id, Update{Active: &active})
}

func (gs *GormStore) Delete(ctx context.Context, id uint) error {
	result := gs.db.WithContext(ctx).Delete(&models.ReportSchedule{}, id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete schedule %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}

func (gs *GormStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := gs.db.WithContext(ctx).Model(&models.ReportSchedule{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count schedules: %w", err)
	}
	return n, nil
}

func (gs *GormStore) MarkPending(ctx context.Context, id uint) error {
	result := gs.db.WithContext(ctx).Model(&models.ReportSchedule{}).
		Where("id = ?", id).
		Update("last_run_status", models.RunStatusPending)
	if result.Error != nil {
		return fmt.Errorf("failed to mark schedule %d pending: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}

// RecordRunOutcome writes the result of an execution. A schedule that was
// deactivated (or switched to on-demand) while running gets no next run.
func (gs *GormStore) RecordRunOutcome(ctx context.Context, id uint, outcome RunOutcome) (*models.ReportSchedule, error) {
	var updated *models.ReportSchedule
	err := gs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		s, err := gs.get(tx, id)
		if err != nil {
			return err
		}

		ranAt := outcome.RanAt.UTC()
		s.LastRun = &ranAt
		s.LastRunStatus = outcome.Status
		s.LastRunError = nil
		if outcome.Status == models.RunStatusError {
			msg := outcome.Error
			s.LastRunError = &msg
		}
		s.NextRun = nil
		if s.Schedulable() {
			s.NextRun = utc(outcome.NextRun)
		}

		if err := tx.Model(s).
			Select("last_run", "last_run_status", "last_run_error", "next_run").
			Updates(s).Error; err != nil {
			return fmt.Errorf("failed to record outcome for schedule %d: %w", id, err)
		}
		updated = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (gs *GormStore) ListDue(ctx context.Context, now time.Time) ([]models.ReportSchedule, error) {
	return gs.listUntil(ctx, now)
}

// ListArmable returns active recurring schedules whose next run falls at or
// before until, including those already overdue.
func (gs *GormStore) ListArmable(ctx context.Context, until time.Time) ([]models.ReportSchedule, error) {
	return gs.listUntil(ctx, until)
}

func (gs *GormStore) listUntil(ctx context.Context, until time.Time) ([]models.ReportSchedule, error) {
	var schedules []models.ReportSchedule
	if err := gs.db.WithContext(ctx).
		Where("active = ? AND recurrence <> ? AND next_run IS NOT NULL AND next_run <= ?",
			true, models.RecurrenceOnDemand, until.UTC()).
		Order("next_run asc").
		Find(&schedules).Error; err != nil {
		return nil, fmt.Errorf("failed to query due schedules: %w", err)
	}
	return schedules, nil
}

// nextRunFor applies the invariant that only active recurring schedules
// carry a next run. Times are stored in UTC so SQLite compares them
// consistently.
func (gs *GormStore) nextRunFor(s *models.ReportSchedule) *time.Time {
	if !s.Active {
		return nil
	}
	return utc(ComputeNextRun(s, gs.now()))
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func (u Update) apply(s *models.ReportSchedule) {
	if u.Name != nil {
		s.Name = *u.Name
	}
	if u.Description != nil {
		s.Description = *u.Description
	}
	if u.ReportType != nil {
		s.ReportType = *u.ReportType
	}
	if u.Parameters != nil {
		s.Parameters = *u.Parameters
	}
	if u.Recurrence != nil {
		s.Recurrence = *u.Recurrence
	}
	if u.Weekday != nil {
		s.Weekday = u.Weekday
	}
	if u.DayOfMonth != nil {
		s.DayOfMonth = u.DayOfMonth
	}
	if u.TimeOfDay != nil {
		s.TimeOfDay = *u.TimeOfDay
	}
	if u.OutputFormat != nil {
		s.OutputFormat = *u.OutputFormat
	}
	if u.Recipients != nil {
		s.Recipients = *u.Recipients
	}
	if u.Active != nil {
		s.Active = *u.Active
	}
}

func recurrenceChanged(before, after *models.ReportSchedule) bool {
	return before.Recurrence != after.Recurrence ||
		before.TimeOfDay != after.TimeOfDay ||
		before.Active != after.Active ||
		!sameInt(before.Weekday, after.Weekday) ||
		!sameInt(before.DayOfMonth, after.DayOfMonth)
}

func sameInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
