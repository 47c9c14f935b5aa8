package schedule

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tfdgestao/relatorios/internal/database"
	"github.com/tfdgestao/relatorios/internal/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock { return &fakeClock{now: now} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func newTestStore(t *testing.T, clock *fakeClock) *GormStore {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "schedules.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })
	return NewGormStore(db, clock.Now)
}

func strPtr(s string) *string { return &s }

func TestStore_CreateGetRoundTrip(t *testing.T) {
	clock := newFakeClock(at(2024, 3, 1, 7, 0))
	store := newTestStore(t, clock)
	ctx := context.Background()

	def := validSchedule()
	def.Parameters = map[string]interface{}{"status": "approved"}

	created, err := store.Create(ctx, def, 42)
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Equal(t, uint(42), created.CreatedBy)

	got, err := store.Get(ctx, created.ID)
	require.NoError(t, err)

	want := ComputeNextRun(def, clock.Now())
	require.NotNil(t, got.NextRun)
	assert.True(t, got.NextRun.Equal(*want), "got %v want %v", got.NextRun, want)
	assert.Equal(t, "approved", got.Parameters["status"])
	assert.Equal(t, []string{"saude@prefeitura.gov.br"}, []string(got.Recipients))
	assert.Equal(t, models.RunStatusNone, got.LastRunStatus)
	assert.Nil(t, got.LastRun)
}

func TestStore_CreateNoNextRun(t *testing.T) {
	store := newTestStore(t, newFakeClock(at(2024, 3, 1, 7, 0)))
	ctx := context.Background()

	inactive := validSchedule()
	inactive.Active = false
	s, err := store.Create(ctx, inactive, 1)
	require.NoError(t, err)
	assert.Nil(t, s.NextRun)

	onDemand := validSchedule()
	onDemand.Recurrence = models.RecurrenceOnDemand
	s, err = store.Create(ctx, onDemand, 1)
	require.NoError(t, err)
	assert.Nil(t, s.NextRun)
}

func TestStore_CreateRejectsInvalid(t *testing.T) {
	store := newTestStore(t, newFakeClock(at(2024, 3, 1, 7, 0)))
	ctx := context.Background()

	def := validSchedule()
	def.TimeOfDay = "8h"
	_, err := store.Create(ctx, def, 1)
	assert.ErrorIs(t, err, ErrValidation)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_CreateMany(t *testing.T) {
	store := newTestStore(t, newFakeClock(at(2024, 3, 1, 7, 0)))
	ctx := context.Background()

	bad := *validSchedule()
	bad.Name = ""
	_, err := store.CreateMany(ctx, []models.ReportSchedule{*validSchedule(), bad}, 1)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Fields, "[1].name")

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing is created when any definition is invalid")

	created, err := store.CreateMany(ctx, DefaultSchedules(), 1)
	require.NoError(t, err)
	assert.Len(t, created, len(DefaultSchedules()))
	for _, s := range created {
		assert.NotZero(t, s.ID)
		assert.False(t, s.Active)
		assert.Nil(t, s.NextRun)
	}
}

func TestStore_UpdateRecomputesNextRun(t *testing.T) {
	clock := newFakeClock(at(2024, 3, 1, 7, 0))
	store := newTestStore(t, clock)
	ctx := context.Background()

	s, err := store.Create(ctx, validSchedule(), 1)
	require.NoError(t, err)
	require.True(t, s.NextRun.Equal(at(2024, 3, 1, 8, 0)))

	clock.Set(at(2024, 3, 1, 7, 30))

	s, err = store.Update(ctx, s.ID, Update{Name: strPtr("Renomeado")})
	require.NoError(t, err)
	assert.Equal(t, "Renomeado", s.Name)
	assert.True(t, s.NextRun.Equal(at(2024, 3, 1, 8, 0)), "unrelated edits keep the next run")

	s, err = store.Update(ctx, s.ID, Update{TimeOfDay: strPtr("07:00")})
	require.NoError(t, err)
	assert.True(t, s.NextRun.Equal(at(2024, 3, 2, 7, 0)), "got %v", s.NextRun)

	weekly := models.RecurrenceWeekly
	s, err = store.Update(ctx, s.ID, Update{Recurrence: &weekly, Weekday: intPtr(3)})
	require.NoError(t, err)
	assert.Equal(t, time.Wednesday, s.NextRun.Weekday())

	got, err := store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, got.NextRun.Equal(*s.NextRun))
	assert.Equal(t, models.RecurrenceWeekly, got.Recurrence)
}

func TestStore_UpdateRejectedLeavesRowUntouched(t *testing.T) {
	store := newTestStore(t, newFakeClock(at(2024, 3, 1, 7, 0)))
	ctx := context.Background()

	s, err := store.Create(ctx, validSchedule(), 1)
	require.NoError(t, err)

	monthly := models.RecurrenceMonthly
	_, err = store.Update(ctx, s.ID, Update{Recurrence: &monthly, Name: strPtr("novo")})
	assert.ErrorIs(t, err, ErrValidation)

	badFormat := models.OutputFormat("docx")
	_, err = store.Update(ctx, s.ID, Update{OutputFormat: &badFormat})
	assert.ErrorIs(t, err, ErrValidation)

	got, err := store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.Name, got.Name)
	assert.Equal(t, models.RecurrenceDaily, got.Recurrence)
	assert.Equal(t, models.OutputFormatCSV, got.OutputFormat)

	_, err = store.Update(ctx, 999, Update{Name: strPtr("x")})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_SetActive(t *testing.T) {
	clock := newFakeClock(at(2024, 3, 1, 7, 0))
	store := newTestStore(t, clock)
	ctx := context.Background()

	s, err := store.Create(ctx, validSchedule(), 1)
	require.NoError(t, err)

	s, err = store.SetActive(ctx, s.ID, false)
	require.NoError(t, err)
	assert.False(t, s.Active)
	assert.Nil(t, s.NextRun)

	clock.Set(at(2024, 3, 1, 9, 0))
	s, err = store.SetActive(ctx, s.ID, true)
	require.NoError(t, err)
	require.NotNil(t, s.NextRun)
	assert.True(t, s.NextRun.Equal(at(2024, 3, 2, 8, 0)))

	_, err = store.SetActive(ctx, 999, true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Delete(t *testing.T) {
	store := newTestStore(t, newFakeClock(at(2024, 3, 1, 7, 0)))
	ctx := context.Background()

	s, err := store.Create(ctx, validSchedule(), 1)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, s.ID))
	_, err = store.Get(ctx, s.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, s.ID), ErrNotFound)
}

func TestStore_ListFiltersAndPages(t *testing.T) {
	store := newTestStore(t, newFakeClock(at(2024, 3, 1, 7, 0)))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		def := validSchedule()
		def.Name = "viagens " + string(rune('a'+i))
		_, err := store.Create(ctx, def, 1)
		require.NoError(t, err)
	}
	other := validSchedule()
	other.Name = "usuarios"
	other.ReportType = models.ReportTypeUsers
	other.Active = false
	_, err := store.Create(ctx, other, 2)
	require.NoError(t, err)

	page, err := store.List(ctx, Filter{}, Pagination{Page: 2, PageSize: 4})
	require.NoError(t, err)
	assert.Equal(t, int64(6), page.Total)
	assert.Len(t, page.Items, 2)

	active := false
	page, err = store.List(ctx, Filter{Active: &active}, Pagination{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "usuarios", page.Items[0].Name)
	assert.Equal(t, defaultPageSize, page.PageSize)

	page, err = store.List(ctx, Filter{ReportType: models.ReportTypeTripRequests, Search: "viagens c"}, Pagination{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Total)

	page, err = store.List(ctx, Filter{CreatedBy: 2}, Pagination{PageSize: 1000})
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Total)
	assert.Equal(t, maxPageSize, page.PageSize)

	page, err = store.List(ctx, Filter{Search: "nada"}, Pagination{})
	require.NoError(t, err)
	assert.NotNil(t, page.Items)
	assert.Empty(t, page.Items)
}

func TestStore_RecordRunOutcome(t *testing.T) {
	clock := newFakeClock(at(2024, 3, 1, 8, 0))
	store := newTestStore(t, clock)
	ctx := context.Background()

	s, err := store.Create(ctx, validSchedule(), 1)
	require.NoError(t, err)

	require.NoError(t, store.MarkPending(ctx, s.ID))
	got, err := store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusPending, got.LastRunStatus)

	next := at(2024, 3, 2, 8, 0)
	stored, err := store.RecordRunOutcome(ctx, s.ID, RunOutcome{
		Status: models.RunStatusError, Error: "smtp down", RanAt: clock.Now(), NextRun: &next,
	})
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusError, stored.LastRunStatus)
	require.NotNil(t, stored.LastRunError)
	assert.Equal(t, "smtp down", *stored.LastRunError)

	stored, err = store.RecordRunOutcome(ctx, s.ID, RunOutcome{
		Status: models.RunStatusSuccess, RanAt: clock.Now(), NextRun: &next,
	})
	require.NoError(t, err)
	assert.Nil(t, stored.LastRunError, "a success clears the previous error")

	got, err = store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSuccess, got.LastRunStatus)
	assert.Nil(t, got.LastRunError)
	require.NotNil(t, got.LastRun)
	assert.True(t, got.LastRun.Equal(clock.Now()))
	assert.True(t, got.NextRun.Equal(next))
}

func TestStore_RecordRunOutcomeAfterDeactivation(t *testing.T) {
	store := newTestStore(t, newFakeClock(at(2024, 3, 1, 8, 0)))
	ctx := context.Background()

	s, err := store.Create(ctx, validSchedule(), 1)
	require.NoError(t, err)
	_, err = store.SetActive(ctx, s.ID, false)
	require.NoError(t, err)

	next := at(2024, 3, 2, 8, 0)
	stored, err := store.RecordRunOutcome(ctx, s.ID, RunOutcome{Status: models.RunStatusSuccess, RanAt: at(2024, 3, 1, 8, 0), NextRun: &next})
	require.NoError(t, err)
	assert.Nil(t, stored.NextRun)

	require.NoError(t, store.Delete(ctx, s.ID))
	_, err = store.RecordRunOutcome(ctx, s.ID, RunOutcome{Status: models.RunStatusSuccess, RanAt: at(2024, 3, 1, 8, 0)})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ListDueAndArmable(t *testing.T) {
	clock := newFakeClock(at(2024, 3, 1, 7, 0))
	store := newTestStore(t, clock)
	ctx := context.Background()

	mk := func(name, tod string, active bool) *models.ReportSchedule {
		def := validSchedule()
		def.Name = name
		def.TimeOfDay = tod
		def.Active = active
		s, err := store.Create(ctx, def, 1)
		require.NoError(t, err)
		return s
	}
	early := mk("early", "07:30", true)
	late := mk("late", "10:00", true)
	mk("inactive", "07:15", false)
	onDemand := validSchedule()
	onDemand.Recurrence = models.RecurrenceOnDemand
	_, err := store.Create(ctx, onDemand, 1)
	require.NoError(t, err)

	due, err := store.ListDue(ctx, at(2024, 3, 1, 7, 30))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, early.ID, due[0].ID)

	armable, err := store.ListArmable(ctx, at(2024, 3, 1, 11, 0))
	require.NoError(t, err)
	require.Len(t, armable, 2)
	assert.Equal(t, early.ID, armable[0].ID)
	assert.Equal(t, late.ID, armable[1].ID)

	// The bound is compared in UTC whatever zone the caller uses.
	brt := time.FixedZone("BRT", -3*60*60)
	due, err = store.ListDue(ctx, time.Date(2024, 3, 1, 4, 30, 0, 0, brt))
	require.NoError(t, err)
	assert.Len(t, due, 1)
}
