package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tfdgestao/relatorios/internal/models"
)

type serviceFixture struct {
	*runnerFixture
	scheduler *Scheduler
	service   *Service
}

func newServiceFixture(t *testing.T, now time.Time) *serviceFixture {
	t.Helper()
	rf := newRunnerFixture(t, now)
	sc := NewScheduler(rf.store, rf.runner, SchedulerConfig{Lookahead: time.Hour, Now: rf.clock.Now})
	t.Cleanup(func() { sc.Stop(context.Background()) })
	sweeper := NewSweeper(rf.store, rf.runner, 2, nil)
	return &serviceFixture{
		runnerFixture: rf,
		scheduler:     sc,
		service:       NewService(rf.store, rf.runner, sc, sweeper, rf.clock.Now),
	}
}

func TestService_CreateArmsAndGetRoundTrips(t *testing.T) {
	f := newServiceFixture(t, at(2024, 3, 1, 7, 30))
	ctx := context.Background()

	def := validSchedule()
	s, err := f.service.Create(ctx, def, 7)
	require.NoError(t, err)

	got, err := f.service.Get(ctx, s.ID)
	require.NoError(t, err)
	want := ComputeNextRun(def, f.clock.Now())
	assert.True(t, got.NextRun.Equal(*want))

	armed := f.service.Armed()
	require.Len(t, armed, 1)
	assert.Equal(t, s.ID, armed[0].ScheduleID)

	page, err := f.service.List(ctx, Filter{}, Pagination{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Total)
}

func TestService_CreateRejectsInvalid(t *testing.T) {
	f := newServiceFixture(t, at(2024, 3, 1, 7, 30))
	def := validSchedule()
	def.Recipients = []string{"sem-arroba"}

	_, err := f.service.Create(context.Background(), def, 7)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Empty(t, f.service.Armed())
}

func TestService_DeactivationCancelsTimer(t *testing.T) {
	f := newServiceFixture(t, at(2024, 3, 1, 7, 30))
	ctx := context.Background()

	s, err := f.service.Create(ctx, validSchedule(), 7)
	require.NoError(t, err)
	require.Len(t, f.service.Armed(), 1)

	_, err = f.service.SetActive(ctx, s.ID, false)
	require.NoError(t, err)
	assert.Empty(t, f.service.Armed())

	// At the originally-due time neither trigger executes it.
	f.clock.Set(at(2024, 3, 1, 8, 0))
	f.scheduler.Reload(ctx)
	assert.Empty(t, f.service.Armed())

	outcomes, err := f.service.SweepNow(ctx)
	require.NoError(t, err)
	assert.Empty(t, outcomes)
	assert.Zero(t, f.renderer.Calls())

	s, err = f.service.SetActive(ctx, s.ID, true)
	require.NoError(t, err)
	assert.True(t, s.NextRun.Equal(at(2024, 3, 2, 8, 0)))
}

func TestService_UpdateResyncs(t *testing.T) {
	f := newServiceFixture(t, at(2024, 3, 1, 7, 30))
	ctx := context.Background()

	s, err := f.service.Create(ctx, validSchedule(), 7)
	require.NoError(t, err)

	s, err = f.service.Update(ctx, s.ID, Update{TimeOfDay: strPtr("07:45")})
	require.NoError(t, err)
	armed := f.service.Armed()
	require.Len(t, armed, 1)
	assert.True(t, armed[0].FiresAt.Equal(at(2024, 3, 1, 7, 45)))

	onDemand := models.RecurrenceOnDemand
	s, err = f.service.Update(ctx, s.ID, Update{Recurrence: &onDemand})
	require.NoError(t, err)
	assert.Nil(t, s.NextRun)
	assert.Empty(t, f.service.Armed())
}

func TestService_DeleteCancelsTimer(t *testing.T) {
	f := newServiceFixture(t, at(2024, 3, 1, 7, 30))
	ctx := context.Background()

	s, err := f.service.Create(ctx, validSchedule(), 7)
	require.NoError(t, err)
	require.NoError(t, f.service.Delete(ctx, s.ID))
	assert.Empty(t, f.service.Armed())

	_, err = f.service.Get(ctx, s.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, f.service.Delete(ctx, s.ID), ErrNotFound)
}

func TestService_RunNowRearms(t *testing.T) {
	f := newServiceFixture(t, at(2024, 3, 1, 7, 30))
	ctx := context.Background()

	def := validSchedule()
	def.TimeOfDay = "08:10"
	s, err := f.service.Create(ctx, def, 7)
	require.NoError(t, err)

	f.clock.Set(at(2024, 3, 1, 8, 0))
	// Pretend the daily slot is now one hour later; the run resyncs the timer.
	_, err = f.store.Update(ctx, s.ID, Update{TimeOfDay: strPtr("08:20")})
	require.NoError(t, err)

	outcome, err := f.service.RunNow(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSuccess, outcome.Status)
	require.NotNil(t, outcome.NextRun)
	assert.True(t, outcome.NextRun.Equal(at(2024, 3, 1, 8, 20)))

	armed := f.service.Armed()
	require.Len(t, armed, 1)
	assert.True(t, armed[0].FiresAt.Equal(at(2024, 3, 1, 8, 20)))

	_, err = f.service.RunNow(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_CreateDefaultSchedules(t *testing.T) {
	f := newServiceFixture(t, at(2024, 3, 1, 7, 30))
	ctx := context.Background()

	n, err := f.service.CreateDefaultSchedules(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, len(DefaultSchedules()), n)

	n, err = f.service.CreateDefaultSchedules(ctx, 7)
	require.NoError(t, err)
	assert.Zero(t, n, "seeding only happens on an empty store")

	page, err := f.service.List(ctx, Filter{CreatedBy: 7}, Pagination{})
	require.NoError(t, err)
	assert.Equal(t, int64(len(DefaultSchedules())), page.Total)
	assert.Empty(t, f.service.Armed(), "defaults start inactive")
}
