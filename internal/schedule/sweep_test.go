package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tfdgestao/relatorios/internal/models"
)

func TestSweep_ContinuesPastFailures(t *testing.T) {
	f := newRunnerFixture(t, at(2024, 3, 1, 7, 0))
	f.renderer.fail[models.ReportTypeUsers] = errors.New("template missing")

	ok := f.create(t, func(s *models.ReportSchedule) { s.Name = "viagens" })
	broken := f.create(t, func(s *models.ReportSchedule) {
		s.Name = "usuarios"
		s.ReportType = models.ReportTypeUsers
	})

	now := at(2024, 3, 1, 9, 0)
	f.clock.Set(now)
	outcomes, err := NewSweeper(f.store, f.runner, 2, nil).SweepPending(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	byID := map[uint]Outcome{}
	for _, o := range outcomes {
		byID[o.ScheduleID] = o
	}
	assert.Equal(t, models.RunStatusSuccess, byID[ok.ID].Status)
	assert.Equal(t, models.RunStatusError, byID[broken.ID].Status)
	assert.Contains(t, byID[broken.ID].Error, "template missing")

	for _, id := range []uint{ok.ID, broken.ID} {
		s := mustGet(t, f.store, id)
		require.NotNil(t, s.NextRun)
		assert.True(t, s.NextRun.After(now), "schedule %d next run %v", id, s.NextRun)
	}

	again, err := NewSweeper(f.store, f.runner, 2, nil).SweepPending(context.Background(), now)
	require.NoError(t, err)
	assert.Empty(t, again, "each schedule runs once per slot")
}

func TestSweep_NothingDue(t *testing.T) {
	f := newRunnerFixture(t, at(2024, 3, 1, 7, 0))
	f.create(t, nil)

	outcomes, err := NewSweeper(f.store, f.runner, 0, nil).SweepPending(context.Background(), at(2024, 3, 1, 7, 30))
	require.NoError(t, err)
	assert.NotNil(t, outcomes)
	assert.Empty(t, outcomes)
	assert.Zero(t, f.renderer.Calls())
}

func TestSweep_CatchUpRunsOnce(t *testing.T) {
	f := newRunnerFixture(t, at(2024, 1, 10, 7, 0))
	s := f.create(t, func(s *models.ReportSchedule) {
		s.Recurrence = models.RecurrenceMonthly
		s.DayOfMonth = intPtr(15)
	})

	// Three monthly slots were missed while the service was down.
	now := at(2024, 4, 20, 9, 0)
	f.clock.Set(now)
	outcomes, err := NewSweeper(f.store, f.runner, 4, nil).SweepPending(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, 1, f.renderer.Calls())

	got := mustGet(t, f.store, s.ID)
	assert.True(t, got.NextRun.Equal(at(2024, 5, 15, 8, 0)), "got %v", got.NextRun)
}

type stubExecutor struct {
	mu      sync.Mutex
	errs    map[uint]error
	active  int
	maxSeen int
	delay   time.Duration
}

func (s *stubExecutor) Run(_ context.Context, id uint, _ Trigger) (Outcome, error) {
	s.mu.Lock()
	s.active++
	if s.active > s.maxSeen {
		s.maxSeen = s.active
	}
	err := s.errs[id]
	s.mu.Unlock()

	time.Sleep(s.delay)

	s.mu.Lock()
	s.active--
	s.mu.Unlock()
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{ScheduleID: id, Status: models.RunStatusSuccess}, nil
}

func TestSweep_SkipsRunningAndBoundsConcurrency(t *testing.T) {
	clock := newFakeClock(at(2024, 3, 1, 7, 0))
	store := newTestStore(t, clock)

	var ids []uint
	for i := 0; i < 6; i++ {
		s := createAt(t, store, fmt.Sprintf("s%d", i), "08:00")
		ids = append(ids, s.ID)
	}

	exec := &stubExecutor{
		errs:  map[uint]error{ids[2]: fmt.Errorf("%w: %d", ErrRunInProgress, ids[2])},
		delay: 20 * time.Millisecond,
	}
	outcomes, err := NewSweeper(store, exec, 2, nil).SweepPending(context.Background(), at(2024, 3, 1, 9, 0))
	require.NoError(t, err)

	assert.Len(t, outcomes, 5)
	for _, o := range outcomes {
		assert.NotEqual(t, ids[2], o.ScheduleID)
	}
	assert.LessOrEqual(t, exec.maxSeen, 2)
}
