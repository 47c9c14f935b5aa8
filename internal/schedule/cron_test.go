package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepTrigger_RejectsBadSpec(t *testing.T) {
	f := newServiceFixture(t, at(2024, 3, 1, 7, 0))

	_, err := NewSweepTrigger(f.service, "every five minutes", time.UTC)
	assert.Error(t, err)
}

func TestSweepTrigger_RunSweepsDueSchedules(t *testing.T) {
	f := newServiceFixture(t, at(2024, 3, 1, 7, 0))
	s := f.create(t, nil)

	trigger, err := NewSweepTrigger(f.service, "@every 5m", time.UTC)
	require.NoError(t, err)
	trigger.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		trigger.Stop(ctx)
	})

	f.clock.Set(at(2024, 3, 1, 8, 5))
	trigger.run()

	assert.Equal(t, 1, f.renderer.Calls())
	got := mustGet(t, f.store, s.ID)
	assert.True(t, got.NextRun.Equal(at(2024, 3, 2, 8, 0)), "got %v", got.NextRun)
}
