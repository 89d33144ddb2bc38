package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ex "quantlab/data/extensions"
)

func TestStartSyncSchedule_RejectsBadSchedule(t *testing.T) {
	sc := syncContext(newFakePriceStore(), &fakeMarketData{bars: ex.BusinessDays(testStart, 3)})

	_, err := sc.StartSyncSchedule(context.Background(), "not a schedule", []string{"AAA"})
	assert.Error(t, err)

	_, err = sc.StartSyncSchedule(context.Background(), "@every 1h", nil)
	assert.Error(t, err)
}

func TestStartSyncSchedule_RunsJob(t *testing.T) {
	store := newFakePriceStore()
	sc := syncContext(store, &fakeMarketData{bars: ex.BusinessDays(testStart, 3)})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop, err := sc.StartSyncSchedule(ctx, "@every 1s", []string{"AAA"})
	require.NoError(t, err)
	defer stop()

	// the first tick lands within a second
	assert.Eventually(t, func() bool {
		return store.refreshedCount() == 1
	}, 5*time.Second, 50*time.Millisecond)
}
