package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// StartSyncSchedule syncs the symbols on a cron schedule (standard five field expression or @every)
// until ctx is done or the returned stop func is called. Overlapping runs are skipped.
func (sc *ServiceContext) StartSyncSchedule(ctx context.Context, schedule string, symbols []string) (stop func(), err error) {
	if len(symbols) == 0 {
		return nil, errors.New("sync schedule has no symbols")
	}

	log := sc.log().WithFields(map[string]any{"job": "price_sync", "schedule": schedule})
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	_, err = c.AddFunc(schedule, func() {
		start := time.Now()
		log.Info("job started")
		results, err := sc.SyncSymbols(ctx, symbols)
		if err != nil {
			log.WithError(err).Error("job finished with errors")
		}
		log.WithField("synced", len(results)).Info("job finished")
		sc.Telemetry.ObserveStep("sync", "scheduled", start)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule price sync %q: %w", schedule, err)
	}

	log.Info("starting scheduler")
	c.Start()

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		<-c.Stop().Done()
		log.Info("scheduler stopped")
	}()

	var stopped bool
	return func() {
		if !stopped {
			stopped = true
			close(done)
		}
	}, nil
}
