package worker

import (
	"context"
	"time"

	"github.com/kumoshelf/kumoshelf/pkg/config"
	"github.com/kumoshelf/kumoshelf/pkg/errcodes"
	"github.com/kumoshelf/kumoshelf/pkg/sync"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
)

// Worker triggers a background sync pass on the configured interval. It
// shares the orchestrator's single-flight guard, so a tick that lands while
// a manual sync is running is simply skipped.
type Worker struct {
	config      *config.Config
	log         logger.Logger
	syncService *sync.Service

	shutdown chan struct{}
	done     chan struct{}
}

func New(cfg *config.Config, syncService *sync.Service) *Worker {
	return &Worker{
		config:      cfg,
		log:         logger.New(),
		syncService: syncService,

		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (w *Worker) Start() {
	go w.loop()
}

func (w *Worker) interval() time.Duration {
	minutes := w.config.UserConfig.SyncIntervalMinutes
	if minutes < 1 {
		minutes = 60
	}
	return time.Duration(minutes) * time.Minute
}

func (w *Worker) loop() {
	timer := time.NewTimer(w.interval())
	defer timer.Stop()

	for {
		select {
		case <-w.shutdown:
			w.done <- struct{}{}
			return
		case <-timer.C:
			w.runOnce()
			// Re-read the interval so config changes take effect on the
			// next tick.
			timer.Reset(w.interval())
		}
	}
}

func (w *Worker) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	result, err := w.syncService.SyncNow(ctx)
	if err != nil {
		e := &errcodes.Error{}
		if errors.As(err, &e) && (e.Code == "sync_disabled" || e.Code == "sync_in_progress") {
			// Not signed in, sync turned off, or a manual sync is running.
			return
		}
		w.log.Err(err).Error("scheduled sync error")
		return
	}

	w.log.Info("scheduled sync finished", logger.Data{
		"uploaded":   result.Uploaded,
		"downloaded": result.Downloaded,
		"conflicts":  result.ConflictsResolved,
	})
}

func (w *Worker) Shutdown() {
	close(w.shutdown)
	<-w.done
}
