package feedback

import (
	"context"
	"time"

	"quiz-session-service/internal/logger"
)

// Worker drains the feedback outbox on an interval.
type Worker struct {
	dispatcher *Dispatcher
	interval   time.Duration
	batch      int
}

func NewWorker(dispatcher *Dispatcher, interval time.Duration, batch int) *Worker {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if batch <= 0 {
		batch = 10
	}
	return &Worker{dispatcher: dispatcher, interval: interval, batch: batch}
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	log := logger.WithContext(ctx)
	log.WithField("interval", w.interval.String()).Info("feedback worker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		w.drain(ctx)
		select {
		case <-ctx.Done():
			log.Info("feedback worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (w *Worker) drain(ctx context.Context) {
	for i := 0; i < w.batch; i++ {
		if ctx.Err() != nil {
			return
		}
		ran, err := w.dispatcher.RunOnce(ctx)
		if err != nil {
			// already logged by the dispatcher with job context
			continue
		}
		if !ran {
			return
		}
	}
}
