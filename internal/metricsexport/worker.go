package metricsexport

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Worker periodically refreshes the inventory and pushes a snapshot.
type Worker struct {
	pusher    Pusher
	inventory *Inventory
	db        *gorm.DB
	gatherer  prometheus.Gatherer
	log       *zap.Logger
}

func NewWorker(pusher Pusher, inventory *Inventory, db *gorm.DB, gatherer prometheus.Gatherer, log *zap.Logger) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{pusher: pusher, inventory: inventory, db: db, gatherer: gatherer, log: log}
}

// Run pushes once immediately, then on every tick until ctx is done.
func (w *Worker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.PushOnce(ctx)
	for {
		select {
		case <-ticker.C:
			w.PushOnce(ctx)
		case <-ctx.Done():
			w.log.Info("stopping metrics export")
			return
		}
	}
}

func (w *Worker) PushOnce(ctx context.Context) {
	if err := w.inventory.Refresh(ctx, w.db); err != nil {
		w.log.Warn("inventory refresh failed", zap.Error(err))
	}
	pushCtx, cancel := context.WithTimeout(ctx, defaultPushTimeout)
	defer cancel()
	if err := w.pusher.Push(pushCtx, w.gatherer); err != nil {
		w.log.Warn("metrics push failed", zap.Error(err))
	}
}
