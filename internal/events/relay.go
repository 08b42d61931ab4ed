package events

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"jcm-p2p-backend/internal/metrics"
	"jcm-p2p-backend/internal/models"
	"jcm-p2p-backend/pkg/utils"
)

const maxErrorLen = 255

// Relay moves committed outbox rows to the publisher, oldest first.
type Relay struct {
	db        *gorm.DB
	publisher Publisher
	log       *zap.Logger
	interval  time.Duration
	batchSize int
}

func NewRelay(db *gorm.DB, publisher Publisher, log *zap.Logger, interval time.Duration) *Relay {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Relay{db: db, publisher: publisher, log: log, interval: interval, batchSize: 100}
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("outbox relay started", zap.Duration("interval", r.interval))
	for {
		select {
		case <-ctx.Done():
			r.log.Info("outbox relay stopped")
			return
		case <-ticker.C:
			if _, err := r.RelayOnce(ctx); err != nil && ctx.Err() == nil {
				r.log.Error("outbox relay pass failed", zap.Error(err))
			}
		}
	}
}

// RelayOnce publishes one batch and returns how many rows were delivered.
// It stops at the first failure so later events never overtake earlier ones.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	var pending []models.OutboxEvent
	if err := r.db.WithContext(ctx).
		Where("published_at IS NULL").
		Order("id asc").
		Limit(r.batchSize).
		Find(&pending).Error; err != nil {
		return 0, err
	}
	metrics.OutboxBacklog.Set(float64(len(pending)))

	sent := 0
	for _, ev := range pending {
		if err := r.publisher.Publish(ctx, ev.Topic, ev.Key, ev.Payload); err != nil {
			metrics.OutboxPublished.WithLabelValues(ev.Topic, "error").Inc()
			r.log.Warn("outbox publish failed", zap.Uint64("id", ev.ID), zap.String("topic", ev.Topic), zap.Error(err))
			if uerr := r.db.WithContext(ctx).Model(&models.OutboxEvent{}).Where("id = ?", ev.ID).
				Updates(map[string]interface{}{
					"attempts":   gorm.Expr("attempts + 1"),
					"last_error": utils.Truncate(err.Error(), maxErrorLen),
				}).Error; uerr != nil {
				r.log.Error("record outbox failure", zap.Uint64("id", ev.ID), zap.Error(uerr))
			}
			return sent, nil
		}

		now := time.Now()
		if err := r.db.WithContext(ctx).Model(&models.OutboxEvent{}).Where("id = ?", ev.ID).
			Updates(map[string]interface{}{"published_at": &now, "attempts": gorm.Expr("attempts + 1")}).Error; err != nil {
			return sent, err
		}
		metrics.OutboxPublished.WithLabelValues(ev.Topic, "ok").Inc()
		sent++
	}
	return sent, nil
}
