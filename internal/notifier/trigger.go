// Package notifier finds new price drops in the ledger and hands them to a delivery
// collaborator, exactly once per consumer.
package notifier

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/navid-fn/pricio/internal/models"
	"github.com/navid-fn/pricio/internal/storage"
)

// Deliverer hands a drop event to the outside world. An error leaves the event
// pending for the next check.
type Deliverer interface {
	Deliver(ctx context.Context, event models.PriceDropEvent) error
}

// DropSource lists drop events whose latest observation is after since.
// *ledger.Ledger implements it.
type DropSource interface {
	DropsSince(ctx context.Context, since time.Time) ([]models.PriceDropEvent, error)
}

// Config controls the scan window.
type Config struct {
	// Consumer names the watermark and the delivery log entries.
	Consumer string

	// Overlap rescans a window before the watermark to catch late commits.
	Overlap time.Duration

	// Lookback bounds the first scan.
	Lookback time.Duration
}

type Trigger struct {
	drops     DropSource
	state     storage.NotifyRepository
	deliverer Deliverer
	cfg       Config
	logger    logrus.FieldLogger
	now       func() time.Time
}

func NewTrigger(drops DropSource, state storage.NotifyRepository, deliverer Deliverer, cfg Config, logger logrus.FieldLogger) *Trigger {
	if cfg.Consumer == "" {
		cfg.Consumer = "default"
	}
	return &Trigger{
		drops:     drops,
		state:     state,
		deliverer: deliverer,
		cfg:       cfg,
		logger:    logger.WithField("consumer", cfg.Consumer),
		now:       time.Now,
	}
}

// CheckDrops delivers every drop observed since the last check and returns the
// delivered events. Events already in the delivery log are skipped. The watermark
// moves to the scan start, or to just before the earliest failed event, and never
// moves backwards.
func (t *Trigger) CheckDrops(ctx context.Context) ([]models.PriceDropEvent, error) {
	scanStart := t.now()

	mark, hasMark, err := t.state.Watermark(ctx, t.cfg.Consumer)
	if err != nil {
		return nil, fmt.Errorf("read watermark: %w", err)
	}
	since := scanStart.Add(-t.cfg.Lookback)
	if hasMark {
		since = mark.Add(-t.cfg.Overlap)
	}

	events, err := t.drops.DropsSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("scan drops since %s: %w", since.Format(time.RFC3339), err)
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].ObservedAt.Before(events[j].ObservedAt) })

	var delivered []models.PriceDropEvent
	var firstFailed time.Time
	failed := 0
	for _, e := range events {
		done, err := t.state.Delivered(ctx, t.cfg.Consumer, e.ListingID, e.ObservationID)
		if err != nil {
			return delivered, fmt.Errorf("read delivery log: %w", err)
		}
		if done {
			continue
		}

		if err := t.deliverer.Deliver(ctx, e); err != nil {
			t.logger.WithFields(logrus.Fields{"listing": e.ListingID, "observation": e.ObservationID}).
				Warnf("Delivery failed, will retry: %v", err)
			if failed == 0 {
				firstFailed = e.ObservedAt
			}
			failed++
			continue
		}
		if err := t.state.MarkDelivered(ctx, t.cfg.Consumer, e.ListingID, e.ObservationID); err != nil {
			return delivered, fmt.Errorf("record delivery: %w", err)
		}
		delivered = append(delivered, e)
	}

	next := scanStart
	if failed > 0 {
		next = firstFailed.Add(-time.Nanosecond)
	}
	if hasMark && next.Before(mark) {
		next = mark
	}

	// progress is kept even when the caller is shutting down
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := t.state.SetWatermark(saveCtx, t.cfg.Consumer, next); err != nil {
		return delivered, fmt.Errorf("save watermark: %w", err)
	}

	t.logger.Infof("Checked %d drops: %d delivered, %d failed", len(events), len(delivered), failed)
	return delivered, nil
}

// RunEvery checks immediately and then on every tick until ctx is cancelled.
// Check errors are logged and the loop continues.
func (t *Trigger) RunEvery(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := t.CheckDrops(ctx); err != nil && ctx.Err() == nil {
			t.logger.Errorf("Drop check failed: %v", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
