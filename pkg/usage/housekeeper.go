package usage

import (
	"context"
	"time"

	"github.com/archestra-ai/gateway/pkg/collab"
	"github.com/archestra-ai/gateway/pkg/logger"
)

// Housekeeper periodically resets stale Limit counters.
type Housekeeper struct {
	store collab.Store
}

// NewHousekeeper constructs a Housekeeper.
func NewHousekeeper(store collab.Store) *Housekeeper {
	return &Housekeeper{store: store}
}

// Sweep finds every Limit whose lastCleanup is nil or older than cutoff,
// atomically zeroes its counters, and stamps lastCleanup to now. Returns
// the number of Limits reset.
func (h *Housekeeper) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	stale, err := h.store.FindStaleLimits(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	for _, limit := range stale {
		if err := h.store.ResetLimitCounters(ctx, limit.ID, now); err != nil {
			return 0, err
		}
		logger.Debugw("usage: reset stale limit counters", "limitId", limit.ID, "entityType", limit.EntityType, "entityId", limit.EntityID)
	}
	return len(stale), nil
}

// Run sweeps every interval until ctx is canceled.
func (h *Housekeeper) Run(ctx context.Context, interval, cutoffAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := h.Sweep(ctx, time.Now().Add(-cutoffAge)); err != nil {
				logger.Errorw("usage: sweep failed", "error", err)
			}
		}
	}
}
