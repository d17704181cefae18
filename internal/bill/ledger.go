package bill

import (
	"context"
	"errors"
	"log/slog"
)

// ToggleResult is the outcome of a claim toggle
type ToggleResult struct {
	Joined bool `json:"joined"`
	Count  int  `json:"new_count"`
}

// Ledger owns item claims and keeps their percentages uniform.
// Toggles on the same item are serialized; toggles on different items run in parallel.
type Ledger struct {
	db          DB
	locks       *keyedMutex
	idGenerator IDGenerator
	timeSource  TimeSource
	metrics     *Metrics
}

// NewLedger creates a Ledger backed by db
func NewLedger(db DB, idGen IDGenerator, timeSrc TimeSource, metrics *Metrics) *Ledger {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Ledger{
		db:          db,
		locks:       newKeyedMutex(),
		idGenerator: idGen,
		timeSource:  timeSrc,
		metrics:     metrics,
	}
}

// Toggle adds the user's claim on an item if absent, removes it if present,
// then rewrites every remaining claim on the item to 1/n.
func (l *Ledger) Toggle(ctx context.Context, itemID, userID, userName string) (ToggleResult, error) {
	unlock := l.locks.Lock(itemID)
	defer unlock()

	var result ToggleResult

	existing, err := l.db.FindClaim(ctx, itemID, userID)
	switch {
	case err == nil:
		if err := l.db.DeleteClaim(ctx, existing.ID); err != nil {
			return result, storageErr("deleting claim", err)
		}
	case errors.Is(err, ErrNotFound):
		now := l.timeSource.Now()
		claim := &Claim{
			ID:         l.idGenerator.Generate(),
			ItemID:     itemID,
			UserID:     userID,
			UserName:   userName,
			Percentage: 0,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := l.db.InsertClaim(ctx, claim); err != nil {
			return result, storageErr("inserting claim", err)
		}
		result.Joined = true
	default:
		return result, storageErr("finding claim", err)
	}

	count, err := l.rebalance(ctx, itemID)
	if err != nil {
		return result, err
	}
	result.Count = count

	action := "leave"
	if result.Joined {
		action = "join"
	}
	l.metrics.ClaimToggles.WithLabelValues(action).Inc()
	slog.Debug("Claim toggled", "item_id", itemID, "user_id", userID, "action", action, "claimants", count)

	return result, nil
}

// rebalance sets every claim on the item to an equal share and returns the claimant count
func (l *Ledger) rebalance(ctx context.Context, itemID string) (int, error) {
	claims, err := l.db.ListClaims(ctx, itemID)
	if err != nil {
		return 0, storageErr("listing claims", err)
	}
	if len(claims) == 0 {
		return 0, nil
	}

	share := 1.0 / float64(len(claims))
	now := l.timeSource.Now()
	for _, claim := range claims {
		if err := l.db.UpdateClaimPercentage(ctx, claim.ID, share, now); err != nil {
			return 0, storageErr("updating claim percentage", err)
		}
	}
	return len(claims), nil
}
