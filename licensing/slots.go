package licensing

import (
	"context"
	"errors"

	"zen.app/cloud/models"
)

const DefaultEarlyAdopterCapacity = 150

// ErrSlotCounterMissing is returned by Reserve when the reserver has lost
// its counter and must be seeded from storage before it can answer.
var ErrSlotCounterMissing = errors.New("slot counter missing")

// SlotReserver claims capacity-limited slots atomically on behalf of a
// holder (the checkout session). Reserve reports false once capacity slots
// are committed or pending. Commit turns the holder's reservation into a
// claimed slot after its license is stored; Release drops a reservation
// whose license was never stored. Seed sets the claimed count only when it
// is missing; Sync overwrites it.
type SlotReserver interface {
	Reserve(ctx context.Context, holder string, capacity int) (bool, error)
	Commit(ctx context.Context, holder string) error
	Release(ctx context.Context, holder string) error
	Seed(ctx context.Context, claimed int) (bool, error)
	Sync(ctx context.Context, claimed int) error
}

type SlotAvailability struct {
	Capacity  int  `json:"capacity"`
	Claimed   int  `json:"claimed"`
	Remaining int  `json:"remaining"`
	Available bool `json:"available"`
}

func Availability(claimed, capacity int) SlotAvailability {
	remaining := capacity - claimed
	if remaining < 0 {
		remaining = 0
	}
	return SlotAvailability{
		Capacity:  capacity,
		Claimed:   claimed,
		Remaining: remaining,
		Available: remaining > 0,
	}
}

// CheckAndMaybeDowngrade keeps a capacity-limited candidate while slots are
// left. Once full, the purchase falls back to the most expensive fixed-price
// tier the amount covers, and to the cheapest one otherwise.
func CheckAndMaybeDowngrade(table models.TierTable, candidate models.Tier, amountCents int64, claimed, capacity int) models.Tier {
	if !table[candidate].CapacityLimited {
		return candidate
	}
	if claimed < capacity {
		return candidate
	}
	return downgrade(table, amountCents)
}

func downgrade(table models.TierTable, amountCents int64) models.Tier {
	paid := table.FixedPricePaidTiers()
	if len(paid) == 0 {
		return models.TierFree
	}
	for i := len(paid) - 1; i >= 0; i-- {
		if amountCents >= table[paid[i]].PriceCents {
			return paid[i]
		}
	}
	return paid[0]
}
