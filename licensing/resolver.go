package licensing

import (
	"fmt"
	"strings"

	"zen.app/cloud/models"
)

// ResolveTier maps an amount paid onto a tier using the default tier table.
func ResolveTier(amountCents int64) models.Tier {
	return resolveByAmount(models.DefaultTierTable(), amountCents)
}

// resolveByAmount matches the amount exactly against the fixed-price paid
// tiers. Any other amount is a pay-what-you-want early adopter purchase.
func resolveByAmount(table models.TierTable, amountCents int64) models.Tier {
	for _, t := range table.FixedPricePaidTiers() {
		if table[t].PriceCents == amountCents {
			return t
		}
	}
	return models.TierEarlyAdopter
}

// Resolver decides the candidate tier of a purchase. A product identifier
// with an explicit mapping wins over the amount policy.
type Resolver struct {
	table    models.TierTable
	products map[string]models.Tier
}

func NewResolver(table models.TierTable, products map[string]models.Tier) *Resolver {
	if table == nil {
		table = models.DefaultTierTable()
	}
	p := make(map[string]models.Tier, len(products))
	for id, t := range products {
		p[id] = t
	}
	return &Resolver{table: table, products: p}
}

func (r *Resolver) ResolveByProduct(productID string) (models.Tier, bool) {
	if productID == "" {
		return "", false
	}
	t, ok := r.products[productID]
	return t, ok
}

func (r *Resolver) ResolveByAmount(amountCents int64) models.Tier {
	return resolveByAmount(r.table, amountCents)
}

func (r *Resolver) Resolve(productID string, amountCents int64) models.Tier {
	if t, ok := r.ResolveByProduct(productID); ok {
		return t
	}
	return r.ResolveByAmount(amountCents)
}

// ParseProductMap reads "prod_a:starter,prod_b:believer". Empty input yields
// an empty map. Only sellable tiers may be mapped; free is rejected.
func ParseProductMap(raw string) (map[string]models.Tier, error) {
	out := make(map[string]models.Tier)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		id, tierName, ok := strings.Cut(entry, ":")
		id = strings.TrimSpace(id)
		if !ok || id == "" {
			return nil, fmt.Errorf("invalid product mapping %q: expected product:tier", entry)
		}

		t, err := models.ParseTier(tierName)
		if err != nil {
			return nil, fmt.Errorf("invalid product mapping %q: %w", entry, err)
		}
		if t == models.TierFree {
			return nil, fmt.Errorf("invalid product mapping %q: free tier cannot be purchased", entry)
		}
		out[id] = t
	}
	return out, nil
}
