package models

import (
	"database/sql/driver"
	"fmt"
	"sort"
	"strings"
)

type Tier string

const (
	TierFree         Tier = "free"
	TierStarter      Tier = "starter"
	TierSupporter    Tier = "supporter"
	TierBeliever     Tier = "believer"
	TierEarlyAdopter Tier = "early_adopter"
)

// TierConfig is the commercial definition of a tier. PriceCents is only
// meaningful when FixedPrice is set; pay-what-you-want tiers use MinPriceCents.
type TierConfig struct {
	VersionsIncluded int
	PriceCents       int64
	FixedPrice       bool
	MinPriceCents    int64
	CapacityLimited  bool
	DisplayName      string
}

type TierTable map[Tier]TierConfig

// tierOrder is the presentation order of the closed tier set.
var tierOrder = []Tier{TierFree, TierStarter, TierSupporter, TierBeliever, TierEarlyAdopter}

func DefaultTierTable() TierTable {
	return TierTable{
		TierFree:         {VersionsIncluded: 0, PriceCents: 0, FixedPrice: true, DisplayName: "Free"},
		TierStarter:      {VersionsIncluded: 1, PriceCents: 1000, FixedPrice: true, DisplayName: "Starter"},
		TierSupporter:    {VersionsIncluded: 3, PriceCents: 1500, FixedPrice: true, DisplayName: "Supporter"},
		TierBeliever:     {VersionsIncluded: 5, PriceCents: 2000, FixedPrice: true, DisplayName: "Believer"},
		TierEarlyAdopter: {VersionsIncluded: 4, MinPriceCents: 100, CapacityLimited: true, DisplayName: "Early Adopter (Founder)"},
	}
}

func Tiers() []Tier {
	out := make([]Tier, len(tierOrder))
	copy(out, tierOrder)
	return out
}

func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown tier %q", s)
	}
	return t, nil
}

func (t Tier) Valid() bool {
	for _, known := range tierOrder {
		if t == known {
			return true
		}
	}
	return false
}

func (t Tier) String() string {
	return string(t)
}

// DisplayName falls back to the raw identifier for tiers missing from the
// default table, which cannot happen for a parsed Tier.
func (t Tier) DisplayName() string {
	if cfg, ok := DefaultTierTable()[t]; ok {
		return cfg.DisplayName
	}
	return string(t)
}

func (t *Tier) Scan(src interface{}) error {
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("cannot scan %T into Tier", src)
	}
	parsed, err := ParseTier(raw)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t Tier) Value() (driver.Value, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("unknown tier %q", string(t))
	}
	return string(t), nil
}

func (tt TierTable) VersionsIncluded(t Tier) int {
	return tt[t].VersionsIncluded
}

// FixedPricePaidTiers returns the tiers sold at a fixed, non-zero price,
// ordered by ascending price.
func (tt TierTable) FixedPricePaidTiers() []Tier {
	var out []Tier
	for _, t := range tierOrder {
		cfg, ok := tt[t]
		if !ok || !cfg.FixedPrice || cfg.PriceCents <= 0 {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return tt[out[i]].PriceCents < tt[out[j]].PriceCents
	})
	return out
}
