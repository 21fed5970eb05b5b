package negotiation

import (
	"math"

	"xianyuagent/app/config"
)

// Catalog is the floor price source: per-item prices from config, with a
// listed-price ratio for everything else.
type Catalog struct {
	items      map[string]config.Item
	floorRatio float64
}

func NewCatalog(cfg config.Negotiation) *Catalog {
	ratio := cfg.FloorRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}

	return &Catalog{
		items:      cfg.Items,
		floorRatio: ratio,
	}
}

// Lookup prefers the listed price reported by the transport over the
// configured one. The floor is never derived above the listed price, but a
// configured floor is returned as is so Open can reject it.
func (c *Catalog) Lookup(itemID string, listedHint float64) (listed, floor float64, ok bool) {
	if item, found := c.items[itemID]; found && itemID != "" {
		listed = item.Listed
		if listedHint > 0 {
			listed = listedHint
		}

		floor = item.Floor
		if floor == 0 {
			floor = roundCents(listed * c.floorRatio)
		}

		return listed, floor, true
	}

	if listedHint <= 0 {
		return 0, 0, false
	}

	return listedHint, roundCents(listedHint * c.floorRatio), true
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
