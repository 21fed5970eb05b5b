package negotiation

import (
	"errors"
	"fmt"

	"xianyuagent/app/util/fault"
)

// Validate checks the invariants of a single state.
func Validate(s State) error {
	switch {
	case s.ListedPrice < 0 || s.FloorPrice < 0:
		return fault.Validation("negative price", fmt.Errorf("listed %v, floor %v", s.ListedPrice, s.FloorPrice))
	case s.FloorPrice > s.ListedPrice:
		return fault.Validation("floor price above listed price", fmt.Errorf("listed %v, floor %v", s.ListedPrice, s.FloorPrice))
	case s.ConcessionStep < 0:
		return fault.Validation("negative concession step", nil)
	case s.Phase == PhaseCountered && s.CounterPrice < s.FloorPrice:
		return fault.Validation("counter price below floor", fmt.Errorf("counter %v, floor %v", s.CounterPrice, s.FloorPrice))
	case s.Terminal != (s.Phase == PhaseAccepted || s.Phase == PhaseAbandoned):
		return fault.Validation("terminal flag does not match phase", fmt.Errorf("phase %s", s.Phase))
	}

	return nil
}

// ValidateTransition rejects updates that retract a concession, touch a
// terminal negotiation or drop an existing one.
func ValidateTransition(prev, next *State) error {
	if next == nil {
		if prev != nil {
			return fault.Validation("negotiation cannot be removed", nil)
		}
		return nil
	}

	if err := Validate(*next); err != nil {
		return err
	}

	if prev == nil {
		return nil
	}

	if prev.Terminal {
		if !next.Terminal || next.ConcessionStep != prev.ConcessionStep || !sameOffer(prev.CurrentOffer, next.CurrentOffer) {
			return fault.Validation("negotiation is terminal", errors.New("terminal state changed"))
		}
		return nil
	}

	if next.ConcessionStep < prev.ConcessionStep {
		return fault.Validation("concession step decreased",
			fmt.Errorf("%d -> %d", prev.ConcessionStep, next.ConcessionStep))
	}

	if next.ListedPrice != prev.ListedPrice || next.FloorPrice != prev.FloorPrice {
		return fault.Validation("negotiation prices are fixed once opened", nil)
	}

	return nil
}

func sameOffer(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
