package negotiation

import (
	"errors"
	"fmt"
	"math"
	"time"

	"xianyuagent/app/config"
	"xianyuagent/app/util/fault"

	"github.com/samber/do"
)

type Params struct {
	// Ladder holds the fraction of the listed-floor gap conceded at each step.
	Ladder        []float64
	PatienceTurns int
	IdleTimeout   time.Duration
}

type Engine struct {
	params  Params
	catalog *Catalog
	offers  *OfferParser
}

func New(di *do.Injector) (*Engine, error) {
	cfg := do.MustInvoke[*config.Config](di)

	patience := 0
	if cfg.Negotiation.PatienceTurns != nil {
		patience = *cfg.Negotiation.PatienceTurns
	}

	engine, err := NewEngine(Params{
		Ladder:        cfg.Negotiation.Ladder,
		PatienceTurns: patience,
		IdleTimeout:   cfg.Negotiation.IdleTimeout,
	})
	if err != nil {
		return nil, err
	}

	engine.catalog = NewCatalog(cfg.Negotiation)
	engine.offers = NewOfferParser(cfg.Negotiation.Offer)

	return engine, nil
}

func NewEngine(params Params) (*Engine, error) {
	if len(params.Ladder) == 0 {
		return nil, fault.Fatal("invalid discount ladder", errors.New("ladder is empty"))
	}

	for i, step := range params.Ladder {
		if step < 0 || step > 1 || math.IsNaN(step) {
			return nil, fault.Fatal("invalid discount ladder", fmt.Errorf("step %d out of [0,1]: %v", i, step))
		}
		if i > 0 && step < params.Ladder[i-1] {
			return nil, fault.Fatal("invalid discount ladder", fmt.Errorf("step %d decreases", i))
		}
	}

	return &Engine{
		params:  params,
		catalog: NewCatalog(config.Negotiation{}),
		offers:  NewOfferParser(config.DefaultOfferGrammar()),
	}, nil
}

func (e *Engine) Params() Params {
	return e.params
}

// Prices resolves listed and floor prices for an item.
func (e *Engine) Prices(itemID string, listedHint float64) (listed, floor float64, ok bool) {
	return e.catalog.Lookup(itemID, listedHint)
}

// Open starts a negotiation. A floor above the listed price is a configuration
// inconsistency and reported as fatal.
func (e *Engine) Open(listed, floor float64, now time.Time) (State, error) {
	if listed < 0 || floor < 0 || math.IsNaN(listed) || math.IsNaN(floor) {
		return State{}, fault.Fatal("invalid negotiation prices",
			fmt.Errorf("listed %v, floor %v", listed, floor))
	}
	if floor > listed {
		return State{}, fault.Fatal("floor price above listed price",
			fmt.Errorf("listed %v, floor %v", listed, floor))
	}

	return State{
		ListedPrice:  listed,
		FloorPrice:   floor,
		CounterPrice: listed,
		Phase:        PhaseNoOffer,
		UpdatedAt:    now,
	}, nil
}

// CounterPrice for the given concession step (1-based). It decreases with the
// step and never goes below floor.
func (e *Engine) CounterPrice(listed, floor float64, step int) float64 {
	if step <= 0 {
		return listed
	}
	if step > len(e.params.Ladder) {
		step = len(e.params.Ladder)
	}

	price := listed - (listed-floor)*e.params.Ladder[step-1]
	price = math.Round(price*100) / 100

	return math.Max(price, floor)
}

// Offer parses the buyer's text. Text without an amount leaves the state as is
// and asks for clarification.
func (e *Engine) Offer(s State, text string, now time.Time) (State, Result) {
	if s.Terminal {
		return s, Result{Outcome: OutcomeClosed, Counter: s.CounterPrice}
	}

	amount, ok := e.offers.Parse(text)
	if !ok {
		return s, Result{Outcome: OutcomeClarify}
	}

	return e.OfferAmount(s, amount, now)
}

// OfferAmount applies an offer. Amounts above the listed price are not taken
// as offers and ask for clarification.
func (e *Engine) OfferAmount(s State, amount float64, now time.Time) (State, Result) {
	if s.Terminal {
		return s, Result{Outcome: OutcomeClosed, Counter: s.CounterPrice}
	}
	if amount < 0 || amount > s.ListedPrice || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return s, Result{Outcome: OutcomeClarify}
	}

	next := s.Clone()
	next.UpdatedAt = now
	next.CurrentOffer = &amount

	if amount >= s.FloorPrice {
		next.Phase = PhaseAccepted
		next.Terminal = true
		return next, Result{Outcome: OutcomeAccepted, Offer: amount}
	}

	if previous, ok := s.offer(); ok && s.Phase == PhaseCountered && amount <= previous && !e.patienceElapsed(s) {
		return next, Result{Outcome: OutcomeRepeated, Offer: amount, Counter: s.CounterPrice}
	}

	next.Phase = PhaseOfferReceived

	if next.ConcessionStep >= len(e.params.Ladder) {
		next.Phase = PhaseAbandoned
		next.Terminal = true
		next.AbandonReason = "concession ladder exhausted"
		return next, Result{Outcome: OutcomeAbandoned, Offer: amount}
	}

	next.ConcessionStep++
	next.CounterPrice = e.CounterPrice(s.ListedPrice, s.FloorPrice, next.ConcessionStep)
	next.Phase = PhaseCountered
	next.CounteredAtTurn = next.Turns

	return next, Result{Outcome: OutcomeCountered, Offer: amount, Counter: next.CounterPrice}
}

// Elapse records a negotiation turn without an offer.
func (e *Engine) Elapse(s State, now time.Time) (State, Result) {
	if s.Terminal {
		return s, Result{Outcome: OutcomeClosed, Counter: s.CounterPrice}
	}

	next := s.Clone()
	next.Turns++
	next.UpdatedAt = now

	return next, Result{Outcome: OutcomeTurnRecorded, Counter: next.CounterPrice}
}

func (e *Engine) Abandon(s State, reason string, now time.Time) (State, Result) {
	if s.Terminal {
		return s, Result{Outcome: OutcomeClosed, Counter: s.CounterPrice}
	}

	next := s.Clone()
	next.Phase = PhaseAbandoned
	next.Terminal = true
	next.AbandonReason = reason
	next.UpdatedAt = now

	return next, Result{Outcome: OutcomeAbandoned}
}

// Expire abandons a negotiation the buyer has not touched for IdleTimeout.
func (e *Engine) Expire(s State, now time.Time) (State, bool) {
	if s.Terminal || e.params.IdleTimeout <= 0 || s.UpdatedAt.IsZero() {
		return s, false
	}
	if now.Sub(s.UpdatedAt) <= e.params.IdleTimeout {
		return s, false
	}

	next, _ := e.Abandon(s, "buyer disengaged", now)
	return next, true
}

func (e *Engine) patienceElapsed(s State) bool {
	return e.params.PatienceTurns > 0 && s.Turns-s.CounteredAtTurn >= e.params.PatienceTurns
}

// ParseOffer extracts the amount the buyer proposes in text.
func (e *Engine) ParseOffer(text string) (float64, bool) {
	return e.offers.Parse(text)
}
