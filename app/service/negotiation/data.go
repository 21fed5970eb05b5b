package negotiation

import "time"

type Phase string

const (
	PhaseNoOffer       Phase = "no_offer"
	PhaseOfferReceived Phase = "offer_received"
	PhaseCountered     Phase = "countered"
	PhaseAccepted      Phase = "accepted"
	PhaseAbandoned     Phase = "abandoned"
)

type Outcome string

const (
	OutcomeOpened       Outcome = "opened"
	OutcomeClarify      Outcome = "clarification_needed"
	OutcomeCountered    Outcome = "countered"
	OutcomeRepeated     Outcome = "repeated"
	OutcomeAccepted     Outcome = "accepted"
	OutcomeAbandoned    Outcome = "abandoned"
	OutcomeClosed       Outcome = "closed"
	OutcomeTurnRecorded Outcome = "turn_recorded"
)

// State of one negotiation. ConcessionStep counts concessions made so far and
// never decreases; once Terminal is set nothing changes anymore.
type State struct {
	ListedPrice     float64   `json:"listed_price"`
	FloorPrice      float64   `json:"floor_price"`
	CurrentOffer    *float64  `json:"current_offer,omitempty"`
	ConcessionStep  int       `json:"concession_step"`
	CounterPrice    float64   `json:"counter_price"`
	Phase           Phase     `json:"phase"`
	Terminal        bool      `json:"terminal"`
	Turns           int       `json:"turns"`
	CounteredAtTurn int       `json:"countered_at_turn"`
	AbandonReason   string    `json:"abandon_reason,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type Result struct {
	Outcome Outcome `json:"outcome"`
	Offer   float64 `json:"offer,omitempty"`
	Counter float64 `json:"counter,omitempty"`
}

// Clone returns a copy that shares nothing with s.
func (s State) Clone() State {
	if s.CurrentOffer != nil {
		offer := *s.CurrentOffer
		s.CurrentOffer = &offer
	}
	return s
}

func (s State) offer() (float64, bool) {
	if s.CurrentOffer == nil {
		return 0, false
	}
	return *s.CurrentOffer, true
}
