package reply

import (
	"context"

	"xianyuagent/app/service/conversation"
	"xianyuagent/app/service/expert"
	"xianyuagent/app/service/identity"
	"xianyuagent/app/service/message"
	"xianyuagent/app/service/negotiation"
)

// Generator produces reply text. Errors are recoverable unless classified as
// fatal with the fault package.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Deliverer hands a reply to the transport collaborator.
type Deliverer interface {
	Deliver(ctx context.Context, out message.Outbound) error
}

type Request struct {
	ConversationID string
	Persona        expert.Persona
	Role           identity.Role
	Message        message.Inbound
	History        []conversation.Turn
	ItemID         string
	Negotiation    *NegotiationContext
}

// NegotiationContext is what the generator may know about a negotiation. The
// floor price is never exposed.
type NegotiationContext struct {
	Phase          negotiation.Phase
	Outcome        negotiation.Outcome
	ListedPrice    float64
	CounterPrice   float64
	CurrentOffer   *float64
	ConcessionStep int
	Terminal       bool
}

func NewNegotiationContext(s negotiation.State, res negotiation.Result) *NegotiationContext {
	clone := s.Clone()

	return &NegotiationContext{
		Phase:          clone.Phase,
		Outcome:        res.Outcome,
		ListedPrice:    clone.ListedPrice,
		CounterPrice:   clone.CounterPrice,
		CurrentOffer:   clone.CurrentOffer,
		ConcessionStep: clone.ConcessionStep,
		Terminal:       clone.Terminal,
	}
}
