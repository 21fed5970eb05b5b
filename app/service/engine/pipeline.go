package engine

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"xianyuagent/app/service/conversation"
	"xianyuagent/app/service/identity"
	"xianyuagent/app/service/message"
	"xianyuagent/app/service/negotiation"
	"xianyuagent/app/service/queue"
	"xianyuagent/app/service/reply"
	"xianyuagent/app/service/strategy"

	"github.com/elliotchance/pie/v2"
)

// prepare applies everything an inbound message changes in the conversation
// and builds the generator request. A nil result means no reply is needed.
func (s *Service) prepare(in *message.Inbound) (*prepared, error) {
	if age := s.now().Sub(in.Timestamp); s.cfg.Middleware.MessageExpiry > 0 && age > s.cfg.Middleware.MessageExpiry {
		return nil, fmt.Errorf("%w: expired %s ago", queue.ErrDropped, age.Round(time.Second))
	}

	state, detection, err := s.record(in)
	if err != nil {
		return nil, err
	}

	if detection.Role == identity.RoleSeller {
		return nil, s.handleSeller(in, state)
	}

	amount, offered := s.negotiator.ParseOffer(in.Text)

	neg := state.Negotiation
	decision := s.router.Route(strategy.Input{
		Role:                detection.Role,
		Text:                in.Text,
		Active:              state.ActiveStrategy,
		OffTopicTurns:       state.OffTopicTurns,
		NegotiationActive:   neg != nil,
		NegotiationTerminal: neg != nil && neg.Terminal,
		OfferMentioned:      offered,
	})

	if err = s.store.SetRouting(in.ConversationID, decision.Tag, decision.OffTopicTurns); err != nil {
		return nil, err
	}

	if decision.Released && neg != nil && !neg.Terminal {
		if err = s.abandon(in.ConversationID, "buyer moved on"); err != nil {
			return nil, err
		}
	}

	itemID := in.ItemID
	if itemID == "" {
		itemID = state.ItemID
	}

	var negCtx *reply.NegotiationContext
	if decision.Tag == strategy.TagPricing {
		if negCtx, err = s.negotiate(in, itemID, offered, amount); err != nil {
			return nil, err
		}
	}

	persona, err := s.selector.Select(decision.Tag)
	if err != nil {
		return nil, err
	}

	slog.Debug("Routed message",
		"conversation_id", in.ConversationID,
		"strategy", decision.Tag,
		"sticky", decision.Sticky,
		"expert", persona.Name)

	return &prepared{
		request: reply.Request{
			ConversationID: in.ConversationID,
			Persona:        persona,
			Role:           detection.Role,
			Message:        *in,
			History:        state.History,
			ItemID:         itemID,
			Negotiation:    negCtx,
		},
		strategy: decision.Tag,
		priority: max(persona.Priority, in.Priority),
	}, nil
}

// record stores the message in the conversation and returns the snapshot
// taken before it.
func (s *Service) record(in *message.Inbound) (conversation.State, identity.Detection, error) {
	state, err := s.store.Get(in.ConversationID)
	if err != nil {
		return state, identity.Detection{}, err
	}

	detection := s.detector.Detect(in.SenderHandle, in.Text, state.Role(in.SenderHandle))
	if detection.LowConfidence {
		slog.Debug("Low confidence role detection",
			"conversation_id", in.ConversationID,
			"sender", in.SenderHandle,
			"role", detection.Role)
	}

	if err = s.store.RememberRole(in.ConversationID, in.SenderHandle, detection.Role); err != nil {
		return state, detection, err
	}

	if err = s.store.AppendTurn(in.ConversationID, conversation.Turn{
		Sender:    in.SenderHandle,
		Role:      detection.Role,
		Text:      in.Text,
		Timestamp: in.Timestamp,
	}); err != nil {
		return state, detection, err
	}

	return state, detection, s.store.SetItem(in.ConversationID, in.ItemID)
}

// negotiate advances the conversation's negotiation by one buyer turn. Without
// a known price no negotiation is opened and nil is returned.
func (s *Service) negotiate(in *message.Inbound, itemID string, offered bool, amount float64) (*reply.NegotiationContext, error) {
	var result negotiation.Result

	state, err := s.store.UpdateNegotiation(in.ConversationID,
		func(cur *negotiation.State) (*negotiation.State, error) {
			now := s.now()

			var st negotiation.State
			if cur == nil {
				listed, floor, ok := s.negotiator.Prices(itemID, in.ListedPrice)
				if !ok {
					return nil, nil
				}

				opened, err := s.negotiator.Open(listed, floor, now)
				if err != nil {
					return nil, err
				}

				st = opened
				result = negotiation.Result{Outcome: negotiation.OutcomeOpened}
			} else {
				st = *cur
				if expired, ok := s.negotiator.Expire(st, now); ok {
					result = negotiation.Result{Outcome: negotiation.OutcomeAbandoned}
					return &expired, nil
				}
			}

			switch {
			case offered:
				st, result = s.negotiator.OfferAmount(st, amount, now)
			case st.Phase == negotiation.PhaseCountered:
				st, result = s.negotiator.Elapse(st, now)
			default:
				st, result = s.negotiator.Offer(st, in.Text, now)
			}

			return &st, nil
		})
	if err != nil {
		return nil, err
	}

	if state == nil {
		return nil, nil
	}

	slog.Info("Negotiation step",
		"conversation_id", in.ConversationID,
		"outcome", result.Outcome,
		"phase", state.Phase,
		"step", state.ConcessionStep,
		"counter", state.CounterPrice)

	return reply.NewNegotiationContext(*state, result), nil
}

// handleSeller records a manual seller message. An abandon keyword ends the
// running negotiation.
func (s *Service) handleSeller(in *message.Inbound, state conversation.State) error {
	slog.Info("Seller message recorded",
		"conversation_id", in.ConversationID,
		"text", in.Text)

	if state.Negotiation == nil || state.Negotiation.Terminal {
		return nil
	}

	abandon := pie.Any(s.cfg.Seller.AbandonKeywords, func(keyword string) bool {
		return keyword != "" && strings.Contains(in.Text, keyword)
	})
	if !abandon {
		return nil
	}

	return s.abandon(in.ConversationID, "seller override")
}

func (s *Service) abandon(conversationID, reason string) error {
	_, err := s.store.UpdateNegotiation(conversationID,
		func(cur *negotiation.State) (*negotiation.State, error) {
			if cur == nil {
				return nil, nil
			}
			next, _ := s.negotiator.Abandon(*cur, reason, s.now())
			return &next, nil
		})
	if err != nil {
		return err
	}

	slog.Info("Negotiation abandoned",
		"conversation_id", conversationID,
		"reason", reason)

	return nil
}
