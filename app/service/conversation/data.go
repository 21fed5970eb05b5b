package conversation

import (
	"time"

	"xianyuagent/app/service/identity"
	"xianyuagent/app/service/negotiation"
	"xianyuagent/app/service/strategy"
)

// AssistantSender is the sender handle recorded for generated replies.
const AssistantSender = "assistant"

type Turn struct {
	Sender    string        `json:"sender"`
	Role      identity.Role `json:"role"`
	Text      string        `json:"text"`
	Timestamp time.Time     `json:"timestamp"`
}

// State is a snapshot of one conversation. Values returned by the store share
// nothing with the stored copy.
type State struct {
	ID             string                   `json:"id"`
	RoleMemory     map[string]identity.Role `json:"role_memory,omitempty"`
	History        []Turn                   `json:"history,omitempty"`
	Negotiation    *negotiation.State       `json:"negotiation,omitempty"`
	ActiveStrategy strategy.Tag             `json:"active_strategy,omitempty"`
	OffTopicTurns  int                      `json:"off_topic_turns,omitempty"`
	ItemID         string                   `json:"item_id,omitempty"`
	Degraded       bool                     `json:"degraded,omitempty"`
	DegradedReason string                   `json:"degraded_reason,omitempty"`
	FailedReplies  int                      `json:"failed_replies,omitempty"`
	UpdatedAt      time.Time                `json:"updated_at"`
}

func (s State) clone() State {
	if s.RoleMemory != nil {
		roles := make(map[string]identity.Role, len(s.RoleMemory))
		for k, v := range s.RoleMemory {
			roles[k] = v
		}
		s.RoleMemory = roles
	}

	s.History = append([]Turn(nil), s.History...)

	if s.Negotiation != nil {
		n := s.Negotiation.Clone()
		s.Negotiation = &n
	}

	return s
}

// Role returns the remembered role of a participant.
func (s State) Role(sender string) identity.Role {
	return s.RoleMemory[sender]
}
