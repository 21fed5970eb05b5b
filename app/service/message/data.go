package message

import (
	"time"
)

type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

var priorityNames = map[Priority]string{
	PriorityLow:    "low",
	PriorityNormal: "normal",
	PriorityHigh:   "high",
	PriorityUrgent: "urgent",
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return "unknown"
}

// ParsePriority maps a configuration or wire hint to a priority, defaulting to normal.
func ParsePriority(s string) Priority {
	for p, name := range priorityNames {
		if name == s {
			return p
		}
	}
	return PriorityNormal
}

// Event is the wire form produced by the transport collaborator.
type Event struct {
	ID             string    `json:"id" validate:"max=128"`
	ConversationID string    `json:"conversation_id" validate:"required,max=128,printascii"`
	SenderHandle   string    `json:"sender_handle" validate:"required,max=128"`
	SenderName     string    `json:"sender_name"`
	Text           string    `json:"text" validate:"required,max=4000"`
	ItemID         string    `json:"item_id" validate:"max=128"`
	ListedPrice    float64   `json:"listed_price" validate:"gte=0"`
	Timestamp      time.Time `json:"timestamp"`
	Priority       string    `json:"priority" validate:"omitempty,oneof=low normal high urgent"`
}

type Inbound struct {
	ID             string    `json:"id"`
	Fingerprint    string    `json:"fingerprint,omitempty"`
	ConversationID string    `json:"conversation_id"`
	SenderHandle   string    `json:"sender_handle"`
	SenderName     string    `json:"sender_name,omitempty"`
	Text           string    `json:"text"`
	ItemID         string    `json:"item_id,omitempty"`
	ListedPrice    float64   `json:"listed_price,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	Priority       Priority  `json:"priority"`
}

type Outbound struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	ReplyTo        string    `json:"reply_to"`
	Text           string    `json:"text"`
	Strategy       string    `json:"strategy"`
	Timestamp      time.Time `json:"timestamp"`
	Priority       Priority  `json:"priority"`
}
