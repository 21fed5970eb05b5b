package engine

import (
	"xianyuagent/app/service/message"
	"xianyuagent/app/service/reply"
	"xianyuagent/app/service/strategy"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusDuplicate Status = "duplicate"
	// StatusManual and StatusAuto answer a seller toggling manual takeover.
	StatusManual Status = "manual"
	StatusAuto   Status = "auto"
	// StatusRecorded is a message stored in history that gets no reply.
	StatusRecorded Status = "recorded"
)

type Receipt struct {
	Status         Status `json:"status"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id,omitempty"`
	Seq            uint64 `json:"seq,omitempty"`
}

// prepared is the checkpoint of an inbound item whose state changes are
// already applied. Retries only repeat generation.
type prepared struct {
	request  reply.Request
	strategy strategy.Tag
	priority message.Priority
}
