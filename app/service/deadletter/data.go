package deadletter

import (
	"time"

	"xianyuagent/app/service/message"
	"xianyuagent/app/util/fault"
)

// Letter is a queue item that will not be retried anymore and waits for an
// operator.
type Letter struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversation_id"`
	Seq            uint64            `json:"seq"`
	Kind           fault.Kind        `json:"kind"`
	Attempts       int               `json:"attempts"`
	Reason         string            `json:"reason"`
	Inbound        *message.Inbound  `json:"inbound,omitempty"`
	Outbound       *message.Outbound `json:"outbound,omitempty"`
	FailedAt       time.Time         `json:"failed_at"`
}
