package message

import (
	"errors"
	"strings"
	"time"

	"xianyuagent/app/util/fault"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Normalize validates an event at the boundary and converts it to an Inbound.
// Rejected events carry a fault.KindValidation error and must not be enqueued.
// Events with neither an id nor a timestamp get no fingerprint.
func Normalize(ev Event, now time.Time) (Inbound, error) {
	ev.ConversationID = strings.TrimSpace(ev.ConversationID)
	ev.SenderHandle = strings.TrimSpace(ev.SenderHandle)
	ev.Text = strings.TrimSpace(ev.Text)

	if err := validate.Struct(ev); err != nil {
		return Inbound{}, fault.Validation("malformed inbound event", err)
	}

	if strings.ContainsAny(ev.ConversationID, " \t\r\n/") {
		return Inbound{}, fault.Validation("malformed inbound event", errors.New("conversation id is not resolvable"))
	}

	fingerprint := Fingerprint(ev)
	if ev.ID == "" && ev.Timestamp.IsZero() {
		fingerprint = ""
	}

	id := ev.ID
	if id == "" {
		id = uuid.NewString()
	}

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = now
	}

	return Inbound{
		ID:             id,
		Fingerprint:    fingerprint,
		ConversationID: ev.ConversationID,
		SenderHandle:   ev.SenderHandle,
		SenderName:     ev.SenderName,
		Text:           ev.Text,
		ItemID:         ev.ItemID,
		ListedPrice:    ev.ListedPrice,
		Timestamp:      ts,
		Priority:       ParsePriority(ev.Priority),
	}, nil
}
