package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"xianyuagent/app/config"
	"xianyuagent/app/service/message"
	"xianyuagent/app/service/reply"
	"xianyuagent/app/util/fault"
	"xianyuagent/app/util/mylog"

	"github.com/gofiber/fiber/v2"
	"github.com/samber/do"
)

const defaultTimeout = 10 * time.Second

var _ reply.Deliverer = (*Client)(nil)

type payload struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	ReplyTo        string    `json:"reply_to,omitempty"`
	Text           string    `json:"text"`
	Strategy       string    `json:"strategy,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Client posts replies to the transport collaborator.
type Client struct {
	url      string
	disabled bool
}

func New(di *do.Injector) (*Client, error) {
	cfg := do.MustInvoke[*config.Config](di)

	return NewClient(cfg.Transport.WebhookURL, cfg.Transport.DisableDelivery), nil
}

func NewClient(url string, disabled bool) *Client {
	return &Client{
		url:      url,
		disabled: disabled,
	}
}

func (c *Client) Deliver(ctx context.Context, out message.Outbound) error {
	if c.disabled {
		slog.Info("Replied to message (delivery disabled)",
			"conversation_id", out.ConversationID,
			"text", out.Text,
			mylog.OperatorKey, true)
		return nil
	}

	if err := ctx.Err(); err != nil {
		return fault.Recoverable("delivery cancelled", err)
	}

	timeout := defaultTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	agent := fiber.Post(c.url).
		JSON(payload{
			ID:             out.ID,
			ConversationID: out.ConversationID,
			ReplyTo:        out.ReplyTo,
			Text:           out.Text,
			Strategy:       out.Strategy,
			Timestamp:      out.Timestamp,
		}).
		Timeout(timeout)

	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return fault.Recoverable("failed to deliver reply", errors.Join(errs...))
	}

	switch {
	case code == fiber.StatusUnauthorized || code == fiber.StatusForbidden:
		return fault.Fatal("transport rejected credentials", fmt.Errorf("status %d: %s", code, body))
	case code == fiber.StatusBadRequest || code == fiber.StatusUnprocessableEntity:
		return fault.Validation("transport rejected reply", fmt.Errorf("status %d: %s", code, body))
	case code >= 300:
		return fault.Recoverable("failed to deliver reply", fmt.Errorf("status %d: %s", code, body))
	}

	slog.Info("Replied to message",
		"conversation_id", out.ConversationID,
		"text", out.Text,
		mylog.OperatorKey, true)

	return nil
}
