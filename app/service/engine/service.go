package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"xianyuagent/app/config"
	"xianyuagent/app/service/conversation"
	"xianyuagent/app/service/expert"
	"xianyuagent/app/service/identity"
	"xianyuagent/app/service/message"
	"xianyuagent/app/service/negotiation"
	"xianyuagent/app/service/queue"
	"xianyuagent/app/service/reply"
	"xianyuagent/app/service/strategy"
	"xianyuagent/app/util/fault"
	"xianyuagent/app/util/mylog"

	"github.com/elliotchance/pie/v2"
	"github.com/samber/do"
)

const (
	maxReplyLength = 500
	manualReason   = "manual mode"
)

var _ queue.Handler = (*Service)(nil)

type Service struct {
	cfg        *config.Config
	store      *conversation.Service
	detector   *identity.Detector
	router     *strategy.Router
	selector   *expert.Selector
	negotiator *negotiation.Engine
	queueSvc   *queue.Service
	generator  reply.Generator
	deliverer  reply.Deliverer

	dedup *message.Deduper
	now   func() time.Time
}

func New(di *do.Injector) (*Service, error) {
	cfg := do.MustInvoke[*config.Config](di)

	s := &Service{
		cfg:        cfg,
		store:      do.MustInvoke[*conversation.Service](di),
		detector:   do.MustInvoke[*identity.Detector](di),
		router:     do.MustInvoke[*strategy.Router](di),
		selector:   do.MustInvoke[*expert.Selector](di),
		negotiator: do.MustInvoke[*negotiation.Engine](di),
		queueSvc:   do.MustInvoke[*queue.Service](di),
		generator:  do.MustInvoke[reply.Generator](di),
		deliverer:  do.MustInvoke[reply.Deliverer](di),
		dedup:      message.NewDeduper(cfg.Middleware.DedupCapacity),
		now:        time.Now,
	}

	s.queueSvc.SetDegradedListener(s.markDegraded)

	return s, nil
}

// Submit validates an inbound event and enqueues it. Malformed events are
// rejected with a validation error and never reach the queue.
func (s *Service) Submit(ctx context.Context, ev message.Event) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}

	in, err := message.Normalize(ev, s.now())
	if err != nil {
		slog.Warn("Rejected inbound event",
			"conversation_id", ev.ConversationID,
			"error", err)
		return Receipt{}, err
	}

	receipt := Receipt{
		ConversationID: in.ConversationID,
		MessageID:      in.ID,
	}

	if in.Fingerprint != "" && s.dedup.Seen(in.Fingerprint) {
		slog.Debug("Skipped duplicate message",
			"conversation_id", in.ConversationID,
			"fingerprint", in.Fingerprint)
		receipt.Status = StatusDuplicate
		return receipt, nil
	}

	if s.isToggle(in) {
		receipt.Status = s.toggleManual(in.ConversationID)
		return receipt, nil
	}

	if s.recordOnly(in) {
		if err = s.recordNow(&in); err != nil {
			s.forget(in)
			return Receipt{}, err
		}
		receipt.Status = StatusRecorded
		return receipt, nil
	}

	item, err := s.queueSvc.Enqueue(in)
	if err != nil {
		s.forget(in)
		return Receipt{}, err
	}

	receipt.Status = StatusQueued
	receipt.Seq = item.Seq

	return receipt, nil
}

func (s *Service) forget(in message.Inbound) {
	if in.Fingerprint != "" {
		s.dedup.Forget(in.Fingerprint)
	}
}

// recordOnly reports messages that are stored without a reply: the seller's
// own messages, and buyer messages while the seller has taken over.
func (s *Service) recordOnly(in message.Inbound) bool {
	if in.SenderHandle == s.cfg.Seller.ID {
		return true
	}

	reason, paused := s.queueSvc.PauseReason(in.ConversationID)
	return paused && reason == manualReason
}

func (s *Service) recordNow(in *message.Inbound) error {
	state, detection, err := s.record(in)
	if err != nil {
		return err
	}

	if detection.Role == identity.RoleSeller {
		return s.handleSeller(in, state)
	}

	slog.Info("Buyer message recorded in manual mode",
		"conversation_id", in.ConversationID,
		"sender", in.SenderHandle)

	return nil
}

func (s *Service) isToggle(in message.Inbound) bool {
	return in.SenderHandle == s.cfg.Seller.ID && pie.Contains(s.cfg.Seller.ToggleKeywords, in.Text)
}

// toggleManual hands a conversation to the seller or back to the agent.
func (s *Service) toggleManual(conversationID string) Status {
	if s.queueSvc.Paused(conversationID) {
		s.queueSvc.Resume(conversationID)
		slog.Info("Manual mode disabled",
			"conversation_id", conversationID,
			mylog.OperatorKey, true)
		return StatusAuto
	}

	until := s.now().Add(s.cfg.Seller.ManualModeTimeout)
	s.queueSvc.Pause(conversationID, manualReason, until)
	slog.Info("Manual mode enabled",
		"conversation_id", conversationID,
		"until", until,
		mylog.OperatorKey, true)

	return StatusManual
}

func (s *Service) Run(ctx context.Context) error {
	slog.Info("Engine started", "workers", s.cfg.Middleware.Workers)

	return s.queueSvc.Run(ctx, s)
}

func (s *Service) Handle(ctx context.Context, item *queue.Item) (*queue.Item, error) {
	start := s.now()

	var (
		next *queue.Item
		err  error
	)

	switch {
	case item.Outbound != nil:
		err = s.deliver(ctx, item.Outbound)
	case item.Inbound != nil:
		next, err = s.handleInbound(ctx, item)
	default:
		err = fault.Validation("empty queue item", errors.New(item.ID))
	}

	slog.Info("Processed message",
		"conversation_id", item.ConversationID,
		"seq", item.Seq,
		"attempt", item.Attempt+1,
		"outbound", item.Outbound != nil,
		"duration", s.now().Sub(start),
		"error", err)

	return next, err
}

func (s *Service) handleInbound(ctx context.Context, item *queue.Item) (*queue.Item, error) {
	p, ok := item.Checkpoint.(*prepared)
	if !ok {
		var err error
		if p, err = s.prepare(item.Inbound); err != nil || p == nil {
			return nil, err
		}
		item.Checkpoint = p
	}

	text, err := s.generate(ctx, p.request)
	if err != nil {
		return nil, err
	}

	out := &message.Outbound{
		ID:             item.Inbound.ID + "-reply",
		ConversationID: item.ConversationID,
		ReplyTo:        item.Inbound.ID,
		Text:           text,
		Strategy:       string(p.strategy),
		Timestamp:      s.now(),
		Priority:       p.priority,
	}

	return &queue.Item{
		Priority: p.priority,
		Outbound: out,
	}, nil
}

func (s *Service) generate(ctx context.Context, req reply.Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Middleware.GenerateTimeout)
	defer cancel()

	text, err := s.generator.Generate(ctx, req)
	if err != nil {
		if fault.IsFatal(err) {
			return "", err
		}
		return "", fault.Recoverable("failed to generate reply", err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", fault.Recoverable("generator returned an empty reply", nil)
	}

	if length := len([]rune(text)); length > maxReplyLength {
		return "", fault.Recoverable("reply is too long", fmt.Errorf("%d > %d", length, maxReplyLength))
	}

	return text, nil
}

func (s *Service) deliver(ctx context.Context, out *message.Outbound) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Middleware.DeliverTimeout)
	defer cancel()

	if err := s.deliverer.Deliver(ctx, *out); err != nil {
		switch fault.KindOf(err) {
		case fault.KindFatal, fault.KindValidation:
			return err
		default:
			return fault.Recoverable("failed to deliver reply", err)
		}
	}

	return s.store.AppendTurn(out.ConversationID, conversation.Turn{
		Sender:    conversation.AssistantSender,
		Role:      identity.RoleSeller,
		Text:      out.Text,
		Timestamp: s.now(),
	})
}

func (s *Service) markDegraded(_ context.Context, item queue.Item, err error) {
	if markErr := s.store.MarkDegraded(item.ConversationID, err.Error()); markErr != nil {
		slog.Error("Failed to mark conversation degraded",
			"conversation_id", item.ConversationID,
			"error", markErr)
		return
	}

	slog.Error("Reply needs manual follow-up",
		"conversation_id", item.ConversationID,
		"seq", item.Seq,
		"error", err,
		mylog.OperatorKey, true)
}
