package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"xianyuagent/app/config"
	"xianyuagent/app/service/deadletter"
	"xianyuagent/app/service/message"
	"xianyuagent/app/util/fault"
	"xianyuagent/app/util/mylog"

	"github.com/google/uuid"
	"github.com/samber/do"
	"golang.org/x/sync/errgroup"
)

const idleWait = time.Minute

var (
	ErrQueueFull = errors.New("message queue is full")
	ErrLaneFull  = errors.New("conversation backlog is full")
	ErrClosed    = errors.New("message queue is closed")
	// ErrDropped is returned by handlers for items that need no processing.
	ErrDropped = errors.New("message dropped")
)

var _ do.Shutdownable = (*Service)(nil)

// Service is the message middleware. Every conversation has its own FIFO lane
// and at most one leased item, lanes compete by (priority, seq).
type Service struct {
	cfg         config.Middleware
	deadLetters *deadletter.Service
	now         func() time.Time

	mu         sync.Mutex
	lanes      map[string]*lane
	size       int
	inFlight   int
	seq        uint64
	closed     bool
	wake       chan struct{}
	stats      Stats
	onDegraded DegradedListener
}

func New(di *do.Injector) (*Service, error) {
	cfg := do.MustInvoke[*config.Config](di)

	return NewQueue(cfg.Middleware, do.MustInvoke[*deadletter.Service](di)), nil
}

func NewQueue(cfg config.Middleware, deadLetters *deadletter.Service) *Service {
	return &Service{
		cfg:         cfg,
		deadLetters: deadLetters,
		now:         time.Now,
		lanes:       make(map[string]*lane),
		wake:        make(chan struct{}),
	}
}

func (s *Service) SetDegradedListener(fn DegradedListener) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.onDegraded = fn
}

// notify wakes every waiting worker. Callers hold s.mu.
func (s *Service) notify() {
	close(s.wake)
	s.wake = make(chan struct{})
}

func (s *Service) lane(id string) *lane {
	l, ok := s.lanes[id]
	if !ok {
		l = &lane{}
		s.lanes[id] = l
	}
	return l
}

func (s *Service) Enqueue(in message.Inbound) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Item{}, ErrClosed
	}

	now := s.now()
	l := s.lane(in.ConversationID)

	if s.cfg.LaneSize > 0 && len(l.items) >= s.cfg.LaneSize {
		s.stats.Rejected++
		slog.Warn("Conversation backlog is full",
			"conversation_id", in.ConversationID,
			"size", len(l.items))
		return Item{}, ErrLaneFull
	}

	if !l.pause.active(now) {
		if active := s.activeSize(now); active >= s.cfg.QueueSize {
			s.stats.Rejected++
			slog.Warn("Message queue is full",
				"conversation_id", in.ConversationID,
				"size", active)
			return Item{}, ErrQueueFull
		}
	}

	s.seq++
	inbound := in

	item := &Item{
		ID:             uuid.NewString(),
		ConversationID: in.ConversationID,
		Seq:            s.seq,
		Priority:       in.Priority,
		EnqueuedAt:     now,
		Inbound:        &inbound,
	}

	l.items = append(l.items, item)
	s.size++
	s.stats.Enqueued++

	s.notify()

	return *item, nil
}

// activeSize counts items outside paused lanes. Callers hold s.mu.
func (s *Service) activeSize(now time.Time) int {
	size := s.size
	for _, l := range s.lanes {
		if l.pause.active(now) {
			size -= len(l.items)
		}
	}
	return size
}

// Pause defers new dequeues for a conversation until the given time, or until
// Resume when until is zero. An in-flight item is allowed to finish.
func (s *Service) Pause(id, reason string, until time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lane(id).pause = pause{
		until:      until,
		indefinite: until.IsZero(),
		reason:     reason,
	}

	slog.Info("Conversation paused",
		"conversation_id", id,
		"reason", reason,
		"until", until)
}

func (s *Service) Resume(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.lanes[id]
	if !ok {
		return
	}

	l.pause = pause{}
	s.notify()

	slog.Info("Conversation resumed", "conversation_id", id)
}

func (s *Service) Paused(id string) bool {
	_, paused := s.PauseReason(id)
	return paused
}

// PauseReason returns why a conversation is paused.
func (s *Service) PauseReason(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.lanes[id]
	if !ok || !l.pause.active(s.now()) {
		return "", false
	}
	return l.pause.reason, true
}

func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := s.stats
	stats.Queued = s.size
	stats.InFlight = s.inFlight
	stats.Lanes = len(s.lanes)

	now := s.now()
	for _, l := range s.lanes {
		if l.pause.active(now) {
			stats.Paused++
		}
	}

	return stats
}

// Run starts the worker pool and blocks until ctx is done or the queue is shut down.
func (s *Service) Run(ctx context.Context, handler Handler) error {
	group, ctx := errgroup.WithContext(ctx)

	for i := 0; i < s.cfg.Workers; i++ {
		group.Go(func() error {
			s.work(ctx, handler)
			return nil
		})
	}

	return group.Wait()
}

func (s *Service) work(ctx context.Context, handler Handler) {
	for {
		item, token, wait, wake, closed := s.acquire()
		if closed {
			return
		}

		if item == nil {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-wake:
			case <-timer.C:
			}
			timer.Stop()
			continue
		}

		s.process(ctx, handler, item, token)

		if ctx.Err() != nil {
			return
		}
	}
}

// acquire leases the best ready lane head. When nothing is ready it returns
// how long to wait and a channel closed on the next state change.
func (s *Service) acquire() (*Item, string, time.Duration, <-chan struct{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, "", 0, nil, true
	}

	now := s.now()
	wait := idleWait

	var (
		best         *lane
		bestPriority message.Priority
	)

	for id, l := range s.lanes {
		if l.lease != "" {
			continue
		}

		if l.pause.active(now) {
			if !l.pause.indefinite {
				wait = min(wait, l.pause.until.Sub(now))
			}
			continue
		}
		l.pause = pause{}

		if len(l.items) == 0 {
			delete(s.lanes, id)
			continue
		}

		head := l.items[0]
		if head.NotBefore.After(now) {
			wait = min(wait, head.NotBefore.Sub(now))
			continue
		}

		priority := s.effectivePriority(head, now)
		if best == nil || priority > bestPriority ||
			(priority == bestPriority && head.Seq < best.items[0].Seq) {
			best = l
			bestPriority = priority
		}
	}

	if best == nil {
		return nil, "", wait, s.wake, false
	}

	token := uuid.NewString()
	best.lease = token
	s.inFlight++

	return best.items[0], token, 0, nil, false
}

// effectivePriority promotes an item by one level per elapsed aging threshold.
func (s *Service) effectivePriority(item *Item, now time.Time) message.Priority {
	priority := item.Priority
	if priority < message.PriorityLow {
		priority = message.PriorityNormal
	}

	if s.cfg.AgingThreshold > 0 {
		priority += message.Priority(now.Sub(item.EnqueuedAt) / s.cfg.AgingThreshold)
	}

	return min(priority, message.PriorityUrgent)
}

func (s *Service) process(ctx context.Context, handler Handler, item *Item, token string) {
	leaseCtx, cancel := context.WithTimeout(ctx, s.cfg.LeaseTTL)
	next, err := safeHandle(leaseCtx, handler, item)
	cancel()

	if err != nil && ctx.Err() != nil {
		// shutting down, the attempt does not count
		s.release(item, token, func(*lane) {})
		return
	}

	s.settle(ctx, item, token, next, err)
}

func safeHandle(ctx context.Context, handler Handler, item *Item) (next *Item, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fault.Fatal("handler panic", fmt.Errorf("%v", r))
		}
	}()

	return handler.Handle(ctx, item)
}

func (s *Service) settle(ctx context.Context, item *Item, token string, next *Item, err error) {
	kind := fault.KindOf(err)

	switch {
	case err == nil && next != nil:
		next.ConversationID = item.ConversationID
		next.Seq = item.Seq
		if next.ID == "" {
			next.ID = uuid.NewString()
		}
		if next.EnqueuedAt.IsZero() {
			next.EnqueuedAt = s.now()
		}
		s.release(item, token, func(l *lane) {
			l.items[0] = next
		})

	case err == nil:
		s.release(item, token, func(l *lane) {
			s.pop(l)
			s.stats.Processed++
		})

	case errors.Is(err, ErrDropped):
		slog.Info("Dropped message",
			"conversation_id", item.ConversationID,
			"seq", item.Seq,
			"reason", err)
		s.release(item, token, func(l *lane) {
			s.pop(l)
			s.stats.Dropped++
		})

	case kind == fault.KindValidation:
		slog.Warn("Dropped invalid message",
			"conversation_id", item.ConversationID,
			"seq", item.Seq,
			"error", err)
		s.release(item, token, func(l *lane) {
			s.pop(l)
			s.stats.Dropped++
		})

	case kind == fault.KindFatal:
		slog.Error("Conversation halted",
			"conversation_id", item.ConversationID,
			"seq", item.Seq,
			"error", err,
			mylog.OperatorKey, true)
		s.deadLetter(ctx, item, kind, err)
		s.release(item, token, func(l *lane) {
			s.pop(l)
			s.stats.DeadLettered++
			l.pause = pause{indefinite: true, reason: err.Error()}
		})
		s.degraded(ctx, item, err)

	default:
		item.Attempt++
		item.LastErr = err.Error()

		if item.Attempt >= s.cfg.MaxAttempts {
			s.deadLetter(ctx, item, fault.KindDegraded, err)
			s.release(item, token, func(l *lane) {
				s.pop(l)
				s.stats.DeadLettered++
			})
			s.degraded(ctx, item, fault.Degraded("retry budget exhausted", err))
			return
		}

		delay := s.backoff(item.Attempt)
		slog.Warn("Retrying message",
			"conversation_id", item.ConversationID,
			"seq", item.Seq,
			"attempt", item.Attempt,
			"delay", delay,
			"error", err)

		s.release(item, token, func(l *lane) {
			item.NotBefore = s.now().Add(delay)
			s.stats.Retried++
		})
	}
}

// release applies fn to the item's lane and drops the lease. A token mismatch
// means the lease is not ours anymore and nothing is changed.
func (s *Service) release(item *Item, token string, fn func(l *lane)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.lanes[item.ConversationID]
	if !ok || l.lease != token {
		slog.Error("Lease lost",
			"conversation_id", item.ConversationID,
			"seq", item.Seq)
		return
	}

	fn(l)
	l.lease = ""
	s.inFlight--
	s.notify()
}

func (s *Service) pop(l *lane) {
	l.items[0] = nil
	l.items = l.items[1:]
	s.size--
}

func (s *Service) backoff(attempt int) time.Duration {
	delay := s.cfg.BaseBackoff
	for i := 1; i < attempt && delay < s.cfg.MaxBackoff; i++ {
		delay *= 2
	}
	return min(delay, s.cfg.MaxBackoff)
}

func (s *Service) deadLetter(ctx context.Context, item *Item, kind fault.Kind, err error) {
	letter := deadletter.Letter{
		ID:             item.ID,
		ConversationID: item.ConversationID,
		Seq:            item.Seq,
		Kind:           kind,
		Attempts:       item.Attempt,
		Reason:         err.Error(),
		Inbound:        item.Inbound,
		Outbound:       item.Outbound,
		FailedAt:       s.now(),
	}

	if putErr := s.deadLetters.Put(context.WithoutCancel(ctx), letter); putErr != nil {
		slog.Error("Failed to store dead letter",
			"conversation_id", item.ConversationID,
			"seq", item.Seq,
			"reason", letter.Reason,
			"error", putErr,
			mylog.OperatorKey, true)
	}
}

func (s *Service) degraded(ctx context.Context, item *Item, err error) {
	s.mu.Lock()
	listener := s.onDegraded
	s.mu.Unlock()

	if listener != nil {
		listener(ctx, *item, err)
	}
}

func (s *Service) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	s.notify()

	if s.size > 0 {
		slog.Warn("Message queue closed with pending items", "count", s.size)
	}

	return nil
}
