package conversation

import (
	"errors"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"xianyuagent/app/config"
	"xianyuagent/app/service/identity"
	"xianyuagent/app/service/negotiation"
	"xianyuagent/app/service/strategy"
	"xianyuagent/app/util/fault"

	"github.com/samber/do"
)

var _ do.Shutdownable = (*Service)(nil)

var errEmptyID = errors.New("conversation id is empty")

type entry struct {
	mu    sync.Mutex
	state State
}

// Service owns every ConversationState. The map lock is only held to find an
// entry, all state access happens under the entry's own lock so different
// conversations never wait for each other.
type Service struct {
	historyLimit int
	path         string

	mu      sync.Mutex
	entries map[string]*entry
}

func New(di *do.Injector) (*Service, error) {
	cfg := do.MustInvoke[*config.Config](di)

	s := NewStore(cfg.Store.HistoryLimit)
	s.path = filepath.Join(cfg.Store.DataDir, snapshotFile)

	if err := s.load(); err != nil {
		return nil, err
	}

	return s, nil
}

// NewStore creates an in-memory store.
func NewStore(historyLimit int) *Service {
	return &Service{
		historyLimit: historyLimit,
		entries:      make(map[string]*entry),
	}
}

func (s *Service) entry(id string) (*entry, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fault.Validation("invalid conversation", errEmptyID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		e = &entry{state: State{ID: id}}
		s.entries[id] = e
	}

	return e, nil
}

func (s *Service) update(id string, fn func(state *State) error) error {
	e, err := s.entry(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.state.clone()
	if err = fn(&next); err != nil {
		return err
	}

	next.UpdatedAt = time.Now()
	e.state = next

	return nil
}

// Get returns a snapshot, creating an empty conversation on first access.
func (s *Service) Get(id string) (State, error) {
	e, err := s.entry(id)
	if err != nil {
		return State{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state.clone(), nil
}

// Lookup returns a snapshot without creating the conversation.
func (s *Service) Lookup(id string) (State, bool) {
	s.mu.Lock()
	e, ok := s.entries[strings.TrimSpace(id)]
	s.mu.Unlock()

	if !ok {
		return State{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state.clone(), true
}

func (s *Service) AppendTurn(id string, turn Turn) error {
	if strings.TrimSpace(turn.Text) == "" {
		return fault.Validation("empty turn", errors.New("turn text is empty"))
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}

	return s.update(id, func(state *State) error {
		state.History = appendBounded(state.History, turn, s.historyLimit)
		return nil
	})
}

// UpdateNegotiation applies fn to the current negotiation under the
// conversation's lock. fn receives a copy and must not block. A result that
// breaks a negotiation invariant is rejected and the prior state is kept.
func (s *Service) UpdateNegotiation(
	id string,
	fn func(cur *negotiation.State) (*negotiation.State, error),
) (*negotiation.State, error) {
	var result *negotiation.State

	err := s.update(id, func(state *State) error {
		var cur *negotiation.State
		if state.Negotiation != nil {
			c := state.Negotiation.Clone()
			cur = &c
		}

		next, err := fn(cur)
		if err != nil {
			return err
		}

		if err = negotiation.ValidateTransition(state.Negotiation, next); err != nil {
			return err
		}

		if next != nil {
			n := next.Clone()
			state.Negotiation = &n
			r := n.Clone()
			result = &r
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Service) RememberRole(id, sender string, role identity.Role) error {
	if role == identity.RoleUnknown {
		return nil
	}

	return s.update(id, func(state *State) error {
		if state.RoleMemory == nil {
			state.RoleMemory = make(map[string]identity.Role)
		}
		state.RoleMemory[sender] = role
		return nil
	})
}

// SetRouting stores the router's hysteresis inputs for the next message.
func (s *Service) SetRouting(id string, tag strategy.Tag, offTopicTurns int) error {
	if _, ok := strategy.ParseTag(string(tag)); !ok {
		return fault.Fatal("unrecognized strategy", errors.New(string(tag)))
	}

	return s.update(id, func(state *State) error {
		state.ActiveStrategy = tag
		state.OffTopicTurns = offTopicTurns
		return nil
	})
}

func (s *Service) SetItem(id, itemID string) error {
	if itemID == "" {
		return nil
	}

	return s.update(id, func(state *State) error {
		state.ItemID = itemID
		return nil
	})
}

// MarkDegraded flags a conversation whose reply ended up in the dead-letter
// sink. New messages are still processed.
func (s *Service) MarkDegraded(id, reason string) error {
	err := s.update(id, func(state *State) error {
		state.Degraded = true
		state.DegradedReason = reason
		state.FailedReplies++
		return nil
	})
	if err != nil {
		return err
	}

	slog.Warn("Conversation degraded",
		"conversation_id", id,
		"reason", reason)

	return nil
}

// List returns snapshots of all known conversations ordered by id.
func (s *Service) List() []State {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	result := make([]State, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		result = append(result, e.state.clone())
		e.mu.Unlock()
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})

	return result
}

func (s *Service) Shutdown() error {
	return s.Save()
}
