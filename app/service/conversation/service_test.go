package conversation

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"xianyuagent/app/config"
	"xianyuagent/app/service/identity"
	"xianyuagent/app/service/negotiation"
	"xianyuagent/app/service/strategy"
	"xianyuagent/app/util/fault"

	"github.com/samber/do"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetCreatesLazily(t *testing.T) {
	s := NewStore(10)

	state, err := s.Get("c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", state.ID)
	assert.Empty(t, state.History)
	assert.Nil(t, state.Negotiation)
	assert.Len(t, s.List(), 1)

	_, found := s.Lookup("c2")
	assert.False(t, found)
	assert.Len(t, s.List(), 1)

	_, err = s.Get("  ")
	assert.True(t, fault.IsValidation(err))
}

func TestAppendTurnEvictsOldestFirst(t *testing.T) {
	s := NewStore(3)

	for i := 1; i <= 5; i++ {
		require.NoError(t, s.AppendTurn("c1", Turn{Sender: "b", Text: fmt.Sprintf("m%d", i)}))
	}

	state, err := s.Get("c1")
	require.NoError(t, err)
	require.Len(t, state.History, 3)
	assert.Equal(t, "m3", state.History[0].Text)
	assert.Equal(t, "m5", state.History[2].Text)

	assert.True(t, fault.IsValidation(s.AppendTurn("c1", Turn{Sender: "b", Text: " "})))
}

func TestSnapshotsAreIsolated(t *testing.T) {
	s := NewStore(10)
	require.NoError(t, s.AppendTurn("c1", Turn{Sender: "b", Text: "hi"}))
	require.NoError(t, s.RememberRole("c1", "b", identity.RoleBuyer))

	state, _ := s.Get("c1")
	state.History[0].Text = "changed"
	state.RoleMemory["b"] = identity.RoleSeller

	fresh, _ := s.Get("c1")
	assert.Equal(t, "hi", fresh.History[0].Text)
	assert.Equal(t, identity.RoleBuyer, fresh.Role("b"))
}

func TestUpdateNegotiationRejectsInvalidAndKeepsPrior(t *testing.T) {
	s := NewStore(10)
	engine, err := negotiation.NewEngine(negotiation.Params{Ladder: []float64{0.5, 1}})
	require.NoError(t, err)

	opened, err := s.UpdateNegotiation("c1", func(cur *negotiation.State) (*negotiation.State, error) {
		assert.Nil(t, cur)
		st, err := engine.Open(100, 70, time.Now())
		return &st, err
	})
	require.NoError(t, err)
	require.NotNil(t, opened)

	countered, err := s.UpdateNegotiation("c1", func(cur *negotiation.State) (*negotiation.State, error) {
		next, _ := engine.OfferAmount(*cur, 50, time.Now())
		return &next, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, countered.ConcessionStep)

	_, err = s.UpdateNegotiation("c1", func(cur *negotiation.State) (*negotiation.State, error) {
		cur.FloorPrice = 150
		return cur, nil
	})
	assert.True(t, fault.IsValidation(err))

	_, err = s.UpdateNegotiation("c1", func(cur *negotiation.State) (*negotiation.State, error) {
		cur.ConcessionStep = 0
		return cur, nil
	})
	assert.True(t, fault.IsValidation(err))

	boom := errors.New("boom")
	_, err = s.UpdateNegotiation("c1", func(cur *negotiation.State) (*negotiation.State, error) {
		cur.ConcessionStep = 2
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	state, _ := s.Get("c1")
	require.NotNil(t, state.Negotiation)
	assert.Equal(t, *countered, *state.Negotiation)
}

func TestDifferentConversationsDoNotBlock(t *testing.T) {
	s := NewStore(10)

	inside := make(chan struct{})
	release := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = s.UpdateNegotiation("busy", func(cur *negotiation.State) (*negotiation.State, error) {
			close(inside)
			<-release
			return nil, nil
		})
	}()

	<-inside

	done := make(chan struct{})
	go func() {
		_, _ = s.Get("other")
		_ = s.AppendTurn("other", Turn{Sender: "b", Text: "hi"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("access to another conversation blocked")
	}

	close(release)
	wg.Wait()
}

func TestConcurrentAppendsOnOneConversation(t *testing.T) {
	s := NewStore(1000)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.AppendTurn("c1", Turn{Sender: "b", Text: fmt.Sprint(i)}))
		}(i)
	}
	wg.Wait()

	state, _ := s.Get("c1")
	assert.Len(t, state.History, 50)
}

func TestRoutingAndDegraded(t *testing.T) {
	s := NewStore(10)

	require.NoError(t, s.SetRouting("c1", strategy.TagPricing, 2))
	assert.True(t, fault.IsFatal(s.SetRouting("c1", "smalltalk", 0)))
	require.NoError(t, s.SetItem("c1", "item-9"))
	require.NoError(t, s.MarkDegraded("c1", "retries exhausted"))
	require.NoError(t, s.MarkDegraded("c1", "retries exhausted"))

	state, _ := s.Get("c1")
	assert.Equal(t, strategy.TagPricing, state.ActiveStrategy)
	assert.Equal(t, 2, state.OffTopicTurns)
	assert.Equal(t, "item-9", state.ItemID)
	assert.True(t, state.Degraded)
	assert.Equal(t, 2, state.FailedReplies)
}

func TestPersistence(t *testing.T) {
	dir := t.TempDir()

	newInjector := func() *do.Injector {
		di := do.New()
		cfg := &config.Config{}
		config.ApplyDefaults(cfg)
		cfg.Store.DataDir = dir
		do.ProvideValue(di, cfg)
		return di
	}

	s, err := New(newInjector())
	require.NoError(t, err)
	require.NoError(t, s.AppendTurn("c1", Turn{Sender: "b", Role: identity.RoleBuyer, Text: "还在吗"}))
	require.NoError(t, s.RememberRole("c1", "b", identity.RoleBuyer))
	require.NoError(t, s.Shutdown())
	assert.FileExists(t, filepath.Join(dir, snapshotFile))

	restored, err := New(newInjector())
	require.NoError(t, err)

	state, err := restored.Get("c1")
	require.NoError(t, err)
	require.Len(t, state.History, 1)
	assert.Equal(t, "还在吗", state.History[0].Text)
	assert.Equal(t, identity.RoleBuyer, state.Role("b"))
}

func TestFormatHistory(t *testing.T) {
	assert.Equal(t, "No previous messages", FormatHistory(nil))

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	out := FormatHistory([]Turn{
		{Sender: "b", Role: identity.RoleBuyer, Text: "hi", Timestamp: ts},
		{Sender: AssistantSender, Role: identity.RoleSeller, Text: "hello", Timestamp: ts},
	})
	assert.Equal(t, "2026-01-02 03:04:05 - b (buyer): hi\n2026-01-02 03:04:05 - assistant (you): hello\n", out)
}
