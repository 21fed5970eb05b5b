package queue

import (
	"context"
	"time"

	"xianyuagent/app/service/message"
)

// Item is the unit of work of one conversation lane. While a worker holds the
// lane's lease it owns the item exclusively.
type Item struct {
	ID             string
	ConversationID string
	// Seq is assigned on enqueue and preserved across retries and follow-ups.
	Seq        uint64
	Priority   message.Priority
	Attempt    int
	NotBefore  time.Time
	EnqueuedAt time.Time

	Inbound  *message.Inbound
	Outbound *message.Outbound
	// Checkpoint carries pipeline results that must survive a retry.
	Checkpoint any
	LastErr    string
}

// Handler processes an item. A non-nil returned item replaces the current one
// at the head of its lane, keeping its position ahead of later messages.
type Handler interface {
	Handle(ctx context.Context, item *Item) (*Item, error)
}

type HandlerFunc func(ctx context.Context, item *Item) (*Item, error)

func (f HandlerFunc) Handle(ctx context.Context, item *Item) (*Item, error) {
	return f(ctx, item)
}

// DegradedListener is notified when an item leaves the queue unprocessed.
type DegradedListener func(ctx context.Context, item Item, err error)

type Stats struct {
	Queued       int    `json:"queued"`
	InFlight     int    `json:"in_flight"`
	Lanes        int    `json:"lanes"`
	Paused       int    `json:"paused"`
	Enqueued     uint64 `json:"enqueued"`
	Rejected     uint64 `json:"rejected"`
	Processed    uint64 `json:"processed"`
	Retried      uint64 `json:"retried"`
	Dropped      uint64 `json:"dropped"`
	DeadLettered uint64 `json:"dead_lettered"`
}

type pause struct {
	until      time.Time
	indefinite bool
	reason     string
}

func (p pause) active(now time.Time) bool {
	return p.indefinite || p.until.After(now)
}

type lane struct {
	items []*Item
	lease string
	pause pause
}
