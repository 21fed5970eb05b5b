package message

import (
	"fmt"
	"sync"
)

// Deduper remembers recently seen inbound fingerprints. Once capacity is
// reached the oldest half is forgotten.
type Deduper struct {
	mu       sync.Mutex
	capacity int
	seen     map[string]struct{}
	order    []string
}

func NewDeduper(capacity int) *Deduper {
	if capacity < 2 {
		capacity = 2
	}

	return &Deduper{
		capacity: capacity,
		seen:     make(map[string]struct{}, capacity),
	}
}

// Fingerprint identifies an event across transport redeliveries: the transport
// message id when present, otherwise sender and creation time.
func Fingerprint(ev Event) string {
	if ev.ID != "" {
		return fmt.Sprintf("%s#%s", ev.ConversationID, ev.ID)
	}
	return fmt.Sprintf("%s_%s_%d", ev.ConversationID, ev.SenderHandle, ev.Timestamp.UnixMilli())
}

// Seen records the fingerprint and reports whether it was already present.
func (d *Deduper) Seen(fingerprint string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[fingerprint]; ok {
		return true
	}

	if len(d.order) >= d.capacity {
		half := len(d.order) / 2
		for _, old := range d.order[:half] {
			delete(d.seen, old)
		}
		d.order = append([]string(nil), d.order[half:]...)
	}

	d.seen[fingerprint] = struct{}{}
	d.order = append(d.order, fingerprint)

	return false
}

// Forget removes a fingerprint so a redelivery is accepted again.
func (d *Deduper) Forget(fingerprint string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[fingerprint]; !ok {
		return
	}

	delete(d.seen, fingerprint)
	for i, fp := range d.order {
		if fp == fingerprint {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
}
