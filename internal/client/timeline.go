package client

import (
	"sort"

	"messenger/internal/domain/chat"
)

// Entry is one rendered row of a conversation. LocalID is the
// client-generated message id; it is the stable identity of the row
// from optimistic insert through server reconciliation.
type Entry struct {
	LocalID string
	Message *chat.Message
	Display chat.DeliveryStatus
	Failed  bool
}

// Timeline holds one conversation's rows in (createdAt, id) order.
// Optimistic rows sit at the tail until the server acks them; the ack
// updates the row in place, so its position never jumps.
type Timeline struct {
	entries []*Entry
	byLocal map[string]*Entry
	byID    map[string]*Entry
}

func NewTimeline() *Timeline {
	return &Timeline{
		byLocal: make(map[string]*Entry),
		byID:    make(map[string]*Entry),
	}
}

// AppendLocal inserts an optimistic row for a message that has not been
// acknowledged yet.
func (t *Timeline) AppendLocal(msg *chat.Message) *Entry {
	if existing, ok := t.byLocal[msg.ClientMessageID]; ok {
		return existing
	}
	entry := &Entry{
		LocalID: msg.ClientMessageID,
		Message: msg,
		Display: chat.StatusSending,
	}
	t.entries = append(t.entries, entry)
	t.byLocal[entry.LocalID] = entry
	return entry
}

// Apply folds a server message into the timeline. A row with the same
// client message id is reconciled in place; anything else is inserted
// in order. Replays are no-ops, so the fold is idempotent.
func (t *Timeline) Apply(msg *chat.Message) *Entry {
	if entry, ok := t.byID[msg.ID]; ok {
		t.reconcile(entry, msg)
		return entry
	}
	if msg.ClientMessageID != "" {
		if entry, ok := t.byLocal[msg.ClientMessageID]; ok {
			t.reconcile(entry, msg)
			return entry
		}
	}
	entry := &Entry{
		LocalID: msg.ClientMessageID,
		Message: msg,
		Display: msg.Status(),
	}
	t.insert(entry)
	if entry.LocalID != "" {
		t.byLocal[entry.LocalID] = entry
	}
	t.byID[msg.ID] = entry
	return entry
}

// reconcile swaps in the server row without moving the entry.
func (t *Timeline) reconcile(entry *Entry, msg *chat.Message) {
	if entry.Message.ID == "" && msg.ID != "" {
		t.byID[msg.ID] = entry
	}
	entry.Message = msg
	entry.Failed = false
	if next := msg.Status(); chat.Advance(entry.Display, next) == next {
		entry.Display = next
	}
}

// AdvanceStatus moves a row's displayed status forward. Regressions are
// rejected, so stale acks can arrive in any order.
func (t *Timeline) AdvanceStatus(messageID string, next chat.DeliveryStatus) bool {
	entry, ok := t.byID[messageID]
	if !ok {
		return false
	}
	advanced := chat.Advance(entry.Display, next)
	if advanced != next {
		return false
	}
	entry.Display = next
	if next == chat.StatusFailed {
		entry.Failed = true
	}
	return true
}

// MarkFailed flags an optimistic row whose send did not get an ack.
func (t *Timeline) MarkFailed(localID string) bool {
	entry, ok := t.byLocal[localID]
	if !ok {
		return false
	}
	if chat.Advance(entry.Display, chat.StatusFailed) != chat.StatusFailed {
		return false
	}
	entry.Display = chat.StatusFailed
	entry.Failed = true
	return true
}

// MarkRetrying returns a failed row to sending for another attempt.
func (t *Timeline) MarkRetrying(localID string) (*Entry, bool) {
	entry, ok := t.byLocal[localID]
	if !ok || !entry.Failed {
		return nil, false
	}
	entry.Display = chat.StatusSending
	entry.Failed = false
	return entry, true
}

// PrependOlder folds a history page into the timeline and reports how
// many rows were new. Rows already present are reconciled rather than
// skipped: a refetched page may carry receipts or tombstones the
// socket missed.
func (t *Timeline) PrependOlder(batch []*chat.Message) int {
	added := 0
	for _, msg := range batch {
		if !t.known(msg) {
			added++
		}
		t.Apply(msg)
	}
	return added
}

func (t *Timeline) known(msg *chat.Message) bool {
	if _, ok := t.byID[msg.ID]; ok {
		return true
	}
	if msg.ClientMessageID != "" {
		if _, ok := t.byLocal[msg.ClientMessageID]; ok {
			return true
		}
	}
	return false
}

// Entries returns the rows oldest first.
func (t *Timeline) Entries() []*Entry {
	out := make([]*Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of rows.
func (t *Timeline) Len() int {
	return len(t.entries)
}

// Newest returns the most recent acknowledged row, if any.
func (t *Timeline) Newest() (*Entry, bool) {
	for i := len(t.entries) - 1; i >= 0; i-- {
		if t.entries[i].Message.ID != "" {
			return t.entries[i], true
		}
	}
	return nil, false
}

// insert places the entry by (createdAt, id). Unacked optimistic rows
// order after everything acknowledged at the same instant.
func (t *Timeline) insert(entry *Entry) {
	idx := sort.Search(len(t.entries), func(i int) bool {
		other := t.entries[i]
		if other.Message.ID == "" {
			// optimistic rows stay at the tail
			return true
		}
		return entry.Message.Before(other.Message)
	})
	t.entries = append(t.entries, nil)
	copy(t.entries[idx+1:], t.entries[idx:])
	t.entries[idx] = entry
}
