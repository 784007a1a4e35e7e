package chat

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Cursor is an opaque pointer to an already-loaded message. Paging
// strictly before it never duplicates or skips entries even while new
// messages keep arriving.
type Cursor struct {
	CreatedAt time.Time
	MessageID string
}

// IsZero reports an absent cursor (load the newest page).
func (c Cursor) IsZero() bool {
	return c.MessageID == "" && c.CreatedAt.IsZero()
}

// String encodes the cursor as "unixnano|messageID".
func (c Cursor) String() string {
	if c.IsZero() {
		return ""
	}
	return fmt.Sprintf("%d|%s", c.CreatedAt.UTC().UnixNano(), c.MessageID)
}

// CursorFor points at an existing message.
func CursorFor(m *Message) Cursor {
	return Cursor{CreatedAt: m.CreatedAt, MessageID: m.ID}
}

// ParseCursor decodes a client-supplied cursor. Empty input is a valid
// absent cursor.
func ParseCursor(raw string) (Cursor, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Cursor{}, nil
	}
	parts := strings.Split(trimmed, "|")
	if len(parts) != 2 || parts[1] == "" {
		return Cursor{}, ValidationError{Field: "cursor", Reason: "malformed"}
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Cursor{}, ValidationError{Field: "cursor", Reason: "malformed"}
	}
	return Cursor{CreatedAt: time.Unix(0, nanos).UTC(), MessageID: parts[1]}, nil
}

// Admits reports whether the message sorts strictly before the cursor
// position in the conversation's (createdAt, id) order, i.e. belongs to
// an older page.
func (c Cursor) Admits(m *Message) bool {
	if m.CreatedAt.Equal(c.CreatedAt) {
		return m.ID < c.MessageID
	}
	return m.CreatedAt.Before(c.CreatedAt)
}
