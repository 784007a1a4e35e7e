package client

import (
	"fmt"
	"sort"

	"messenger/internal/domain/chat"
)

// TypingState tracks who is typing in each conversation, derived purely
// from typing events. It holds no timers: the server broadcasts the
// stop, whether explicit or by expiry.
type TypingState struct {
	typists map[string]map[string]string // conversationID -> userID -> display name
}

func NewTypingState() *TypingState {
	return &TypingState{typists: make(map[string]map[string]string)}
}

// Apply folds a typing event and reports whether the indicator for that
// conversation changed. name is the resolved display name of the
// typist; when empty the user id stands in.
func (s *TypingState) Apply(ev chat.Event, name string) bool {
	switch ev.Kind {
	case chat.EventTypingStart:
		room := s.typists[ev.ConversationID]
		if room == nil {
			room = make(map[string]string)
			s.typists[ev.ConversationID] = room
		}
		if name == "" {
			name = ev.UserID
		}
		if room[ev.UserID] == name {
			return false
		}
		room[ev.UserID] = name
		return true
	case chat.EventTypingStop:
		room := s.typists[ev.ConversationID]
		if _, ok := room[ev.UserID]; !ok {
			return false
		}
		delete(room, ev.UserID)
		if len(room) == 0 {
			delete(s.typists, ev.ConversationID)
		}
		return true
	}
	return false
}

// Reset clears all indicators. Called on reconnect: missed stop events
// would otherwise leave ghosts typing forever.
func (s *TypingState) Reset() {
	s.typists = make(map[string]map[string]string)
}

// Indicator renders the label for a conversation, excluding self.
func (s *TypingState) Indicator(conversationID, selfID string) string {
	room := s.typists[conversationID]
	names := make([]string, 0, len(room))
	for id, name := range room {
		if id == selfID {
			continue
		}
		names = append(names, name)
	}
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0] + " is typing…"
	case 2:
		sort.Strings(names)
		return names[0] + " and " + names[1] + " are typing…"
	default:
		return fmt.Sprintf("%d people are typing…", len(names))
	}
}
