package service

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// SessionStore maps session ids to their Conversation. Backed by an LRU cache so
// the number of live sessions stays bounded; an evicted session simply starts
// over with empty history on its next message. Safe for concurrent use.
type SessionStore struct {
	sessions *lru.Cache[string, *Conversation]
}

// NewSessionStore creates a store holding at most maxSessions conversations.
func NewSessionStore(maxSessions int) (*SessionStore, error) {
	cache, err := lru.New[string, *Conversation](maxSessions)
	if err != nil {
		return nil, fmt.Errorf("create session cache: %w", err)
	}

	return &SessionStore{sessions: cache}, nil
}

// Get returns the conversation for sessionID, creating it on first use.
func (s *SessionStore) Get(sessionID string) *Conversation {
	if conv, ok := s.sessions.Get(sessionID); ok {
		return conv
	}

	conv := NewConversation()
	if existing, loaded, _ := s.sessions.PeekOrAdd(sessionID, conv); loaded {
		// Another goroutine created it between Get and PeekOrAdd.
		return existing
	}

	return conv
}

// Reset clears the conversation for sessionID, if any. Idempotent.
func (s *SessionStore) Reset(sessionID string) {
	if conv, ok := s.sessions.Peek(sessionID); ok {
		conv.Reset()
	}
}

// Len returns the number of live sessions.
func (s *SessionStore) Len() int {
	return s.sessions.Len()
}
