package service

import (
	"sync"

	"github.com/trattoria/chef/internal/models"
)

// Conversation is the ordered turn log for one chat session. The mutex serializes
// whole chat turns on the session: a turn's state mutation becomes visible before
// the next turn on the same session starts. Different sessions are independent.
type Conversation struct {
	mu    sync.Mutex
	turns []models.Turn
}

// NewConversation creates an empty conversation.
func NewConversation() *Conversation {
	return &Conversation{}
}

// Turns returns a copy of the turn log.
func (c *Conversation) Turns() []models.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]models.Turn, len(c.turns))
	copy(out, c.turns)

	return out
}

// Len returns the number of recorded turns.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.turns)
}

// Reset clears all turns. Idempotent; callable at any time, including mid-failure.
func (c *Conversation) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.turns = nil
}

// snapshotLocked returns the turns without copying. Caller must hold mu.
func (c *Conversation) snapshotLocked() []models.Turn {
	return c.turns
}

// appendExchangeLocked records a completed query/answer pair, human turn first.
// Caller must hold mu; only call after a fully successful generation.
func (c *Conversation) appendExchangeLocked(query, answer string) {
	c.turns = append(c.turns,
		models.Turn{Role: models.RoleHuman, Text: query},
		models.Turn{Role: models.RoleAssistant, Text: answer},
	)
}
