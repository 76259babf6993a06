package models

// Role identifies the author of a conversation turn.
type Role string

// Conversation roles.
const (
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
)

// Turn is one query or answer in a chat session.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}
