// Package models defines the data structures shared by the relay pipeline,
// the transport and the event bus.
package models

// Role tags a Turn in a conversation history.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// Turn is one role-tagged message in a conversation history.
// Turns are values; once appended to a history they are never modified.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// SystemTurn returns a system Turn with the given instructions.
func SystemTurn(content string) Turn { return Turn{Role: RoleSystem, Content: content} }

// UserTurn returns a user Turn.
func UserTurn(content string) Turn { return Turn{Role: RoleUser, Content: content} }

// AssistantTurn returns an assistant Turn.
func AssistantTurn(content string) Turn { return Turn{Role: RoleAssistant, Content: content} }
