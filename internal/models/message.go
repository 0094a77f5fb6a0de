package models

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message captures one entry of a chat thread as stored in the history file.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatSummary describes one named chat of a user.
type ChatSummary struct {
	Name         string `json:"name"`
	MessageCount int    `json:"message_count"`
}
