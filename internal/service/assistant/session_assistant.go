package assistant

import (
	"errors"
	"strings"

	"duochat/internal/models"
)

// ListChats returns the user's chats in creation order.
func (s *Service) ListChats(username string) ([]models.ChatSummary, error) {
	return s.history.ListChats(username)
}

// NewChat creates an empty chat and returns its name.
func (s *Service) NewChat(username string) (string, error) {
	return s.history.CreateChat(username)
}

// DeleteChat removes a chat and returns the chat that should become current.
func (s *Service) DeleteChat(username, chat string) (string, error) {
	return s.history.DeleteChat(username, chat)
}

// Messages returns one chat's history.
func (s *Service) Messages(username, chat string) ([]models.Message, error) {
	return s.history.Messages(username, chat)
}

// AppendExchange stores a prompt and the reply it produced. Error replies are
// stored too so the transcript shows what the user saw.
func (s *Service) AppendExchange(username, chat, prompt, reply string) error {
	if strings.TrimSpace(prompt) == "" {
		return errors.New("content cannot be empty")
	}
	return s.history.Append(username, chat, false,
		models.Message{Role: models.RoleUser, Content: prompt},
		models.Message{Role: models.RoleAssistant, Content: reply},
	)
}

// AppendToChat appends messages, creating the chat when it does not exist.
func (s *Service) AppendToChat(username, chat string, msgs ...models.Message) error {
	return s.history.Append(username, chat, true, msgs...)
}
