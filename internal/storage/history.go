package storage

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"duochat/internal/models"
)

var ErrChatNotFound = errors.New("chat not found")

type userChats = orderedmap.OrderedMap[string, []models.Message]
type historyFile = orderedmap.OrderedMap[string, *userChats]

// HistoryStore persists username -> chat name -> messages in one JSON file.
// Chat order is the order chats were created in.
type HistoryStore struct {
	path string
	mu   sync.Mutex
}

func NewHistoryStore(path string) *HistoryStore {
	return &HistoryStore{path: path}
}

func (s *HistoryStore) load() (*historyFile, error) {
	h := orderedmap.New[string, *userChats]()
	if err := readJSON(s.path, h); err != nil {
		return nil, err
	}
	return h, nil
}

func chatsOf(h *historyFile, username string) *userChats {
	chats, ok := h.Get(username)
	if !ok || chats == nil {
		chats = orderedmap.New[string, []models.Message]()
		h.Set(username, chats)
	}
	return chats
}

// update runs fn against a fresh copy of the file and writes it back when fn succeeds.
func (s *HistoryStore) update(fn func(h *historyFile) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(h); err != nil {
		return err
	}
	return writeJSON(s.path, h)
}

func (s *HistoryStore) view(fn func(h *historyFile) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, err := s.load()
	if err != nil {
		return err
	}
	return fn(h)
}

// ListChats returns the user's chats in creation order.
func (s *HistoryStore) ListChats(username string) ([]models.ChatSummary, error) {
	out := make([]models.ChatSummary, 0)
	err := s.view(func(h *historyFile) error {
		chats, ok := h.Get(username)
		if !ok || chats == nil {
			return nil
		}
		for p := chats.Oldest(); p != nil; p = p.Next() {
			out = append(out, models.ChatSummary{Name: p.Key, MessageCount: len(p.Value)})
		}
		return nil
	})
	return out, err
}

// CreateChat adds an empty chat named "Chat N" and returns the name.
// N starts at the current chat count plus one and skips names already taken.
func (s *HistoryStore) CreateChat(username string) (string, error) {
	if username == "" {
		return "", errors.New("username is required")
	}
	var name string
	err := s.update(func(h *historyFile) error {
		chats := chatsOf(h, username)
		for n := chats.Len() + 1; ; n++ {
			candidate := fmt.Sprintf("Chat %d", n)
			if _, taken := chats.Get(candidate); !taken {
				name = candidate
				break
			}
		}
		chats.Set(name, []models.Message{})
		return nil
	})
	if err != nil {
		return "", err
	}
	return name, nil
}

// Messages returns the ordered messages of one chat.
func (s *HistoryStore) Messages(username, chat string) ([]models.Message, error) {
	var msgs []models.Message
	err := s.view(func(h *historyFile) error {
		chats, ok := h.Get(username)
		if !ok || chats == nil {
			return ErrChatNotFound
		}
		stored, ok := chats.Get(chat)
		if !ok {
			return ErrChatNotFound
		}
		msgs = append(make([]models.Message, 0, len(stored)), stored...)
		return nil
	})
	return msgs, err
}

// Append adds messages to a chat. With createIfMissing an absent chat is created
// at the end of the list, otherwise ErrChatNotFound is returned.
func (s *HistoryStore) Append(username, chat string, createIfMissing bool, msgs ...models.Message) error {
	if strings.TrimSpace(chat) == "" {
		return errors.New("chat name is required")
	}
	return s.update(func(h *historyFile) error {
		chats := chatsOf(h, username)
		stored, ok := chats.Get(chat)
		if !ok && !createIfMissing {
			return ErrChatNotFound
		}
		chats.Set(chat, append(stored, msgs...))
		return nil
	})
}

// DeleteChat removes a chat and returns the first remaining chat name, or "".
func (s *HistoryStore) DeleteChat(username, chat string) (string, error) {
	var next string
	err := s.update(func(h *historyFile) error {
		chats, ok := h.Get(username)
		if !ok || chats == nil {
			return ErrChatNotFound
		}
		if _, present := chats.Delete(chat); !present {
			return ErrChatNotFound
		}
		if first := chats.Oldest(); first != nil {
			next = first.Key
		}
		return nil
	})
	return next, err
}
