package storage

import (
	"errors"
	"strings"
	"sync"

	"duochat/internal/models"
)

var (
	ErrUserExists   = errors.New("username already exists")
	ErrUserNotFound = errors.New("user not found")
)

// UserStore keeps credential records in a single JSON file keyed by username.
type UserStore struct {
	path string
	mu   sync.Mutex
}

func NewUserStore(path string) *UserStore {
	return &UserStore{path: path}
}

func (s *UserStore) load() (map[string]*models.User, error) {
	users := make(map[string]*models.User)
	if err := readJSON(s.path, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// Create adds a new user record. Usernames are compared verbatim.
func (s *UserStore) Create(user models.User) error {
	if strings.TrimSpace(user.Username) == "" {
		return errors.New("username is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := users[user.Username]; ok {
		return ErrUserExists
	}
	rec := user
	users[user.Username] = &rec
	return writeJSON(s.path, users)
}

// Get returns a copy of the record for username.
func (s *UserStore) Get(username string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.load()
	if err != nil {
		return nil, err
	}
	u, ok := users[username]
	if !ok || u == nil {
		return nil, ErrUserNotFound
	}
	rec := *u
	rec.Username = username
	return &rec, nil
}

// UpdatePassword replaces the stored password value (used to upgrade legacy records).
func (s *UserStore) UpdatePassword(username, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.load()
	if err != nil {
		return err
	}
	u, ok := users[username]
	if !ok || u == nil {
		return ErrUserNotFound
	}
	u.Password = password
	return writeJSON(s.path, users)
}
