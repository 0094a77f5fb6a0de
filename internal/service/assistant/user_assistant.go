package assistant

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"duochat/internal/auth"
	"duochat/internal/models"
	"duochat/internal/storage"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrMailNotConfigured  = errors.New("email credentials not configured")
)

// Service handles the user lifecycle and chat persistence over the flat-file stores.
type Service struct {
	users   *storage.UserStore
	history *storage.HistoryStore
	cipher  *credentialCipher
}

// NewService builds a new assistant service. Mail credentials are encrypted
// when DUOCHAT_SECRET_KEY is set.
func NewService(users *storage.UserStore, history *storage.HistoryStore) (*Service, error) {
	c, err := newCredentialCipherFromEnv()
	if err != nil {
		return nil, err
	}
	if c == nil {
		log.Printf("%s not set, email app passwords are stored unencrypted", secretKeyEnv)
	}
	return &Service{users: users, history: history, cipher: c}, nil
}

// Registration carries sign-up input. Email fields are optional.
type Registration struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	Email         string `json:"email"`
	EmailPassword string `json:"email_password"`
}

// RegisterUser creates a user with a hashed password.
func (s *Service) RegisterUser(reg Registration) (*models.User, error) {
	username := strings.TrimSpace(reg.Username)
	password := strings.TrimSpace(reg.Password)
	if username == "" || password == "" {
		return nil, errors.New("username and password are required")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	sealed, err := s.cipher.Seal(strings.TrimSpace(reg.EmailPassword))
	if err != nil {
		return nil, fmt.Errorf("encrypt email password: %w", err)
	}
	user := models.User{
		Username:      username,
		Password:      hash,
		Email:         strings.TrimSpace(reg.Email),
		EmailPassword: sealed,
	}
	if err := s.users.Create(user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Login validates credentials. Clear-text passwords from older records are
// rehashed on the first successful login.
func (s *Service) Login(username, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || strings.TrimSpace(password) == "" {
		return nil, errors.New("username and password are required")
	}
	user, err := s.users.Get(username)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	// clear-text records keep surrounding spaces; sign-up hashes the trimmed form
	ok, legacy := auth.CheckPassword(user.Password, password)
	if !ok {
		if trimmed := strings.TrimSpace(password); trimmed != password {
			password = trimmed
			ok, legacy = auth.CheckPassword(user.Password, password)
		}
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if legacy {
		if hash, err := auth.HashPassword(password); err == nil {
			if err := s.users.UpdatePassword(username, hash); err != nil {
				log.Printf("upgrade password hash for %s failed: %v", username, err)
			} else {
				user.Password = hash
			}
		}
	}
	return user, nil
}

// MailCredentials returns the user's sender address and decrypted app password.
func (s *Service) MailCredentials(username string) (email, appPassword string, err error) {
	user, err := s.users.Get(username)
	if err != nil {
		return "", "", fmt.Errorf("load user: %w", err)
	}
	if !user.HasMailCredentials() {
		return "", "", ErrMailNotConfigured
	}
	plain, err := s.cipher.Open(user.EmailPassword)
	if err != nil {
		return "", "", fmt.Errorf("decrypt email password: %w", err)
	}
	return user.Email, plain, nil
}
