package assistant

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"duochat/internal/auth"
	"duochat/internal/models"
	"duochat/internal/storage"
)

func newTestService(t *testing.T) (*Service, string) {
	t.Helper()
	dir := t.TempDir()
	users := storage.NewUserStore(filepath.Join(dir, "users.json"))
	history := storage.NewHistoryStore(filepath.Join(dir, "chat_history.json"))
	svc, err := NewService(users, history)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, dir
}

func TestRegisterEncryptsMailPassword(t *testing.T) {
	t.Setenv(secretKeyEnv, strings.Repeat("a", 32))
	svc, dir := newTestService(t)

	if _, err := svc.RegisterUser(Registration{
		Username: " alice ", Password: "pw", Email: "alice@example.com", EmailPassword: "app-secret",
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(dir, "users.json"))
	if err != nil {
		t.Fatalf("read users file: %v", err)
	}
	if strings.Contains(string(raw), "app-secret") || strings.Contains(string(raw), `"pw"`) {
		t.Fatalf("secrets stored in plaintext: %s", raw)
	}
	email, pass, err := svc.MailCredentials("alice")
	if err != nil {
		t.Fatalf("mail credentials: %v", err)
	}
	if email != "alice@example.com" || pass != "app-secret" {
		t.Fatalf("unexpected credentials %q %q", email, pass)
	}
}

func TestRegisterValidation(t *testing.T) {
	t.Setenv(secretKeyEnv, "")
	svc, _ := newTestService(t)

	if _, err := svc.RegisterUser(Registration{Username: "  ", Password: "pw"}); err == nil {
		t.Fatalf("expected error for blank username")
	}
	if _, err := svc.RegisterUser(Registration{Username: "bob", Password: "pw"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err := svc.RegisterUser(Registration{Username: "bob", Password: "other"})
	if !errors.Is(err, storage.ErrUserExists) || err.Error() != "username already exists" {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if _, _, err := svc.MailCredentials("bob"); !errors.Is(err, ErrMailNotConfigured) {
		t.Fatalf("expected ErrMailNotConfigured, got %v", err)
	}
}

func TestLoginUpgradesLegacyPassword(t *testing.T) {
	t.Setenv(secretKeyEnv, "")
	svc, dir := newTestService(t)
	legacy := `{"carol": {"password": "plain", "email": "c@example.com", "email_password": "legacy-app"}}`
	if err := os.WriteFile(filepath.Join(dir, "users.json"), []byte(legacy), 0o600); err != nil {
		t.Fatalf("write legacy users: %v", err)
	}

	if _, err := svc.Login("carol", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := svc.Login("nobody", "plain"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown user, got %v", err)
	}
	user, err := svc.Login("carol", "plain")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !auth.IsHashed(user.Password) {
		t.Fatalf("password not upgraded: %q", user.Password)
	}
	if _, err := svc.Login("carol", "plain"); err != nil {
		t.Fatalf("login after upgrade: %v", err)
	}
	_, pass, err := svc.MailCredentials("carol")
	if err != nil || pass != "legacy-app" {
		t.Fatalf("legacy app password unreadable: %q %v", pass, err)
	}
}

func TestLoginKeepsSurroundingSpacesOfLegacyPassword(t *testing.T) {
	t.Setenv(secretKeyEnv, "")
	svc, dir := newTestService(t)
	legacy := `{"dave": {"password": " spaced pw "}}`
	if err := os.WriteFile(filepath.Join(dir, "users.json"), []byte(legacy), 0o600); err != nil {
		t.Fatalf("write legacy users: %v", err)
	}

	if _, err := svc.Login("dave", "spaced pw"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected trimmed password to be rejected, got %v", err)
	}
	user, err := svc.Login(" dave ", " spaced pw ")
	if err != nil {
		t.Fatalf("login with stored spaces: %v", err)
	}
	if !auth.IsHashed(user.Password) {
		t.Fatalf("password not upgraded: %q", user.Password)
	}
	if _, err := svc.Login("dave", " spaced pw "); err != nil {
		t.Fatalf("login after upgrade: %v", err)
	}

	if _, err := svc.RegisterUser(Registration{Username: "erin", Password: "  secret  "}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Login("erin", "  secret  "); err != nil {
		t.Fatalf("login with padded password after sign-up: %v", err)
	}
}

func TestEncryptedCredentialNeedsKey(t *testing.T) {
	t.Setenv(secretKeyEnv, strings.Repeat("k", 32))
	svc, dir := newTestService(t)
	if _, err := svc.RegisterUser(Registration{Username: "dave", Password: "pw", Email: "d@example.com", EmailPassword: "x"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	t.Setenv(secretKeyEnv, "")
	users := storage.NewUserStore(filepath.Join(dir, "users.json"))
	plain, err := NewService(users, storage.NewHistoryStore(filepath.Join(dir, "chat_history.json")))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if _, _, err := plain.MailCredentials("dave"); err == nil {
		t.Fatalf("expected error reading encrypted credential without key")
	}

	t.Setenv(secretKeyEnv, "short")
	if _, err := NewService(users, nil); err == nil {
		t.Fatalf("expected error for invalid key")
	}
}

func TestChatLifecycle(t *testing.T) {
	t.Setenv(secretKeyEnv, "")
	svc, _ := newTestService(t)

	chat, err := svc.NewChat("erin")
	if err != nil {
		t.Fatalf("new chat: %v", err)
	}
	if err := svc.AppendExchange("erin", chat, "hello", "❌ Gemini Error: boom"); err != nil {
		t.Fatalf("append exchange: %v", err)
	}
	if err := svc.AppendExchange("erin", chat, "   ", "x"); err == nil {
		t.Fatalf("expected error for blank prompt")
	}
	msgs, err := svc.Messages("erin", chat)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Role != models.RoleUser || msgs[1].Content != "❌ Gemini Error: boom" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
	if err := svc.AppendToChat("erin", "Saved", models.Message{Role: models.RoleUser, Content: "[Duo Prompt] q"}); err != nil {
		t.Fatalf("append to new chat: %v", err)
	}
	chats, err := svc.ListChats("erin")
	if err != nil || len(chats) != 2 {
		t.Fatalf("expected 2 chats, got %+v %v", chats, err)
	}
	next, err := svc.DeleteChat("erin", chat)
	if err != nil || next != "Saved" {
		t.Fatalf("delete chat: next=%q err=%v", next, err)
	}
}
