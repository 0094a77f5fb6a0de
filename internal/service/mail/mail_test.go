package mail

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gomail "github.com/wneessen/go-mail"
)

type fakeBackend struct {
	reply  string
	err    error
	prompt string
}

func (f *fakeBackend) Generate(_ context.Context, _ string, prompt string) (string, error) {
	f.prompt = prompt
	return f.reply, f.err
}

func (f *fakeBackend) DisplayName(string) string { return "Gemini" }

type fakeTransport struct {
	user, pass string
	sent       *gomail.Msg
	err        error
}

func (f *fakeTransport) Send(_ context.Context, username, password string, msg *gomail.Msg) error {
	f.user, f.pass, f.sent = username, password, msg
	return f.err
}

func TestComposeTrimsDraft(t *testing.T) {
	b := &fakeBackend{reply: "\n  Please find the report attached.  \n"}
	c := NewComposer(b, "gemini")

	draft, err := c.Compose(context.Background(), "send the Q3 report")
	require.NoError(t, err)
	assert.Equal(t, "Please find the report attached.", draft)
	assert.Equal(t, "Write a professional email body for the following request. Do NOT include greetings (like 'Dear', 'Hi') or signature.\n\nRequest: send the Q3 report", b.prompt)

	_, err = c.Compose(context.Background(), " ")
	assert.ErrorIs(t, err, ErrEmptyPrompt)

	cause := errors.New("quota")
	b.err = cause
	_, err = c.Compose(context.Background(), "x")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "❌ Gemini error: quota", err.Error())
}

func TestBuildBody(t *testing.T) {
	assert.Equal(t, "Dear Bob,\n\nHello there.\n\n-- Alice", BuildBody("Bob", "Hello there.", "-- Alice"))
	assert.Equal(t, "Hello there.\n\n", BuildBody("", "Hello there.", ""))
}

func TestBuildMessageValidation(t *testing.T) {
	base := Envelope{From: "alice@example.com", AppPassword: "app", To: "bob@example.com", Subject: "Hi", Body: "Body"}

	env := base
	env.Body = "  "
	_, err := BuildMessage(env)
	assert.ErrorIs(t, err, ErrEmptyBody)

	env = base
	env.AppPassword = ""
	_, err = BuildMessage(env)
	assert.ErrorIs(t, err, ErrMissingCredentials)

	env = base
	env.To = ""
	_, err = BuildMessage(env)
	assert.ErrorIs(t, err, ErrNoRecipient)

	env = base
	env.To = "not an address"
	_, err = BuildMessage(env)
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "❌ Failed to send email: invalid recipient address:"), err.Error())

	env = base
	env.From = "alice at example"
	_, err = BuildMessage(env)
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "❌ Failed to send email: invalid sender address:"), err.Error())
}

func TestSenderDeliversRenderedMessage(t *testing.T) {
	tr := &fakeTransport{}
	s := NewSender(tr)
	env := Envelope{
		From: "alice@example.com", AppPassword: "app", To: "bob@example.com",
		Subject: "Weekly update", DearName: "Bob", Body: "All good", Signature: "Alice",
	}
	require.NoError(t, s.Send(context.Background(), env))
	assert.Equal(t, "alice@example.com", tr.user)
	assert.Equal(t, "app", tr.pass)
	require.NotNil(t, tr.sent)

	var buf bytes.Buffer
	_, err := tr.sent.WriteTo(&buf)
	require.NoError(t, err)
	raw := buf.String()
	assert.Contains(t, raw, "Subject: Weekly update")
	assert.Contains(t, raw, "bob@example.com")
	assert.Contains(t, raw, "Dear Bob,")
	assert.Contains(t, raw, "All good")

	tr.err = errors.New("535 auth failed")
	err = s.Send(context.Background(), env)
	require.Error(t, err)
	assert.Equal(t, "❌ Failed to send email: 535 auth failed", err.Error())
}
