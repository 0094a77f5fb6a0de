package mail

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	gomail "github.com/wneessen/go-mail"

	"duochat/internal/config"
)

const composeInstruction = "Write a professional email body for the following request. " +
	"Do NOT include greetings (like 'Dear', 'Hi') or signature.\n\n"

var (
	ErrEmptyPrompt        = errors.New("describe what the email should say")
	ErrEmptyBody          = errors.New("please generate or edit your email body first")
	ErrMissingCredentials = errors.New("missing email address or app password for this account")
	ErrNoRecipient        = errors.New("please enter a recipient email address")
)

// Backend generates text with one named provider.
type Backend interface {
	Generate(ctx context.Context, provider, prompt string) (string, error)
	DisplayName(provider string) string
}

// Composer drafts email bodies with the configured mail provider.
type Composer struct {
	backend  Backend
	provider string
}

func NewComposer(backend Backend, provider string) *Composer {
	return &Composer{backend: backend, provider: provider}
}

// ComposePrompt wraps a user request in the drafting instruction.
func ComposePrompt(request string) string {
	return composeInstruction + "Request: " + request
}

// Compose returns a trimmed draft body. Provider failures come back as
// user-facing text wrapped around the cause.
func (c *Composer) Compose(ctx context.Context, request string) (string, error) {
	if strings.TrimSpace(request) == "" {
		return "", ErrEmptyPrompt
	}
	text, err := c.backend.Generate(ctx, c.provider, ComposePrompt(request))
	if err != nil {
		return "", fmt.Errorf("❌ %s error: %w", c.backend.DisplayName(c.provider), err)
	}
	return strings.TrimSpace(text), nil
}

// Envelope is everything needed to deliver one message.
type Envelope struct {
	From        string
	AppPassword string
	To          string
	Subject     string
	DearName    string
	Body        string
	Signature   string
}

// BuildBody joins the optional greeting, the body and the signature.
func BuildBody(dearName, body, signature string) string {
	greeting := ""
	if dearName != "" {
		greeting = "Dear " + dearName + ",\n\n"
	}
	return greeting + body + "\n\n" + signature
}

// BuildMessage validates env and renders it as a plain-text message.
func BuildMessage(env Envelope) (*gomail.Msg, error) {
	body := strings.TrimSpace(env.Body)
	if body == "" {
		return nil, ErrEmptyBody
	}
	if env.From == "" || env.AppPassword == "" {
		return nil, ErrMissingCredentials
	}
	if strings.TrimSpace(env.To) == "" {
		return nil, ErrNoRecipient
	}
	msg := gomail.NewMsg()
	if err := msg.From(env.From); err != nil {
		return nil, sendFailure(fmt.Errorf("invalid sender address: %w", err))
	}
	if err := msg.To(strings.TrimSpace(env.To)); err != nil {
		return nil, sendFailure(fmt.Errorf("invalid recipient address: %w", err))
	}
	msg.Subject(env.Subject)
	msg.SetDate()
	msg.SetMessageID()
	msg.SetBodyString(gomail.TypeTextPlain, BuildBody(env.DearName, body, env.Signature))
	return msg, nil
}

// Transport delivers a rendered message using the sender's credentials.
type Transport interface {
	Send(ctx context.Context, username, password string, msg *gomail.Msg) error
}

type smtpTransport struct {
	host    string
	port    int
	timeout time.Duration
}

// NewSMTPTransport opens one STARTTLS session per message with PLAIN auth.
func NewSMTPTransport(cfg config.MailConfig) Transport {
	return &smtpTransport{
		host:    cfg.SMTPHost,
		port:    cfg.SMTPPort,
		timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
	}
}

func (t *smtpTransport) Send(ctx context.Context, username, password string, msg *gomail.Msg) error {
	opts := []gomail.Option{
		gomail.WithPort(t.port),
		gomail.WithTLSPolicy(gomail.TLSMandatory),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(username),
		gomail.WithPassword(password),
	}
	if t.timeout > 0 {
		opts = append(opts, gomail.WithTimeout(t.timeout))
	}
	client, err := gomail.NewClient(t.host, opts...)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	return client.DialAndSendWithContext(ctx, msg)
}

// Sender validates and delivers composed mail.
type Sender struct {
	transport Transport
}

func NewSender(transport Transport) *Sender {
	return &Sender{transport: transport}
}

// Send delivers env. Validation errors are returned as is; delivery failures
// are wrapped in user-facing text.
func (s *Sender) Send(ctx context.Context, env Envelope) error {
	msg, err := BuildMessage(env)
	if err != nil {
		return err
	}
	if err := s.transport.Send(ctx, env.From, env.AppPassword, msg); err != nil {
		log.Printf("send mail from %s failed: %v", env.From, err)
		return sendFailure(err)
	}
	return nil
}

func sendFailure(err error) error {
	return fmt.Errorf("❌ Failed to send email: %w", err)
}
