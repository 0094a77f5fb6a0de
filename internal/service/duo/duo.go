package duo

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"golang.org/x/sync/errgroup"

	"duochat/internal/models"
)

// DefaultInstruction is used when a synthesis request carries no instruction.
const DefaultInstruction = "Summarize the two responses in 2–4 sentences and provide a balanced conclusion."

var (
	ErrEmptyPrompt   = errors.New("please enter a prompt to run the debate")
	ErrNoOutputs     = errors.New("run the debate first to get both model outputs")
	ErrNoCurrentChat = errors.New("no active chat to save the debate to")
	ErrNeedsTwoModes = errors.New("duo mode needs two configured providers")
)

// Backend is the part of the provider router duo mode depends on.
type Backend interface {
	Generate(ctx context.Context, provider, prompt string) (string, error)
	DisplayName(provider string) string
}

// ChatAppender persists messages into a named chat, creating it when missing.
type ChatAppender interface {
	AppendToChat(username, chat string, msgs ...models.Message) error
}

// Service runs one prompt against two providers and synthesizes their answers.
type Service struct {
	backend     Backend
	chats       ChatAppender
	left, right string
	synthesizer string
}

// NewService pairs the first two modes. synthesizer names the provider that
// writes the combined conclusion.
func NewService(backend Backend, chats ChatAppender, modes []string, synthesizer string) (*Service, error) {
	if len(modes) < 2 {
		return nil, ErrNeedsTwoModes
	}
	return &Service{
		backend:     backend,
		chats:       chats,
		left:        modes[0],
		right:       modes[1],
		synthesizer: synthesizer,
	}, nil
}

// Sides returns the provider names shown on the left and right.
func (s *Service) Sides() (string, string) {
	return s.left, s.right
}

// Run asks both providers concurrently. Each side walks its own model list
// and failures become inline error text. A previous synthesis is kept.
func (s *Service) Run(ctx context.Context, prev models.DuoState, prompt string) (models.DuoState, error) {
	if strings.TrimSpace(prompt) == "" {
		return prev, ErrEmptyPrompt
	}
	var leftOut, rightOut string
	var g errgroup.Group
	g.Go(func() error {
		leftOut = s.ask(ctx, s.left, prompt)
		return nil
	})
	g.Go(func() error {
		rightOut = s.ask(ctx, s.right, prompt)
		return nil
	})
	_ = g.Wait()

	next := prev
	next.LastPrompt = prompt
	next.Outputs = map[string]string{s.left: leftOut, s.right: rightOut}
	return next, nil
}

func (s *Service) ask(ctx context.Context, provider, prompt string) string {
	text, err := s.backend.Generate(ctx, provider, prompt)
	if err != nil {
		log.Printf("duo %s failed: %v", provider, err)
		return fmt.Sprintf("❌ %s error: %v", s.backend.DisplayName(provider), err)
	}
	return text
}

// Clear returns an empty duo state.
func Clear() models.DuoState {
	return models.DuoState{Outputs: map[string]string{}}
}

// SynthesisPrompt builds the request sent to the synthesizer.
func (s *Service) SynthesisPrompt(state models.DuoState, instruction string) string {
	if strings.TrimSpace(instruction) == "" {
		instruction = DefaultInstruction
	}
	return "You are asked to synthesize two model responses. " +
		"Here is the " + s.backend.DisplayName(s.left) + " output:\n\n" +
		state.Outputs[s.left] + "\n\n" +
		"Here is the " + s.backend.DisplayName(s.right) + " output:\n\n" +
		state.Outputs[s.right] + "\n\n" +
		"Instruction: " + instruction + "\n\nProvide a short, balanced synthesis and final takeaway."
}

// Synthesize combines the last outputs into one conclusion.
func (s *Service) Synthesize(ctx context.Context, state models.DuoState, instruction string) (models.DuoState, error) {
	if state.Outputs[s.left] == "" && state.Outputs[s.right] == "" {
		return state, ErrNoOutputs
	}
	text, err := s.backend.Generate(ctx, s.synthesizer, s.SynthesisPrompt(state, instruction))
	if err != nil {
		log.Printf("duo synthesis failed: %v", err)
		text = fmt.Sprintf("❌ Synthesis error: %v", err)
	}
	state.Synthesis = text
	return state, nil
}

// Transcript renders the state as chat messages: the prompt then each side.
func (s *Service) Transcript(state models.DuoState) []models.Message {
	return []models.Message{
		{Role: models.RoleUser, Content: "[Duo Prompt] " + state.LastPrompt},
		{Role: models.RoleAssistant, Content: "[" + s.backend.DisplayName(s.left) + "] " + state.Outputs[s.left]},
		{Role: models.RoleAssistant, Content: "[" + s.backend.DisplayName(s.right) + "] " + state.Outputs[s.right]},
	}
}

// SaveToChat appends the transcript to chat, creating the chat if needed.
func (s *Service) SaveToChat(username, chat string, state models.DuoState) error {
	if strings.TrimSpace(chat) == "" || username == "" {
		return ErrNoCurrentChat
	}
	return s.chats.AppendToChat(username, chat, s.Transcript(state)...)
}
