package models

import "time"

// Style selects the tone prefix applied to chat prompts.
type Style string

const (
	StyleProfessional Style = "Professional"
	StyleFunnier      Style = "Funnier"
	StyleKid          Style = "Kid"
)

// Valid reports whether s is one of the known styles.
func (s Style) Valid() bool {
	switch s {
	case StyleProfessional, StyleFunnier, StyleKid:
		return true
	}
	return false
}

// DuoState holds the scratch fields of a side-by-side run.
type DuoState struct {
	LastPrompt string `json:"last_prompt"`
	// Outputs maps provider name to its text for the last run.
	Outputs   map[string]string `json:"outputs"`
	Synthesis string            `json:"synthesis"`
}

// MailState holds the editable mail draft and the signature.
type MailState struct {
	Draft     string `json:"draft"`
	Signature string `json:"signature"`
}

// SessionState is the per-login ephemeral state. It is never written to the history file.
type SessionState struct {
	Username    string    `json:"username"`
	CurrentChat string    `json:"current_chat"`
	Mode        string    `json:"mode"`
	Style       Style     `json:"style"`
	Duo         DuoState  `json:"duo"`
	Mail        MailState `json:"mail"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Clone returns a deep copy safe to hand out of a lock.
func (s *SessionState) Clone() *SessionState {
	if s == nil {
		return nil
	}
	c := *s
	if s.Duo.Outputs != nil {
		c.Duo.Outputs = make(map[string]string, len(s.Duo.Outputs))
		for k, v := range s.Duo.Outputs {
			c.Duo.Outputs[k] = v
		}
	}
	return &c
}
