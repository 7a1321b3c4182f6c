// Package notifications delivers lifecycle notifications (invite links, reactivation codes,
// email change confirmations) to people. Delivery is fire-and-forget for callers.
package notifications

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// Template identifies the notification being sent.
type Template string

const (
	TemplateInvite          Template = "invite"
	TemplateSignupComplete  Template = "signup_complete"
	TemplateReactivation    Template = "reactivation"
	TemplateReactivated     Template = "reactivated"
	TemplateEmailChange     Template = "email_change"
	TemplateEmailChanged    Template = "email_changed"
	TemplateTokenAssignment Template = "agency_token_assignment"
	TemplateTokenAssigned   Template = "agency_token_assigned"
)

// ErrUnknownTemplate is returned by senders that render content for an unregistered template.
var ErrUnknownTemplate = errors.New("notifications: unknown template")

// Message is one notification addressed to one recipient.
type Message struct {
	To       string            `json:"to"`
	Template Template          `json:"template"`
	Vars     map[string]string `json:"vars,omitempty"`
}

// Sender delivers notifications.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

func validate(msg Message) error {
	if strings.TrimSpace(msg.To) == "" {
		return errors.New("notifications: recipient is required")
	}
	if msg.Template == "" {
		return errors.New("notifications: template is required")
	}
	return nil
}

// Recorder keeps every message in memory. It is safe for concurrent use.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

func (r *Recorder) Send(_ context.Context, msg Message) error {
	if err := validate(msg); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return nil
}

// Messages returns a copy of the recorded messages.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// To returns the recorded messages addressed to email with template tmpl.
func (r *Recorder) To(email string, tmpl Template) []Message {
	var out []Message
	for _, msg := range r.Messages() {
		if strings.EqualFold(msg.To, email) && msg.Template == tmpl {
			out = append(out, msg)
		}
	}
	return out
}
