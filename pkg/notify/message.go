// Package notify delivers request lifecycle notifications over SMTP,
// webhooks and NATS, optionally through a durable database outbox.
package notify

import (
	"context"
	"strings"
)

// Recipient is an addressable party of a notification.
type Recipient struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

// String renders the recipient as an RFC 5322 style mailbox.
func (r Recipient) String() string {
	if r.Name == "" {
		return r.Address
	}
	return r.Name + " <" + r.Address + ">"
}

// Message is a notification about a request event.
type Message struct {
	Event     string      `json:"event"`
	RequestID int64       `json:"requestId"`
	To        []Recipient `json:"to"`
	Cc        []Recipient `json:"cc,omitempty"`
	From      *Recipient  `json:"from,omitempty"`
	Subject   string      `json:"subject"`
	Body      string      `json:"body"`
}

// Addresses returns the To and Cc addresses, To first.
func (m Message) Addresses() []string {
	addrs := make([]string, 0, len(m.To)+len(m.Cc))
	for _, r := range m.To {
		addrs = append(addrs, r.Address)
	}
	for _, r := range m.Cc {
		addrs = append(addrs, r.Address)
	}
	return addrs
}

// Sender delivers a message. Implementations report delivery failures to
// the caller and never retry on their own.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, msg Message) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

func joinRecipients(rs []Recipient) string {
	parts := make([]string, 0, len(rs))
	for _, r := range rs {
		parts = append(parts, r.String())
	}
	return strings.Join(parts, ", ")
}
