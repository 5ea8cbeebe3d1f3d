package push

import (
	"context"

	"github.com/example/roadside-dispatch/internal/models"
)

// Message is one notification addressed to a single device token.
type Message struct {
	To       string         `json:"to"`
	Title    string         `json:"title,omitempty"`
	Body     string         `json:"body,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	Sound    string         `json:"sound,omitempty"`
	Priority string         `json:"priority,omitempty"`
}

// Validator decides whether the gateway can deliver to a token.
type Validator interface {
	IsValidToken(token string) bool
}

// Gateway sends a batch of messages and returns one ticket per message, in
// order. A returned error means the batch as a whole failed.
type Gateway interface {
	Validator
	SendBatch(ctx context.Context, msgs []Message) ([]models.Ticket, error)
}
