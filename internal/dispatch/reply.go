package dispatch

import (
	"context"
	"fmt"

	"github.com/example/roadside-dispatch/internal/models"
	"github.com/example/roadside-dispatch/internal/push"
	"github.com/example/roadside-dispatch/internal/storage"
)

var replyText = map[models.Status]string{
	models.StatusGarageAccepted:   "A garage accepted your request and is on the way.",
	models.StatusGarageDeclined:   "The garage declined your request. Please try again.",
	models.StatusServiceCompleted: "Your roadside service is complete.",
	models.StatusExpired:          "No garage answered in time. Please try again.",
}

// ReplyNotifier pushes garage responses back to the driver's reply channel.
type ReplyNotifier struct {
	Store   storage.RequestStore
	Gateway push.Gateway
}

func (n *ReplyNotifier) Publish(ctx context.Context, e models.StatusEvent) error {
	body, ok := replyText[e.To]
	if !ok {
		return nil
	}
	r, err := n.Store.Get(ctx, e.RequestID)
	if err != nil {
		return fmt.Errorf("reply lookup %s: %w", e.RequestID, err)
	}
	if r.ReplyChannel == "" || !n.Gateway.IsValidToken(r.ReplyChannel) {
		return nil
	}
	tickets, err := n.Gateway.SendBatch(ctx, []push.Message{{
		To:    r.ReplyChannel,
		Title: "Roadside assistance",
		Body:  body,
		Data:  map[string]any{"requestId": r.ID, "status": string(e.To)},
		Sound: "default",
	}})
	if err != nil {
		return fmt.Errorf("reply push %s: %w", e.RequestID, err)
	}
	if len(tickets) == 1 && tickets[0].Status != models.TicketOK {
		return fmt.Errorf("reply push %s rejected: %s", e.RequestID, tickets[0].Message)
	}
	return nil
}
