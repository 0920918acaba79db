package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type queueClient interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

type queueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// InboundMessage is one webhook-delivered patient fragment routed
// through the queue.
type InboundMessage struct {
	MessageID       string    `json:"message_id"`
	ConversationKey string    `json:"conversation_key"`
	Text            string    `json:"text"`
	ReceivedAt      time.Time `json:"received_at"`
}

type queuePayload struct {
	ID      string         `json:"id"`
	Inbound InboundMessage `json:"inbound"`
}

func encodePayload(payload queuePayload) (queuePayload, string, error) {
	if payload.ID == "" {
		payload.ID = uuid.NewString()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return queuePayload{}, "", fmt.Errorf("booking: failed to encode payload: %w", err)
	}

	return payload, string(body), nil
}
