package messaging

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/lucasdmc/atendeai-lify-admin-sub001/internal/booking"
	"github.com/lucasdmc/atendeai-lify-admin-sub001/internal/observability/metrics"
	"github.com/lucasdmc/atendeai-lify-admin-sub001/pkg/logging"
)

var webhookTracer = otel.Tracer("atendeai.internal.messaging.webhook")

// secretHeader carries the shared webhook secret from the gateway.
const secretHeader = "X-Gateway-Secret"

type inboundPublisher interface {
	Enqueue(ctx context.Context, msg booking.InboundMessage) error
}

type dedupStore interface {
	AlreadyProcessed(ctx context.Context, messageID string) (bool, error)
	MarkProcessed(ctx context.Context, messageID string) (bool, error)
}

// WebhookPayload is the gateway's inbound message shape.
type WebhookPayload struct {
	MessageID  string    `json:"messageId"`
	From       string    `json:"from"`
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// Handler handles gateway webhook requests.
type Handler struct {
	webhookSecret string
	publisher     inboundPublisher
	dedup         dedupStore
	metrics       *metrics.BookingMetrics
	logger        *logging.Logger
}

// NewHandler creates a webhook handler. dedup may be nil, in which case
// redelivery suppression is disabled.
func NewHandler(webhookSecret string, publisher inboundPublisher, dedup dedupStore, m *metrics.BookingMetrics, logger *logging.Logger) *Handler {
	if publisher == nil {
		panic("messaging: publisher cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		webhookSecret: webhookSecret,
		publisher:     publisher,
		dedup:         dedup,
		metrics:       m,
		logger:        logger,
	}
}

// InboundWebhook handles POST /webhooks/gateway/messages. The handler
// validates, deduplicates, enqueues, and acknowledges; the booking
// workers do the heavy lifting off the request path.
func (h *Handler) InboundWebhook(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	ctx, span := webhookTracer.Start(r.Context(), "messaging.gateway.webhook")
	defer span.End()

	if h.webhookSecret != "" {
		provided := r.Header.Get(secretHeader)
		if subtle.ConstantTimeCompare([]byte(provided), []byte(h.webhookSecret)) != 1 {
			h.logger.Warn("invalid gateway webhook secret")
			span.RecordError(errors.New("invalid webhook secret"))
			h.observe("unauthorized", started)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}

	var payload WebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.logger.Error("failed to parse gateway webhook", "error", err)
		span.RecordError(err)
		h.observe("bad_request", started)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	conversationKey := ConversationKey(payload.From)
	if payload.MessageID == "" || conversationKey == "" || strings.TrimSpace(payload.Text) == "" {
		h.observe("bad_request", started)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	span.SetAttributes(
		attribute.String("atendeai.message_id", payload.MessageID),
		attribute.String("atendeai.conversation_key", conversationKey),
	)

	if h.dedup != nil {
		seen, err := h.dedup.AlreadyProcessed(ctx, payload.MessageID)
		if err != nil {
			// Dedup outage must not drop patient messages; the session
			// engine re-derives the same reply for a replayed fragment.
			h.logger.Warn("dedup check failed, processing anyway", "error", err, "message_id", payload.MessageID)
		} else if seen {
			h.logger.Info("duplicate gateway message ignored", "message_id", payload.MessageID)
			h.observe("duplicate", started)
			w.WriteHeader(http.StatusAccepted)
			return
		}
	}

	receivedAt := payload.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	err := h.publisher.Enqueue(ctx, booking.InboundMessage{
		MessageID:       payload.MessageID,
		ConversationKey: conversationKey,
		Text:            payload.Text,
		ReceivedAt:      receivedAt,
	})
	if err != nil {
		h.logger.Error("failed to enqueue inbound fragment", "error", err, "message_id", payload.MessageID)
		span.RecordError(err)
		h.observe("enqueue_failed", started)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	// Marked only after the fragment is safely queued: an enqueue failure
	// leaves the id unrecorded so the gateway's redelivery is processed,
	// and the small duplicate window this opens is harmless because the
	// engine's merge is idempotent.
	if h.dedup != nil {
		if _, err := h.dedup.MarkProcessed(ctx, payload.MessageID); err != nil {
			h.logger.Warn("failed to record processed message", "error", err, "message_id", payload.MessageID)
		}
	}

	h.observe("accepted", started)
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) observe(status string, started time.Time) {
	h.metrics.ObserveInbound(status)
	h.metrics.ObserveWebhookLatency(status, time.Since(started).Seconds())
}
