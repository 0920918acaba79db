package messaging

import (
	"context"
	"errors"
	"strings"

	"github.com/lucasdmc/atendeai-lify-admin-sub001/internal/booking"
	"github.com/lucasdmc/atendeai-lify-admin-sub001/internal/observability/metrics"
	"github.com/lucasdmc/atendeai-lify-admin-sub001/pkg/logging"
)

// TextSender abstracts the outbound gateway API.
type TextSender interface {
	SendText(ctx context.Context, to, text string) error
}

// BookingNotifier turns engine replies into gateway deliveries.
type BookingNotifier struct {
	sender  TextSender
	metrics *metrics.BookingMetrics
	logger  *logging.Logger
}

// NewBookingNotifier creates the notifier.
func NewBookingNotifier(sender TextSender, m *metrics.BookingMetrics, logger *logging.Logger) *BookingNotifier {
	if sender == nil {
		panic("messaging: sender cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &BookingNotifier{sender: sender, metrics: m, logger: logger}
}

var _ booking.Deliverer = (*BookingNotifier)(nil)

// Deliver sends the reply to the patient behind the conversation key.
func (n *BookingNotifier) Deliver(ctx context.Context, result *booking.OutboundResult) error {
	if result == nil {
		return errors.New("messaging: result cannot be nil")
	}
	to := recipientFromKey(result.ConversationKey)
	if to == "" {
		n.metrics.ObserveOutbound("invalid_recipient")
		return errors.New("messaging: conversation key has no phone")
	}

	if err := n.sender.SendText(ctx, to, result.Text); err != nil {
		n.metrics.ObserveOutbound("failed")
		return err
	}
	n.metrics.ObserveOutbound("delivered")
	n.logger.Debug("booking reply delivered", "to", to, "kind", string(result.Kind))
	return nil
}

// recipientFromKey inverts ConversationKey back to an E.164 number.
func recipientFromKey(conversationKey string) string {
	digits, ok := strings.CutPrefix(conversationKey, "wa:")
	if !ok || digits == "" {
		return ""
	}
	return "+" + digits
}
