package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/lucasdmc/atendeai-lify-admin-sub001/pkg/logging"
)

var gatewaySendTracer = otel.Tracer("atendeai.internal.messaging.gateway")

// GatewaySender posts outbound WhatsApp messages through the gateway's
// REST API.
type GatewaySender struct {
	baseURL    string
	apiKey     string
	from       string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewGatewaySender builds a sender with sane defaults.
func NewGatewaySender(baseURL, apiKey, senderNumber string, logger *logging.Logger) *GatewaySender {
	if logger == nil {
		logger = logging.Default()
	}
	return &GatewaySender{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		from:    senderNumber,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

type gatewaySendRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
	Text string `json:"text"`
}

type gatewaySendResponse struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

type gatewayAPIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// SendText dispatches one message, retrying transient failures.
func (s *GatewaySender) SendText(ctx context.Context, to, text string) error {
	if s.baseURL == "" || s.apiKey == "" {
		return errors.New("messaging: gateway credentials missing")
	}
	if to == "" {
		return errors.New("messaging: to required")
	}
	if strings.TrimSpace(text) == "" {
		return errors.New("messaging: text required")
	}

	ctx, span := gatewaySendTracer.Start(ctx, "messaging.gateway.send")
	defer span.End()
	span.SetAttributes(attribute.String("atendeai.to", to))

	payload, err := json.Marshal(gatewaySendRequest{
		From: s.from,
		To:   to,
		Text: text,
	})
	if err != nil {
		return fmt.Errorf("messaging: encode send request: %w", err)
	}

	endpoint := s.baseURL + "/v1/messages"

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			lastErr = err
			break
		}
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				var parsed gatewaySendResponse
				if err := json.Unmarshal(body, &parsed); err == nil && parsed.MessageID != "" {
					s.logger.Info("gateway message sent", "to", to, "message_id", parsed.MessageID)
				} else {
					s.logger.Info("gateway message sent", "to", to)
				}
				return nil
			}
			lastErr = fmt.Errorf("gateway send failed: %s", formatGatewayError(resp.StatusCode, body))
			// Don't retry non-rate-limit 4xx errors.
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != 429 {
				break
			}
		}

		if attempt < 3 {
			sleep := time.Duration(200+rand.Intn(300)) * time.Millisecond
			time.Sleep(sleep)
		}
	}

	if lastErr != nil {
		span.RecordError(lastErr)
	}
	return lastErr
}

func formatGatewayError(status int, body []byte) string {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return fmt.Sprintf("status %d", status)
	}
	var parsed gatewayAPIError
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		if parsed.Code != 0 {
			return fmt.Sprintf("status %d code %d: %s", status, parsed.Code, parsed.Message)
		}
		return fmt.Sprintf("status %d: %s", status, parsed.Message)
	}
	return fmt.Sprintf("status %d: %s", status, string(body))
}
