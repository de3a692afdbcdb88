package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"beacon/internal/config"
	"beacon/internal/logger"
	"beacon/pkg/circuitbreaker"
	"beacon/pkg/retry"
)

// PushSender delivers a browser push message to one user.
type PushSender interface {
	Send(ctx context.Context, userID int64, msg PushMessage) error
}

// GatewayPushSender POSTs to an external push gateway which holds the
// per-user subscription state. The gateway is a black box here.
type GatewayPushSender struct {
	gatewayURL string
	client     *http.Client
	breaker    *circuitbreaker.Wrapper
	logger     logger.Logger
}

func NewPushSender(cfg config.PushConfig, log logger.Logger) *GatewayPushSender {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &GatewayPushSender{
		gatewayURL: cfg.GatewayURL,
		client:     &http.Client{Timeout: timeout},
		breaker:    circuitbreaker.NewWrapper(circuitbreaker.DefaultConfig("push-gateway")),
		logger:     log,
	}
}

func (s *GatewayPushSender) Send(ctx context.Context, userID int64, msg PushMessage) error {
	if s.gatewayURL == "" {
		return fmt.Errorf("push gateway not configured")
	}

	return retry.Retry(ctx, retry.DeliveryPolicy(), func() error {
		_, err := s.breaker.ExecuteWithContext(ctx, func() (interface{}, error) {
			return nil, s.post(ctx, userID, msg)
		})
		return err
	})
}

func (s *GatewayPushSender) post(ctx context.Context, userID int64, msg PushMessage) error {
	body, err := json.Marshal(map[string]interface{}{
		"user_id": userID,
		"message": msg,
	})
	if err != nil {
		return retry.NewFatalError(fmt.Errorf("failed to marshal push payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.gatewayURL, bytes.NewReader(body))
	if err != nil {
		return retry.NewFatalError(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Target-User", strconv.FormatInt(userID, 10))

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("push gateway request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("push gateway returned %d", resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		// Client errors will not heal on retry.
		return retry.NewFatalError(fmt.Errorf("push gateway rejected request with %d", resp.StatusCode))
	}

	return nil
}
