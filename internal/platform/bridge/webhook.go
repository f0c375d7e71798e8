package bridge

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

// Webhook delivery headers.
const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderTimestamp = "X-Webhook-Timestamp"
	HeaderDelivery  = "X-Webhook-ID"
)

// SignPayload returns the hex HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches payload under secret.
func VerifySignature(payload []byte, secret, signature string) bool {
	return hmac.Equal([]byte(SignPayload(payload, secret)), []byte(signature))
}

// WebhookSink POSTs board snapshots to an HTTP endpoint. When a secret is
// configured every delivery carries a "sha256=" signature header.
type WebhookSink struct {
	http   *resty.Client
	url    string
	secret string
}

func NewWebhookSink(url, secret string) *WebhookSink {
	client := resty.New().
		SetTimeout(connectTimeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(time.Second)
	return &WebhookSink{http: client, url: url, secret: secret}
}

func (s *WebhookSink) Name() string { return "webhook" }

func (s *WebhookSink) Publish(ctx context.Context, payload []byte) error {
	req := s.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader(HeaderDelivery, uuid.New().String()).
		SetHeader(HeaderTimestamp, time.Now().UTC().Format(time.RFC3339)).
		SetBody(payload)
	if s.secret != "" {
		req.SetHeader(HeaderSignature, "sha256="+SignPayload(payload, s.secret))
	}
	resp, err := req.Post(s.url)
	if err != nil {
		return fmt.Errorf("deliver webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("deliver webhook: non-2xx response: %d", resp.StatusCode())
	}
	return nil
}

func (s *WebhookSink) Close() error { return nil }
