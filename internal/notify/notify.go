// Package notify delivers ledger integrity alerts to configured webhook
// endpoints. Each delivery is signed with HMAC-SHA256 so receivers can
// authenticate it.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/ComplianceLedger/internal/chain"
	"go.uber.org/zap"
)

// SignatureHeader carries the "sha256=<hex>" HMAC of the request body.
const SignatureHeader = "X-Ledger-Signature"

// EventLedgerCompromised is sent when an audit finds the chain invalid.
const EventLedgerCompromised = "ledger.compromised"

// Event is the JSON body posted to every webhook.
type Event struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
	Reason       string    `json:"reason"`
	FailureIndex *int      `json:"failure_index,omitempty"`
	Length       int       `json:"length"`
}

// MetricsRecorder is an optional callback for recording delivery outcomes.
type MetricsRecorder func(success bool)

// Config lists the webhook endpoints and the shared signing secret.
type Config struct {
	URLs   []string
	Secret string

	// Retries are the waits before each re-attempt; the first attempt is
	// immediate. Defaults to 1s, 5s, 25s.
	Retries []time.Duration
}

// Notifier posts alerts to webhooks with retries.
type Notifier struct {
	cfg        Config
	httpClient *http.Client
	onMetrics  MetricsRecorder
	logger     *zap.Logger
	wg         sync.WaitGroup
}

// New creates a new Notifier.
func New(cfg Config, logger *zap.Logger) *Notifier {
	if cfg.Retries == nil {
		cfg.Retries = []time.Duration{1 * time.Second, 5 * time.Second, 25 * time.Second}
	}
	return &Notifier{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// SetMetricsRecorder configures the metrics callback.
func (n *Notifier) SetMetricsRecorder(fn MetricsRecorder) {
	n.onMetrics = fn
}

// LedgerCompromised fans an alert for res out to every configured URL.
// Deliveries run in the background; use Wait to block until they finish.
// It satisfies audit.AlertFunc.
func (n *Notifier) LedgerCompromised(ctx context.Context, res chain.Result) {
	event := Event{
		ID:           uuid.NewString(),
		Type:         EventLedgerCompromised,
		Timestamp:    time.Now().UTC(),
		Reason:       string(res.Reason),
		FailureIndex: res.FailureIndex,
		Length:       res.Length,
	}
	body, err := json.Marshal(event)
	if err != nil {
		n.logger.Error("notify: marshal event", zap.Error(err))
		return
	}
	signature := Sign(body, n.cfg.Secret)

	// Deliveries outlive the audit that triggered them.
	ctx = context.WithoutCancel(ctx)
	for _, url := range n.cfg.URLs {
		n.wg.Add(1)
		go func(url string) {
			defer n.wg.Done()
			n.deliver(ctx, url, body, signature)
		}(url)
	}
}

// Wait blocks until in-flight deliveries complete.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

// WaitContext is Wait bounded by ctx. It returns ctx.Err() if deliveries
// are still running when ctx ends; they are not cancelled.
func (n *Notifier) WaitContext(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// deliver posts body to url, retrying on failure.
func (n *Notifier) deliver(ctx context.Context, url string, body []byte, signature string) {
	attempts := len(n.cfg.Retries) + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			time.Sleep(n.cfg.Retries[attempt-2])
		}

		statusCode, err := n.post(ctx, url, body, signature)
		success := err == nil
		if n.onMetrics != nil {
			n.onMetrics(success)
		}
		if success {
			return
		}

		n.logger.Warn("notify: delivery failed",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Int("status", statusCode),
			zap.Error(err),
		)
	}
}

// post performs a single HTTP POST delivery.
func (n *Notifier) post(ctx context.Context, url string, body []byte, signature string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, signature)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// Sign computes the "sha256=<hex>" HMAC signature of body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
