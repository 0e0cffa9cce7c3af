// Package facilitator implements the Facilitator Client: a
// best-effort notifier that tells the external x402 facilitator a payment
// has been submitted, plus constant-time verification of the facilitator's
// signed callback. The submission payload shape is grounded on the
// mark3labs/x402-go facilitator client's verification-request JSON, absorbed
// here rather than imported since the wire contract is HTTP+JSON, not a Go
// API.
package facilitator

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/autopay-labs/x402-agent/internal/domain"
	"github.com/autopay-labs/x402-agent/internal/ledger"
	"github.com/autopay-labs/x402-agent/internal/logging"
	"github.com/autopay-labs/x402-agent/internal/resilience"
	"golang.org/x/time/rate"
)

// submitRateLimit bounds outbound facilitator submissions to a steady
// trickle so a burst of confirmed payments cannot hammer an external
// facilitator.
const submitRateLimit = 5 // per second

// SubmissionPayload is the body posted to a facilitator's verification
// endpoint once a payment transaction has been submitted on-chain.
type SubmissionPayload struct {
	PaymentID string `json:"paymentId"`
	RequestID string `json:"requestId"`
	TxHash    string `json:"txHash"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
}

// Client notifies facilitators of submitted payments and verifies their
// signed callbacks.
type Client struct {
	http           *http.Client
	limiter        *rate.Limiter
	breaker        *resilience.CircuitBreaker
	callbackSecret []byte
	ledger         *ledger.Ledger
	log            *logging.Logger
}

// New constructs a facilitator Client. callbackSecret is the shared HMAC key
// used to verify inbound callbacks; an empty secret makes every callback
// verification fail closed.
func New(callbackSecret string, l *ledger.Ledger, log *logging.Logger) *Client {
	if log == nil {
		log = logging.NewDefault("facilitator-client")
	}
	return &Client{
		http:           &http.Client{Timeout: 10 * time.Second},
		limiter:        rate.NewLimiter(rate.Limit(submitRateLimit), submitRateLimit),
		breaker:        resilience.New(resilience.DefaultServiceCBConfig(log)),
		callbackSecret: []byte(callbackSecret),
		ledger:         l,
		log:            log,
	}
}

// Submit best-effort notifies the facilitator at url that a payment has
// been submitted, retrying transient failures under a circuit breaker so a
// down facilitator degrades to fast failure instead of stacking retries.
// Failure is logged and ledgered but never propagated to the caller — an
// already-confirmed payment must never be failed by a facilitator outage.
func (c *Client) Submit(ctx context.Context, url string, p SubmissionPayload) {
	if err := c.limiter.Wait(ctx); err != nil {
		c.recordFailure(ctx, p, "rate limit wait cancelled: "+err.Error())
		return
	}

	body, err := json.Marshal(p)
	if err != nil {
		c.log.WithError(err).Warn("facilitator payload marshal failed")
		return
	}

	err = c.breaker.Execute(ctx, func() error {
		return resilience.Retry(ctx, resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2.0,
			Jitter:       0.2,
		}, func() error {
			return c.attemptSubmit(ctx, url, body)
		})
	})
	if err != nil {
		c.recordFailure(ctx, p, err.Error())
		return
	}

	c.log.WithFields(map[string]interface{}{"paymentId": p.PaymentID, "txHash": p.TxHash}).Info("facilitator submission accepted")
	if c.ledger != nil {
		_, _ = c.ledger.Append(ctx, domain.CategoryPayment, "facilitator-submitted",
			ledger.WithPaymentID(p.PaymentID), ledger.WithRequestID(p.RequestID), ledger.WithTxHash(p.TxHash))
	}
}

// attemptSubmit performs one POST of an already-marshaled payload.
func (c *Client) attemptSubmit(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("facilitator responded %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) recordFailure(ctx context.Context, p SubmissionPayload, reason string) {
	c.log.WithFields(map[string]interface{}{"paymentId": p.PaymentID, "reason": reason}).Warn("facilitator submission failed")
	if c.ledger != nil {
		_, _ = c.ledger.Append(ctx, domain.CategoryPayment, "facilitator-submit-failed",
			ledger.WithPaymentID(p.PaymentID), ledger.WithRequestID(p.RequestID),
			ledger.WithMetadata(map[string]any{"reason": reason}))
	}
}

// VerifyCallback reports whether signatureHex is a valid HMAC-SHA-256 over
// body under the configured callback secret, using a constant-time
// comparison. A missing secret always verifies false.
func (c *Client) VerifyCallback(signatureHex string, body []byte) bool {
	if len(c.callbackSecret) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, c.callbackSecret)
	mac.Write(body)
	expected := mac.Sum(nil)

	got, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, got)
}
