// Package sendclient is the strategy's send client: an HTTP client to
// the external send API wrapped in an in-client retry with exponential
// backoff and a circuit breaker.
package sendclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/daybreak-hq/daybreak/internal/backoff"
	"github.com/sony/gobreaker"
	"resty.dev/v3"
)

// Config tunes the HTTP transport and circuit breaker.
type Config struct {
	BaseURL        string
	SendTimeout    time.Duration // per-attempt timeout, default 10s
	ErrorThreshold float64       // fraction of errors that opens the breaker, default 0.5
	ResetTimeout   time.Duration // breaker open->half-open duration, default 30s
	MinSamples     uint32        // min requests in the rolling window before ReadyToTrip considers it, default 10
	RetryBackoff   backoff.Backoff
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.SendTimeout == 0 {
		out.SendTimeout = 10 * time.Second
	}
	if out.ErrorThreshold == 0 {
		out.ErrorThreshold = 0.5
	}
	if out.ResetTimeout == 0 {
		out.ResetTimeout = 30 * time.Second
	}
	if out.MinSamples == 0 {
		out.MinSamples = 10
	}
	if out.RetryBackoff == nil {
		out.RetryBackoff = backoff.DefaultSendClientBackoff()
	}
	return out
}

// Result is the successful outcome of Send.
type Result struct {
	ProviderMessageID string
}

type sendRequestBody struct {
	Email   string `json:"email"`
	Message string `json:"message"`
}

type sendResponseBody struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId"`
}

// Client is one strategy's send client: one breaker, one HTTP client.
type Client struct {
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker
	retry   backoff.Backoff
}

// NewClient builds a Client for a named event type. name becomes the
// breaker's identity, surfaced in OnStateChange for the audit log.
func NewClient(name string, cfg Config, onStateChange func(name string, from, to gobreaker.State)) *Client {
	cfg = cfg.withDefaults()

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.SendTimeout)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     name,
		Interval: 10 * time.Second, // closed-state window after which counts reset
		Timeout:  cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinSamples {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.ErrorThreshold
		},
		OnStateChange: onStateChange,
	})

	return &Client{http: httpClient, breaker: breaker, retry: cfg.RetryBackoff}
}

// Send invokes the external send API, retrying transient failures
// in-client before surfacing an error for the broker-level retry to take
// over.
func (c *Client) Send(ctx context.Context, recipientEmail, renderedBody string) (*Result, error) {
	const maxAttempts = 3

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retry.Duration(attempt - 1)):
			}
		}

		result, err := c.attempt(ctx, recipientEmail, renderedBody)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if sendErr, ok := err.(*Error); ok && sendErr.Class == ClassPermanent {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, recipientEmail, renderedBody string) (*Result, error) {
	raw, err := c.breaker.Execute(func() (any, error) {
		var respBody sendResponseBody
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(sendRequestBody{Email: recipientEmail, Message: renderedBody}).
			SetResult(&respBody).
			Post("/send")
		if err != nil {
			return nil, transientError(0, "", fmt.Errorf("sendclient: request failed: %w", err))
		}

		statusCode := resp.StatusCode()
		if statusCode >= http.StatusBadRequest {
			class := classifyStatusCode(statusCode)
			body := resp.String()
			if class == ClassPermanent {
				return nil, permanentError(statusCode, body, fmt.Errorf("sendclient: permanent error, status %d", statusCode))
			}
			return nil, transientError(statusCode, body, fmt.Errorf("sendclient: transient error, status %d", statusCode))
		}
		if !respBody.Success {
			return nil, transientError(statusCode, resp.String(), fmt.Errorf("sendclient: provider reported failure"))
		}

		return &Result{ProviderMessageID: respBody.MessageID}, nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, transientError(0, "", ErrCircuitOpen)
		}
		return nil, err
	}
	return raw.(*Result), nil
}
