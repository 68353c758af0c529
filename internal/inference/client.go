// Package inference is the HTTP client for the external prediction API that
// runs the actual image and video synthesis.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Provider-side prediction statuses.
const (
	StatusStarting   = "starting"
	StatusProcessing = "processing"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
)

// DefaultWaitCeiling bounds how long Wait polls before giving up on a job.
const DefaultWaitCeiling = 15 * time.Minute

var errNotTerminal = errors.New("prediction not terminal yet")

type Client struct {
	baseURL      string
	token        string
	hc           *http.Client
	pollInterval time.Duration
	waitCeiling  time.Duration
}

// NewClient builds a provider client. A nil httpClient gets a sane default;
// tests inject their own so httpmock can intercept it.
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		token:        token,
		hc:           httpClient,
		pollInterval: time.Second,
		waitCeiling:  DefaultWaitCeiling,
	}
}

type CreateRequest struct {
	Model string         `json:"model"`
	Input map[string]any `json:"input"`
	// WebhookURL, when set, is called by the provider on status changes.
	WebhookURL string `json:"webhook,omitempty"`
}

type Prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func (p *Prediction) Terminal() bool {
	switch p.Status {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

type apiError struct {
	Detail string `json:"detail"`
}

// CreatePrediction submits a job and returns the provider's acknowledgement,
// including the opaque job id that keys everything downstream.
func (c *Client) CreatePrediction(ctx context.Context, req CreateRequest) (*Prediction, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal prediction request: %w", err)
	}
	return c.do(ctx, http.MethodPost, "/v1/predictions", bytes.NewReader(body))
}

func (c *Client) GetPrediction(ctx context.Context, id string) (*Prediction, error) {
	return c.do(ctx, http.MethodGet, "/v1/predictions/"+id, nil)
}

// Wait polls the prediction until it reaches a terminal state, backing off
// exponentially up to a capped interval and giving up after the ceiling.
// A failed prediction is returned with a nil error; the caller owns the
// refund decision.
func (c *Client) Wait(ctx context.Context, id string) (*Prediction, error) {
	var pred *Prediction

	operation := func() error {
		p, err := c.GetPrediction(ctx, id)
		if err != nil {
			return err
		}
		if !p.Terminal() {
			return errNotTerminal
		}
		pred = p
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.pollInterval
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = c.waitCeiling

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("waiting for prediction %s: %w", id, err)
	}
	return pred, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*Prediction, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call provider: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr apiError
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Detail == "" {
			apiErr.Detail = resp.Status
		}
		return nil, fmt.Errorf("provider returned %d: %s", resp.StatusCode, apiErr.Detail)
	}

	var pred Prediction
	if err := json.NewDecoder(resp.Body).Decode(&pred); err != nil {
		return nil, fmt.Errorf("decode prediction: %w", err)
	}
	return &pred, nil
}
