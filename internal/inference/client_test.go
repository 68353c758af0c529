package inference

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient() *Client {
	hc := &http.Client{}
	httpmock.ActivateNonDefault(hc)
	c := NewClient("https://inference.example.com", "test-token", hc)
	c.pollInterval = 2 * time.Millisecond
	c.waitCeiling = 2 * time.Second
	return c
}

func TestCreatePrediction(t *testing.T) {
	c := newTestClient()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "https://inference.example.com/v1/predictions",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "Bearer test-token", req.Header.Get("Authorization"))
			return httpmock.NewStringResponse(201, `{"id": "pred-123", "status": "starting"}`), nil
		})

	pred, err := c.CreatePrediction(context.Background(), CreateRequest{
		Model: "kling-v1.6",
		Input: map[string]any{"prompt": "a fox at dawn", "duration": 5},
	})
	require.NoError(t, err)
	assert.Equal(t, "pred-123", pred.ID)
	assert.Equal(t, StatusStarting, pred.Status)
	assert.False(t, pred.Terminal())
}

func TestCreatePrediction_ProviderError(t *testing.T) {
	c := newTestClient()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "https://inference.example.com/v1/predictions",
		httpmock.NewStringResponder(422, `{"detail": "model not found"}`))

	_, err := c.CreatePrediction(context.Background(), CreateRequest{Model: "nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not found")
}

func TestWait_PollsUntilTerminal(t *testing.T) {
	c := newTestClient()
	defer httpmock.DeactivateAndReset()

	calls := 0
	httpmock.RegisterResponder("GET", "https://inference.example.com/v1/predictions/pred-123",
		func(req *http.Request) (*http.Response, error) {
			calls++
			if calls < 3 {
				return httpmock.NewStringResponse(200, `{"id": "pred-123", "status": "processing"}`), nil
			}
			return httpmock.NewStringResponse(200, `{"id": "pred-123", "status": "succeeded", "output": ["https://cdn.example.com/out.mp4"]}`), nil
		})

	pred, err := c.Wait(context.Background(), "pred-123")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, pred.Status)
	assert.GreaterOrEqual(t, calls, 3)
}

func TestWait_ReturnsFailedPrediction(t *testing.T) {
	c := newTestClient()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "https://inference.example.com/v1/predictions/pred-bad",
		httpmock.NewStringResponder(200, `{"id": "pred-bad", "status": "failed", "error": "NSFW content detected"}`))

	pred, err := c.Wait(context.Background(), "pred-bad")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, pred.Status)
	assert.Equal(t, "NSFW content detected", pred.Error)
}

func TestWait_GivesUpAtCeiling(t *testing.T) {
	c := newTestClient()
	defer httpmock.DeactivateAndReset()
	c.waitCeiling = 50 * time.Millisecond

	httpmock.RegisterResponder("GET", "https://inference.example.com/v1/predictions/pred-slow",
		httpmock.NewStringResponder(200, `{"id": "pred-slow", "status": "processing"}`))

	_, err := c.Wait(context.Background(), "pred-slow")
	require.Error(t, err)
}

func TestWait_ContextCancel(t *testing.T) {
	c := newTestClient()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "https://inference.example.com/v1/predictions/pred-x",
		httpmock.NewStringResponder(200, `{"id": "pred-x", "status": "processing"}`))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := c.Wait(ctx, "pred-x")
	require.Error(t, err)
}
