package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dreammotion/internal/model"
)

type mockEngine struct {
	submitReq    *model.GenerationRequest
	submitRes    *model.GenerationResult
	submitErr    error
	job          *model.GenerationJob
	jobErr       error
	balance      int64
	completed    []model.JobUpdate
	sale         *model.Sale
	saleApplied  bool
	saleErr      error
	adjustUser   string
	adjustAmount int64
}

func (m *mockEngine) Submit(_ context.Context, req model.GenerationRequest) (*model.GenerationResult, error) {
	m.submitReq = &req
	return m.submitRes, m.submitErr
}

func (m *mockEngine) JobStatus(_ context.Context, jobID, userID string) (*model.GenerationJob, error) {
	return m.job, m.jobErr
}

func (m *mockEngine) Balance(_ context.Context, _ string) (int64, error) {
	return m.balance, nil
}

func (m *mockEngine) CompleteJob(_ context.Context, upd model.JobUpdate) error {
	m.completed = append(m.completed, upd)
	return nil
}

func (m *mockEngine) ApplyPurchase(_ context.Context, sale model.Sale) (bool, error) {
	m.sale = &sale
	return m.saleApplied, m.saleErr
}

func (m *mockEngine) AdjustCredits(_ context.Context, userID string, amount int64, _ string) error {
	m.adjustUser = userID
	m.adjustAmount = amount
	return nil
}

func (m *mockEngine) ReapStale(_ context.Context, _ time.Duration) (int, error) {
	return 0, nil
}

func newTestMux(engine *mockEngine, auth *Auth) *http.ServeMux {
	mux := http.NewServeMux()
	NewHandler(engine, auth).Register(mux)
	return mux
}

func bearer(t *testing.T, auth *Auth, userID, role string) string {
	t.Helper()
	token, err := auth.IssueToken(userID, userID+"@example.com", role, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func TestSubmitGeneration_RequiresAuth(t *testing.T) {
	auth := NewAuth("test-secret")
	mux := newTestMux(&mockEngine{}, auth)

	req := httptest.NewRequest("POST", "/v1/generations", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubmitGeneration_Async(t *testing.T) {
	auth := NewAuth("test-secret")
	engine := &mockEngine{
		submitRes: &model.GenerationResult{JobID: "pred-1", Status: model.StatusCreated, NewBalance: 6},
	}
	mux := newTestMux(engine, auth)

	body := `{"kind": "video", "model": "kling-v1.6", "duration_seconds": 5, "input": {"prompt": "a fox"}}`
	req := httptest.NewRequest("POST", "/v1/generations", strings.NewReader(body))
	req.Header.Set("Authorization", bearer(t, auth, "user-1", ""))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.NotNil(t, engine.submitReq)
	assert.Equal(t, "user-1", engine.submitReq.UserID)
	assert.Equal(t, model.KindVideo, engine.submitReq.Kind)
	assert.Equal(t, 5, engine.submitReq.DurationSec)

	var res model.GenerationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "pred-1", res.JobID)
	assert.Equal(t, int64(6), res.NewBalance)
}

func TestSubmitGeneration_InsufficientCredits(t *testing.T) {
	auth := NewAuth("test-secret")
	engine := &mockEngine{submitErr: model.ErrInsufficientCredits}
	mux := newTestMux(engine, auth)

	body := `{"kind": "image", "model": "flux-pro"}`
	req := httptest.NewRequest("POST", "/v1/generations", strings.NewReader(body))
	req.Header.Set("Authorization", bearer(t, auth, "user-1", ""))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
}

func TestSubmitGeneration_RejectsBadKind(t *testing.T) {
	auth := NewAuth("test-secret")
	mux := newTestMux(&mockEngine{}, auth)

	req := httptest.NewRequest("POST", "/v1/generations", strings.NewReader(`{"kind": "audio", "model": "m"}`))
	req.Header.Set("Authorization", bearer(t, auth, "user-1", ""))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerationStatus(t *testing.T) {
	auth := NewAuth("test-secret")
	engine := &mockEngine{
		job: &model.GenerationJob{JobID: "pred-1", UserID: "user-1", Status: model.StatusProcessing},
	}
	mux := newTestMux(engine, auth)

	req := httptest.NewRequest("GET", "/v1/generations/pred-1", nil)
	req.Header.Set("Authorization", bearer(t, auth, "user-1", ""))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var job model.GenerationJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, model.StatusProcessing, job.Status)
}

func TestBalance(t *testing.T) {
	auth := NewAuth("test-secret")
	mux := newTestMux(&mockEngine{balance: 42}, auth)

	req := httptest.NewRequest("GET", "/v1/balance", nil)
	req.Header.Set("Authorization", bearer(t, auth, "user-1", ""))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"balance": 42}`, rec.Body.String())
}

func TestAdjustCredits_RequiresAdmin(t *testing.T) {
	auth := NewAuth("test-secret")
	engine := &mockEngine{}
	mux := newTestMux(engine, auth)

	body := `{"user_id": "user-2", "amount": -10, "reason": "abuse"}`

	req := httptest.NewRequest("POST", "/v1/credits/adjust", strings.NewReader(body))
	req.Header.Set("Authorization", bearer(t, auth, "user-1", ""))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest("POST", "/v1/credits/adjust", strings.NewReader(body))
	req.Header.Set("Authorization", bearer(t, auth, "ops-1", RoleAdmin))
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-2", engine.adjustUser)
	assert.Equal(t, int64(-10), engine.adjustAmount)
}

func TestInferenceWebhook(t *testing.T) {
	auth := NewAuth("test-secret")
	engine := &mockEngine{}
	mux := newTestMux(engine, auth)

	body := `{"id": "pred-1", "status": "failed", "error": "oom"}`
	req := httptest.NewRequest("POST", "/webhooks/inference", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, engine.completed, 1)
	assert.Equal(t, model.StatusFailed, engine.completed[0].Status)
	assert.Equal(t, "oom", engine.completed[0].Error)
}

func TestInferenceWebhook_MapsProviderStatuses(t *testing.T) {
	auth := NewAuth("test-secret")
	engine := &mockEngine{}
	mux := newTestMux(engine, auth)

	for payloadStatus, want := range map[string]model.GenerationStatus{
		"starting":  model.StatusProcessing,
		"succeeded": model.StatusSucceeded,
		"canceled":  model.StatusFailed,
	} {
		body := `{"id": "pred-1", "status": "` + payloadStatus + `"}`
		req := httptest.NewRequest("POST", "/webhooks/inference", strings.NewReader(body))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotEmpty(t, engine.completed)
		assert.Equal(t, want, engine.completed[len(engine.completed)-1].Status)
	}
}

func TestInferenceWebhook_MissingID(t *testing.T) {
	auth := NewAuth("test-secret")
	mux := newTestMux(&mockEngine{}, auth)

	req := httptest.NewRequest("POST", "/webhooks/inference", strings.NewReader(`{"status": "failed"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStorefrontWebhook(t *testing.T) {
	auth := NewAuth("test-secret")
	engine := &mockEngine{saleApplied: true}
	mux := newTestMux(engine, auth)

	body := `{"transaction_id": "txn-900", "product_code": "DM-CREATOR", "email": "buyer@example.com", "price": "19.00", "currency": "USD"}`
	req := httptest.NewRequest("POST", "/webhooks/storefront", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "processed"}`, rec.Body.String())
	require.NotNil(t, engine.sale)
	assert.Equal(t, "txn-900", engine.sale.TransactionID)
	assert.Equal(t, "19", engine.sale.Price.String())
}

func TestStorefrontWebhook_Duplicate(t *testing.T) {
	auth := NewAuth("test-secret")
	engine := &mockEngine{saleApplied: false}
	mux := newTestMux(engine, auth)

	body := `{"transaction_id": "txn-900", "product_code": "DM-CREATOR", "email": "buyer@example.com"}`
	req := httptest.NewRequest("POST", "/webhooks/storefront", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "duplicate"}`, rec.Body.String())
}

func TestStorefrontWebhook_UnknownProduct(t *testing.T) {
	auth := NewAuth("test-secret")
	engine := &mockEngine{saleErr: model.ErrUnknownProduct}
	mux := newTestMux(engine, auth)

	body := `{"transaction_id": "txn-1", "product_code": "NOPE", "email": "buyer@example.com"}`
	req := httptest.NewRequest("POST", "/webhooks/storefront", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
