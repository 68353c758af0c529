package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"dreammotion/internal/inference"
	"dreammotion/internal/model"
	"dreammotion/internal/pricing"
	"dreammotion/internal/service"
)

type Handler struct {
	engine service.Engine
	auth   *Auth
}

func NewHandler(engine service.Engine, auth *Auth) *Handler {
	return &Handler{engine: engine, auth: auth}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)

	mux.Handle("POST /v1/generations", h.auth.Require(http.HandlerFunc(h.SubmitGeneration)))
	mux.Handle("GET /v1/generations/{id}", h.auth.Require(http.HandlerFunc(h.GenerationStatus)))
	mux.Handle("GET /v1/balance", h.auth.Require(http.HandlerFunc(h.Balance)))
	mux.Handle("POST /v1/credits/adjust", h.auth.RequireAdmin(http.HandlerFunc(h.AdjustCredits)))

	// Webhook receivers are unauthenticated callbacks from external systems;
	// their safety comes from the idempotency guards underneath.
	mux.HandleFunc("POST /webhooks/inference", h.InferenceWebhook)
	mux.HandleFunc("POST /webhooks/storefront", h.StorefrontWebhook)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) SubmitGeneration(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind        string         `json:"kind"`
		Model       string         `json:"model"`
		DurationSec int            `json:"duration_seconds"`
		Input       map[string]any `json:"input"`
		Sync        bool           `json:"sync"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Model == "" {
		respondError(w, http.StatusBadRequest, "model is required")
		return
	}
	kind := model.GenerationKind(req.Kind)
	if kind != model.KindImage && kind != model.KindVideo {
		respondError(w, http.StatusBadRequest, "kind must be image or video")
		return
	}

	claims := ClaimsFromContext(r.Context())
	res, err := h.engine.Submit(r.Context(), model.GenerationRequest{
		UserID:      claims.Subject,
		Email:       claims.Email,
		Kind:        kind,
		Model:       req.Model,
		DurationSec: req.DurationSec,
		Input:       req.Input,
		Sync:        req.Sync,
	})
	if err != nil {
		h.respondEngineError(w, err)
		return
	}

	status := http.StatusAccepted
	if res.Status.Terminal() {
		status = http.StatusOK
	}
	respondJSON(w, status, res)
}

func (h *Handler) GenerationStatus(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	job, err := h.engine.JobStatus(r.Context(), r.PathValue("id"), claims.Subject)
	if err != nil {
		h.respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	balance, err := h.engine.Balance(r.Context(), claims.Subject)
	if err != nil {
		h.respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"balance": balance})
}

func (h *Handler) AdjustCredits(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
		Amount int64  `json:"amount"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.UserID == "" || req.Amount == 0 {
		respondError(w, http.StatusBadRequest, "user_id and a non-zero amount are required")
		return
	}
	if err := h.engine.AdjustCredits(r.Context(), req.UserID, req.Amount, req.Reason); err != nil {
		h.respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}

// InferenceWebhook receives provider status callbacks. Responding non-2xx
// makes the provider redeliver, so everything after basic validation is
// treated as at-least-once input.
func (h *Handler) InferenceWebhook(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ID     string          `json:"id"`
		Status string          `json:"status"`
		Output json.RawMessage `json:"output"`
		Error  string          `json:"error"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if payload.ID == "" {
		respondError(w, http.StatusBadRequest, "id is required")
		return
	}

	upd := model.JobUpdate{JobID: payload.ID, Error: payload.Error, Output: string(payload.Output)}
	switch payload.Status {
	case inference.StatusStarting, inference.StatusProcessing:
		upd.Status = model.StatusProcessing
	case inference.StatusSucceeded:
		upd.Status = model.StatusSucceeded
	case inference.StatusFailed, inference.StatusCanceled:
		upd.Status = model.StatusFailed
	default:
		slog.Warn("inference webhook with unknown status", "job_id", payload.ID, "status", payload.Status)
		respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	if err := h.engine.CompleteJob(r.Context(), upd); err != nil {
		h.respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}

func (h *Handler) StorefrontWebhook(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		TransactionID string `json:"transaction_id"`
		ProductCode   string `json:"product_code"`
		Email         string `json:"email"`
		Price         string `json:"price"`
		Currency      string `json:"currency"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if payload.TransactionID == "" || payload.ProductCode == "" || payload.Email == "" {
		respondError(w, http.StatusBadRequest, "transaction_id, product_code and email are required")
		return
	}

	price := decimal.Zero
	if payload.Price != "" {
		parsed, err := decimal.NewFromString(payload.Price)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid price")
			return
		}
		price = parsed
	}

	applied, err := h.engine.ApplyPurchase(r.Context(), model.Sale{
		TransactionID: payload.TransactionID,
		ProductCode:   payload.ProductCode,
		Email:         payload.Email,
		Price:         price,
		Currency:      payload.Currency,
	})
	if err != nil {
		h.respondEngineError(w, err)
		return
	}

	status := "processed"
	if !applied {
		status = "duplicate"
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (h *Handler) respondEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrInsufficientCredits):
		respondError(w, http.StatusPaymentRequired, "insufficient credits")
	case errors.Is(err, model.ErrAlreadyProcessed):
		respondError(w, http.StatusConflict, "request already processed")
	case errors.Is(err, model.ErrJobNotFound), errors.Is(err, model.ErrAccountNotFound):
		respondError(w, http.StatusNotFound, "not found")
	case errors.Is(err, model.ErrUnknownProduct),
		errors.Is(err, pricing.ErrUnknownKind),
		errors.Is(err, pricing.ErrInvalidDuration),
		errors.Is(err, pricing.ErrNonPositiveDuration):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, model.ErrGenerationFailed):
		respondError(w, http.StatusBadGateway, "generation failed, credits refunded")
	default:
		slog.Error("request failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
