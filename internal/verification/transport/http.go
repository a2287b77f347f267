// Package transport provides HTTP handlers for the verification domain.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pendergraft/contraverify/internal/verification/domain"
	"github.com/pendergraft/contraverify/internal/verification/engine"
)

// Service defines the verification service interface for HTTP transport.
type Service interface {
	Verify(ctx context.Context, req domain.VerifyRequest) (*domain.VerifyResult, error)
	Get(ctx context.Context, chainID uint64, address string) (*domain.VerifiedContract, error)
	List(ctx context.Context, filter domain.ListFilter, pagination domain.PaginationParams) (*domain.ListResult, error)
}

// Handler handles HTTP requests for verification.
type Handler struct {
	svc Service
}

// NewHandler creates a new verification HTTP handler.
func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers all verification routes on a chi router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	h.RegisterReadRoutes(r)
	h.RegisterWriteRoutes(r)
}

// RegisterReadRoutes registers the lookup routes.
func (h *Handler) RegisterReadRoutes(r chi.Router) {
	r.Get("/verify/{chainId}/{address}", h.handleGet)
	r.Get("/verified", h.handleList)
}

// RegisterWriteRoutes registers the route that runs verifications.
func (h *Handler) RegisterWriteRoutes(r chi.Router) {
	r.Post("/verify", h.handleVerify)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON")
		return
	}

	result, err := h.svc.Verify(r.Context(), req.ToDomain())
	if err != nil {
		writeServiceError(w, err, "Failed to verify contract")
		return
	}

	writeJSON(w, http.StatusOK, VerifyResponse{
		ID:           result.ID,
		Stored:       result.Stored,
		Verification: result.Verification,
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	chainID, err := strconv.ParseUint(chi.URLParam(r, "chainId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "chainId must be a positive integer")
		return
	}

	contract, err := h.svc.Get(r.Context(), chainID, chi.URLParam(r, "address"))
	if err != nil {
		writeServiceError(w, err, "Failed to get verification")
		return
	}
	writeJSON(w, http.StatusOK, contract)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var filter domain.ListFilter
	if v := q.Get("chainId"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "chainId must be a positive integer")
			return
		}
		filter.ChainID = id
	}
	filter.Match = q.Get("match")

	pagination := domain.PaginationParams{Cursor: q.Get("cursor")}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a non-negative integer")
			return
		}
		pagination.Limit = limit
	}

	result, err := h.svc.List(r.Context(), filter, pagination)
	if err != nil {
		writeServiceError(w, err, "Failed to list verifications")
		return
	}

	writeJSON(w, http.StatusOK, ListResponse{
		Data:       result.Data,
		HasMore:    result.HasMore,
		NextCursor: result.NextCursor,
	})
}

// writeServiceError maps domain and engine errors to responses. Engine failures
// carry their error kind as the code.
func writeServiceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Verification not found")
	case errors.Is(err, domain.ErrChainNotFound):
		writeError(w, http.StatusBadRequest, "CHAIN_NOT_SUPPORTED", err.Error())
	case errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, domain.ErrInvalidAddress),
		errors.Is(err, domain.ErrInvalidChainID),
		errors.Is(err, domain.ErrInvalidCursor):
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "TIMEOUT", "Verification timed out")
	case errors.Is(err, engine.ErrCannotFetchBytecode):
		writeError(w, http.StatusBadGateway, "cannot_fetch_bytecode", err.Error())
	default:
		if code := engine.ErrorCode(err); code != "internal_error" {
			writeError(w, http.StatusUnprocessableEntity, code, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", fallback)
	}
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}
