package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/retailops/posflow/internal/domain"
	"github.com/retailops/posflow/internal/usecase"
)

// errorResponse is the JSON error envelope returned by every gateway route.
type errorResponse struct {
	ErrorKind string `json:"error_kind"`
	Message   string `json:"message"`
}

// ingestResponse is returned on accepted submissions, including duplicates.
type ingestResponse struct {
	Accepted       bool   `json:"accepted"`
	Duplicate      bool   `json:"duplicate"`
	IdempotencyKey string `json:"idempotency_key"`
}

// IngestHandler handles HTTP requests for transaction submission.
type IngestHandler struct {
	useCase        *usecase.IngestTransactionUseCase
	logger         *slog.Logger
	maxPayloadSize int64
}

// NewIngestHandler creates a new IngestHandler.
func NewIngestHandler(uc *usecase.IngestTransactionUseCase, logger *slog.Logger, maxPayloadSize int64) *IngestHandler {
	return &IngestHandler{
		useCase:        uc,
		logger:         logger,
		maxPayloadSize: maxPayloadSize,
	}
}

// ServeHTTP processes an incoming transaction submission. Duplicates are
// accepted with a 202 like first submissions; only malformed payloads are
// rejected.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxPayloadSize)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "payload exceeds size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "read_error", "failed to read request body")
		return
	}

	var payload domain.TransactionPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_json", "request body is not valid JSON")
		return
	}

	result, err := h.useCase.Ingest(r.Context(), &payload)
	if err != nil {
		var vErr *domain.ValidationError
		if errors.As(err, &vErr) {
			writeError(w, http.StatusBadRequest, "validation_error", vErr.Error())
			return
		}
		h.logger.Error("failed to process ingest request", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to stage transaction")
		return
	}

	writeJSON(w, http.StatusAccepted, ingestResponse{
		Accepted:       true,
		Duplicate:      result.Duplicate,
		IdempotencyKey: result.IdempotencyKey,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorResponse{ErrorKind: kind, Message: message})
}
