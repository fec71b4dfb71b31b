package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/retailops/posflow/internal/domain/mocks"
	"github.com/retailops/posflow/internal/usecase"
)

func TestIngestHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	validBody := `{
		"transaction_id": "txn-9001",
		"store_id": "store-3",
		"occurred_at": "2026-08-30T10:00:00Z",
		"total_amount": 12.50,
		"line_items": [
			{"product_text": "Cola Classic 1L", "quantity": 1, "unit_price": 12.50, "line_amount": 12.50}
		]
	}`

	tests := []struct {
		name           string
		body           string
		insertErr      error
		maxSize        int64
		expectedStatus int
		expectedKind   string
	}{
		{
			name:           "Valid Submission",
			body:           validBody,
			maxSize:        1024,
			expectedStatus: http.StatusAccepted,
		},
		{
			name:           "Malformed JSON",
			body:           `{"transaction_id": "txn-9001"`,
			maxSize:        1024,
			expectedStatus: http.StatusBadRequest,
			expectedKind:   "malformed_json",
		},
		{
			name:           "Missing Transaction ID",
			body:           `{"store_id": "store-3", "line_items": [{"product_text": "x"}]}`,
			maxSize:        1024,
			expectedStatus: http.StatusBadRequest,
			expectedKind:   "validation_error",
		},
		{
			name:           "Missing Line Items",
			body:           `{"transaction_id": "txn-9001", "store_id": "store-3"}`,
			maxSize:        1024,
			expectedStatus: http.StatusBadRequest,
			expectedKind:   "validation_error",
		},
		{
			name:           "Store Failure",
			body:           validBody,
			insertErr:      errors.New("connection refused"),
			maxSize:        1024,
			expectedStatus: http.StatusInternalServerError,
			expectedKind:   "internal_error",
		},
		{
			name:           "Payload Too Large",
			body:           validBody,
			maxSize:        50,
			expectedStatus: http.StatusRequestEntityTooLarge,
			expectedKind:   "payload_too_large",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := mocks.NewMockRawEventRepository()
			raw.InsertErr = tt.insertErr
			uc := usecase.NewIngestTransactionUseCase(raw, logger, nil)
			handler := NewIngestHandler(uc, logger, tt.maxSize)

			req := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			if status := rr.Code; status != tt.expectedStatus {
				t.Errorf("handler returned wrong status code: got %v want %v", status, tt.expectedStatus)
			}

			if tt.expectedKind != "" {
				var resp errorResponse
				if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
					t.Fatalf("failed to decode error response: %v", err)
				}
				if resp.ErrorKind != tt.expectedKind {
					t.Errorf("unexpected error kind: got %q want %q", resp.ErrorKind, tt.expectedKind)
				}
			}
		})
	}
}

func TestIngestHandlerDuplicate(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	raw := mocks.NewMockRawEventRepository()
	uc := usecase.NewIngestTransactionUseCase(raw, logger, nil)
	handler := NewIngestHandler(uc, logger, 1024)

	body := `{"transaction_id": "txn-9002", "store_id": "store-3", "occurred_at": "2026-08-30T10:00:00Z", "total_amount": 5, "line_items": [{"product_text": "soap", "quantity": 1, "unit_price": 5, "line_amount": 5}]}`

	submit := func() ingestResponse {
		req := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d", rr.Code)
		}
		var resp ingestResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		return resp
	}

	first := submit()
	if first.Duplicate {
		t.Error("first submission reported as duplicate")
	}

	second := submit()
	if !second.Duplicate {
		t.Error("resubmission not reported as duplicate")
	}
	if second.IdempotencyKey != first.IdempotencyKey {
		t.Errorf("idempotency key changed across submissions: %q vs %q", second.IdempotencyKey, first.IdempotencyKey)
	}
}
