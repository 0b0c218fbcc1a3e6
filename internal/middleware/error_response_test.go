package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/subbridge/internal/model"
)

// TestWriteErrorResponse_GatewayErrors はゲートウェイの拒否応答が統一フォーマットで書き込まれることを検証する。
func TestWriteErrorResponse_GatewayErrors(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		apiErr     *model.APIError
		category   string
	}{
		{"invalid token", http.StatusBadRequest, model.NewInvalidSubscriptionError(), "subscription"},
		{"user not found", http.StatusNotFound, model.NewUserNotFoundError(), "subscription"},
		{"revoked", http.StatusForbidden, model.NewSubscriptionRevokedError(), "subscription"},
		{"no url", http.StatusNotFound, model.NewSubscriptionURLMissingError(), "subscription"},
		{"upstream", http.StatusBadGateway, model.NewUpstreamFailedError(), "upstream"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			WriteErrorResponse(w, tt.statusCode, tt.apiErr)

			resp := w.Result()
			if resp.StatusCode != tt.statusCode {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.statusCode)
			}
			if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want %q", ct, "application/json")
			}

			var body ErrorResponseBody
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode: %v", err)
			}
			if body.Code != tt.apiErr.Code {
				t.Errorf("code = %q, want %q", body.Code, tt.apiErr.Code)
			}
			if body.Message != tt.apiErr.Message {
				t.Errorf("message = %q, want %q", body.Message, tt.apiErr.Message)
			}
			if body.Category != tt.category {
				t.Errorf("category = %q, want %q", body.Category, tt.category)
			}
			if body.Action == "" {
				t.Error("action should not be empty")
			}
		})
	}
}

// TestInternalServerError_ReturnsSystemError は内部エラーが統一フォーマットで返ることを検証する。
func TestInternalServerError_ReturnsSystemError(t *testing.T) {
	w := httptest.NewRecorder()

	WriteInternalServerError(w)

	resp := w.Result()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusInternalServerError)
	}

	var raw map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	for _, field := range []string{"code", "message", "category", "action"} {
		if _, ok := raw[field]; !ok {
			t.Errorf("missing required field: %s", field)
		}
	}
	if raw["code"] != "INTERNAL_ERROR" {
		t.Errorf("code = %v, want INTERNAL_ERROR", raw["code"])
	}
}

// TestWriteAPIError_MapsCodeToStatus はエラーコードからHTTPステータスが決まることを検証する。
// ラップされたエラーも展開し、APIErrorを含まないエラーは詳細を返さず500にする。
func TestWriteAPIError_MapsCodeToStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantBody string
	}{
		{"invalid token", model.NewInvalidSubscriptionError(), http.StatusBadRequest, model.ErrCodeInvalidSubscription},
		{"user not found", model.NewUserNotFoundError(), http.StatusNotFound, model.ErrCodeUserNotFound},
		{"no url", model.NewSubscriptionURLMissingError(), http.StatusNotFound, model.ErrCodeSubscriptionMissing},
		{"revoked", model.NewSubscriptionRevokedError(), http.StatusForbidden, model.ErrCodeSubscriptionRevoked},
		{"upstream", model.NewUpstreamFailedError(), http.StatusBadGateway, model.ErrCodeUpstreamFailed},
		{"rate limited", model.NewRateLimitedError(), http.StatusTooManyRequests, model.ErrCodeRateLimited},
		{"wrapped", fmt.Errorf("forward: %w", model.NewSubscriptionRevokedError()), http.StatusForbidden, model.ErrCodeSubscriptionRevoked},
		{"unknown code", &model.APIError{Code: "SOMETHING", Message: "secret detail"}, http.StatusInternalServerError, model.ErrCodeInternal},
		{"plain error", errors.New("dial tcp: refused"), http.StatusInternalServerError, model.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			WriteAPIError(w, tt.err)

			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}
			var body ErrorResponseBody
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode: %v", err)
			}
			if body.Code != tt.wantBody {
				t.Errorf("code = %q, want %q", body.Code, tt.wantBody)
			}
			if body.Message == "secret detail" || body.Message == "dial tcp: refused" {
				t.Errorf("internal detail leaked: %q", body.Message)
			}
		})
	}
}

func TestStatusForCode_UnknownIsInternal(t *testing.T) {
	if got := StatusForCode("NOPE"); got != http.StatusInternalServerError {
		t.Errorf("StatusForCode(NOPE) = %d, want 500", got)
	}
	if got := StatusForCode(model.ErrCodeSubscriptionRevoked); got != http.StatusForbidden {
		t.Errorf("StatusForCode(revoked) = %d, want 403", got)
	}
}
