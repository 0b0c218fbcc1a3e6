package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hitoshi/subbridge/internal/model"
)

// ErrorResponseBody はゲートウェイの拒否応答のJSONボディ。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// apiErrorStatus はエラーコードごとのHTTPステータス。
// トークン検証の失敗はすべて INVALID_SUBSCRIPTION の400に集約される。
var apiErrorStatus = map[string]int{
	model.ErrCodeInvalidSubscription: http.StatusBadRequest,
	model.ErrCodeUserNotFound:        http.StatusNotFound,
	model.ErrCodeSubscriptionMissing: http.StatusNotFound,
	model.ErrCodeSubscriptionRevoked: http.StatusForbidden,
	model.ErrCodeUpstreamFailed:      http.StatusBadGateway,
	model.ErrCodeRateLimited:         http.StatusTooManyRequests,
	model.ErrCodeInternal:            http.StatusInternalServerError,
}

// StatusForCode はエラーコードに対応するHTTPステータスを返す。未知のコードは500。
func StatusForCode(code string) int {
	if status, ok := apiErrorStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteAPIError はエラーを拒否応答として書き込む。
// *model.APIError を含まないエラーや未知のコードは内部エラーとして扱い、詳細を返さない。
func WriteAPIError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		WriteInternalServerError(w)
		return
	}
	status, ok := apiErrorStatus[apiErr.Code]
	if !ok {
		WriteInternalServerError(w)
		return
	}
	WriteErrorResponse(w, status, apiErr)
}

// WriteErrorResponse は指定したステータスで拒否応答を書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部エラーの応答を書き込む。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}
