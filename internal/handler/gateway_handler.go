package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/subbridge/internal/middleware"
)

// GatewayService は購読ハンドラーが必要とするサービスインターフェース。
// *gateway.Service が実装する。
type GatewayService interface {
	// Forward はトークンを検証し、新パネルの購読配信パスへリクエストを転送する。
	Forward(ctx context.Context, token string, header http.Header, query url.Values) (*http.Response, error)
}

// hopByHopHeaders は中継時に引き継がないヘッダー。
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// GatewayHandler は旧パネルの購読URLを受け付けるHTTPハンドラー。
type GatewayHandler struct {
	service GatewayService
	logger  *slog.Logger
}

// NewGatewayHandler はGatewayHandlerを生成する。
func NewGatewayHandler(service GatewayService, logger *slog.Logger) *GatewayHandler {
	return &GatewayHandler{
		service: service,
		logger:  logger,
	}
}

// ServeSubscription は購読リクエストを中継する。
// GET /{prefix}/{token}
func (h *GatewayHandler) ServeSubscription(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	resp, err := h.service.Forward(r.Context(), token, r.Header, r.URL.Query())
	if err != nil {
		handleGatewayError(w, err)
		return
	}
	defer resp.Body.Close()

	// 中継レスポンスのヘッダーは新パネルのものだけにする
	header := w.Header()
	clear(header)
	for key, values := range resp.Header {
		header[key] = append([]string(nil), values...)
	}
	for _, key := range hopByHopHeaders {
		header.Del(key)
	}
	w.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		// ステータス送信後のため、ログのみ記録する
		h.logger.Warn("購読レスポンスの中継中にエラーが発生しました",
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
			slog.String("error", err.Error()),
		)
	}
}

// handleGatewayError はサービス層から返されたエラーを拒否応答に変換する。
func handleGatewayError(w http.ResponseWriter, err error) {
	middleware.WriteAPIError(w, err)
}
