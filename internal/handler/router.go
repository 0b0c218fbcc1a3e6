package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/subbridge/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// 旧パネルの購読パス（例: "sub"）。前後のスラッシュは無視する。
	SubscriptionPath string
	Gateway          GatewayService

	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	StatusRecorder    middleware.StatusRecorder

	HealthChecker  HealthChecker
	MetricsHandler http.Handler
}

// NewRouter はゲートウェイのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → RequestID → Logging → Recovery → Metrics
//
// CORSとセキュリティヘッダーは /health と /metrics のみに付与する。
// 購読ルートは新パネルの応答をそのまま中継するため付与せず、レート制限のみ適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger, routePattern))
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	if deps.StatusRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.StatusRecorder))
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
		r.Use(middleware.NewSecurityHeadersMiddleware())

		r.Get("/health", NewHealthHandler(deps.HealthChecker))
		if deps.MetricsHandler != nil {
			r.Handle("/metrics", deps.MetricsHandler)
		}
	})

	gatewayHandler := NewGatewayHandler(deps.Gateway, deps.Logger)
	base := "/" + strings.Trim(deps.SubscriptionPath, "/")

	r.Group(func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}
		r.Get(base+"/{token}", gatewayHandler.ServeSubscription)
		r.Get(base+"/{token}/", gatewayHandler.ServeSubscription)
	})

	return r
}

// routePattern はマッチしたルートパターンを返す。パスに含まれるトークンをログに残さないために使う。
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return ""
	}
	return rctx.RoutePattern()
}
