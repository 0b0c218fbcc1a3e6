// Package gateway は旧パネルの購読トークンを新パネルの購読配信パスへ中継するサービスを提供する。
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hitoshi/subbridge/internal/identity"
	"github.com/hitoshi/subbridge/internal/model"
	"github.com/hitoshi/subbridge/internal/panel"
)

// 中継結果のラベル。
const (
	OutcomeProxied       = "proxied"
	OutcomeInvalidToken  = "invalid_token"
	OutcomeUserNotFound  = "user_not_found"
	OutcomeRevoked       = "revoked"
	OutcomeNoURL         = "no_subscription_url"
	OutcomeUpstreamError = "upstream_error"
)

// TokenVerifier は購読トークンの検証インターフェース。
// *auth.Verifier が実装する。
type TokenVerifier interface {
	Verify(token string) (model.SubscriptionClaim, error)
}

// Backend はゲートウェイが使用する新パネルの操作。
// *panel.Client が実装する。
type Backend interface {
	GetUser(ctx context.Context, username string) (*model.BackendUser, error)
	FetchSubscription(ctx context.Context, target string, header http.Header, query url.Values) (*http.Response, error)
}

var _ Backend = (*panel.Client)(nil)

// Recorder は中継結果のメトリクス記録先。
type Recorder interface {
	RecordGatewayOutcome(outcome string)
	RecordProxyLatency(duration time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) RecordGatewayOutcome(string)       {}
func (noopRecorder) RecordProxyLatency(time.Duration) {}

// Service は購読トークンを検証し、移行済みユーザーの購読配信パスへ転送する。
// リクエスト間で共有する可変状態を持たない。
type Service struct {
	verifier   TokenVerifier
	exceptions *identity.ExceptionSet
	backend    Backend
	urlPrefix  string
	logger     *slog.Logger
	recorder   Recorder
}

// NewService は Service の新しいインスタンスを生成する。
// urlPrefix はユーザーの subscription_url の前に付与する新パネルのアドレス。
func NewService(
	verifier TokenVerifier,
	exceptions *identity.ExceptionSet,
	backend Backend,
	urlPrefix string,
	logger *slog.Logger,
	recorder Recorder,
) *Service {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &Service{
		verifier:   verifier,
		exceptions: exceptions,
		backend:    backend,
		urlPrefix:  urlPrefix,
		logger:     logger,
		recorder:   recorder,
	}
}

// Resolve はトークンを検証して移行済みユーザーを特定し、転送先のURLを返す。
// 拒否する場合は *model.APIError を返す。
func (s *Service) Resolve(ctx context.Context, token string) (string, error) {
	claim, err := s.verifier.Verify(token)
	if err != nil {
		s.recorder.RecordGatewayOutcome(OutcomeInvalidToken)
		return "", model.NewInvalidSubscriptionError()
	}

	username := s.exceptions.Transcode(claim.Username)
	user, err := s.backend.GetUser(ctx, username)
	if errors.Is(err, panel.ErrNotFound) {
		s.recorder.RecordGatewayOutcome(OutcomeUserNotFound)
		return "", model.NewUserNotFoundError()
	}
	if err != nil {
		s.recorder.RecordGatewayOutcome(OutcomeUpstreamError)
		s.logger.Error("新パネルからのユーザー取得に失敗しました",
			slog.String("username", username),
			slog.String("error", err.Error()),
		)
		return "", model.NewUpstreamFailedError()
	}

	// トークン発行後に作成されたユーザーには中継しない
	if user.CreatedAt.Time.After(claim.IssuedAt) {
		s.recorder.RecordGatewayOutcome(OutcomeUserNotFound)
		return "", model.NewUserNotFoundError()
	}
	if user.SubRevokedAt != nil && user.SubRevokedAt.Time.After(claim.IssuedAt) {
		s.recorder.RecordGatewayOutcome(OutcomeRevoked)
		return "", model.NewSubscriptionRevokedError()
	}
	if user.SubscriptionURL == "" {
		s.recorder.RecordGatewayOutcome(OutcomeNoURL)
		return "", model.NewSubscriptionURLMissingError()
	}

	return s.urlPrefix + user.SubscriptionURL, nil
}

// Forward はトークンを検証し、元のリクエストのヘッダー（Hostを除く）とクエリを付けて
// 購読配信パスへGETリクエストを転送する。レスポンスは加工せずに返す。
// Bodyのクローズは呼び出し元の責務。
func (s *Service) Forward(ctx context.Context, token string, header http.Header, query url.Values) (*http.Response, error) {
	target, err := s.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := s.backend.FetchSubscription(ctx, target, header, query)
	s.recorder.RecordProxyLatency(time.Since(start))
	if err != nil {
		s.recorder.RecordGatewayOutcome(OutcomeUpstreamError)
		s.logger.Error("購読リクエストの転送に失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, model.NewUpstreamFailedError()
	}

	s.recorder.RecordGatewayOutcome(OutcomeProxied)
	return resp, nil
}
