// Package credential は新パネルの管理者ベアラートークンの取得と永続化を提供する。
// 更新は定期ジョブから行い、利用側は毎回永続化された値を読み出す。
package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/subbridge/internal/model"
	"github.com/hitoshi/subbridge/internal/repository"
)

// ErrNoCredential はトークンがまだ保存されていない場合のエラー。
var ErrNoCredential = errors.New("no cached backend credential")

// Authenticator は新パネルへのログインを行うインターフェース。
// *panel.Client が実装する。
type Authenticator interface {
	Login(ctx context.Context, username, password string) (*model.AdminToken, error)
}

// Recorder はトークン更新結果のメトリクス記録先。
type Recorder interface {
	RecordTokenRefresh(result string)
}

type noopRecorder struct{}

func (noopRecorder) RecordTokenRefresh(string) {}

// Manager は管理者トークンを取得して認証情報ストアに保存する。
// メモリ上にはキャッシュせず、Token は常にストアから読み出す。
type Manager struct {
	repo     repository.CredentialRepository
	auth     Authenticator
	username string
	password string
	logger   *slog.Logger
	recorder Recorder
	now      func() time.Time
}

// NewManager は Manager の新しいインスタンスを生成する。
// recorder が nil の場合はメトリクスを記録しない。
func NewManager(
	repo repository.CredentialRepository,
	auth Authenticator,
	username, password string,
	logger *slog.Logger,
	recorder Recorder,
) *Manager {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &Manager{
		repo:     repo,
		auth:     auth,
		username: username,
		password: password,
		logger:   logger,
		recorder: recorder,
		now:      time.Now,
	}
}

// Refresh は設定された資格情報でログインし、取得したトークンを保存する。
// 失敗した場合は保存済みの値をそのまま残してエラーを返す。
func (m *Manager) Refresh(ctx context.Context) error {
	token, err := m.auth.Login(ctx, m.username, m.password)
	if err != nil {
		m.recorder.RecordTokenRefresh("login_failed")
		m.logger.Error("管理者トークンの取得に失敗しました",
			slog.String("admin", m.username),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("refresh credential: %w", err)
	}

	if err := m.repo.Upsert(ctx, token.AccessToken, m.now().UTC()); err != nil {
		m.recorder.RecordTokenRefresh("store_failed")
		m.logger.Error("管理者トークンの保存に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("store credential: %w", err)
	}

	m.recorder.RecordTokenRefresh("success")
	m.logger.Info("管理者トークンを更新しました", slog.String("admin", m.username))
	return nil
}

// Token は保存済みのトークンを返す。panel.TokenProvider として使用する。
func (m *Manager) Token(ctx context.Context) (string, error) {
	cred, err := m.repo.Get(ctx)
	if err != nil {
		return "", err
	}
	if cred == nil || cred.Token == "" {
		return "", ErrNoCredential
	}
	return cred.Token, nil
}
