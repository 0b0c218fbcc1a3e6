// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/subbridge/internal/model"
)

// CredentialRepository は新パネルの管理者トークンの永続化インターフェース。
// 論理的に常に1行のみを保持する。
type CredentialRepository interface {
	// Upsert はトークンを保存する。既存の行があれば上書きする。
	Upsert(ctx context.Context, token string, now time.Time) error

	// Get は保存済みのトークンを取得する。未保存の場合はnilを返す。
	Get(ctx context.Context) (*model.CachedCredential, error)
}
