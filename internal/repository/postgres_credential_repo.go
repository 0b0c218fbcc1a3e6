package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/subbridge/internal/model"
)

// credentialRowID は認証情報を保存する固定キー。
const credentialRowID = 1

// PostgresCredentialRepo はPostgreSQLを使用した認証情報リポジトリ。
type PostgresCredentialRepo struct {
	db *sql.DB
}

// NewPostgresCredentialRepo はPostgresCredentialRepoを生成する。
func NewPostgresCredentialRepo(db *sql.DB) *PostgresCredentialRepo {
	return &PostgresCredentialRepo{db: db}
}

// Upsert はトークンを固定キーの行に保存する。
func (r *PostgresCredentialRepo) Upsert(ctx context.Context, token string, now time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO credentials (id, token, created_at, updated_at)
		 VALUES ($1, $2, $3, $3)
		 ON CONFLICT (id) DO UPDATE SET
			token = EXCLUDED.token,
			updated_at = EXCLUDED.updated_at`,
		credentialRowID, token, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert credential: %w", err)
	}
	return nil
}

// Get は保存済みのトークンを取得する。未保存の場合はnilを返す。
func (r *PostgresCredentialRepo) Get(ctx context.Context) (*model.CachedCredential, error) {
	cred := &model.CachedCredential{}
	err := r.db.QueryRowContext(ctx,
		`SELECT token, created_at, updated_at
		 FROM credentials
		 WHERE id = $1`,
		credentialRowID,
	).Scan(&cred.Token, &cred.CreatedAt, &cred.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}

	return cred, nil
}

// compile-time interface check
var _ CredentialRepository = (*PostgresCredentialRepo)(nil)
