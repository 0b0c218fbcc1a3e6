package model

import "time"

// CachedCredential は新パネルの管理者ベアラートークンの永続化行。
// 常に1行のみ存在し、更新は固定キーへのUPSERTで行う。
type CachedCredential struct {
	Token     string
	UpdatedAt time.Time
	CreatedAt time.Time
}

// SubscriptionClaim は検証済みの旧パネル購読トークンから取り出したクレーム。
// リクエストごとにデコードされ、永続化されない。
type SubscriptionClaim struct {
	Username string
	IssuedAt time.Time
}
