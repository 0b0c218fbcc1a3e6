// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// 購読ゲートウェイの拒否応答に使用し、検証失敗の内訳は含めない。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: subscription, upstream, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidSubscription = "INVALID_SUBSCRIPTION"
	ErrCodeUserNotFound        = "USER_NOT_FOUND"
	ErrCodeSubscriptionRevoked = "SUBSCRIPTION_REVOKED"
	ErrCodeSubscriptionMissing = "SUBSCRIPTION_URL_NOT_FOUND"
	ErrCodeUpstreamFailed      = "UPSTREAM_FAILED"
	ErrCodeRateLimited         = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// NewInvalidSubscriptionError は購読トークンが無効な場合のエラーを生成する。
// どの方式・どの検証で失敗したかは含めない。
func NewInvalidSubscriptionError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSubscription,
		Message:  "Invalid subscription token",
		Category: "subscription",
		Action:   "購読リンクを再取得してください。",
	}
}

// NewUserNotFoundError は移行先ユーザーが存在しない、または作成日時が不正な場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found or invalid creation date",
		Category: "subscription",
		Action:   "管理者に購読リンクの再発行を依頼してください。",
	}
}

// NewSubscriptionRevokedError は購読が失効している場合のエラーを生成する。
func NewSubscriptionRevokedError() *APIError {
	return &APIError{
		Code:     ErrCodeSubscriptionRevoked,
		Message:  "Subscription has been revoked",
		Category: "subscription",
		Action:   "新しい購読リンクを使用してください。",
	}
}

// NewSubscriptionURLMissingError はユーザーに購読URLが設定されていない場合のエラーを生成する。
func NewSubscriptionURLMissingError() *APIError {
	return &APIError{
		Code:     ErrCodeSubscriptionMissing,
		Message:  "Subscription URL not found for user",
		Category: "subscription",
		Action:   "管理者に問い合わせてください。",
	}
}

// NewUpstreamFailedError は新パネルへの転送に失敗した場合のエラーを生成する。
func NewUpstreamFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamFailed,
		Message:  "Error forwarding subscription request",
		Category: "upstream",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewRateLimitedError はクライアントごとのリクエスト上限を超えた場合のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Too many requests. Please try again later.",
		Category: "system",
		Action:   "Retry-After の秒数だけ待ってから再度お試しください。",
	}
}

// NewInternalError は想定外のエラーを生成する。詳細はログのみに残す。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
