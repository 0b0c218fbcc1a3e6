package model

// AdminToken は新パネルの管理者トークン取得APIのレスポンス。
type AdminToken struct {
	AccessToken string `json:"access_token"`
	IsSudo      bool   `json:"is_sudo"`
	TokenType   string `json:"token_type"`
}

// Admin は新パネル上の管理者アカウント。
type Admin struct {
	ID                    int64   `json:"id"`
	Username              string  `json:"username"`
	Enabled               bool    `json:"enabled"`
	IsSudo                bool    `json:"is_sudo"`
	ServiceIDs            []int64 `json:"service_ids"`
	AllServicesAccess     bool    `json:"all_services_access"`
	ModifyUsersAccess     bool    `json:"modify_users_access"`
	SubscriptionURLPrefix string  `json:"subscription_url_prefix"`
}

// AdminCreate は管理者作成リクエスト。
type AdminCreate struct {
	Username              string  `json:"username"`
	Password              string  `json:"password"`
	Enabled               bool    `json:"enabled"`
	IsSudo                bool    `json:"is_sudo"`
	ServiceIDs            []int64 `json:"service_ids"`
	AllServicesAccess     bool    `json:"all_services_access"`
	ModifyUsersAccess     bool    `json:"modify_users_access"`
	SubscriptionURLPrefix string  `json:"subscription_url_prefix"`
}

// AdminUpdate は管理者更新リクエスト。nil のフィールドは変更しない。
type AdminUpdate struct {
	Username              string  `json:"username"`
	Password              string  `json:"password"`
	Enabled               *bool   `json:"enabled"`
	IsSudo                *bool   `json:"is_sudo"`
	ServiceIDs            []int64 `json:"service_ids"`
	AllServicesAccess     *bool   `json:"all_services_access"`
	ModifyUsersAccess     *bool   `json:"modify_users_access"`
	SubscriptionURLPrefix *string `json:"subscription_url_prefix"`
}

// Service は新パネルのサービス（インバウンドのグループ）。
type Service struct {
	ID         int64   `json:"id"`
	Name       string  `json:"name"`
	InboundIDs []int64 `json:"inbound_ids"`
	UserIDs    []int64 `json:"user_ids"`
}

// ServiceCreate はサービス作成リクエスト。
type ServiceCreate struct {
	Name       string  `json:"name"`
	InboundIDs []int64 `json:"inbound_ids"`
}

// Inbound は新パネルに設定されたインバウンド。
// 移行に必要なフィールドのみを保持する。
type Inbound struct {
	ID         int64   `json:"id"`
	Tag        string  `json:"tag"`
	Protocol   string  `json:"protocol"`
	ServiceIDs []int64 `json:"service_ids"`
}

// InboundPage はインバウンド一覧APIのページングレスポンス。
type InboundPage struct {
	Items []Inbound `json:"items"`
	Total int       `json:"total"`
	Page  int       `json:"page"`
	Size  int       `json:"size"`
}

// ExpireStrategy は新パネルの有効期限戦略。
type ExpireStrategy string

const (
	// ExpireNever は無期限。
	ExpireNever ExpireStrategy = "never"
	// ExpireFixedDate は固定日時で失効する。
	ExpireFixedDate ExpireStrategy = "fixed_date"
	// ExpireStartOnFirstUse は初回利用時から有効期限のカウントを開始する。
	ExpireStartOnFirstUse ExpireStrategy = "start_on_first_use"
)

// UserCreate は新パネルのユーザー作成リクエスト。
// Key が空の場合は新パネル側でランダムに生成される。
type UserCreate struct {
	Username               string         `json:"username"`
	Key                    string         `json:"key,omitempty"`
	DataLimit              int64          `json:"data_limit"`
	DataLimitResetStrategy string         `json:"data_limit_reset_strategy"`
	ExpireStrategy         ExpireStrategy `json:"expire_strategy"`
	ExpireDate             *string        `json:"expire_date"`
	UsageDuration          *int64         `json:"usage_duration"`
	ActivationDeadline     *string        `json:"activation_deadline"`
	Note                   string         `json:"note"`
	ServiceIDs             []int64        `json:"service_ids"`
	SubRevokedAt           *string        `json:"sub_revoked_at"`
	CreatedAt              *string        `json:"created_at"`
}

// BackendUser は新パネル上のユーザー。
// ゲートウェイの鮮度・失効チェックと転送先の決定に使用する。
type BackendUser struct {
	ID               int64      `json:"id"`
	Username         string     `json:"username"`
	Key              string     `json:"key"`
	Enabled          bool       `json:"enabled"`
	IsActive         bool       `json:"is_active"`
	Expired          bool       `json:"expired"`
	DataLimitReached bool       `json:"data_limit_reached"`
	UsedTraffic      int64      `json:"used_traffic"`
	SubRevokedAt     *Timestamp `json:"sub_revoked_at"`
	CreatedAt        Timestamp  `json:"created_at"`
	ServiceIDs       []int64    `json:"service_ids"`
	SubscriptionURL  string     `json:"subscription_url"`
	OwnerUsername    *string    `json:"owner_username"`
}
