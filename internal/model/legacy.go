package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LegacyExport は旧パネルのテーブルダンプ（JSON）の最上位構造を表す。
// users、admins、jwt の3セクションが必須。jwt は存在確認のみに使用する。
type LegacyExport struct {
	Users  []LegacyUser      `json:"users"`
	Admins []LegacyAdmin     `json:"admins"`
	JWT    []json.RawMessage `json:"jwt"`
}

// LegacyAdmin は旧パネルの管理者レコードを表す。読み取り専用。
type LegacyAdmin struct {
	ID              int64           `json:"id"`
	Username        string          `json:"username"`
	HashedPassword  string          `json:"hashed_password"`
	CreatedAt       *Timestamp      `json:"created_at"`
	IsSudo          Flag            `json:"is_sudo"`
	PasswordResetAt *Timestamp      `json:"password_reset_at,omitempty"`
	TelegramID      json.RawMessage `json:"telegram_id,omitempty"`
	DiscordWebhook  *string         `json:"discord_webhook,omitempty"`
}

// LegacyUser は旧パネルのユーザーレコードを表す。
// AdminID が nil または解決できない場合はフォールバック管理者に割り当てられる。
type LegacyUser struct {
	ID                     int64      `json:"id"`
	Username               string     `json:"username"`
	Status                 string     `json:"status"`
	UsedTraffic            int64      `json:"used_traffic"`
	DataLimit              *int64     `json:"data_limit"`
	Expire                 *int64     `json:"expire"`
	CreatedAt              *Timestamp `json:"created_at"`
	AdminID                *int64     `json:"admin_id"`
	DataLimitResetStrategy string     `json:"data_limit_reset_strategy"`
	SubRevokedAt           *Timestamp `json:"sub_revoked_at"`
	Note                   *string    `json:"note"`
	SubUpdatedAt           *Timestamp `json:"sub_updated_at"`
	SubLastUserAgent       *string    `json:"sub_last_user_agent"`
	OnlineAt               *Timestamp `json:"online_at"`
	EditAt                 *Timestamp `json:"edit_at"`
	OnHoldTimeout          *Timestamp `json:"on_hold_timeout"`
	OnHoldExpireDuration   *int64     `json:"on_hold_expire_duration"`
	AutoDeleteInDays       *int64     `json:"auto_delete_in_days"`
	LastStatusChange       *Timestamp `json:"last_status_change"`
	UUID                   *string    `json:"uuid"`
	ProxyType              *string    `json:"proxy_type"`
}

// LegacyStatusOnHold は初回利用時に有効期限のカウントを開始するステータス。
const LegacyStatusOnHold = "on_hold"

// timestampLayouts は受け付ける日時表現。
// MySQL経由はISO形式、SQLite経由は空白区切りの文字列で出力される。
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// Timestamp はエクスポートおよび新パネルのAPIに現れる日時。
// オフセットなしの表記はUTCとして解釈し、入力の表記（オフセットの有無）を保持して
// ISO形式で再出力できる。
type Timestamp struct {
	Time      time.Time
	HasOffset bool
}

// UnmarshalJSON は文字列の日時をパースする。
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	for _, layout := range timestampLayouts {
		parsed, err := time.Parse(layout, s)
		if err == nil {
			t.Time = parsed
			t.HasOffset = strings.Contains(layout, "Z07:00")
			return nil
		}
	}
	return fmt.Errorf("unsupported timestamp format: %q", s)
}

// ISO は日時をISO 8601形式で返す。オフセットなしの入力はオフセットなしで出力する。
// マイクロ秒は非ゼロの場合のみ付与する。
func (t Timestamp) ISO() string {
	layout := "2006-01-02T15:04:05"
	if t.Time.Nanosecond() != 0 {
		layout += ".000000"
	}
	if t.HasOffset {
		layout += "-07:00"
	}
	return t.Time.Format(layout)
}

// Flag は 0/1 の数値または真偽値で表現される旧パネルのフラグ。
type Flag bool

// UnmarshalJSON は真偽値・数値・数値文字列を受け付ける。
func (f *Flag) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	switch s {
	case "null", "":
		*f = false
		return nil
	case "true":
		*f = true
		return nil
	case "false":
		*f = false
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid flag value: %s", string(data))
	}
	*f = n != 0
	return nil
}
