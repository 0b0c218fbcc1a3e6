package legacy

import (
	"time"

	"github.com/hitoshi/subbridge/internal/identity"
	"github.com/hitoshi/subbridge/internal/model"
)

const (
	// MinRemainingDataLimit は残量が0以下になったユーザーに割り当てる下限クォータ（1MiB）。
	MinRemainingDataLimit = 1024 * 1024
	// defaultResetStrategy はリセット戦略が未設定の場合の値。
	defaultResetStrategy = "no_reset"
	// isoOffsetLayout はオフセット付きISO 8601形式。
	isoOffsetLayout = "2006-01-02T15:04:05-07:00"
)

// Translator は旧ユーザーレコードを新パネルのユーザー作成ペイロードに変換する。
type Translator struct {
	exceptions *identity.ExceptionSet
	location   *time.Location
}

// NewTranslator はTranslatorを生成する。
// locationは固定日時の有効期限を表現するタイムゾーン。
func NewTranslator(exceptions *identity.ExceptionSet, location *time.Location) *Translator {
	if location == nil {
		location = time.UTC
	}
	return &Translator{exceptions: exceptions, location: location}
}

// Translate は1件の旧ユーザーを、指定サービスに所属する作成ペイロードに変換する。
func (t *Translator) Translate(user model.LegacyUser, serviceID int64) model.UserCreate {
	onHold := user.Status == model.LegacyStatusOnHold

	create := model.UserCreate{
		Username:               t.exceptions.Transcode(user.Username),
		Key:                    identity.SubscriptionKey(user.UUID),
		DataLimit:              DataLimit(user),
		DataLimitResetStrategy: user.DataLimitResetStrategy,
		ExpireStrategy:         ExpireStrategy(user),
		ServiceIDs:             []int64{serviceID},
	}
	if create.DataLimitResetStrategy == "" {
		create.DataLimitResetStrategy = defaultResetStrategy
	}

	if create.ExpireStrategy == model.ExpireFixedDate {
		expire := time.Unix(*user.Expire, 0).In(t.location).Format(isoOffsetLayout)
		create.ExpireDate = &expire
	}

	if onHold {
		create.UsageDuration = user.OnHoldExpireDuration
		if user.OnHoldTimeout != nil {
			deadline := user.OnHoldTimeout.ISO()
			create.ActivationDeadline = &deadline
		}
	}

	if user.Note != nil {
		create.Note = *user.Note
	}
	if user.SubRevokedAt != nil {
		revoked := user.SubRevokedAt.ISO()
		create.SubRevokedAt = &revoked
	}
	if user.CreatedAt != nil {
		created := user.CreatedAt.ISO()
		create.CreatedAt = &created
	}

	return create
}

// DataLimit は残りクォータを算出する。
// 上限が未設定（または0）の場合は無制限を表す0、残量が0以下の場合は1MiBを返す。
func DataLimit(user model.LegacyUser) int64 {
	if user.DataLimit == nil || *user.DataLimit == 0 {
		return 0
	}
	remaining := *user.DataLimit - user.UsedTraffic
	if remaining <= 0 {
		return MinRemainingDataLimit
	}
	return remaining
}

// ExpireStrategy は旧ユーザーの状態から有効期限戦略を決定する。
func ExpireStrategy(user model.LegacyUser) model.ExpireStrategy {
	switch {
	case user.Status == model.LegacyStatusOnHold:
		return model.ExpireStartOnFirstUse
	case user.Expire != nil && *user.Expire != 0:
		return model.ExpireFixedDate
	default:
		return model.ExpireNever
	}
}
