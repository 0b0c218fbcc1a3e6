package legacy

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/hitoshi/subbridge/internal/identity"
	"github.com/hitoshi/subbridge/internal/model"
)

var tehran = time.FixedZone("IRST", 3*3600+30*60)

func int64Ptr(v int64) *int64 { return &v }
func strPtr(v string) *string  { return &v }

func mustTimestamp(t *testing.T, s string) *model.Timestamp {
	t.Helper()
	var ts model.Timestamp
	if err := json.Unmarshal([]byte(`"`+s+`"`), &ts); err != nil {
		t.Fatalf("failed to parse timestamp %q: %v", s, err)
	}
	return &ts
}

func TestDataLimit(t *testing.T) {
	tests := []struct {
		name  string
		limit *int64
		used  int64
		want  int64
	}{
		{"使い切った場合は1MiBに切り上げ", int64Ptr(1000), 1000, 1_048_576},
		{"超過した場合も1MiB", int64Ptr(1000), 5000, 1_048_576},
		{"残量を返す", int64Ptr(1000), 400, 600},
		{"未設定は無制限", nil, 400, 0},
		{"0は未設定扱い", int64Ptr(0), 400, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DataLimit(model.LegacyUser{DataLimit: tt.limit, UsedTraffic: tt.used})
			if got != tt.want {
				t.Errorf("DataLimit() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestExpireStrategy(t *testing.T) {
	tests := []struct {
		name   string
		status string
		expire *int64
		want   model.ExpireStrategy
	}{
		{"on_holdは初回利用開始", "on_hold", int64Ptr(1700000000), model.ExpireStartOnFirstUse},
		{"期限ありは固定日時", "active", int64Ptr(1700000000), model.ExpireFixedDate},
		{"期限なしは無期限", "active", nil, model.ExpireNever},
		{"0は期限なし扱い", "active", int64Ptr(0), model.ExpireNever},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExpireStrategy(model.LegacyUser{Status: tt.status, Expire: tt.expire})
			if got != tt.want {
				t.Errorf("ExpireStrategy() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTranslate_FixedDate(t *testing.T) {
	tr := NewTranslator(identity.NewExceptionSet(nil), tehran)
	user := model.LegacyUser{
		Username:               "John-Doe",
		Status:                 "active",
		UsedTraffic:            400,
		DataLimit:              int64Ptr(1000),
		Expire:                 int64Ptr(1700000000),
		DataLimitResetStrategy: "month",
		UUID:                   strPtr(`"3fa85f64-5717-4562-b3fc-2c963f66afa6"`),
		Note:                   strPtr("vip"),
		CreatedAt:              mustTimestamp(t, "2023-02-01T00:00:00"),
	}

	got := tr.Translate(user, 7)

	if got.Username != "john_doe" {
		t.Errorf("Username = %q, want %q", got.Username, "john_doe")
	}
	if got.Key != "3fa85f6457174562b3fc2c963f66afa6" {
		t.Errorf("Key = %q", got.Key)
	}
	if got.DataLimit != 600 {
		t.Errorf("DataLimit = %d, want 600", got.DataLimit)
	}
	if got.DataLimitResetStrategy != "month" {
		t.Errorf("DataLimitResetStrategy = %q, want month", got.DataLimitResetStrategy)
	}
	if got.ExpireStrategy != model.ExpireFixedDate {
		t.Errorf("ExpireStrategy = %q, want fixed_date", got.ExpireStrategy)
	}
	if got.ExpireDate == nil || *got.ExpireDate != "2023-11-15T01:43:20+03:30" {
		t.Errorf("ExpireDate = %v, want 2023-11-15T01:43:20+03:30", got.ExpireDate)
	}
	if got.UsageDuration != nil || got.ActivationDeadline != nil {
		t.Error("on-hold fields should be nil for active users")
	}
	if got.Note != "vip" {
		t.Errorf("Note = %q, want vip", got.Note)
	}
	if len(got.ServiceIDs) != 1 || got.ServiceIDs[0] != 7 {
		t.Errorf("ServiceIDs = %v, want [7]", got.ServiceIDs)
	}
	if got.CreatedAt == nil || *got.CreatedAt != "2023-02-01T00:00:00" {
		t.Errorf("CreatedAt = %v", got.CreatedAt)
	}
	if got.SubRevokedAt != nil {
		t.Errorf("SubRevokedAt = %v, want nil", *got.SubRevokedAt)
	}
}

func TestTranslate_OnHold(t *testing.T) {
	tr := NewTranslator(identity.NewExceptionSet(nil), tehran)
	user := model.LegacyUser{
		Username:             "holder",
		Status:               "on_hold",
		Expire:               int64Ptr(1700000000),
		OnHoldExpireDuration: int64Ptr(86400),
		OnHoldTimeout:        mustTimestamp(t, "2024-03-01T12:30:00"),
	}

	got := tr.Translate(user, 1)

	if got.ExpireStrategy != model.ExpireStartOnFirstUse {
		t.Errorf("ExpireStrategy = %q, want start_on_first_use", got.ExpireStrategy)
	}
	if got.ExpireDate != nil {
		t.Errorf("ExpireDate = %v, want nil", *got.ExpireDate)
	}
	if got.UsageDuration == nil || *got.UsageDuration != 86400 {
		t.Errorf("UsageDuration = %v, want 86400", got.UsageDuration)
	}
	if got.ActivationDeadline == nil || *got.ActivationDeadline != "2024-03-01T12:30:00" {
		t.Errorf("ActivationDeadline = %v, want 2024-03-01T12:30:00", got.ActivationDeadline)
	}
	if got.DataLimitResetStrategy != "no_reset" {
		t.Errorf("DataLimitResetStrategy = %q, want no_reset", got.DataLimitResetStrategy)
	}
}

func TestTranslate_ExceptionalUsernameAndMissingKey(t *testing.T) {
	tr := NewTranslator(identity.NewExceptionSet([]string{"weird name!!"}), nil)
	user := model.LegacyUser{
		Username:     "weird name!!",
		Status:       "active",
		SubRevokedAt: mustTimestamp(t, "2024-01-01 08:00:00"),
	}

	got := tr.Translate(user, 3)

	if got.Username != "weirdname_4334" {
		t.Errorf("Username = %q, want weirdname_4334", got.Username)
	}
	if got.Key != "" {
		t.Errorf("Key = %q, want empty", got.Key)
	}
	if got.ExpireStrategy != model.ExpireNever {
		t.Errorf("ExpireStrategy = %q, want never", got.ExpireStrategy)
	}
	if got.Note != "" {
		t.Errorf("Note = %q, want empty", got.Note)
	}
	if got.SubRevokedAt == nil || *got.SubRevokedAt != "2024-01-01T08:00:00" {
		t.Errorf("SubRevokedAt = %v", got.SubRevokedAt)
	}

	payload, err := json.Marshal(got)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatal(err)
	}
	if _, ok := decoded["key"]; ok {
		t.Error("key should be omitted so the backend generates one")
	}
}
