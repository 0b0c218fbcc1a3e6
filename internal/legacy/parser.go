// Package legacy は旧パネルのエクスポートの読み込みと、新パネルの作成ペイロードへの変換を提供する。
package legacy

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/hitoshi/subbridge/internal/model"
)

const (
	// FallbackAdminID は所有者を解決できないユーザーを受け入れる合成管理者のID。
	FallbackAdminID = 99999999
	// FallbackAdminUsername は合成管理者のユーザー名。
	FallbackAdminUsername = "bear"
)

// requiredSections はエクスポートに必須のセクション。
var requiredSections = []string{"users", "admins", "jwt"}

// ErrMissingSection は必須セクションが欠けている場合のエラー。
var ErrMissingSection = errors.New("missing required section")

// UserGroup は1人の管理者が所有するユーザーの集合。入力順を保持する。
type UserGroup struct {
	Admin string
	Users []model.LegacyUser
}

// Feed はパース済みのエクスポート。
// Admins は入力順にフォールバック管理者を末尾に追加したもの。
// Groups は Admins の順序で並び、ユーザーを持つ管理者のみを含む。
type Feed struct {
	Admins []model.LegacyAdmin
	Groups []UserGroup
}

// UserCount は全グループのユーザー数の合計を返す。
func (f *Feed) UserCount() int {
	n := 0
	for _, g := range f.Groups {
		n += len(g.Users)
	}
	return n
}

// Usernames はエクスポート中の全旧ユーザー名を入力順で返す。
// 例外集合の構築に使用する。
func Usernames(export *model.LegacyExport) []string {
	names := make([]string, 0, len(export.Users))
	for _, u := range export.Users {
		names = append(names, u.Username)
	}
	return names
}

// ReadExportFile はエクスポートファイルを読み込み、必須セクションを検証する。
func ReadExportFile(path string) (*model.LegacyExport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("legacy export not found at %s: %w", path, err)
	}
	defer f.Close()

	return ReadExport(f)
}

// ReadExport はエクスポートJSONをデコードし、必須セクションを検証する。
// 不正なドキュメントや必須セクションの欠落は部分処理を行わずにエラーとする。
func ReadExport(r io.Reader) (*model.LegacyExport, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read legacy export: %w", err)
	}

	var sections map[string]json.RawMessage
	if err := json.Unmarshal(data, &sections); err != nil {
		return nil, fmt.Errorf("invalid legacy export JSON: %w", err)
	}
	for _, key := range requiredSections {
		if _, ok := sections[key]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrMissingSection, key)
		}
	}

	var export model.LegacyExport
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("invalid legacy export records: %w", err)
	}
	return &export, nil
}

// Parse は管理者ID→ユーザー名の対応表を構築し、ユーザーを所有管理者ごとにグループ化する。
// 所有者IDが nil または解決できないユーザーはフォールバック管理者に割り当てる。
func Parse(export *model.LegacyExport, logger *slog.Logger) *Feed {
	admins := make([]model.LegacyAdmin, 0, len(export.Admins)+1)
	admins = append(admins, export.Admins...)
	admins = append(admins, model.LegacyAdmin{
		ID:             FallbackAdminID,
		Username:       FallbackAdminUsername,
		HashedPassword: FallbackAdminUsername,
		IsSudo:         false,
	})

	owners := make(map[int64]string, len(admins))
	for _, a := range admins {
		owners[a.ID] = a.Username
	}

	byAdmin := make(map[string][]model.LegacyUser)
	for _, u := range export.Users {
		owner := FallbackAdminUsername
		if u.AdminID != nil {
			if name, ok := owners[*u.AdminID]; ok {
				owner = name
			}
		}
		byAdmin[owner] = append(byAdmin[owner], u)
	}

	feed := &Feed{Admins: admins}
	emitted := make(map[string]bool, len(byAdmin))
	for _, a := range admins {
		users, ok := byAdmin[a.Username]
		if !ok || emitted[a.Username] {
			continue
		}
		emitted[a.Username] = true
		feed.Groups = append(feed.Groups, UserGroup{Admin: a.Username, Users: users})
	}

	logger.Info("旧パネルのエクスポートを解析しました",
		slog.Int("user_count", len(export.Users)),
		slog.Int("admin_count", len(export.Admins)),
		slog.Int("group_count", len(feed.Groups)),
	)

	return feed
}
