package identity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// \w はASCIIのみ（[0-9A-Za-z_]）。非ASCII文字を含む名前は常に例外集合に入る。
var safeUsernamePattern = regexp.MustCompile(`^\w{3,32}$`)

// BuildExceptions は旧ユーザー名の全リストから例外集合に入れるべきユーザー名を入力順で返す。
//
// ハイフンをアンダースコアに置換した形が以下をすべて満たす場合のみ安全とみなし、除外する。
//   - 3〜32文字の英数字・アンダースコアのみで構成される
//   - 大文字小文字を無視して他のエントリと重複しない
//   - 置換後の形が他のユーザー名と衝突しない（大文字小文字は区別しない）
//
// 同一の旧ユーザー名が複数回現れた場合、結果には1回だけ含まれる。
func BuildExceptions(usernames []string) []string {
	lowerCount := make(map[string]int, len(usernames))
	for _, u := range usernames {
		lowerCount[strings.ToLower(u)]++
	}

	var exceptions []string
	seen := make(map[string]bool)
	for _, u := range usernames {
		if seen[u] {
			continue
		}
		seen[u] = true
		if !isSafe(u, lowerCount) {
			exceptions = append(exceptions, u)
		}
	}
	return exceptions
}

// isSafe は旧ユーザー名が単純な置換で安全に正規化できるかを判定する。
func isSafe(username string, lowerCount map[string]int) bool {
	substituted := strings.ReplaceAll(username, "-", "_")
	if !safeUsernamePattern.MatchString(substituted) {
		return false
	}

	lower := strings.ToLower(username)
	if lowerCount[lower] > 1 {
		return false
	}

	lowerSubstituted := strings.ToLower(substituted)
	if lowerSubstituted != lower && lowerCount[lowerSubstituted] > 0 {
		return false
	}
	return true
}

// LoadExceptions は例外集合ファイル（JSON配列）を読み込む。
func LoadExceptions(path string) (*ExceptionSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read exception set %s: %w", path, err)
	}

	var usernames []string
	if err := json.Unmarshal(data, &usernames); err != nil {
		return nil, fmt.Errorf("failed to parse exception set %s: %w", path, err)
	}

	return NewExceptionSet(usernames), nil
}

// SaveExceptions は例外集合をJSON配列として書き出す。
// 一時ファイルへ書き込んでからリネームし、途中状態のファイルを残さない。
func SaveExceptions(path string, usernames []string) error {
	if usernames == nil {
		usernames = []string{}
	}
	data, err := json.MarshalIndent(usernames, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode exception set: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".exceptions-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write exception set: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close exception set: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to save exception set %s: %w", path, err)
	}
	return nil
}
