// Package identity は旧パネルのユーザー名から新パネルのユーザー名・購読キーへの変換を提供する。
// 移行処理と購読ゲートウェイは必ずこのパッケージの同一関数を呼び出す。
// 実装が分岐すると、移行済みユーザーのライブ参照が失敗する。
package identity

import (
	"crypto/md5"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

const (
	// MaxUsernameLength は新パネルのユーザー名の最大長。
	MaxUsernameLength = 32
	// hashSuffixModulus はハッシュ接尾辞の値域（4桁）。
	hashSuffixModulus = 10000
)

// Goの \w はASCIIのみ。"Ünïcode-User" は "ncodeuser_2917" になり、Unicodeの \w で正規化した移行データとは一致しない。
var nonWordPattern = regexp.MustCompile(`[^\w]`)

// ExceptionSet は単純な小文字化・ハイフン置換では安全に正規化できない旧ユーザー名の集合。
// 移行前に1回だけ構築し、移行済みデータが存在する限り変更してはならない。
type ExceptionSet struct {
	names map[string]struct{}
}

// NewExceptionSet は旧ユーザー名のリストからExceptionSetを生成する。
func NewExceptionSet(usernames []string) *ExceptionSet {
	names := make(map[string]struct{}, len(usernames))
	for _, u := range usernames {
		names[u] = struct{}{}
	}
	return &ExceptionSet{names: names}
}

// Contains は旧ユーザー名が例外集合に含まれるかを返す。nil の集合は空集合として扱う。
func (s *ExceptionSet) Contains(username string) bool {
	if s == nil {
		return false
	}
	_, ok := s.names[username]
	return ok
}

// Len は例外集合の要素数を返す。
func (s *ExceptionSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.names)
}

// Username は旧ユーザー名を新パネルの正規ユーザー名に変換する。
//
// 例外集合に含まれない場合は小文字化して '-' を '_' に置換する。
// 含まれる場合は小文字化して英数字・アンダースコア以外を除去し、
// 元のユーザー名のMD5ダイジェストを整数とみなした値の下4桁（ゼロ埋め）を '_' で連結して
// 32文字に切り詰める。
func Username(legacy string, exceptional bool) string {
	if !exceptional {
		return strings.ReplaceAll(strings.ToLower(legacy), "-", "_")
	}

	clean := nonWordPattern.ReplaceAllString(strings.ToLower(legacy), "")
	result := clean + "_" + hashSuffix(legacy)
	if len(result) > MaxUsernameLength {
		result = result[:MaxUsernameLength]
	}
	return result
}

// Transcode はExceptionSetの判定を含めて旧ユーザー名を変換する。
func (s *ExceptionSet) Transcode(legacy string) string {
	return Username(legacy, s.Contains(legacy))
}

// hashSuffix はMD5ダイジェストの数値を10000で割った余りを4桁の10進文字列で返す。
func hashSuffix(username string) string {
	sum := md5.Sum([]byte(username))
	n := new(big.Int).SetBytes(sum[:])
	n.Mod(n, big.NewInt(hashSuffixModulus))
	return fmt.Sprintf("%04d", n.Int64())
}

// SubscriptionKey は旧パネルのUUIDから新パネルの購読キーを導出する。
// 前後の引用符を除去し、ハイフンをすべて取り除く。
// 既存の購読URLを有効なまま保つため、結果はそのまま新パネルのキーとして再利用される。
// UUIDが存在しない場合は空文字列を返し、キーの生成は新パネルに委ねる。
func SubscriptionKey(uuid *string) string {
	if uuid == nil {
		return ""
	}
	trimmed := strings.Trim(strings.TrimSpace(*uuid), `"'`)
	return strings.ReplaceAll(trimmed, "-", "")
}
