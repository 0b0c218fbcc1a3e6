// Package auth は旧パネルが発行した購読トークンの検証を提供する。
// 署名付き構造化トークン（HS256）と旧形式のコンパクトトークンの2方式に対応する。
package auth

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/subbridge/internal/model"
)

const (
	// signedTokenPrefix はHS256署名付きトークンの固定ヘッダー部分。
	signedTokenPrefix = "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9."
	// minTokenLength はこれより短いトークンを検証せずに拒否する長さ。
	minTokenLength = 15
	// compactSignatureLength はコンパクトトークン末尾の署名の長さ。
	compactSignatureLength = 10
	// subscriptionAccess は購読トークンのアクセス種別。
	subscriptionAccess = "subscription"
)

// ErrInvalidToken はトークンが無効な場合のエラー。
// どの方式・どの検証で失敗したかは呼び出し元に公開しない。
var ErrInvalidToken = errors.New("invalid subscription token")

// Scheme はトークンの方式。
type Scheme int

const (
	// SchemeSigned はHS256で署名された構造化トークン。
	SchemeSigned Scheme = iota
	// SchemeCompact は "username,issued_at" をBase64化し短い署名を付与した旧形式のトークン。
	SchemeCompact
)

// Classify はトークンの方式を判定する。
func Classify(token string) Scheme {
	if strings.HasPrefix(token, signedTokenPrefix) {
		return SchemeSigned
	}
	return SchemeCompact
}

type strategy func(token string) (model.SubscriptionClaim, error)

// Verifier は旧パネルの共有シークレットで購読トークンを検証する。
type Verifier struct {
	secret     []byte
	strategies map[Scheme]strategy
}

// NewVerifier は Verifier の新しいインスタンスを生成する。
func NewVerifier(secret string) *Verifier {
	v := &Verifier{secret: []byte(secret)}
	v.strategies = map[Scheme]strategy{
		SchemeSigned:  v.verifySigned,
		SchemeCompact: v.verifyCompact,
	}
	return v
}

// Verify はトークンを検証し、ユーザー名と発行時刻を返す。
// 失敗時は常に ErrInvalidToken を返す。
func (v *Verifier) Verify(token string) (model.SubscriptionClaim, error) {
	if len(token) < minTokenLength {
		return model.SubscriptionClaim{}, ErrInvalidToken
	}
	claim, err := v.strategies[Classify(token)](token)
	if err != nil {
		return model.SubscriptionClaim{}, ErrInvalidToken
	}
	return claim, nil
}

// subscriptionClaims は署名付きトークンのクレーム。
type subscriptionClaims struct {
	Access string `json:"access"`
	jwt.RegisteredClaims
}

func (v *Verifier) verifySigned(token string) (model.SubscriptionClaim, error) {
	claims := new(subscriptionClaims)
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return model.SubscriptionClaim{}, ErrInvalidToken
	}
	if claims.Access != subscriptionAccess || claims.Subject == "" || claims.IssuedAt == nil {
		return model.SubscriptionClaim{}, ErrInvalidToken
	}
	return model.SubscriptionClaim{
		Username: claims.Subject,
		IssuedAt: claims.IssuedAt.UTC(),
	}, nil
}

func (v *Verifier) verifyCompact(token string) (model.SubscriptionClaim, error) {
	body, signature := token[:len(token)-compactSignatureLength], token[len(token)-compactSignatureLength:]

	decoded, err := decodeCompactBody(body)
	if err != nil {
		return model.SubscriptionClaim{}, ErrInvalidToken
	}

	// 旧パネルとの互換のため通常の比較を行う
	if signature != compactSignature(body, v.secret) {
		return model.SubscriptionClaim{}, ErrInvalidToken
	}

	parts := strings.Split(decoded, ",")
	if len(parts) != 2 {
		return model.SubscriptionClaim{}, ErrInvalidToken
	}
	issuedAt, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil {
		return model.SubscriptionClaim{}, ErrInvalidToken
	}
	return model.SubscriptionClaim{
		Username: parts[0],
		IssuedAt: time.Unix(issuedAt, 0).UTC(),
	}, nil
}

// decodeCompactBody はパディングを補ってURLセーフBase64をデコードする。
func decodeCompactBody(body string) (string, error) {
	if pad := len(body) % 4; pad != 0 {
		body += strings.Repeat("=", 4-pad)
	}
	raw, err := base64.URLEncoding.DecodeString(body)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(raw) {
		return "", ErrInvalidToken
	}
	return string(raw), nil
}

// compactSignature はSHA-256(body + secret) のURLセーフBase64表現の先頭10文字を返す。
func compactSignature(body string, secret []byte) string {
	sum := sha256.Sum256(append([]byte(body), secret...))
	return base64.URLEncoding.EncodeToString(sum[:])[:compactSignatureLength]
}
