package handler

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/subbridge/internal/auth"
	"github.com/hitoshi/subbridge/internal/gateway"
	"github.com/hitoshi/subbridge/internal/identity"
	"github.com/hitoshi/subbridge/internal/model"
	"github.com/hitoshi/subbridge/internal/panel"
)

const integrationSecret = "integration-secret"

// --- 統合テスト用のモック ---

type integrationBackend struct {
	users        map[string]*model.BackendUser
	getUserCalls int
	fetched      []string
}

func (b *integrationBackend) GetUser(ctx context.Context, username string) (*model.BackendUser, error) {
	b.getUserCalls++
	user, ok := b.users[username]
	if !ok {
		return nil, fmt.Errorf("get user %s: %w", username, panel.ErrNotFound)
	}
	return user, nil
}

func (b *integrationBackend) FetchSubscription(ctx context.Context, target string, header http.Header, query url.Values) (*http.Response, error) {
	b.fetched = append(b.fetched, target)
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"text/plain"}},
		Body:       io.NopCloser(strings.NewReader("config for " + target)),
	}, nil
}

// integrationCompactToken は旧パネルと同じ手順でコンパクトトークンを生成する。
func integrationCompactToken(username string, issuedAt time.Time) string {
	body := base64.RawURLEncoding.EncodeToString([]byte(username + "," + strconv.FormatInt(issuedAt.Unix(), 10)))
	sum := sha256.Sum256([]byte(body + integrationSecret))
	return body + base64.URLEncoding.EncodeToString(sum[:])[:10]
}

func newIntegrationRouter(backend *integrationBackend, buf *bytes.Buffer) http.Handler {
	logger := newTestLogger(buf)
	svc := gateway.NewService(
		auth.NewVerifier(integrationSecret),
		identity.NewExceptionSet(nil),
		backend,
		"https://panel.example.com:8443",
		logger,
		nil,
	)
	return NewRouter(&RouterDeps{
		Logger:           logger,
		SubscriptionPath: "sub",
		Gateway:          svc,
	})
}

func TestIntegration_ValidCompactTokenIsProxied(t *testing.T) {
	backend := &integrationBackend{users: map[string]*model.BackendUser{
		"john_doe": {
			Username:        "john_doe",
			CreatedAt:       model.Timestamp{Time: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)},
			SubscriptionURL: "/sub/john_doe/abc",
		},
	}}
	var buf bytes.Buffer
	router := newIntegrationRouter(backend, &buf)

	token := integrationCompactToken("John-Doe", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sub/"+token+"/", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body=%s", w.Code, w.Body.String())
	}
	want := "https://panel.example.com:8443/sub/john_doe/abc"
	if len(backend.fetched) != 1 || backend.fetched[0] != want {
		t.Errorf("fetched = %v, want [%s]", backend.fetched, want)
	}
	if w.Body.String() != "config for "+want {
		t.Errorf("body = %q", w.Body.String())
	}
}

// 署名を1文字改ざんしたトークンは400となり、新パネルへの問い合わせは行われない。
func TestIntegration_TamperedCompactTokenIsRejected(t *testing.T) {
	backend := &integrationBackend{users: map[string]*model.BackendUser{}}
	var buf bytes.Buffer
	router := newIntegrationRouter(backend, &buf)

	token := integrationCompactToken("alice", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	last := token[len(token)-1]
	replacement := byte('A')
	if last == 'A' {
		replacement = 'B'
	}
	tampered := token[:len(token)-1] + string(replacement)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sub/"+tampered, nil))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), model.ErrCodeInvalidSubscription) {
		t.Errorf("body = %s", w.Body.String())
	}
	if backend.getUserCalls != 0 || len(backend.fetched) != 0 {
		t.Errorf("backend called: getUser=%d fetched=%v", backend.getUserCalls, backend.fetched)
	}
	if strings.Contains(buf.String(), tampered) {
		t.Error("token must not be logged")
	}
}
