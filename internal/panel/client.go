// Package panel は新パネルのREST APIクライアントを提供する。
// 管理者トークンの取得、管理者・サービス・ユーザーの作成と参照、インバウンド一覧を扱う。
package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/hitoshi/subbridge/internal/model"
)

const (
	// userAgent は新パネルへのリクエストに付与するUser-Agent。
	userAgent = "Subbridge/1.0"
	// maxErrorBodyBytes はエラーレスポンスから読み取る本文の上限。
	maxErrorBodyBytes = 4096
	// inboundPageSize はインバウンド一覧取得時のページサイズ。
	inboundPageSize = 100
)

// ErrNotFound は新パネルが404を返した場合のエラー。
var ErrNotFound = errors.New("resource not found on backend")

// ErrUnauthenticated はベアラートークンを取得できない場合のエラー。
var ErrUnauthenticated = errors.New("no bearer token available")

// StatusError は新パネルが2xx以外のステータスを返した場合のエラー。
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: backend returned status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Is は404を ErrNotFound として扱う。
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// TokenProvider はリクエスト時にベアラートークンを供給する関数。
// ゲートウェイでは永続化された認証情報を読み出す実装が渡される。
type TokenProvider func(ctx context.Context) (string, error)

// Client は新パネルのAPIクライアント。
// Login で取得したトークン、または TokenProvider のトークンで認証する。
type Client struct {
	httpClient    *http.Client
	logger        *slog.Logger
	baseURL       string
	limiter       *rate.Limiter
	tokenProvider TokenProvider

	mu    sync.RWMutex
	token string
}

// NewClient は Client の新しいインスタンスを生成する。
// limiter が nil の場合はリクエスト間隔を制御しない。
func NewClient(httpClient *http.Client, baseURL string, limiter *rate.Limiter, logger *slog.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    strings.TrimRight(baseURL, "/"),
		limiter:    limiter,
	}
}

// WithTokenProvider はトークン供給関数を設定した Client を返す。
// Login で取得したトークンがある場合はそちらが優先される。
func (c *Client) WithTokenProvider(provider TokenProvider) *Client {
	c.tokenProvider = provider
	return c
}

// BaseURL は接続先のベースURLを返す。
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Login は管理者の資格情報でトークンを取得し、以降のリクエストに使用する。
func (c *Client) Login(ctx context.Context, username, password string) (*model.AdminToken, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	var token model.AdminToken
	err := c.do(ctx, http.MethodPost, "/api/admins/token", "application/x-www-form-urlencoded",
		strings.NewReader(form.Encode()), false, &token)
	if err != nil {
		c.logger.Error("新パネルへのログインに失敗しました",
			slog.String("admin", username),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("login as %s: %w", username, err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("login as %s: empty access token", username)
	}

	c.mu.Lock()
	c.token = token.AccessToken
	c.mu.Unlock()

	return &token, nil
}

// GetAdmin は管理者を取得する。存在しない場合は ErrNotFound を返す。
func (c *Client) GetAdmin(ctx context.Context, username string) (*model.Admin, error) {
	var admin model.Admin
	if err := c.doJSON(ctx, http.MethodGet, "/api/admins/"+url.PathEscape(username), nil, &admin); err != nil {
		return nil, err
	}
	return &admin, nil
}

// CreateAdmin は管理者を作成する。
func (c *Client) CreateAdmin(ctx context.Context, req model.AdminCreate) (*model.Admin, error) {
	var admin model.Admin
	if err := c.doJSON(ctx, http.MethodPost, "/api/admins", req, &admin); err != nil {
		return nil, err
	}
	return &admin, nil
}

// UpdateAdmin は既存の管理者を更新する。
func (c *Client) UpdateAdmin(ctx context.Context, username string, req model.AdminUpdate) (*model.Admin, error) {
	var admin model.Admin
	if err := c.doJSON(ctx, http.MethodPut, "/api/admins/"+url.PathEscape(username), req, &admin); err != nil {
		return nil, err
	}
	return &admin, nil
}

// CreateService はサービスを作成する。
func (c *Client) CreateService(ctx context.Context, req model.ServiceCreate) (*model.Service, error) {
	var service model.Service
	if err := c.doJSON(ctx, http.MethodPost, "/api/services", req, &service); err != nil {
		return nil, err
	}
	return &service, nil
}

// CreateUser はユーザーを作成する。
func (c *Client) CreateUser(ctx context.Context, req model.UserCreate) (*model.BackendUser, error) {
	var user model.BackendUser
	if err := c.doJSON(ctx, http.MethodPost, "/api/users", req, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUser はユーザーを取得する。存在しない場合は ErrNotFound を返す。
func (c *Client) GetUser(ctx context.Context, username string) (*model.BackendUser, error) {
	var user model.BackendUser
	if err := c.doJSON(ctx, http.MethodGet, "/api/users/"+url.PathEscape(username), nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// ListInbounds は設定済みのインバウンドを全ページ分取得する。
func (c *Client) ListInbounds(ctx context.Context) ([]model.Inbound, error) {
	var inbounds []model.Inbound
	for page := 1; ; page++ {
		path := fmt.Sprintf("/api/inbounds?page=%d&size=%d", page, inboundPageSize)
		var resp model.InboundPage
		if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
			return nil, err
		}
		inbounds = append(inbounds, resp.Items...)
		if len(resp.Items) == 0 || len(inbounds) >= resp.Total {
			return inbounds, nil
		}
	}
}

// FetchSubscription は購読配信パスにGETリクエストを転送する。
// リダイレクトは追従し、レスポンスはそのまま呼び出し元に返す（Bodyのクローズは呼び出し元の責務）。
func (c *Client) FetchSubscription(ctx context.Context, target string, header http.Header, query url.Values) (*http.Response, error) {
	reqURL, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid subscription URL %q: %w", target, err)
	}
	if len(query) > 0 {
		q := reqURL.Query()
		for key, values := range query {
			for _, v := range values {
				q.Add(key, v)
			}
		}
		reqURL.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	for key, values := range header {
		if strings.EqualFold(key, "Host") {
			continue
		}
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	return c.httpClient.Do(req)
}

// doJSON はJSONボディを伴う認証付きリクエストを実行する。
func (c *Client) doJSON(ctx context.Context, method, path string, payload any, out any) error {
	var body io.Reader
	contentType := ""
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("リクエストJSONの生成に失敗しました: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	return c.do(ctx, method, path, contentType, body, true, out)
}

// do はリクエストを実行し、2xxのレスポンスを out にデコードする。
func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, authenticated bool, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if authenticated {
		token, err := c.bearer(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("新パネルAPIの呼び出しに失敗しました",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		statusErr := &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
		if resp.StatusCode != http.StatusNotFound {
			c.logger.Warn("新パネルAPIがエラーステータスを返しました",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("http_status", resp.StatusCode),
			)
		}
		return statusErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.logger.Error("新パネルAPIのレスポンスのパースに失敗しました",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	return nil
}

// bearer は使用するベアラートークンを返す。
func (c *Client) bearer(ctx context.Context) (string, error) {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		return token, nil
	}
	if c.tokenProvider == nil {
		return "", ErrUnauthenticated
	}
	token, err := c.tokenProvider(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if token == "" {
		return "", ErrUnauthenticated
	}
	return token, nil
}
