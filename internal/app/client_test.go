package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/subbridge/internal/config"
	"github.com/hitoshi/subbridge/internal/model"
)

func newTestLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, nil))
}

// TestNewGatewayClient_ConcurrentLookupsAreIndependent は同時に届いた購読リクエストの
// ユーザー参照が、移行用のレート制限に待たされずに並行して実行されることを検証する。
func TestNewGatewayClient_ConcurrentLookupsAreIndependent(t *testing.T) {
	const n = 40

	var inflight, peak atomic.Int32
	release := make(chan struct{})
	var releaseOnce sync.Once

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := inflight.Add(1)
		defer inflight.Add(-1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		if cur >= n {
			releaseOnce.Do(func() { close(release) })
		}
		// 全リクエストが揃うまで待つ。揃わなければタイムアウトで応答する。
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(model.BackendUser{Username: "alice", SubscriptionURL: "/sub/alice/key"})
	}))
	defer srv.Close()

	cfg := &config.Config{
		BackendAddress:   srv.URL,
		BackendTimeout:   10 * time.Second,
		BackendRateLimit: 10,
	}
	client := newGatewayClient(cfg, newTestLogger(&bytes.Buffer{})).
		WithTokenProvider(func(ctx context.Context) (string, error) { return "cached-token", nil })

	var wg sync.WaitGroup
	errs := make(chan error, n)
	start := time.Now()
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := client.GetUser(context.Background(), "alice"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	elapsed := time.Since(start)

	for err := range errs {
		t.Errorf("GetUser() error = %v", err)
	}
	if got := peak.Load(); got != n {
		t.Errorf("peak concurrent lookups = %d, want %d", got, n)
	}
	if elapsed >= 2*time.Second {
		t.Errorf("%d concurrent lookups took %v, want them served in parallel", n, elapsed)
	}
}

// TestNewPanelClient_PacesCalls は移行用クライアントが BACKEND_RATE_LIMIT で呼び出しを制御することを検証する。
func TestNewPanelClient_PacesCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(model.BackendUser{Username: "alice"})
	}))
	defer srv.Close()

	cfg := &config.Config{
		BackendAddress:   srv.URL,
		BackendTimeout:   5 * time.Second,
		BackendRateLimit: 1,
	}
	client := newPanelClient(cfg, newTestLogger(&bytes.Buffer{})).
		WithTokenProvider(func(ctx context.Context) (string, error) { return "cached-token", nil })

	// バースト1のため、2回目の呼び出しはリミッターで待たされ期限切れになる。
	if _, err := client.GetUser(context.Background(), "alice"); err != nil {
		t.Fatalf("first GetUser() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if _, err := client.GetUser(ctx, "alice"); err == nil {
		t.Error("second GetUser() should be held back by the limiter")
	}
}
