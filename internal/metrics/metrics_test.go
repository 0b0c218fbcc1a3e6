package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric は指定名・ラベル値のメトリクスを返す。
func findMetric(t *testing.T, reg *prometheus.Registry, name, labelValue string) *dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelValue == "" {
				return m
			}
			for _, lp := range m.GetLabel() {
				if lp.GetValue() == labelValue {
					return m
				}
			}
		}
	}
	t.Fatalf("metric %s{%s} not found", name, labelValue)
	return nil
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	if c := NewCollector(reg); c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordAdminMigration は管理者移行の結果と試行回数が記録されることを検証する。
func TestRecordAdminMigration(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAdminMigration("success", 1)
	c.RecordAdminMigration("success", 2)
	c.RecordAdminMigration("failed", 3)

	if v := findMetric(t, reg, "subbridge_admin_migrations_total", "success").GetCounter().GetValue(); v != 2 {
		t.Errorf("success = %v, want 2", v)
	}
	if v := findMetric(t, reg, "subbridge_admin_migrations_total", "failed").GetCounter().GetValue(); v != 1 {
		t.Errorf("failed = %v, want 1", v)
	}
	h := findMetric(t, reg, "subbridge_admin_migration_attempts", "").GetHistogram()
	if h.GetSampleCount() != 3 || h.GetSampleSum() != 6 {
		t.Errorf("attempts count/sum = %d/%v, want 3/6", h.GetSampleCount(), h.GetSampleSum())
	}
}

// TestRecordUserMigration はユーザー移行の結果がラベル別に記録されることを検証する。
func TestRecordUserMigration(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordUserMigration("created")
	c.RecordUserMigration("created")
	c.RecordUserMigration("skipped")

	if v := findMetric(t, reg, "subbridge_user_migrations_total", "created").GetCounter().GetValue(); v != 2 {
		t.Errorf("created = %v, want 2", v)
	}
	if v := findMetric(t, reg, "subbridge_user_migrations_total", "skipped").GetCounter().GetValue(); v != 1 {
		t.Errorf("skipped = %v, want 1", v)
	}
}

// TestRecordTokenRefresh はトークン更新の結果が記録されることを検証する。
func TestRecordTokenRefresh(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordTokenRefresh("login_failed")

	if v := findMetric(t, reg, "subbridge_token_refresh_total", "login_failed").GetCounter().GetValue(); v != 1 {
		t.Errorf("login_failed = %v, want 1", v)
	}
}

// TestRecordGatewayOutcome は購読リクエストの結果と転送レイテンシが記録されることを検証する。
func TestRecordGatewayOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordGatewayOutcome("proxied")
	c.RecordProxyLatency(250 * time.Millisecond)

	if v := findMetric(t, reg, "subbridge_gateway_requests_total", "proxied").GetCounter().GetValue(); v != 1 {
		t.Errorf("proxied = %v, want 1", v)
	}
	h := findMetric(t, reg, "subbridge_proxy_latency_seconds", "").GetHistogram()
	if h.GetSampleCount() != 1 || h.GetSampleSum() != 0.25 {
		t.Errorf("latency count/sum = %d/%v, want 1/0.25", h.GetSampleCount(), h.GetSampleSum())
	}
}

// TestRecordHTTPStatus_IncrementsCounterWithLabel はステータスコード別にカウントされることを検証する。
func TestRecordHTTPStatus_IncrementsCounterWithLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(404)

	if v := findMetric(t, reg, "subbridge_http_status_total", "200").GetCounter().GetValue(); v != 2 {
		t.Errorf("200 = %v, want 2", v)
	}
	if v := findMetric(t, reg, "subbridge_http_status_total", "404").GetCounter().GetValue(); v != 1 {
		t.Errorf("404 = %v, want 1", v)
	}
}

// TestCollector_ImplementsMetricsCollectorInterface はインターフェースの実装を検証する。
func TestCollector_ImplementsMetricsCollectorInterface(t *testing.T) {
	var _ MetricsCollector = (*Collector)(nil)
}

// TestMultipleCollectors_IndependentRegistries はレジストリごとに独立して登録できることを検証する。
func TestMultipleCollectors_IndependentRegistries(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()

	c1 := NewCollector(reg1)
	_ = NewCollector(reg2)

	c1.RecordGatewayOutcome("revoked")

	families, err := reg2.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range families {
		if mf.GetName() == "subbridge_gateway_requests_total" && len(mf.GetMetric()) != 0 {
			t.Error("reg2 should not observe metrics recorded on reg1")
		}
	}
}
