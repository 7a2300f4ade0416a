package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"kpi-alerts/internal/detector"
	"kpi-alerts/internal/rules"
)

func sampleAnomalies() []detector.Anomaly {
	return []detector.Anomaly{
		{Date: "2025-01-07", Metric: "売上", Value: 200, RuleID: "r1", RuleLabel: "±2.0σ over 7-period rolling", Score: 2.449489742783178, Severity: rules.Warn, Direction: rules.Up},
		{Date: "2025-01-08", Metric: "signups", Value: 3, RuleID: "r1", RuleLabel: "±2.0σ over 7-period rolling", Score: 2.1, Severity: rules.Crit, Direction: rules.Down},
	}
}

func TestBuildPayload(t *testing.T) {
	at := time.Date(2025, 1, 8, 9, 0, 0, 0, time.FixedZone("JST", 9*3600))
	p := BuildPayload(sampleAnomalies(), at)
	if p.Type != "kpi_anomalies" || p.Count != 2 || len(p.Items) != 2 {
		t.Fatalf("payload 结构不符: %+v", p)
	}
	if p.Items[0].Score != 2.45 {
		t.Fatalf("score 应保留两位小数, 实际 %v", p.Items[0].Score)
	}
	if p.Items[0].Rule != "±2.0σ over 7-period rolling" || p.Items[1].Direction != "down" {
		t.Fatalf("item 字段不符: %+v", p.Items)
	}
	if p.At.Location() != time.UTC {
		t.Fatal("时间应转换为 UTC")
	}
}

func TestBuildPayloadSkipsNonFinite(t *testing.T) {
	anomalies := append(sampleAnomalies(),
		detector.Anomaly{Date: "2025-01-09", Metric: "売上", Value: math.Inf(1), RuleID: "r2", Score: math.Inf(1), Severity: rules.Info, Direction: rules.Up},
		detector.Anomaly{Date: "2025-01-10", Metric: "売上", Value: 1, RuleID: "r2", Score: math.NaN(), Severity: rules.Info, Direction: rules.Up},
	)

	p := BuildPayload(anomalies, time.Now())
	if p.Count != 2 || len(p.Items) != 2 {
		t.Fatalf("非有限数值的异常应被剔除, got %+v", p.Items)
	}
	if _, err := json.Marshal(p); err != nil {
		t.Fatalf("payload 应可编码为 JSON: %v", err)
	}
}

func TestRenderMessageNonFinite(t *testing.T) {
	p := Payload{At: time.Now(), Count: 1, Items: []Item{{Date: "2025-01-09", Metric: "s", Value: math.Inf(1), Score: math.Inf(-1), Severity: "info", Direction: "up"}}}
	msg := renderMessage(p)
	if !strings.Contains(msg, "+Inf (score -Inf") {
		t.Fatalf("unexpected message: %q", msg)
	}
}

func TestWebhookNotifierSuccess(t *testing.T) {
	var received Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("应使用 POST, 实际 %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Fatalf("Content-Type 不正确: %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	notifier := NewWebhookNotifier(srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), BuildPayload(sampleAnomalies(), time.Now())); err != nil {
		t.Fatalf("Webhook Notify 应成功: %v", err)
	}
	if received.Count != 2 || received.Items[0].Metric != "売上" {
		t.Fatalf("webhook 收到的 payload 不符: %+v", received)
	}
}

func TestWebhookNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	notifier := NewWebhookNotifier(srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), BuildPayload(nil, time.Now())); err == nil {
		t.Fatal("502 应报错")
	}
	if err := NewWebhookNotifier("", time.Second, testLogger()).Notify(context.Background(), Payload{}); err == nil {
		t.Fatal("未配置 URL 应报错")
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), BuildPayload(sampleAnomalies(), time.Now())); err != nil {
		t.Fatalf("Telegram Notify 应成功: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	text := received["text"]
	if !strings.Contains(text, "[WARN] 2025-01-07 売上 ↑ 200 (score 2.45") || !strings.Contains(text, "↓") {
		t.Fatalf("消息内容不符: %s", text)
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), BuildPayload(sampleAnomalies(), time.Now())); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

type recordingNotifier struct {
	calls int
	err   error
}

func (r *recordingNotifier) Notify(context.Context, Payload) error {
	r.calls++
	return r.err
}

func TestMultiDeliversToAll(t *testing.T) {
	boom := errors.New("boom")
	a := &recordingNotifier{err: boom}
	b := &recordingNotifier{}
	err := Multi{a, nil, b}.Notify(context.Background(), Payload{})
	if !errors.Is(err, boom) {
		t.Fatalf("应返回成员错误, 实际 %v", err)
	}
	if a.calls != 1 || b.calls != 1 {
		t.Fatal("失败的成员不应阻止其余成员")
	}
}

func TestMemoryDeduper(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDeduper()

	first := Digest(BuildPayload(sampleAnomalies(), time.Now()))
	later := Digest(BuildPayload(sampleAnomalies(), time.Now().Add(time.Hour)))
	if first != later {
		t.Fatal("digest 不应受时间戳影响")
	}

	if changed, _ := d.Changed(ctx, first); !changed {
		t.Fatal("首次应视为变化")
	}
	if err := d.Commit(ctx, first); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if changed, _ := d.Changed(ctx, later); changed {
		t.Fatal("相同批次不应视为变化")
	}
	other := Digest(BuildPayload(sampleAnomalies()[:1], time.Now()))
	if changed, _ := d.Changed(ctx, other); !changed {
		t.Fatal("不同批次应视为变化")
	}
}

func TestRedisDeduperUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := NewRedisDeduper(ctx, RedisOptions{Addr: "127.0.0.1:1"}); err == nil {
		t.Fatal("无法连接 Redis 时应报错")
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
