package mouse_telemetry

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestRPC_EndpointAndStatus(t *testing.T) {
	p := newServedPlugin(t, &Config{Enabled: true})
	rpc := NewRPC(p, zap.NewNop())

	var result SubmitResult
	if err := rpc.UpdateApiEndpoint("http://localhost:3000/api/mouse-data", &result); err != nil {
		t.Fatalf("rpc failed: %v", err)
	}
	if !result.Success {
		t.Fatalf("update failed: %s", result.Error)
	}

	var endpoint EndpointResponse
	if err := rpc.GetApiEndpoint("", &endpoint); err != nil {
		t.Fatalf("rpc failed: %v", err)
	}
	if endpoint.Endpoint != "http://localhost:3000/api/mouse-data" {
		t.Errorf("unexpected endpoint %q", endpoint.Endpoint)
	}

	var status Status
	if err := rpc.GetStatus("", &status); err != nil {
		t.Fatalf("rpc failed: %v", err)
	}
	if status.UserID == "" || status.APIEndpoint != endpoint.Endpoint {
		t.Errorf("unexpected status: %+v", status)
	}

	result = SubmitResult{}
	if err := rpc.UpdateApiEndpoint("javascript:alert(1)", &result); err != nil {
		t.Fatalf("rpc failed: %v", err)
	}
	if result.Success {
		t.Error("expected rejection of a non-http endpoint")
	}
}

func TestRPC_MouseSample(t *testing.T) {
	collector, received := newCollector(t)
	p := newServedPlugin(t, &Config{Enabled: true, Storage: StorageConfig{Endpoint: collector.URL}})
	rpc := NewRPC(p, zap.NewNop())

	var result SubmitResult
	if err := rpc.MouseSample(testSample("s1", 2), &result); err != nil {
		t.Fatalf("rpc failed: %v", err)
	}
	if !result.Success {
		t.Fatalf("submit failed: %s", result.Error)
	}

	if payload := waitPayload(t, received); len(payload.MouseData) != 2 {
		t.Errorf("expected 2 events, got %d", len(payload.MouseData))
	}
}

func TestRPC_PageLifecycle(t *testing.T) {
	collector, received := newCollector(t)
	p := newServedPlugin(t, &Config{
		Enabled: true,
		Sampler: SamplerConfig{MinForcedDuration: time.Nanosecond},
		Storage: StorageConfig{Endpoint: collector.URL},
	})
	rpc := NewRPC(p, zap.NewNop())

	var pageID string
	if err := rpc.OpenPage(PageInfo{Domain: "example.com", ViewportWidth: 1280, ViewportHeight: 720}, &pageID); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	var ok bool
	if err := rpc.PageSignal(&PageSignalRequest{PageID: pageID, Signal: PageSignal{Type: string(EventClick), ClientX: 5, ClientY: 6}}, &ok); err != nil || !ok {
		t.Fatalf("signal failed: %v", err)
	}
	if err := rpc.ClosePage(pageID, &ok); err != nil || !ok {
		t.Fatalf("close failed: %v", err)
	}

	payload := waitPayload(t, received)
	if len(payload.MouseData) != 1 || payload.MouseData[0].Type != EventClick {
		t.Errorf("unexpected payload: %+v", payload)
	}

	if err := rpc.ClosePage(pageID, &ok); err == nil || ok {
		t.Error("closing an unknown page must fail")
	}
}

func TestRPC_GetStats(t *testing.T) {
	var hits atomic.Int32
	collector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer collector.Close()

	p := newServedPlugin(t, &Config{
		Enabled: true,
		Storage: StorageConfig{Endpoint: collector.URL},
		Transport: TransportConfig{
			Breaker: BreakerConfig{Enabled: true, FailureThreshold: 5, Timeout: time.Minute, MaxRequests: 1},
		},
	})
	rpc := NewRPC(p, zap.NewNop())

	var pageID string
	if err := rpc.OpenPage(PageInfo{Domain: "example.com"}, &pageID); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	var result SubmitResult
	if err := rpc.MouseSample(testSample("s1", 1), &result); err != nil || !result.Success {
		t.Fatalf("submit failed: %v %s", err, result.Error)
	}

	var stats Stats
	deadline := time.Now().Add(5 * time.Second)
	for {
		if err := rpc.GetStats("", &stats); err != nil {
			t.Fatalf("rpc failed: %v", err)
		}
		if len(stats.RateLimits) == 1 && stats.Queue.RetryLength == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("throttling never showed up in stats: %+v", stats)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if stats.OpenPages != 1 {
		t.Errorf("expected 1 open page, got %d", stats.OpenPages)
	}
	if stats.Breaker != "closed" {
		t.Errorf("expected closed breaker, got %q", stats.Breaker)
	}
	if stats.Retry["max_attempts"] != 3 || stats.Retry["initial_backoff"] != "5s" {
		t.Errorf("unexpected retry policy: %v", stats.Retry)
	}
	if hits.Load() != 1 {
		t.Errorf("expected one request, got %d", hits.Load())
	}
}
