package mouse_telemetry

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// newCollector answers GET probes and forwards POSTed payloads
func newCollector(t *testing.T) (*httptest.Server, chan *Payload) {
	t.Helper()
	received := make(chan *Payload, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			return
		}
		var p Payload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		received <- &p
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, received
}

func newAPIServer(t *testing.T, cfg *Config) (*Plugin, *httptest.Server) {
	t.Helper()
	p := newServedPlugin(t, cfg)
	srv := httptest.NewServer(p.Handler())
	t.Cleanup(srv.Close)
	return p, srv
}

func postMessage(t *testing.T, srv *httptest.Server, msg interface{}) (*http.Response, []byte) {
	t.Helper()
	body, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	resp, err := http.Post(srv.URL+"/messages", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post failed: %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func waitPayload(t *testing.T, ch chan *Payload) *Payload {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("collector received nothing")
		return nil
	}
}

func TestHTTP_Healthz(t *testing.T) {
	_, srv := newAPIServer(t, &Config{Enabled: true})

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Errorf("unexpected health response %d %q", resp.StatusCode, body)
	}
}

func TestHTTP_MessageFlow(t *testing.T) {
	collector, received := newCollector(t)
	_, srv := newAPIServer(t, &Config{Enabled: true})

	resp, body := postMessage(t, srv, &Message{Type: MessageTestAPIEndpoint, Endpoint: collector.URL})
	var result SubmitResult
	_ = json.Unmarshal(body, &result)
	if resp.StatusCode != http.StatusOK || !result.Success {
		t.Fatalf("endpoint test failed: %d %s", resp.StatusCode, body)
	}

	_, body = postMessage(t, srv, &Message{Type: MessageUpdateAPIEndpoint, Endpoint: collector.URL})
	result = SubmitResult{}
	_ = json.Unmarshal(body, &result)
	if !result.Success {
		t.Fatalf("endpoint update failed: %s", body)
	}

	_, body = postMessage(t, srv, &Message{Type: MessageGetAPIEndpoint})
	var endpoint EndpointResponse
	_ = json.Unmarshal(body, &endpoint)
	if endpoint.Endpoint != collector.URL {
		t.Fatalf("unexpected endpoint %q", endpoint.Endpoint)
	}

	_, body = postMessage(t, srv, &Message{Type: MessageMouseSample, Data: testSample("s1", 4)})
	result = SubmitResult{}
	_ = json.Unmarshal(body, &result)
	if !result.Success {
		t.Fatalf("sample submit failed: %s", body)
	}

	payload := waitPayload(t, received)
	if len(payload.MouseData) != 4 {
		t.Errorf("expected 4 events, got %d", len(payload.MouseData))
	}

	_, body = postMessage(t, srv, &Message{Type: MessageGetStatus})
	var status Status
	_ = json.Unmarshal(body, &status)
	if status.UserID == "" || status.UserID != payload.UserID {
		t.Errorf("status user %q does not match payload user %q", status.UserID, payload.UserID)
	}
	if status.APIEndpoint != collector.URL {
		t.Errorf("unexpected status endpoint %q", status.APIEndpoint)
	}
}

func TestHTTP_RejectsBadEndpoint(t *testing.T) {
	_, srv := newAPIServer(t, &Config{Enabled: true})

	_, body := postMessage(t, srv, &Message{Type: MessageUpdateAPIEndpoint, Endpoint: "not a url"})
	var result SubmitResult
	_ = json.Unmarshal(body, &result)
	if result.Success || result.Error == "" {
		t.Errorf("expected rejection, got %s", body)
	}
}

func TestHTTP_UnknownMessage(t *testing.T) {
	_, srv := newAPIServer(t, &Config{Enabled: true})

	resp, _ := postMessage(t, srv, map[string]string{"type": "reboot"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestHTTP_InvalidJSON(t *testing.T) {
	_, srv := newAPIServer(t, &Config{Enabled: true})

	resp, err := http.Post(srv.URL+"/messages", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatalf("post failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestHTTP_Metrics(t *testing.T) {
	_, srv := newAPIServer(t, &Config{Enabled: true})

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(body), "rr_mouse_telemetry_received_samples_total") {
		t.Errorf("metrics output misses plugin counters:\n%s", body)
	}
}

func TestHTTP_PageStream(t *testing.T) {
	collector, received := newCollector(t)
	p, srv := newAPIServer(t, &Config{
		Enabled: true,
		Sampler: SamplerConfig{MinForcedDuration: time.Nanosecond},
		Storage: StorageConfig{Endpoint: collector.URL},
	})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/pages/ws?domain=example.com&width=800&height=600"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	_, hello, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read hello failed: %v", err)
	}
	var opened map[string]string
	if err := json.Unmarshal(hello, &opened); err != nil || opened["pageId"] == "" {
		t.Fatalf("unexpected hello %q", hello)
	}

	time.Sleep(5 * time.Millisecond)
	for i := 0; i < 3; i++ {
		frame, _ := json.Marshal(move(float64(i), 10))
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}
	unload, _ := json.Marshal(PageSignal{Type: SignalBeforeUnload})
	if err := conn.WriteMessage(websocket.TextMessage, unload); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	payload := waitPayload(t, received)
	if len(payload.MouseData) != 3 {
		t.Fatalf("expected 3 events, got %d", len(payload.MouseData))
	}
	event := payload.MouseData[0]
	if event.Domain != "example.com" || event.ViewportWidth != 800 || event.ViewportHeight != 600 {
		t.Errorf("unexpected event: %+v", event)
	}

	deadline := time.Now().Add(2 * time.Second)
	for p.pages.Count() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if p.pages.Count() != 0 {
		t.Errorf("page must be released after unload, %d open", p.pages.Count())
	}
}

func TestHTTP_PageStreamRejectsOrigin(t *testing.T) {
	_, srv := newAPIServer(t, &Config{
		Enabled: true,
		HTTP:    HTTPConfig{AllowedOrigins: []string{"https://allowed.example"}},
	})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/pages/ws"
	header := http.Header{}
	header.Set("Origin", "https://evil.example")

	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %v", resp)
	}
}
