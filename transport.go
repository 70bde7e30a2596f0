package mouse_telemetry

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// maxErrorBody bounds the response body kept in a DeliveryError
const maxErrorBody = 512

// HTTPTransport handles HTTP communication with the collection endpoint
type HTTPTransport struct {
	config      *TransportConfig
	client      *http.Client
	logger      *zap.Logger
	rateLimiter *RateLimiter
	breaker     *gobreaker.CircuitBreaker[struct{}]
}

// NewHTTPTransport creates a new HTTP transport
func NewHTTPTransport(config *TransportConfig, logger *zap.Logger) (*HTTPTransport, error) {
	transport := &http.Transport{
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: config.InsecureSkipVerify, //nolint:gosec // opt-in for self-signed collectors
		},
	}

	// Configure proxy if specified
	if config.Proxy != "" {
		proxyURL, err := url.Parse(config.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	t := &HTTPTransport{
		config: config,
		client: &http.Client{
			Transport: transport,
			Timeout:   config.Timeout,
		},
		logger:      logger,
		rateLimiter: NewRateLimiter(logger),
	}

	if config.Breaker.Enabled {
		t.breaker = newBreaker(config.Breaker, logger)
	}

	return t, nil
}

func newBreaker(cfg BreakerConfig, logger *zap.Logger) *gobreaker.CircuitBreaker[struct{}] {
	return gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        PluginName,
		MaxRequests: cfg.MaxRequests,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Delivery circuit breaker changed state",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
}

// Send posts the payload to the endpoint. Any 2xx response is a success.
func (t *HTTPTransport) Send(ctx context.Context, endpoint string, payload *Payload) error {
	ep, err := ParseEndpoint(endpoint)
	if err != nil {
		return err
	}

	if t.rateLimiter.IsRateLimited(ep.Key()) {
		disabledUntil := t.rateLimiter.GetDisabledUntil(ep.Key())
		t.logger.Warn("Endpoint rate limited",
			zap.String("endpoint", endpoint),
			zap.Time("disabled_until", disabledUntil))
		return fmt.Errorf("%w until %s", ErrRateLimited, disabledUntil.Format(time.RFC3339))
	}

	if t.breaker == nil {
		return t.send(ctx, ep, payload)
	}

	_, err = t.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, t.send(ctx, ep, payload)
	})
	return err
}

func (t *HTTPTransport) send(ctx context.Context, ep *Endpoint, payload *Payload) error {
	req, err := t.createRequest(ctx, ep.String, payload)
	if err != nil {
		return err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		t.rateLimiter.HandleRateLimitHeaders(ep.Key(), resp.Header)
	}

	return &DeliveryError{
		StatusCode: resp.StatusCode,
		Status:     http.StatusText(resp.StatusCode),
		Body:       string(body),
	}
}

// createRequest creates an HTTP request for the payload
func (t *HTTPTransport) createRequest(ctx context.Context, endpoint string, payload *Payload) (*http.Request, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	var body io.Reader = bytes.NewReader(data)
	var contentEncoding string

	if t.config.Compression {
		var buf bytes.Buffer
		gzipWriter := gzip.NewWriter(&buf)
		if _, err := gzipWriter.Write(data); err != nil {
			return nil, fmt.Errorf("failed to compress payload: %w", err)
		}
		if err := gzipWriter.Close(); err != nil {
			return nil, fmt.Errorf("failed to close gzip writer: %w", err)
		}
		body = &buf
		contentEncoding = "gzip"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", t.config.UserAgent)
	if contentEncoding != "" {
		req.Header.Set("Content-Encoding", contentEncoding)
	}

	return req, nil
}

// Probe checks that the endpoint answers a GET with a 2xx
func (t *HTTPTransport) Probe(ctx context.Context, endpoint string) error {
	ep, err := ParseEndpoint(endpoint)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.String, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", t.config.UserAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DeliveryError{StatusCode: resp.StatusCode, Status: http.StatusText(resp.StatusCode)}
	}
	return nil
}

// BreakerState returns the circuit breaker state, or "disabled"
func (t *HTTPTransport) BreakerState() string {
	if t.breaker == nil {
		return "disabled"
	}
	return t.breaker.State().String()
}

// GetRateLimiter returns the rate limiter
func (t *HTTPTransport) GetRateLimiter() *RateLimiter {
	return t.rateLimiter
}

// Close closes the transport
func (t *HTTPTransport) Close() error {
	if t.client != nil {
		t.client.CloseIdleConnections()
	}
	return nil
}
