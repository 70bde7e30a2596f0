package mouse_telemetry

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Message types of the inbound message API
const (
	MessageMouseSample       = "mouseSample"
	MessageUpdateAPIEndpoint = "updateApiEndpoint"
	MessageGetAPIEndpoint    = "getApiEndpoint"
	MessageGetStatus         = "getStatus"
	MessageGetStats          = "getStats"
	MessageTestAPIEndpoint   = "testApiEndpoint"
)

// Message is one request of the inbound message API
type Message struct {
	Type     string  `json:"type"`
	Data     *Sample `json:"data,omitempty"`
	Endpoint string  `json:"endpoint,omitempty"`
}

// UnknownMessageError is returned for an unsupported message type
type UnknownMessageError struct {
	Type string
}

func (e *UnknownMessageError) Error() string {
	return fmt.Sprintf("unknown message type %q", e.Type)
}

// HandleMessage answers one inbound message
func (p *Plugin) HandleMessage(ctx context.Context, msg *Message) (interface{}, error) {
	p.logger.Debug("Received message", zap.String("type", msg.Type))

	switch msg.Type {
	case MessageMouseSample:
		if msg.Data == nil {
			return nil, fmt.Errorf("mouseSample message without data")
		}
		if err := p.SubmitSample(msg.Data); err != nil {
			return &SubmitResult{Success: false, Error: err.Error()}, nil
		}
		return &SubmitResult{Success: true}, nil

	case MessageUpdateAPIEndpoint:
		return p.UpdateEndpoint(ctx, msg.Endpoint), nil

	case MessageGetAPIEndpoint:
		return p.GetEndpoint(ctx), nil

	case MessageGetStatus:
		status := p.GetStatus(ctx)
		return &status, nil

	case MessageGetStats:
		stats := p.Stats()
		return &stats, nil

	case MessageTestAPIEndpoint:
		return p.TestEndpoint(ctx, msg.Endpoint), nil

	default:
		return nil, &UnknownMessageError{Type: msg.Type}
	}
}

// SubmitSample hands a finalized sample to the dispatcher
func (p *Plugin) SubmitSample(sample *Sample) error {
	if p.dispatcher == nil {
		return fmt.Errorf("plugin not initialized")
	}
	if sample == nil {
		return fmt.Errorf("sample is nil")
	}

	return p.dispatchLoop.Post(func() {
		p.dispatcher.Enqueue(sample)
	})
}

// UpdateEndpoint validates and stores a new collection endpoint
func (p *Plugin) UpdateEndpoint(ctx context.Context, endpoint string) *SubmitResult {
	if err := p.identity.SetEndpoint(ctx, endpoint); err != nil {
		p.logger.Warn("Rejected API endpoint", zap.String("endpoint", endpoint), zap.Error(err))
		return &SubmitResult{Success: false, Error: err.Error()}
	}
	return &SubmitResult{Success: true}
}

// GetEndpoint returns the configured endpoint, empty if none
func (p *Plugin) GetEndpoint(ctx context.Context) *EndpointResponse {
	endpoint, err := p.identity.Endpoint(ctx)
	if err != nil {
		p.logger.Error("Failed to read API endpoint", zap.Error(err))
	}
	return &EndpointResponse{Endpoint: endpoint}
}

// GetStatus reports identity and queue state
func (p *Plugin) GetStatus(ctx context.Context) Status {
	userID, err := p.identity.UserID(ctx)
	if err != nil {
		p.logger.Error("Failed to read user id", zap.Error(err))
	}
	endpoint, err := p.identity.Endpoint(ctx)
	if err != nil {
		p.logger.Error("Failed to read API endpoint", zap.Error(err))
	}

	queue := p.dispatcher.Status()
	return Status{
		UserID:       userID,
		APIEndpoint:  endpoint,
		QueueLength:  queue.QueueLength,
		RetryLength:  queue.RetryLength,
		IsProcessing: queue.Draining,
	}
}

// Stats reports delivery diagnostics: queues, open pages, breaker state,
// throttled endpoints and the retry policy
func (p *Plugin) Stats() Stats {
	return Stats{
		Queue:      p.dispatcher.Status(),
		OpenPages:  p.pages.Count(),
		Breaker:    p.transport.BreakerState(),
		RateLimits: p.transport.GetRateLimiter().GetStatus(),
		Retry:      p.retryMgr.GetRetryStats(),
	}
}

// TestEndpoint checks that an endpoint answers before it is saved
func (p *Plugin) TestEndpoint(ctx context.Context, endpoint string) *SubmitResult {
	if err := p.transport.Probe(ctx, endpoint); err != nil {
		return &SubmitResult{Success: false, Error: err.Error()}
	}
	return &SubmitResult{Success: true}
}
