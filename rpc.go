package mouse_telemetry

import (
	"context"

	"github.com/roadrunner-server/errors"
	"go.uber.org/zap"
)

// RPC provides RPC methods for the page script and the settings UI
type RPC struct {
	plugin *Plugin
	logger *zap.Logger
}

// NewRPC creates a new RPC instance
func NewRPC(plugin *Plugin, logger *zap.Logger) *RPC {
	return &RPC{
		plugin: plugin,
		logger: logger,
	}
}

// PageSignalRequest carries a signal for an open page
type PageSignalRequest struct {
	PageID string     `json:"pageId"`
	Signal PageSignal `json:"signal"`
}

// MouseSample queues a finalized sample for delivery
func (r *RPC) MouseSample(sample *Sample, result *SubmitResult) error {
	if err := r.plugin.SubmitSample(sample); err != nil {
		*result = SubmitResult{Success: false, Error: err.Error()}
		r.logger.Error("Failed to enqueue sample", zap.Error(err))
		return nil
	}

	*result = SubmitResult{Success: true}
	return nil
}

// UpdateApiEndpoint stores a new collection endpoint
func (r *RPC) UpdateApiEndpoint(endpoint string, result *SubmitResult) error { //nolint:revive,stylecheck // message name
	*result = *r.plugin.UpdateEndpoint(context.Background(), endpoint)
	return nil
}

// GetApiEndpoint returns the configured endpoint
func (r *RPC) GetApiEndpoint(_ string, result *EndpointResponse) error { //nolint:revive,stylecheck // message name
	*result = *r.plugin.GetEndpoint(context.Background())
	return nil
}

// GetStatus returns identity and queue state
func (r *RPC) GetStatus(_ string, result *Status) error {
	*result = r.plugin.GetStatus(context.Background())
	return nil
}

// GetStats returns delivery diagnostics
func (r *RPC) GetStats(_ string, result *Stats) error {
	*result = r.plugin.Stats()
	return nil
}

// TestApiEndpoint probes an endpoint with a GET
func (r *RPC) TestApiEndpoint(endpoint string, result *SubmitResult) error { //nolint:revive,stylecheck // message name
	*result = *r.plugin.TestEndpoint(context.Background(), endpoint)
	return nil
}

// OpenPage starts a sampler and returns the page id
func (r *RPC) OpenPage(info PageInfo, pageID *string) error {
	const op = errors.Op("mouse_telemetry_rpc_open_page")

	id, err := r.plugin.pages.Open(context.Background(), info)
	if err != nil {
		return errors.E(op, err)
	}

	*pageID = id
	return nil
}

// PageSignal forwards a DOM signal to an open page
func (r *RPC) PageSignal(req *PageSignalRequest, ok *bool) error {
	const op = errors.Op("mouse_telemetry_rpc_page_signal")

	if err := r.plugin.pages.Signal(context.Background(), req.PageID, req.Signal); err != nil {
		*ok = false
		return errors.E(op, err)
	}

	*ok = true
	return nil
}

// ClosePage unloads a page
func (r *RPC) ClosePage(pageID string, ok *bool) error {
	const op = errors.Op("mouse_telemetry_rpc_close_page")

	if err := r.plugin.pages.Close(context.Background(), pageID); err != nil {
		*ok = false
		return errors.E(op, err)
	}

	*ok = true
	return nil
}
