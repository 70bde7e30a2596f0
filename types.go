package mouse_telemetry

import (
	"time"
)

// EventType is the kind of interaction captured on a page
type EventType string

const (
	EventMouseMove EventType = "mousemove"
	EventClick     EventType = "click"
	EventScroll    EventType = "scroll"
)

// isoMillis matches the browser's Date.toISOString output
const isoMillis = "2006-01-02T15:04:05.000Z"

// Event represents a single captured interaction
type Event struct {
	Timestamp      string    `json:"timestamp"`
	Type           EventType `json:"type"`
	Domain         string    `json:"domain"`
	ViewportWidth  int       `json:"viewportWidth"`
	ViewportHeight int       `json:"viewportHeight"`
	X              float64   `json:"x"`
	Y              float64   `json:"y"`
}

// Sample is a timed batch of events captured on one page
type Sample struct {
	ID              string    `json:"id"`
	Events          []Event   `json:"events"`
	StartTime       time.Time `json:"startTime"`
	EndTime         time.Time `json:"endTime"`
	Domain          string    `json:"domain"`
	ViewportWidth   int       `json:"viewportWidth"`
	ViewportHeight  int       `json:"viewportHeight"`
	EventCount      int       `json:"eventCount"`
	DurationSeconds float64   `json:"durationSeconds"`
	Forced          bool      `json:"forced,omitempty"`

	// RetryCount is owned by the Dispatcher
	RetryCount int `json:"retryCount,omitempty"`
}

// PageInfo describes a page when its sampler is created
type PageInfo struct {
	Domain         string `json:"domain"`
	ViewportWidth  int    `json:"viewportWidth"`
	ViewportHeight int    `json:"viewportHeight"`
}

// PageSignal is one raw DOM signal forwarded by the page script
type PageSignal struct {
	Type    string  `json:"type"`
	ClientX float64 `json:"clientX,omitempty"`
	ClientY float64 `json:"clientY,omitempty"`
	ScrollX float64 `json:"scrollX,omitempty"`
	ScrollY float64 `json:"scrollY,omitempty"`
	Width   int     `json:"width,omitempty"`
	Height  int     `json:"height,omitempty"`
	Hidden  bool    `json:"hidden,omitempty"`
}

// Signal types that are not captured as events
const (
	SignalResize           = "resize"
	SignalVisibilityChange = "visibilitychange"
	SignalFocus            = "focus"
	SignalBlur             = "blur"
	SignalBeforeUnload     = "beforeunload"
)

// Payload is the JSON body posted to the collection endpoint
type Payload struct {
	UserID    string  `json:"userId"`
	MouseData []Event `json:"mouseData"`
}

// SubmitResult is the response to mouseSample and updateApiEndpoint messages
type SubmitResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// EndpointResponse is the response to getApiEndpoint
type EndpointResponse struct {
	Endpoint string `json:"endpoint"`
}

// Status is the response to getStatus
type Status struct {
	UserID       string `json:"userId"`
	APIEndpoint  string `json:"apiEndpoint"`
	QueueLength  int    `json:"queueLength"`
	RetryLength  int    `json:"retryLength"`
	IsProcessing bool   `json:"isProcessing"`
}

// Stats is the response to getStats
type Stats struct {
	Queue      DispatcherStatus       `json:"queue"`
	OpenPages  int                    `json:"openPages"`
	Breaker    string                 `json:"breaker"`
	RateLimits map[string]time.Time   `json:"rateLimits"`
	Retry      map[string]interface{} `json:"retry"`
}
