package mouse_telemetry

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SamplerState is the phase of the sampling cycle
type SamplerState int

const (
	StateSampling SamplerState = iota
	StateSleeping
)

func (s SamplerState) String() string {
	switch s {
	case StateSampling:
		return "sampling"
	case StateSleeping:
		return "sleeping"
	default:
		return "unknown"
	}
}

// Emitter hands a finalized sample to the dispatcher
type Emitter interface {
	Emit(sample *Sample) error
}

// Sampler batches page interactions into timed samples, alternating between
// sampling and sleeping periods.
//
// A Sampler is not safe for concurrent use: every method must be called
// from the goroutine that runs its Scheduler's callbacks.
type Sampler struct {
	config  SamplerConfig
	sched   Scheduler
	emitter Emitter
	logger  *zap.Logger
	metrics *metricsCollector

	domain         string
	viewportWidth  int
	viewportHeight int

	state       SamplerState
	pageActive  bool
	pageFocused bool
	unloaded    bool

	current *Sample
	timer   Timer
}

// NewSampler creates a sampler for one page. Call Start to begin sampling.
func NewSampler(config SamplerConfig, page PageInfo, sched Scheduler, emitter Emitter, logger *zap.Logger, metrics *metricsCollector) *Sampler {
	return &Sampler{
		config:         config,
		sched:          sched,
		emitter:        emitter,
		logger:         logger.With(zap.String("domain", page.Domain)),
		metrics:        metrics,
		domain:         page.Domain,
		viewportWidth:  page.ViewportWidth,
		viewportHeight: page.ViewportHeight,
		state:          StateSampling,
		pageActive:     true,
		pageFocused:    true,
	}
}

// Start opens the first sampling period
func (s *Sampler) Start() {
	s.state = StateSampling
	s.startNewSample()
	s.arm(s.config.SampleDuration)

	s.logger.Debug("Sampler started",
		zap.Duration("sample_duration", s.config.SampleDuration),
		zap.Duration("sleep_duration", s.config.SleepDuration))
}

// State returns the current phase
func (s *Sampler) State() SamplerState {
	return s.state
}

// PageActive reports whether the page is visible
func (s *Sampler) PageActive() bool {
	return s.pageActive
}

// PageFocused reports whether the window has focus
func (s *Sampler) PageFocused() bool {
	return s.pageFocused
}

// PendingEvents returns the number of events in the current sample
func (s *Sampler) PendingEvents() int {
	if s.current == nil {
		return 0
	}
	return len(s.current.Events)
}

// Handle routes a page signal to the matching operation
func (s *Sampler) Handle(signal PageSignal) {
	switch signal.Type {
	case SignalResize:
		s.Resize(signal.Width, signal.Height)
	case SignalVisibilityChange:
		if signal.Hidden {
			s.Hide()
		} else {
			s.Show()
		}
	case SignalFocus:
		s.Focus()
	case SignalBlur:
		s.Blur()
	case SignalBeforeUnload:
		s.Unload()
	default:
		s.Capture(signal)
	}
}

// Capture appends an interaction to the current sample. It reports whether
// the event was kept.
func (s *Sampler) Capture(signal PageSignal) bool {
	if s.unloaded || !s.pageActive || s.state != StateSampling || s.current == nil {
		return false
	}

	event, ok := s.formatEvent(signal)
	if !ok {
		s.logger.Debug("Unknown event type", zap.String("type", signal.Type))
		return false
	}

	s.current.Events = append(s.current.Events, event)
	s.metrics.IncEventsByType(string(event.Type))
	return true
}

func (s *Sampler) formatEvent(signal PageSignal) (Event, bool) {
	event := Event{
		Timestamp:      s.sched.Now().UTC().Format(isoMillis),
		Type:           EventType(signal.Type),
		Domain:         s.domain,
		ViewportWidth:  s.viewportWidth,
		ViewportHeight: s.viewportHeight,
	}

	switch event.Type {
	case EventMouseMove, EventClick:
		event.X = signal.ClientX
		event.Y = signal.ClientY
	case EventScroll:
		event.X = signal.ScrollX
		event.Y = signal.ScrollY
	default:
		return Event{}, false
	}

	return event, true
}

// Resize refreshes the viewport dimensions
func (s *Sampler) Resize(width, height int) {
	s.viewportWidth = width
	s.viewportHeight = height
	if s.current != nil {
		s.current.ViewportWidth = width
		s.current.ViewportHeight = height
	}
}

// Hide pauses capture and force-finalizes the current sample
func (s *Sampler) Hide() {
	s.logger.Debug("Page hidden, pausing sampling")
	s.pageActive = false

	if s.state == StateSampling && s.PendingEvents() > 0 {
		s.forceFinalize()
	}
}

// Show resumes capture. The timer keeps driving the current period.
func (s *Sampler) Show() {
	s.logger.Debug("Page visible, resuming sampling")
	s.pageActive = true
}

// Focus records that the window gained focus
func (s *Sampler) Focus() {
	s.pageFocused = true
}

// Blur records that the window lost focus
func (s *Sampler) Blur() {
	s.pageFocused = false
}

// Unload force-finalizes the current sample and cancels the timer for good
func (s *Sampler) Unload() {
	if s.unloaded {
		return
	}
	s.logger.Debug("Page unloading, finalizing sample")

	if s.state == StateSampling && s.PendingEvents() > 0 {
		s.forceFinalize()
	}

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.unloaded = true
	s.current = nil
}

func (s *Sampler) onTimer() {
	s.timer = nil
	if s.unloaded {
		return
	}

	// inactive pages drop what they accrued and keep cycling in place
	if !s.pageActive {
		if n := s.PendingEvents(); n > 0 {
			s.logger.Debug("Discarding events accrued while inactive", zap.Int("events", n))
		}
		s.startNewSample()
		s.arm(s.periodFor(s.state))
		return
	}

	switch s.state {
	case StateSampling:
		if s.PendingEvents() > 0 {
			sample := s.finalize(false)
			s.logger.Debug("Finalizing sample",
				zap.String("sample_id", sample.ID),
				zap.Int("events", sample.EventCount),
				zap.Float64("duration_seconds", sample.DurationSeconds))
			s.emit(sample)
		}
		s.startSleepPeriod()
	case StateSleeping:
		s.startSamplingPeriod()
	}
}

func (s *Sampler) startSleepPeriod() {
	s.state = StateSleeping
	s.current = nil
	s.logger.Debug("Entering sleep period", zap.Duration("duration", s.config.SleepDuration))
	s.arm(s.config.SleepDuration)
}

func (s *Sampler) startSamplingPeriod() {
	s.state = StateSampling
	s.logger.Debug("Starting sampling period", zap.Duration("duration", s.config.SampleDuration))
	s.startNewSample()
	s.arm(s.config.SampleDuration)
}

func (s *Sampler) periodFor(state SamplerState) time.Duration {
	if state == StateSleeping {
		return s.config.SleepDuration
	}
	return s.config.SampleDuration
}

func (s *Sampler) arm(d time.Duration) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = s.sched.AfterFunc(d, s.onTimer)
}

func (s *Sampler) startNewSample() {
	s.current = &Sample{
		ID:             uuid.NewString(),
		Events:         []Event{},
		StartTime:      s.sched.Now(),
		Domain:         s.domain,
		ViewportWidth:  s.viewportWidth,
		ViewportHeight: s.viewportHeight,
	}
}

// finalize stamps the current sample and detaches it from the sampler
func (s *Sampler) finalize(forced bool) *Sample {
	sample := s.current
	s.current = nil

	end := s.sched.Now()
	sample.EndTime = end
	sample.EventCount = len(sample.Events)
	sample.DurationSeconds = end.Sub(sample.StartTime).Seconds()
	sample.Forced = forced
	return sample
}

func (s *Sampler) forceFinalize() {
	duration := s.sched.Now().Sub(s.current.StartTime)

	if duration < s.config.MinForcedDuration {
		s.logger.Debug("Discarding short sample",
			zap.Duration("duration", duration),
			zap.Duration("min_duration", s.config.MinForcedDuration))
		s.metrics.IncDiscardedSamples()
		s.startNewSample()
		return
	}

	sample := s.finalize(true)
	s.logger.Debug("Force finalizing sample",
		zap.String("sample_id", sample.ID),
		zap.Int("events", sample.EventCount),
		zap.Float64("duration_seconds", sample.DurationSeconds))
	s.emit(sample)
	s.startNewSample()
}

func (s *Sampler) emit(sample *Sample) {
	if err := s.emitter.Emit(sample); err != nil {
		s.logger.Warn("Failed to hand sample to dispatcher, dropping",
			zap.String("sample_id", sample.ID),
			zap.Error(err))
		s.metrics.IncDroppedSamples()
	}
}
