package mouse_telemetry

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// dispatchEmitter hands samples to a dispatcher running on another loop
type dispatchEmitter struct {
	loop       *Loop
	dispatcher *Dispatcher
}

func (e *dispatchEmitter) Emit(sample *Sample) error {
	return e.loop.Post(func() {
		e.dispatcher.Enqueue(sample)
	})
}

// Pages runs one Sampler per connected page on the page loop
type Pages struct {
	loop    *Loop
	config  SamplerConfig
	emitter Emitter
	logger  *zap.Logger
	metrics *metricsCollector

	// owned by the loop goroutine
	samplers map[string]*Sampler
	count    atomic.Int64
}

func NewPages(loop *Loop, config SamplerConfig, emitter Emitter, logger *zap.Logger, metrics *metricsCollector) *Pages {
	return &Pages{
		loop:     loop,
		config:   config,
		emitter:  emitter,
		logger:   logger,
		metrics:  metrics,
		samplers: make(map[string]*Sampler),
	}
}

// Open starts a sampler for a new page and returns its id
func (p *Pages) Open(ctx context.Context, info PageInfo) (string, error) {
	pageID := uuid.NewString()

	err := p.loop.Call(ctx, func() {
		sampler := NewSampler(p.config, info, p.loop, p.emitter,
			p.logger.With(zap.String("page_id", pageID)), p.metrics)
		sampler.Start()
		p.samplers[pageID] = sampler
		p.count.Store(int64(len(p.samplers)))
	})
	if err != nil {
		return "", err
	}

	p.logger.Debug("Page opened",
		zap.String("page_id", pageID),
		zap.String("domain", info.Domain))
	return pageID, nil
}

// Signal routes a page signal to the page's sampler. An unload signal
// also forgets the page.
func (p *Pages) Signal(ctx context.Context, pageID string, signal PageSignal) error {
	var found bool
	err := p.loop.Call(ctx, func() {
		sampler, ok := p.samplers[pageID]
		if !ok {
			return
		}
		found = true
		sampler.Handle(signal)

		if signal.Type == SignalBeforeUnload {
			delete(p.samplers, pageID)
			p.count.Store(int64(len(p.samplers)))
		}
	})
	if err != nil {
		return err
	}
	if !found {
		return ErrPageNotFound
	}
	return nil
}

// Close unloads the page
func (p *Pages) Close(ctx context.Context, pageID string) error {
	return p.Signal(ctx, pageID, PageSignal{Type: SignalBeforeUnload})
}

// CloseAll unloads every page
func (p *Pages) CloseAll(ctx context.Context) error {
	return p.loop.Call(ctx, func() {
		for pageID, sampler := range p.samplers {
			sampler.Unload()
			delete(p.samplers, pageID)
		}
		p.count.Store(0)
	})
}

// Count returns the number of open pages
func (p *Pages) Count() int {
	return int(p.count.Load())
}
