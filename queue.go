package mouse_telemetry

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Sender delivers one payload to the collection endpoint
type Sender interface {
	Send(ctx context.Context, endpoint string, payload *Payload) error
}

// IdentityReader resolves the user id and endpoint before each attempt
type IdentityReader interface {
	UserID(ctx context.Context) (string, error)
	Endpoint(ctx context.Context) (string, error)
}

// DispatcherStatus is a snapshot of the delivery queues
type DispatcherStatus struct {
	QueueLength int  `json:"queueLength"`
	RetryLength int  `json:"retryLength"`
	Draining    bool `json:"isProcessing"`
	RetryRound  int  `json:"retryRound"`
}

// Dispatcher owns the delivery queue and the retry queue.
//
// Enqueue, Drain and every callback run on the Scheduler's goroutine.
// Status may be called from anywhere.
type Dispatcher struct {
	ctx      context.Context
	sched    Scheduler
	sender   Sender
	identity IdentityReader
	retryMgr *RetryManager
	config   *DispatchConfig
	logger   *zap.Logger
	metrics  *metricsCollector

	queue      []*Sample
	retryQueue []*Sample
	draining   bool

	// a retry pass is scheduled or running
	retryActive bool
	retryRound  int

	// mirrors for Status
	queueLen    atomic.Int64
	retryLen    atomic.Int64
	isDraining  atomic.Bool
	retryRoundN atomic.Int64
}

// NewDispatcher creates a dispatcher. ctx is passed to every delivery.
func NewDispatcher(ctx context.Context, config *DispatchConfig, sched Scheduler, sender Sender, identity IdentityReader, retryMgr *RetryManager, logger *zap.Logger, metrics *metricsCollector) *Dispatcher {
	return &Dispatcher{
		ctx:      ctx,
		sched:    sched,
		sender:   sender,
		identity: identity,
		retryMgr: retryMgr,
		config:   config,
		logger:   logger,
		metrics:  metrics,
	}
}

// Enqueue adds a sample to the delivery queue and starts draining
func (d *Dispatcher) Enqueue(sample *Sample) {
	d.queue = append(d.queue, sample)
	d.metrics.IncReceivedSamples()
	d.publish()

	d.logger.Debug("Added sample to queue",
		zap.String("sample_id", sample.ID),
		zap.Int("pending", len(d.queue)))

	d.Drain()
}

// Drain processes the queue in FIFO order. It is a no-op while a drain is
// already running or when the queue is empty.
func (d *Dispatcher) Drain() {
	if d.draining || len(d.queue) == 0 {
		return
	}

	d.draining = true
	d.publish()
	d.logger.Debug("Processing samples", zap.Int("count", len(d.queue)))

	d.drainNext()
}

func (d *Dispatcher) drainNext() {
	if len(d.queue) == 0 {
		d.draining = false
		d.publish()

		if len(d.retryQueue) > 0 && !d.retryActive {
			d.scheduleRetryPass(d.retryMgr.CalculateBackoff(1))
		}
		return
	}

	sample := d.queue[0]
	d.queue[0] = nil
	d.queue = d.queue[1:]
	d.publish()

	d.deliver(sample)

	d.sched.AfterFunc(d.config.ItemDelay, d.drainNext)
}

func (d *Dispatcher) scheduleRetryPass(delay time.Duration) {
	d.retryActive = true
	d.logger.Debug("Scheduling retry pass",
		zap.Int("retry_length", len(d.retryQueue)),
		zap.Duration("delay", delay))

	d.sched.AfterFunc(delay, d.retryPass)
}

// retryPass snapshots the retry queue and redelivers every member
func (d *Dispatcher) retryPass() {
	if len(d.retryQueue) == 0 {
		d.finishRetries()
		return
	}

	batch := d.retryQueue
	d.retryQueue = nil
	d.retryRound++
	d.publish()

	d.logger.Info("Processing retry samples",
		zap.Int("count", len(batch)),
		zap.Int("round", d.retryRound))

	d.retryNext(batch)
}

func (d *Dispatcher) retryNext(batch []*Sample) {
	if len(batch) == 0 {
		if len(d.retryQueue) > 0 {
			d.scheduleRetryPass(d.retryMgr.CalculateBackoff(d.retryRound + 1))
			return
		}
		d.finishRetries()
		return
	}

	d.deliver(batch[0])

	rest := batch[1:]
	d.sched.AfterFunc(d.config.RetryItemDelay, func() {
		d.retryNext(rest)
	})
}

func (d *Dispatcher) finishRetries() {
	d.retryActive = false
	d.retryRound = 0
	d.publish()
}

// deliver makes one delivery attempt and routes failures to the retry queue
func (d *Dispatcher) deliver(sample *Sample) {
	userID, err := d.identity.UserID(d.ctx)
	if err == nil && userID == "" {
		err = ErrNoUserID
	}
	if err != nil {
		d.logger.Warn("No userId available, skipping sample",
			zap.String("sample_id", sample.ID),
			zap.Error(err))
		d.metrics.IncSkippedSamples()
		return
	}

	endpoint, err := d.identity.Endpoint(d.ctx)
	if err == nil && endpoint == "" {
		err = ErrNoEndpoint
	}
	if err != nil {
		d.logger.Warn("No API endpoint configured, skipping sample",
			zap.String("sample_id", sample.ID),
			zap.Error(err))
		d.metrics.IncSkippedSamples()
		return
	}

	d.logger.Debug("Submitting sample",
		zap.String("sample_id", sample.ID),
		zap.Int("events", len(sample.Events)),
		zap.String("endpoint", endpoint))

	err = d.sender.Send(d.ctx, endpoint, &Payload{
		UserID:    userID,
		MouseData: sample.Events,
	})
	if err == nil {
		d.metrics.IncDeliveredSamples()
		d.logger.Debug("Sample submitted successfully", zap.String("sample_id", sample.ID))
		return
	}

	d.metrics.IncFailedDeliveries()
	if !errors.Is(err, ErrRateLimited) {
		d.logger.Error("Failed to submit sample",
			zap.String("sample_id", sample.ID),
			zap.Error(err))
	}

	if d.retryMgr.ShouldRetry(sample, err) {
		d.retryQueue = append(d.retryQueue, sample)
		d.publish()
	}
}

func (d *Dispatcher) publish() {
	d.queueLen.Store(int64(len(d.queue)))
	d.retryLen.Store(int64(len(d.retryQueue)))
	d.isDraining.Store(d.draining)
	d.retryRoundN.Store(int64(d.retryRound))
}

// Status returns a snapshot of the queues
func (d *Dispatcher) Status() DispatcherStatus {
	return DispatcherStatus{
		QueueLength: int(d.queueLen.Load()),
		RetryLength: int(d.retryLen.Load()),
		Draining:    d.isDraining.Load(),
		RetryRound:  int(d.retryRoundN.Load()),
	}
}

// LogStatus writes the periodic status line and restarts an idle drain
func (d *Dispatcher) LogStatus() {
	d.logger.Info("Status",
		zap.Int("queue_length", len(d.queue)),
		zap.Int("retry_length", len(d.retryQueue)),
		zap.Bool("processing", d.draining))

	if len(d.queue) > 0 && !d.draining {
		d.Drain()
	}
}
