package engine

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"boardsync/client"
	"boardsync/domain"
)

// dispatchJob is the immutable wire intent of one pending operation. The
// engine mutates pending state under its lock; workers only see this copy.
type dispatchJob struct {
	opID           string
	kind           string
	entityType     string
	entityID       string
	payload        any
	patch          domain.Patch
	move           domain.MoveEventData
	idempotencyKey string
	force          bool
}

type dispatcherConfig struct {
	workers        int
	buffer         int
	handoffTimeout time.Duration
	opTimeout      time.Duration
	retryInitial   time.Duration
	retryMax       time.Duration
	maxAttempts    int
}

func (c *dispatcherConfig) defaults() {
	if c.workers <= 0 {
		c.workers = 4
	}
	if c.buffer <= 0 {
		c.buffer = 256
	}
	if c.handoffTimeout <= 0 {
		c.handoffTimeout = 25 * time.Millisecond
	}
	if c.opTimeout <= 0 {
		c.opTimeout = 15 * time.Second
	}
	if c.retryInitial <= 0 {
		c.retryInitial = 250 * time.Millisecond
	}
	if c.retryMax <= 0 {
		c.retryMax = 10 * time.Second
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = 4
	}
}

// dispatcher runs pending-op network calls on a bounded worker pool. Failures
// classified as transient retry with jittered exponential backoff up to the
// attempt cap; everything else resolves on the first response.
type dispatcher struct {
	cfg    dispatcherConfig
	api    API
	logger *log.Logger
	done   func(opID string, raw json.RawMessage, attempts int, err error)

	jobs   chan dispatchJob
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

func newDispatcher(cfg dispatcherConfig, api API, logger *log.Logger, done func(string, json.RawMessage, int, error)) *dispatcher {
	cfg.defaults()
	return &dispatcher{
		cfg:    cfg,
		api:    api,
		logger: logger,
		done:   done,
		jobs:   make(chan dispatchJob, cfg.buffer),
		stopCh: make(chan struct{}),
	}
}

func (d *dispatcher) start() {
	for i := 0; i < d.cfg.workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

func (d *dispatcher) stop() {
	d.once.Do(func() { close(d.stopCh) })
	d.wg.Wait()
}

// dispatch hands the job to a worker. When the buffer is saturated past the
// handoff window the job runs on its own goroutine so the caller never blocks.
func (d *dispatcher) dispatch(job dispatchJob) {
	select {
	case d.jobs <- job:
		return
	default:
	}

	timer := time.NewTimer(d.cfg.handoffTimeout)
	defer timer.Stop()
	select {
	case d.jobs <- job:
		return
	case <-timer.C:
	case <-d.stopCh:
		return
	}

	d.logger.Warnf("dispatcher saturated, running op %s inline", job.opID)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(job)
	}()
}

func (d *dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case job := <-d.jobs:
			d.run(job)
		case <-d.stopCh:
			return
		}
	}
}

func (d *dispatcher) run(job dispatchJob) {
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.opTimeout)
		raw, err := d.call(ctx, job)
		cancel()

		if err == nil || !client.IsRetryable(err) || attempt >= d.cfg.maxAttempts {
			d.done(job.opID, raw, attempt, err)
			return
		}

		delay := exponentialBackoff(attempt, d.cfg.retryInitial, d.cfg.retryMax)
		d.logger.WithError(err).Warnf("retrying %s %s/%s in %v, attempt=%d", job.kind, job.entityType, job.entityID, delay, attempt)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-d.stopCh:
			timer.Stop()
			return
		}
		timer.Stop()
	}
}

func (d *dispatcher) call(ctx context.Context, job dispatchJob) (json.RawMessage, error) {
	switch job.kind {
	case opCreate:
		return d.api.CreateEntity(ctx, job.entityType, job.payload, job.idempotencyKey)
	case opUpdate:
		return d.api.UpdateEntity(ctx, job.entityType, job.entityID, job.patch, job.idempotencyKey, job.force)
	case opMove:
		return d.api.MoveTask(ctx, job.entityID, job.move.ColumnID, job.move.Position, job.idempotencyKey)
	case opDelete:
		return nil, d.api.DeleteEntity(ctx, job.entityType, job.entityID, job.idempotencyKey)
	}
	return nil, &client.ValidationError{Message: "unknown operation " + job.kind}
}

func exponentialBackoff(attempt int, initial, max time.Duration) time.Duration {
	if attempt <= 0 {
		if initial <= 0 {
			return time.Second
		}
		return initial
	}
	if initial <= 0 {
		initial = time.Second
	}
	if max <= 0 {
		max = 10 * time.Second
	}
	backoff := float64(initial) * math.Pow(2, float64(attempt-1))
	if backoff > float64(max) {
		backoff = float64(max)
	}
	jitter := 0.2 * backoff
	return time.Duration(backoff + (rand.Float64()-0.5)*2*jitter)
}
