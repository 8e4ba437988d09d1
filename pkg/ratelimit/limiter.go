package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"liscraper/pkg/logger"
)

// ErrQueueFull is returned by Submit when the pending queue is at capacity.
var ErrQueueFull = errors.New("rate limiter queue is full")

// Operation is a unit of work serialized by the throttle.
type Operation func() (interface{}, error)

// Outcome carries an operation's result back to its submitter.
type Outcome struct {
	Value interface{}
	Err   error
}

// Stats is a point-in-time snapshot of throttle state.
type Stats struct {
	QueueLength    int
	RequestCount   int
	MaxRequests    int
	TimeUntilReset time.Duration
	Processing     bool
}

// Config holds throttle construction parameters. Zero values fall back to
// the defaults (100 operations/hour, 5-15s spacing, 1000 queued operations).
type Config struct {
	MaxRequestsPerHour int
	MinDelay           time.Duration
	MaxDelay           time.Duration
	MaxQueueSize       int
	Clock              Clock
	Logger             logger.Logger
}

type request struct {
	op  Operation
	out chan Outcome
}

// Throttle serializes submitted operations so that no more than
// MaxRequestsPerHour run per hour window and consecutive operations are
// separated by a randomized delay, keeping automated traffic close to a
// human browsing cadence.
//
// A single background loop drains the queue one operation at a time. The
// loop exits when the queue empties and is lazily restarted by the next
// Submit.
type Throttle struct {
	mu         sync.Mutex
	queue      []request
	maxPerHour int
	minDelay   time.Duration
	maxDelay   time.Duration
	maxQueue   int

	requestCount int
	hourStart    time.Time
	processing   bool

	clock Clock
	rng   *rand.Rand
	log   logger.Logger
}

// New creates a throttle from the given config.
func New(cfg Config) *Throttle {
	if cfg.MaxRequestsPerHour <= 0 {
		cfg.MaxRequestsPerHour = 100
	}
	if cfg.MinDelay <= 0 && cfg.MaxDelay <= 0 {
		cfg.MinDelay = 5 * time.Second
		cfg.MaxDelay = 15 * time.Second
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 1000
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.GetLogger()
	}

	return &Throttle{
		maxPerHour: cfg.MaxRequestsPerHour,
		minDelay:   cfg.MinDelay,
		maxDelay:   cfg.MaxDelay,
		maxQueue:   cfg.MaxQueueSize,
		hourStart:  cfg.Clock.Now(),
		clock:      cfg.Clock,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		log:        cfg.Logger,
	}
}

// Submit appends an operation to the queue and returns a channel that will
// receive exactly one Outcome. It rejects immediately with ErrQueueFull when
// the queue is at capacity, bounding memory under runaway submission.
func (t *Throttle) Submit(op Operation) (<-chan Outcome, error) {
	t.mu.Lock()
	if len(t.queue) >= t.maxQueue {
		t.mu.Unlock()
		return nil, ErrQueueFull
	}

	out := make(chan Outcome, 1)
	t.queue = append(t.queue, request{op: op, out: out})

	start := !t.processing
	if start {
		t.processing = true
	}
	queueLen := len(t.queue)
	t.mu.Unlock()

	t.log.DebugWithFields("Operation queued", map[string]interface{}{
		"queue_length": queueLen,
	})

	if start {
		go t.run()
	}
	return out, nil
}

// Do submits op and blocks until its outcome arrives or ctx is cancelled.
// On cancellation the operation stays queued and eventually runs; only the
// wait is abandoned.
func (t *Throttle) Do(ctx context.Context, op Operation) (interface{}, error) {
	out, err := t.Submit(op)
	if err != nil {
		return nil, err
	}

	select {
	case o := <-out:
		return o.Value, o.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stats returns a snapshot of the throttle's observable state.
func (t *Throttle) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	until := t.hourStart.Add(time.Hour).Sub(t.clock.Now())
	if until < 0 {
		until = 0
	}

	return Stats{
		QueueLength:    len(t.queue),
		RequestCount:   t.requestCount,
		MaxRequests:    t.maxPerHour,
		TimeUntilReset: until,
		Processing:     t.processing,
	}
}

// SetLimits adjusts pacing at runtime. Invalid values are ignored so a bad
// config reload cannot stall the loop.
func (t *Throttle) SetLimits(maxPerHour int, minDelay, maxDelay time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if maxPerHour > 0 {
		t.maxPerHour = maxPerHour
	}
	if minDelay >= 0 && maxDelay >= minDelay {
		t.minDelay = minDelay
		t.maxDelay = maxDelay
	}
}

// run drains the queue one operation at a time. Exactly one run goroutine
// exists while processing is true.
func (t *Throttle) run() {
	for {
		t.mu.Lock()
		now := t.clock.Now()

		if now.Sub(t.hourStart) >= time.Hour {
			t.requestCount = 0
			t.hourStart = now
		}

		if t.requestCount >= t.maxPerHour {
			wait := t.hourStart.Add(time.Hour).Sub(now)
			queueLen := len(t.queue)
			t.mu.Unlock()

			t.log.WarnWithFields("Hourly quota exhausted, waiting for window reset", map[string]interface{}{
				"queue_length": queueLen,
				"wait_ms":      wait.Milliseconds(),
			})
			if wait > 0 {
				t.clock.Sleep(wait)
			}
			continue
		}

		if len(t.queue) == 0 {
			t.processing = false
			t.mu.Unlock()
			return
		}

		req := t.queue[0]
		t.queue = t.queue[1:]
		t.requestCount++
		count, max := t.requestCount, t.maxPerHour
		t.mu.Unlock()

		value, err := t.invoke(req.op)
		if err != nil {
			// Operation failures do not stop the loop; the caller sees the
			// error through its own outcome channel.
			t.log.WithError(err).WithField("request_count", count).Warn("Throttled operation failed")
		} else {
			t.log.DebugWithFields("Throttled operation completed", map[string]interface{}{
				"request_count": count,
				"max_requests":  max,
			})
		}
		req.out <- Outcome{Value: value, Err: err}
		close(req.out)

		t.mu.Lock()
		pending := len(t.queue) > 0
		minDelay, maxDelay := t.minDelay, t.maxDelay
		var spacing time.Duration
		if pending {
			spacing = t.randomDelayLocked(minDelay, maxDelay)
		}
		t.mu.Unlock()

		if pending && spacing > 0 {
			t.clock.Sleep(spacing)
		}
	}
}

// invoke runs op, converting a panic into an error so a misbehaving
// operation cannot kill the loop.
func (t *Throttle) invoke(op Operation) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operation panicked: %v", r)
		}
	}()
	return op()
}

// randomDelayLocked draws a uniform delay from [min, max]. Caller holds t.mu
// (the rng is not safe for concurrent use).
func (t *Throttle) randomDelayLocked(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(t.rng.Int63n(int64(max-min)+1))
}
