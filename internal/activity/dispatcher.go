package activity

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/abhisek/dojo/internal/metrics"
)

// DefaultBuffer is the dispatcher queue length when none is configured.
const DefaultBuffer = 256

// deliverTimeout bounds a single sink delivery.
const deliverTimeout = 5 * time.Second

// Dispatcher hands events to a single background worker that delivers them
// to every sink. Emit never blocks: when the queue is full the event is
// dropped and logged.
type Dispatcher struct {
	ch      chan Event
	sinks   []Sink
	streak  *StreakTracker
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// Config configures a Dispatcher.
type Config struct {
	Buffer  int
	Sinks   []Sink
	Streak  *StreakTracker
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// NewDispatcher starts a dispatcher. Call Close to drain and stop it.
func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultBuffer
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	d := &Dispatcher{
		ch:      make(chan Event, cfg.Buffer),
		sinks:   cfg.Sinks,
		streak:  cfg.Streak,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
		now:     cfg.Now,
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// Emit queues ev for delivery. It returns immediately.
func (d *Dispatcher) Emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = d.now().UTC()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.log.Warn("activity dropped after close", zap.String("type", string(ev.Type)))
		return
	}

	select {
	case d.ch <- ev:
	default:
		d.metrics.RecordActivityDropped()
		d.log.Warn("activity queue full, dropping event",
			zap.String("type", string(ev.Type)),
			zap.String("user", ev.UserID))
	}
}

// Close stops accepting events and waits until queued events are delivered
// or ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.ch)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for ev := range d.ch {
		d.handle(ev)
	}
}

func (d *Dispatcher) handle(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("activity handler panicked", zap.Any("panic", r), zap.String("type", string(ev.Type)))
		}
	}()

	if ev.Type == TypePractice {
		if d.streak == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
		milestone, err := d.streak.Record(ctx, ev.UserID, ev.At)
		cancel()
		if err != nil {
			d.log.Warn("update streak failed", zap.String("user", ev.UserID), zap.Error(err))
			return
		}
		if milestone == nil {
			return
		}
		ev = *milestone
	}

	for _, s := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
		err := s.Deliver(ctx, ev)
		cancel()
		d.metrics.RecordActivity(string(ev.Type), s.Name(), err == nil)
		if err != nil {
			d.log.Warn("deliver activity failed",
				zap.String("sink", s.Name()),
				zap.String("type", string(ev.Type)),
				zap.Error(err))
		}
	}
}
