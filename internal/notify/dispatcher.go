// Package notify delivers user notifications asynchronously. Producers enqueue
// and return immediately; delivery failures are logged, never reported back.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

var (
	ErrQueueFull = errors.New("notification queue is full")
	ErrClosed    = errors.New("notification dispatcher is closed")
)

// Notification is a short text addressed to one user.
type Notification struct {
	RecipientUserID string    `json:"recipient_user_id"`
	Text            string    `json:"text"`
	CreatedAt       time.Time `json:"created_at"`
}

// Sink accepts notifications for later delivery.
type Sink interface {
	Enqueue(ctx context.Context, n Notification) error
}

// Deliverer sends one notification to its destination.
type Deliverer interface {
	Deliver(ctx context.Context, n Notification) error
}

type DispatcherConfig struct {
	Workers         int
	QueueSize       int
	DeliveryTimeout time.Duration
}

// Dispatcher is a Sink backed by a bounded queue and a fixed worker pool.
type Dispatcher struct {
	deliverer Deliverer
	logger    *zap.Logger
	cfg       DispatcherConfig
	queue     chan Notification

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	deliveredCounter metric.Int64Counter
	failedCounter    metric.Int64Counter
}

// NewDispatcher starts cfg.Workers goroutines draining the queue into deliverer.
func NewDispatcher(deliverer Deliverer, logger *zap.Logger, cfg DispatcherConfig) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 5 * time.Second
	}

	meter := otel.Meter("wallet-ledger")
	deliveredCounter, _ := meter.Int64Counter("notifications_delivered_total",
		metric.WithDescription("Notifications handed to the delivery backend"))
	failedCounter, _ := meter.Int64Counter("notifications_failed_total",
		metric.WithDescription("Notifications dropped or failed to deliver"))

	d := &Dispatcher{
		deliverer:        deliverer,
		logger:           logger.Named("notify"),
		cfg:              cfg,
		queue:            make(chan Notification, cfg.QueueSize),
		deliveredCounter: deliveredCounter,
		failedCounter:    failedCounter,
	}

	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
	return d
}

// Enqueue never blocks: a full queue drops the notification with ErrQueueFull.
func (d *Dispatcher) Enqueue(ctx context.Context, n Notification) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrClosed
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	select {
	case d.queue <- n:
		return nil
	default:
		d.failedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "queue_full")))
		return ErrQueueFull
	}
}

// Close stops accepting notifications and waits until the queued ones have
// been delivered or ctx expires.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()

	for n := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.DeliveryTimeout)
		err := d.deliverer.Deliver(ctx, n)
		cancel()

		if err != nil {
			d.failedCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", "delivery")))
			d.logger.Warn("failed to deliver notification",
				zap.String("recipient_user_id", n.RecipientUserID),
				zap.Error(err))
			continue
		}
		d.deliveredCounter.Add(context.Background(), 1)
	}
}
