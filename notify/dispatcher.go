/*
Package notify delivers booking notifications off the request path.

PURPOSE:
  The Dispatcher implements booking.Notifier with a bounded queue and a
  small worker pool. Notify never blocks: when the queue is full the
  notification is dropped and counted. Sink failures are logged and never
  reach the booking that triggered them.

SINKS:
  - AMQPSink: publishes JSON to a topic exchange
  - LogSink:  writes a structured log line (development default)

SEE ALSO:
  - booking/notify.go: Notifier contract
*/
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/class-booking/booking"
)

// Sink delivers one notification.
type Sink interface {
	Send(ctx context.Context, n booking.Notification) error
}

// Options tunes a Dispatcher. Zero values take defaults.
type Options struct {
	Buffer      int
	Workers     int
	SendTimeout time.Duration
	// OnDrop is called for every notification dropped on a full queue.
	OnDrop func()
}

type Dispatcher struct {
	sink    Sink
	queue   chan booking.Notification
	log     logrus.FieldLogger
	timeout time.Duration
	onDrop  func()
	workers int

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(sink Sink, opts Options, log logrus.FieldLogger) *Dispatcher {
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 5 * time.Second
	}
	if opts.OnDrop == nil {
		opts.OnDrop = func() {}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dispatcher{
		sink:    sink,
		queue:   make(chan booking.Notification, opts.Buffer),
		log:     log.WithField("component", "notify"),
		timeout: opts.SendTimeout,
		onDrop:  opts.OnDrop,
		workers: opts.Workers,
	}
}

// Start launches the workers.
func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
	d.log.WithField("workers", d.workers).Info("notification dispatcher started")
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for n := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := d.sink.Send(ctx, n); err != nil {
			d.log.WithError(err).WithFields(logrus.Fields{
				"kind":           n.Kind,
				"member_id":      n.MemberID,
				"reservation_id": n.ReservationID,
			}).Warn("notification delivery failed")
		}
		cancel()
	}
}

// Notify enqueues n without blocking.
func (d *Dispatcher) Notify(_ context.Context, n booking.Notification) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(n, "dispatcher closed")
		return
	}
	select {
	case d.queue <- n:
	default:
		d.drop(n, "queue full")
	}
}

func (d *Dispatcher) drop(n booking.Notification, reason string) {
	d.onDrop()
	d.log.WithFields(logrus.Fields{
		"kind":           n.Kind,
		"reservation_id": n.ReservationID,
		"reason":         reason,
	}).Warn("notification dropped")
}

// Close stops accepting notifications and waits for queued ones to be
// delivered or for ctx to end.
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
