package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/class-booking/booking"
)

type fakeSink struct {
	mu   sync.Mutex
	sent []booking.Notification
	err  error
}

func (s *fakeSink) Send(_ context.Context, n booking.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, n)
	return s.err
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func note(id string) booking.Notification {
	return booking.Notification{
		Kind:          booking.NotifyBooked,
		TenantID:      "studio-1",
		MemberID:      "alice",
		SessionID:     "s1",
		ReservationID: booking.ReservationID(id),
		ClassName:     "Yoga",
		StartTime:     time.Date(2026, 5, 4, 18, 0, 0, 0, time.UTC),
	}
}

func TestDispatcher_DeliversQueuedNotifications(t *testing.T) {
	log, _ := test.NewNullLogger()
	sink := &fakeSink{}
	d := NewDispatcher(sink, Options{Buffer: 16, Workers: 3}, log)
	d.Start()

	for _, id := range []string{"r1", "r2", "r3", "r4"} {
		d.Notify(context.Background(), note(id))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))
	assert.Equal(t, 4, sink.count())
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	// GIVEN: A one-slot queue with no workers draining it
	log, hook := test.NewNullLogger()
	var dropped atomic.Int32
	d := NewDispatcher(&fakeSink{}, Options{Buffer: 1, OnDrop: func() { dropped.Add(1) }}, log)

	// WHEN: Two notifications arrive
	d.Notify(context.Background(), note("r1"))
	d.Notify(context.Background(), note("r2"))

	// THEN: The second is dropped without blocking
	assert.Equal(t, int32(1), dropped.Load())
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "queue full", hook.LastEntry().Data["reason"])
}

func TestDispatcher_DropsAfterClose(t *testing.T) {
	log, hook := test.NewNullLogger()
	var dropped atomic.Int32
	sink := &fakeSink{}
	d := NewDispatcher(sink, Options{OnDrop: func() { dropped.Add(1) }}, log)
	d.Start()
	require.NoError(t, d.Close(context.Background()))

	d.Notify(context.Background(), note("late"))

	assert.Equal(t, int32(1), dropped.Load())
	assert.Equal(t, "dispatcher closed", hook.LastEntry().Data["reason"])
	assert.Zero(t, sink.count())
	// Closing twice is harmless.
	assert.NoError(t, d.Close(context.Background()))
}

func TestDispatcher_SinkErrorsAreLogged(t *testing.T) {
	log, hook := test.NewNullLogger()
	sink := &fakeSink{err: errors.New("broker down")}
	d := NewDispatcher(sink, Options{Workers: 1}, log)
	d.Start()

	d.Notify(context.Background(), note("r1"))
	require.NoError(t, d.Close(context.Background()))

	var failed *logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Message == "notification delivery failed" {
			failed = e
		}
	}
	require.NotNil(t, failed)
	assert.EqualError(t, failed.Data[logrus.ErrorKey].(error), "broker down")
}

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, RoutingBooked, RoutingKey(booking.NotifyBooked))
	assert.Equal(t, RoutingPromoted, RoutingKey(booking.NotifyPromoted))
}

func TestMessageFor(t *testing.T) {
	n := note("r9")
	n.Kind = booking.NotifyPromoted

	m := messageFor(n)

	assert.Equal(t, "promoted", m.Kind)
	assert.Equal(t, "r9", m.ReservationID)
	assert.Equal(t, "Yoga", m.ClassName)
	assert.Equal(t, n.StartTime, m.StartTime)
}

func TestLogSink(t *testing.T) {
	log, hook := test.NewNullLogger()

	require.NoError(t, NewLogSink(log).Send(context.Background(), note("r1")))

	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, RoutingBooked, hook.LastEntry().Data["routing_key"])
	assert.Equal(t, booking.ReservationID("r1"), hook.LastEntry().Data["reservation_id"])
}
