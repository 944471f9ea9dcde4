package notify

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/warp/class-booking/booking"
)

// LogSink writes notifications to the log instead of a broker.
type LogSink struct {
	log logrus.FieldLogger
}

func NewLogSink(log logrus.FieldLogger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Send(_ context.Context, n booking.Notification) error {
	s.log.WithFields(logrus.Fields{
		"routing_key":    RoutingKey(n.Kind),
		"member_id":      n.MemberID,
		"session_id":     n.SessionID,
		"reservation_id": n.ReservationID,
		"class_name":     n.ClassName,
		"start_time":     n.StartTime,
	}).Info("booking notification")
	return nil
}
