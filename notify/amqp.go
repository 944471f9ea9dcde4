package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/warp/class-booking/booking"
)

// Routing keys on the notification exchange.
const (
	RoutingBooked   = "booking.confirmed"
	RoutingPromoted = "booking.promoted"
)

// Message is the JSON body published for each notification.
type Message struct {
	Kind          string    `json:"kind"`
	TenantID      string    `json:"tenant_id"`
	MemberID      string    `json:"member_id"`
	SessionID     string    `json:"session_id"`
	ReservationID string    `json:"reservation_id"`
	ClassName     string    `json:"class_name"`
	StartTime     time.Time `json:"start_time"`
}

func messageFor(n booking.Notification) Message {
	return Message{
		Kind:          string(n.Kind),
		TenantID:      string(n.TenantID),
		MemberID:      string(n.MemberID),
		SessionID:     string(n.SessionID),
		ReservationID: string(n.ReservationID),
		ClassName:     n.ClassName,
		StartTime:     n.StartTime.UTC(),
	}
}

// RoutingKey maps a notification kind to its routing key.
func RoutingKey(kind booking.NotificationKind) string {
	if kind == booking.NotifyPromoted {
		return RoutingPromoted
	}
	return RoutingBooked
}

// AMQPSink publishes notifications to a durable topic exchange.
type AMQPSink struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	// amqp channels are not safe for concurrent publishing.
	mu sync.Mutex
}

func NewAMQPSink(url, exchange string) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPSink{conn: conn, ch: ch, exchange: exchange}, nil
}

func (s *AMQPSink) Send(ctx context.Context, n booking.Notification) error {
	body, err := json.Marshal(messageFor(n))
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch.PublishWithContext(ctx, s.exchange, RoutingKey(n.Kind), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		MessageId:    string(n.ReservationID) + ":" + string(n.Kind),
		Body:         body,
	})
}

func (s *AMQPSink) Close() error {
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
