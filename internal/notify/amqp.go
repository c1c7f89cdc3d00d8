package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

// maxDialDelaySec caps the exponential backoff between dial attempts.
const maxDialDelaySec = 60

// AMQPSink publishes notifications as persistent JSON messages to a
// topic exchange. The routing key is the notification type.
type AMQPSink struct {
	conn     *amqp091.Connection
	exchange string
	logger   *log.Logger
}

// DialOptions configures the broker connection.
type DialOptions struct {
	URL           string
	Exchange      string
	RetryAttempts int
	RetryDelay    time.Duration
	Logger        *log.Logger
}

// DialAMQP connects to the broker with exponential backoff and declares
// the topic exchange. It respects context cancellation so daemon
// shutdown is not held up by an unreachable broker.
func DialAMQP(ctx context.Context, opts DialOptions) (*AMQPSink, error) {
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 5
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}

	var conn *amqp091.Connection
	var lastErr error
	for attempt := 1; attempt <= opts.RetryAttempts; attempt++ {
		c, err := amqp091.Dial(opts.URL)
		if err == nil {
			conn = c
			break
		}
		lastErr = err

		sleep := opts.RetryDelay * time.Duration(math.Pow(2, float64(attempt-1)))
		if sleep > maxDialDelaySec*time.Second {
			sleep = maxDialDelaySec * time.Second
		}
		opts.Logger.Printf("%s WARN notify: amqp dial failed attempt=%d sleep=%s error=%v",
			time.Now().UTC().Format(time.RFC3339), attempt, sleep, err)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("amqp dial cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}
	if conn == nil {
		return nil, fmt.Errorf("amqp dial: %w", lastErr)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(opts.Exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", opts.Exchange, err)
	}

	return &AMQPSink{conn: conn, exchange: opts.Exchange, logger: opts.Logger}, nil
}

func (s *AMQPSink) Publish(ctx context.Context, n Notification) error {
	ch, err := s.conn.Channel()
	if err != nil {
		return fmt.Errorf("amqp channel: %w", err)
	}
	defer ch.Close()

	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	err = ch.PublishWithContext(
		ctx, s.exchange, n.Type, false, false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", n.Type, err)
	}

	s.logger.Printf("%s INFO notify: published type=%s exchange=%s",
		time.Now().UTC().Format(time.RFC3339), n.Type, s.exchange)
	return nil
}

func (s *AMQPSink) Close() error {
	return s.conn.Close()
}
