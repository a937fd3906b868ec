package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/smallbiznis/waiterless/internal/config"
	"github.com/smallbiznis/waiterless/internal/eventbus"
)

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPSink publishes to a durable topic exchange with routing key
// "<tenant>.<kind>", e.g. "1234.order.status_changed". Kitchen displays bind
// "*.order.created"; pickup notifiers bind "*.order.status_changed".
type AMQPSink struct {
	conn     *amqp.Connection
	channel  amqpChannel
	exchange string
}

func DialAMQP(cfg config.RelayConfig) (*AMQPSink, error) {
	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}

	exchange := exchangeName(cfg.AMQPExchange)
	err = channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("amqp exchange declare: %w", err)
	}

	sink := newAMQPSink(channel, exchange)
	sink.conn = conn
	return sink, nil
}

func newAMQPSink(channel amqpChannel, exchange string) *AMQPSink {
	return &AMQPSink{channel: channel, exchange: exchangeName(exchange)}
}

func exchangeName(raw string) string {
	if name := strings.TrimSpace(raw); name != "" {
		return name
	}
	return "waiterless.events"
}

func (s *AMQPSink) Name() string { return "amqp" }

func RoutingKey(ev eventbus.Event) string {
	return ev.TenantID.String() + "." + string(ev.Kind)
}

func (s *AMQPSink) Send(ctx context.Context, ev eventbus.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.channel.PublishWithContext(ctx,
		s.exchange,      // exchange
		RoutingKey(ev),  // routing key
		false,           // mandatory
		false,           // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    fmt.Sprintf("%s-%d", ev.TenantID.String(), ev.Sequence),
			Timestamp:    ev.Timestamp,
			Type:         string(ev.Kind),
			Body:         body,
		})
}

func (s *AMQPSink) Close() error {
	err := s.channel.Close()
	if s.conn != nil {
		if cerr := s.conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
