package notification

import (
	"context"
	"encoding/json"
	"time"

	"luna-dine/pkg/rabbitmq"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPDeliverer publishes rendered messages to the notifications fanout
// exchange, where the per-channel delivery bridges consume them.
type AMQPDeliverer struct {
	rmq *rabbitmq.RabbitMQ
}

func NewAMQPDeliverer(rmq *rabbitmq.RabbitMQ) *AMQPDeliverer {
	return &AMQPDeliverer{rmq: rmq}
}

func (d *AMQPDeliverer) Deliver(ctx context.Context, msg Message) error {
	messageBytes, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return d.rmq.Channel.PublishWithContext(pubCtx,
		rabbitmq.NotificationsExchange, // exchange
		string(msg.Channel),            // routing key
		false,                          // mandatory
		false,                          // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         messageBytes,
			Timestamp:    time.Now(),
		})
}
