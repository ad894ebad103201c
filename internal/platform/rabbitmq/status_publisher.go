package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"askdoc/internal/model"
)

// StatusPublisher emits ingestion outcome events.
type StatusPublisher struct {
	conn      *amqp.Connection
	queueName string
}

func NewStatusPublisher(conn *amqp.Connection, queueName string) *StatusPublisher {
	return &StatusPublisher{
		conn:      conn,
		queueName: queueName,
	}
}

func (p *StatusPublisher) PublishStatus(ctx context.Context, event model.IngestionEvent) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	defer ch.Close()

	if err := DeclareQueue(ch, p.queueName); err != nil {
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal ingestion event failed: %w", err)
	}

	if err := ch.PublishWithContext(
		ctx,
		"",
		p.queueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         payload,
			DeliveryMode: amqp.Persistent,
			MessageId:    event.DocumentID + ":" + string(event.Status),
			Timestamp:    event.OccurredAt,
		},
	); err != nil {
		return fmt.Errorf("publish ingestion event failed: %w", err)
	}
	return nil
}
