package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"askdoc/internal/model"
	applog "askdoc/internal/platform/log"
	"askdoc/internal/platform/rabbitmq"
)

var errMalformedEvent = errors.New("malformed ingestion event")

type StatusStore interface {
	TransitionStatus(ctx context.Context, id string, from, to model.IngestionStatus) (bool, error)
}

// IngestionStatusWorker applies PROCESSING -> SUCCESS|FAILED transitions published by
// the ingestion pipeline. Redelivered events are harmless: the transition is conditional.
type IngestionStatusWorker struct {
	conn      *amqp.Connection
	store     StatusStore
	queueName string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewIngestionStatusWorker(conn *amqp.Connection, store StatusStore, queueName string) *IngestionStatusWorker {
	return &IngestionStatusWorker{
		conn:      conn,
		store:     store,
		queueName: queueName,
	}
}

func (w *IngestionStatusWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	if err := rabbitmq.DeclareQueue(ch, w.queueName); err != nil {
		_ = ch.Close()
		cancel()
		return err
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				w.dispatch(workerCtx, d)
			}
		}
	}()

	return nil
}

func (w *IngestionStatusWorker) dispatch(ctx context.Context, d amqp.Delivery) {
	err := w.handle(ctx, d.Body)
	switch {
	case err == nil:
		_ = d.Ack(false)
	case errors.Is(err, errMalformedEvent):
		applog.Warn("drop ingestion event", "error", err)
		_ = d.Nack(false, false)
	default:
		applog.Error("apply ingestion event failed", "error", err, "redelivered", d.Redelivered)
		_ = d.Nack(false, !d.Redelivered)
	}
}

func (w *IngestionStatusWorker) handle(ctx context.Context, body []byte) error {
	var event model.IngestionEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("%w: %v", errMalformedEvent, err)
	}
	if event.DocumentID == "" || !event.Status.Terminal() {
		return fmt.Errorf("%w: document %q status %q", errMalformedEvent, event.DocumentID, event.Status)
	}

	applied, err := w.store.TransitionStatus(ctx, event.DocumentID, model.IngestionProcessing, event.Status)
	if err != nil {
		return err
	}
	if !applied {
		applog.Info("ingestion event already applied", "document_id", event.DocumentID, "status", event.Status)
		return nil
	}
	applog.Info("document ingestion finished",
		"document_id", event.DocumentID,
		"status", event.Status,
		"chunks", event.ChunkCount,
		"reason", event.Reason,
	)
	return nil
}

func (w *IngestionStatusWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
