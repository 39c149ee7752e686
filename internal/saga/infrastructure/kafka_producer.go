package infrastructure

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"fulfillment/internal/pkg/mq"
	"fulfillment/internal/saga/domain"
)

// OutcomeProducerAdapter publishes terminal outcomes, keyed by order number
// so downstream consumers see one order's events in sequence.
type OutcomeProducerAdapter struct {
	writer *kafka.Writer
}

func NewOutcomeProducerAdapter(writer *kafka.Writer) *OutcomeProducerAdapter {
	return &OutcomeProducerAdapter{writer: writer}
}

func (p *OutcomeProducerAdapter) PublishOutcome(ctx context.Context, outcome *domain.FulfillmentOutcome) error {
	payload, err := json.Marshal(outcome)
	if err != nil {
		return errors.Wrap(err, "marshal fulfillment outcome")
	}
	return mq.ProduceMessage(ctx, p.writer, []byte(outcome.OrderNumber), payload)
}

// Close flushes and closes the underlying writer.
func (p *OutcomeProducerAdapter) Close() error {
	return p.writer.Close()
}
