package infrastructure

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/semaphore"

	"fulfillment/internal/pkg/logger"
	"fulfillment/internal/pkg/mq"
	"fulfillment/internal/saga/application"
	"fulfillment/internal/saga/domain"
)

// OrderConsumerAdapter is the driving adapter: it reads fulfillment requests
// from Kafka and dispatches saga executions onto a bounded worker pool.
//
// Ack policy: a message's offset is committed only once its saga returns a
// terminal outcome (or the event is unparseable). Anything else leaves the
// offset uncommitted so the broker redelivers and the ledger resumes the
// work. Within one partition commits may land out of order across workers;
// the resulting redeliveries are absorbed by the ledger's idempotency guard.
type OrderConsumerAdapter struct {
	reader messageReader
	svc    *application.FulfillmentService
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
}

// messageReader is the subset of kafka.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Config() kafka.ReaderConfig
	Close() error
}

func NewOrderConsumerAdapter(reader messageReader, svc *application.FulfillmentService, poolSize int64) *OrderConsumerAdapter {
	if poolSize < 1 {
		poolSize = 1
	}
	return &OrderConsumerAdapter{
		reader: reader,
		svc:    svc,
		sem:    semaphore.NewWeighted(poolSize),
	}
}

// Start consumes until ctx is cancelled. It returns after launching the
// consume loop; use Stop for a drained shutdown.
func (a *OrderConsumerAdapter) Start(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Ctx(ctx).Info().Str("topic", a.reader.Config().Topic).Msg("kafka consumer started")
		for {
			msg, err := a.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					logger.Ctx(ctx).Info().Msg("kafka consumer shutting down")
					return
				}
				logger.Ctx(ctx).Error().Err(err).Msg("could not fetch message, retrying")
				time.Sleep(time.Second)
				continue
			}

			if err := a.sem.Acquire(ctx, 1); err != nil {
				return
			}
			a.wg.Add(1)
			go func(msg kafka.Message) {
				defer a.wg.Done()
				defer a.sem.Release(1)
				// Detached from the fetch loop's cancellation so an
				// in-flight saga can finish and commit its offset during
				// shutdown. The processing timeout still bounds it.
				a.processMessage(context.WithoutCancel(ctx), msg)
			}(msg)
		}
	}()
}

// Stop drains in-flight sagas, then closes the reader. Cancel the Start
// context first so no new work is fetched; the reader must stay open until
// the drain finishes or completed sagas cannot commit their offsets.
func (a *OrderConsumerAdapter) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		_ = a.reader.Close()
		return ctx.Err()
	}
	return a.reader.Close()
}

func (a *OrderConsumerAdapter) processMessage(parentCtx context.Context, msg kafka.Message) {
	ctx := mq.ExtractTraceContext(parentCtx, msg)

	var event domain.OrderFulfillmentRequested
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		// Poison message: commit it so it cannot wedge the partition.
		logger.Ctx(ctx).Error().Err(err).Msg("unparseable fulfillment event, skipping")
		a.commit(ctx, msg)
		return
	}
	if _, err := event.ToRequest(); err != nil {
		// Structurally valid JSON that can never become a valid order.
		// Redelivery would fail identically, so commit and move on.
		logger.Ctx(ctx).Error().Err(err).Msg("invalid fulfillment event, skipping")
		a.commit(ctx, msg)
		return
	}

	err := a.svc.HandleOrderEvent(ctx, &event)
	switch {
	case err == nil:
		a.commit(ctx, msg)
	case errors.Is(err, domain.ErrInFlight):
		// Another worker owns this order right now. Leave the offset
		// alone; redelivery will find the ledger advanced.
		logger.Ctx(ctx).Warn().Str("order_number", event.OrderNumber).Msg("order in flight elsewhere, not committing")
	default:
		logger.Ctx(ctx).Error().Err(err).Str("order_number", event.OrderNumber).Msg("saga attempt failed, message left for redelivery")
	}
}

func (a *OrderConsumerAdapter) commit(ctx context.Context, msg kafka.Message) {
	if err := a.reader.CommitMessages(ctx, msg); err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("failed to commit offset")
	}
}
