package application

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fulfillment/internal/pkg/logger"
	"fulfillment/internal/saga/domain"
	"fulfillment/internal/saga/domain/port"
)

// FulfillmentService is the inbound entry point of the saga: it turns one
// delivered event into one (resumed or fresh) orchestrator run. Driving
// adapters (the Kafka consumer) call it and own ack semantics based on the
// returned error.
type FulfillmentService struct {
	repo              port.TransactionRepository
	guard             port.InflightGuard
	orchestrator      *Orchestrator
	tracer            trace.Tracer
	processingTimeout time.Duration
}

func NewFulfillmentService(repo port.TransactionRepository, guard port.InflightGuard, orchestrator *Orchestrator, tracer trace.Tracer, processingTimeout time.Duration) *FulfillmentService {
	return &FulfillmentService{
		repo:              repo,
		guard:             guard,
		orchestrator:      orchestrator,
		tracer:            tracer,
		processingTimeout: processingTimeout,
	}
}

// HandleOrderEvent processes one inbound fulfillment request.
//
// Returns nil when the saga reached (or had already reached) a terminal
// state, domain.ErrInFlight when another worker holds the order, and any
// other error when the attempt must be redelivered.
func (s *FulfillmentService) HandleOrderEvent(ctx context.Context, event *domain.OrderFulfillmentRequested) error {
	ctx, span := s.tracer.Start(ctx, "app.HandleOrderEvent", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	req, err := event.ToRequest()
	if err != nil {
		span.SetStatus(codes.Error, "invalid fulfillment event")
		return errors.Wrap(err, "invalid fulfillment event")
	}
	span.SetAttributes(attribute.String("order.number", req.OrderNumber))
	ctx = logger.WithOrder(ctx, req.OrderNumber)

	processingCtx, cancel := context.WithTimeout(ctx, s.processingTimeout)
	defer cancel()

	acquired, err := s.guard.Acquire(processingCtx, req.OrderNumber)
	if err != nil {
		return errors.Wrap(err, "in-flight guard")
	}
	if !acquired {
		logger.Ctx(ctx).Warn().Msg("order held by another worker, leaving for redelivery")
		return domain.ErrInFlight
	}
	defer s.guard.Release(context.WithoutCancel(processingCtx), req.OrderNumber)

	tx, existed, err := s.repo.CreateIfAbsent(processingCtx, req.OrderNumber)
	if err != nil {
		span.SetStatus(codes.Error, "ledger create failed")
		return errors.Wrap(err, "create transaction")
	}
	if existed {
		logger.Ctx(ctx).Info().
			Str("transaction_id", tx.ID).
			Str("status", string(tx.Status)).
			Msg("existing transaction found for order")
	}

	return s.orchestrator.Run(processingCtx, tx, req)
}
