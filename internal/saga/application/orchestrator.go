package application

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fulfillment/internal/pkg/logger"
	"fulfillment/internal/pkg/metrics"
	"fulfillment/internal/saga/domain"
	"fulfillment/internal/saga/domain/port"
)

// Orchestrator drives one transaction through the fixed step sequence and
// unwinds completed steps in reverse order when a later step fails. It is the
// only writer of the ledger.
type Orchestrator struct {
	steps  []port.SagaStep
	repo   port.TransactionRepository
	pub    port.OutcomePublisher
	tracer trace.Tracer
}

func NewOrchestrator(steps []port.SagaStep, repo port.TransactionRepository, pub port.OutcomePublisher, tracer trace.Tracer) *Orchestrator {
	return &Orchestrator{steps: steps, repo: repo, pub: pub, tracer: tracer}
}

// Run executes or resumes the saga for tx. Steps already COMPLETED in the
// ledger are skipped, and a step already FAILED in the ledger is not tried
// again: a resumed transaction never re-executes finished work and
// compensations can never fire twice for the same step.
//
// A ledger write failure aborts the attempt: the inbound message stays
// uncommitted and redelivery resumes from the last durably recorded state.
func (o *Orchestrator) Run(ctx context.Context, tx *domain.Transaction, req *domain.OrderFulfillmentRequest) error {
	ctx, span := o.tracer.Start(ctx, "saga.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.number", tx.OrderNumber),
		attribute.String("transaction.id", tx.ID),
	)

	if tx.Terminal() {
		// Duplicate delivery of a finished order: no adapter calls, no
		// ledger writes. Re-publishing keeps downstream consumers
		// self-healing.
		metrics.DuplicateDeliveries.Inc()
		logger.Ctx(ctx).Info().
			Str("status", string(tx.Status)).
			Msg("transaction already terminal, re-publishing outcome")
		o.publish(ctx, tx)
		return nil
	}

	metrics.SagasStarted.Inc()
	startedAt := time.Now()

	// A crash between a step's FAILED write and the terminal write leaves a
	// FAILED step inside a STARTED transaction. That failure was final:
	// redelivery finishes the unwind and never re-executes the step, so a
	// step whose compensation already ran cannot be compensated again.
	failedAt, failureMsg := recordedFailure(o.steps, tx)
	if failedAt >= 0 {
		logger.Ctx(ctx).Warn().
			Str("step", string(o.steps[failedAt].Name())).
			Msg("resuming transaction with a recorded step failure, finishing the unwind")
	}

	if failedAt < 0 {
		for i, step := range o.steps {
			name := step.Name()
			if tx.StepState(name).Status == domain.StepCompleted {
				logger.Ctx(ctx).Info().Str("step", string(name)).Msg("step already completed, resuming past it")
				continue
			}

			if err := o.transition(ctx, tx, name, domain.StepProcessing, ""); err != nil {
				return err
			}

			result := o.executeStep(ctx, step, req)
			if !result.Success {
				metrics.StepAttempts.WithLabelValues(string(name), "failure").Inc()
				logger.Ctx(ctx).Error().
					Str("step", string(name)).
					Str("detail", result.Response).
					Msg(result.Message)
				if err := o.transition(ctx, tx, name, domain.StepFailed, result.Response); err != nil {
					return err
				}
				failedAt = i
				failureMsg = fmt.Sprintf("%s: %s", name, result.Message)
				break
			}

			metrics.StepAttempts.WithLabelValues(string(name), "success").Inc()
			if err := o.transition(ctx, tx, name, domain.StepCompleted, result.Response); err != nil {
				return err
			}
		}
	}

	if failedAt >= 0 {
		o.compensate(ctx, tx, failedAt)
		if err := o.markTerminal(ctx, tx, domain.StatusFailed, failureMsg); err != nil {
			return err
		}
		span.SetStatus(codes.Error, failureMsg)
	} else {
		if err := o.markTerminal(ctx, tx, domain.StatusCompleted, ""); err != nil {
			return err
		}
	}

	metrics.SagasTerminal.WithLabelValues(string(tx.Status)).Inc()
	metrics.SagaDuration.Observe(time.Since(startedAt).Seconds())

	o.publish(ctx, tx)
	return nil
}

// recordedFailure finds the first step the ledger already marked FAILED, if
// any, carrying its stored failure detail.
func recordedFailure(steps []port.SagaStep, tx *domain.Transaction) (int, string) {
	for i, step := range steps {
		if state := tx.StepState(step.Name()); state.Status == domain.StepFailed {
			return i, fmt.Sprintf("%s: %s", step.Name(), state.Response)
		}
	}
	return -1, ""
}

func (o *Orchestrator) executeStep(ctx context.Context, step port.SagaStep, req *domain.OrderFulfillmentRequest) domain.StepResult {
	ctx, span := o.tracer.Start(ctx, "saga.step."+string(step.Name()))
	defer span.End()

	result := step.Execute(ctx, req)
	if !result.Success {
		span.SetStatus(codes.Error, result.Message)
	}
	return result
}

// compensate unwinds every step strictly before failedAt that reached
// COMPLETED, most-recent-first. Failures are recorded and skipped: the unwind
// of earlier steps must not be aborted, and the saga keeps its original
// failure reason.
func (o *Orchestrator) compensate(ctx context.Context, tx *domain.Transaction, failedAt int) {
	for i := failedAt - 1; i >= 0; i-- {
		step := o.steps[i]
		name := step.Name()
		if tx.StepState(name).Status != domain.StepCompleted {
			continue
		}

		compCtx, span := o.tracer.Start(ctx, "saga.compensation."+string(name))
		result := step.Compensate(compCtx, tx.OrderNumber)
		if result.Success {
			metrics.Compensations.WithLabelValues(string(name), "success").Inc()
			logger.Ctx(compCtx).Info().Str("step", string(name)).Msg("compensation completed")
		} else {
			metrics.Compensations.WithLabelValues(string(name), "failure").Inc()
			span.SetStatus(codes.Error, result.Message)
			logger.Ctx(compCtx).Error().
				Str("step", string(name)).
				Str("detail", result.Response).
				Msgf("compensation failed, manual intervention may be required: %s", result.Message)
		}
		span.End()
	}
}

// transition writes the ledger first and only then mutates the in-memory
// transaction, so a step is never treated as COMPLETED for compensation
// purposes unless the write landed.
func (o *Orchestrator) transition(ctx context.Context, tx *domain.Transaction, step domain.Step, status domain.StepStatus, response string) error {
	if err := o.repo.UpdateStepStatus(ctx, tx.ID, step, status, response); err != nil {
		return errors.Wrapf(err, "ledger write for step %s -> %s", step, status)
	}
	return tx.SetStepState(step, domain.StepState{Status: status, Response: response})
}

func (o *Orchestrator) markTerminal(ctx context.Context, tx *domain.Transaction, status domain.Status, errorMessage string) error {
	if err := o.repo.MarkTerminal(ctx, tx.ID, status, errorMessage); err != nil {
		return errors.Wrapf(err, "ledger terminal write %s", status)
	}
	if status == domain.StatusCompleted {
		return tx.MarkCompleted()
	}
	return tx.MarkFailed(errorMessage)
}

func (o *Orchestrator) publish(ctx context.Context, tx *domain.Transaction) {
	if err := o.pub.PublishOutcome(ctx, domain.OutcomeFrom(tx)); err != nil {
		// Not fatal: downstream can recover the outcome from the ledger.
		logger.Ctx(ctx).Error().Err(err).Msg("failed to publish fulfillment outcome")
	}
}
