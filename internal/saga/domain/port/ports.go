// Package port declares the outbound interfaces of the saga application
// layer. Implementations live in the infrastructure layer.
package port

import (
	"context"

	"fulfillment/internal/saga/domain"
)

// SagaStep wraps one external protocol behind a uniform contract. Adapters
// are stateless, retry internally, and never let errors escape: the
// orchestrator only sees the final StepResult.
type SagaStep interface {
	Name() domain.Step

	// Execute performs the forward call for one order.
	Execute(ctx context.Context, req *domain.OrderFulfillmentRequest) domain.StepResult

	// Compensate undoes a previously successful Execute. Best effort:
	// a failed compensation is reported but never escalated.
	Compensate(ctx context.Context, orderNumber string) domain.StepResult
}

// TransactionRepository is the durable transaction ledger.
type TransactionRepository interface {
	// CreateIfAbsent atomically creates the ledger entry for an order, or
	// returns the existing one. The bool reports whether the entry already
	// existed. This is the idempotency guard against at-least-once
	// delivery and must be a single check-and-create operation.
	CreateIfAbsent(ctx context.Context, orderNumber string) (*domain.Transaction, bool, error)

	// UpdateStepStatus durably records one step transition. The write must
	// land before the next step begins.
	UpdateStepStatus(ctx context.Context, txID string, step domain.Step, status domain.StepStatus, response string) error

	// MarkTerminal is one-shot; it fails with domain.ErrAlreadyTerminal if
	// the transaction is already COMPLETED or FAILED.
	MarkTerminal(ctx context.Context, txID string, status domain.Status, errorMessage string) error

	FindByOrderNumber(ctx context.Context, orderNumber string) (*domain.Transaction, error)
	CountByStatus(ctx context.Context, status domain.Status) (int64, error)
}

// OutcomePublisher emits the terminal outcome to downstream consumers.
// Fire-and-forget: a publish failure is logged, never fatal, because the
// outcome is reconstructable from the ledger.
type OutcomePublisher interface {
	PublishOutcome(ctx context.Context, outcome *domain.FulfillmentOutcome) error
}

// InflightGuard serializes concurrent processing of the same order across
// workers. Acquire returns false when another holder is active.
type InflightGuard interface {
	Acquire(ctx context.Context, orderNumber string) (bool, error)
	Release(ctx context.Context, orderNumber string)
}
