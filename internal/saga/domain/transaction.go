package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of one saga transaction. COMPLETED and FAILED
// are terminal: the ledger entry accepts no further writes once either is set.
type Status string

const (
	StatusStarted   Status = "STARTED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// StepState is the ledger's view of one step: its status plus the raw
// protocol response, retained for audit and as compensation input.
type StepState struct {
	Status   StepStatus
	Response string
}

// Transaction is the durable ledger entry for one order and the source of
// truth for whether that order has already been started or finished. One
// exists per order number.
type Transaction struct {
	ID           string
	OrderNumber  string
	Status       Status
	Registration StepState
	Warehouse    StepState
	Routing      StepState
	ErrorMessage string
	CreatedAt    time.Time
	CompletedAt  *time.Time
}

// NewTransaction starts a fresh ledger entry for an order.
func NewTransaction(orderNumber string) *Transaction {
	return &Transaction{
		ID:           uuid.New().String(),
		OrderNumber:  orderNumber,
		Status:       StatusStarted,
		Registration: StepState{Status: StepNotStarted},
		Warehouse:    StepState{Status: StepNotStarted},
		Routing:      StepState{Status: StepNotStarted},
		CreatedAt:    time.Now(),
	}
}

// Terminal reports whether the transaction reached COMPLETED or FAILED.
func (t *Transaction) Terminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}

// StepState returns the recorded state of step s.
func (t *Transaction) StepState(s Step) StepState {
	switch s {
	case StepClientRegistration:
		return t.Registration
	case StepWarehouseAdd:
		return t.Warehouse
	case StepRouteOptimization:
		return t.Routing
	}
	return StepState{}
}

// SetStepState records a step transition. Rejected once the transaction is
// terminal.
func (t *Transaction) SetStepState(s Step, state StepState) error {
	if t.Terminal() {
		return ErrAlreadyTerminal
	}
	switch s {
	case StepClientRegistration:
		t.Registration = state
	case StepWarehouseAdd:
		t.Warehouse = state
	case StepRouteOptimization:
		t.Routing = state
	default:
		return fmt.Errorf("unknown step %q", s)
	}
	return nil
}

// MarkCompleted moves the transaction to its successful terminal state.
func (t *Transaction) MarkCompleted() error {
	if t.Terminal() {
		return ErrAlreadyTerminal
	}
	now := time.Now()
	t.Status = StatusCompleted
	t.CompletedAt = &now
	return nil
}

// MarkFailed moves the transaction to its failed terminal state. A failed
// transaction always carries a message naming the failing step and cause.
func (t *Transaction) MarkFailed(errorMessage string) error {
	if t.Terminal() {
		return ErrAlreadyTerminal
	}
	if errorMessage == "" {
		errorMessage = "saga failed for unspecified reason"
	}
	now := time.Now()
	t.Status = StatusFailed
	t.ErrorMessage = errorMessage
	t.CompletedAt = &now
	return nil
}
