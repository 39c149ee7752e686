package domain

import "errors"

var (
	// ErrAlreadyTerminal rejects writes against a COMPLETED or FAILED
	// transaction.
	ErrAlreadyTerminal = errors.New("transaction is already terminal")

	// ErrNotFound is returned by ledger lookups for unknown orders.
	ErrNotFound = errors.New("transaction not found")

	// ErrInFlight signals that another worker currently holds the
	// in-flight marker for this order; the caller should leave the
	// message uncommitted and let redelivery retry.
	ErrInFlight = errors.New("order is already being processed")
)
