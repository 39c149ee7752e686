package domain

import (
	"errors"
	"time"
)

// OrderFulfillmentRequested is the inbound event that triggers one saga. The
// channel delivers it at least once; redeliveries are absorbed by the ledger.
type OrderFulfillmentRequested struct {
	OrderNumber        string `json:"orderNumber"`
	ClientID           string `json:"clientId"`
	PickupAddress      string `json:"pickupAddress"`
	DeliveryAddress    string `json:"deliveryAddress"`
	PackageDescription string `json:"packageDescription"`
	Priority           string `json:"priority"`
}

// ToRequest validates the event and converts it into the immutable saga
// input. An unknown priority degrades to STANDARD instead of rejecting.
func (e *OrderFulfillmentRequested) ToRequest() (*OrderFulfillmentRequest, error) {
	if e.OrderNumber == "" {
		return nil, errors.New("order number is required")
	}
	return &OrderFulfillmentRequest{
		OrderNumber:        e.OrderNumber,
		ClientID:           e.ClientID,
		PickupAddress:      e.PickupAddress,
		DeliveryAddress:    e.DeliveryAddress,
		PackageDescription: e.PackageDescription,
		Priority:           ParsePriority(e.Priority),
	}, nil
}

// Outcome statuses published downstream.
const (
	OutcomeSuccess = "SUCCESS"
	OutcomeFailed  = "FAILED"
)

// FulfillmentOutcome is the terminal event published for every finished saga.
type FulfillmentOutcome struct {
	OrderNumber string    `json:"orderNumber"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
}

// OutcomeFrom derives the outbound event from a terminal transaction.
func OutcomeFrom(tx *Transaction) *FulfillmentOutcome {
	outcome := &FulfillmentOutcome{
		OrderNumber: tx.OrderNumber,
		Timestamp:   time.Now(),
	}
	if tx.Status == StatusCompleted {
		outcome.Status = OutcomeSuccess
		outcome.Message = "order fulfilled across all systems"
	} else {
		outcome.Status = OutcomeFailed
		outcome.Message = tx.ErrorMessage
	}
	return outcome
}
