package infrastructure

import (
	"fulfillment/internal/saga/domain"
)

func toDomainTransaction(model *TransactionModel) *domain.Transaction {
	if model == nil {
		return nil
	}
	return &domain.Transaction{
		ID:          model.ID,
		OrderNumber: model.OrderNumber,
		Status:      domain.Status(model.Status),
		Registration: domain.StepState{
			Status:   domain.StepStatus(model.RegistrationStatus),
			Response: model.RegistrationResponse,
		},
		Warehouse: domain.StepState{
			Status:   domain.StepStatus(model.WarehouseStatus),
			Response: model.WarehouseResponse,
		},
		Routing: domain.StepState{
			Status:   domain.StepStatus(model.RoutingStatus),
			Response: model.RoutingResponse,
		},
		ErrorMessage: model.ErrorMessage,
		CreatedAt:    model.CreatedAt,
		CompletedAt:  model.CompletedAt,
	}
}

func fromDomainTransaction(tx *domain.Transaction) *TransactionModel {
	if tx == nil {
		return nil
	}
	return &TransactionModel{
		ID:                   tx.ID,
		OrderNumber:          tx.OrderNumber,
		Status:               string(tx.Status),
		RegistrationStatus:   string(tx.Registration.Status),
		RegistrationResponse: tx.Registration.Response,
		WarehouseStatus:      string(tx.Warehouse.Status),
		WarehouseResponse:    tx.Warehouse.Response,
		RoutingStatus:        string(tx.Routing.Status),
		RoutingResponse:      tx.Routing.Response,
		ErrorMessage:         tx.ErrorMessage,
		CreatedAt:            tx.CreatedAt,
		CompletedAt:          tx.CompletedAt,
	}
}
