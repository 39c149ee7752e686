package infrastructure

import (
	"time"
)

// TransactionModel maps the ledger entry onto the fulfillment_transaction
// table. One row per order; order_number carries the unique index that makes
// CreateIfAbsent atomic.
type TransactionModel struct {
	ID                   string `gorm:"primaryKey;size:36"`
	OrderNumber          string `gorm:"uniqueIndex;size:64;not null"`
	Status               string `gorm:"size:16;index;not null"`
	RegistrationStatus   string `gorm:"size:16;not null"`
	RegistrationResponse string `gorm:"type:text"`
	WarehouseStatus      string `gorm:"size:16;not null"`
	WarehouseResponse    string `gorm:"type:text"`
	RoutingStatus        string `gorm:"size:16;not null"`
	RoutingResponse      string `gorm:"type:text"`
	ErrorMessage         string `gorm:"type:text"`
	CreatedAt            time.Time
	CompletedAt          *time.Time
}

func (TransactionModel) TableName() string {
	return "fulfillment_transaction"
}
