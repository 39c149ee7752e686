package infrastructure

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"fulfillment/internal/saga/domain"
)

// GormTransactionRepository is the MySQL implementation of the transaction
// ledger. Open the gorm.DB with TranslateError enabled so duplicate-key
// violations surface as gorm.ErrDuplicatedKey.
type GormTransactionRepository struct {
	db *gorm.DB
}

func NewGormTransactionRepository(db *gorm.DB) *GormTransactionRepository {
	return &GormTransactionRepository{db: db}
}

// CreateIfAbsent inserts a fresh STARTED transaction, relying on the unique
// index on order_number for atomicity. A concurrent or earlier insert for the
// same order turns into a read of the existing row, never a second ledger.
func (r *GormTransactionRepository) CreateIfAbsent(ctx context.Context, orderNumber string) (*domain.Transaction, bool, error) {
	tx := domain.NewTransaction(orderNumber)
	err := r.db.WithContext(ctx).Create(fromDomainTransaction(tx)).Error
	if err == nil {
		return tx, false, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, false, errors.Wrap(err, "insert transaction")
	}

	existing, err := r.FindByOrderNumber(ctx, orderNumber)
	if err != nil {
		return nil, false, errors.Wrap(err, "load existing transaction after duplicate insert")
	}
	return existing, true, nil
}

func stepColumns(step domain.Step) (statusCol, responseCol string, err error) {
	switch step {
	case domain.StepClientRegistration:
		return "registration_status", "registration_response", nil
	case domain.StepWarehouseAdd:
		return "warehouse_status", "warehouse_response", nil
	case domain.StepRouteOptimization:
		return "routing_status", "routing_response", nil
	}
	return "", "", errors.Errorf("unknown step %q", step)
}

// UpdateStepStatus durably records one step transition. The WHERE clause
// keeps terminal rows immutable at the database level, not just in memory.
func (r *GormTransactionRepository) UpdateStepStatus(ctx context.Context, txID string, step domain.Step, status domain.StepStatus, response string) error {
	statusCol, responseCol, err := stepColumns(step)
	if err != nil {
		return err
	}

	updates := map[string]interface{}{statusCol: string(status)}
	if response != "" {
		updates[responseCol] = response
	}

	result := r.db.WithContext(ctx).
		Model(&TransactionModel{}).
		Where("id = ? AND status = ?", txID, string(domain.StatusStarted)).
		Updates(updates)
	if result.Error != nil {
		return errors.Wrapf(result.Error, "update step %s", step)
	}
	if result.RowsAffected == 0 {
		// MySQL reports zero affected rows both when the row is missing
		// or terminal and when the values were already identical (a
		// resume re-marking PROCESSING). Disambiguate with a read.
		return r.checkWritable(ctx, txID)
	}
	return nil
}

// MarkTerminal is a compare-and-set from STARTED to a terminal status.
func (r *GormTransactionRepository) MarkTerminal(ctx context.Context, txID string, status domain.Status, errorMessage string) error {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&TransactionModel{}).
		Where("id = ? AND status = ?", txID, string(domain.StatusStarted)).
		Updates(map[string]interface{}{
			"status":        string(status),
			"error_message": errorMessage,
			"completed_at":  &now,
		})
	if result.Error != nil {
		return errors.Wrapf(result.Error, "mark transaction %s", status)
	}
	if result.RowsAffected == 0 {
		if err := r.checkWritable(ctx, txID); err != nil {
			return err
		}
		return errors.Errorf("terminal write for %s affected no rows", txID)
	}
	return nil
}

// checkWritable reports ErrNotFound for missing rows and ErrAlreadyTerminal
// for terminal ones; a writable row means the no-op write was benign.
func (r *GormTransactionRepository) checkWritable(ctx context.Context, txID string) error {
	var model TransactionModel
	err := r.db.WithContext(ctx).Where("id = ?", txID).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}
	if toDomainTransaction(&model).Terminal() {
		return domain.ErrAlreadyTerminal
	}
	return nil
}

func (r *GormTransactionRepository) FindByOrderNumber(ctx context.Context, orderNumber string) (*domain.Transaction, error) {
	var model TransactionModel
	err := r.db.WithContext(ctx).Where("order_number = ?", orderNumber).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return toDomainTransaction(&model), nil
}

func (r *GormTransactionRepository) CountByStatus(ctx context.Context, status domain.Status) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&TransactionModel{}).
		Where("status = ?", string(status)).
		Count(&count).Error
	return count, err
}
