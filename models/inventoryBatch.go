package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SyntheticBatchNumber marks batches created by the manual adjustment path
// rather than a supplier GRN.
const SyntheticBatchNumber = "MANUAL-ADJ"

// SyntheticBatchExpiry keeps adjustment batches at the back of the FEFO queue.
var SyntheticBatchExpiry = time.Date(2099, time.December, 31, 0, 0, 0, 0, time.UTC)

type InventoryBatch struct {
	ID                int             `gorm:"primary_key" json:"batch_id"`
	ProductId         int             `gorm:"index;not null" json:"product_id"`
	SupplierInvoiceId *int            `gorm:"index" json:"supplier_invoice_id"`
	BatchNumber       string          `gorm:"size:100" json:"batch_number"`
	ExpiryDate        time.Time       `gorm:"index;not null" json:"expiry_date"`
	Location          string          `gorm:"size:100" json:"location"`
	PurchasedQty      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"purchased_quantity"`
	BonusQty          decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"bonus_quantity"`
	UnitCost          decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"unit_cost"`
	// CurrentStockLevel starts at PurchasedQty+BonusQty and only ever goes
	// down, through DeductBatchStock. Batches are never deleted; a drained
	// batch stays as audit trail and drops out of the allocatable set.
	CurrentStockLevel decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"current_stock_level"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type InsufficientStockError struct {
	ProductId int
	Shortfall decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d (short by %s)", e.ProductId, e.Shortfall)
}

// CreateInventoryBatch is the only way stock enters the ledger. It sets the
// initial stock level from purchased+bonus quantities, inserts the batch and
// increments the product aggregate in the same transaction.
func CreateInventoryBatch(tx *gorm.DB, batch *InventoryBatch) error {
	if batch.PurchasedQty.IsNegative() || batch.BonusQty.IsNegative() {
		return errors.New("batch quantities must not be negative")
	}
	if batch.UnitCost.IsNegative() {
		return errors.New("batch unit cost must not be negative")
	}
	if batch.ExpiryDate.IsZero() {
		return errors.New("batch expiry date is required")
	}

	batch.CurrentStockLevel = batch.PurchasedQty.Add(batch.BonusQty)
	if err := tx.Create(batch).Error; err != nil {
		return err
	}
	return applyProductStockDelta(tx, batch.ProductId, batch.CurrentStockLevel)
}

// GetAllocatableBatchesForUpdate reads the FEFO candidate set under row locks.
// The locks are held until the enclosing transaction commits or rolls back,
// which is what stops two concurrent checkouts from allocating the same units.
// Order: earliest expiry first, batch id ascending as a deterministic tiebreak.
func GetAllocatableBatchesForUpdate(tx *gorm.DB, productId int) ([]*InventoryBatch, error) {
	var batches []*InventoryBatch
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("product_id = ? AND current_stock_level > 0", productId).
		Order("expiry_date ASC, id ASC").
		Find(&batches).Error
	if err != nil {
		return nil, err
	}
	return batches, nil
}

// DeductBatchStock decrements one batch and the product aggregate in the same
// transaction. The guarded UPDATE cannot drive the level negative even if a
// caller bypassed the locked read; in that case it reports the shortfall.
func DeductBatchStock(tx *gorm.DB, batch *InventoryBatch, qty decimal.Decimal) (decimal.Decimal, error) {
	if qty.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, errors.New("deduction quantity must be positive")
	}

	result := tx.Exec(
		"UPDATE inventory_batches SET current_stock_level = current_stock_level - ? WHERE id = ? AND current_stock_level >= ?",
		qty, batch.ID, qty,
	)
	if result.Error != nil {
		return decimal.Zero, result.Error
	}
	if result.RowsAffected == 0 {
		var current InventoryBatch
		if err := tx.First(&current, batch.ID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return decimal.Zero, errors.New("batch not found")
			}
			return decimal.Zero, err
		}
		return decimal.Zero, &InsufficientStockError{
			ProductId: batch.ProductId,
			Shortfall: qty.Sub(current.CurrentStockLevel),
		}
	}

	if err := applyProductStockDelta(tx, batch.ProductId, qty.Neg()); err != nil {
		return decimal.Zero, err
	}

	batch.CurrentStockLevel = batch.CurrentStockLevel.Sub(qty)
	return batch.CurrentStockLevel, nil
}
