package workflow

import (
	"bitbucket.org/mmdatafocus/pharmacy_backend/config"
	"bitbucket.org/mmdatafocus/pharmacy_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// BatchAllocation is one planned deduction from one batch.
type BatchAllocation struct {
	Batch *models.InventoryBatch
	Qty   decimal.Decimal
}

// PlanFefoAllocation walks batches in the order given (callers pass them
// expiry-ascending) and plans deductions first-expiry-first-out: each batch
// gives up min(remaining, still needed) until the request is satisfied.
// Returns the plan and the unsatisfied remainder (zero when fully satisfied).
// Pure; does not touch the database.
func PlanFefoAllocation(batches []*models.InventoryBatch, requested decimal.Decimal) ([]BatchAllocation, decimal.Decimal) {
	allocations := make([]BatchAllocation, 0, len(batches))
	stillNeeded := requested

	for _, batch := range batches {
		if stillNeeded.LessThanOrEqual(decimal.Zero) {
			break
		}
		if batch.CurrentStockLevel.LessThanOrEqual(decimal.Zero) {
			continue
		}
		take := batch.CurrentStockLevel
		if stillNeeded.LessThan(take) {
			take = stillNeeded
		}
		allocations = append(allocations, BatchAllocation{Batch: batch, Qty: take})
		stillNeeded = stillNeeded.Sub(take)
	}

	return allocations, stillNeeded
}

// AllocateStockFefo satisfies one requested product line inside the caller's
// sale transaction. The candidate read takes row locks (held to commit) so a
// concurrent checkout cannot see the same units as available; every deduction
// also decrements the product aggregate via the batch primitive. On shortfall
// nothing is committed: the caller rolls back the whole sale.
func AllocateStockFefo(tx *gorm.DB, logger *logrus.Logger, invoiceId int, productId int, quantity decimal.Decimal, unitPrice decimal.Decimal) error {

	batches, err := models.GetAllocatableBatchesForUpdate(tx, productId)
	if err != nil {
		config.LogError(logger, "FefoAllocation.go", "AllocateStockFefo", "GetAllocatableBatchesForUpdate", productId, err)
		return err
	}

	allocations, shortfall := PlanFefoAllocation(batches, quantity)
	if shortfall.GreaterThan(decimal.Zero) {
		return &models.InsufficientStockError{ProductId: productId, Shortfall: shortfall}
	}

	for _, allocation := range allocations {
		if _, err := models.DeductBatchStock(tx, allocation.Batch, allocation.Qty); err != nil {
			config.LogError(logger, "FefoAllocation.go", "AllocateStockFefo", "DeductBatchStock", allocation.Batch.ID, err)
			return err
		}

		saleItem := models.SaleItem{
			InvoiceId: invoiceId,
			BatchId:   allocation.Batch.ID,
			Quantity:  allocation.Qty,
			UnitPrice: unitPrice,
		}
		if err := tx.Create(&saleItem).Error; err != nil {
			config.LogError(logger, "FefoAllocation.go", "AllocateStockFefo", "CreateSaleItem", saleItem, err)
			return err
		}
	}

	return nil
}
