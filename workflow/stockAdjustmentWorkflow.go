package workflow

import (
	"fmt"

	"bitbucket.org/mmdatafocus/pharmacy_backend/config"
	"bitbucket.org/mmdatafocus/pharmacy_backend/models"
	"bitbucket.org/mmdatafocus/pharmacy_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// AdjustProductStock sets a product's counted stock to newStock. An upward
// correction materializes as a synthetic zero-cost batch so it stays sellable
// through the normal FEFO path; a downward correction only rewrites the
// aggregate and leaves batch levels alone, so the batch breakdown can read
// higher than the aggregate until those batches sell through or expire.
func AdjustProductStock(db *gorm.DB, logger *logrus.Logger, empId int, productId int, newStock decimal.Decimal) error {

	if empId <= 0 {
		return utils.ErrorUnauthorized
	}
	if productId <= 0 {
		return newValidationError("product_id is required")
	}
	if newStock.IsNegative() {
		return newValidationError("new_stock must not be negative")
	}

	return db.Transaction(func(tx *gorm.DB) error {
		// Serialize adjustments per product across instances; the
		// read-compute-write below spans the product row and a batch insert.
		if err := AcquireStockPostingLock(tx, productId); err != nil {
			config.LogError(logger, "StockAdjustmentWorkflow.go", "AdjustProductStock", "AcquireStockPostingLock", productId, err)
			return err
		}
		defer ReleaseStockPostingLock(tx, productId)

		product, err := models.GetProductByIdForUpdate(tx, productId)
		if err != nil {
			config.LogError(logger, "StockAdjustmentWorkflow.go", "AdjustProductStock", "GetProductByIdForUpdate", productId, err)
			return err
		}

		delta := newStock.Sub(product.CurrentStock)

		if delta.IsPositive() {
			batch := models.InventoryBatch{
				ProductId:    productId,
				BatchNumber:  models.SyntheticBatchNumber,
				ExpiryDate:   models.SyntheticBatchExpiry,
				PurchasedQty: delta,
				BonusQty:     decimal.Zero,
				UnitCost:     decimal.Zero,
			}
			if err := models.CreateInventoryBatch(tx, &batch); err != nil {
				config.LogError(logger, "StockAdjustmentWorkflow.go", "AdjustProductStock", "CreateInventoryBatch", batch, err)
				return err
			}
		} else {
			if err := models.OverrideProductCurrentStock(tx, productId, newStock); err != nil {
				config.LogError(logger, "StockAdjustmentWorkflow.go", "AdjustProductStock", "OverrideProductCurrentStock", productId, err)
				return err
			}
		}

		details := fmt.Sprintf("Adjusted stock of product %d from %s to %s", productId, product.CurrentStock.String(), newStock.String())
		if err := models.CreateAuditLog(tx, empId, models.AuditActionAdjustStock, details); err != nil {
			config.LogError(logger, "StockAdjustmentWorkflow.go", "AdjustProductStock", "CreateAuditLog", productId, err)
			return err
		}

		return nil
	})
}
