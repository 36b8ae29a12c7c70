package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/pharmacy_backend/config"
	"bitbucket.org/mmdatafocus/pharmacy_backend/utils"
	"github.com/shopspring/decimal"
)

// NearExpiryWindowDays is the alert horizon, inclusive of today.
const NearExpiryWindowDays = 30

type LowStockProduct struct {
	ProductId        int             `json:"product_id"`
	Name             string          `json:"name"`
	CurrentStock     decimal.Decimal `json:"current_stock"`
	ReorderThreshold int             `json:"reorder_threshold"`
}

type NearExpiryBatch struct {
	BatchId      int             `json:"batch_id"`
	ProductId    int             `json:"product_id"`
	Name         string          `json:"name"`
	BatchNumber  string          `json:"batch_number"`
	ExpiryDate   time.Time       `json:"expiry_date"`
	RemainingQty decimal.Decimal `json:"remaining_qty"`
}

// GetLowStockProducts lists products at or below their reorder threshold.
// Threshold 0 means alerting is disabled for the product. Derived on demand
// from the latest committed state; no locks.
func GetLowStockProducts(ctx context.Context) ([]*LowStockProduct, error) {
	db := config.GetDB()
	var results []*LowStockProduct
	err := db.WithContext(ctx).
		Model(&Product{}).
		Select("id AS product_id, name, current_stock, reorder_threshold").
		Where("current_stock <= reorder_threshold AND reorder_threshold > 0").
		Order("id ASC").
		Scan(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// GetNearExpiryBatches lists open batches expiring within the alert window.
func GetNearExpiryBatches(ctx context.Context) ([]*NearExpiryBatch, error) {
	db := config.GetDB()
	today := utils.NormalizeDate(time.Now().UTC())
	horizon := today.AddDate(0, 0, NearExpiryWindowDays)

	var results []*NearExpiryBatch
	err := db.WithContext(ctx).
		Table("inventory_batches").
		Select("inventory_batches.id AS batch_id, inventory_batches.product_id, products.name, inventory_batches.batch_number, inventory_batches.expiry_date, inventory_batches.current_stock_level AS remaining_qty").
		Joins("INNER JOIN products ON products.id = inventory_batches.product_id").
		Where("inventory_batches.current_stock_level > 0").
		Where("inventory_batches.expiry_date BETWEEN ? AND ?", today, horizon).
		Order("inventory_batches.expiry_date ASC, inventory_batches.id ASC").
		Scan(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
