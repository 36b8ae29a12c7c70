package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/pharmacy_backend/config"
	"bitbucket.org/mmdatafocus/pharmacy_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Product struct {
	ID               int    `gorm:"primary_key" json:"product_id"`
	Name             string `gorm:"size:100;not null;index" json:"name" binding:"required"`
	MeasureUnit      string `gorm:"size:50;not null" json:"measure_unit" binding:"required"`
	Category         string `gorm:"size:100;index" json:"category"`
	ReorderThreshold int    `gorm:"not null;default:0" json:"reorder_threshold"`
	// CurrentStock is the denormalized sum of this product's batch
	// current_stock_level values. Mutated only by the ledger primitives in
	// inventoryBatch.go and by OverrideProductCurrentStock.
	CurrentStock decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"current_stock"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetProductById(tx *gorm.DB, productId int) (*Product, error) {
	var product Product
	err := tx.First(&product, productId).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &product, nil
}

// GetProductByIdForUpdate row-locks the product so a concurrent manual
// adjustment or allocation cannot interleave with the caller's read-compute-write.
func GetProductByIdForUpdate(tx *gorm.DB, productId int) (*Product, error) {
	var product Product
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&product, productId).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &product, nil
}

// applyProductStockDelta is the single mutator of products.current_stock for
// batch-backed movements. Receiving and allocation both go through here, in
// the same transaction as the batch-level change, so the aggregate and the
// batch sum cannot drift.
func applyProductStockDelta(tx *gorm.DB, productId int, delta decimal.Decimal) error {
	result := tx.Exec("UPDATE products SET current_stock = current_stock + ? WHERE id = ?", delta, productId)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errors.New("product not found")
	}
	return nil
}

// OverrideProductCurrentStock writes the aggregate directly without touching
// batch rows. Only the downward branch of the manual adjustment workflow may
// call this; it is the one documented case where the aggregate and the batch
// sum diverge.
func OverrideProductCurrentStock(tx *gorm.DB, productId int, newStock decimal.Decimal) error {
	result := tx.Exec("UPDATE products SET current_stock = ? WHERE id = ?", newStock, productId)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// MySQL reports zero affected rows for a no-op write, so
		// distinguish "already at that value" from "no such product".
		var count int64
		if err := tx.Model(&Product{}).Where("id = ?", productId).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return errors.New("product not found")
		}
	}
	return nil
}

type PosProduct struct {
	ProductId    int               `json:"product_id"`
	Name         string            `json:"name"`
	MeasureUnit  string            `json:"measure_unit"`
	TotalStock   decimal.Decimal   `json:"total_stock"`
	SellingPrice decimal.Decimal   `json:"selling_price"`
	Batches      []*InventoryBatch `json:"batches"`
}

// SearchPosProducts returns candidate products for POS entry with their open
// batches ordered by expiry. Best-effort selling price is the unit cost of the
// earliest-expiring open batch. Read-only; no locks.
func SearchPosProducts(ctx context.Context, query string) ([]*PosProduct, error) {
	db := config.GetDB()

	var products []Product
	dbCtx := db.WithContext(ctx).Model(&Product{})
	if query != "" {
		like := "%" + query + "%"
		dbCtx = dbCtx.Where("name LIKE ? OR category LIKE ?", like, like)
	}
	if err := dbCtx.Limit(config.SearchLimit).Find(&products).Error; err != nil {
		return nil, err
	}

	results := make([]*PosProduct, 0, len(products))
	for _, product := range products {
		var batches []*InventoryBatch
		if err := db.WithContext(ctx).
			Where("product_id = ? AND current_stock_level > 0", product.ID).
			Order("expiry_date ASC, id ASC").
			Find(&batches).Error; err != nil {
			return nil, err
		}

		sellingPrice := decimal.Zero
		if len(batches) > 0 {
			sellingPrice = batches[0].UnitCost
		}

		results = append(results, &PosProduct{
			ProductId:    product.ID,
			Name:         product.Name,
			MeasureUnit:  product.MeasureUnit,
			TotalStock:   product.CurrentStock,
			SellingPrice: sellingPrice,
			Batches:      batches,
		})
	}
	return results, nil
}
