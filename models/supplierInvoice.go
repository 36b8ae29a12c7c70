package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/pharmacy_backend/config"
	"github.com/shopspring/decimal"
)

type SupplierInvoice struct {
	ID                    int    `gorm:"primary_key" json:"invoice_id"`
	SupplierId            int    `gorm:"uniqueIndex:idx_supplier_invoice_number;not null" json:"supplier_id"`
	SupplierInvoiceNumber string `gorm:"size:100;uniqueIndex:idx_supplier_invoice_number;not null" json:"supplier_invoice_number"`
	// TotalAmount is computed at receiving time from the batch lines
	// (purchased qty x unit cost, bonus units excluded) and never updated.
	TotalAmount     decimal.Decimal  `gorm:"type:decimal(20,4);not null" json:"total_amount"`
	PaymentMethod   PaymentMethod    `gorm:"type:enum('Cash','Check');not null" json:"payment_method"`
	CheckNumber     *string          `gorm:"size:100" json:"check_number"`
	CheckDate       *time.Time       `json:"check_date"`
	IsCleared       *bool            `gorm:"not null;default:false" json:"is_cleared"`
	RecordedByEmpId int              `gorm:"index;not null" json:"recorded_by_emp_id"`
	CreatedAt       time.Time        `gorm:"autoCreateTime" json:"received_at"`
	Batches         []InventoryBatch `gorm:"foreignkey:SupplierInvoiceId" json:"batches,omitempty"`
}

// SetSupplierInvoiceCleared toggles the check-cleared flag. This is the only
// mutation allowed on a recorded supplier invoice (finance workflow).
func SetSupplierInvoiceCleared(ctx context.Context, invoiceId int, cleared bool) error {
	db := config.GetDB()
	result := db.WithContext(ctx).
		Model(&SupplierInvoice{}).
		Where("id = ?", invoiceId).
		Update("is_cleared", cleared)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errors.New("supplier invoice not found")
	}
	return nil
}
