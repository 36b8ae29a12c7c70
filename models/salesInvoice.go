package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/pharmacy_backend/config"
	"bitbucket.org/mmdatafocus/pharmacy_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type SalesInvoice struct {
	ID               int                `gorm:"primary_key" json:"invoice_id"`
	IsOverTheCounter *bool              `gorm:"not null;default:true" json:"is_over_the_counter"`
	PatientId        *int               `gorm:"index" json:"patient_id"`
	CashierId        int                `gorm:"index;not null" json:"cashier_id"`
	PrescriptionId   *int               `gorm:"index" json:"prescription_id"`
	PaymentMethod    string             `gorm:"size:50;not null;default:'Cash'" json:"payment_method"`
	TotalAmount      decimal.Decimal    `gorm:"type:decimal(20,4);not null;default:0" json:"total_amount"`
	MoneyGiven       decimal.Decimal    `gorm:"type:decimal(20,4);not null;default:0" json:"money_given"`
	Status           SalesInvoiceStatus `gorm:"type:enum('Draft','Completed');not null" json:"status"`
	Notes            string             `gorm:"type:text" json:"notes"`
	CreatedAt        time.Time          `gorm:"autoCreateTime" json:"created_at"`
	Items            []SaleItem         `gorm:"foreignkey:InvoiceId" json:"items,omitempty"`
}

// SaleItem records units deducted from one specific batch for one sale.
// Rows are immutable once the sale transaction commits; corrections are new
// compensating records, never updates.
type SaleItem struct {
	ID        int             `gorm:"primary_key" json:"item_id"`
	InvoiceId int             `gorm:"index;not null" json:"invoice_id"`
	BatchId   int             `gorm:"index;not null" json:"batch_id"`
	Quantity  decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	UnitPrice decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"unit_price"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type ReceiptItem struct {
	ProductName string          `json:"product_name"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

type InvoiceReceipt struct {
	InvoiceId     int             `json:"invoice_id"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	MoneyGiven    decimal.Decimal `json:"money_given"`
	PaymentMethod string          `json:"payment_method"`
	CashierName   string          `json:"cashier_name"`
	ReceivedAt    time.Time       `json:"received_at"`
	Items         []ReceiptItem   `json:"items"`
}

// GetInvoiceReceipt returns display data for a committed sale. Read-only.
func GetInvoiceReceipt(ctx context.Context, invoiceId int) (*InvoiceReceipt, error) {
	db := config.GetDB()

	var receipt InvoiceReceipt
	err := db.WithContext(ctx).
		Table("sales_invoices").
		Select("sales_invoices.id AS invoice_id, sales_invoices.total_amount, sales_invoices.money_given, sales_invoices.payment_method, sales_invoices.created_at AS received_at, employees.name AS cashier_name").
		Joins("INNER JOIN employees ON employees.id = sales_invoices.cashier_id").
		Where("sales_invoices.id = ?", invoiceId).
		Take(&receipt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}

	err = db.WithContext(ctx).
		Table("sale_items").
		Select("sale_items.quantity, sale_items.unit_price, products.name AS product_name").
		Joins("INNER JOIN inventory_batches ON inventory_batches.id = sale_items.batch_id").
		Joins("INNER JOIN products ON products.id = inventory_batches.product_id").
		Where("sale_items.invoice_id = ?", invoiceId).
		Find(&receipt.Items).Error
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}
