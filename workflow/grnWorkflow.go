package workflow

import (
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/pharmacy_backend/config"
	"bitbucket.org/mmdatafocus/pharmacy_backend/models"
	"bitbucket.org/mmdatafocus/pharmacy_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type GrnBatchLine struct {
	ProductId    int             `json:"product_id"`
	BatchNumber  string          `json:"batch_number"`
	ExpiryDate   time.Time       `json:"expiry_date"`
	Location     string          `json:"location"`
	PurchasedQty decimal.Decimal `json:"purchased_quantity"`
	BonusQty     decimal.Decimal `json:"bonus_quantity"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
}

type ReceiveStockInput struct {
	SupplierId            int                  `json:"supplier_id"`
	SupplierInvoiceNumber string               `json:"supplier_invoice_number"`
	PaymentMethod         models.PaymentMethod `json:"payment_method"`
	CheckNumber           string               `json:"check_number"`
	CheckDate             *time.Time           `json:"check_date"`
	Batches               []GrnBatchLine       `json:"batches"`
}

type ReceiveStockResult struct {
	InvoiceId   int             `json:"invoice_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// ComputeInvoiceTotal sums purchased qty x unit cost over the batch lines.
// Bonus units are free and never contribute to cost. The server-computed
// figure is the one persisted, regardless of anything the client sent.
func ComputeInvoiceTotal(lines []GrnBatchLine) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.PurchasedQty.Mul(line.UnitCost))
	}
	return total
}

func validateReceiveStockInput(input ReceiveStockInput) error {
	if input.SupplierId <= 0 {
		return newValidationError("supplier_id is required")
	}
	if input.SupplierInvoiceNumber == "" {
		return newValidationError("supplier_invoice_number is required")
	}
	if input.PaymentMethod != models.PaymentMethodCash && input.PaymentMethod != models.PaymentMethodCheck {
		return newValidationError("payment_method must be Cash or Check")
	}
	if input.PaymentMethod == models.PaymentMethodCheck {
		if input.CheckNumber == "" || input.CheckDate == nil {
			return newValidationError("check_number and check_date are required for Check payments")
		}
	}
	if len(input.Batches) == 0 {
		return newValidationError("at least one batch line is required")
	}
	for i, line := range input.Batches {
		if line.ProductId <= 0 {
			return newValidationError(fmt.Sprintf("batches[%d]: product_id is required", i))
		}
		if line.ExpiryDate.IsZero() {
			return newValidationError(fmt.Sprintf("batches[%d]: expiry_date is required", i))
		}
		if line.PurchasedQty.LessThanOrEqual(decimal.Zero) {
			return newValidationError(fmt.Sprintf("batches[%d]: purchased_quantity must be positive", i))
		}
		if line.BonusQty.IsNegative() {
			return newValidationError(fmt.Sprintf("batches[%d]: bonus_quantity must not be negative", i))
		}
		if line.UnitCost.LessThanOrEqual(decimal.Zero) {
			return newValidationError(fmt.Sprintf("batches[%d]: unit_cost must be positive", i))
		}
	}
	return nil
}

// ProcessReceiveStock records one GRN: a supplier invoice plus one batch per
// line, incrementing the product aggregates as stock enters. One transaction;
// a failure at any step rolls everything back so partial receiving is never
// observable.
func ProcessReceiveStock(db *gorm.DB, logger *logrus.Logger, empId int, input ReceiveStockInput) (*ReceiveStockResult, error) {

	if err := validateReceiveStockInput(input); err != nil {
		return nil, err
	}

	totalAmount := ComputeInvoiceTotal(input.Batches)

	tx := db.Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	var checkNumber *string
	var checkDate *time.Time
	if input.PaymentMethod == models.PaymentMethodCheck {
		checkNumber = &input.CheckNumber
		checkDate = input.CheckDate
	}

	supplierInvoice := models.SupplierInvoice{
		SupplierId:            input.SupplierId,
		SupplierInvoiceNumber: input.SupplierInvoiceNumber,
		TotalAmount:           totalAmount,
		PaymentMethod:         input.PaymentMethod,
		CheckNumber:           checkNumber,
		CheckDate:             checkDate,
		IsCleared:             utils.NewFalse(),
		RecordedByEmpId:       empId,
	}
	if err := tx.Create(&supplierInvoice).Error; err != nil {
		tx.Rollback()
		if isDuplicateKeyErr(err) {
			return nil, newValidationError(fmt.Sprintf("invoice %s from supplier %d is already recorded", input.SupplierInvoiceNumber, input.SupplierId))
		}
		config.LogError(logger, "GrnWorkflow.go", "ProcessReceiveStock", "CreateSupplierInvoice", supplierInvoice, err)
		return nil, err
	}

	for _, line := range input.Batches {
		batch := models.InventoryBatch{
			ProductId:         line.ProductId,
			SupplierInvoiceId: &supplierInvoice.ID,
			BatchNumber:       line.BatchNumber,
			ExpiryDate:        line.ExpiryDate,
			Location:          line.Location,
			PurchasedQty:      line.PurchasedQty,
			BonusQty:          line.BonusQty,
			UnitCost:          line.UnitCost,
		}
		if err := models.CreateInventoryBatch(tx, &batch); err != nil {
			tx.Rollback()
			config.LogError(logger, "GrnWorkflow.go", "ProcessReceiveStock", "CreateInventoryBatch", line, err)
			return nil, err
		}
	}

	details := fmt.Sprintf("Received GRN %s from supplier %d. Total: %s",
		input.SupplierInvoiceNumber, input.SupplierId, totalAmount)
	if err := models.CreateAuditLog(tx, empId, models.AuditActionReceiveStock, details); err != nil {
		tx.Rollback()
		config.LogError(logger, "GrnWorkflow.go", "ProcessReceiveStock", "CreateAuditLog", details, err)
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		config.LogError(logger, "GrnWorkflow.go", "ProcessReceiveStock", "Commit", input.SupplierInvoiceNumber, err)
		return nil, err
	}

	return &ReceiveStockResult{
		InvoiceId:   supplierInvoice.ID,
		TotalAmount: totalAmount,
	}, nil
}
