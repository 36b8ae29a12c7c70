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

type CheckoutLine struct {
	ProductId int             `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type CheckoutInput struct {
	IsOverTheCounter *bool           `json:"is_over_the_counter"`
	PatientId        *int            `json:"patient_id"`
	PrescriptionId   *int            `json:"prescription_id"`
	PaymentMethod    string          `json:"payment_method"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	MoneyGiven       decimal.Decimal `json:"money_given"`
	Notes            string          `json:"notes"`
	Items            []CheckoutLine  `json:"items"`
}

type CheckoutResult struct {
	InvoiceId int             `json:"invoice_id"`
	ChangeDue decimal.Decimal `json:"change_due"`
}

func validateCheckoutLines(items []CheckoutLine) error {
	for i, line := range items {
		if line.ProductId <= 0 {
			return newValidationError(fmt.Sprintf("items[%d]: product_id is required", i))
		}
		if line.Quantity.LessThanOrEqual(decimal.Zero) {
			return newValidationError(fmt.Sprintf("items[%d]: quantity must be positive", i))
		}
		if line.UnitPrice.IsNegative() {
			return newValidationError(fmt.Sprintf("items[%d]: unit_price must not be negative", i))
		}
	}
	return nil
}

// ProcessCheckout commits one sale: a Completed invoice plus FEFO deductions
// for every requested line, all-or-nothing. Any shortfall rolls back the whole
// sale, including lines that had already allocated, so stock for every product
// in a failed cart is left exactly as it was.
func ProcessCheckout(db *gorm.DB, logger *logrus.Logger, empId int, input CheckoutInput) (*CheckoutResult, error) {

	if empId <= 0 {
		return nil, utils.ErrorUnauthorized
	}
	if len(input.Items) == 0 {
		return nil, ErrEmptyCart
	}
	if err := validateCheckoutLines(input.Items); err != nil {
		return nil, err
	}
	if input.MoneyGiven.IsNegative() || input.TotalAmount.IsNegative() {
		return nil, newValidationError("total_amount and money_given must not be negative")
	}
	// Unknown products are rejected before the transaction opens.
	for _, line := range input.Items {
		if _, err := models.GetProductById(db, line.ProductId); err != nil {
			return nil, err
		}
	}

	paymentMethod := input.PaymentMethod
	if paymentMethod == "" {
		paymentMethod = "Cash"
	}
	isOverTheCounter := input.IsOverTheCounter
	if isOverTheCounter == nil {
		isOverTheCounter = utils.NewTrue()
	}

	tx := db.Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	invoice := models.SalesInvoice{
		IsOverTheCounter: isOverTheCounter,
		PatientId:        input.PatientId,
		CashierId:        empId,
		PrescriptionId:   input.PrescriptionId,
		PaymentMethod:    paymentMethod,
		TotalAmount:      input.TotalAmount,
		MoneyGiven:       input.MoneyGiven,
		Status:           models.SalesInvoiceStatusCompleted,
		Notes:            input.Notes,
	}
	if err := tx.Create(&invoice).Error; err != nil {
		tx.Rollback()
		config.LogError(logger, "CheckoutWorkflow.go", "ProcessCheckout", "CreateSalesInvoice", invoice, err)
		return nil, err
	}

	for _, line := range input.Items {
		if err := AllocateStockFefo(tx, logger, invoice.ID, line.ProductId, line.Quantity, line.UnitPrice); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if input.PrescriptionId != nil {
		if err := models.MarkPrescriptionVerified(tx, *input.PrescriptionId); err != nil {
			tx.Rollback()
			config.LogError(logger, "CheckoutWorkflow.go", "ProcessCheckout", "MarkPrescriptionVerified", *input.PrescriptionId, err)
			return nil, err
		}
	}

	details := fmt.Sprintf("Completed sale invoice %d. Total: %s", invoice.ID, input.TotalAmount.String())
	if err := models.CreateAuditLog(tx, empId, models.AuditActionCheckout, details); err != nil {
		tx.Rollback()
		config.LogError(logger, "CheckoutWorkflow.go", "ProcessCheckout", "CreateAuditLog", invoice.ID, err)
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		config.LogError(logger, "CheckoutWorkflow.go", "ProcessCheckout", "Commit", invoice.ID, err)
		return nil, err
	}

	changeDue := utils.MaxDecimal(decimal.Zero, input.MoneyGiven.Sub(input.TotalAmount))
	return &CheckoutResult{InvoiceId: invoice.ID, ChangeDue: changeDue}, nil
}

type DraftItem struct {
	BatchId   *int            `json:"batch_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type DraftSaleInput struct {
	IsOverTheCounter *bool           `json:"is_over_the_counter"`
	PatientId        *int            `json:"patient_id"`
	PrescriptionId   *int            `json:"prescription_id"`
	PaymentMethod    string          `json:"payment_method"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	MoneyGiven       decimal.Decimal `json:"money_given"`
	Notes            string          `json:"notes"`
	Items            []DraftItem     `json:"items"`
}

// ProcessDraftSale holds a cart without moving inventory. Items with a known
// batch id are stored for later re-editing, but no batch or aggregate is
// touched: only Completed sales allocate stock.
func ProcessDraftSale(db *gorm.DB, logger *logrus.Logger, empId int, input DraftSaleInput) (int, error) {

	if empId <= 0 {
		return 0, utils.ErrorUnauthorized
	}

	paymentMethod := input.PaymentMethod
	if paymentMethod == "" {
		paymentMethod = "Pending"
	}
	isOverTheCounter := input.IsOverTheCounter
	if isOverTheCounter == nil {
		isOverTheCounter = utils.NewTrue()
	}

	tx := db.Begin()
	if tx.Error != nil {
		return 0, tx.Error
	}

	invoice := models.SalesInvoice{
		IsOverTheCounter: isOverTheCounter,
		PatientId:        input.PatientId,
		CashierId:        empId,
		PrescriptionId:   input.PrescriptionId,
		PaymentMethod:    paymentMethod,
		TotalAmount:      input.TotalAmount,
		MoneyGiven:       input.MoneyGiven,
		Status:           models.SalesInvoiceStatusDraft,
		Notes:            input.Notes,
	}
	if err := tx.Create(&invoice).Error; err != nil {
		tx.Rollback()
		config.LogError(logger, "CheckoutWorkflow.go", "ProcessDraftSale", "CreateSalesInvoice", invoice, err)
		return 0, err
	}

	for _, item := range input.Items {
		if item.BatchId == nil {
			continue
		}
		saleItem := models.SaleItem{
			InvoiceId: invoice.ID,
			BatchId:   *item.BatchId,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		}
		if err := tx.Create(&saleItem).Error; err != nil {
			tx.Rollback()
			config.LogError(logger, "CheckoutWorkflow.go", "ProcessDraftSale", "CreateSaleItem", saleItem, err)
			return 0, err
		}
	}

	if err := tx.Commit().Error; err != nil {
		config.LogError(logger, "CheckoutWorkflow.go", "ProcessDraftSale", "Commit", invoice.ID, err)
		return 0, err
	}

	return invoice.ID, nil
}
