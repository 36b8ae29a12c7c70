package models_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/pharmacy_backend/config"
	"bitbucket.org/mmdatafocus/pharmacy_backend/models"
	"bitbucket.org/mmdatafocus/pharmacy_backend/utils"
	"bitbucket.org/mmdatafocus/pharmacy_backend/workflow"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// End to end ledger coverage against real MySQL:
// receiving, FEFO checkout, drafts, manual adjustment, alerts, and the
// aggregate/batch-sum consistency that ties them together.
func TestInventoryLedgerRoundTrip(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()
	logger := logrus.New()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	// Wire env for config.Connect* helpers.
	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "pharmacy_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	db := config.GetDB()
	if db == nil {
		t.Fatalf("db is nil after ConnectDatabaseWithRetry")
	}

	cashier := models.Employee{Name: "Test Cashier", Email: "cashier@test.local", PasswordHash: "x", Role: "Cashier"}
	if err := db.Create(&cashier).Error; err != nil {
		t.Fatalf("create employee: %v", err)
	}
	supplier := models.Supplier{Name: "Test Supplier"}
	if err := db.Create(&supplier).Error; err != nil {
		t.Fatalf("create supplier: %v", err)
	}

	paracetamol := models.Product{Name: "Paracetamol 500mg", MeasureUnit: "tablet", Category: "Analgesic", ReorderThreshold: 20}
	if err := db.Create(&paracetamol).Error; err != nil {
		t.Fatalf("create product: %v", err)
	}

	near := time.Now().UTC().AddDate(0, 0, 10)
	far := time.Now().UTC().AddDate(1, 0, 0)

	// 1) Receive a GRN with two batches: one expiring soon, one next year.
	grn, err := workflow.ProcessReceiveStock(db, logger, cashier.ID, workflow.ReceiveStockInput{
		SupplierId:            supplier.ID,
		SupplierInvoiceNumber: "INV-1001",
		PaymentMethod:         models.PaymentMethodCash,
		Batches: []workflow.GrnBatchLine{
			{
				ProductId:    paracetamol.ID,
				BatchNumber:  "B-NEAR",
				ExpiryDate:   near,
				PurchasedQty: decimal.NewFromInt(3),
				BonusQty:     decimal.NewFromInt(1),
				UnitCost:     decimal.RequireFromString("2.00"),
			},
			{
				ProductId:    paracetamol.ID,
				BatchNumber:  "B-FAR",
				ExpiryDate:   far,
				PurchasedQty: decimal.NewFromInt(5),
				BonusQty:     decimal.Zero,
				UnitCost:     decimal.RequireFromString("1.50"),
			},
		},
	})
	if err != nil {
		t.Fatalf("ProcessReceiveStock: %v", err)
	}
	// 3*2.00 + 5*1.50; the bonus unit never costs anything.
	if !grn.TotalAmount.Equal(decimal.RequireFromString("13.50")) {
		t.Fatalf("expected invoice total 13.50, got %s", grn.TotalAmount)
	}
	assertAggregateMatchesBatchSum(t, paracetamol.ID)
	assertCurrentStock(t, paracetamol.ID, "9")

	// Near-expiry batch must show up in the 30 day window; the far one must not.
	nearExpiry, err := models.GetNearExpiryBatches(ctx)
	if err != nil {
		t.Fatalf("GetNearExpiryBatches: %v", err)
	}
	if len(nearExpiry) != 1 || nearExpiry[0].BatchNumber != "B-NEAR" {
		t.Fatalf("expected only B-NEAR in the alert window, got %+v", nearExpiry)
	}

	// Stock 9 <= threshold 20: product is low.
	lowStock, err := models.GetLowStockProducts(ctx)
	if err != nil {
		t.Fatalf("GetLowStockProducts: %v", err)
	}
	if len(lowStock) != 1 || lowStock[0].ProductId != paracetamol.ID {
		t.Fatalf("expected paracetamol low on stock, got %+v", lowStock)
	}

	// Receiving above the threshold removes a product from the low-stock
	// alert; a checkout draining it back below makes it reappear.
	vitamin := models.Product{Name: "Vitamin C 1000mg", MeasureUnit: "tablet", ReorderThreshold: 5}
	if err := db.Create(&vitamin).Error; err != nil {
		t.Fatalf("create product: %v", err)
	}
	if !isLowStock(t, ctx, vitamin.ID) {
		t.Fatalf("vitamin with zero stock must start low")
	}
	_, err = workflow.ProcessReceiveStock(db, logger, cashier.ID, workflow.ReceiveStockInput{
		SupplierId:            supplier.ID,
		SupplierInvoiceNumber: "INV-1002",
		PaymentMethod:         models.PaymentMethodCash,
		Batches: []workflow.GrnBatchLine{
			{
				ProductId:    vitamin.ID,
				BatchNumber:  "B-VIT",
				ExpiryDate:   far,
				PurchasedQty: decimal.NewFromInt(10),
				BonusQty:     decimal.NewFromInt(2),
				UnitCost:     decimal.RequireFromString("5.00"),
			},
		},
	})
	if err != nil {
		t.Fatalf("ProcessReceiveStock: %v", err)
	}
	assertCurrentStock(t, vitamin.ID, "12")
	if isLowStock(t, ctx, vitamin.ID) {
		t.Fatalf("stock 12 above threshold 5 must leave the low-stock alert")
	}
	_, err = workflow.ProcessCheckout(db, logger, cashier.ID, workflow.CheckoutInput{
		PaymentMethod: "Cash",
		TotalAmount:   decimal.RequireFromString("60.00"),
		MoneyGiven:    decimal.RequireFromString("60.00"),
		Items: []workflow.CheckoutLine{
			{ProductId: vitamin.ID, Quantity: decimal.NewFromInt(10), UnitPrice: decimal.RequireFromString("6.00")},
		},
	})
	if err != nil {
		t.Fatalf("ProcessCheckout: %v", err)
	}
	assertCurrentStock(t, vitamin.ID, "2")
	if !isLowStock(t, ctx, vitamin.ID) {
		t.Fatalf("stock 2 below threshold 5 must reappear in the low-stock alert")
	}

	// 2) Drafts never move stock.
	batchId := firstBatchId(t, paracetamol.ID, "B-NEAR")
	draftId, err := workflow.ProcessDraftSale(db, logger, cashier.ID, workflow.DraftSaleInput{
		TotalAmount: decimal.RequireFromString("6.00"),
		Items: []workflow.DraftItem{
			{BatchId: &batchId, Quantity: decimal.NewFromInt(2), UnitPrice: decimal.RequireFromString("3.00")},
		},
	})
	if err != nil {
		t.Fatalf("ProcessDraftSale: %v", err)
	}
	if draftId <= 0 {
		t.Fatalf("expected draft invoice id, got %d", draftId)
	}
	assertCurrentStock(t, paracetamol.ID, "9")

	// 3) Checkout drains the near-expiry batch before touching the far one.
	sale, err := workflow.ProcessCheckout(db, logger, cashier.ID, workflow.CheckoutInput{
		PaymentMethod: "Cash",
		TotalAmount:   decimal.RequireFromString("18.00"),
		MoneyGiven:    decimal.RequireFromString("20.00"),
		Items: []workflow.CheckoutLine{
			{ProductId: paracetamol.ID, Quantity: decimal.NewFromInt(6), UnitPrice: decimal.RequireFromString("3.00")},
		},
	})
	if err != nil {
		t.Fatalf("ProcessCheckout: %v", err)
	}
	if !sale.ChangeDue.Equal(decimal.RequireFromString("2.00")) {
		t.Fatalf("expected change 2.00, got %s", sale.ChangeDue)
	}

	var items []models.SaleItem
	if err := db.Where("invoice_id = ?", sale.InvoiceId).Order("id ASC").Find(&items).Error; err != nil {
		t.Fatalf("load sale items: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected allocation across 2 batches, got %d items", len(items))
	}
	if items[0].BatchId != batchId || !items[0].Quantity.Equal(decimal.NewFromInt(4)) {
		t.Fatalf("expected B-NEAR drained first (4 units), got %+v", items[0])
	}
	if !items[1].Quantity.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("expected 2 units from B-FAR, got %+v", items[1])
	}
	assertCurrentStock(t, paracetamol.ID, "3")
	assertAggregateMatchesBatchSum(t, paracetamol.ID)

	// The drained batch must drop out of the near-expiry alert.
	nearExpiry, err = models.GetNearExpiryBatches(ctx)
	if err != nil {
		t.Fatalf("GetNearExpiryBatches: %v", err)
	}
	if len(nearExpiry) != 0 {
		t.Fatalf("drained batch must leave the alert window, got %+v", nearExpiry)
	}

	// 4) Any short line fails the entire cart; fulfillable lines roll back too.
	amoxicillin := models.Product{Name: "Amoxicillin 250mg", MeasureUnit: "capsule", Category: "Antibiotic"}
	if err := db.Create(&amoxicillin).Error; err != nil {
		t.Fatalf("create product: %v", err)
	}
	_, err = workflow.ProcessCheckout(db, logger, cashier.ID, workflow.CheckoutInput{
		PaymentMethod: "Cash",
		TotalAmount:   decimal.RequireFromString("9.00"),
		MoneyGiven:    decimal.RequireFromString("9.00"),
		Items: []workflow.CheckoutLine{
			{ProductId: paracetamol.ID, Quantity: decimal.NewFromInt(1), UnitPrice: decimal.RequireFromString("3.00")},
			{ProductId: amoxicillin.ID, Quantity: decimal.NewFromInt(2), UnitPrice: decimal.RequireFromString("3.00")},
		},
	})
	var stockErr *models.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if stockErr.ProductId != amoxicillin.ID || !stockErr.Shortfall.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("unexpected shortfall report: %+v", stockErr)
	}
	assertCurrentStock(t, paracetamol.ID, "3")
	assertAggregateMatchesBatchSum(t, paracetamol.ID)

	// A cart naming a product that does not exist is rejected before any
	// stock moves.
	_, err = workflow.ProcessCheckout(db, logger, cashier.ID, workflow.CheckoutInput{
		PaymentMethod: "Cash",
		TotalAmount:   decimal.RequireFromString("3.00"),
		MoneyGiven:    decimal.RequireFromString("3.00"),
		Items: []workflow.CheckoutLine{
			{ProductId: 999999, Quantity: decimal.NewFromInt(1), UnitPrice: decimal.RequireFromString("3.00")},
		},
	})
	if !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("expected record not found for unknown product, got %v", err)
	}

	// Same for a prescription id that does not exist: the sale rolls back.
	bogusPrescription := 999999
	_, err = workflow.ProcessCheckout(db, logger, cashier.ID, workflow.CheckoutInput{
		PaymentMethod:  "Cash",
		TotalAmount:    decimal.RequireFromString("3.00"),
		MoneyGiven:     decimal.RequireFromString("3.00"),
		PrescriptionId: &bogusPrescription,
		Items: []workflow.CheckoutLine{
			{ProductId: paracetamol.ID, Quantity: decimal.NewFromInt(1), UnitPrice: decimal.RequireFromString("3.00")},
		},
	})
	if !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("expected record not found for unknown prescription, got %v", err)
	}
	assertCurrentStock(t, paracetamol.ID, "3")
	assertAggregateMatchesBatchSum(t, paracetamol.ID)

	// A checkout naming a real prescription flips it to Verified.
	prescription := models.Prescription{Status: models.PrescriptionStatusPendingVerification}
	if err := db.Create(&prescription).Error; err != nil {
		t.Fatalf("create prescription: %v", err)
	}
	_, err = workflow.ProcessCheckout(db, logger, cashier.ID, workflow.CheckoutInput{
		PaymentMethod:  "Cash",
		TotalAmount:    decimal.RequireFromString("3.00"),
		MoneyGiven:     decimal.RequireFromString("3.00"),
		PrescriptionId: &prescription.ID,
		Items: []workflow.CheckoutLine{
			{ProductId: paracetamol.ID, Quantity: decimal.NewFromInt(1), UnitPrice: decimal.RequireFromString("3.00")},
		},
	})
	if err != nil {
		t.Fatalf("ProcessCheckout with prescription: %v", err)
	}
	if err := db.First(&prescription, prescription.ID).Error; err != nil {
		t.Fatalf("reload prescription: %v", err)
	}
	if prescription.Status != models.PrescriptionStatusVerified {
		t.Fatalf("expected prescription Verified, got %q", prescription.Status)
	}
	assertCurrentStock(t, paracetamol.ID, "2")

	// 5) Manual adjustment up creates a sellable synthetic batch.
	if err := workflow.AdjustProductStock(db, logger, cashier.ID, paracetamol.ID, decimal.NewFromInt(10)); err != nil {
		t.Fatalf("AdjustProductStock up: %v", err)
	}
	assertCurrentStock(t, paracetamol.ID, "10")
	assertAggregateMatchesBatchSum(t, paracetamol.ID)

	var synthetic models.InventoryBatch
	if err := db.Where("product_id = ? AND batch_number = ?", paracetamol.ID, models.SyntheticBatchNumber).Take(&synthetic).Error; err != nil {
		t.Fatalf("load synthetic batch: %v", err)
	}
	if !synthetic.CurrentStockLevel.Equal(decimal.NewFromInt(8)) || !synthetic.UnitCost.IsZero() {
		t.Fatalf("unexpected synthetic batch: level=%s cost=%s", synthetic.CurrentStockLevel, synthetic.UnitCost)
	}

	// 6) Manual adjustment down rewrites only the aggregate; batch levels keep
	// the audit trail, so the batch sum is allowed to read higher.
	if err := workflow.AdjustProductStock(db, logger, cashier.ID, paracetamol.ID, decimal.NewFromInt(4)); err != nil {
		t.Fatalf("AdjustProductStock down: %v", err)
	}
	assertCurrentStock(t, paracetamol.ID, "4")
	batchSum := batchLevelSum(t, paracetamol.ID)
	if !batchSum.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("downward adjustment must not touch batch levels, batch sum = %s", batchSum)
	}

	// Audit trail covers both GRNs, both adjustments and the completed sales.
	var auditCount int64
	if err := db.Model(&models.AuditLog{}).Count(&auditCount).Error; err != nil {
		t.Fatalf("count audit logs: %v", err)
	}
	if auditCount != 7 {
		t.Fatalf("expected 7 audit rows, got %d", auditCount)
	}
}

// Two checkouts racing for the last units must not oversell: row locks on the
// allocatable batches serialize them and the loser gets a shortfall.
func TestConcurrentCheckoutCannotOversell(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	logger := logrus.New()

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "pharmacy_test")

	config.ConnectDatabaseWithRetry()
	models.MigrateTable()
	db := config.GetDB()

	cashier := models.Employee{Name: "Race Cashier", Email: "race@test.local", PasswordHash: "x", Role: "Cashier"}
	if err := db.Create(&cashier).Error; err != nil {
		t.Fatalf("create employee: %v", err)
	}
	product := models.Product{Name: "Ibuprofen 200mg", MeasureUnit: "tablet"}
	if err := db.Create(&product).Error; err != nil {
		t.Fatalf("create product: %v", err)
	}

	if err := db.Transaction(func(tx *gorm.DB) error {
		return models.CreateInventoryBatch(tx, &models.InventoryBatch{
			ProductId:    product.ID,
			BatchNumber:  "B-RACE",
			ExpiryDate:   time.Now().UTC().AddDate(1, 0, 0),
			PurchasedQty: decimal.NewFromInt(10),
			UnitCost:     decimal.NewFromInt(1),
		})
	}); err != nil {
		t.Fatalf("seed batch: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = workflow.ProcessCheckout(db, logger, cashier.ID, workflow.CheckoutInput{
				PaymentMethod: "Cash",
				TotalAmount:   decimal.NewFromInt(6),
				MoneyGiven:    decimal.NewFromInt(6),
				Items: []workflow.CheckoutLine{
					{ProductId: product.ID, Quantity: decimal.NewFromInt(6), UnitPrice: decimal.NewFromInt(1)},
				},
			})
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		var stockErr *models.InsufficientStockError
		if !errors.As(err, &stockErr) {
			t.Fatalf("loser should fail with InsufficientStockError, got %v", err)
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly one checkout to win, got %d", successes)
	}

	assertCurrentStock(t, product.ID, "4")
	assertAggregateMatchesBatchSum(t, product.ID)
}

func isLowStock(t *testing.T, ctx context.Context, productId int) bool {
	t.Helper()
	lowStock, err := models.GetLowStockProducts(ctx)
	if err != nil {
		t.Fatalf("GetLowStockProducts: %v", err)
	}
	for _, row := range lowStock {
		if row.ProductId == productId {
			return true
		}
	}
	return false
}

func assertCurrentStock(t *testing.T, productId int, want string) {
	t.Helper()
	db := config.GetDB()
	var product models.Product
	if err := db.First(&product, productId).Error; err != nil {
		t.Fatalf("load product %d: %v", productId, err)
	}
	if !product.CurrentStock.Equal(decimal.RequireFromString(want)) {
		t.Fatalf("product %d: expected current_stock %s, got %s", productId, want, product.CurrentStock)
	}
}

func batchLevelSum(t *testing.T, productId int) decimal.Decimal {
	t.Helper()
	db := config.GetDB()
	var sum decimal.NullDecimal
	if err := db.Model(&models.InventoryBatch{}).
		Select("SUM(current_stock_level)").
		Where("product_id = ?", productId).
		Scan(&sum).Error; err != nil {
		t.Fatalf("sum batch levels for product %d: %v", productId, err)
	}
	if !sum.Valid {
		return decimal.Zero
	}
	return sum.Decimal
}

func assertAggregateMatchesBatchSum(t *testing.T, productId int) {
	t.Helper()
	db := config.GetDB()
	var product models.Product
	if err := db.First(&product, productId).Error; err != nil {
		t.Fatalf("load product %d: %v", productId, err)
	}
	sum := batchLevelSum(t, productId)
	if !product.CurrentStock.Equal(sum) {
		t.Fatalf("product %d: aggregate %s != batch sum %s", productId, product.CurrentStock, sum)
	}
}

func firstBatchId(t *testing.T, productId int, batchNumber string) int {
	t.Helper()
	db := config.GetDB()
	var batch models.InventoryBatch
	if err := db.Where("product_id = ? AND batch_number = ?", productId, batchNumber).Take(&batch).Error; err != nil {
		t.Fatalf("load batch %s: %v", batchNumber, err)
	}
	return batch.ID
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("pharmacy-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("pharmacy-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=pharmacy_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
