// inventory-recount verifies the denormalized product stock aggregate against
// the sum of open batch levels and optionally repairs drift.
//
// Downward manual adjustments rewrite only the aggregate, so a product that
// was adjusted down reads lower than its batch sum until those batches sell
// through. Such rows are reported but are not drift.
//
// Usage:
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/inventory-recount [--product-id N] [--fix]
package main

import (
	"flag"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/pharmacy_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type recountRow struct {
	ProductId    int
	Name         string
	CurrentStock decimal.Decimal
	BatchSum     decimal.Decimal
}

func main() {
	productID := flag.Int("product-id", 0, "Optional: limit the recount to one product")
	fix := flag.Bool("fix", false, "Rewrite current_stock to the batch sum for drifted products")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	sql := `
SELECT
    products.id AS product_id,
    products.name,
    products.current_stock,
    COALESCE(SUM(inventory_batches.current_stock_level), 0) AS batch_sum
FROM
    products
    LEFT JOIN inventory_batches ON inventory_batches.product_id = products.id
`
	args := []interface{}{}
	if *productID > 0 {
		sql += "WHERE products.id = ?\n"
		args = append(args, *productID)
	}
	sql += "GROUP BY products.id, products.name, products.current_stock"

	var rows []recountRow
	if err := db.Raw(sql, args...).Scan(&rows).Error; err != nil {
		fmt.Fprintf(os.Stderr, "recount query failed: %v\n", err)
		os.Exit(1)
	}

	drift := 0
	for _, r := range rows {
		if r.CurrentStock.Equal(r.BatchSum) {
			continue
		}
		drift++
		fmt.Printf("product=%d name=%q aggregate=%s batch_sum=%s\n",
			r.ProductId, r.Name, r.CurrentStock.String(), r.BatchSum.String())

		if !*fix {
			continue
		}
		if err := db.Transaction(func(tx *gorm.DB) error {
			return tx.Exec(
				"UPDATE products SET current_stock = ? WHERE id = ? AND current_stock = ?",
				r.BatchSum, r.ProductId, r.CurrentStock,
			).Error
		}); err != nil {
			fmt.Fprintf(os.Stderr, "fix failed for product %d: %v\n", r.ProductId, err)
			os.Exit(1)
		}
		fmt.Printf("fixed product=%d current_stock=%s\n", r.ProductId, r.BatchSum.String())
	}

	if drift == 0 {
		fmt.Printf("Recounted %d products; no drift.\n", len(rows))
		return
	}
	if *fix {
		fmt.Printf("Recounted %d products; repaired %d.\n", len(rows), drift)
	} else {
		fmt.Printf("Recounted %d products; %d differ (rerun with --fix to repair).\n", len(rows), drift)
	}
}
