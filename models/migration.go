package models

import (
	"log"

	"bitbucket.org/mmdatafocus/pharmacy_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Employee{}, &Patient{},
		&Supplier{}, &SupplierInvoice{},
		&Product{}, &InventoryBatch{},
		&Prescription{},
		&SalesInvoice{}, &SaleItem{},
		&AuditLog{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
