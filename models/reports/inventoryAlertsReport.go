package reports

import (
	"context"
	"fmt"
	"net/http"

	"bitbucket.org/mmdatafocus/pharmacy_backend/models"
	"github.com/xuri/excelize/v2"
)

type InventoryAlertsReport struct {
	LowStock   []*models.LowStockProduct `json:"low_stock"`
	NearExpiry []*models.NearExpiryBatch `json:"near_expiry"`
}

func GetInventoryAlertsReport(ctx context.Context) (*InventoryAlertsReport, error) {
	lowStock, err := models.GetLowStockProducts(ctx)
	if err != nil {
		return nil, err
	}
	nearExpiry, err := models.GetNearExpiryBatches(ctx)
	if err != nil {
		return nil, err
	}
	return &InventoryAlertsReport{LowStock: lowStock, NearExpiry: nearExpiry}, nil
}

// ExportInventoryAlertsXlsx streams the alerts report as a two-sheet workbook.
func ExportInventoryAlertsXlsx(ctx context.Context, w http.ResponseWriter) error {

	report, err := GetInventoryAlertsReport(ctx)
	if err != nil {
		return err
	}

	f := excelize.NewFile()

	lowStockSheet := "Low Stock"
	if err := f.SetSheetName("Sheet1", lowStockSheet); err != nil {
		return err
	}

	// Add headers
	f.SetCellValue(lowStockSheet, "A1", "ProductId")
	f.SetCellValue(lowStockSheet, "B1", "Name")
	f.SetCellValue(lowStockSheet, "C1", "CurrentStock")
	f.SetCellValue(lowStockSheet, "D1", "ReorderThreshold")

	// Add data
	for i, d := range report.LowStock {
		f.SetCellValue(lowStockSheet, "A"+fmt.Sprint(i+2), d.ProductId)
		f.SetCellValue(lowStockSheet, "B"+fmt.Sprint(i+2), d.Name)
		f.SetCellValue(lowStockSheet, "C"+fmt.Sprint(i+2), d.CurrentStock.String())
		f.SetCellValue(lowStockSheet, "D"+fmt.Sprint(i+2), d.ReorderThreshold)
	}

	nearExpirySheet := "Near Expiry"
	if _, err := f.NewSheet(nearExpirySheet); err != nil {
		return err
	}

	f.SetCellValue(nearExpirySheet, "A1", "BatchId")
	f.SetCellValue(nearExpirySheet, "B1", "ProductId")
	f.SetCellValue(nearExpirySheet, "C1", "Name")
	f.SetCellValue(nearExpirySheet, "D1", "BatchNumber")
	f.SetCellValue(nearExpirySheet, "E1", "ExpiryDate")
	f.SetCellValue(nearExpirySheet, "F1", "RemainingQty")

	for i, d := range report.NearExpiry {
		f.SetCellValue(nearExpirySheet, "A"+fmt.Sprint(i+2), d.BatchId)
		f.SetCellValue(nearExpirySheet, "B"+fmt.Sprint(i+2), d.ProductId)
		f.SetCellValue(nearExpirySheet, "C"+fmt.Sprint(i+2), d.Name)
		f.SetCellValue(nearExpirySheet, "D"+fmt.Sprint(i+2), d.BatchNumber)
		f.SetCellValue(nearExpirySheet, "E"+fmt.Sprint(i+2), d.ExpiryDate.Format("2006-01-02"))
		f.SetCellValue(nearExpirySheet, "F"+fmt.Sprint(i+2), d.RemainingQty.String())
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename=inventory_alerts.xlsx")
	if err := f.Write(w); err != nil {
		return err
	}
	return nil
}
