package analytics

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/xuri/excelize/v2"

	"bengkelpos/backend/internal/domain"
)

const (
	summarySheet  = "Summary"
	productsSheet = "Top Products"
	paymentsSheet = "Payments"
)

// Workbook renders a summary as an xlsx document with one sheet per section.
func Workbook(summary domain.SalesSummary) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}

	rows := [][]any{
		{"Metric", "Value"},
		{"Branch", defaultLabel(summary.BranchID, "all branches")},
		{"From", summary.From},
		{"To", summary.To},
		{"Sales", summary.SalesCount},
		{"Gross", centsToUnits(summary.GrossCents)},
		{"Returned", centsToUnits(summary.ReturnedCents)},
		{"Net", centsToUnits(summary.NetCents)},
		{"Items sold", summary.ItemsSold},
		{"Services sold", summary.ServicesSold},
		{"Completed job labor", centsToUnits(summary.JobOrders.LaborCents)},
		{"Completed job parts", centsToUnits(summary.JobOrders.PartsCents)},
	}
	for _, status := range sortedKeys(summary.JobOrders.ByStatus) {
		rows = append(rows, []any{"Job orders " + status, summary.JobOrders.ByStatus[status]})
	}
	for _, status := range sortedKeys(summary.Reservations) {
		rows = append(rows, []any{"Reservations " + status, summary.Reservations[status]})
	}
	if err := writeRows(f, summarySheet, rows, header); err != nil {
		return nil, err
	}

	if _, err := f.NewSheet(productsSheet); err != nil {
		return nil, err
	}
	productRows := [][]any{{"Product", "Type", "Quantity", "Total"}}
	for _, line := range summary.TopProducts {
		productRows = append(productRows, []any{line.ProductName, line.ProductType, line.Quantity, centsToUnits(line.TotalCents)})
	}
	if err := writeRows(f, productsSheet, productRows, header); err != nil {
		return nil, err
	}

	if _, err := f.NewSheet(paymentsSheet); err != nil {
		return nil, err
	}
	paymentRows := [][]any{{"Payment method", "Sales", "Total"}}
	for _, payment := range summary.ByPayment {
		paymentRows = append(paymentRows, []any{payment.PaymentMethod, payment.Sales, centsToUnits(payment.TotalCents)})
	}
	if err := writeRows(f, paymentsSheet, paymentRows, header); err != nil {
		return nil, err
	}

	f.SetActiveSheet(0)
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return bytes.Clone(buf.Bytes()), nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any, headerStyle int) error {
	for r, row := range rows {
		for c, value := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return fmt.Errorf("write %s!%s: %w", sheet, cell, err)
			}
		}
	}
	if len(rows) == 0 {
		return nil
	}
	last, err := excelize.CoordinatesToCellName(len(rows[0]), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
		return err
	}
	return f.SetColWidth(sheet, "A", "A", 28)
}

func centsToUnits(cents int64) float64 {
	return float64(cents) / 100
}

func defaultLabel(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
