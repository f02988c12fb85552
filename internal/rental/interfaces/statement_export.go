package interfaces

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	rentalapp "fleetrental-cloud/internal/rental/application"
)

// BuildStatementPDF renders a minimal PDF for a driver statement.
func BuildStatementPDF(stmt *rentalapp.Statement) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Driver Remittance Statement")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Driver: %s (%s)", stmt.Driver.Name, stmt.Driver.Code))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Period: %s to %s", stmt.From.Format("2006-01-02"), stmt.To.Format("2006-01-02")))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Savings Balance: %.2f", stmt.Driver.Savings))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Outstanding Debt: %.2f", stmt.Driver.Debt))
	pdf.Ln(8)

	pdf.Cell(0, 6, fmt.Sprintf("Total Remitted: %.2f", stmt.Totals.Remitted))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Total Saved: %.2f", stmt.Totals.Saved))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Total Withdrawn: %.2f", stmt.Totals.Withdrawn))
	pdf.Ln(8)

	// Entries table
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(40, 6, "Date", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Kind", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Amount", "1", 0, "C", false, 0, "")
	pdf.CellFormat(70, 6, "Note", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, e := range stmt.Entries {
		pdf.CellFormat(40, 6, e.RecordedAt.Format("2006-01-02 15:04"), "1", 0, "C", false, 0, "")
		pdf.CellFormat(35, 6, string(e.Kind), "1", 0, "C", false, 0, "")
		pdf.CellFormat(35, 6, fmt.Sprintf("%.2f", e.Amount), "1", 0, "R", false, 0, "")
		pdf.CellFormat(70, 6, e.Note, "1", 0, "L", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildStatementXLSX renders a minimal XLSX for a driver statement.
func BuildStatementXLSX(stmt *rentalapp.Statement) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "summary"
	entriesSheet := "entries"
	f.SetSheetName("Sheet1", summarySheet)
	if _, err := f.NewSheet(entriesSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "Driver Remittance Statement")
	_ = f.SetCellValue(summarySheet, "A3", "Driver")
	_ = f.SetCellValue(summarySheet, "B3", fmt.Sprintf("%s (%s)", stmt.Driver.Name, stmt.Driver.Code))
	_ = f.SetCellValue(summarySheet, "A4", "From")
	_ = f.SetCellValue(summarySheet, "B4", stmt.From.Format("2006-01-02"))
	_ = f.SetCellValue(summarySheet, "A5", "To")
	_ = f.SetCellValue(summarySheet, "B5", stmt.To.Format("2006-01-02"))
	_ = f.SetCellValue(summarySheet, "A6", "Total Remitted")
	_ = f.SetCellValue(summarySheet, "B6", stmt.Totals.Remitted)
	_ = f.SetCellValue(summarySheet, "A7", "Total Saved")
	_ = f.SetCellValue(summarySheet, "B7", stmt.Totals.Saved)
	_ = f.SetCellValue(summarySheet, "A8", "Total Withdrawn")
	_ = f.SetCellValue(summarySheet, "B8", stmt.Totals.Withdrawn)
	_ = f.SetCellValue(summarySheet, "A9", "Savings Balance")
	_ = f.SetCellValue(summarySheet, "B9", stmt.Driver.Savings)
	_ = f.SetCellValue(summarySheet, "A10", "Outstanding Debt")
	_ = f.SetCellValue(summarySheet, "B10", stmt.Driver.Debt)

	_ = f.SetCellValue(entriesSheet, "A1", "Date")
	_ = f.SetCellValue(entriesSheet, "B1", "Kind")
	_ = f.SetCellValue(entriesSheet, "C1", "Amount")
	_ = f.SetCellValue(entriesSheet, "D1", "Unit")
	_ = f.SetCellValue(entriesSheet, "E1", "Note")
	for i, e := range stmt.Entries {
		row := i + 2
		_ = f.SetCellValue(entriesSheet, fmt.Sprintf("A%d", row), e.RecordedAt.Format("2006-01-02 15:04"))
		_ = f.SetCellValue(entriesSheet, fmt.Sprintf("B%d", row), string(e.Kind))
		_ = f.SetCellValue(entriesSheet, fmt.Sprintf("C%d", row), e.Amount)
		_ = f.SetCellValue(entriesSheet, fmt.Sprintf("D%d", row), e.UnitID)
		_ = f.SetCellValue(entriesSheet, fmt.Sprintf("E%d", row), e.Note)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
