package reports

import (
	"fmt"

	"bitbucket.org/mmdatafocus/distribution_backend/workflow"
	"github.com/xuri/excelize/v2"
)

const exportSheet = "Sheet1"

// ExportLedgerExcel renders a ledger report as a workbook: one row per
// driver-day plus a summary block. The caller owns writing/closing the file.
func ExportLedgerExcel(report *DriverLedgerReport) (*excelize.File, error) {
	f := excelize.NewFile()
	if _, err := f.NewSheet(exportSheet); err != nil {
		return nil, err
	}

	headers := []string{"Driver", "Date", "CashDelta", "CylinderDelta", "CashTotal", "CylinderTotal", "OnboardingCash", "OnboardingCylinder"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(exportSheet, cell, h)
	}

	rowNo := 2
	for _, row := range report.Rows {
		f.SetCellValue(exportSheet, "A"+fmt.Sprint(rowNo), row.DriverName)
		f.SetCellValue(exportSheet, "B"+fmt.Sprint(rowNo), row.EntryDate.Format("2006-01-02"))
		f.SetCellValue(exportSheet, "C"+fmt.Sprint(rowNo), row.CashDelta.InexactFloat64())
		f.SetCellValue(exportSheet, "D"+fmt.Sprint(rowNo), row.CylinderDelta.InexactFloat64())
		f.SetCellValue(exportSheet, "E"+fmt.Sprint(rowNo), row.CashTotal.InexactFloat64())
		f.SetCellValue(exportSheet, "F"+fmt.Sprint(rowNo), row.CylinderTotal.InexactFloat64())
		if row.OnboardingCash != nil {
			f.SetCellValue(exportSheet, "G"+fmt.Sprint(rowNo), row.OnboardingCash.InexactFloat64())
		}
		if row.OnboardingCylinder != nil {
			f.SetCellValue(exportSheet, "H"+fmt.Sprint(rowNo), row.OnboardingCylinder.InexactFloat64())
		}
		rowNo++
	}

	rowNo++
	f.SetCellValue(exportSheet, "A"+fmt.Sprint(rowNo), "Summary")
	rowNo++
	summaryHeaders := []string{"Driver", "OpeningCash", "ClosingCash", "OpeningCylinder", "ClosingCylinder", "Entries"}
	for i, h := range summaryHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, rowNo)
		f.SetCellValue(exportSheet, cell, h)
	}
	rowNo++
	for _, s := range report.Summaries {
		f.SetCellValue(exportSheet, "A"+fmt.Sprint(rowNo), s.DriverName)
		f.SetCellValue(exportSheet, "B"+fmt.Sprint(rowNo), s.OpeningCash.InexactFloat64())
		f.SetCellValue(exportSheet, "C"+fmt.Sprint(rowNo), s.ClosingCash.InexactFloat64())
		f.SetCellValue(exportSheet, "D"+fmt.Sprint(rowNo), s.OpeningCylinder.InexactFloat64())
		f.SetCellValue(exportSheet, "E"+fmt.Sprint(rowNo), s.ClosingCylinder.InexactFloat64())
		f.SetCellValue(exportSheet, "F"+fmt.Sprint(rowNo), s.EntryCount)
		rowNo++
	}
	f.SetCellValue(exportSheet, "A"+fmt.Sprint(rowNo), "Tenant totals")
	f.SetCellValue(exportSheet, "B"+fmt.Sprint(rowNo), report.Totals.TotalCash.InexactFloat64())
	f.SetCellValue(exportSheet, "D"+fmt.Sprint(rowNo), report.Totals.TotalCylinders.InexactFloat64())

	return f, nil
}

// ExportValidationExcel renders a validation report: results sheet plus
// issue rows at the bottom.
func ExportValidationExcel(report *workflow.ValidationReport) (*excelize.File, error) {
	f := excelize.NewFile()
	if _, err := f.NewSheet(exportSheet); err != nil {
		return nil, err
	}

	headers := []string{"DriverId", "Type", "CylinderSize", "Baseline", "Current", "Difference", "Change%", "Status", "UnauthorizedSuspected"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(exportSheet, cell, h)
	}

	rowNo := 2
	for _, r := range report.Results {
		f.SetCellValue(exportSheet, "A"+fmt.Sprint(rowNo), r.DriverId)
		f.SetCellValue(exportSheet, "B"+fmt.Sprint(rowNo), string(r.ReceivableType))
		f.SetCellValue(exportSheet, "C"+fmt.Sprint(rowNo), r.CylinderSize)
		f.SetCellValue(exportSheet, "D"+fmt.Sprint(rowNo), r.BaselineValue.InexactFloat64())
		f.SetCellValue(exportSheet, "E"+fmt.Sprint(rowNo), r.CurrentValue.InexactFloat64())
		f.SetCellValue(exportSheet, "F"+fmt.Sprint(rowNo), r.Difference.InexactFloat64())
		f.SetCellValue(exportSheet, "G"+fmt.Sprint(rowNo), r.PercentageChange.InexactFloat64())
		f.SetCellValue(exportSheet, "H"+fmt.Sprint(rowNo), string(r.Status))
		f.SetCellValue(exportSheet, "I"+fmt.Sprint(rowNo), r.UnauthorizedChangeSuspected)
		rowNo++
	}

	rowNo++
	f.SetCellValue(exportSheet, "A"+fmt.Sprint(rowNo), "Issues")
	rowNo++
	issueHeaders := []string{"IssueType", "Severity", "DriverId", "Type", "Baseline", "Current", "Description"}
	for i, h := range issueHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, rowNo)
		f.SetCellValue(exportSheet, cell, h)
	}
	rowNo++
	for _, issue := range report.Issues {
		f.SetCellValue(exportSheet, "A"+fmt.Sprint(rowNo), string(issue.IssueType))
		f.SetCellValue(exportSheet, "B"+fmt.Sprint(rowNo), string(issue.Severity))
		f.SetCellValue(exportSheet, "C"+fmt.Sprint(rowNo), issue.DriverId)
		f.SetCellValue(exportSheet, "D"+fmt.Sprint(rowNo), string(issue.ReceivableType))
		f.SetCellValue(exportSheet, "E"+fmt.Sprint(rowNo), issue.BaselineValue.InexactFloat64())
		f.SetCellValue(exportSheet, "F"+fmt.Sprint(rowNo), issue.CurrentValue.InexactFloat64())
		f.SetCellValue(exportSheet, "G"+fmt.Sprint(rowNo), issue.Description)
		rowNo++
	}

	f.SetCellValue(exportSheet, "A"+fmt.Sprint(rowNo), "Accuracy")
	f.SetCellValue(exportSheet, "B"+fmt.Sprint(rowNo), report.Summary.ValidationAccuracy.InexactFloat64())

	return f, nil
}
