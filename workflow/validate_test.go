package workflow

import (
	"testing"

	"bitbucket.org/mmdatafocus/distribution_backend/models"
	"github.com/shopspring/decimal"
)

func cylinderSlice(driverId int, size string, amount string) baselineSlice {
	return baselineSlice{
		driverId:       driverId,
		receivableType: models.ReceivableTypeCylinder,
		cylinderSize:   size,
		amount:         dec(amount),
	}
}

func cashSlice(driverId int, amount string) baselineSlice {
	return baselineSlice{
		driverId:       driverId,
		receivableType: models.ReceivableTypeCash,
		amount:         dec(amount),
	}
}

func TestCompareBaselineSlice_Decreased(t *testing.T) {
	result, issue := compareBaselineSlice(cylinderSlice(4, "50kg", "15"), dec("12"), true)

	if result.Status != models.DiscrepancyStatusDecreased {
		t.Fatalf("expected DECREASED, got %s", result.Status)
	}
	if !result.Difference.Equal(dec("-3")) {
		t.Fatalf("difference: expected -3, got %s", result.Difference)
	}
	if !result.PercentageChange.Equal(dec("-20")) {
		t.Fatalf("percentage change: expected -20, got %s", result.PercentageChange)
	}
	// A 20% drop is a discrepancy worth listing but not an issue.
	if issue != nil {
		t.Fatalf("expected no issue, got %+v", issue)
	}
}

func TestCompareBaselineSlice_WithinEpsilonIsUnchanged(t *testing.T) {
	result, issue := compareBaselineSlice(cashSlice(1, "1500.50"), dec("1500.505"), true)

	if result.Status != models.DiscrepancyStatusUnchanged {
		t.Fatalf("expected UNCHANGED within epsilon, got %s", result.Status)
	}
	if issue != nil {
		t.Fatalf("expected no issue, got %+v", issue)
	}
}

func TestCompareBaselineSlice_MissingRecord(t *testing.T) {
	result, issue := compareBaselineSlice(cashSlice(9, "1500.50"), decimal.Zero, false)

	if result.Status != models.DiscrepancyStatusDecreased {
		t.Fatalf("expected DECREASED, got %s", result.Status)
	}
	if issue == nil {
		t.Fatal("expected a MISSING_RECORDS issue")
	}
	if issue.IssueType != models.IssueTypeMissingRecords {
		t.Fatalf("expected MISSING_RECORDS, got %s", issue.IssueType)
	}
	if issue.Severity != models.IssueSeverityHigh {
		t.Fatalf("expected HIGH severity, got %s", issue.Severity)
	}
}

func TestCompareBaselineSlice_LargeDiscrepancy(t *testing.T) {
	result, issue := compareBaselineSlice(cashSlice(2, "100"), dec("10"), true)

	if result.Status != models.DiscrepancyStatusDecreased {
		t.Fatalf("expected DECREASED, got %s", result.Status)
	}
	if issue == nil {
		t.Fatal("expected a LARGE_DISCREPANCIES issue")
	}
	if issue.IssueType != models.IssueTypeLargeDiscrepancies {
		t.Fatalf("expected LARGE_DISCREPANCIES, got %s", issue.IssueType)
	}
	if issue.Severity != models.IssueSeverityMedium {
		t.Fatalf("expected MEDIUM severity, got %s", issue.Severity)
	}
}

func TestCompareBaselineSlice_MissingOutranksLarge(t *testing.T) {
	// A zeroed-out record is both a -100% swing and a missing record;
	// only the missing-record issue is raised.
	_, issue := compareBaselineSlice(cashSlice(2, "100"), decimal.Zero, true)

	if issue == nil {
		t.Fatal("expected an issue")
	}
	if issue.IssueType != models.IssueTypeMissingRecords {
		t.Fatalf("expected MISSING_RECORDS to outrank LARGE_DISCREPANCIES, got %s", issue.IssueType)
	}
}

func TestCompareBaselineSlice_NonPositiveBaselineHasNoPercentage(t *testing.T) {
	result, issue := compareBaselineSlice(cashSlice(5, "0"), dec("80"), true)

	if result.Status != models.DiscrepancyStatusIncreased {
		t.Fatalf("expected INCREASED, got %s", result.Status)
	}
	if !result.PercentageChange.IsZero() {
		t.Fatalf("percentage change against a zero baseline must be 0, got %s", result.PercentageChange)
	}
	if issue != nil {
		t.Fatalf("expected no issue without a positive baseline, got %+v", issue)
	}
}

func TestIssuesBySeverity(t *testing.T) {
	issues := []*ValidationIssue{
		{IssueType: models.IssueTypeMissingRecords, Severity: models.IssueSeverityHigh},
		{IssueType: models.IssueTypeLargeDiscrepancies, Severity: models.IssueSeverityMedium},
		{IssueType: models.IssueTypeMissingRecords, Severity: models.IssueSeverityHigh},
	}

	high := issuesBySeverity(issues, models.IssueSeverityHigh)
	if len(high) != 2 {
		t.Fatalf("expected 2 HIGH issues, got %d", len(high))
	}
	medium := issuesBySeverity(issues, models.IssueSeverityMedium)
	if len(medium) != 1 {
		t.Fatalf("expected 1 MEDIUM issue, got %d", len(medium))
	}
}
