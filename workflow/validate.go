package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/distribution_backend/config"
	"bitbucket.org/mmdatafocus/distribution_backend/middlewares"
	"bitbucket.org/mmdatafocus/distribution_backend/models"
	"bitbucket.org/mmdatafocus/distribution_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var largeDiscrepancyThreshold = decimal.NewFromInt(50)

type ValidateInput struct {
	DriverIds         []int `json:"driver_ids"`
	OnlyDiscrepancies bool  `json:"only_discrepancies"`
	IncludeAuditTrail bool  `json:"include_audit_trail"`
}

// ValidationResult is one baseline slice compared against its current value.
type ValidationResult struct {
	DriverId                    int                      `json:"driver_id"`
	DriverName                  string                   `json:"driver_name,omitempty"`
	ReceivableType              models.ReceivableType    `json:"receivable_type"`
	CylinderSize                string                   `json:"cylinder_size,omitempty"`
	BaselineValue               decimal.Decimal          `json:"baseline_value"`
	CurrentValue                decimal.Decimal          `json:"current_value"`
	Difference                  decimal.Decimal          `json:"difference"`
	PercentageChange            decimal.Decimal          `json:"percentage_change"`
	Status                      models.DiscrepancyStatus `json:"status"`
	UnauthorizedChangeSuspected bool                     `json:"unauthorized_change_suspected,omitempty"`
	AuditTrail                  []*models.AuditRecord    `json:"audit_trail,omitempty"`
}

type ValidationIssue struct {
	IssueType      models.IssueType      `json:"issue_type"`
	Severity       models.IssueSeverity  `json:"severity"`
	DriverId       int                   `json:"driver_id"`
	ReceivableType models.ReceivableType `json:"receivable_type"`
	CylinderSize   string                `json:"cylinder_size,omitempty"`
	BaselineValue  decimal.Decimal       `json:"baseline_value"`
	CurrentValue   decimal.Decimal       `json:"current_value"`
	Description    string                `json:"description"`
}

type ValidationSummary struct {
	TotalRecords       int             `json:"total_records"`
	Unchanged          int             `json:"unchanged"`
	Increased          int             `json:"increased"`
	Decreased          int             `json:"decreased"`
	TotalIssues        int             `json:"total_issues"`
	ValidationAccuracy decimal.Decimal `json:"validation_accuracy"`
	SnapshotId         int             `json:"snapshot_id"`
	SnapshotDate       time.Time       `json:"snapshot_date"`
}

// ValidationReport is ephemeral; nothing here is persisted. Discrepancies are
// data, not errors, so a validation run that finds a hundred of them still
// returns a report with a nil error.
type ValidationReport struct {
	Results     []*ValidationResult `json:"results"`
	Summary     ValidationSummary   `json:"summary"`
	Issues      []*ValidationIssue  `json:"issues"`
	GeneratedAt time.Time           `json:"generated_at"`
}

type baselineSlice struct {
	driverId       int
	receivableType models.ReceivableType
	cylinderSize   string
	amount         decimal.Decimal
}

func sliceKey(driverId int, rType models.ReceivableType, size string) string {
	return fmt.Sprintf("%d|%s|%s", driverId, rType, size)
}

// ValidateAgainstBaseline compares every baseline slice of the tenant's
// onboarding snapshot against the current editable receivable records and
// classifies each with the currency epsilon. Fine-grained baseline records
// take precedence over the snapshot payload for their slice.
func ValidateAgainstBaseline(ctx context.Context, businessId string, input *ValidateInput) (*ValidationReport, error) {
	logger := config.GetLogger()
	db := config.GetDB()
	if input == nil {
		input = &ValidateInput{}
	}

	snapshot, err := models.GetEarliestOnboardingSnapshot(ctx, businessId)
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		return nil, errors.New("no onboarding baseline snapshot exists for this business")
	}

	slices, err := baselineSlices(ctx, businessId, snapshot)
	if err != nil {
		return nil, err
	}

	if len(input.DriverIds) > 0 {
		wanted := make(map[int]bool, len(input.DriverIds))
		for _, id := range input.DriverIds {
			wanted[id] = true
		}
		filtered := slices[:0]
		for _, s := range slices {
			if wanted[s.driverId] {
				filtered = append(filtered, s)
			}
		}
		slices = filtered
	}

	current, err := currentValuesByKey(ctx, businessId)
	if err != nil {
		return nil, err
	}

	report := &ValidationReport{GeneratedAt: time.Now().UTC()}
	report.Summary.SnapshotId = snapshot.ID
	report.Summary.SnapshotDate = snapshot.SnapshotDate

	affectedDrivers := map[int]bool{}
	for _, s := range slices {
		currentValue, present := current[sliceKey(s.driverId, s.receivableType, s.cylinderSize)]
		result, issue := compareBaselineSlice(s, currentValue, present)

		switch result.Status {
		case models.DiscrepancyStatusIncreased:
			report.Summary.Increased++
		case models.DiscrepancyStatusDecreased:
			report.Summary.Decreased++
		default:
			report.Summary.Unchanged++
		}
		report.Summary.TotalRecords++

		if result.Status != models.DiscrepancyStatusUnchanged {
			affectedDrivers[s.driverId] = true
		}
		if issue != nil {
			report.Issues = append(report.Issues, issue)
		}

		if input.OnlyDiscrepancies && result.Status == models.DiscrepancyStatusUnchanged {
			continue
		}
		report.Results = append(report.Results, result)
	}

	report.Summary.TotalIssues = len(report.Issues)
	if report.Summary.TotalRecords > 0 {
		report.Summary.ValidationAccuracy = decimal.NewFromInt(int64(report.Summary.Unchanged)).
			Div(decimal.NewFromInt(int64(report.Summary.TotalRecords))).
			Mul(decimal.NewFromInt(100)).Round(2)
	}

	if input.IncludeAuditTrail && len(affectedDrivers) > 0 {
		ids := make([]int, 0, len(affectedDrivers))
		for id := range affectedDrivers {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		trails, err := auditTrailsForDrivers(ctx, businessId, ids, snapshot.SnapshotDate)
		if err != nil {
			config.LogError(logger, "validate.go", "ValidateAgainstBaseline", "Loading audit trails", businessId, err)
		} else {
			for _, r := range report.Results {
				if r.Status == models.DiscrepancyStatusUnchanged {
					continue
				}
				trail := trails[r.DriverId]
				r.AuditTrail = trail
				// a discrepancy with no audit footprint since the baseline is
				// the strongest unauthorized-change signal; reported, never
				// auto-resolved
				r.UnauthorizedChangeSuspected = len(trail) == 0
			}
		}
		resultIds := map[int]bool{}
		for _, r := range report.Results {
			resultIds[r.DriverId] = true
		}
		nameIds := make([]int, 0, len(resultIds))
		for id := range resultIds {
			nameIds = append(nameIds, id)
		}
		sort.Ints(nameIds)
		names := driverNamesFor(ctx, nameIds)
		for _, r := range report.Results {
			r.DriverName = names[r.DriverId]
		}
	}

	if highIssues := issuesBySeverity(report.Issues, models.IssueSeverityHigh); len(highIssues) > 0 {
		payload := map[string]interface{}{
			"snapshot_id": snapshot.ID,
			"issues":      highIssues,
		}
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return models.EnqueueLedgerEvent(ctx, tx, businessId, models.LedgerEventDiscrepancyDetected, nil, snapshot.SnapshotDate, report.GeneratedAt, payload)
		})
		if err != nil {
			config.LogError(logger, "validate.go", "ValidateAgainstBaseline", "Enqueueing discrepancy event", businessId, err)
		}
	}

	return report, nil
}

// compareBaselineSlice classifies one baseline slice against its current
// value. present is false when no current receivable row exists for the slice;
// the value is then treated as zero. A missing record on a positive baseline
// outranks a large percentage swing, so at most one issue is produced.
func compareBaselineSlice(s baselineSlice, currentValue decimal.Decimal, present bool) (*ValidationResult, *ValidationIssue) {
	if !present {
		currentValue = decimal.Zero
	}
	difference := currentValue.Sub(s.amount)

	percentageChange := decimal.Zero
	if s.amount.IsPositive() {
		percentageChange = difference.Div(s.amount).Mul(decimal.NewFromInt(100))
	}

	var status models.DiscrepancyStatus
	switch utils.CompareWithEpsilon(currentValue, s.amount) {
	case 1:
		status = models.DiscrepancyStatusIncreased
	case -1:
		status = models.DiscrepancyStatusDecreased
	default:
		status = models.DiscrepancyStatusUnchanged
	}

	var issue *ValidationIssue
	switch {
	case s.amount.IsPositive() && (!present || currentValue.IsZero()):
		issue = &ValidationIssue{
			IssueType:      models.IssueTypeMissingRecords,
			Severity:       models.IssueSeverityHigh,
			DriverId:       s.driverId,
			ReceivableType: s.receivableType,
			CylinderSize:   s.cylinderSize,
			BaselineValue:  s.amount,
			CurrentValue:   currentValue,
			Description:    fmt.Sprintf("baseline %s but no current record", s.amount.String()),
		}
	case percentageChange.Abs().GreaterThan(largeDiscrepancyThreshold):
		issue = &ValidationIssue{
			IssueType:      models.IssueTypeLargeDiscrepancies,
			Severity:       models.IssueSeverityMedium,
			DriverId:       s.driverId,
			ReceivableType: s.receivableType,
			CylinderSize:   s.cylinderSize,
			BaselineValue:  s.amount,
			CurrentValue:   currentValue,
			Description:    fmt.Sprintf("changed by %s%% against baseline", percentageChange.Round(2).String()),
		}
	}

	return &ValidationResult{
		DriverId:         s.driverId,
		ReceivableType:   s.receivableType,
		CylinderSize:     s.cylinderSize,
		BaselineValue:    s.amount,
		CurrentValue:     currentValue,
		Difference:       difference,
		PercentageChange: percentageChange.Round(4),
		Status:           status,
	}, issue
}

// baselineSlices flattens the snapshot payload into per-slice baselines, then
// overlays the snapshot's fine-grained records, which win for their slice.
func baselineSlices(ctx context.Context, businessId string, snapshot *models.BaselineSnapshot) ([]baselineSlice, error) {
	var mapping map[string]SnapshotDriverBalances
	if err := json.Unmarshal(snapshot.Payload, &mapping); err != nil {
		return nil, fmt.Errorf("decoding snapshot payload: %w", err)
	}

	byKey := map[string]baselineSlice{}
	for driverKey, balances := range mapping {
		driverId, err := strconv.Atoi(driverKey)
		if err != nil {
			return nil, fmt.Errorf("decoding snapshot payload: bad driver key %q", driverKey)
		}
		byKey[sliceKey(driverId, models.ReceivableTypeCash, "")] = baselineSlice{
			driverId: driverId, receivableType: models.ReceivableTypeCash, amount: balances.Cash,
		}
		if len(balances.CylindersBySize) > 0 {
			for size, qty := range balances.CylindersBySize {
				byKey[sliceKey(driverId, models.ReceivableTypeCylinder, size)] = baselineSlice{
					driverId: driverId, receivableType: models.ReceivableTypeCylinder, cylinderSize: size, amount: qty,
				}
			}
		} else if !balances.Cylinders.IsZero() {
			byKey[sliceKey(driverId, models.ReceivableTypeCylinder, "")] = baselineSlice{
				driverId: driverId, receivableType: models.ReceivableTypeCylinder, amount: balances.Cylinders,
			}
		}
	}

	records, err := models.GetBaselineRecordsBySnapshot(ctx, businessId, snapshot.ID)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		byKey[sliceKey(r.DriverId, r.ReceivableType, r.CylinderSize)] = baselineSlice{
			driverId: r.DriverId, receivableType: r.ReceivableType, cylinderSize: r.CylinderSize, amount: r.Amount,
		}
	}

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	slices := make([]baselineSlice, 0, len(keys))
	for _, k := range keys {
		slices = append(slices, byKey[k])
	}
	return slices, nil
}

func currentValuesByKey(ctx context.Context, businessId string) (map[string]decimal.Decimal, error) {
	receivables, err := models.GetAllReceivables(ctx, businessId)
	if err != nil {
		return nil, err
	}
	current := make(map[string]decimal.Decimal, len(receivables))
	for _, r := range receivables {
		current[sliceKey(r.DriverId, r.ReceivableType, r.CylinderSize)] = r.Amount
	}
	return current, nil
}

// auditTrailsForDrivers goes through the request's dataloaders so trail
// lookups coalesce with any other enrichment in flight; outside a request
// (no loaders installed) it falls back to the direct batched query.
func auditTrailsForDrivers(ctx context.Context, businessId string, driverIds []int, since time.Time) (map[int][]*models.AuditRecord, error) {
	if _, ok := middlewares.LoadersFrom(ctx); ok {
		return middlewares.GetRecentAuditTrails(ctx, driverIds, since)
	}
	return models.GetRecentAuditByDrivers(ctx, businessId, driverIds, since)
}

// driverNamesFor resolves driver display names through the loaders. Name
// enrichment is cosmetic, so lookup failures leave names blank rather than
// failing the report.
func driverNamesFor(ctx context.Context, driverIds []int) map[int]string {
	if _, ok := middlewares.LoadersFrom(ctx); !ok {
		return nil
	}
	drivers, errs := middlewares.GetDrivers(ctx, driverIds)
	names := make(map[int]string, len(drivers))
	for i, d := range drivers {
		if i < len(errs) && errs[i] != nil {
			continue
		}
		if d != nil && d.ID != 0 {
			names[d.ID] = d.Name
		}
	}
	return names
}

func issuesBySeverity(issues []*ValidationIssue, severity models.IssueSeverity) []*ValidationIssue {
	var out []*ValidationIssue
	for _, issue := range issues {
		if issue.Severity == severity {
			out = append(out, issue)
		}
	}
	return out
}
