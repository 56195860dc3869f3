package reports

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/distribution_backend/config"
	"bitbucket.org/mmdatafocus/distribution_backend/models"
	"bitbucket.org/mmdatafocus/distribution_backend/utils"
	"github.com/shopspring/decimal"
)

type LedgerRow struct {
	DriverId           int              `json:"driver_id"`
	DriverName         string           `json:"driver_name"`
	EntryDate          time.Time        `json:"entry_date"`
	CashDelta          decimal.Decimal  `json:"cash_delta"`
	CylinderDelta      decimal.Decimal  `json:"cylinder_delta"`
	CashTotal          decimal.Decimal  `json:"cash_total"`
	CylinderTotal      decimal.Decimal  `json:"cylinder_total"`
	OnboardingCash     *decimal.Decimal `json:"onboarding_cash,omitempty"`
	OnboardingCylinder *decimal.Decimal `json:"onboarding_cylinder,omitempty"`
	CalculatedAt       time.Time        `json:"calculated_at"`
}

type DriverLedgerSummary struct {
	DriverId         int             `json:"driver_id"`
	DriverName       string          `json:"driver_name"`
	OpeningCash      decimal.Decimal `json:"opening_cash"`
	OpeningCylinder  decimal.Decimal `json:"opening_cylinder"`
	ClosingCash      decimal.Decimal `json:"closing_cash"`
	ClosingCylinder  decimal.Decimal `json:"closing_cylinder"`
	CashDeltaSum     decimal.Decimal `json:"cash_delta_sum"`
	CylinderDeltaSum decimal.Decimal `json:"cylinder_delta_sum"`
	EntryCount       int             `json:"entry_count"`
}

type TenantLedgerTotals struct {
	TotalCash      decimal.Decimal `json:"total_cash"`
	TotalCylinders decimal.Decimal `json:"total_cylinders"`
	DriverCount    int             `json:"driver_count"`
}

type DriverLedgerReport struct {
	FromDate  time.Time              `json:"from_date"`
	ToDate    time.Time              `json:"to_date"`
	Rows      []*LedgerRow           `json:"rows"`
	Summaries []*DriverLedgerSummary `json:"summaries"`
	Totals    TenantLedgerTotals     `json:"totals"`
}

// GetDriverLedgerReport returns the ledger rows in [fromDate, toDate] plus a
// per-driver summary and tenant-wide closing totals. Opening balances come
// from the row itself: total minus delta minus any onboarding applied that
// day, so no second query outside the range is needed.
func GetDriverLedgerReport(ctx context.Context, driverId *int, fromDate, toDate time.Time) (*DriverLedgerReport, error) {
	started := time.Now()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	business, err := models.GetBusinessById(ctx, businessId)
	if err != nil {
		return nil, err
	}
	from, err := utils.ConvertToDate(fromDate, business.Timezone)
	if err != nil {
		return nil, err
	}
	to, err := utils.ConvertToDate(toDate, business.Timezone)
	if err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, errors.New("to date must not be before from date")
	}

	cacheKey := fmt.Sprintf("DriverLedgerReport:%s:%v:%s:%s", businessId, utils.DereferencePtr(driverId), from.Format("2006-01-02"), to.Format("2006-01-02"))
	if reportCacheEnabled() {
		var cached DriverLedgerReport
		if hit, err := cacheGet(cacheKey, &cached); err == nil && hit {
			return &cached, nil
		}
	}

	db := config.GetDB()

	sqlT := `
        SELECT
            l.driver_id,
            drivers.name AS driver_name,
            l.entry_date,
            l.cash_delta,
            l.cylinder_delta,
            l.cash_total,
            l.cylinder_total,
            l.onboarding_cash,
            l.onboarding_cylinder,
            l.calculated_at
        FROM
            driver_ledger_entries l
        JOIN
            drivers ON drivers.id = l.driver_id AND drivers.business_id = l.business_id
        WHERE
            l.business_id = @businessId
            AND l.entry_date BETWEEN @fromDate AND @toDate
            {{- if .HasDriver }}
            AND l.driver_id = @driverId
            {{- end }}
        ORDER BY
            l.driver_id, l.entry_date ASC
    `
	sql, err := utils.ExecTemplate(sqlT, map[string]interface{}{
		"HasDriver": driverId != nil && *driverId > 0,
	})
	if err != nil {
		return nil, err
	}

	var rows []*LedgerRow
	if err := db.WithContext(ctx).Raw(sql, map[string]interface{}{
		"businessId": businessId,
		"fromDate":   from,
		"toDate":     to,
		"driverId":   utils.DereferencePtr(driverId),
	}).Scan(&rows).Error; err != nil {
		return nil, err
	}

	report := &DriverLedgerReport{FromDate: from, ToDate: to, Rows: rows}

	summaryByDriver := map[int]*DriverLedgerSummary{}
	var order []int
	for _, row := range rows {
		summary, ok := summaryByDriver[row.DriverId]
		if !ok {
			opening := row.CashTotal.Sub(row.CashDelta).Sub(utils.DereferencePtr(row.OnboardingCash))
			openingCyl := row.CylinderTotal.Sub(row.CylinderDelta).Sub(utils.DereferencePtr(row.OnboardingCylinder))
			summary = &DriverLedgerSummary{
				DriverId:        row.DriverId,
				DriverName:      row.DriverName,
				OpeningCash:     opening,
				OpeningCylinder: openingCyl,
			}
			summaryByDriver[row.DriverId] = summary
			order = append(order, row.DriverId)
		}
		summary.ClosingCash = row.CashTotal
		summary.ClosingCylinder = row.CylinderTotal
		summary.CashDeltaSum = summary.CashDeltaSum.Add(row.CashDelta)
		summary.CylinderDeltaSum = summary.CylinderDeltaSum.Add(row.CylinderDelta)
		summary.EntryCount++
	}
	for _, id := range order {
		summary := summaryByDriver[id]
		report.Summaries = append(report.Summaries, summary)
		report.Totals.TotalCash = report.Totals.TotalCash.Add(summary.ClosingCash)
		report.Totals.TotalCylinders = report.Totals.TotalCylinders.Add(summary.ClosingCylinder)
	}
	report.Totals.DriverCount = len(order)

	if reportCacheEnabled() {
		_ = cacheSet(cacheKey, report, reportCacheTTL())
	}
	logSlowReport(ctx, "DriverLedgerReport", started, map[string]any{"rows": len(rows)})

	return report, nil
}
