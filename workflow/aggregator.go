package workflow

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/distribution_backend/models"
	"bitbucket.org/mmdatafocus/distribution_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DayDelta is the net receivable change attributable to one driver's sales on
// one calendar day.
type DayDelta struct {
	Cash     decimal.Decimal
	Cylinder decimal.Decimal
}

func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// AggregateSales reduces the sale feed for a driver set and date window into
// per (driver, day) deltas. One batched fetch for the whole window; grouping
// happens in memory. The grid is zero-filled so a driver with no sales on a
// day still yields a (0,0) entry and carry-forward stays unbroken.
func AggregateSales(tx *gorm.DB, ctx context.Context, businessId string, timezone string, driverIds []int, dates utils.DateSequence) (map[int]map[string]DayDelta, error) {
	if dates.Len() == 0 {
		return map[int]map[string]DayDelta{}, nil
	}
	sales, err := models.GetSaleEventsWindow(tx, ctx, businessId, driverIds, dates.First(), dates.Last())
	if err != nil {
		return nil, err
	}
	return groupSales(sales, timezone, driverIds, dates)
}

// groupSales is the pure grouping core. A sale belongs to the calendar day of
// its timestamp in the business timezone. Cylinder movement only comes from
// Refill rows; Package sales are outright purchases of the cylinder.
func groupSales(sales []*models.SaleEvent, timezone string, driverIds []int, dates utils.DateSequence) (map[int]map[string]DayDelta, error) {
	grid := make(map[int]map[string]DayDelta, len(driverIds))
	for _, id := range driverIds {
		days := make(map[string]DayDelta, dates.Len())
		for _, d := range dates.Dates() {
			days[dayKey(d)] = DayDelta{}
		}
		grid[id] = days
	}

	for _, sale := range sales {
		day, err := utils.ConvertToDate(sale.SaleTime, timezone)
		if err != nil {
			return nil, err
		}
		days, ok := grid[sale.DriverId]
		if !ok {
			continue
		}
		key := dayKey(day)
		delta, ok := days[key]
		if !ok {
			// The fetch window is widened by a day on each side for timezone
			// bucketing; rows that fold outside the requested range are not ours.
			continue
		}
		delta.Cash = delta.Cash.Add(sale.TotalAmount).Sub(sale.CashDeposited).Sub(sale.Discount)
		if sale.SaleType == models.SaleTypeRefill {
			delta.Cylinder = delta.Cylinder.Add(sale.Quantity).Sub(sale.CylindersDeposited)
		}
		days[key] = delta
	}
	return grid, nil
}
