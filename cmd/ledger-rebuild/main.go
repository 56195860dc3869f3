package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/distribution_backend/config"
	"bitbucket.org/mmdatafocus/distribution_backend/models"
	"bitbucket.org/mmdatafocus/distribution_backend/utils"
	"bitbucket.org/mmdatafocus/distribution_backend/workflow"
)

func main() {
	businessID := flag.String("business-id", "", "Required: business id (uuid)")
	driverID := flag.Int("driver-id", 0, "Optional: limit the rebuild to one driver")
	fromDateStr := flag.String("from", "", "Optional: rebuild from date (YYYY-MM-DD). Defaults to earliest ledger date for the business.")
	toDateStr := flag.String("to", "", "Optional: rebuild up to date (YYYY-MM-DD). Defaults to today.")
	flag.Parse()

	if strings.TrimSpace(*businessID) == "" {
		fmt.Fprintln(os.Stderr, "--business-id is required")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	ctx := context.Background()
	ctx = utils.SetBusinessIdInContext(ctx, *businessID)
	ctx = utils.SetUserIdInContext(ctx, 0)
	ctx = utils.SetUserNameInContext(ctx, "System")

	from := time.Now().UTC()
	if strings.TrimSpace(*fromDateStr) != "" {
		d, err := time.Parse("2006-01-02", strings.TrimSpace(*fromDateStr))
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid from date: %v\n", err)
			os.Exit(1)
		}
		from = d
	} else {
		// Earliest ledger date for the business; fall back to the
		// earliest sale when no ledger rows exist yet.
		if err := db.Raw(`
			SELECT COALESCE(
				(SELECT MIN(entry_date) FROM driver_ledger_entries WHERE business_id = ?),
				(SELECT MIN(sale_time) FROM sale_events WHERE business_id = ?),
				NOW()) AS start_date
		`, *businessID, *businessID).Scan(&from).Error; err != nil {
			fmt.Fprintf(os.Stderr, "discover start date: %v\n", err)
			os.Exit(1)
		}
	}

	to := time.Now().UTC()
	if strings.TrimSpace(*toDateStr) != "" {
		d, err := time.Parse("2006-01-02", strings.TrimSpace(*toDateStr))
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid to date: %v\n", err)
			os.Exit(1)
		}
		to = d
	}

	// The recalculation range is capped at one year, so long histories
	// are rebuilt window by window. Windows must run in ascending order:
	// each one reads the previous window's totals as carry-forward.
	const windowDays = 365
	var processed, skipped int
	for windowStart := from; !windowStart.After(to); windowStart = windowStart.AddDate(0, 0, windowDays) {
		windowEnd := windowStart.AddDate(0, 0, windowDays-1)
		if windowEnd.After(to) {
			windowEnd = to
		}

		input := &workflow.RecalculateInput{
			DateFrom: windowStart,
			DateTo:   windowEnd,
		}
		if *driverID > 0 {
			input.DriverIds = []int{*driverID}
		}

		fmt.Printf("Rebuilding business=%s driver=%d from=%s to=%s\n",
			*businessID, *driverID, windowStart.Format("2006-01-02"), windowEnd.Format("2006-01-02"))

		result, err := workflow.RecalculateLedgerRange(ctx, *businessID, input)
		if result != nil {
			processed += result.Processed
			skipped += result.Skipped
		}
		if err != nil {
			if result != nil {
				for _, s := range result.Statuses {
					if s.Status != workflow.RecalcStatusProcessed {
						fmt.Fprintf(os.Stderr, "driver=%d date=%s status=%s error=%s\n", s.DriverId, s.Date, s.Status, s.Error)
					}
				}
			}
			fmt.Fprintf(os.Stderr, "rebuild failed: %v\n", err)
			os.Exit(1)
		}
	}

	fmt.Printf("ledger rebuild complete: processed=%d skipped=%d\n", processed, skipped)

	latest, err := models.GetLatestLedgerEntries(ctx, *businessID, to)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading closing totals: %v\n", err)
		os.Exit(1)
	}
	for _, e := range latest {
		if *driverID > 0 && e.DriverId != *driverID {
			continue
		}
		fmt.Printf("driver=%d as_of=%s cash_total=%s cylinder_total=%s\n",
			e.DriverId, e.EntryDate.Format("2006-01-02"), e.CashTotal.String(), e.CylinderTotal.String())
	}
}
