package middlewares

import (
	"testing"
	"time"
)

func TestGroupAuditKeysBatchesByHorizon(t *testing.T) {
	dayAgo := time.Now().UTC().AddDate(0, 0, -1).Unix()
	monthAgo := time.Now().UTC().AddDate(0, 0, -30).Unix()

	keys := []RecentAuditKey{
		{DriverId: 3, Since: monthAgo},
		{DriverId: 7, Since: dayAgo},
		{DriverId: 5, Since: monthAgo},
		{DriverId: 9, Since: dayAgo},
	}

	groups := groupAuditKeys(keys)
	if len(groups) != 2 {
		t.Fatalf("groups = %d, want 2", len(groups))
	}

	if groups[0].since != monthAgo {
		t.Errorf("first group horizon = %d, want %d", groups[0].since, monthAgo)
	}
	wantMonth := []int{3, 5}
	for i, id := range groups[0].driverIds {
		if id != wantMonth[i] {
			t.Errorf("month group driver[%d] = %d, want %d", i, id, wantMonth[i])
		}
	}

	// positions must map each grouped id back to its slot in keys
	seen := map[int]bool{}
	for _, g := range groups {
		if len(g.positions) != len(g.driverIds) {
			t.Fatalf("group %d: %d positions for %d ids", g.since, len(g.positions), len(g.driverIds))
		}
		for i, pos := range g.positions {
			if keys[pos].DriverId != g.driverIds[i] {
				t.Errorf("position %d points at driver %d, group has %d", pos, keys[pos].DriverId, g.driverIds[i])
			}
			if keys[pos].Since != g.since {
				t.Errorf("position %d horizon = %d, group is %d", pos, keys[pos].Since, g.since)
			}
			seen[pos] = true
		}
	}
	if len(seen) != len(keys) {
		t.Errorf("positions cover %d of %d keys", len(seen), len(keys))
	}
}

func TestGroupAuditKeysSingleHorizon(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
	keys := []RecentAuditKey{
		{DriverId: 1, Since: since},
		{DriverId: 2, Since: since},
		{DriverId: 3, Since: since},
	}

	groups := groupAuditKeys(keys)
	if len(groups) != 1 {
		t.Fatalf("groups = %d, want 1", len(groups))
	}
	if len(groups[0].driverIds) != 3 {
		t.Errorf("grouped ids = %d, want 3", len(groups[0].driverIds))
	}
}

func TestGroupAuditKeysEmpty(t *testing.T) {
	if groups := groupAuditKeys(nil); len(groups) != 0 {
		t.Errorf("groups = %d, want 0", len(groups))
	}
}
