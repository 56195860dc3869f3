package middlewares

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/distribution_backend/models"
	"bitbucket.org/mmdatafocus/distribution_backend/utils"
	"github.com/graph-gophers/dataloader/v7"
)

// RecentAuditKey identifies one driver's audit trail since a horizon.
// Since is unix seconds so the key stays comparable; keys sharing a
// horizon batch into one query.
type RecentAuditKey struct {
	DriverId int
	Since    int64
}

type auditKeyGroup struct {
	since     int64
	driverIds []int
	positions []int
}

// groupAuditKeys buckets keys by horizon, remembering each key's
// position so results line up with the requested order.
func groupAuditKeys(keys []RecentAuditKey) []auditKeyGroup {
	byHorizon := map[int64]int{}
	var groups []auditKeyGroup
	for pos, key := range keys {
		gi, ok := byHorizon[key.Since]
		if !ok {
			gi = len(groups)
			byHorizon[key.Since] = gi
			groups = append(groups, auditKeyGroup{since: key.Since})
		}
		groups[gi].driverIds = append(groups[gi].driverIds, key.DriverId)
		groups[gi].positions = append(groups[gi].positions, pos)
	}
	return groups
}

type recentAuditReader struct{}

func (r *recentAuditReader) getRecentAudits(ctx context.Context, keys []RecentAuditKey) []*dataloader.Result[[]*models.AuditRecord] {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return handleError[[]*models.AuditRecord](len(keys), errors.New("business id is required"))
	}

	results := make([]*dataloader.Result[[]*models.AuditRecord], len(keys))
	for _, group := range groupAuditKeys(keys) {
		trails, err := models.GetRecentAuditByDrivers(ctx, businessId, group.driverIds, time.Unix(group.since, 0).UTC())
		for i, pos := range group.positions {
			if err != nil {
				results[pos] = &dataloader.Result[[]*models.AuditRecord]{Error: err}
				continue
			}
			results[pos] = &dataloader.Result[[]*models.AuditRecord]{Data: trails[group.driverIds[i]]}
		}
	}
	return results
}

// GetRecentAuditTrail loads one driver's audit records since the given
// time through the request's batching loader.
func GetRecentAuditTrail(ctx context.Context, driverId int, since time.Time) ([]*models.AuditRecord, error) {
	loaders := For(ctx)
	return loaders.recentAuditLoader.Load(ctx, RecentAuditKey{DriverId: driverId, Since: since.UTC().Unix()})()
}

// GetRecentAuditTrails batches the trail lookup for many drivers sharing
// one horizon. The first per-driver error is returned.
func GetRecentAuditTrails(ctx context.Context, driverIds []int, since time.Time) (map[int][]*models.AuditRecord, error) {
	loaders := For(ctx)
	keys := make([]RecentAuditKey, len(driverIds))
	for i, id := range driverIds {
		keys[i] = RecentAuditKey{DriverId: id, Since: since.UTC().Unix()}
	}

	trails, errs := loaders.recentAuditLoader.LoadMany(ctx, keys)()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	byDriver := make(map[int][]*models.AuditRecord, len(driverIds))
	for i, id := range driverIds {
		byDriver[id] = trails[i]
	}
	return byDriver, nil
}
