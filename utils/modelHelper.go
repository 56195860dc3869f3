package utils

import (
	"context"

	"bitbucket.org/mmdatafocus/distribution_backend/config"
)

// FetchModel loads one row by id within the given tenant, preloading
// any named associations. Every miss is reported as
// ErrorRecordNotFound so callers can map it to a 404 uniformly.
func FetchModel[T any](ctx context.Context, businessId string, id int, associations ...string) (*T, error) {
	dbCtx := config.GetDB().WithContext(ctx).Where("business_id = ?", businessId)
	for _, field := range associations {
		dbCtx = dbCtx.Preload(field)
	}

	var result T
	if err := dbCtx.First(&result, id).Error; err != nil {
		return nil, ErrorRecordNotFound
	}
	return &result, nil
}
