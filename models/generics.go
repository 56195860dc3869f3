package models

import (
	"context"
	"errors"
	"fmt"

	"bitbucket.org/mmdatafocus/distribution_backend/config"
	"bitbucket.org/mmdatafocus/distribution_backend/utils"
)

type Resource interface {
	GetBusinessId() string
}

// GetResource reads T through the redis cache, falling back to the DB
// and caching the row on a miss. Cached rows are keyed per id, not per
// tenant, so a hit is re-checked against the ctx business id.
func GetResource[T Resource](ctx context.Context, id int, associations ...string) (*T, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	result, err := utils.RetrieveRedis[T](id)
	if err != nil {
		return nil, err
	}
	if result == nil {
		result, err = utils.FetchModel[T](ctx, businessId, id, associations...)
		if err != nil {
			return nil, err
		}
		if err := utils.StoreRedis[T](result, id); err != nil {
			return nil, err
		}
		return result, nil
	}

	if (*result).GetBusinessId() != businessId {
		return nil, errors.New("cannot access resource owned by other business")
	}
	return result, nil
}

// ToggleActiveModel flips is_active on one row, records the change in
// the audit trail inside the same transaction, and evicts the row from
// the cache. Blank businessId is the admin path.
func ToggleActiveModel[T RedisCleaner](ctx context.Context, businessId string, id int, isActive bool) (*T, error) {

	var result *T
	var err error
	db := config.GetDB()

	if businessId == "" {
		err = db.WithContext(ctx).First(&result, id).Error
	} else {
		err = db.WithContext(ctx).Where("business_id = ?", businessId).First(&result, id).Error
	}
	if err != nil {
		return nil, err
	}

	tx := db.Begin()
	Tx := tx.WithContext(ctx).Model(&result).
		UpdateColumn("IsActive", isActive)
	if Tx.Error != nil {
		tx.Rollback()
		return nil, Tx.Error
	}

	referenceType := Tx.Statement.Table
	description := fmt.Sprintf("toggled %s active=%v", utils.GetTypeName[T](), isActive)

	// audited here because UpdateColumn skips the model hooks
	if err := createAuditRecord(tx.WithContext(ctx), AuditActionUpdate, 0, id, referenceType,
		"is_active", fmt.Sprint(!isActive), fmt.Sprint(isActive), "", description); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := RemoveRedisBoth(*result); err != nil {
		return nil, err
	}

	return result, tx.Commit().Error
}
