package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/distribution_backend/config"
	"bitbucket.org/mmdatafocus/distribution_backend/utils"
	"gorm.io/gorm"
)

// AuditRecord is the append-only trail of balance changes. Rows are written in
// the same transaction as the change they describe and never touched again.
type AuditRecord struct {
	ID            int             `gorm:"primary_key" json:"id"`
	BusinessId    string          `gorm:"size:64;not null;index:idx_audit_biz_driver_time,priority:1;index:idx_audit_biz_ref,priority:1" json:"business_id"`
	DriverId      int             `gorm:"index:idx_audit_biz_driver_time,priority:2" json:"driver_id"`
	ActionType    AuditActionType `gorm:"size:10;not null" json:"action_type"`
	ReferenceId   int             `gorm:"index:idx_audit_biz_ref,priority:3" json:"reference_id"`
	ReferenceType string          `gorm:"size:255;index:idx_audit_biz_ref,priority:2" json:"reference_type"`
	FieldName     string          `gorm:"size:100" json:"field_name"`
	OldValue      string          `gorm:"type:text" json:"old_value"`
	NewValue      string          `gorm:"type:text" json:"new_value"`
	Reason        string          `gorm:"type:text" json:"reason"`
	Description   string          `gorm:"type:text" json:"description"`
	UserId        int             `gorm:"index;not null" json:"user_id"`
	UserName      string          `gorm:"size:100" json:"user_name"`
	CorrelationId string          `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time       `gorm:"autoCreateTime;index:idx_audit_biz_driver_time,priority:3" json:"created_at"`
}

func (a *AuditRecord) BeforeUpdate(tx *gorm.DB) error {
	return utils.ErrorRecordImmutable
}

func (a *AuditRecord) BeforeDelete(tx *gorm.DB) error {
	return utils.ErrorRecordImmutable
}

// actor identity comes from the request context
func createAuditRecord(tx *gorm.DB,
	actionType AuditActionType,
	driverId int,
	referenceId int,
	referenceType string,
	fieldName string,
	oldValue string,
	newValue string,
	reason string,
	description string) error {

	ctx := tx.Statement.Context
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return errors.New("business id is required")
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return errors.New("user id is required")
	}
	userName, ok := utils.GetUserNameFromContext(ctx)
	if !ok {
		return errors.New("user name is required")
	}
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)

	record := AuditRecord{
		BusinessId:    businessId,
		DriverId:      driverId,
		ActionType:    actionType,
		ReferenceId:   referenceId,
		ReferenceType: referenceType,
		FieldName:     fieldName,
		OldValue:      oldValue,
		NewValue:      newValue,
		Reason:        reason,
		Description:   description,
		UserId:        userId,
		UserName:      userName,
		CorrelationId: correlationId,
	}
	return tx.Create(&record).Error
}

// CreateAuditRecord is the exported entry point for callers outside this
// package (onboarding recording, workflow-level mutations).
func CreateAuditRecord(tx *gorm.DB,
	actionType AuditActionType,
	driverId int,
	referenceId int,
	referenceType string,
	fieldName string,
	oldValue string,
	newValue string,
	reason string,
	description string) error {
	return createAuditRecord(tx, actionType, driverId, referenceId, referenceType, fieldName, oldValue, newValue, reason, description)
}

type AuditRecordsConnection struct {
	Edges    []*AuditRecordsEdge `json:"edges"`
	PageInfo *PageInfo           `json:"pageInfo"`
}

type AuditRecordsEdge Edge[AuditRecord]

func (a AuditRecord) GetId() int {
	return a.ID
}

func (a AuditRecord) GetReferenceId() int {
	return a.DriverId
}

func (a AuditRecord) GetCursor() string {
	return a.CreatedAt.String()
}

func GetAuditRecords(ctx context.Context, driverId *int, referenceType *string, referenceId *int, userId *int, from, to *time.Time) ([]*AuditRecord, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)
	if driverId != nil && *driverId > 0 {
		dbCtx = dbCtx.Where("driver_id = ?", *driverId)
	}
	if referenceType != nil && len(*referenceType) > 0 {
		dbCtx = dbCtx.Where("reference_type = ?", *referenceType)
	}
	if referenceId != nil && *referenceId > 0 {
		dbCtx = dbCtx.Where("reference_id = ?", *referenceId)
	}
	if userId != nil && *userId > 0 {
		dbCtx = dbCtx.Where("user_id = ?", *userId)
	}
	if from != nil {
		dbCtx = dbCtx.Where("created_at >= ?", *from)
	}
	if to != nil {
		dbCtx = dbCtx.Where("created_at < ?", *to)
	}

	var results []*AuditRecord
	if err := dbCtx.Order("created_at DESC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// GetRecentAuditByDrivers fetches audit rows for a batch of drivers inside the
// lookback window, newest first. Dataloader batch function for validation
// report enrichment.
func GetRecentAuditByDrivers(ctx context.Context, businessId string, driverIds []int, since time.Time) (map[int][]*AuditRecord, error) {

	if len(driverIds) == 0 {
		return map[int][]*AuditRecord{}, nil
	}

	db := config.GetDB()
	var rows []*AuditRecord
	err := db.WithContext(ctx).
		Where("business_id = ? AND driver_id IN ? AND created_at >= ?", businessId, driverIds, since).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	byDriver := make(map[int][]*AuditRecord, len(driverIds))
	for _, row := range rows {
		byDriver[row.DriverId] = append(byDriver[row.DriverId], row)
	}
	return byDriver, nil
}

func PaginateAuditRecords(ctx context.Context,
	limit *int,
	after *string,
	driverId *int,
	referenceType *string,
	actionType *string,
) (*AuditRecordsConnection, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)
	if driverId != nil && *driverId > 0 {
		dbCtx.Where("driver_id = ?", *driverId)
	}
	if referenceType != nil && *referenceType != "" {
		dbCtx.Where("reference_type = ?", *referenceType)
	}
	if actionType != nil && *actionType != "" {
		dbCtx.Where("action_type = ?", *actionType)
	}

	edges, pageInfo, err := FetchPageCompositeCursor[AuditRecord](dbCtx, *limit, after, "created_at", "<")
	if err != nil {
		return nil, err
	}
	var connection AuditRecordsConnection
	connection.PageInfo = pageInfo
	for _, edge := range edges {
		auditEdge := AuditRecordsEdge(edge)
		connection.Edges = append(connection.Edges, &auditEdge)
	}
	return &connection, err
}
