package models

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/distribution_backend/config"
	"bitbucket.org/mmdatafocus/distribution_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Outbox publish statuses for LedgerEventRecord.PublishStatus.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// LedgerEventRecord is the transactional outbox: the event row is written
// inside the caller's DB transaction and published to Pub/Sub after commit by
// the dispatcher goroutine.
type LedgerEventRecord struct {
	ID               int             `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	BusinessId       string          `gorm:"size:64;not null;index" json:"business_id"`
	EventType        LedgerEventType `gorm:"type:enum('RECALCULATION_COMPLETED','DISCREPANCY_DETECTED','SNAPSHOT_CREATED');not null" json:"event_type"`
	DriverId         *int            `json:"driver_id"`
	RangeStart       time.Time       `json:"range_start"`
	RangeEnd         time.Time       `json:"range_end"`
	Payload          []byte          `gorm:"type:blob" json:"payload"`
	PublishStatus    string          `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"`
	PublishedAt      *time.Time      `gorm:"index" json:"published_at"`
	PubSubMessageId  *string         `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int             `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time      `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time      `gorm:"index" json:"locked_at"`
	LockedBy         *string         `gorm:"size:100" json:"locked_by"`
	LastPublishError *string         `gorm:"type:text" json:"last_publish_error"`
	CorrelationId    string          `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// EnqueueLedgerEvent writes the outbox row inside the caller's transaction.
// It does NOT publish; the dispatcher does that after commit.
func EnqueueLedgerEvent(ctx context.Context, tx *gorm.DB, businessId string, eventType LedgerEventType, driverId *int, rangeStart, rangeEnd time.Time, payload interface{}) error {

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	record := LedgerEventRecord{
		BusinessId:    businessId,
		EventType:     eventType,
		DriverId:      driverId,
		RangeStart:    rangeStart,
		RangeEnd:      rangeEnd,
		Payload:       payloadBytes,
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: correlationIdFromContextOrNew(ctx),
	}
	return tx.Create(&record).Error
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

func ConvertToLedgerEventMessage(record LedgerEventRecord) config.LedgerEventMessage {
	msg := config.LedgerEventMessage{
		ID:            record.ID,
		BusinessId:    record.BusinessId,
		EventType:     string(record.EventType),
		RangeStart:    record.RangeStart,
		RangeEnd:      record.RangeEnd,
		Payload:       record.Payload,
		CorrelationId: record.CorrelationId,
	}
	if record.DriverId != nil {
		msg.DriverId = strconv.Itoa(*record.DriverId)
	}
	return msg
}

// OutboxStatus is an ops-facing view of the latest outbox row for an event type.
type OutboxStatus struct {
	RecordId         int             `json:"record_id"`
	EventType        LedgerEventType `json:"event_type"`
	PublishStatus    string          `json:"publish_status"`
	PublishAttempts  int             `json:"publish_attempts"`
	NextAttemptAt    *time.Time      `json:"next_attempt_at"`
	LastPublishError *string         `json:"last_publish_error"`
	CreatedAt        time.Time       `json:"created_at"`
	PublishedAt      *time.Time      `json:"published_at"`
}

func GetOutboxStatus(ctx context.Context, eventType LedgerEventType) (*OutboxStatus, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var rec LedgerEventRecord
	if err := db.WithContext(ctx).
		Where("business_id = ? AND event_type = ?", businessId, eventType).
		Order("id DESC").
		First(&rec).Error; err != nil {
		return nil, err
	}

	return &OutboxStatus{
		RecordId:         rec.ID,
		EventType:        rec.EventType,
		PublishStatus:    rec.PublishStatus,
		PublishAttempts:  rec.PublishAttempts,
		NextAttemptAt:    rec.NextAttemptAt,
		LastPublishError: rec.LastPublishError,
		CreatedAt:        rec.CreatedAt,
		PublishedAt:      rec.PublishedAt,
	}, nil
}

// ReplayOutbox rearms FAILED/DEAD rows of the tenant for the dispatcher.
func ReplayOutbox(ctx context.Context, eventType *LedgerEventType) (int64, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return 0, errors.New("business id is required")
	}

	now := time.Now().UTC()
	db := config.GetDB()

	dbCtx := db.WithContext(ctx).
		Model(&LedgerEventRecord{}).
		Where("business_id = ? AND publish_status IN ?", businessId,
			[]string{OutboxPublishStatusFailed, OutboxPublishStatusDead})
	if eventType != nil && len(*eventType) > 0 {
		dbCtx = dbCtx.Where("event_type = ?", *eventType)
	}

	res := dbCtx.Updates(map[string]interface{}{
		"locked_at":          nil,
		"locked_by":          nil,
		"publish_status":     OutboxPublishStatusPending,
		"next_attempt_at":    &now,
		"last_publish_error": nil,
	})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
