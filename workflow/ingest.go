package workflow

import (
	"context"

	"bitbucket.org/mmdatafocus/distribution_backend/config"
	"bitbucket.org/mmdatafocus/distribution_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const saleFeedHandlerName = "SaleFeed"

// SaleFeedMessage is the decoded payload of one feed push: a batch of sale
// events for one tenant.
type SaleFeedMessage struct {
	BusinessId    string                 `json:"business_id"`
	Events        []*models.NewSaleEvent `json:"events"`
	CorrelationId string                 `json:"correlation_id"`
}

type IngestResult struct {
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Rejected   int `json:"rejected"`
}

// IngestSaleFeed stores one feed batch. The feed is at-least-once, so the
// whole message is guarded by an idempotency key and each event's source_ref
// is unique per tenant; redelivery of either level is a no-op. Individual
// malformed events are counted and dropped, never retried.
func IngestSaleFeed(ctx context.Context, logger *logrus.Logger, businessId, messageId string, events []*models.NewSaleEvent) (*IngestResult, error) {
	db := config.GetDB()
	result := &IngestResult{}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		skip, err := BeginIdempotency(tx, businessId, saleFeedHandlerName, messageId)
		if err != nil {
			return err
		}
		if skip {
			result.Duplicates = len(events)
			return nil
		}

		drivers := map[int]bool{}
		var known []*models.Driver
		if err := tx.Where("business_id = ?", businessId).Find(&known).Error; err != nil {
			return err
		}
		for _, d := range known {
			drivers[d.ID] = true
		}

		for _, event := range events {
			if event == nil || event.SourceRef == "" || !drivers[event.DriverId] ||
				(event.SaleType != models.SaleTypePackage && event.SaleType != models.SaleTypeRefill) {
				result.Rejected++
				if logger != nil {
					logger.WithFields(logrus.Fields{
						"field":       "IngestSaleFeed",
						"business_id": businessId,
						"message_id":  messageId,
					}).Warn("dropping malformed sale event")
				}
				continue
			}
			_, err := models.CreateSaleEvent(tx, businessId, event)
			if err != nil {
				if isDuplicateKeyErr(err) {
					result.Duplicates++
					continue
				}
				_ = MarkIdempotencyFailed(tx, businessId, saleFeedHandlerName, messageId, err)
				return err
			}
			result.Inserted++
		}
		return MarkIdempotencySucceeded(tx, businessId, saleFeedHandlerName, messageId)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
