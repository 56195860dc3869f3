package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/distribution_backend/config"
	"bitbucket.org/mmdatafocus/distribution_backend/middlewares"
	"bitbucket.org/mmdatafocus/distribution_backend/models"
	"bitbucket.org/mmdatafocus/distribution_backend/models/reports"
	"bitbucket.org/mmdatafocus/distribution_backend/utils"
	"bitbucket.org/mmdatafocus/distribution_backend/workflow"
	"github.com/bsm/redislock"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
	"go.opentelemetry.io/otel"
)

const defaultPort = "8080"

var tracer = otel.Tracer("distribution-ledger")

const excelContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// bindingError answers a failed ShouldBindJSON with per-field tags when
// the failure came from struct validation, or a generic 400 otherwise.
func bindingError(c *gin.Context, err error) {
	var vErrs validator.ValidationErrors
	if errors.As(err, &vErrs) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": utils.ProcessValidationErrors(err)})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
}

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

type PubSubMessage struct {
	Message struct {
		Data []byte `json:"data,omitempty"`
		ID   string `json:"id"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func getRedisClient(redisAddress string) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddress,
	})
	return client
}

func salesFeedPubSubHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var msg PubSubMessage
		logger := config.GetLogger()

		// Redis lock is a best-effort optimization.
		// Reliability must not depend on Redis: ingestion is idempotent per message id.
		redisLock := config.GetRedisLock()

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			config.LogError(logger, "server.go", "salesFeedPubSubHandler", "io.ReadAll", nil, err)
			// Malformed request body: ack/drop to avoid infinite retries.
			c.Status(http.StatusNoContent)
			return
		}

		// byte slice unmarshalling handles base64 decoding.
		if err := json.Unmarshal(body, &msg); err != nil {
			config.LogError(logger, "server.go", "salesFeedPubSubHandler", "Unmarshal body", body, err)
			// Malformed request: ack/drop to avoid infinite retries.
			c.Status(http.StatusNoContent)
			return
		}

		var m workflow.SaleFeedMessage
		if err := json.Unmarshal(msg.Message.Data, &m); err != nil {
			config.LogError(logger, "server.go", "salesFeedPubSubHandler", "Unmarshal sale feed message", msg.Message.Data, err)
			// Malformed Pub/Sub payload: ack/drop to avoid infinite retries.
			c.Status(http.StatusNoContent)
			return
		}

		// Basic validation to avoid retry loops on poisoned messages.
		if m.BusinessId == "" || len(m.Events) == 0 {
			config.LogError(logger, "server.go", "salesFeedPubSubHandler", "Invalid sale feed message (missing required fields)", m, fmt.Errorf("business_id/events required"))
			c.Status(http.StatusNoContent)
			return
		}

		// A producer token pins the feed to one tenant. A mismatch is
		// permanent, so ack/drop instead of letting Pub/Sub retry.
		if claims := middlewares.FeedClaimsFromContext(c.Request.Context()); claims != nil && claims.BusinessId != m.BusinessId {
			config.LogError(logger, "server.go", "salesFeedPubSubHandler", "Feed token business mismatch", map[string]string{
				"token_business_id":   claims.BusinessId,
				"payload_business_id": m.BusinessId,
				"source":              claims.Source,
			}, fmt.Errorf("feed token not valid for business"))
			c.Status(http.StatusNoContent)
			return
		}

		// Correlation ID propagation: prefer payload correlation_id; fall back to Pub/Sub message ID.
		correlationID := m.CorrelationId
		if correlationID == "" {
			correlationID = msg.Message.ID
		}

		// Best-effort: try to obtain a lock for the businessID to avoid long in-request blocking.
		// If Redis is unavailable / lock cannot be obtained, continue anyway; the idempotency
		// table serializes duplicate deliveries safely.
		var lock *redislock.Lock
		if redisLock == nil {
			logger.WithFields(logrus.Fields{
				"field":       "salesFeedPubSubHandler",
				"business_id": m.BusinessId,
				"event_count": len(m.Events),
				"message_id":  msg.Message.ID,
			}).Warn("redis lock not ready; proceeding without redis lock")
		} else {
			lock, err = redisLock.Obtain(c.Request.Context(), fmt.Sprintf("lock:%s", m.BusinessId), 30*time.Second, nil)
			if err == redislock.ErrNotObtained {
				logger.WithFields(logrus.Fields{
					"field":       "salesFeedPubSubHandler",
					"business_id": m.BusinessId,
					"event_count": len(m.Events),
					"message_id":  msg.Message.ID,
				}).Warn("could not obtain redis lock; proceeding without redis lock")
				lock = nil
			} else if err != nil {
				logger.WithFields(logrus.Fields{
					"field":       "salesFeedPubSubHandler",
					"business_id": m.BusinessId,
					"event_count": len(m.Events),
					"message_id":  msg.Message.ID,
				}).Warn("error obtaining redis lock; proceeding without redis lock: " + err.Error())
				lock = nil
			}
		}
		defer func() {
			if lock == nil {
				return
			}
			if releaseErr := lock.Release(c.Request.Context()); releaseErr != nil {
				logger.WithFields(logrus.Fields{
					"field":       "salesFeedPubSubHandler",
					"business_id": m.BusinessId,
					"message_id":  msg.Message.ID,
				}).Warn("failed to release redis lock: " + releaseErr.Error())
			}
		}()

		// Process the message
		ctx := context.WithValue(c.Request.Context(), utils.ContextKeyBusinessId, m.BusinessId)
		ctx = context.WithValue(ctx, utils.ContextKeyUserId, 0)
		ctx = context.WithValue(ctx, utils.ContextKeyUserName, "System")
		ctx = utils.SetCorrelationIdInContext(ctx, correlationID)
		result, err := workflow.IngestSaleFeed(ctx, logger, m.BusinessId, msg.Message.ID, m.Events)
		if err != nil {
			if errors.Is(err, workflow.ErrIdempotencyInProgress) {
				// Another delivery of the same message is still running; let Pub/Sub retry later.
				c.Status(http.StatusConflict)
				return
			}
			logger.WithFields(logrus.Fields{
				"field":          "salesFeedPubSubHandler",
				"business_id":    m.BusinessId,
				"event_count":    len(m.Events),
				"message_id":     msg.Message.ID,
				"correlation_id": correlationID,
			}).Error("sale feed processing failed: " + err.Error())
			// Non-2xx tells Pub/Sub to retry (and potentially route to DLQ).
			c.Status(http.StatusInternalServerError)
			return
		}

		logger.WithFields(logrus.Fields{
			"field":          "salesFeedPubSubHandler",
			"business_id":    m.BusinessId,
			"message_id":     msg.Message.ID,
			"correlation_id": correlationID,
			"inserted":       result.Inserted,
			"duplicates":     result.Duplicates,
			"rejected":       result.Rejected,
		}).Info("sale feed ingested")

		// Success: ack.
		c.Status(http.StatusNoContent)
	}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func loginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
			return
		}
		info, err := models.Login(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		c.JSON(http.StatusOK, info)
	}
}

func logoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, err := models.Logout(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"logged_out": ok})
	}
}

func recalculateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, ok := utils.GetBusinessIdFromContext(c.Request.Context())
		if !ok || businessId == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		var input workflow.RecalculateInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date_from and date_to are required"})
			return
		}
		ctx, span := tracer.Start(c.Request.Context(), "ledger.recalculate")
		defer span.End()
		result, err := workflow.RecalculateLedgerRange(ctx, businessId, &input)
		if err != nil {
			if result != nil {
				// Partial failure: some (driver, date) cells were not committed.
				c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "result": result})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// parseDateParam accepts plain dates and full RFC3339 timestamps.
func parseDateParam(value string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, value)
}

func ledgerReportParams(c *gin.Context) (*int, time.Time, time.Time, error) {
	var driverId *int
	if v := c.Query("driver_id"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil || id <= 0 {
			return nil, time.Time{}, time.Time{}, errors.New("driver_id must be a positive integer")
		}
		driverId = &id
	}
	from, err := parseDateParam(c.Query("date_from"))
	if err != nil {
		return nil, time.Time{}, time.Time{}, errors.New("date_from is required (YYYY-MM-DD)")
	}
	to, err := parseDateParam(c.Query("date_to"))
	if err != nil {
		return nil, time.Time{}, time.Time{}, errors.New("date_to is required (YYYY-MM-DD)")
	}
	return driverId, from, to, nil
}

func ledgerReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		driverId, from, to, err := ledgerReportParams(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		report, err := reports.GetDriverLedgerReport(c.Request.Context(), driverId, from, to)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func writeExcel(c *gin.Context, f *excelize.File, filename string) {
	c.Header("Content-Type", excelContentType)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if err := f.Write(c.Writer); err != nil {
		logger := config.GetLogger()
		config.LogError(logger, "server.go", "writeExcel", filename, nil, err)
	}
}

func ledgerExportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		driverId, from, to, err := ledgerReportParams(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		report, err := reports.GetDriverLedgerReport(c.Request.Context(), driverId, from, to)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		f, err := reports.ExportLedgerExcel(report)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		filename := fmt.Sprintf("ledger-%s-%s.xlsx", from.Format("2006-01-02"), to.Format("2006-01-02"))
		writeExcel(c, f, filename)
	}
}

func snapshotCreateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, ok := utils.GetBusinessIdFromContext(c.Request.Context())
		if !ok || businessId == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		var input workflow.SnapshotInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "snapshot_type is required"})
			return
		}
		snapshot, err := workflow.CreateBaselineSnapshot(c.Request.Context(), businessId, &input)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, snapshot)
	}
}

func snapshotListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var snapshotType *models.SnapshotType
		if v := c.Query("snapshot_type"); v != "" {
			t := models.SnapshotType(v)
			snapshotType = &t
		}
		snapshots, err := models.GetBaselineSnapshots(c.Request.Context(), snapshotType)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, snapshots)
	}
}

func snapshotGetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a positive integer"})
			return
		}
		snapshot, err := models.GetBaselineSnapshot(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, snapshot)
	}
}

func validateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, ok := utils.GetBusinessIdFromContext(c.Request.Context())
		if !ok || businessId == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		var input workflow.ValidateInput
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&input); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
				return
			}
		}
		ctx, span := tracer.Start(c.Request.Context(), "ledger.validate")
		defer span.End()
		report, err := workflow.ValidateAgainstBaseline(ctx, businessId, &input)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func validationExportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, ok := utils.GetBusinessIdFromContext(c.Request.Context())
		if !ok || businessId == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		input := workflow.ValidateInput{
			OnlyDiscrepancies: strings.EqualFold(c.Query("only_discrepancies"), "true"),
		}
		report, err := workflow.ValidateAgainstBaseline(c.Request.Context(), businessId, &input)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		f, err := reports.ExportValidationExcel(report)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		filename := fmt.Sprintf("validation-%s.xlsx", time.Now().UTC().Format("2006-01-02"))
		writeExcel(c, f, filename)
	}
}

func driverCreateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewDriver
		if err := c.ShouldBindJSON(&input); err != nil {
			bindingError(c, err)
			return
		}
		driver, err := models.CreateDriver(c.Request.Context(), &input)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, driver)
	}
}

func driverUpdateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a positive integer"})
			return
		}
		var input models.NewDriver
		if err := c.ShouldBindJSON(&input); err != nil {
			bindingError(c, err)
			return
		}
		driver, err := models.UpdateDriver(c.Request.Context(), id, &input)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, driver)
	}
}

func driverListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var name *string
		if v := c.Query("name"); v != "" {
			name = &v
		}

		// Cursor pagination when the client asks for it; plain list otherwise.
		if limit, after, paged := pageParams(c); paged {
			conn, err := models.PaginateDriver(c.Request.Context(), limit, after, name)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, conn)
			return
		}

		var driverType *models.DriverType
		if v := c.Query("driver_type"); v != "" {
			t := models.DriverType(v)
			driverType = &t
		}
		drivers, err := models.GetDrivers(c.Request.Context(), name, driverType)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, drivers)
	}
}

// pageParams reads limit/after cursor-pagination query params.
func pageParams(c *gin.Context) (*int, *string, bool) {
	var limit *int
	var after *string
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = &n
		}
	}
	if v := c.Query("after"); v != "" {
		after = &v
	}
	return limit, after, limit != nil || after != nil
}

func driverGetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a positive integer"})
			return
		}
		driver, err := models.GetDriver(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, driver)
	}
}

func driverRecentAuditHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a positive integer"})
			return
		}
		since := time.Now().UTC().AddDate(0, 0, -30)
		if v := c.Query("since"); v != "" {
			t, err := parseDateParam(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "since must be a date (YYYY-MM-DD)"})
				return
			}
			since = t
		}

		ctx := c.Request.Context()
		driver, err := middlewares.GetDriver(ctx, id)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		trail, err := middlewares.GetRecentAuditTrail(ctx, id, since)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"driver":      driver,
			"since":       since.Format("2006-01-02"),
			"audit_trail": trail,
		})
	}
}

func driverDeleteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a positive integer"})
			return
		}
		driver, err := models.DeleteDriver(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, driver)
	}
}

type driverActiveRequest struct {
	IsActive *bool `json:"is_active" binding:"required"`
}

func driverToggleActiveHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a positive integer"})
			return
		}
		var req driverActiveRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.IsActive == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "is_active is required"})
			return
		}
		driver, err := models.ToggleActiveDriver(c.Request.Context(), id, *req.IsActive)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, driver)
	}
}

func onboardingHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, ok := utils.GetBusinessIdFromContext(c.Request.Context())
		if !ok || businessId == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		driverId, err := strconv.Atoi(c.Param("id"))
		if err != nil || driverId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a positive integer"})
			return
		}
		var input workflow.OnboardingInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date is required"})
			return
		}
		if err := workflow.RecordOnboardingBalance(c.Request.Context(), businessId, driverId, &input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"driver_id": driverId, "date": input.Date.Format("2006-01-02")})
	}
}

func receivableListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var driverId *int
		if v := c.Query("driver_id"); v != "" {
			id, err := strconv.Atoi(v)
			if err != nil || id <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "driver_id must be a positive integer"})
				return
			}
			driverId = &id
		}
		var rType *models.ReceivableType
		if v := c.Query("receivable_type"); v != "" {
			t := models.ReceivableType(v)
			rType = &t
		}
		receivables, err := models.GetDriverReceivables(c.Request.Context(), driverId, rType)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, receivables)
	}
}

func receivableGetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a positive integer"})
			return
		}
		receivable, err := models.GetDriverReceivable(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, receivable)
	}
}

func salesListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var driverId *int
		if v := c.Query("driver_id"); v != "" {
			id, err := strconv.Atoi(v)
			if err != nil || id <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "driver_id must be a positive integer"})
				return
			}
			driverId = &id
		}
		var from, to *time.Time
		if v := c.Query("from"); v != "" {
			t, err := parseDateParam(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "from must be a date (YYYY-MM-DD)"})
				return
			}
			from = &t
		}
		if v := c.Query("to"); v != "" {
			t, err := parseDateParam(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "to must be a date (YYYY-MM-DD)"})
				return
			}
			to = &t
		}
		sales, err := models.GetSaleEvents(c.Request.Context(), driverId, from, to)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, sales)
	}
}

func receivableUpdateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a positive integer"})
			return
		}
		var input models.UpdateReceivableInput
		if err := c.ShouldBindJSON(&input); err != nil {
			bindingError(c, err)
			return
		}
		receivable, err := models.UpdateDriverReceivable(c.Request.Context(), id, &input)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, receivable)
	}
}

func auditTrailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var driverId, referenceId, userId *int
		for _, q := range []struct {
			name string
			dst  **int
		}{
			{"driver_id", &driverId},
			{"reference_id", &referenceId},
			{"user_id", &userId},
		} {
			if v := c.Query(q.name); v != "" {
				id, err := strconv.Atoi(v)
				if err != nil {
					c.JSON(http.StatusBadRequest, gin.H{"error": q.name + " must be an integer"})
					return
				}
				*q.dst = &id
			}
		}
		var referenceType *string
		if v := c.Query("reference_type"); v != "" {
			referenceType = &v
		}

		if limit, after, paged := pageParams(c); paged {
			var actionType *string
			if v := c.Query("action_type"); v != "" {
				actionType = &v
			}
			conn, err := models.PaginateAuditRecords(c.Request.Context(), limit, after, driverId, referenceType, actionType)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, conn)
			return
		}

		var from, to *time.Time
		if v := c.Query("from"); v != "" {
			t, err := parseDateParam(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "from must be a date (YYYY-MM-DD)"})
				return
			}
			from = &t
		}
		if v := c.Query("to"); v != "" {
			t, err := parseDateParam(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "to must be a date (YYYY-MM-DD)"})
				return
			}
			to = &t
		}
		records, err := models.GetAuditRecords(c.Request.Context(), driverId, referenceType, referenceId, userId, from, to)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, records)
	}
}

func userCreateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := authorizeAdminOnly(c.Request.Context()); err != nil {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		var input models.NewUser
		if err := c.ShouldBindJSON(&input); err != nil {
			bindingError(c, err)
			return
		}
		// admins provision users for their own tenant
		if businessId, ok := utils.GetBusinessIdFromContext(c.Request.Context()); ok && input.BusinessId == "" {
			input.BusinessId = businessId
		}
		user, err := models.CreateUser(c.Request.Context(), &input)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, user)
	}
}

func userGetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a positive integer"})
			return
		}
		user, err := models.GetUser(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusOK, user)
	}
}

func changePasswordHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			OldPassword string `json:"old_password" binding:"required"`
			NewPassword string `json:"new_password" binding:"required,min=8"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			bindingError(c, err)
			return
		}
		user, err := models.ChangePassword(c.Request.Context(), req.OldPassword, req.NewPassword)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		user.PrepareGive()
		c.JSON(http.StatusOK, gin.H{"name": user.Name, "username": user.Username})
	}
}

// authorizeAdminOnly ensures the session user carries the admin role.
func authorizeAdminOnly(ctx context.Context) error {
	username, ok := utils.GetUsernameFromContext(ctx)
	if !ok || username == "" {
		return errors.New("unauthorized")
	}

	var user models.User
	exists, err := config.GetRedisObject("User:"+username, &user)
	if err != nil {
		return err
	}
	if !exists {
		db := config.GetDB()
		if db == nil {
			return errors.New("db is nil")
		}
		if err := db.WithContext(ctx).Model(&models.User{}).Where("username = ?", username).Take(&user).Error; err != nil {
			return errors.New("unauthorized")
		}
	}
	if user.Role != models.UserRoleAdmin {
		return errors.New("unauthorized")
	}
	return nil
}

type outboxReplayRequest struct {
	BusinessId string                 `json:"business_id"`
	RecordId   int                    `json:"record_id"`
	EventType  models.LedgerEventType `json:"event_type"`
}

func outboxReplayHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Require auth token (SessionMiddleware puts username in context).
		if _, ok := utils.GetUsernameFromContext(c.Request.Context()); !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if err := authorizeAdminOnly(c.Request.Context()); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req outboxReplayRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if req.BusinessId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "business_id is required"})
			return
		}

		// No record_id rearms every FAILED/DEAD row of the tenant,
		// optionally narrowed to one event type.
		if req.RecordId <= 0 {
			ctx := utils.SetBusinessIdInContext(c.Request.Context(), req.BusinessId)
			var eventType *models.LedgerEventType
			if req.EventType != "" {
				eventType = &req.EventType
			}
			replayed, err := models.ReplayOutbox(ctx, eventType)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{
				"business_id":    req.BusinessId,
				"replayed":       replayed,
				"publish_status": models.OutboxPublishStatusPending,
			})
			return
		}

		db := config.GetDB()
		if db == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "db is nil"})
			return
		}
		now := time.Now().UTC()
		if err := db.WithContext(c.Request.Context()).
			Model(&models.LedgerEventRecord{}).
			Where("id = ? AND business_id = ?", req.RecordId, req.BusinessId).
			Updates(map[string]interface{}{
				"publish_status":     models.OutboxPublishStatusFailed,
				"next_attempt_at":    &now,
				"locked_at":          nil,
				"locked_by":          nil,
				"last_publish_error": nil,
			}).Error; err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"business_id":     req.BusinessId,
			"record_id":       req.RecordId,
			"publish_status":  models.OutboxPublishStatusFailed,
			"next_attempt_at": now.Format(time.RFC3339Nano),
		})
	}
}

func outboxStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := authorizeAdminOnly(c.Request.Context()); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		eventType := models.LedgerEventType(c.Query("event_type"))
		if eventType == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "event_type is required"})
			return
		}
		status, err := models.GetOutboxStatus(c.Request.Context(), eventType)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func main() {
	port := os.Getenv("API_PORT_2")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Shutdown coordination.
	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready, we return 503 for app endpoints.
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(func(c *gin.Context) {
		// Always allow Cloud Run startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate critical endpoints on dependency readiness.
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production-safe CORS:
	// - In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	// - In non-production, allow all (developer convenience).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			// Safer default: deny all if not configured in production.
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition")
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))

	// Optional rate limiting (recommended for production).
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		client := getRedisClient(os.Getenv("REDIS_ADDRESS"))
		limit := int64(600)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				limit = n
			}
		}
		windowSec := int64(60)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				windowSec = n
			}
		}
		rateLimiter := NewRateLimiter(client, limit, time.Duration(windowSec)*time.Second)
		r.Use(rateLimiter.RateLimitMiddleware)
	}

	r.Use(middlewares.SessionMiddleware())
	r.Use(middlewares.LoaderMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	// Unauthenticated surface.
	r.POST("/login", loginHandler())
	// Pub/Sub push subscription for the upstream sales feed.
	r.POST("/feed/sales", middlewares.FeedAuthMiddleware(), salesFeedPubSubHandler())

	// Session-gated app surface.
	app := r.Group("/", middlewares.RequireSession())
	app.POST("/logout", logoutHandler())

	app.POST("/ledger/recalculate", recalculateHandler())
	app.GET("/ledger", ledgerReportHandler())
	app.GET("/ledger/export", ledgerExportHandler())

	app.POST("/baseline-snapshots", snapshotCreateHandler())
	app.GET("/baseline-snapshots", snapshotListHandler())
	app.GET("/baseline-snapshots/:id", snapshotGetHandler())
	app.POST("/baseline-snapshots/validate", validateHandler())
	app.GET("/validation/export", validationExportHandler())

	app.POST("/drivers", driverCreateHandler())
	app.GET("/drivers", driverListHandler())
	app.GET("/drivers/:id", driverGetHandler())
	app.PUT("/drivers/:id", driverUpdateHandler())
	app.DELETE("/drivers/:id", driverDeleteHandler())
	app.PUT("/drivers/:id/active", driverToggleActiveHandler())
	app.POST("/drivers/:id/onboarding", onboardingHandler())
	app.GET("/drivers/:id/audit-trail", driverRecentAuditHandler())

	app.GET("/receivables", receivableListHandler())
	app.GET("/receivables/:id", receivableGetHandler())
	app.PUT("/receivables/:id", receivableUpdateHandler())

	app.GET("/sales", salesListHandler())

	app.GET("/audit-trail", auditTrailHandler())

	app.POST("/users", userCreateHandler())
	app.GET("/users/:id", userGetHandler())
	app.PUT("/password", changePasswordHandler())

	// Ops tooling (admin only): replay outbox messages that were marked DEAD/FAILED.
	app.POST("/internal/ops/outbox/replay", outboxReplayHandler())
	app.GET("/internal/ops/outbox/status", outboxStatusHandler())

	r.NoRoute(customNotFoundHandler)

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	// Now DB is ready; run migrations.
	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// IMPORTANT: AutoMigrate can run DDL that blocks tables and causes 504/502 timeouts.
	// Allow disabling migrations on startup (run them as a separate job instead).
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Start outbox dispatcher (publishes AFTER commit).
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()
	go workflow.NewOutboxDispatcher(db, logger).Run(dispatcherCtx)

	// Set the session isolation level to READ COMMITTED
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on http://localhost:", port, "/")
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while we're draining.
	cancelDispatcher()

	// Drain HTTP requests.
	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Close Redis (best-effort).
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

// Initialize a new RateLimiter instance.
func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// Middleware function to check rate limits.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	// Get the IP address or user identifier from the request.
	key := c.ClientIP() // Assuming IP-based rate limiting

	// Check if the key exists in Redis.
	exists, err := rl.client.Exists(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the key doesn't exist, create it and set expiry.
	if exists == 0 {
		err := rl.client.Set(c.Request.Context(), key, 1, rl.window).Err()
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		c.Next()
		return
	}

	// If the key exists, get the current count.
	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the count exceeds the limit, return an error response.
	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
