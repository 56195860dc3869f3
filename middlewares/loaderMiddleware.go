package middlewares

import (
	"context"
	"reflect"
	"time"

	"bitbucket.org/mmdatafocus/distribution_backend/config"
	"bitbucket.org/mmdatafocus/distribution_backend/models"
	"github.com/gin-gonic/gin"
	"github.com/graph-gophers/dataloader/v7"
	"gorm.io/gorm"
)

type ctxKey string

const (
	loadersKey = ctxKey("dataloaders")
)

// Loaders batches the per-request lookups that list endpoints repeat
// per row: the driver behind a ledger line and its recent audit trail.
type Loaders struct {
	driverLoader      *dataloader.Loader[int, *models.Driver]
	recentAuditLoader *dataloader.Loader[RecentAuditKey, []*models.AuditRecord]
}

func NewLoaders(conn *gorm.DB) *Loaders {
	driverReader := &driverReader{db: conn}
	recentAuditReader := &recentAuditReader{}

	return &Loaders{
		driverLoader:      dataloader.NewBatchedLoader(driverReader.getDrivers, dataloader.WithWait[int, *models.Driver](time.Millisecond)),
		recentAuditLoader: dataloader.NewBatchedLoader(recentAuditReader.getRecentAudits, dataloader.WithWait[RecentAuditKey, []*models.AuditRecord](time.Millisecond)),
	}
}

func LoaderMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		loader := NewLoaders(config.GetDB())
		ctx := context.WithValue(c.Request.Context(), loadersKey, loader)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func For(ctx context.Context) *Loaders {
	return ctx.Value(loadersKey).(*Loaders)
}

// LoadersFrom is the non-panicking variant for code paths that also run
// outside a request, such as CLI entry points.
func LoadersFrom(ctx context.Context) (*Loaders, bool) {
	loaders, ok := ctx.Value(loadersKey).(*Loaders)
	return loaders, ok
}

// handleError fans one error out to every requested key.
func handleError[T any](itemsLength int, err error) []*dataloader.Result[T] {
	result := make([]*dataloader.Result[T], itemsLength)
	for i := 0; i < itemsLength; i++ {
		result[i] = &dataloader.Result[T]{Error: err}
	}
	return result
}

// generateLoaderResults aligns db rows with the requested ids; ids with
// no row resolve to the type's placeholder value.
func generateLoaderResults[T models.Data](results []T, ids []int) []*dataloader.Result[*T] {
	// generate resultMap from results
	resultMap := make(map[int]T)
	var resultZero T
	resultMap[0] = resultZero.GetDefault(0).(T)
	for _, result := range results {
		resultMap[result.GetId()] = result
	}

	loaderResults := make([]*dataloader.Result[*T], 0, len(ids))
	for _, id := range ids {
		data := resultMap[id]
		if reflect.ValueOf(data).IsZero() {
			data = data.GetDefault(id).(T)
		}
		loaderResults = append(loaderResults, &dataloader.Result[*T]{Data: &data})
	}
	return loaderResults
}

// generateLoaderArrayResults groups rows by reference id; ids with no
// rows resolve to an empty slice.
func generateLoaderArrayResults[T models.RelatedData](results []T, referenceIds []int) (loaderResults []*dataloader.Result[[]*T]) {
	resultMap := make(map[int][]*T)
	for _, result := range results {
		copy := result // not the loop variable's address
		resultMap[result.GetReferenceId()] = append(resultMap[result.GetReferenceId()], &copy)
	}
	for _, id := range referenceIds {
		resultArray := resultMap[id]
		loaderResults = append(loaderResults, &dataloader.Result[[]*T]{Data: resultArray})
	}
	return loaderResults
}
