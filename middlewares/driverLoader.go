package middlewares

import (
	"context"

	"bitbucket.org/mmdatafocus/distribution_backend/models"
	"github.com/graph-gophers/dataloader/v7"
	"gorm.io/gorm"
)

type driverReader struct {
	db *gorm.DB
}

func (r *driverReader) getDrivers(ctx context.Context, ids []int) []*dataloader.Result[*models.Driver] {
	var results []models.Driver
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&results).Error
	if err != nil {
		return handleError[*models.Driver](len(ids), err)
	}

	return generateLoaderResults(results, ids)
}

func GetDriver(ctx context.Context, id int) (*models.Driver, error) {
	loaders := For(ctx)
	return loaders.driverLoader.Load(ctx, id)()
}

func GetDrivers(ctx context.Context, ids []int) ([]*models.Driver, []error) {
	loaders := For(ctx)
	return loaders.driverLoader.LoadMany(ctx, ids)()
}
