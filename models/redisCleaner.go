package models

import (
	"bitbucket.org/mmdatafocus/distribution_backend/utils"
)

type RedisCleaner interface {
	RemoveInstanceRedis() error // remove one
	RemoveAllRedis() error      // remove list if exists
}

// remove both item & list
func RemoveRedisBoth[T RedisCleaner](obj T) error {
	if err := obj.RemoveInstanceRedis(); err != nil {
		return err
	}
	if err := obj.RemoveAllRedis(); err != nil {
		return err
	}
	return nil
}

func (obj Driver) RemoveInstanceRedis() error {
	return utils.RemoveRedisItem[Driver](obj.ID)
}

func (obj Driver) RemoveAllRedis() error {
	return utils.RemoveRedisList[Driver](obj.BusinessId)
}

func (obj DriverReceivable) RemoveInstanceRedis() error {
	return utils.RemoveRedisItem[DriverReceivable](obj.ID)
}

func (obj DriverReceivable) RemoveAllRedis() error {
	return utils.RemoveRedisList[DriverReceivable](obj.BusinessId)
}
