package utils

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/distribution_backend/config"
)

// GetCacheLifespan reads CACHE_LIFESPAN (hours), defaulting to one hour.
func GetCacheLifespan() time.Duration {
	lifespan, err := strconv.Atoi(os.Getenv("CACHE_LIFESPAN"))
	if err != nil {
		lifespan = 1
	}
	return time.Duration(lifespan) * time.Hour
}

// GetTypeName yields the bare struct name of T; it forms the redis key
// prefix, so renaming a cached model invalidates its old keys.
func GetTypeName[T any]() string {
	var v T
	return reflect.TypeOf(v).Name()
}

// Models listed here expire with the cache lifespan. Everything else is
// pinned until explicitly removed.
func typeHasExpiration(typeName string) bool {
	expirableTypes := map[string]bool{
		"Driver":           true,
		"DriverReceivable": true,
	}
	return expirableTypes[typeName]
}

// StoreRedis caches one instance under Type:$id. obj should be a pointer.
func StoreRedis[T any](obj any, id int) error {
	typeName := GetTypeName[T]()
	key := typeName + ":" + fmt.Sprint(id)

	var duration time.Duration
	if typeHasExpiration(typeName) {
		duration = GetCacheLifespan()
	}
	return config.SetRedisObject(key, &obj, duration)
}

// RetrieveRedis loads an instance by id; a cache miss is (nil, nil).
func RetrieveRedis[T any](id int) (*T, error) {
	var result *T
	key := GetTypeName[T]() + ":" + fmt.Sprint(id)
	exists, err := config.GetRedisObject(key, &result)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	return result, nil
}

// RemoveRedisList drops a cached tenant list, TypeList:$business_id.
func RemoveRedisList[T any](businessId string) error {
	return config.RemoveRedisKey(GetTypeName[T]() + "List:" + businessId)
}

// RemoveRedisItem drops a cached instance, Type:$id.
func RemoveRedisItem[T any](id int) error {
	return config.RemoveRedisKey(GetTypeName[T]() + ":" + fmt.Sprint(id))
}
