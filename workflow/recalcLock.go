package workflow

import (
	"fmt"

	"gorm.io/gorm"
)

// AcquireRecalculationLock serializes ledger writes per business across
// instances using MySQL advisory locks. GET_LOCK is connection-scoped:
// the caller must hand in a handle pinned to one connection (a
// transaction or a db.Connection callback) and release on that same
// handle, or the release lands on a different pooled connection and the
// lock leaks.
func AcquireRecalculationLock(conn *gorm.DB, businessId string) error {
	lockName := fmt.Sprintf("ledger:%s", businessId)
	var ok int
	if err := conn.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire ledger lock for business_id=%s", businessId)
	}
	return nil
}

func ReleaseRecalculationLock(conn *gorm.DB, businessId string) {
	lockName := fmt.Sprintf("ledger:%s", businessId)
	var _ok int
	_ = conn.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}

// WithRecalculationLock runs fn while holding the per-business advisory
// lock. db.Connection checks one connection out of the pool for the
// whole callback, so acquire and release share a session and no
// concurrent caller can draw the lock-holder connection and re-enter.
// The writes inside fn may still run on other pooled connections;
// mutual exclusion comes from the lock staying held until fn returns.
// The returned error reports only lock acquisition or connection
// failures; fn's own error is the caller's to carry.
func WithRecalculationLock(db *gorm.DB, businessId string, fn func()) error {
	return db.Connection(func(lockConn *gorm.DB) error {
		if err := AcquireRecalculationLock(lockConn, businessId); err != nil {
			return err
		}
		defer ReleaseRecalculationLock(lockConn, businessId)
		fn()
		return nil
	})
}
