package models

import (
	"log"

	"bitbucket.org/mmdatafocus/distribution_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Business{}, &User{},
		&Driver{}, &SaleEvent{},
		&DriverLedgerEntry{}, &DriverReceivable{},
		&BaselineSnapshot{}, &BaselineRecord{},
		&AuditRecord{},
		&LedgerEventRecord{},
		&IdempotencyKey{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
