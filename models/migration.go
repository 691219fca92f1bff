package models

import (
	"log"

	"bitbucket.org/mmdatafocus/vouchers_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Beneficiary{},
		&Voucher{},
		&StatusEvent{},
		&WebhookEvent{},
		&ReconciliationRecord{},
		&DistributionRun{},
		&IdempotencyKey{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
