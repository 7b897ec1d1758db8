package models

import (
	"log"

	"github.com/mmdatafocus/billing_backend/config"
)

func MigrateTable() {
	if err := AutoMigrate(); err != nil {
		log.Fatal(err)
	}
}

// AutoMigrate creates or updates every table owned by this service.
func AutoMigrate() error {
	db := config.GetDB()

	return db.AutoMigrate(
		&Product{}, &StockMovement{},
		&Customer{}, &BalanceEntry{}, &CustomerPayment{}, &ManualEntry{},
		&Invoice{}, &InvoiceLineItem{},
		&History{},
		&LedgerEventRecord{},
		&ReconciliationReport{},
	)
}
