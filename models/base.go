package models

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/mmdatafocus/billing_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PublishLedgerEvent implements the transactional outbox:
// it writes the event record inside the caller's DB transaction but does NOT publish to Pub/Sub.
// Publishing is performed asynchronously by the outbox dispatcher after commit.
func PublishLedgerEvent(tx *gorm.DB, refId int, refType string, action LedgerEventAction, obj interface{}) error {
	payload, err := json.Marshal(obj)
	if err != nil {
		return err
	}

	record := LedgerEventRecord{
		ReferenceId:   refId,
		ReferenceType: refType,
		Action:        action,
		Payload:       payload,
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: correlationIdFromContextOrNew(tx.Statement.Context),
	}
	return tx.Create(&record).Error
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

// forUpdate adds SELECT ... FOR UPDATE; dialects without row locks ignore the clause.
func forUpdate(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}
