package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/billing_backend/config"
	"github.com/mmdatafocus/billing_backend/utils"
)

// LedgerEventRecord is the outbox row written in the same transaction as the ledger mutation it describes.
type LedgerEventRecord struct {
	ID            int               `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	ReferenceId   int               `gorm:"index" json:"reference_id"`
	ReferenceType string            `gorm:"size:64;index" json:"reference_type"`
	Action        LedgerEventAction `gorm:"size:20;not null" json:"action"`
	Payload       []byte            `gorm:"type:blob" json:"payload"`
	// publish happens after commit via dispatcher
	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	CorrelationId    string     `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func ConvertToLedgerEventMessage(record LedgerEventRecord) config.LedgerEventMessage {
	return config.LedgerEventMessage{
		ID:            record.ID,
		ReferenceType: record.ReferenceType,
		ReferenceId:   record.ReferenceId,
		Action:        string(record.Action),
		Payload:       record.Payload,
		CorrelationId: record.CorrelationId,
		OccurredAt:    record.CreatedAt,
	}
}

// ListLedgerEvents returns outbox rows for one reference, oldest first.
func ListLedgerEvents(ctx context.Context, referenceType string, referenceId int) ([]*LedgerEventRecord, error) {
	db := config.GetDB()
	var results []*LedgerEventRecord
	if err := db.WithContext(ctx).
		Where("reference_type = ? AND reference_id = ?", referenceType, referenceId).
		Order("id").
		Find(&results).Error; err != nil {
		return nil, utils.ClassifyStorageError(err)
	}
	return results, nil
}

// RequeueLedgerEvent puts a FAILED or DEAD event back in front of the dispatcher.
func RequeueLedgerEvent(ctx context.Context, id int) (*LedgerEventRecord, error) {
	db := config.GetDB()
	record, err := GetResource[LedgerEventRecord](ctx, "ledger event", id)
	if err != nil {
		return nil, err
	}
	if record.PublishStatus != OutboxPublishStatusFailed && record.PublishStatus != OutboxPublishStatusDead {
		return nil, utils.NewValidationError("publish_status", "only FAILED or DEAD events can be requeued, event %d is %s", id, record.PublishStatus)
	}
	now := time.Now().UTC()
	if err := db.WithContext(ctx).Model(&LedgerEventRecord{}).Where("id = ?", id).Updates(map[string]interface{}{
		"publish_status":     OutboxPublishStatusFailed,
		"publish_attempts":   0,
		"next_attempt_at":    &now,
		"locked_at":          nil,
		"locked_by":          nil,
		"last_publish_error": nil,
	}).Error; err != nil {
		return nil, utils.ClassifyStorageError(err)
	}
	return GetResource[LedgerEventRecord](ctx, "ledger event", id)
}
