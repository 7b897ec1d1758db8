package models

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mmdatafocus/billing_backend/config"
	"github.com/mmdatafocus/billing_backend/utils"
	"gorm.io/gorm"
)

// History is the append-only activity log; one row per mutating operation.
type History struct {
	ID            int       `gorm:"primary_key" json:"id"`
	ActionType    string    `gorm:"size:10;not null" json:"action_type"`
	Before        string    `gorm:"type:text" json:"before"`
	After         string    `gorm:"type:text" json:"after"`
	Description   string    `gorm:"type:text;not null" json:"description"`
	ReferenceID   int       `gorm:"index:idx_history_reference,priority:2" json:"reference_id"`
	ReferenceType string    `gorm:"size:64;index:idx_history_reference,priority:1" json:"reference_type"`
	UserId        int       `gorm:"index;not null" json:"user_id"`
	UserName      string    `gorm:"size:100" json:"user_name"`
	CorrelationId string    `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// createHistory appends inside the caller's transaction, taking the actor from tx's context.
func createHistory(tx *gorm.DB,
	actionType string,
	referenceId int,
	referenceType string,
	before interface{},
	after interface{},
	description string) error {

	var history History

	if before != nil {
		b, err := json.Marshal(before)
		if err != nil {
			return fmt.Errorf("history before snapshot of %s %d: %w", referenceType, referenceId, err)
		}
		history.Before = string(b)
	}
	if after != nil {
		a, err := json.Marshal(after)
		if err != nil {
			return fmt.Errorf("history after snapshot of %s %d: %w", referenceType, referenceId, err)
		}
		history.After = string(a)
	}

	ctx := tx.Statement.Context
	userId, userName := utils.GetActorFromContext(ctx)

	history.ActionType = actionType
	history.Description = description
	history.ReferenceID = referenceId
	history.ReferenceType = referenceType
	history.UserId = userId
	history.UserName = userName
	history.CorrelationId = correlationIdFromContextOrNew(ctx)

	return tx.Create(&history).Error
}

// ListHistory returns the activity of one record, newest first. referenceId 0 lists the whole table.
func ListHistory(ctx context.Context, referenceType string, referenceId int, limit int) ([]*History, error) {
	db := config.GetDB()
	var results []*History

	query := db.WithContext(ctx).Model(&History{})
	if referenceType != "" {
		query = query.Where("reference_type = ?", referenceType)
	}
	if referenceId > 0 {
		query = query.Where("reference_id = ?", referenceId)
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if err := query.Order("id DESC").Limit(limit).Find(&results).Error; err != nil {
		return nil, utils.ClassifyStorageError(err)
	}
	return results, nil
}
