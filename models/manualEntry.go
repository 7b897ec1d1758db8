package models

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmdatafocus/billing_backend/config"
	"github.com/mmdatafocus/billing_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ManualEntry is an operator-posted balance correction, typically a pre-system opening balance.
// It never touches stock and its balance entry is excluded from analytics.
type ManualEntry struct {
	ID             int             `gorm:"primary_key" json:"id"`
	CustomerId     int             `gorm:"index;not null" json:"customer_id"`
	Amount         decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	EntryDate      time.Time       `gorm:"not null" json:"entry_date"`
	Description    string          `gorm:"type:text;not null" json:"description"`
	Notes          string          `gorm:"type:text" json:"notes"`
	BalanceEntryId *int            `gorm:"index" json:"balance_entry_id"`
	IsReversed     bool            `gorm:"not null;default:false" json:"is_reversed"`
	ReversedAt     *time.Time      `json:"reversed_at"`
	UserId         int             `gorm:"index" json:"user_id"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewManualEntry struct {
	CustomerId  int             `json:"customer_id" validate:"required,gt=0"`
	Amount      decimal.Decimal `json:"amount"`
	EntryDate   *time.Time      `json:"entry_date"`
	Description string          `json:"description"`
	Notes       string          `json:"notes"`
}

func (input *NewManualEntry) validate() error {
	input.Description = strings.TrimSpace(input.Description)
	input.Notes = strings.TrimSpace(input.Notes)
	if err := utils.ValidateInput(input); err != nil {
		return err
	}
	if !input.Amount.IsPositive() {
		return utils.NewValidationError("amount", "must be greater than 0")
	}
	if input.Description == "" {
		return utils.NewValidationError("description", "is required")
	}
	return nil
}

// CreateManualEntry posts a manual-opening-balance entry flagged excluded from analytics.
func CreateManualEntry(ctx context.Context, input *NewManualEntry) (*BalanceEntry, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	ctx, span := startSpan(ctx, "models.CreateManualEntry")
	defer span.End()

	if err := utils.ValidateResourceId[Customer](ctx, config.GetDB(), "customer", input.CustomerId); err != nil {
		return nil, err
	}

	release, err := utils.ObtainLedgerLocks(ctx, "ManualEntry", "CreateManualEntry", utils.CustomerLockKey(input.CustomerId))
	if err != nil {
		return nil, err
	}
	defer release()

	entryDate := time.Now().UTC()
	if input.EntryDate != nil {
		entryDate = input.EntryDate.UTC()
	}
	userId, _ := utils.GetActorFromContext(ctx)

	var result *BalanceEntry
	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		manualEntry := ManualEntry{
			CustomerId:  input.CustomerId,
			Amount:      input.Amount,
			EntryDate:   entryDate,
			Description: input.Description,
			Notes:       input.Notes,
			UserId:      userId,
		}
		if err := tx.Create(&manualEntry).Error; err != nil {
			return err
		}
		entry, err := PostBalanceEntry(tx, &NewBalanceEntry{
			CustomerId:           input.CustomerId,
			Amount:               input.Amount,
			Kind:                 BalanceEntryKindManualOpeningBalance,
			ManualEntryId:        &manualEntry.ID,
			ExcludeFromAnalytics: true,
			EntryDate:            entryDate,
			Description:          input.Description,
		})
		if err != nil {
			return err
		}
		manualEntry.BalanceEntryId = &entry.ID
		if err := tx.Model(&ManualEntry{}).Where("id = ?", manualEntry.ID).
			Update("balance_entry_id", entry.ID).Error; err != nil {
			return err
		}

		description := fmt.Sprintf("Manual entry of %s for customer %d: %s", input.Amount.StringFixed(2), input.CustomerId, input.Description)
		if err := createHistory(tx, HistoryActionCreate, manualEntry.ID, ReferenceTypeManualEntry, nil, &manualEntry, description); err != nil {
			return err
		}
		if err := PublishLedgerEvent(tx, manualEntry.ID, ReferenceTypeManualEntry, LedgerEventActionCreate, entry); err != nil {
			return err
		}
		result = entry
		return nil
	})
	if err != nil {
		recordSpanError(span, err)
		return nil, utils.ClassifyStorageError(err)
	}
	return result, nil
}

// DeleteManualEntry reverses the entry's balance posting. Deleting twice is a no-op.
func DeleteManualEntry(ctx context.Context, id int) (*ManualEntry, error) {
	current, err := GetResource[ManualEntry](ctx, "manual entry", id)
	if err != nil {
		return nil, err
	}
	release, err := utils.ObtainLedgerLocks(ctx, "ManualEntry", "DeleteManualEntry", utils.CustomerLockKey(current.CustomerId))
	if err != nil {
		return nil, err
	}
	defer release()

	var result *ManualEntry
	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		manualEntry, err := lockResource[ManualEntry](tx, "manual entry", id)
		if err != nil {
			return err
		}
		result = manualEntry
		if manualEntry.IsReversed {
			return nil
		}
		if _, err := ReverseBalanceEntriesForManualEntry(tx, id, "Manual entry deleted"); err != nil {
			return err
		}
		now := time.Now().UTC()
		if err := tx.Model(&ManualEntry{}).Where("id = ?", id).Updates(map[string]interface{}{
			"is_reversed": true,
			"reversed_at": &now,
		}).Error; err != nil {
			return err
		}
		before := *manualEntry
		manualEntry.IsReversed = true
		manualEntry.ReversedAt = &now

		if err := createHistory(tx, HistoryActionReverse, id, ReferenceTypeManualEntry, &before, manualEntry, "Reversed manual entry: "+manualEntry.Description); err != nil {
			return err
		}
		return PublishLedgerEvent(tx, id, ReferenceTypeManualEntry, LedgerEventActionReverse, manualEntry)
	})
	if err != nil {
		return nil, utils.ClassifyStorageError(err)
	}
	return result, nil
}

func ListManualEntries(ctx context.Context, customerId int, page Pagination) ([]*ManualEntry, error) {
	db := config.GetDB()
	var results []*ManualEntry

	query := db.WithContext(ctx).Model(&ManualEntry{})
	if customerId > 0 {
		query = query.Where("customer_id = ?", customerId)
	}
	if err := page.apply(query).Order("id DESC").Find(&results).Error; err != nil {
		return nil, utils.ClassifyStorageError(err)
	}
	return results, nil
}
