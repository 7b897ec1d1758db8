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

// CustomerPayment is money received against a customer's outstanding balance.
type CustomerPayment struct {
	ID              int             `gorm:"primary_key" json:"id"`
	CustomerId      int             `gorm:"index;not null" json:"customer_id"`
	Amount          decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	PaymentDate     time.Time       `gorm:"not null" json:"payment_date"`
	PaymentMode     PaymentMode     `gorm:"size:20;not null" json:"payment_mode"`
	ReferenceNumber string          `gorm:"size:100" json:"reference_number"`
	Notes           string          `gorm:"type:text" json:"notes"`
	BalanceEntryId  *int            `gorm:"index" json:"balance_entry_id"`
	IsReversed      bool            `gorm:"not null;default:false" json:"is_reversed"`
	ReversedAt      *time.Time      `json:"reversed_at"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewCustomerPayment struct {
	CustomerId      int             `json:"customer_id" validate:"required,gt=0"`
	Amount          decimal.Decimal `json:"amount"`
	PaymentDate     *time.Time      `json:"payment_date"`
	PaymentMode     PaymentMode     `json:"payment_mode" validate:"required"`
	ReferenceNumber string          `json:"reference_number" validate:"max=100"`
	Notes           string          `json:"notes"`
}

func (input *NewCustomerPayment) validate() error {
	input.ReferenceNumber = strings.TrimSpace(input.ReferenceNumber)
	if err := utils.ValidateInput(input); err != nil {
		return err
	}
	if !input.Amount.IsPositive() {
		return utils.NewValidationError("amount", "must be greater than 0")
	}
	if !input.PaymentMode.IsValid() {
		return utils.NewValidationError("payment_mode", "must be one of Cash, Bank, UPI, Cheque")
	}
	return nil
}

// RecordCustomerPayment posts a credit (negative) payment entry against the customer.
func RecordCustomerPayment(ctx context.Context, input *NewCustomerPayment) (*CustomerPayment, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	if err := utils.ValidateResourceId[Customer](ctx, config.GetDB(), "customer", input.CustomerId); err != nil {
		return nil, err
	}

	release, err := utils.ObtainLedgerLocks(ctx, "CustomerPayment", "RecordCustomerPayment", utils.CustomerLockKey(input.CustomerId))
	if err != nil {
		return nil, err
	}
	defer release()

	paymentDate := time.Now().UTC()
	if input.PaymentDate != nil {
		paymentDate = input.PaymentDate.UTC()
	}

	payment := CustomerPayment{
		CustomerId:      input.CustomerId,
		Amount:          input.Amount,
		PaymentDate:     paymentDate,
		PaymentMode:     input.PaymentMode,
		ReferenceNumber: input.ReferenceNumber,
		Notes:           input.Notes,
	}
	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&payment).Error; err != nil {
			return err
		}
		entry, err := PostBalanceEntry(tx, &NewBalanceEntry{
			CustomerId:  input.CustomerId,
			Amount:      input.Amount.Neg(),
			Kind:        BalanceEntryKindPayment,
			PaymentId:   &payment.ID,
			EntryDate:   paymentDate,
			Description: fmt.Sprintf("Payment (%s) %s", input.PaymentMode, input.ReferenceNumber),
		})
		if err != nil {
			return err
		}
		payment.BalanceEntryId = &entry.ID
		if err := tx.Model(&CustomerPayment{}).Where("id = ?", payment.ID).
			Update("balance_entry_id", entry.ID).Error; err != nil {
			return err
		}
		description := fmt.Sprintf("Received payment of %s from customer %d", input.Amount.StringFixed(2), input.CustomerId)
		if err := createHistory(tx, HistoryActionCreate, payment.ID, ReferenceTypeCustomerPayment, nil, &payment, description); err != nil {
			return err
		}
		return PublishLedgerEvent(tx, payment.ID, ReferenceTypeCustomerPayment, LedgerEventActionCreate, &payment)
	})
	if err != nil {
		return nil, utils.ClassifyStorageError(err)
	}
	return &payment, nil
}

// DeleteCustomerPayment reverses the payment's entry; the payment row stays, marked reversed.
func DeleteCustomerPayment(ctx context.Context, id int) (*CustomerPayment, error) {
	current, err := GetResource[CustomerPayment](ctx, "customer payment", id)
	if err != nil {
		return nil, err
	}
	release, err := utils.ObtainLedgerLocks(ctx, "CustomerPayment", "DeleteCustomerPayment", utils.CustomerLockKey(current.CustomerId))
	if err != nil {
		return nil, err
	}
	defer release()

	var result *CustomerPayment
	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payment, err := lockResource[CustomerPayment](tx, "customer payment", id)
		if err != nil {
			return err
		}
		result = payment
		if payment.IsReversed {
			return nil
		}
		if _, err := ReverseBalanceEntriesForPayment(tx, id, "Payment deleted"); err != nil {
			return err
		}
		now := time.Now().UTC()
		if err := tx.Model(&CustomerPayment{}).Where("id = ?", id).Updates(map[string]interface{}{
			"is_reversed": true,
			"reversed_at": &now,
		}).Error; err != nil {
			return err
		}
		before := *payment
		payment.IsReversed = true
		payment.ReversedAt = &now
		if err := createHistory(tx, HistoryActionReverse, id, ReferenceTypeCustomerPayment, &before, payment, "Reversed customer payment"); err != nil {
			return err
		}
		return PublishLedgerEvent(tx, id, ReferenceTypeCustomerPayment, LedgerEventActionReverse, payment)
	})
	if err != nil {
		return nil, utils.ClassifyStorageError(err)
	}
	return result, nil
}

func ListCustomerPayments(ctx context.Context, customerId int, page Pagination) ([]*CustomerPayment, error) {
	db := config.GetDB()
	var results []*CustomerPayment

	query := db.WithContext(ctx).Model(&CustomerPayment{})
	if customerId > 0 {
		query = query.Where("customer_id = ?", customerId)
	}
	if err := page.apply(query).Order("id DESC").Find(&results).Error; err != nil {
		return nil, utils.ClassifyStorageError(err)
	}
	return results, nil
}
