package models

import (
	"context"
	"strings"
	"time"

	"github.com/mmdatafocus/billing_backend/config"
	"github.com/mmdatafocus/billing_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Customer struct {
	ID          int         `gorm:"primary_key" json:"id"`
	Name        string      `gorm:"size:255;not null;uniqueIndex" json:"name"`
	Phone       string      `gorm:"size:20" json:"phone"`
	Email       string      `gorm:"size:100" json:"email"`
	Address     string      `gorm:"type:text" json:"address"`
	PaymentType PaymentType `gorm:"size:20;not null;default:'Cash'" json:"payment_type"`
	// cached sum of balance_entries.amount; positive means the customer owes the firm
	OutstandingBalance decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"outstanding_balance"`
	IsActive           *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt          time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewCustomer struct {
	Name        string      `json:"name" validate:"required,max=255"`
	Phone       string      `json:"phone"`
	Email       string      `json:"email" validate:"omitempty,email"`
	Address     string      `json:"address"`
	PaymentType PaymentType `json:"payment_type"`
}

type CustomerFilter struct {
	Name     string `form:"name"`
	IsActive *bool  `form:"is_active"`
	Pagination
}

func (input *NewCustomer) validate(ctx context.Context, exceptId int) error {
	input.Name = strings.TrimSpace(input.Name)
	input.Phone = strings.TrimSpace(input.Phone)
	if err := utils.ValidateInput(input); err != nil {
		return err
	}
	if input.PaymentType == "" {
		input.PaymentType = PaymentTypeCash
	}
	if !input.PaymentType.IsValid() {
		return utils.NewValidationError("payment_type", "must be Cash or Credit")
	}
	if input.Phone != "" {
		normalized, err := utils.NormalizePhoneNumber(input.Phone, config.DefaultPhoneRegion())
		if err != nil {
			return utils.NewValidationError("phone", "%s is not a valid phone number", input.Phone)
		}
		input.Phone = normalized
	}
	return utils.ValidateUnique[Customer](ctx, config.GetDB(), "name", input.Name, exceptId)
}

func CreateCustomer(ctx context.Context, input *NewCustomer) (*Customer, error) {
	if err := input.validate(ctx, 0); err != nil {
		return nil, err
	}

	customer := Customer{
		Name:               input.Name,
		Phone:              input.Phone,
		Email:              input.Email,
		Address:            input.Address,
		PaymentType:        input.PaymentType,
		OutstandingBalance: decimal.Zero,
		IsActive:           utils.NewTrue(),
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&customer).Error; err != nil {
			return err
		}
		return createHistory(tx, HistoryActionCreate, customer.ID, ReferenceTypeCustomer, nil, &customer, "Created Customer "+customer.Name)
	})
	if err != nil {
		return nil, utils.ClassifyStorageError(err)
	}
	return &customer, nil
}

// UpdateCustomer never touches OutstandingBalance; that moves only through balance postings.
func UpdateCustomer(ctx context.Context, id int, input *NewCustomer) (*Customer, error) {
	if err := input.validate(ctx, id); err != nil {
		return nil, err
	}

	var result *Customer
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		oldCustomer, err := lockResource[Customer](tx, "customer", id)
		if err != nil {
			return err
		}
		if err := tx.Model(&Customer{}).Where("id = ?", id).Updates(map[string]interface{}{
			"name":         input.Name,
			"phone":        input.Phone,
			"email":        input.Email,
			"address":      input.Address,
			"payment_type": input.PaymentType,
		}).Error; err != nil {
			return err
		}
		result, err = getResourceTx[Customer](tx, "customer", id)
		if err != nil {
			return err
		}
		return createHistory(tx, HistoryActionUpdate, id, ReferenceTypeCustomer, oldCustomer, result, "Updated Customer "+result.Name)
	})
	if err != nil {
		return nil, utils.ClassifyStorageError(err)
	}
	return result, nil
}

func ToggleActiveCustomer(ctx context.Context, id int, isActive bool) (*Customer, error) {
	var result *Customer
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		customer, err := lockResource[Customer](tx, "customer", id)
		if err != nil {
			return err
		}
		if err := tx.Model(&Customer{}).Where("id = ?", id).Update("is_active", isActive).Error; err != nil {
			return err
		}
		before := *customer
		customer.IsActive = &isActive
		result = customer

		description := "Deactivated Customer " + customer.Name
		if isActive {
			description = "Activated Customer " + customer.Name
		}
		return createHistory(tx, HistoryActionUpdate, id, ReferenceTypeCustomer, &before, customer, description)
	})
	if err != nil {
		return nil, utils.ClassifyStorageError(err)
	}
	return result, nil
}

func GetCustomer(ctx context.Context, id int) (*Customer, error) {
	return GetResource[Customer](ctx, "customer", id)
}

func ListCustomers(ctx context.Context, filter CustomerFilter) ([]*Customer, error) {
	db := config.GetDB()
	var results []*Customer

	query := db.WithContext(ctx).Model(&Customer{})
	if filter.Name != "" {
		query = query.Where("name LIKE ?", "%"+filter.Name+"%")
	}
	if filter.IsActive != nil {
		query = query.Where("is_active = ?", *filter.IsActive)
	}
	if err := filter.Pagination.apply(query).Order("name").Find(&results).Error; err != nil {
		return nil, utils.ClassifyStorageError(err)
	}
	return results, nil
}
