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

type Product struct {
	ID            int             `gorm:"primary_key" json:"id"`
	Name          string          `gorm:"size:255;not null;uniqueIndex" json:"name"`
	Sku           string          `gorm:"size:100;index" json:"sku"`
	Rate          decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"rate"`
	Mrp           decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"mrp"`
	GstPercentage decimal.Decimal `gorm:"type:decimal(7,4);not null;default:0" json:"gst_percentage"`
	BatchNumber   string          `gorm:"size:100" json:"batch_number"`
	ExpiryDate    *time.Time      `json:"expiry_date"`
	// cached sum of stock_movements.qty; written only by the stock ledger
	CurrentStockQty int       `gorm:"not null;default:0" json:"current_stock_qty"`
	IsActive        *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProduct struct {
	Name          string          `json:"name" validate:"required,max=255"`
	Sku           string          `json:"sku" validate:"max=100"`
	Rate          decimal.Decimal `json:"rate"`
	Mrp           decimal.Decimal `json:"mrp"`
	GstPercentage decimal.Decimal `json:"gst_percentage"`
	BatchNumber   string          `json:"batch_number" validate:"max=100"`
	ExpiryDate    *time.Time      `json:"expiry_date"`
	OpeningStock  int             `json:"opening_stock" validate:"gte=0"`
}

// UpdateProduct changes metadata and price only; stock moves through AdjustStock.
type UpdateProduct struct {
	Name          string          `json:"name" validate:"required,max=255"`
	Sku           string          `json:"sku" validate:"max=100"`
	Rate          decimal.Decimal `json:"rate"`
	Mrp           decimal.Decimal `json:"mrp"`
	GstPercentage decimal.Decimal `json:"gst_percentage"`
	BatchNumber   string          `json:"batch_number" validate:"max=100"`
	ExpiryDate    *time.Time      `json:"expiry_date"`
	IsActive      *bool           `json:"is_active"`
}

type ProductFilter struct {
	Name     string `form:"name"`
	IsActive *bool  `form:"is_active"`
	Pagination
}

func validateProductPricing(rate, mrp, gst decimal.Decimal) error {
	if rate.IsNegative() {
		return utils.NewValidationError("rate", "must not be negative")
	}
	if mrp.IsNegative() {
		return utils.NewValidationError("mrp", "must not be negative")
	}
	if !utils.IsPercentage(gst) {
		return utils.NewValidationError("gst_percentage", "must be between 0 and 100")
	}
	return nil
}

func (input *NewProduct) validate(ctx context.Context) error {
	input.Name = strings.TrimSpace(input.Name)
	if err := utils.ValidateInput(input); err != nil {
		return err
	}
	if err := validateProductPricing(input.Rate, input.Mrp, input.GstPercentage); err != nil {
		return err
	}
	return utils.ValidateUnique[Product](ctx, config.GetDB(), "name", input.Name, 0)
}

func CreateProduct(ctx context.Context, input *NewProduct) (*Product, error) {
	if err := input.validate(ctx); err != nil {
		return nil, err
	}

	product := Product{
		Name:          input.Name,
		Sku:           input.Sku,
		Rate:          input.Rate,
		Mrp:           input.Mrp,
		GstPercentage: input.GstPercentage,
		BatchNumber:   input.BatchNumber,
		ExpiryDate:    input.ExpiryDate,
		IsActive:      utils.NewTrue(),
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&product).Error; err != nil {
			return err
		}
		if input.OpeningStock > 0 {
			opening := &StockMovement{Qty: input.OpeningStock, Reason: StockMovementReasonManualIn, Description: "Opening stock"}
			if err := appendStockMovement(tx, &product, opening); err != nil {
				return err
			}
		}
		if err := createHistory(tx, HistoryActionCreate, product.ID, ReferenceTypeProduct, nil, &product, "Created Product "+product.Name); err != nil {
			return err
		}
		return PublishLedgerEvent(tx, product.ID, ReferenceTypeProduct, LedgerEventActionCreate, &product)
	})
	if err != nil {
		return nil, utils.ClassifyStorageError(err)
	}
	return &product, nil
}

func UpdateProductInfo(ctx context.Context, id int, input *UpdateProduct) (*Product, error) {
	input.Name = strings.TrimSpace(input.Name)
	if err := utils.ValidateInput(input); err != nil {
		return nil, err
	}
	if err := validateProductPricing(input.Rate, input.Mrp, input.GstPercentage); err != nil {
		return nil, err
	}
	db := config.GetDB()
	if err := utils.ValidateUnique[Product](ctx, db, "name", input.Name, id); err != nil {
		return nil, err
	}

	var result *Product
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		oldProduct, err := lockResource[Product](tx, "product", id)
		if err != nil {
			return err
		}
		updates := map[string]interface{}{
			"name":           input.Name,
			"sku":            input.Sku,
			"rate":           input.Rate,
			"mrp":            input.Mrp,
			"gst_percentage": input.GstPercentage,
			"batch_number":   input.BatchNumber,
			"expiry_date":    input.ExpiryDate,
		}
		if input.IsActive != nil {
			updates["is_active"] = *input.IsActive
		}
		if err := tx.Model(&Product{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}
		result, err = getResourceTx[Product](tx, "product", id)
		if err != nil {
			return err
		}
		return createHistory(tx, HistoryActionUpdate, id, ReferenceTypeProduct, oldProduct, result, "Updated Product "+result.Name)
	})
	if err != nil {
		return nil, utils.ClassifyStorageError(err)
	}
	return result, nil
}

func GetProduct(ctx context.Context, id int) (*Product, error) {
	return GetResource[Product](ctx, "product", id)
}

func ListProducts(ctx context.Context, filter ProductFilter) ([]*Product, error) {
	db := config.GetDB()
	var results []*Product

	query := db.WithContext(ctx).Model(&Product{})
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

// loadProducts returns the products keyed by id, failing with ValidationError on an unknown id.
func loadProducts(tx *gorm.DB, ids []int) (map[int]*Product, error) {
	ids = utils.SortedUniqueInts(ids)
	var products []*Product
	if err := tx.Where("id IN ?", ids).Order("id").Find(&products).Error; err != nil {
		return nil, err
	}
	byId := make(map[int]*Product, len(products))
	for _, p := range products {
		byId[p.ID] = p
	}
	for _, id := range ids {
		if _, ok := byId[id]; !ok {
			return nil, utils.NewValidationError("product_id", "product %d does not exist", id)
		}
	}
	return byId, nil
}

// lockProducts row-locks the products in ascending id order and returns them keyed by id.
func lockProducts(tx *gorm.DB, ids []int) (map[int]*Product, error) {
	byId := make(map[int]*Product, len(ids))
	for _, id := range utils.SortedUniqueInts(ids) {
		p, err := lockResource[Product](tx, "product", id)
		if err != nil {
			return nil, fmt.Errorf("lock product %d: %w", id, err)
		}
		byId[id] = p
	}
	return byId, nil
}
