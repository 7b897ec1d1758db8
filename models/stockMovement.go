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

// StockMovement is an append-only row of the product stock ledger.
// Rows are never deleted; the only update ever made is linking an original to its reversal.
type StockMovement struct {
	ID          int                 `gorm:"primary_key" json:"id"`
	ProductId   int                 `gorm:"index;not null" json:"product_id"`
	Qty         int                 `gorm:"not null" json:"qty"`
	Reason      StockMovementReason `gorm:"size:20;not null" json:"reason"`
	InvoiceId   *int                `gorm:"index" json:"invoice_id"`
	Description string              `gorm:"type:text" json:"description"`
	ClosingQty  int                 `gorm:"not null" json:"closing_qty"`
	// Reversal metadata.
	IsReversal           bool       `gorm:"not null;default:false;index" json:"is_reversal"`
	ReversesMovementId   *int       `gorm:"index" json:"reverses_movement_id"`
	ReversedByMovementId *int       `gorm:"index" json:"reversed_by_movement_id"`
	ReversalReason       *string    `gorm:"type:text" json:"reversal_reason"`
	ReversedAt           *time.Time `gorm:"index" json:"reversed_at"`
	UserId               int        `gorm:"index" json:"user_id"`
	CreatedAt            time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

type NewStockAdjustment struct {
	Quantity int                 `json:"quantity" validate:"gt=0"`
	Type     StockAdjustmentType `json:"type" validate:"required,oneof=in out"`
	Reason   string              `json:"reason" validate:"required"`
}

type StockMovementFilter struct {
	ProductId int  `form:"product_id"`
	InvoiceId *int `form:"invoice_id"`
	Pagination
}

// appendStockMovement writes one movement against an already locked product and moves its cached quantity.
// It never lets the cached quantity go below zero.
func appendStockMovement(tx *gorm.DB, product *Product, movement *StockMovement) error {
	if product.CurrentStockQty+movement.Qty < 0 {
		return &utils.InsufficientStockError{
			ProductId:   product.ID,
			ProductName: product.Name,
			Available:   product.CurrentStockQty,
			Requested:   -movement.Qty,
		}
	}
	userId, _ := utils.GetActorFromContext(tx.Statement.Context)

	movement.ProductId = product.ID
	movement.ClosingQty = product.CurrentStockQty + movement.Qty
	movement.UserId = userId
	if err := tx.Create(movement).Error; err != nil {
		return err
	}
	if err := tx.Model(&Product{}).Where("id = ?", product.ID).
		UpdateColumn("current_stock_qty", gorm.Expr("current_stock_qty + ?", movement.Qty)).Error; err != nil {
		return err
	}
	product.CurrentStockQty += movement.Qty
	return nil
}

// productLedgerQty sums the movements of a product. Summed in Go to stay exact on every dialect.
func productLedgerQty(tx *gorm.DB, productId int) (int, error) {
	var qtys []int
	if err := tx.Model(&StockMovement{}).Where("product_id = ?", productId).Pluck("qty", &qtys).Error; err != nil {
		return 0, err
	}
	total := 0
	for _, q := range qtys {
		total += q
	}
	return total, nil
}

// verifyProductStock fails with ConsistencyError when the cached quantity has drifted from the ledger.
// Divergence is logged for manual reconciliation and never overwritten here.
func verifyProductStock(tx *gorm.DB, product *Product) error {
	if !config.VerifyLedgerOnWrite() {
		return nil
	}
	ledgerQty, err := productLedgerQty(tx, product.ID)
	if err != nil {
		return err
	}
	if ledgerQty != product.CurrentStockQty {
		cerr := &utils.ConsistencyError{
			Entity: "product",
			ID:     product.ID,
			Cached: decimal.NewFromInt(int64(product.CurrentStockQty)),
			Ledger: decimal.NewFromInt(int64(ledgerQty)),
		}
		config.LogError(config.GetLogger(), "StockLedger", "verifyProductStock", "stock cache diverged from ledger", product.ID, cerr)
		return cerr
	}
	return nil
}

// ReserveAndDeductStock locks the product row, checks availability and appends a -quantity movement.
// It must run inside the caller's transaction so a later failure rolls the deduction back.
func ReserveAndDeductStock(tx *gorm.DB, productId int, quantity int, reason StockMovementReason, invoiceId *int) (*StockMovement, error) {
	if quantity <= 0 {
		return nil, utils.NewValidationError("quantity", "must be greater than 0")
	}
	product, err := lockResource[Product](tx, "product", productId)
	if err != nil {
		return nil, err
	}
	if err := verifyProductStock(tx, product); err != nil {
		return nil, err
	}
	movement := &StockMovement{
		Qty:         -quantity,
		Reason:      reason,
		InvoiceId:   invoiceId,
		Description: fmt.Sprintf("%s of %d x %s", reason, quantity, product.Name),
	}
	if err := appendStockMovement(tx, product, movement); err != nil {
		return nil, err
	}
	return movement, nil
}

// ReverseStockMovements appends one compensating movement per un-reversed original tied to the invoice.
// Reversing an already reversed invoice finds no originals and is a no-op.
func ReverseStockMovements(tx *gorm.DB, invoiceId int, reason string) ([]*StockMovement, error) {
	var originals []*StockMovement
	if err := tx.
		Where("invoice_id = ? AND is_reversal = ? AND reversed_by_movement_id IS NULL", invoiceId, false).
		Order("product_id, id").
		Find(&originals).Error; err != nil {
		return nil, err
	}
	if len(originals) == 0 {
		return []*StockMovement{}, nil
	}

	productIds := make([]int, 0, len(originals))
	for _, o := range originals {
		productIds = append(productIds, o.ProductId)
	}
	products, err := lockProducts(tx, productIds)
	if err != nil {
		return nil, err
	}
	for _, id := range utils.SortedUniqueInts(productIds) {
		if err := verifyProductStock(tx, products[id]); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	reasonCopy := reason
	reversals := make([]*StockMovement, 0, len(originals))
	for _, o := range originals {
		originalId := o.ID
		rev := &StockMovement{
			Qty:                -o.Qty,
			Reason:             StockMovementReasonReversal,
			InvoiceId:          o.InvoiceId,
			Description:        "REV: " + o.Description,
			IsReversal:         true,
			ReversesMovementId: &originalId,
			ReversalReason:     &reasonCopy,
		}
		if err := appendStockMovement(tx, products[o.ProductId], rev); err != nil {
			return nil, err
		}

		// Mark original reversed (metadata-only update).
		if err := tx.Model(&StockMovement{}).
			Where("id = ?", o.ID).
			Updates(map[string]interface{}{
				"reversed_by_movement_id": rev.ID,
				"reversal_reason":         &reasonCopy,
				"reversed_at":             &now,
			}).Error; err != nil {
			return nil, err
		}
		reversals = append(reversals, rev)
	}
	return reversals, nil
}

// AdjustStock posts a manual-in or manual-out movement in its own transaction.
func AdjustStock(ctx context.Context, productId int, input *NewStockAdjustment) (*Product, error) {
	input.Reason = strings.TrimSpace(input.Reason)
	if err := utils.ValidateInput(input); err != nil {
		return nil, err
	}
	ctx, span := startSpan(ctx, "models.AdjustStock")
	defer span.End()

	release, err := utils.ObtainLedgerLocks(ctx, "StockLedger", "AdjustStock", utils.ProductLockKey(productId))
	if err != nil {
		return nil, err
	}
	defer release()

	var result *Product
	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		product, err := lockResource[Product](tx, "product", productId)
		if err != nil {
			return err
		}
		if err := verifyProductStock(tx, product); err != nil {
			return err
		}
		before := *product

		qty := input.Quantity
		reason := StockMovementReasonManualIn
		if input.Type == StockAdjustmentTypeOut {
			qty = -qty
			reason = StockMovementReasonManualOut
		}
		movement := &StockMovement{Qty: qty, Reason: reason, Description: input.Reason}
		if err := appendStockMovement(tx, product, movement); err != nil {
			return err
		}
		description := fmt.Sprintf("Adjusted stock of %s by %d (%s)", product.Name, qty, input.Reason)
		if err := createHistory(tx, HistoryActionAdjust, product.ID, ReferenceTypeProduct, &before, product, description); err != nil {
			return err
		}
		if err := PublishLedgerEvent(tx, product.ID, ReferenceTypeProduct, LedgerEventActionAdjust, movement); err != nil {
			return err
		}
		result = product
		return nil
	})
	if err != nil {
		recordSpanError(span, err)
		return nil, utils.ClassifyStorageError(err)
	}
	return result, nil
}

func ListStockMovements(ctx context.Context, filter StockMovementFilter) ([]*StockMovement, error) {
	db := config.GetDB()
	var results []*StockMovement

	query := db.WithContext(ctx).Model(&StockMovement{})
	if filter.ProductId > 0 {
		query = query.Where("product_id = ?", filter.ProductId)
	}
	if filter.InvoiceId != nil {
		query = query.Where("invoice_id = ?", *filter.InvoiceId)
	}
	if err := filter.Pagination.apply(query).Order("id").Find(&results).Error; err != nil {
		return nil, utils.ClassifyStorageError(err)
	}
	return results, nil
}
