package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mmdatafocus/billing_backend/config"
	"github.com/mmdatafocus/billing_backend/utils"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

type Invoice struct {
	ID            int           `gorm:"primary_key" json:"id"`
	InvoiceNumber string        `gorm:"size:50;not null;uniqueIndex" json:"invoice_number"`
	SequenceNo    int64         `gorm:"not null;uniqueIndex" json:"sequence_no"`
	CustomerId    int           `gorm:"index;not null" json:"customer_id"`
	CustomerName  string        `gorm:"size:255" json:"customer_name"`
	PaymentType   PaymentType   `gorm:"size:20;not null" json:"payment_type"`
	Status        InvoiceStatus `gorm:"size:20;not null;index" json:"status"`
	InvoiceDate   time.Time     `gorm:"not null;index" json:"invoice_date"`
	Notes         string        `gorm:"type:text" json:"notes"`
	// totals snapshot, never recomputed after creation
	SubTotal       decimal.Decimal   `gorm:"type:decimal(20,4);not null" json:"sub_total"`
	TotalDiscount  decimal.Decimal   `gorm:"type:decimal(20,4);not null" json:"total_discount"`
	TotalGst       decimal.Decimal   `gorm:"type:decimal(20,4);not null" json:"total_gst"`
	NetTotal       decimal.Decimal   `gorm:"type:decimal(20,4);not null" json:"net_total"`
	BalanceEntryId *int              `gorm:"index" json:"balance_entry_id"`
	CancelledAt    *time.Time        `json:"cancelled_at"`
	CancelReason   string            `gorm:"type:text" json:"cancel_reason"`
	Details        []InvoiceLineItem `gorm:"foreignKey:InvoiceId" json:"details"`
	CreatedAt      time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt      gorm.DeletedAt    `gorm:"index" json:"deleted_at,omitempty"`
}

type InvoiceLineItem struct {
	ID              int             `gorm:"primary_key" json:"id"`
	InvoiceId       int             `gorm:"index;not null" json:"invoice_id"`
	ProductId       int             `gorm:"index;not null" json:"product_id"`
	ProductName     string          `gorm:"size:255" json:"product_name"`
	BatchNumber     string          `gorm:"size:100" json:"batch_number"`
	QuantitySold    int             `gorm:"not null" json:"quantity_sold"`
	FreeQuantity    int             `gorm:"not null;default:0" json:"free_quantity"`
	RatePerUnit     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"rate_per_unit"`
	SchemeDiscount  decimal.Decimal `gorm:"type:decimal(7,4);not null;default:0" json:"scheme_discount"`
	GstPercentage   decimal.Decimal `gorm:"type:decimal(7,4);not null;default:0" json:"gst_percentage"`
	DiscountAmount  decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"discount_amount"`
	TaxableValue    decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"taxable_value"`
	GstAmount       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"gst_amount"`
	LineTotal       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"line_total"`
	StockMovementId *int            `gorm:"index" json:"stock_movement_id"`
}

type NewInvoice struct {
	CustomerId int `json:"customer_id" validate:"required,gt=0"`
	// empty takes the customer's default
	PaymentType PaymentType `json:"payment_type"`
	// empty creates a Draft
	Status      InvoiceStatus    `json:"status"`
	InvoiceDate *time.Time       `json:"invoice_date"`
	Notes       string           `json:"notes"`
	Items       []NewInvoiceLine `json:"items" validate:"required,min=1"`
}

type InvoiceFilter struct {
	CustomerId     int           `form:"customer_id"`
	Status         InvoiceStatus `form:"status"`
	FromDate       *time.Time    `form:"from_date" time_format:"2006-01-02"`
	ToDate         *time.Time    `form:"to_date" time_format:"2006-01-02"`
	IncludeDeleted bool          `form:"include_deleted"`
	Pagination
}

// InvoiceLedgerEffects is everything the ledgers hold for one invoice, reversals included.
type InvoiceLedgerEffects struct {
	Invoice        *Invoice         `json:"invoice"`
	StockMovements []*StockMovement `json:"stock_movements"`
	BalanceEntries []*BalanceEntry  `json:"balance_entries"`
	NetStockQty    map[int]int      `json:"net_stock_qty"`
	NetBalance     decimal.Decimal  `json:"net_balance"`
}

func (input *NewInvoice) validate(customer *Customer) error {
	input.Notes = strings.TrimSpace(input.Notes)
	if err := utils.ValidateInput(input); err != nil {
		return err
	}
	if input.PaymentType == "" {
		input.PaymentType = customer.PaymentType
	}
	if !input.PaymentType.IsValid() {
		return utils.NewValidationError("payment_type", "must be Cash or Credit")
	}
	if input.Status == "" {
		input.Status = InvoiceStatusDraft
	}
	if input.Status != InvoiceStatusDraft && input.Status != InvoiceStatusPrinted {
		return utils.NewValidationError("status", "an invoice is created as Draft or Printed")
	}
	return nil
}

func (input *NewInvoice) productIds() []int {
	ids := make([]int, 0, len(input.Items))
	for _, item := range input.Items {
		ids = append(ids, item.ProductId)
	}
	return ids
}

func invoiceLockKeys(productIds []int, customerId int, withCustomer bool) []string {
	keys := make([]string, 0, len(productIds)+1)
	for _, id := range utils.SortedUniqueInts(productIds) {
		keys = append(keys, utils.ProductLockKey(id))
	}
	if withCustomer {
		keys = append(keys, utils.CustomerLockKey(customerId))
	}
	return keys
}

// nextInvoiceSequence locks the newest invoice row (deleted ones included) and returns the following number.
func nextInvoiceSequence(tx *gorm.DB) (int64, error) {
	var last Invoice
	if err := forUpdate(tx.Unscoped()).
		Order("sequence_no DESC").
		Limit(1).
		Find(&last).Error; err != nil {
		return 0, err
	}
	return last.SequenceNo + 1, nil
}

func formatInvoiceNumber(seq int64) string {
	return fmt.Sprintf("%s%06d", config.InvoiceNumberPrefix(), seq)
}

// CreateInvoice prices the lines, deducts stock per line and posts the credit debit as one unit of work.
// Any failure rolls everything back: no movement, entry or invoice survives a failed attempt.
func CreateInvoice(ctx context.Context, input *NewInvoice) (*Invoice, error) {
	ctx, span := startSpan(ctx, "models.CreateInvoice")
	defer span.End()

	if err := utils.ValidateInput(input); err != nil {
		return nil, err
	}
	customer, err := GetCustomer(ctx, input.CustomerId)
	if err != nil {
		return nil, err
	}
	if err := input.validate(customer); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("customer_id", customer.ID), attribute.Int("lines", len(input.Items)))

	isCredit := input.PaymentType == PaymentTypeCredit
	release, err := utils.ObtainLedgerLocks(ctx, "InvoiceEngine", "CreateInvoice",
		invoiceLockKeys(input.productIds(), customer.ID, isCredit)...)
	if err != nil {
		return nil, err
	}
	defer release()

	invoiceDate := time.Now().UTC()
	if input.InvoiceDate != nil {
		invoiceDate = input.InvoiceDate.UTC()
	}

	var invoice Invoice
	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		customer, err := getResourceTx[Customer](tx, "customer", input.CustomerId)
		if err != nil {
			return err
		}
		if !utils.DereferencePtr(customer.IsActive, true) {
			return utils.NewValidationError("customer_id", "customer %s is inactive", customer.Name)
		}
		// invoice row before product rows, the same order cancel and delete lock in
		seq, err := nextInvoiceSequence(tx)
		if err != nil {
			return err
		}
		// unknown products are a validation failure, not a missing resource
		if _, err := loadProducts(tx, input.productIds()); err != nil {
			return err
		}
		products, err := lockProducts(tx, input.productIds())
		if err != nil {
			return err
		}
		totals, err := ComputeInvoiceTotals(input.Items, products)
		if err != nil {
			return err
		}

		invoice = Invoice{
			InvoiceNumber: formatInvoiceNumber(seq),
			SequenceNo:    seq,
			CustomerId:    customer.ID,
			CustomerName:  customer.Name,
			PaymentType:   input.PaymentType,
			Status:        input.Status,
			InvoiceDate:   invoiceDate,
			Notes:         input.Notes,
			SubTotal:      totals.SubTotal,
			TotalDiscount: totals.TotalDiscount,
			TotalGst:      totals.TotalGst,
			NetTotal:      totals.NetTotal,
		}
		for _, line := range totals.Lines {
			invoice.Details = append(invoice.Details, InvoiceLineItem{
				ProductId:      line.ProductId,
				ProductName:    line.ProductName,
				BatchNumber:    line.BatchNumber,
				QuantitySold:   line.QuantitySold,
				FreeQuantity:   line.FreeQuantity,
				RatePerUnit:    line.RatePerUnit,
				SchemeDiscount: line.SchemeDiscount,
				GstPercentage:  line.GstPercentage,
				DiscountAmount: line.DiscountAmount,
				TaxableValue:   line.TaxableValue,
				GstAmount:      line.GstAmount,
				LineTotal:      line.LineTotal,
			})
		}
		if err := tx.Create(&invoice).Error; err != nil {
			return err
		}

		// free quantity leaves the shelf too, so the whole quantity sold is deducted
		for i := range invoice.Details {
			line := &invoice.Details[i]
			movement, err := ReserveAndDeductStock(tx, line.ProductId, line.QuantitySold, StockMovementReasonSale, &invoice.ID)
			if err != nil {
				return err
			}
			line.StockMovementId = &movement.ID
			if err := tx.Model(&InvoiceLineItem{}).Where("id = ?", line.ID).
				Update("stock_movement_id", movement.ID).Error; err != nil {
				return err
			}
		}

		if isCredit && invoice.NetTotal.IsPositive() {
			entry, err := PostBalanceEntry(tx, &NewBalanceEntry{
				CustomerId:  customer.ID,
				Amount:      invoice.NetTotal,
				Kind:        BalanceEntryKindInvoice,
				InvoiceId:   &invoice.ID,
				EntryDate:   invoiceDate,
				Description: "Invoice " + invoice.InvoiceNumber,
			})
			if err != nil {
				return err
			}
			invoice.BalanceEntryId = &entry.ID
			if err := tx.Model(&Invoice{}).Where("id = ?", invoice.ID).
				Update("balance_entry_id", entry.ID).Error; err != nil {
				return err
			}
		}

		description := fmt.Sprintf("Created Invoice %s for %s (%s %s)", invoice.InvoiceNumber, customer.Name, invoice.PaymentType, invoice.NetTotal.StringFixed(2))
		if err := createHistory(tx, HistoryActionCreate, invoice.ID, ReferenceTypeInvoice, nil, &invoice, description); err != nil {
			return err
		}
		return PublishLedgerEvent(tx, invoice.ID, ReferenceTypeInvoice, LedgerEventActionCreate, &invoice)
	})
	if err != nil {
		recordSpanError(span, err)
		return nil, utils.ClassifyStorageError(err)
	}
	return &invoice, nil
}

// UpdateInvoiceStatus applies one transition of the status table.
// Draft to Printed is metadata only; any move to Cancelled goes through CancelInvoice.
func UpdateInvoiceStatus(ctx context.Context, id int, status InvoiceStatus) (*Invoice, error) {
	if status == InvoiceStatusCancelled {
		return CancelInvoice(ctx, id, "Status changed to Cancelled")
	}

	var invoice *Invoice
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		invoice, err = lockResource[Invoice](tx, "invoice", id)
		if err != nil {
			return err
		}
		if err := validateInvoiceTransition(invoice.Status, status); err != nil {
			return err
		}
		before := *invoice
		if err := tx.Model(&Invoice{}).Where("id = ?", id).Update("status", status).Error; err != nil {
			return err
		}
		invoice.Status = status

		description := fmt.Sprintf("Invoice %s status changed from %s to %s", invoice.InvoiceNumber, before.Status, status)
		if err := createHistory(tx, HistoryActionUpdate, id, ReferenceTypeInvoice, &before, invoice, description); err != nil {
			return err
		}
		return PublishLedgerEvent(tx, id, ReferenceTypeInvoice, LedgerEventActionUpdate, invoice)
	})
	if err != nil {
		return nil, utils.ClassifyStorageError(err)
	}
	return GetInvoice(ctx, id)
}

// reverseInvoiceLedgers undoes every stock movement and balance entry tied to the invoice.
// Already reversed rows are skipped, so calling it twice changes nothing the second time.
func reverseInvoiceLedgers(tx *gorm.DB, invoiceId int, reason string) (int, error) {
	movements, err := ReverseStockMovements(tx, invoiceId, reason)
	if err != nil {
		return 0, err
	}
	entries, err := ReverseBalanceEntriesForInvoice(tx, invoiceId, reason)
	if err != nil {
		return 0, err
	}
	return len(movements) + len(entries), nil
}

func invoiceReversalLockKeys(invoice *Invoice) []string {
	productIds := make([]int, 0, len(invoice.Details))
	for _, d := range invoice.Details {
		productIds = append(productIds, d.ProductId)
	}
	return invoiceLockKeys(productIds, invoice.CustomerId, invoice.BalanceEntryId != nil)
}

func wrapReversalError(invoiceId int, err error) error {
	if err == nil {
		return nil
	}
	var re *utils.ReversalError
	if errors.As(err, &re) {
		return err
	}
	return &utils.ReversalError{InvoiceId: invoiceId, Err: utils.ClassifyStorageError(err)}
}

// CancelInvoice reverses the invoice's ledger effects and marks it Cancelled in one transaction.
// A failure after the invoice was found is returned as *utils.ReversalError; nothing is half applied
// so the operator can retry.
func CancelInvoice(ctx context.Context, id int, reason string) (*Invoice, error) {
	ctx, span := startSpan(ctx, "models.CancelInvoice")
	defer span.End()
	span.SetAttributes(attribute.Int("invoice_id", id))

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "Cancelled"
	}
	current, err := GetResource[Invoice](ctx, "invoice", id, "Details")
	if err != nil {
		return nil, err
	}
	if current.Status == InvoiceStatusCancelled {
		return nil, utils.NewValidationError("status", "invoice %s is already cancelled", current.InvoiceNumber)
	}

	release, err := utils.ObtainLedgerLocks(ctx, "InvoiceEngine", "CancelInvoice", invoiceReversalLockKeys(current)...)
	if err != nil {
		return nil, err
	}
	defer release()

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := lockResource[Invoice](tx, "invoice", id)
		if err != nil {
			return err
		}
		if err := validateInvoiceTransition(invoice.Status, InvoiceStatusCancelled); err != nil {
			return err
		}
		if err := cancelInvoiceTx(tx, invoice, reason); err != nil {
			return wrapReversalError(id, err)
		}
		description := fmt.Sprintf("Cancelled Invoice %s: %s", invoice.InvoiceNumber, reason)
		if err := createHistory(tx, HistoryActionCancel, id, ReferenceTypeInvoice, current, invoice, description); err != nil {
			return wrapReversalError(id, err)
		}
		return wrapReversalError(id, PublishLedgerEvent(tx, id, ReferenceTypeInvoice, LedgerEventActionCancel, invoice))
	})
	if err != nil {
		recordSpanError(span, err)
		config.LogError(config.GetLogger(), "InvoiceEngine", "CancelInvoice", "invoice cancellation failed", id, err)
		var re *utils.ReversalError
		if errors.As(err, &re) {
			return nil, err
		}
		return nil, utils.ClassifyStorageError(err)
	}
	return GetInvoice(ctx, id)
}

func cancelInvoiceTx(tx *gorm.DB, invoice *Invoice, reason string) error {
	if _, err := reverseInvoiceLedgers(tx, invoice.ID, reason); err != nil {
		return err
	}
	now := time.Now().UTC()
	if err := tx.Model(&Invoice{}).Where("id = ?", invoice.ID).Updates(map[string]interface{}{
		"status":        InvoiceStatusCancelled,
		"cancelled_at":  &now,
		"cancel_reason": reason,
	}).Error; err != nil {
		return err
	}
	invoice.Status = InvoiceStatusCancelled
	invoice.CancelledAt = &now
	invoice.CancelReason = reason
	return nil
}

// DeleteInvoice has the same ledger semantics as CancelInvoice, then soft-deletes the invoice.
// Only a live invoice can be deleted. The record stays queryable with Unscoped so its reversals remain traceable.
func DeleteInvoice(ctx context.Context, id int) error {
	ctx, span := startSpan(ctx, "models.DeleteInvoice")
	defer span.End()
	span.SetAttributes(attribute.Int("invoice_id", id))

	current, err := GetResource[Invoice](ctx, "invoice", id, "Details")
	if err != nil {
		return err
	}
	if current.Status == InvoiceStatusCancelled {
		return utils.NewValidationError("status", "invoice %s is already cancelled", current.InvoiceNumber)
	}

	release, err := utils.ObtainLedgerLocks(ctx, "InvoiceEngine", "DeleteInvoice", invoiceReversalLockKeys(current)...)
	if err != nil {
		return err
	}
	defer release()

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := lockResource[Invoice](tx, "invoice", id)
		if err != nil {
			return err
		}
		if invoice.Status == InvoiceStatusCancelled {
			return utils.NewValidationError("status", "invoice %s is already cancelled", invoice.InvoiceNumber)
		}
		if err := cancelInvoiceTx(tx, invoice, "Invoice deleted"); err != nil {
			return wrapReversalError(id, err)
		}
		if err := tx.Delete(&Invoice{}, id).Error; err != nil {
			return wrapReversalError(id, err)
		}
		description := fmt.Sprintf("Deleted Invoice %s", invoice.InvoiceNumber)
		if err := createHistory(tx, HistoryActionDelete, id, ReferenceTypeInvoice, current, nil, description); err != nil {
			return wrapReversalError(id, err)
		}
		return wrapReversalError(id, PublishLedgerEvent(tx, id, ReferenceTypeInvoice, LedgerEventActionDelete, invoice))
	})
	if err != nil {
		recordSpanError(span, err)
		config.LogError(config.GetLogger(), "InvoiceEngine", "DeleteInvoice", "invoice deletion failed", id, err)
		var re *utils.ReversalError
		if errors.As(err, &re) {
			return err
		}
		return utils.ClassifyStorageError(err)
	}
	return nil
}

// RetryInvoiceReversal is the operator path after a failed cancellation. A live invoice is cancelled;
// a cancelled or deleted one gets any un-reversed leftovers reversed. Returns the number of reversal rows written.
func RetryInvoiceReversal(ctx context.Context, id int, reason string) (int, error) {
	db := config.GetDB()
	var invoice Invoice
	if err := db.WithContext(ctx).Unscoped().First(&invoice, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, &utils.NotFoundError{Resource: "invoice", ID: id}
		}
		return 0, utils.ClassifyStorageError(err)
	}
	if invoice.Status != InvoiceStatusCancelled && !invoice.DeletedAt.Valid {
		cancelled, err := CancelInvoice(ctx, id, reason)
		if err != nil {
			return 0, err
		}
		effects, err := GetInvoiceLedgerEffects(ctx, cancelled.ID)
		if err != nil {
			return 0, err
		}
		count := 0
		for _, m := range effects.StockMovements {
			if m.IsReversal {
				count++
			}
		}
		for _, e := range effects.BalanceEntries {
			if e.IsReversal {
				count++
			}
		}
		return count, nil
	}

	var count int
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		count, err = reverseInvoiceLedgers(tx, id, reason)
		if err != nil {
			return wrapReversalError(id, err)
		}
		if count == 0 {
			return nil
		}
		description := fmt.Sprintf("Reversed %d leftover ledger row(s) of Invoice %s", count, invoice.InvoiceNumber)
		if err := createHistory(tx, HistoryActionReverse, id, ReferenceTypeInvoice, nil, nil, description); err != nil {
			return wrapReversalError(id, err)
		}
		return wrapReversalError(id, PublishLedgerEvent(tx, id, ReferenceTypeInvoice, LedgerEventActionReverse, &invoice))
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func GetInvoice(ctx context.Context, id int) (*Invoice, error) {
	return GetResource[Invoice](ctx, "invoice", id, "Details")
}

func ListInvoices(ctx context.Context, filter InvoiceFilter) ([]*Invoice, error) {
	db := config.GetDB()
	var results []*Invoice

	query := db.WithContext(ctx).Model(&Invoice{})
	if filter.IncludeDeleted {
		query = query.Unscoped()
	}
	if filter.CustomerId > 0 {
		query = query.Where("customer_id = ?", filter.CustomerId)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.FromDate != nil {
		query = query.Where("invoice_date >= ?", *filter.FromDate)
	}
	if filter.ToDate != nil {
		query = query.Where("invoice_date < ?", filter.ToDate.AddDate(0, 0, 1))
	}
	if err := filter.Pagination.apply(query).Preload("Details").Order("sequence_no DESC").Find(&results).Error; err != nil {
		return nil, utils.ClassifyStorageError(err)
	}
	return results, nil
}

// GetInvoiceLedgerEffects reconstructs what the invoice did to stock and balances from the ledgers alone.
// Deleted invoices are included.
func GetInvoiceLedgerEffects(ctx context.Context, id int) (*InvoiceLedgerEffects, error) {
	db := config.GetDB().WithContext(ctx)

	var invoice Invoice
	if err := db.Unscoped().Preload("Details").First(&invoice, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &utils.NotFoundError{Resource: "invoice", ID: id}
		}
		return nil, utils.ClassifyStorageError(err)
	}

	effects := &InvoiceLedgerEffects{
		Invoice:     &invoice,
		NetStockQty: make(map[int]int),
		NetBalance:  decimal.Zero,
	}
	if err := db.Where("invoice_id = ?", id).Order("id").Find(&effects.StockMovements).Error; err != nil {
		return nil, utils.ClassifyStorageError(err)
	}
	if err := db.Where("invoice_id = ?", id).Order("id").Find(&effects.BalanceEntries).Error; err != nil {
		return nil, utils.ClassifyStorageError(err)
	}
	for _, m := range effects.StockMovements {
		effects.NetStockQty[m.ProductId] += m.Qty
	}
	for _, e := range effects.BalanceEntries {
		effects.NetBalance = effects.NetBalance.Add(e.Amount)
	}
	return effects, nil
}
