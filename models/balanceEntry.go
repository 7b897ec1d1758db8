package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/billing_backend/config"
	"github.com/mmdatafocus/billing_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// BalanceEntry is an append-only row of the customer balance ledger. Debits are positive.
// At most one of InvoiceId, ManualEntryId, PaymentId is set.
type BalanceEntry struct {
	ID                   int              `gorm:"primary_key" json:"id"`
	CustomerId           int              `gorm:"index;not null" json:"customer_id"`
	Amount               decimal.Decimal  `gorm:"type:decimal(20,4);not null" json:"amount"`
	Kind                 BalanceEntryKind `gorm:"size:30;not null;index" json:"kind"`
	InvoiceId            *int             `gorm:"index" json:"invoice_id"`
	ManualEntryId        *int             `gorm:"index" json:"manual_entry_id"`
	PaymentId            *int             `gorm:"index" json:"payment_id"`
	ExcludeFromAnalytics bool             `gorm:"not null;default:false;index" json:"exclude_from_analytics"`
	EntryDate            time.Time        `gorm:"not null" json:"entry_date"`
	Description          string           `gorm:"type:text" json:"description"`
	ClosingBalance       decimal.Decimal  `gorm:"type:decimal(20,4);not null" json:"closing_balance"`
	// Reversal metadata.
	IsReversal        bool       `gorm:"not null;default:false;index" json:"is_reversal"`
	ReversesEntryId   *int       `gorm:"index" json:"reverses_entry_id"`
	ReversedByEntryId *int       `gorm:"index" json:"reversed_by_entry_id"`
	ReversalReason    *string    `gorm:"type:text" json:"reversal_reason"`
	ReversedAt        *time.Time `gorm:"index" json:"reversed_at"`
	UserId            int        `gorm:"index" json:"user_id"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

type NewBalanceEntry struct {
	CustomerId           int
	Amount               decimal.Decimal
	Kind                 BalanceEntryKind
	InvoiceId            *int
	ManualEntryId        *int
	PaymentId            *int
	ExcludeFromAnalytics bool
	EntryDate            time.Time
	Description          string
}

type BalanceEntryFilter struct {
	CustomerId      int              `form:"customer_id"`
	Kind            BalanceEntryKind `form:"kind"`
	IncludeExcluded bool             `form:"include_excluded"`
	Pagination
}

// CustomerLedger is a customer with its entries and the balance recomputed from them.
type CustomerLedger struct {
	Customer      *Customer       `json:"customer"`
	Entries       []*BalanceEntry `json:"entries"`
	LedgerBalance decimal.Decimal `json:"ledger_balance"`
}

// AnalyticsScope drops ledger-only corrections from revenue and sales aggregates.
func AnalyticsScope(db *gorm.DB) *gorm.DB {
	return db.Where("exclude_from_analytics = ?", false)
}

func appendBalanceEntry(tx *gorm.DB, customer *Customer, entry *BalanceEntry) error {
	userId, _ := utils.GetActorFromContext(tx.Statement.Context)

	closing := customer.OutstandingBalance.Add(entry.Amount)
	entry.CustomerId = customer.ID
	entry.ClosingBalance = closing
	entry.UserId = userId
	if entry.EntryDate.IsZero() {
		entry.EntryDate = time.Now().UTC()
	}
	if err := tx.Create(entry).Error; err != nil {
		return err
	}
	if err := tx.Model(&Customer{}).Where("id = ?", customer.ID).
		UpdateColumn("outstanding_balance", closing).Error; err != nil {
		return err
	}
	customer.OutstandingBalance = closing
	return nil
}

// customerLedgerBalance sums a customer's entries in Go so the result is exact on every dialect.
func customerLedgerBalance(tx *gorm.DB, customerId int) (decimal.Decimal, error) {
	var amounts []decimal.Decimal
	if err := tx.Model(&BalanceEntry{}).Where("customer_id = ?", customerId).Pluck("amount", &amounts).Error; err != nil {
		return decimal.Zero, err
	}
	return utils.SumDecimals(amounts...), nil
}

func verifyCustomerBalance(tx *gorm.DB, customer *Customer) error {
	if !config.VerifyLedgerOnWrite() {
		return nil
	}
	ledger, err := customerLedgerBalance(tx, customer.ID)
	if err != nil {
		return err
	}
	if !utils.RoundStorage(ledger).Equal(utils.RoundStorage(customer.OutstandingBalance)) {
		cerr := &utils.ConsistencyError{
			Entity: "customer",
			ID:     customer.ID,
			Cached: customer.OutstandingBalance,
			Ledger: ledger,
		}
		config.LogError(config.GetLogger(), "BalanceLedger", "verifyCustomerBalance", "balance cache diverged from ledger", customer.ID, cerr)
		return cerr
	}
	return nil
}

// PostBalanceEntry locks the customer row and appends the entry, moving the cached balance by its amount.
func PostBalanceEntry(tx *gorm.DB, input *NewBalanceEntry) (*BalanceEntry, error) {
	if input.Amount.IsZero() {
		return nil, utils.NewValidationError("amount", "must not be zero")
	}
	customer, err := lockResource[Customer](tx, "customer", input.CustomerId)
	if err != nil {
		return nil, err
	}
	if err := verifyCustomerBalance(tx, customer); err != nil {
		return nil, err
	}
	entry := &BalanceEntry{
		Amount:               input.Amount,
		Kind:                 input.Kind,
		InvoiceId:            input.InvoiceId,
		ManualEntryId:        input.ManualEntryId,
		PaymentId:            input.PaymentId,
		ExcludeFromAnalytics: input.ExcludeFromAnalytics,
		EntryDate:            input.EntryDate,
		Description:          input.Description,
	}
	if err := appendBalanceEntry(tx, customer, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func ReverseBalanceEntriesForInvoice(tx *gorm.DB, invoiceId int, reason string) ([]*BalanceEntry, error) {
	return reverseBalanceEntries(tx, "invoice_id", invoiceId, reason)
}

func ReverseBalanceEntriesForManualEntry(tx *gorm.DB, manualEntryId int, reason string) ([]*BalanceEntry, error) {
	return reverseBalanceEntries(tx, "manual_entry_id", manualEntryId, reason)
}

func ReverseBalanceEntriesForPayment(tx *gorm.DB, paymentId int, reason string) ([]*BalanceEntry, error) {
	return reverseBalanceEntries(tx, "payment_id", paymentId, reason)
}

// reverseBalanceEntries appends the negated entry for every un-reversed original referencing refId.
// Reversals inherit the reference and the analytics flag, so excluded corrections stay excluded.
func reverseBalanceEntries(tx *gorm.DB, refColumn string, refId int, reason string) ([]*BalanceEntry, error) {
	var originals []*BalanceEntry
	if err := tx.
		Where(refColumn+" = ? AND is_reversal = ? AND reversed_by_entry_id IS NULL", refId, false).
		Order("customer_id, id").
		Find(&originals).Error; err != nil {
		return nil, err
	}
	if len(originals) == 0 {
		return []*BalanceEntry{}, nil
	}

	customerIds := make([]int, 0, len(originals))
	for _, o := range originals {
		customerIds = append(customerIds, o.CustomerId)
	}
	customers := make(map[int]*Customer)
	for _, id := range utils.SortedUniqueInts(customerIds) {
		customer, err := lockResource[Customer](tx, "customer", id)
		if err != nil {
			return nil, err
		}
		if err := verifyCustomerBalance(tx, customer); err != nil {
			return nil, err
		}
		customers[id] = customer
	}

	now := time.Now().UTC()
	reasonCopy := reason
	reversals := make([]*BalanceEntry, 0, len(originals))
	for _, o := range originals {
		originalId := o.ID
		rev := &BalanceEntry{
			Amount:               o.Amount.Neg(),
			Kind:                 BalanceEntryKindReversal,
			InvoiceId:            o.InvoiceId,
			ManualEntryId:        o.ManualEntryId,
			PaymentId:            o.PaymentId,
			ExcludeFromAnalytics: o.ExcludeFromAnalytics,
			EntryDate:            now,
			Description:          "REV: " + o.Description,
			IsReversal:           true,
			ReversesEntryId:      &originalId,
			ReversalReason:       &reasonCopy,
		}
		if err := appendBalanceEntry(tx, customers[o.CustomerId], rev); err != nil {
			return nil, err
		}
		if err := tx.Model(&BalanceEntry{}).
			Where("id = ?", o.ID).
			Updates(map[string]interface{}{
				"reversed_by_entry_id": rev.ID,
				"reversal_reason":      &reasonCopy,
				"reversed_at":          &now,
			}).Error; err != nil {
			return nil, err
		}
		reversals = append(reversals, rev)
	}
	return reversals, nil
}

func ListBalanceEntries(ctx context.Context, filter BalanceEntryFilter) ([]*BalanceEntry, error) {
	db := config.GetDB()
	var results []*BalanceEntry

	query := db.WithContext(ctx).Model(&BalanceEntry{})
	if !filter.IncludeExcluded {
		query = query.Scopes(AnalyticsScope)
	}
	if filter.CustomerId > 0 {
		query = query.Where("customer_id = ?", filter.CustomerId)
	}
	if filter.Kind != "" {
		query = query.Where("kind = ?", filter.Kind)
	}
	if err := filter.Pagination.apply(query).Order("id").Find(&results).Error; err != nil {
		return nil, utils.ClassifyStorageError(err)
	}
	return results, nil
}

// GetCustomerLedger returns every entry of the customer, excluded ones included.
func GetCustomerLedger(ctx context.Context, customerId int) (*CustomerLedger, error) {
	customer, err := GetCustomer(ctx, customerId)
	if err != nil {
		return nil, err
	}
	db := config.GetDB()
	var entries []*BalanceEntry
	if err := db.WithContext(ctx).Where("customer_id = ?", customerId).Order("id").Find(&entries).Error; err != nil {
		return nil, utils.ClassifyStorageError(err)
	}
	ledger := decimal.Zero
	for _, e := range entries {
		ledger = ledger.Add(e.Amount)
	}
	return &CustomerLedger{Customer: customer, Entries: entries, LedgerBalance: ledger}, nil
}
