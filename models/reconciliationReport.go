package models

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/billing_backend/config"
	"github.com/mmdatafocus/billing_backend/utils"
	"github.com/shopspring/decimal"
)

// reconciliation check types
const (
	ReconcileCheckProductStock    = "PRODUCT_STOCK"
	ReconcileCheckCustomerBalance = "CUSTOMER_BALANCE"
	ReconcileCheckInvoiceLedger   = "INVOICE_LEDGER"
)

// ReconciliationReport is one divergence found by a reconciliation run. Cached values are never fixed here.
type ReconciliationReport struct {
	ID          int             `gorm:"primary_key" json:"id"`
	RunId       string          `gorm:"size:64;index;not null" json:"run_id"`
	CheckType   string          `gorm:"size:50;index;not null" json:"check_type"`
	EntityType  string          `gorm:"size:50;index;not null" json:"entity_type"`
	EntityId    int             `gorm:"index;not null" json:"entity_id"`
	CachedValue decimal.Decimal `gorm:"type:decimal(20,4)" json:"cached_value"`
	LedgerValue decimal.Decimal `gorm:"type:decimal(20,4)" json:"ledger_value"`
	Difference  decimal.Decimal `gorm:"type:decimal(20,4)" json:"difference"`
	Details     string          `gorm:"type:text" json:"details"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// ReconcileLedgers recomputes every cached stock quantity and balance from its ledger and checks
// each live invoice against the movements and entries it caused. Every divergence is stored and returned.
func ReconcileLedgers(ctx context.Context, runId string) ([]*ReconciliationReport, error) {
	if runId == "" {
		if cid, ok := utils.GetCorrelationIdFromContext(ctx); ok && cid != "" {
			runId = cid
		} else {
			runId = uuid.NewString()
		}
	}
	db := config.GetDB().WithContext(ctx)
	var reports []*ReconciliationReport

	// 1) product cache vs stock movements
	type qtyRow struct {
		ProductId int
		Total     int
	}
	var qtyRows []qtyRow
	if err := db.Model(&StockMovement{}).Select("product_id, SUM(qty) AS total").Group("product_id").Scan(&qtyRows).Error; err != nil {
		return nil, utils.ClassifyStorageError(err)
	}
	ledgerQty := make(map[int]int, len(qtyRows))
	for _, r := range qtyRows {
		ledgerQty[r.ProductId] = r.Total
	}
	var products []*Product
	if err := db.Order("id").Find(&products).Error; err != nil {
		return nil, utils.ClassifyStorageError(err)
	}
	for _, p := range products {
		if ledgerQty[p.ID] == p.CurrentStockQty {
			continue
		}
		cached := decimal.NewFromInt(int64(p.CurrentStockQty))
		ledger := decimal.NewFromInt(int64(ledgerQty[p.ID]))
		reports = append(reports, &ReconciliationReport{
			RunId:       runId,
			CheckType:   ReconcileCheckProductStock,
			EntityType:  "product",
			EntityId:    p.ID,
			CachedValue: cached,
			LedgerValue: ledger,
			Difference:  cached.Sub(ledger),
			Details:     fmt.Sprintf("current_stock_qty %d, movements sum %d", p.CurrentStockQty, ledgerQty[p.ID]),
		})
	}

	// 2) customer cache vs balance entries
	var entries []*BalanceEntry
	if err := db.Select("id, customer_id, amount").Find(&entries).Error; err != nil {
		return nil, utils.ClassifyStorageError(err)
	}
	ledgerBalance := make(map[int]decimal.Decimal)
	for _, e := range entries {
		ledgerBalance[e.CustomerId] = ledgerBalance[e.CustomerId].Add(e.Amount)
	}
	var customers []*Customer
	if err := db.Order("id").Find(&customers).Error; err != nil {
		return nil, utils.ClassifyStorageError(err)
	}
	for _, c := range customers {
		ledger := ledgerBalance[c.ID]
		if utils.RoundStorage(ledger).Equal(utils.RoundStorage(c.OutstandingBalance)) {
			continue
		}
		reports = append(reports, &ReconciliationReport{
			RunId:       runId,
			CheckType:   ReconcileCheckCustomerBalance,
			EntityType:  "customer",
			EntityId:    c.ID,
			CachedValue: c.OutstandingBalance,
			LedgerValue: ledger,
			Difference:  c.OutstandingBalance.Sub(ledger),
			Details:     fmt.Sprintf("outstanding_balance %s, entries sum %s", c.OutstandingBalance.String(), ledger.String()),
		})
	}

	// 3) live invoices vs their ledger effects
	var invoices []*Invoice
	if err := db.Preload("Details").Where("status <> ?", InvoiceStatusCancelled).Order("id").Find(&invoices).Error; err != nil {
		return nil, utils.ClassifyStorageError(err)
	}
	for _, inv := range invoices {
		effects, err := GetInvoiceLedgerEffects(ctx, inv.ID)
		if err != nil {
			return nil, err
		}
		expectedQty := make(map[int]int)
		for _, d := range inv.Details {
			expectedQty[d.ProductId] -= d.QuantitySold
		}
		for productId, want := range expectedQty {
			if got := effects.NetStockQty[productId]; got != want {
				reports = append(reports, &ReconciliationReport{
					RunId:       runId,
					CheckType:   ReconcileCheckInvoiceLedger,
					EntityType:  "invoice",
					EntityId:    inv.ID,
					CachedValue: decimal.NewFromInt(int64(want)),
					LedgerValue: decimal.NewFromInt(int64(got)),
					Difference:  decimal.NewFromInt(int64(want - got)),
					Details:     fmt.Sprintf("invoice %s product %d: expected net movement %d, ledger %d", inv.InvoiceNumber, productId, want, got),
				})
			}
		}
		wantBalance := decimal.Zero
		if inv.PaymentType == PaymentTypeCredit {
			wantBalance = inv.NetTotal
		}
		if !utils.RoundStorage(effects.NetBalance).Equal(utils.RoundStorage(wantBalance)) {
			reports = append(reports, &ReconciliationReport{
				RunId:       runId,
				CheckType:   ReconcileCheckInvoiceLedger,
				EntityType:  "invoice",
				EntityId:    inv.ID,
				CachedValue: wantBalance,
				LedgerValue: effects.NetBalance,
				Difference:  wantBalance.Sub(effects.NetBalance),
				Details:     fmt.Sprintf("invoice %s: expected net balance %s, ledger %s", inv.InvoiceNumber, wantBalance.String(), effects.NetBalance.String()),
			})
		}
	}

	if len(reports) > 0 {
		if err := db.Create(&reports).Error; err != nil {
			return nil, utils.ClassifyStorageError(err)
		}
		logger := config.GetLogger()
		for _, r := range reports {
			config.LogError(logger, "Reconciliation", "ReconcileLedgers", r.CheckType, r, &utils.ConsistencyError{
				Entity: r.EntityType,
				ID:     r.EntityId,
				Cached: r.CachedValue,
				Ledger: r.LedgerValue,
			})
		}
	}
	return reports, nil
}

func ListReconciliationReports(ctx context.Context, runId string) ([]*ReconciliationReport, error) {
	db := config.GetDB()
	var results []*ReconciliationReport
	query := db.WithContext(ctx).Model(&ReconciliationReport{})
	if runId != "" {
		query = query.Where("run_id = ?", runId)
	}
	if err := query.Order("id DESC").Limit(500).Find(&results).Error; err != nil {
		return nil, utils.ClassifyStorageError(err)
	}
	return results, nil
}
