package models

import (
	"context"
	"fmt"

	"github.com/mmdatafocus/billing_backend/config"
	"github.com/mmdatafocus/billing_backend/utils"
	"github.com/shopspring/decimal"
)

type NewInvoiceLine struct {
	ProductId    int `json:"product_id"`
	QuantitySold int `json:"quantity_sold"`
	FreeQuantity int `json:"free_quantity"`
	// nil takes the product's current rate
	RatePerUnit    *decimal.Decimal `json:"rate_per_unit"`
	SchemeDiscount decimal.Decimal  `json:"scheme_discount"`
}

// LineTotals is the priced snapshot of one line, kept at storage precision.
type LineTotals struct {
	ProductId      int             `json:"product_id"`
	ProductName    string          `json:"product_name"`
	BatchNumber    string          `json:"batch_number"`
	QuantitySold   int             `json:"quantity_sold"`
	FreeQuantity   int             `json:"free_quantity"`
	RatePerUnit    decimal.Decimal `json:"rate_per_unit"`
	SchemeDiscount decimal.Decimal `json:"scheme_discount"`
	GstPercentage  decimal.Decimal `json:"gst_percentage"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TaxableValue   decimal.Decimal `json:"taxable_value"`
	GstAmount      decimal.Decimal `json:"gst_amount"`
	LineTotal      decimal.Decimal `json:"line_total"`
}

type InvoiceTotals struct {
	Lines         []LineTotals    `json:"lines"`
	SubTotal      decimal.Decimal `json:"sub_total"`
	TotalDiscount decimal.Decimal `json:"total_discount"`
	TotalGst      decimal.Decimal `json:"total_gst"`
	NetTotal      decimal.Decimal `json:"net_total"`
}

func lineError(i int, field string, format string, args ...any) error {
	return utils.NewValidationError(fmt.Sprintf("items[%d].%s", i, field), format, args...)
}

// ComputeInvoiceTotals prices the lines against the given products. It has no side effects.
// Invoice totals are the unrounded line sums rounded once, half-up, to 2 places.
func ComputeInvoiceTotals(items []NewInvoiceLine, products map[int]*Product) (*InvoiceTotals, error) {
	if len(items) == 0 {
		return nil, utils.NewValidationError("items", "at least one line item is required")
	}

	var (
		sumTaxable  = decimal.Zero
		sumDiscount = decimal.Zero
		sumGst      = decimal.Zero
		lines       = make([]LineTotals, 0, len(items))
	)
	for i, item := range items {
		product, ok := products[item.ProductId]
		if !ok || product == nil {
			return nil, lineError(i, "product_id", "product %d does not exist", item.ProductId)
		}
		if item.QuantitySold <= 0 {
			return nil, lineError(i, "quantity_sold", "must be greater than 0")
		}
		if item.FreeQuantity < 0 {
			return nil, lineError(i, "free_quantity", "must not be negative")
		}
		if item.FreeQuantity > item.QuantitySold {
			return nil, lineError(i, "free_quantity", "must not exceed quantity_sold")
		}
		if !utils.IsPercentage(item.SchemeDiscount) {
			return nil, lineError(i, "scheme_discount", "must be between 0 and 100")
		}
		rate := utils.DereferencePtr(item.RatePerUnit, product.Rate)
		if rate.IsNegative() {
			return nil, lineError(i, "rate_per_unit", "must not be negative")
		}

		chargeable := decimal.NewFromInt(int64(item.QuantitySold - item.FreeQuantity))
		gross := chargeable.Mul(rate)
		discount := utils.CalculateDiscountAmount(gross, item.SchemeDiscount)
		taxable := gross.Sub(discount)
		if taxable.IsNegative() {
			taxable = decimal.Zero
		}
		gst := utils.CalculateTaxAmount(taxable, product.GstPercentage)

		sumTaxable = sumTaxable.Add(taxable)
		sumDiscount = sumDiscount.Add(discount)
		sumGst = sumGst.Add(gst)

		lines = append(lines, LineTotals{
			ProductId:      product.ID,
			ProductName:    product.Name,
			BatchNumber:    product.BatchNumber,
			QuantitySold:   item.QuantitySold,
			FreeQuantity:   item.FreeQuantity,
			RatePerUnit:    rate,
			SchemeDiscount: item.SchemeDiscount,
			GstPercentage:  product.GstPercentage,
			DiscountAmount: utils.RoundStorage(discount),
			TaxableValue:   utils.RoundStorage(taxable),
			GstAmount:      utils.RoundStorage(gst),
			LineTotal:      utils.RoundStorage(taxable.Add(gst)),
		})
	}

	return &InvoiceTotals{
		Lines:         lines,
		SubTotal:      utils.RoundMoney(sumTaxable),
		TotalDiscount: utils.RoundMoney(sumDiscount),
		TotalGst:      utils.RoundMoney(sumGst),
		NetTotal:      utils.RoundMoney(sumTaxable.Add(sumGst)),
	}, nil
}

// PreviewInvoiceTotals loads the referenced products and prices the lines without writing anything.
func PreviewInvoiceTotals(ctx context.Context, items []NewInvoiceLine) (*InvoiceTotals, error) {
	if len(items) == 0 {
		return nil, utils.NewValidationError("items", "at least one line item is required")
	}
	ids := make([]int, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductId)
	}
	products, err := loadProducts(config.GetDB().WithContext(ctx), ids)
	if err != nil {
		return nil, utils.ClassifyStorageError(err)
	}
	return ComputeInvoiceTotals(items, products)
}
