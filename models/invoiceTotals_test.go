package models_test

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/mmdatafocus/billing_backend/models"
	"github.com/mmdatafocus/billing_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func productMap(products ...*models.Product) map[int]*models.Product {
	m := make(map[int]*models.Product, len(products))
	for _, p := range products {
		m[p.ID] = p
	}
	return m
}

func TestComputeInvoiceTotals_SchemeDiscountAndFreeQuantity(t *testing.T) {
	product := &models.Product{ID: 1, Name: "Paracetamol", Rate: dec("100"), GstPercentage: dec("12")}

	totals, err := models.ComputeInvoiceTotals([]models.NewInvoiceLine{{
		ProductId:      1,
		QuantitySold:   5,
		FreeQuantity:   1,
		RatePerUnit:    decPtr("120"),
		SchemeDiscount: dec("5"),
	}}, productMap(product))
	require.NoError(t, err)

	assert.True(t, totals.SubTotal.Equal(dec("456.00")), "sub total %s", totals.SubTotal)
	assert.True(t, totals.TotalGst.Equal(dec("54.72")), "gst %s", totals.TotalGst)
	assert.True(t, totals.NetTotal.Equal(dec("510.72")), "net %s", totals.NetTotal)
	assert.True(t, totals.TotalDiscount.Equal(dec("24")), "discount %s", totals.TotalDiscount)
	require.Len(t, totals.Lines, 1)
	assert.True(t, totals.Lines[0].RatePerUnit.Equal(dec("120")))
	assert.True(t, totals.Lines[0].LineTotal.Equal(dec("510.72")))
	assert.True(t, totals.Lines[0].GstPercentage.Equal(dec("12")))
}

func TestComputeInvoiceTotals_DefaultsToProductRate(t *testing.T) {
	product := &models.Product{ID: 7, Name: "Syrup", Rate: dec("45.50"), GstPercentage: dec("5")}

	totals, err := models.ComputeInvoiceTotals([]models.NewInvoiceLine{{ProductId: 7, QuantitySold: 2}}, productMap(product))
	require.NoError(t, err)
	assert.True(t, totals.Lines[0].RatePerUnit.Equal(dec("45.50")))
	assert.True(t, totals.SubTotal.Equal(dec("91")))
	assert.True(t, totals.TotalGst.Equal(dec("4.55")))
	assert.True(t, totals.NetTotal.Equal(dec("95.55")))
}

func TestComputeInvoiceTotals_AllFreeIsZero(t *testing.T) {
	product := &models.Product{ID: 1, Name: "Sample", Rate: dec("10"), GstPercentage: dec("18")}
	totals, err := models.ComputeInvoiceTotals([]models.NewInvoiceLine{{ProductId: 1, QuantitySold: 3, FreeQuantity: 3}}, productMap(product))
	require.NoError(t, err)
	assert.True(t, totals.NetTotal.IsZero())
}

func TestComputeInvoiceTotals_RoundsOnceAtInvoiceLevel(t *testing.T) {
	// each line is 0.3350 gross with 0 tax; rounding per line would give 3 x 0.34 = 1.02
	product := &models.Product{ID: 1, Name: "Clip", Rate: dec("0.335")}
	items := []models.NewInvoiceLine{
		{ProductId: 1, QuantitySold: 1},
		{ProductId: 1, QuantitySold: 1},
		{ProductId: 1, QuantitySold: 1},
	}
	totals, err := models.ComputeInvoiceTotals(items, productMap(product))
	require.NoError(t, err)
	assert.True(t, totals.NetTotal.Equal(dec("1.01")), "net %s", totals.NetTotal)
}

func TestComputeInvoiceTotals_NetTotalMatchesLineSum(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	products := map[int]*models.Product{}
	for i := 1; i <= 5; i++ {
		products[i] = &models.Product{
			ID:            i,
			Name:          "P",
			Rate:          decimal.New(int64(rng.Intn(100000)), -2),
			GstPercentage: []decimal.Decimal{dec("0"), dec("5"), dec("12"), dec("18"), dec("28")}[rng.Intn(5)],
		}
	}
	for round := 0; round < 200; round++ {
		var items []models.NewInvoiceLine
		for n := 0; n < 1+rng.Intn(6); n++ {
			sold := 1 + rng.Intn(50)
			items = append(items, models.NewInvoiceLine{
				ProductId:      1 + rng.Intn(5),
				QuantitySold:   sold,
				FreeQuantity:   rng.Intn(sold + 1),
				SchemeDiscount: decimal.New(int64(rng.Intn(10001)), -2),
			})
		}
		totals, err := models.ComputeInvoiceTotals(items, products)
		require.NoError(t, err)

		lineSum := decimal.Zero
		for _, l := range totals.Lines {
			lineSum = lineSum.Add(l.LineTotal)
		}
		diff := totals.NetTotal.Sub(lineSum).Abs()
		require.Truef(t, diff.LessThanOrEqual(dec("0.01")), "round %d: net %s vs lines %s", round, totals.NetTotal, lineSum)
	}
}

func TestComputeInvoiceTotals_Validation(t *testing.T) {
	products := productMap(&models.Product{ID: 1, Name: "P", Rate: dec("10")})
	cases := []struct {
		name  string
		items []models.NewInvoiceLine
		field string
	}{
		{"no lines", nil, "items"},
		{"zero quantity", []models.NewInvoiceLine{{ProductId: 1, QuantitySold: 0}}, "items[0].quantity_sold"},
		{"negative free", []models.NewInvoiceLine{{ProductId: 1, QuantitySold: 2, FreeQuantity: -1}}, "items[0].free_quantity"},
		{"free above sold", []models.NewInvoiceLine{{ProductId: 1, QuantitySold: 2, FreeQuantity: 3}}, "items[0].free_quantity"},
		{"discount above 100", []models.NewInvoiceLine{{ProductId: 1, QuantitySold: 1, SchemeDiscount: dec("100.5")}}, "items[0].scheme_discount"},
		{"negative discount", []models.NewInvoiceLine{{ProductId: 1, QuantitySold: 1, SchemeDiscount: dec("-1")}}, "items[0].scheme_discount"},
		{"negative rate", []models.NewInvoiceLine{{ProductId: 1, QuantitySold: 1, RatePerUnit: decPtr("-1")}}, "items[0].rate_per_unit"},
		{"unknown product", []models.NewInvoiceLine{{ProductId: 1, QuantitySold: 1}, {ProductId: 99, QuantitySold: 1}}, "items[1].product_id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := models.ComputeInvoiceTotals(tc.items, products)
			var ve *utils.ValidationError
			require.True(t, errors.As(err, &ve), "expected ValidationError, got %v", err)
			assert.Equal(t, tc.field, ve.Field)
		})
	}
}

func TestPreviewInvoiceTotals_WritesNothing(t *testing.T) {
	db := setupTestDB(t)
	ctx := testContext()
	product := mustProduct(t, ctx, "Paracetamol", "120", "12", 100)

	totals, err := models.PreviewInvoiceTotals(ctx, []models.NewInvoiceLine{{
		ProductId: product.ID, QuantitySold: 5, FreeQuantity: 1, SchemeDiscount: dec("5"),
	}})
	require.NoError(t, err)
	assert.True(t, totals.NetTotal.Equal(dec("510.72")))

	var invoices int64
	require.NoError(t, db.Model(&models.Invoice{}).Count(&invoices).Error)
	assert.Zero(t, invoices)
	assert.Equal(t, 100, reloadProduct(t, db, product.ID).CurrentStockQty)

	_, err = models.PreviewInvoiceTotals(ctx, []models.NewInvoiceLine{{ProductId: 404, QuantitySold: 1}})
	var ve *utils.ValidationError
	assert.True(t, errors.As(err, &ve))
}
