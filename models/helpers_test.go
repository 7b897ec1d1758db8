package models_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/mmdatafocus/billing_backend/config"
	"github.com/mmdatafocus/billing_backend/models"
	"github.com/mmdatafocus/billing_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB installs a fresh in-memory database as the global connection.
// One connection only: everything inside a transaction must go through tx.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	config.SetDB(db)
	config.SetRedisClient(nil)
	require.NoError(t, models.AutoMigrate())

	t.Cleanup(func() {
		_ = sqlDB.Close()
		config.SetDB(nil)
	})
	return db
}

func testContext() context.Context {
	ctx := context.Background()
	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Test")
	ctx = utils.SetUsernameInContext(ctx, "test@local")
	ctx = utils.SetCorrelationIdInContext(ctx, "test-correlation")
	return ctx
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func mustProduct(t *testing.T, ctx context.Context, name string, rate string, gst string, stock int) *models.Product {
	t.Helper()
	p, err := models.CreateProduct(ctx, &models.NewProduct{
		Name:          name,
		Rate:          dec(rate),
		Mrp:           dec(rate),
		GstPercentage: dec(gst),
		OpeningStock:  stock,
	})
	require.NoError(t, err)
	return p
}

func mustCustomer(t *testing.T, ctx context.Context, name string, paymentType models.PaymentType) *models.Customer {
	t.Helper()
	c, err := models.CreateCustomer(ctx, &models.NewCustomer{Name: name, PaymentType: paymentType})
	require.NoError(t, err)
	return c
}

func reloadProduct(t *testing.T, db *gorm.DB, id int) *models.Product {
	t.Helper()
	var p models.Product
	require.NoError(t, db.First(&p, id).Error)
	return &p
}

func reloadCustomer(t *testing.T, db *gorm.DB, id int) *models.Customer {
	t.Helper()
	var c models.Customer
	require.NoError(t, db.First(&c, id).Error)
	return &c
}

// requireLedgerInvariants checks that every cached stock quantity and balance equals its ledger sum.
func requireLedgerInvariants(t *testing.T, db *gorm.DB) {
	t.Helper()
	var products []models.Product
	require.NoError(t, db.Find(&products).Error)
	for _, p := range products {
		var movements []models.StockMovement
		require.NoError(t, db.Where("product_id = ?", p.ID).Find(&movements).Error)
		sum := 0
		for _, m := range movements {
			sum += m.Qty
		}
		require.Equalf(t, sum, p.CurrentStockQty, "product %d stock diverged from ledger", p.ID)
	}

	var customers []models.Customer
	require.NoError(t, db.Find(&customers).Error)
	for _, c := range customers {
		var entries []models.BalanceEntry
		require.NoError(t, db.Where("customer_id = ?", c.ID).Find(&entries).Error)
		sum := decimal.Zero
		for _, e := range entries {
			sum = sum.Add(e.Amount)
		}
		require.Truef(t, sum.Equal(c.OutstandingBalance), "customer %d balance %s diverged from ledger %s", c.ID, c.OutstandingBalance, sum)
	}
}
