package models_test

import (
	"errors"
	"testing"

	"github.com/mmdatafocus/billing_backend/models"
	"github.com/mmdatafocus/billing_backend/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateCustomer(t *testing.T) {
	setupTestDB(t)
	ctx := testContext()

	customer, err := models.CreateCustomer(ctx, &models.NewCustomer{
		Name:  "  City Pharmacy ",
		Phone: "98765 43210",
		Email: "orders@citypharmacy.in",
	})
	require.NoError(t, err)
	assert.Equal(t, "City Pharmacy", customer.Name)
	assert.Equal(t, "+919876543210", customer.Phone)
	assert.Equal(t, models.PaymentTypeCash, customer.PaymentType)
	assert.True(t, customer.OutstandingBalance.IsZero())
	assert.True(t, *customer.IsActive)

	var ve *utils.ValidationError
	_, err = models.CreateCustomer(ctx, &models.NewCustomer{Name: "City Pharmacy"})
	require.True(t, errors.As(err, &ve), "duplicate name: %v", err)
	assert.Equal(t, "name", ve.Field)

	_, err = models.CreateCustomer(ctx, &models.NewCustomer{Name: "Bad Phone", Phone: "12"})
	require.True(t, errors.As(err, &ve), "bad phone: %v", err)
	assert.Equal(t, "phone", ve.Field)

	_, err = models.CreateCustomer(ctx, &models.NewCustomer{Name: "Bad Mail", Email: "nope"})
	assert.True(t, errors.As(err, &ve), "bad email: %v", err)

	_, err = models.CreateCustomer(ctx, &models.NewCustomer{Name: "Barter", PaymentType: "Barter"})
	assert.True(t, errors.As(err, &ve), "bad payment type: %v", err)

	_, err = models.CreateCustomer(ctx, &models.NewCustomer{})
	assert.True(t, errors.As(err, &ve), "missing name: %v", err)
}

func TestUpdateCustomer_KeepsBalance(t *testing.T) {
	db := setupTestDB(t)
	ctx := testContext()
	customer := mustCustomer(t, ctx, "City Pharmacy", models.PaymentTypeCredit)
	_, err := models.CreateManualEntry(ctx, &models.NewManualEntry{CustomerId: customer.ID, Amount: dec("250"), Description: "Opening"})
	require.NoError(t, err)

	updated, err := models.UpdateCustomer(ctx, customer.ID, &models.NewCustomer{Name: "City Pharmacy Ltd", PaymentType: models.PaymentTypeCredit})
	require.NoError(t, err)
	assert.Equal(t, "City Pharmacy Ltd", updated.Name)
	assert.True(t, updated.OutstandingBalance.Equal(dec("250")))

	// renaming to its own name is not a duplicate
	_, err = models.UpdateCustomer(ctx, customer.ID, &models.NewCustomer{Name: "City Pharmacy Ltd"})
	require.NoError(t, err)

	_, err = models.UpdateCustomer(ctx, 999, &models.NewCustomer{Name: "Ghost"})
	assert.ErrorIs(t, err, utils.ErrorRecordNotFound)
	requireLedgerInvariants(t, db)
}

func TestToggleActiveCustomer(t *testing.T) {
	setupTestDB(t)
	ctx := testContext()
	customer := mustCustomer(t, ctx, "City Pharmacy", models.PaymentTypeCash)

	off, err := models.ToggleActiveCustomer(ctx, customer.ID, false)
	require.NoError(t, err)
	assert.False(t, *off.IsActive)

	active := true
	listed, err := models.ListCustomers(ctx, models.CustomerFilter{IsActive: &active})
	require.NoError(t, err)
	assert.Empty(t, listed)

	on, err := models.ToggleActiveCustomer(ctx, customer.ID, true)
	require.NoError(t, err)
	assert.True(t, *on.IsActive)
}
