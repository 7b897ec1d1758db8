package models_test

import (
	"errors"
	"testing"

	"github.com/mmdatafocus/billing_backend/models"
	"github.com/mmdatafocus/billing_backend/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordCustomerPayment_ReducesBalance(t *testing.T) {
	db := setupTestDB(t)
	ctx := testContext()
	product := mustProduct(t, ctx, "Paracetamol", "100", "12", 100)
	customer := mustCustomer(t, ctx, "City Pharmacy", models.PaymentTypeCredit)

	_, err := models.CreateInvoice(ctx, &models.NewInvoice{
		CustomerId: customer.ID,
		Items:      []models.NewInvoiceLine{schemeLine(product.ID)},
	})
	require.NoError(t, err)

	payment, err := models.RecordCustomerPayment(ctx, &models.NewCustomerPayment{
		CustomerId:      customer.ID,
		Amount:          dec("500"),
		PaymentMode:     models.PaymentModeUPI,
		ReferenceNumber: "UPI-1234",
	})
	require.NoError(t, err)
	require.NotNil(t, payment.BalanceEntryId)
	assert.True(t, reloadCustomer(t, db, customer.ID).OutstandingBalance.Equal(dec("10.72")))

	entries, err := models.ListBalanceEntries(ctx, models.BalanceEntryFilter{CustomerId: customer.ID, Kind: models.BalanceEntryKindPayment})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Amount.Equal(dec("-500")))
	assert.True(t, entries[0].ClosingBalance.Equal(dec("10.72")))

	reversed, err := models.DeleteCustomerPayment(ctx, payment.ID)
	require.NoError(t, err)
	assert.True(t, reversed.IsReversed)
	assert.True(t, reloadCustomer(t, db, customer.ID).OutstandingBalance.Equal(dec("510.72")))

	_, err = models.DeleteCustomerPayment(ctx, payment.ID)
	require.NoError(t, err)
	assert.True(t, reloadCustomer(t, db, customer.ID).OutstandingBalance.Equal(dec("510.72")))

	payments, err := models.ListCustomerPayments(ctx, customer.ID, models.Pagination{})
	require.NoError(t, err)
	assert.Len(t, payments, 1)
	requireLedgerInvariants(t, db)
}

func TestRecordCustomerPayment_Validation(t *testing.T) {
	setupTestDB(t)
	ctx := testContext()
	customer := mustCustomer(t, ctx, "City Pharmacy", models.PaymentTypeCredit)

	var ve *utils.ValidationError
	_, err := models.RecordCustomerPayment(ctx, &models.NewCustomerPayment{CustomerId: customer.ID, Amount: dec("0"), PaymentMode: models.PaymentModeCash})
	assert.True(t, errors.As(err, &ve), "zero amount: %v", err)
	_, err = models.RecordCustomerPayment(ctx, &models.NewCustomerPayment{CustomerId: customer.ID, Amount: dec("10"), PaymentMode: "Barter"})
	assert.True(t, errors.As(err, &ve), "bad mode: %v", err)
	_, err = models.RecordCustomerPayment(ctx, &models.NewCustomerPayment{CustomerId: 999, Amount: dec("10"), PaymentMode: models.PaymentModeCash})
	assert.ErrorIs(t, err, utils.ErrorRecordNotFound)
}
