package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/mmdatafocus/billing_backend/config"
	"github.com/mmdatafocus/billing_backend/models"
	"github.com/mmdatafocus/billing_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type apiClient struct {
	t      *testing.T
	router http.Handler
	token  string
}

func setupAPI(t *testing.T) (*apiClient, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
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

	token, err := utils.JwtGenerate(1, "owner@shop", utils.RoleAdmin)
	require.NoError(t, err)
	silent, _ := test.NewNullLogger()
	return &apiClient{t: t, router: setupRouter(silent), token: token}, db
}

func (a *apiClient) do(method, path string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestStatusForError(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{utils.NewValidationError("x", "bad"), http.StatusBadRequest},
		{&utils.NotFoundError{Resource: "invoice", ID: 1}, http.StatusNotFound},
		{&utils.InsufficientStockError{ProductId: 1}, http.StatusConflict},
		{&utils.ConsistencyError{Entity: "product", ID: 1}, http.StatusInternalServerError},
		{&utils.ReversalError{InvoiceId: 1, Err: utils.ErrStorageTimeout}, http.StatusServiceUnavailable},
		{&utils.ReversalError{InvoiceId: 1, Err: &utils.ConsistencyError{Entity: "customer", ID: 1}}, http.StatusInternalServerError},
		{fmt.Errorf("wrapped: %w", utils.ErrStorageTimeout), http.StatusServiceUnavailable},
		{utils.ErrLockNotObtained, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusForError(tc.err), "%v", tc.err)
	}
}

func TestRespondError_RetryableOnlyWhenUnavailable(t *testing.T) {
	gin.SetMode(gin.TestMode)
	respond := func(err error) (*httptest.ResponseRecorder, *gin.Context) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		respondError(c, err)
		return w, c
	}

	w, c := respond(&utils.ReversalError{InvoiceId: 1, Err: &utils.ConsistencyError{Entity: "customer", ID: 1}})
	require.Equal(t, http.StatusInternalServerError, w.Code)
	body := decodeBody[map[string]any](t, w)
	assert.NotContains(t, body, "retryable")
	assert.Empty(t, c.Errors)

	w, c = respond(&utils.ReversalError{InvoiceId: 1, Err: utils.ErrStorageTimeout})
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	body = decodeBody[map[string]any](t, w)
	assert.Equal(t, true, body["retryable"])
	assert.Len(t, c.Errors, 1)

	w, c = respond(utils.NewValidationError("status", "bad"))
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "status", decodeBody[map[string]any](t, w)["field"])
	assert.Empty(t, c.Errors)
}

func TestAPI_InvoiceLifecycle(t *testing.T) {
	api, db := setupAPI(t)

	w := api.do(http.MethodPost, "/api/products", gin.H{"name": "Paracetamol", "rate": "100", "mrp": "120", "gst_percentage": 12, "opening_stock": 100})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	product := decodeBody[models.Product](t, w)

	w = api.do(http.MethodPost, "/api/customers", gin.H{"name": "City Pharmacy", "phone": "9876543210", "payment_type": "Credit"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	customer := decodeBody[models.Customer](t, w)
	assert.Equal(t, "+919876543210", customer.Phone)

	line := gin.H{"product_id": product.ID, "quantity_sold": 5, "free_quantity": 1, "rate_per_unit": "120", "scheme_discount": "5"}

	w = api.do(http.MethodPost, "/api/invoices/preview", gin.H{"items": []gin.H{line}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	preview := decodeBody[models.InvoiceTotals](t, w)
	assert.True(t, preview.NetTotal.Equal(decimal.RequireFromString("510.72")))

	w = api.do(http.MethodPost, "/api/invoices", gin.H{"customer_id": customer.ID, "items": []gin.H{line}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	invoice := decodeBody[models.Invoice](t, w)
	assert.Equal(t, "INV-000001", invoice.InvoiceNumber)
	assert.NotEmpty(t, w.Header().Get("X-Correlation-Id"))

	w = api.do(http.MethodGet, fmt.Sprintf("/api/customers/%d/ledger", customer.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	ledger := decodeBody[models.CustomerLedger](t, w)
	assert.True(t, ledger.LedgerBalance.Equal(decimal.RequireFromString("510.72")))

	w = api.do(http.MethodPatch, fmt.Sprintf("/api/invoices/%d/status", invoice.ID), gin.H{"status": "Printed"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = api.do(http.MethodPatch, fmt.Sprintf("/api/invoices/%d/status", invoice.ID), gin.H{"status": "Draft"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(http.MethodPatch, fmt.Sprintf("/api/invoices/%d/status", invoice.ID), gin.H{"status": "Cancelled", "reason": "returned"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	cancelled := decodeBody[models.Invoice](t, w)
	assert.Equal(t, models.InvoiceStatusCancelled, cancelled.Status)
	assert.Equal(t, "returned", cancelled.CancelReason)

	// a cancelled invoice stays on record
	w = api.do(http.MethodDelete, fmt.Sprintf("/api/invoices/%d", invoice.ID), nil)
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	assert.Equal(t, "status", decodeBody[map[string]any](t, w)["field"])
	w = api.do(http.MethodGet, fmt.Sprintf("/api/invoices/%d", invoice.ID), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = api.do(http.MethodGet, fmt.Sprintf("/api/invoices/%d/ledger", invoice.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	effects := decodeBody[models.InvoiceLedgerEffects](t, w)
	assert.True(t, effects.NetBalance.IsZero())

	var p models.Product
	require.NoError(t, db.First(&p, product.ID).Error)
	assert.Equal(t, 100, p.CurrentStockQty)
}

func TestAPI_ErrorMapping(t *testing.T) {
	api, _ := setupAPI(t)

	w := api.do(http.MethodPost, "/api/products", gin.H{"name": "Syrup", "rate": "80", "opening_stock": 3})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	product := decodeBody[models.Product](t, w)
	w = api.do(http.MethodPost, "/api/customers", gin.H{"name": "Walk-in"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	customer := decodeBody[models.Customer](t, w)

	w = api.do(http.MethodPost, "/api/invoices", gin.H{"customer_id": customer.ID, "items": []gin.H{{"product_id": product.ID, "quantity_sold": 10}}})
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	body := decodeBody[map[string]any](t, w)
	assert.EqualValues(t, 3, body["available"])
	assert.EqualValues(t, 10, body["requested"])

	w = api.do(http.MethodPost, "/api/invoices", gin.H{"customer_id": customer.ID, "items": []gin.H{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(http.MethodPost, "/api/invoices", gin.H{"customer_id": 999, "items": []gin.H{{"product_id": product.ID, "quantity_sold": 1}}})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = api.do(http.MethodPost, fmt.Sprintf("/api/products/%d/adjust-stock", product.ID), gin.H{"quantity": 4, "type": "out", "reason": "Expired"})
	assert.Equal(t, http.StatusConflict, w.Code)
	w = api.do(http.MethodPost, fmt.Sprintf("/api/products/%d/adjust-stock", product.ID), gin.H{"quantity": 2, "type": "in", "reason": "Recount"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 5, decodeBody[models.Product](t, w).CurrentStockQty)

	w = api.do(http.MethodGet, "/api/invoices/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = api.do(http.MethodGet, "/api/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPI_ManualEntriesAreAdminOnly(t *testing.T) {
	api, _ := setupAPI(t)

	w := api.do(http.MethodPost, "/api/customers", gin.H{"name": "Old Account", "payment_type": "Credit"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	customer := decodeBody[models.Customer](t, w)
	entry := gin.H{"customer_id": customer.ID, "amount": "5000", "description": "Opening balance"}

	clerkToken, err := utils.JwtGenerate(2, "clerk@shop", "clerk")
	require.NoError(t, err)
	clerk := &apiClient{t: t, router: api.router, token: clerkToken}
	assert.Equal(t, http.StatusForbidden, clerk.do(http.MethodPost, "/api/manual-entries", entry).Code)

	anonymous := &apiClient{t: t, router: api.router}
	assert.Equal(t, http.StatusUnauthorized, anonymous.do(http.MethodPost, "/api/manual-entries", entry).Code)

	w = api.do(http.MethodPost, "/api/manual-entries", entry)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	posted := decodeBody[models.BalanceEntry](t, w)
	assert.True(t, posted.ExcludeFromAnalytics)

	w = api.do(http.MethodGet, fmt.Sprintf("/api/balance-entries?customer_id=%d", customer.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeBody[[]models.BalanceEntry](t, w))
	w = api.do(http.MethodGet, fmt.Sprintf("/api/balance-entries?customer_id=%d&include_excluded=true", customer.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[[]models.BalanceEntry](t, w), 1)

	w = api.do(http.MethodGet, "/api/history?reference_type=manual_entries", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, decodeBody[[]models.History](t, w))

	w = api.do(http.MethodPost, "/internal/ops/reconcile", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, http.StatusForbidden, clerk.do(http.MethodPost, "/internal/ops/reconcile", nil).Code)
}

func TestAPI_HealthzSkipsAuth(t *testing.T) {
	api, _ := setupAPI(t)
	anonymous := &apiClient{t: t, router: api.router}
	assert.Equal(t, http.StatusNoContent, anonymous.do(http.MethodGet, "/healthz", nil).Code)
}
