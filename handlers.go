package main

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/billing_backend/config"
	"github.com/mmdatafocus/billing_backend/models"
	"github.com/mmdatafocus/billing_backend/utils"
	"github.com/mmdatafocus/billing_backend/workflow"
)

// statusForError maps engine errors to HTTP statuses. Order matters: a ReversalError wraps a storage error.
func statusForError(err error) int {
	var (
		validationErr *utils.ValidationError
		stockErr      *utils.InsufficientStockError
		consistentErr *utils.ConsistencyError
		reversalErr   *utils.ReversalError
	)
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	case errors.Is(err, utils.ErrorRecordNotFound):
		return http.StatusNotFound
	case errors.As(err, &stockErr):
		return http.StatusConflict
	case errors.As(err, &consistentErr):
		return http.StatusInternalServerError
	case errors.As(err, &reversalErr):
		return http.StatusServiceUnavailable
	case errors.Is(err, utils.ErrStorageTimeout), errors.Is(err, utils.ErrLockNotObtained):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	status := statusForError(err)
	body := gin.H{"error": err.Error()}

	var validationErr *utils.ValidationError
	if errors.As(err, &validationErr) && validationErr.Field != "" {
		body["field"] = validationErr.Field
	}
	var stockErr *utils.InsufficientStockError
	if errors.As(err, &stockErr) {
		body["product_id"] = stockErr.ProductId
		body["available"] = stockErr.Available
		body["requested"] = stockErr.Requested
	}
	// a reversal blocked by a diverged cache maps to 500 and stays blocked until reconciled by hand
	var reversalErr *utils.ReversalError
	if errors.As(err, &reversalErr) && status == http.StatusServiceUnavailable {
		body["retryable"] = reversalErr.Retryable()
	}
	// domain errors are logged where they are raised
	if !utils.IsDomainError(err) {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, body)
}

func idParam(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		respondError(c, utils.NewValidationError("id", "must be a positive integer"))
		return 0, false
	}
	return id, true
}

func bindJSON(c *gin.Context, input any) bool {
	if err := c.ShouldBindJSON(input); err != nil {
		respondError(c, utils.NewValidationError("body", "%s", err.Error()))
		return false
	}
	return true
}

func bindQuery(c *gin.Context, filter any) bool {
	if err := c.ShouldBindQuery(filter); err != nil {
		respondError(c, utils.NewValidationError("query", "%s", err.Error()))
		return false
	}
	return true
}

// products

func createProductHandler(c *gin.Context) {
	var input models.NewProduct
	if !bindJSON(c, &input) {
		return
	}
	product, err := models.CreateProduct(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

func updateProductHandler(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var input models.UpdateProduct
	if !bindJSON(c, &input) {
		return
	}
	product, err := models.UpdateProductInfo(c.Request.Context(), id, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func getProductHandler(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	product, err := models.GetProduct(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func listProductsHandler(c *gin.Context) {
	var filter models.ProductFilter
	if !bindQuery(c, &filter) {
		return
	}
	products, err := models.ListProducts(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, products)
}

func adjustStockHandler(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var input models.NewStockAdjustment
	if !bindJSON(c, &input) {
		return
	}
	product, err := models.AdjustStock(c.Request.Context(), id, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func listProductMovementsHandler(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var filter models.StockMovementFilter
	if !bindQuery(c, &filter) {
		return
	}
	filter.ProductId = id
	movements, err := models.ListStockMovements(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, movements)
}

// customers

func createCustomerHandler(c *gin.Context) {
	var input models.NewCustomer
	if !bindJSON(c, &input) {
		return
	}
	customer, err := models.CreateCustomer(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, customer)
}

func updateCustomerHandler(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var input models.NewCustomer
	if !bindJSON(c, &input) {
		return
	}
	customer, err := models.UpdateCustomer(c.Request.Context(), id, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, customer)
}

type toggleActiveRequest struct {
	IsActive *bool `json:"is_active" binding:"required"`
}

func toggleActiveCustomerHandler(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req toggleActiveRequest
	if !bindJSON(c, &req) {
		return
	}
	customer, err := models.ToggleActiveCustomer(c.Request.Context(), id, *req.IsActive)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, customer)
}

func getCustomerHandler(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	customer, err := models.GetCustomer(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, customer)
}

func listCustomersHandler(c *gin.Context) {
	var filter models.CustomerFilter
	if !bindQuery(c, &filter) {
		return
	}
	customers, err := models.ListCustomers(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, customers)
}

func customerLedgerHandler(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	ledger, err := models.GetCustomerLedger(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ledger)
}

func listBalanceEntriesHandler(c *gin.Context) {
	var filter models.BalanceEntryFilter
	if !bindQuery(c, &filter) {
		return
	}
	entries, err := models.ListBalanceEntries(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func recordPaymentHandler(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var input models.NewCustomerPayment
	if !bindJSON(c, &input) {
		return
	}
	input.CustomerId = id
	payment, err := models.RecordCustomerPayment(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, payment)
}

func listPaymentsHandler(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var page models.Pagination
	if !bindQuery(c, &page) {
		return
	}
	payments, err := models.ListCustomerPayments(c.Request.Context(), id, page)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, payments)
}

func deletePaymentHandler(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	payment, err := models.DeleteCustomerPayment(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

// invoices

func createInvoiceHandler(c *gin.Context) {
	var input models.NewInvoice
	if !bindJSON(c, &input) {
		return
	}
	invoice, err := models.CreateInvoice(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, invoice)
}

type previewInvoiceRequest struct {
	Items []models.NewInvoiceLine `json:"items"`
}

func previewInvoiceHandler(c *gin.Context) {
	var req previewInvoiceRequest
	if !bindJSON(c, &req) {
		return
	}
	totals, err := models.PreviewInvoiceTotals(c.Request.Context(), req.Items)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, totals)
}

func getInvoiceHandler(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	invoice, err := models.GetInvoice(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, invoice)
}

func listInvoicesHandler(c *gin.Context) {
	var filter models.InvoiceFilter
	if !bindQuery(c, &filter) {
		return
	}
	invoices, err := models.ListInvoices(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, invoices)
}

type updateInvoiceStatusRequest struct {
	Status models.InvoiceStatus `json:"status" binding:"required"`
	Reason string               `json:"reason"`
}

func updateInvoiceStatusHandler(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req updateInvoiceStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	var (
		invoice *models.Invoice
		err     error
	)
	if req.Status == models.InvoiceStatusCancelled {
		invoice, err = models.CancelInvoice(c.Request.Context(), id, req.Reason)
	} else {
		invoice, err = models.UpdateInvoiceStatus(c.Request.Context(), id, req.Status)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, invoice)
}

func deleteInvoiceHandler(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := models.DeleteInvoice(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func invoiceLedgerHandler(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	effects, err := models.GetInvoiceLedgerEffects(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, effects)
}

type retryReversalRequest struct {
	Reason string `json:"reason"`
}

func retryInvoiceReversalHandler(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req retryReversalRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	count, err := models.RetryInvoiceReversal(c.Request.Context(), id, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoice_id": id, "reversal_rows": count})
}

// manual entries

func createManualEntryHandler(c *gin.Context) {
	var input models.NewManualEntry
	if !bindJSON(c, &input) {
		return
	}
	entry, err := models.CreateManualEntry(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

type manualEntryQuery struct {
	CustomerId int `form:"customer_id"`
	models.Pagination
}

func listManualEntriesHandler(c *gin.Context) {
	var q manualEntryQuery
	if !bindQuery(c, &q) {
		return
	}
	entries, err := models.ListManualEntries(c.Request.Context(), q.CustomerId, q.Pagination)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func deleteManualEntryHandler(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	entry, err := models.DeleteManualEntry(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// history and ops

type historyQuery struct {
	ReferenceType string `form:"reference_type"`
	ReferenceId   int    `form:"reference_id"`
	Limit         int    `form:"limit"`
}

func listHistoryHandler(c *gin.Context) {
	var q historyQuery
	if !bindQuery(c, &q) {
		return
	}
	history, err := models.ListHistory(c.Request.Context(), q.ReferenceType, q.ReferenceId, q.Limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

func reconcileHandler(c *gin.Context) {
	summary, reports, err := workflow.RunReconciliation(c.Request.Context(), config.GetLogger(), "")
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary, "reports": reports})
}

func listReconciliationReportsHandler(c *gin.Context) {
	reports, err := models.ListReconciliationReports(c.Request.Context(), c.Query("run_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, reports)
}

func requeueLedgerEventHandler(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	record, err := models.RequeueLedgerEvent(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}
