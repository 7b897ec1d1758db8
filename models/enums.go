package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

type PaymentType string

const (
	PaymentTypeCash   PaymentType = "Cash"
	PaymentTypeCredit PaymentType = "Credit"
)

func (t PaymentType) IsValid() bool {
	return t == PaymentTypeCash || t == PaymentTypeCredit
}

// convert input to enum type
func (t *PaymentType) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("payment type must be string")
	}
	switch str {
	case "Cash":
		*t = PaymentTypeCash
	case "Credit":
		*t = PaymentTypeCredit
	default:
		return fmt.Errorf("invalid payment type %q", str)
	}
	return nil
}

type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "Draft"
	InvoiceStatusPrinted   InvoiceStatus = "Printed"
	InvoiceStatusCancelled InvoiceStatus = "Cancelled"
)

func (s InvoiceStatus) IsValid() bool {
	switch s {
	case InvoiceStatusDraft, InvoiceStatusPrinted, InvoiceStatusCancelled:
		return true
	}
	return false
}

func (s *InvoiceStatus) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("invoice status must be string")
	}
	v := InvoiceStatus(str)
	if !v.IsValid() {
		return fmt.Errorf("invalid invoice status %q", str)
	}
	*s = v
	return nil
}

type StockMovementReason string

const (
	StockMovementReasonSale      StockMovementReason = "sale"
	StockMovementReasonManualIn  StockMovementReason = "manual-in"
	StockMovementReasonManualOut StockMovementReason = "manual-out"
	StockMovementReasonReversal  StockMovementReason = "reversal"
)

type BalanceEntryKind string

const (
	BalanceEntryKindInvoice              BalanceEntryKind = "invoice"
	BalanceEntryKindPayment              BalanceEntryKind = "payment"
	BalanceEntryKindManualOpeningBalance BalanceEntryKind = "manual-opening-balance"
	BalanceEntryKindReversal             BalanceEntryKind = "reversal"
)

type StockAdjustmentType string

const (
	StockAdjustmentTypeIn  StockAdjustmentType = "in"
	StockAdjustmentTypeOut StockAdjustmentType = "out"
)

func (t *StockAdjustmentType) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("adjustment type must be string")
	}
	switch str {
	case "in":
		*t = StockAdjustmentTypeIn
	case "out":
		*t = StockAdjustmentTypeOut
	default:
		return fmt.Errorf("invalid adjustment type %q", str)
	}
	return nil
}

type PaymentMode string

const (
	PaymentModeCash   PaymentMode = "Cash"
	PaymentModeBank   PaymentMode = "Bank"
	PaymentModeUPI    PaymentMode = "UPI"
	PaymentModeCheque PaymentMode = "Cheque"
)

func (m PaymentMode) IsValid() bool {
	switch m {
	case PaymentModeCash, PaymentModeBank, PaymentModeUPI, PaymentModeCheque:
		return true
	}
	return false
}

// history action types
const (
	HistoryActionCreate  = "CREATE"
	HistoryActionUpdate  = "UPDATE"
	HistoryActionCancel  = "CANCEL"
	HistoryActionDelete  = "DELETE"
	HistoryActionAdjust  = "ADJUST"
	HistoryActionReverse = "REVERSE"
)

type LedgerEventAction string

const (
	LedgerEventActionCreate  LedgerEventAction = "Create"
	LedgerEventActionUpdate  LedgerEventAction = "Update"
	LedgerEventActionCancel  LedgerEventAction = "Cancel"
	LedgerEventActionDelete  LedgerEventAction = "Delete"
	LedgerEventActionAdjust  LedgerEventAction = "Adjust"
	LedgerEventActionReverse LedgerEventAction = "Reverse"
)

// reference types, one per table that history and ledger events point at
const (
	ReferenceTypeProduct         = "products"
	ReferenceTypeCustomer        = "customers"
	ReferenceTypeInvoice         = "invoices"
	ReferenceTypeManualEntry     = "manual_entries"
	ReferenceTypeCustomerPayment = "customer_payments"
)
