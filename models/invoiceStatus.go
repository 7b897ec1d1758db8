package models

import (
	"github.com/mmdatafocus/billing_backend/utils"
)

// invoiceTransitions is the closed set of allowed status changes. Cancelled is terminal.
var invoiceTransitions = map[InvoiceStatus][]InvoiceStatus{
	InvoiceStatusDraft:     {InvoiceStatusPrinted, InvoiceStatusCancelled},
	InvoiceStatusPrinted:   {InvoiceStatusCancelled},
	InvoiceStatusCancelled: {},
}

func (s InvoiceStatus) CanTransitionTo(next InvoiceStatus) bool {
	for _, allowed := range invoiceTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func validateInvoiceTransition(from, to InvoiceStatus) error {
	if !to.IsValid() {
		return utils.NewValidationError("status", "unknown invoice status %q", to)
	}
	if !from.CanTransitionTo(to) {
		return utils.NewValidationError("status", "cannot change invoice status from %s to %s", from, to)
	}
	return nil
}
