package enums

import "slices"

// InvoiceStatus tracks the lifecycle of a billable invoice.
type InvoiceStatus string

const (
	InvoiceStatusPending   InvoiceStatus = "pending"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
	InvoiceStatusRefunded  InvoiceStatus = "refunded"
)

var invoiceStatuses = []InvoiceStatus{
	InvoiceStatusPending,
	InvoiceStatusPaid,
	InvoiceStatusCancelled,
	InvoiceStatusRefunded,
}

// invoiceLifecycle is the complete set of allowed invoice moves. Refunds are
// only possible after capture.
var invoiceLifecycle = lifecycle[InvoiceStatus]{
	InvoiceStatusPending: {InvoiceStatusPaid, InvoiceStatusCancelled},
	InvoiceStatusPaid:    {InvoiceStatusRefunded},
}

func (s InvoiceStatus) String() string { return string(s) }

// IsValid reports whether the value is a known InvoiceStatus.
func (s InvoiceStatus) IsValid() bool { return slices.Contains(invoiceStatuses, s) }

func (s InvoiceStatus) CanTransitionTo(next InvoiceStatus) bool {
	return invoiceLifecycle.allows(s, next)
}
