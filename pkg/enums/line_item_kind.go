package enums

import "slices"

// LineItemKind identifies what an invoice line item purchases.
type LineItemKind string

const (
	LineItemKindPlan        LineItemKind = "plan"
	LineItemKindTokenBundle LineItemKind = "token_bundle"
	LineItemKindAddOn       LineItemKind = "add_on"
)

var lineItemKinds = []LineItemKind{LineItemKindPlan, LineItemKindTokenBundle, LineItemKindAddOn}

func (k LineItemKind) IsValid() bool { return slices.Contains(lineItemKinds, k) }
