package enums

import "slices"

// TokenTransactionType labels a ledger row.
type TokenTransactionType string

const (
	TokenTransactionPurchase     TokenTransactionType = "purchase"
	TokenTransactionBonus        TokenTransactionType = "bonus"
	TokenTransactionSubscription TokenTransactionType = "subscription"
	TokenTransactionRefund       TokenTransactionType = "refund"
	TokenTransactionUsage        TokenTransactionType = "usage"
)

var creditTransactionTypes = []TokenTransactionType{
	TokenTransactionPurchase,
	TokenTransactionBonus,
	TokenTransactionSubscription,
}

var debitTransactionTypes = []TokenTransactionType{
	TokenTransactionRefund,
	TokenTransactionUsage,
}

// IsValid reports whether the value is a known TokenTransactionType.
func (t TokenTransactionType) IsValid() bool {
	return t.IsCredit() || t.IsDebit()
}

// IsCredit reports whether the type adds tokens.
func (t TokenTransactionType) IsCredit() bool {
	return slices.Contains(creditTransactionTypes, t)
}

// IsDebit reports whether the type removes tokens.
func (t TokenTransactionType) IsDebit() bool {
	return slices.Contains(debitTransactionTypes, t)
}
