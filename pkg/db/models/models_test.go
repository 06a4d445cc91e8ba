package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/paycore/pkg/enums"
)

func TestBeforeCreateRejectsUnknownEnumValues(t *testing.T) {
	require.ErrorContains(t, (&Plan{BillingPeriod: "fortnightly"}).BeforeCreate(nil), "plans.billing_period")
	require.ErrorContains(t, (&Subscription{Status: "paused"}).BeforeCreate(nil), "subscriptions.status")
	require.ErrorContains(t, (&Invoice{Status: "void"}).BeforeCreate(nil), "invoices.status")
	require.ErrorContains(t, (&InvoiceLineItem{Kind: "coupon"}).BeforeCreate(nil), "invoice_line_items.kind")
	require.ErrorContains(t, (&TokenTransaction{Type: "gift"}).BeforeCreate(nil), "token_transactions.type")
}

func TestBeforeCreateLeavesDefaultsToPostgres(t *testing.T) {
	sub := &Subscription{}
	require.NoError(t, sub.BeforeCreate(nil))
	require.NotEqual(t, uuid.Nil, sub.ID)

	inv := &Invoice{
		Status:    enums.InvoiceStatusPending,
		LineItems: []InvoiceLineItem{{Kind: enums.LineItemKindTokenBundle}},
	}
	require.NoError(t, inv.BeforeCreate(nil))
	require.Equal(t, inv.ID, inv.LineItems[0].InvoiceID)
}
