package enums

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvoiceStatusTransitions(t *testing.T) {
	all := []InvoiceStatus{InvoiceStatusPending, InvoiceStatusPaid, InvoiceStatusCancelled, InvoiceStatusRefunded}
	allowed := map[[2]InvoiceStatus]bool{
		{InvoiceStatusPending, InvoiceStatusPaid}:      true,
		{InvoiceStatusPending, InvoiceStatusCancelled}: true,
		{InvoiceStatusPaid, InvoiceStatusRefunded}:     true,
	}
	for _, from := range all {
		for _, to := range all {
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				assert.Equal(t, allowed[[2]InvoiceStatus{from, to}], from.CanTransitionTo(to))
			})
		}
	}
}

func TestSubscriptionStatusTransitions(t *testing.T) {
	assert.True(t, SubscriptionStatusPending.CanTransitionTo(SubscriptionStatusActive))
	assert.True(t, SubscriptionStatusActive.CanTransitionTo(SubscriptionStatusCancelled))
	assert.True(t, SubscriptionStatusActive.CanTransitionTo(SubscriptionStatusExpired))
	assert.False(t, SubscriptionStatusCancelled.CanTransitionTo(SubscriptionStatusActive))
	assert.False(t, SubscriptionStatusExpired.CanTransitionTo(SubscriptionStatusActive))
	assert.False(t, SubscriptionStatusPending.CanTransitionTo(SubscriptionStatusExpired))
	assert.True(t, SubscriptionStatusCancelled.IsTerminal())
	assert.False(t, SubscriptionStatusActive.IsTerminal())
}

func TestBillingPeriodAdvance(t *testing.T) {
	start := time.Date(2026, time.January, 31, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		period BillingPeriod
		want   time.Time
		ok     bool
	}{
		{BillingPeriodWeekly, start.AddDate(0, 0, 7), true},
		{BillingPeriodMonthly, start.AddDate(0, 1, 0), true},
		{BillingPeriodQuarterly, start.AddDate(0, 3, 0), true},
		{BillingPeriodYearly, start.AddDate(1, 0, 0), true},
		{BillingPeriodOneTime, time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.period), func(t *testing.T) {
			got, ok := tt.period.Advance(start)
			assert.Equal(t, tt.ok, ok)
			assert.True(t, tt.want.Equal(got))
		})
	}
	assert.False(t, BillingPeriodOneTime.IsRecurring())
	assert.True(t, BillingPeriodMonthly.IsRecurring())
}

func TestTokenTransactionTypeDirection(t *testing.T) {
	assert.True(t, TokenTransactionPurchase.IsCredit())
	assert.True(t, TokenTransactionSubscription.IsCredit())
	assert.True(t, TokenTransactionRefund.IsDebit())
	assert.True(t, TokenTransactionUsage.IsDebit())
	assert.False(t, TokenTransactionRefund.IsCredit())
	assert.False(t, TokenTransactionType("gift").IsValid())
}

func TestPluginStateTransitions(t *testing.T) {
	assert.True(t, PluginStateDiscovered.CanTransitionTo(PluginStateInitialized))
	assert.False(t, PluginStateDiscovered.CanTransitionTo(PluginStateEnabled))
	assert.True(t, PluginStateInitialized.CanTransitionTo(PluginStateEnabled))
	assert.True(t, PluginStateEnabled.CanTransitionTo(PluginStateDisabled))
	assert.True(t, PluginStateDisabled.CanTransitionTo(PluginStateEnabled))
	assert.False(t, PluginStateError.CanTransitionTo(PluginStateEnabled))
	assert.True(t, PluginStateError.CanTransitionTo(PluginStateInitialized))
}

func TestParseOutboxTypes(t *testing.T) {
	eventType, err := ParseOutboxEventType("payment_refunded")
	require.NoError(t, err)
	assert.Equal(t, EventPaymentRefunded, eventType)
	_, err = ParseOutboxEventType("order_created")
	assert.Error(t, err)

	aggregate, err := ParseOutboxAggregateType("subscription")
	require.NoError(t, err)
	assert.Equal(t, AggregateSubscription, aggregate)
	_, err = ParseOutboxAggregateType("vendor_order")
	assert.Error(t, err)
}

func TestOutboxEventTypesRoundTrip(t *testing.T) {
	for _, et := range EventTypes() {
		parsed, err := ParseOutboxEventType(string(et))
		require.NoError(t, err)
		assert.Equal(t, et, parsed)
		assert.True(t, parsed.IsValid())
	}
	_, err := ParseOutboxEventType("order_created")
	require.ErrorContains(t, err, `invalid event type "order_created"`)
	_, err = ParseOutboxAggregateType("cart")
	require.Error(t, err)
}
