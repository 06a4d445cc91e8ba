package enums

import "slices"

// SubscriptionStatus is the local subscription state.
type SubscriptionStatus string

const (
	SubscriptionStatusPending   SubscriptionStatus = "pending"
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
)

var subscriptionStatuses = []SubscriptionStatus{
	SubscriptionStatusPending,
	SubscriptionStatusActive,
	SubscriptionStatusCancelled,
	SubscriptionStatusExpired,
}

// Cancelled and expired subscriptions never come back; a renewal is a new row.
var subscriptionLifecycle = lifecycle[SubscriptionStatus]{
	SubscriptionStatusPending: {SubscriptionStatusActive, SubscriptionStatusCancelled},
	SubscriptionStatusActive:  {SubscriptionStatusCancelled, SubscriptionStatusExpired},
}

func (s SubscriptionStatus) String() string { return string(s) }

func (s SubscriptionStatus) IsValid() bool { return slices.Contains(subscriptionStatuses, s) }

func (s SubscriptionStatus) IsTerminal() bool { return subscriptionLifecycle.terminal(s) }

func (s SubscriptionStatus) CanTransitionTo(next SubscriptionStatus) bool {
	return subscriptionLifecycle.allows(s, next)
}
