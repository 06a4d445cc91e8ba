package enums

// PaymentMode selects between a one-time order and a recurring subscription.
type PaymentMode string

const (
	PaymentModePayment      PaymentMode = "payment"
	PaymentModeSubscription PaymentMode = "subscription"
)
