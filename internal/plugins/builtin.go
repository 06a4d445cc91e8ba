package plugins

import (
	"github.com/angelmondragon/paycore/pkg/mockpay"
	"github.com/angelmondragon/paycore/pkg/paypal"
	"github.com/angelmondragon/paycore/pkg/square"
	"github.com/angelmondragon/paycore/pkg/stripe"
)

// Builtins lists the providers shipped with the service.
func Builtins() []Descriptor {
	return []Descriptor{
		{
			Provider:            stripe.Provider,
			DisplayName:         "Stripe",
			RequiredCredentials: []string{stripe.CredentialAPIKey, stripe.CredentialWebhookSecret},
			Build:               stripe.New,
		},
		{
			Provider:    square.Provider,
			DisplayName: "Square",
			RequiredCredentials: []string{
				square.CredentialAccessToken,
				square.CredentialWebhookSignatureKey,
				square.CredentialLocationID,
				square.CredentialNotificationURL,
			},
			Build: square.New,
		},
		{
			Provider:            paypal.Provider,
			DisplayName:         "PayPal",
			RequiredCredentials: []string{paypal.CredentialClientID, paypal.CredentialClientSecret, paypal.CredentialWebhookID},
			Build:               paypal.New,
		},
		{
			Provider:            mockpay.Provider,
			DisplayName:         "Mock",
			RequiredCredentials: []string{mockpay.CredentialWebhookSecret},
			Build:               mockpay.New,
		},
	}
}
