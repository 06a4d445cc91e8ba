package redis

import "strings"

const keyNamespace = "pc"

// Key families. Every key is "pc:<family>:<parts...>".
const (
	familyIdempotency = "idempotency"
	familyGateway     = "gateway"
	familyWebhook     = "webhook"
	familyLock        = "lock"
)

// IdempotencyKey namespaces request and consumer idempotency claims.
func (c *Client) IdempotencyKey(scope, id string) string {
	return buildKey(familyIdempotency, scope, id)
}

// GatewayResponseKey namespaces cached provider responses.
func (c *Client) GatewayResponseKey(provider, key string) string {
	return buildKey(familyGateway, provider, key)
}

// WebhookKey namespaces the short-lived webhook delivery guard.
func (c *Client) WebhookKey(provider, eventID string) string {
	return buildKey(familyWebhook, provider, eventID)
}

// LockKey names a lease, e.g. LockKey("cron-worker", "prod").
func (c *Client) LockKey(parts ...string) string {
	return buildKey(append([]string{familyLock}, parts...)...)
}

// buildKey drops blank parts so a missing scope never yields "::".
func buildKey(parts ...string) string {
	var b strings.Builder
	b.WriteString(keyNamespace)
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			b.WriteByte(':')
			b.WriteString(part)
		}
	}
	return b.String()
}
