package types

import (
	"math/big"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
)

// PaymentEventRow mirrors the payment_events BigQuery schema. One row per
// published event; columns that do not apply to an event type stay null.
type PaymentEventRow struct {
	EventID        string             `bigquery:"event_id"`
	EventType      string             `bigquery:"event_type"`
	AggregateType  string             `bigquery:"aggregate_type"`
	AggregateID    string             `bigquery:"aggregate_id"`
	OccurredAt     time.Time          `bigquery:"occurred_at"`
	IngestedAt     time.Time          `bigquery:"ingested_at"`
	Provider       string             `bigquery:"provider"`
	InvoiceID      *string            `bigquery:"invoice_id"`
	SubscriptionID *string            `bigquery:"subscription_id"`
	UserID         *string            `bigquery:"user_id"`
	ExternalRef    *string            `bigquery:"external_ref"`
	Amount         *big.Rat           `bigquery:"amount"`
	Currency       *string            `bigquery:"currency"`
	ErrorCode      *string            `bigquery:"error_code"`
	Payload        cbigquery.NullJSON `bigquery:"payload"`
}

// PaymentEventSchema is the table definition used when the analytics worker
// is allowed to create payment_events. It must stay in step with
// PaymentEventRow.
func PaymentEventSchema() cbigquery.Schema {
	required := func(name string, t cbigquery.FieldType) *cbigquery.FieldSchema {
		return &cbigquery.FieldSchema{Name: name, Type: t, Required: true}
	}
	nullable := func(name string, t cbigquery.FieldType) *cbigquery.FieldSchema {
		return &cbigquery.FieldSchema{Name: name, Type: t}
	}
	return cbigquery.Schema{
		required("event_id", cbigquery.StringFieldType),
		required("event_type", cbigquery.StringFieldType),
		required("aggregate_type", cbigquery.StringFieldType),
		required("aggregate_id", cbigquery.StringFieldType),
		required("occurred_at", cbigquery.TimestampFieldType),
		required("ingested_at", cbigquery.TimestampFieldType),
		nullable("provider", cbigquery.StringFieldType),
		nullable("invoice_id", cbigquery.StringFieldType),
		nullable("subscription_id", cbigquery.StringFieldType),
		nullable("user_id", cbigquery.StringFieldType),
		nullable("external_ref", cbigquery.StringFieldType),
		nullable("amount", cbigquery.NumericFieldType),
		nullable("currency", cbigquery.StringFieldType),
		nullable("error_code", cbigquery.StringFieldType),
		nullable("payload", cbigquery.JSONFieldType),
	}
}
