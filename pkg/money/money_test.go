package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToMinorUnits(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		currency string
		want     int64
		wantErr  bool
	}{
		{name: "usd", value: "10.00", currency: "usd", want: 1000},
		{name: "usd cents", value: "19.99", currency: "USD", want: 1999},
		{name: "jpy zero decimal", value: "500", currency: "JPY", want: 500},
		{name: "kwd three decimal", value: "1.234", currency: "KWD", want: 1234},
		{name: "usd sub-cent rejected", value: "10.001", currency: "USD", wantErr: true},
		{name: "jpy fraction rejected", value: "500.5", currency: "JPY", wantErr: true},
		{name: "negative rejected", value: "-1", currency: "USD", wantErr: true},
		{name: "missing currency", value: "1", currency: " ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amount := Amount{Value: decimal.RequireFromString(tt.value), Currency: tt.currency}
			got, err := ToMinorUnits(amount)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromMinorUnitsRoundTrip(t *testing.T) {
	amount := FromMinorUnits(1999, "usd")
	assert.Equal(t, "USD", amount.Currency)
	assert.True(t, amount.Value.Equal(decimal.RequireFromString("19.99")))

	minor, err := ToMinorUnits(amount)
	require.NoError(t, err)
	assert.Equal(t, int64(1999), minor)

	yen := FromMinorUnits(500, "JPY")
	assert.True(t, yen.Value.Equal(decimal.NewFromInt(500)))
}

func TestFormatAndParseDecimal(t *testing.T) {
	amount := Amount{Value: decimal.NewFromInt(10), Currency: "USD"}
	assert.Equal(t, "10.00", FormatDecimal(amount))
	assert.Equal(t, "500", FormatDecimal(Amount{Value: decimal.NewFromInt(500), Currency: "JPY"}))

	parsed, err := ParseDecimal("10.00", "usd")
	require.NoError(t, err)
	assert.True(t, parsed.Equal(amount))

	_, err = ParseDecimal("ten", "USD")
	require.Error(t, err)
}

func TestNewValidates(t *testing.T) {
	_, err := New(decimal.NewFromInt(1), "")
	require.ErrorIs(t, err, ErrCurrencyRequired)

	_, err = New(decimal.NewFromInt(-1), "USD")
	require.ErrorIs(t, err, ErrNegativeAmount)

	a, err := New(decimal.RequireFromString("5.50"), " eur ")
	require.NoError(t, err)
	assert.Equal(t, "5.50 EUR", a.String())
}
