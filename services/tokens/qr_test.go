package tokens

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messmate/pkg/apperr"
	"messmate/services/store"
)

func TestParseScan(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr string
	}{
		{"not json", "hello", "invalid QR payload"},
		{"missing email", `{"token":"1","meals":[{"name":"Masala Dosa","quantity":1,"price":40}]}`, "QR payload is missing userEmail"},
		{"no meals", `{"userEmail":"a@vvce.ac.in","token":"1","meals":[]}`, "QR payload has no meals"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScan(tt.raw)
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.Validation))
			assert.Equal(t, tt.wantErr, apperr.Reason(err))
		})
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	tok := &store.Token{
		Token:       "12",
		Day:         "2026-10-16",
		UserEmail:   "asha@vvce.ac.in",
		UserName:    "Asha",
		Meals:       store.JSONLines([]store.LineItem{{Name: "Idli Sambar", Quantity: 2, Price: 30}}),
		TotalAmount: 60,
	}
	raw, err := PayloadFor(tok).Encode()
	require.NoError(t, err)

	got, err := ParseScan("  " + raw + "\n")
	require.NoError(t, err)
	assert.Equal(t, PayloadFor(tok), got)
}

func TestQRCodeIsPNGDataURL(t *testing.T) {
	url, err := QRCode(`{"token":"1"}`)
	require.NoError(t, err)
	assert.Regexp(t, `^data:image/png;base64,[A-Za-z0-9+/=]+$`, url)
}

func TestAggregate(t *testing.T) {
	lines, total := Aggregate([]store.Order{
		{MealName: "Paneer Butter Masala", Price: 90},
		{MealName: "Masala Dosa", Price: 40},
		{MealName: "Masala Dosa", Price: 40},
	})
	assert.InDelta(t, 170, total, 0.001)
	assert.Equal(t, []store.LineItem{
		{Name: "Paneer Butter Masala", Quantity: 1, Price: 90},
		{Name: "Masala Dosa", Quantity: 2, Price: 40},
	}, lines)

	lines, total = Aggregate(nil)
	assert.Empty(t, lines)
	assert.Zero(t, total)
}
