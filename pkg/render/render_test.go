package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageTemplates(t *testing.T) {
	e, err := New()
	require.NoError(t, err)

	tests := []struct {
		kind      string
		data      any
		wantTitle string
		wantBody  string
	}{
		{
			kind:      "payment_confirmed",
			data:      map[string]any{"Amount": 130.0, "Token": "1"},
			wantTitle: "Payment Confirmed",
			wantBody:  "Your payment of ₹130.00 for token #1 has been confirmed.",
		},
		{
			kind:      "order_verified",
			data:      map[string]any{"Token": "7"},
			wantTitle: "Order Verified!",
			wantBody:  "Your order (token #7) has been verified. Enjoy your meal!",
		},
		{
			kind:      "daily_reminder",
			data:      map[string]any{"Name": "Asha"},
			wantTitle: "MessMate Order Reminder",
			wantBody:  "Hi Asha, don't forget to place your meal order for today! Orders close soon.",
		},
		{
			kind:      "payment_reminder",
			data:      map[string]any{"Name": "Ravi"},
			wantTitle: "Last Call for Orders!",
			wantBody:  "Hi Ravi, this is your final reminder to place your meal order for today.",
		},
		{
			kind:      "producer_alert",
			data:      map[string]any{"Count": 1},
			wantTitle: "Students yet to order",
			wantBody:  "1 student has not ordered today.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			title, body, err := e.Message(tt.kind, tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTitle, title)
			assert.Equal(t, tt.wantBody, body)
		})
	}
}

func TestUnknownTemplate(t *testing.T) {
	e, err := New()
	require.NoError(t, err)

	_, _, err = e.Message("carrier_pigeon", nil)
	assert.Error(t, err)
}
