package model

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.True(t, StatusProcessed.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, OrderStatus("Shipped").Valid())
}

func TestValidateOrder(t *testing.T) {
	require.NoError(t, ValidateOrder("Cola Zero", 3))

	cases := map[string]struct {
		item string
		qty  int
	}{
		"empty item":      {"", 1},
		"blank item":      {"   \t", 1},
		"zero quantity":   {"tea", 0},
		"negative amount": {"tea", -2},
		"long item":       {strings.Repeat("x", MaxItemLength+1), 1},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := ValidateOrder(tc.item, tc.qty)
			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			assert.NotEmpty(t, ve.Reason)
		})
	}
}

func TestOrderDispatch(t *testing.T) {
	o := Order{ID: "01J", Item: "Cola Zero", Quantity: 3, Status: StatusPending}
	assert.Equal(t, DispatchMessage{OrderID: "01J", Item: "Cola Zero", Quantity: 3}, o.Dispatch())
}
