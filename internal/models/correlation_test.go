package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCorrelationIDNumeric(t *testing.T) {
	corr, err := ParseCorrelationID("42")
	require.NoError(t, err)
	assert.False(t, corr.IsGuest())
	assert.Equal(t, int64(42), corr.OrderID)
	assert.Equal(t, "42", corr.String())
}

func TestParseCorrelationIDGuestToken(t *testing.T) {
	corr, err := ParseCorrelationID("gs_0b1f6a")
	require.NoError(t, err)
	assert.True(t, corr.IsGuest())
	assert.Equal(t, "gs_0b1f6a", corr.GuestToken)
}

func TestParseCorrelationIDRejectsEmpty(t *testing.T) {
	_, err := ParseCorrelationID("")
	assert.Error(t, err)

	_, err = ParseCorrelationID("   ")
	assert.Error(t, err)
}

func TestParseCorrelationIDRejectsNonPositiveOrder(t *testing.T) {
	_, err := ParseCorrelationID("0")
	assert.Error(t, err)

	_, err = ParseCorrelationID("-5")
	assert.Error(t, err)
}

func TestNewGuestTokenNeverNumeric(t *testing.T) {
	for i := 0; i < 100; i++ {
		token := NewGuestToken()
		require.True(t, strings.HasPrefix(token, GuestTokenPrefix))

		corr, err := ParseCorrelationID(token)
		require.NoError(t, err)
		assert.True(t, corr.IsGuest(), "minted tokens must never route to the order flow")
	}
}

func TestCorrelationRoundTrip(t *testing.T) {
	order := OrderCorrelation(7)
	parsed, err := ParseCorrelationID(order.String())
	require.NoError(t, err)
	assert.Equal(t, order, parsed)

	guest := GuestCorrelation(NewGuestToken())
	parsed, err = ParseCorrelationID(guest.String())
	require.NoError(t, err)
	assert.Equal(t, guest, parsed)
}
