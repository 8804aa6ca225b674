package models

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOfferEffectiveAt(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name  string
		offer Offer
		want  bool
	}{
		{
			name:  "active open-ended",
			offer: Offer{Active: true, StartsAt: now.Add(-time.Hour)},
			want:  true,
		},
		{
			name:  "inactive",
			offer: Offer{Active: false, StartsAt: now.Add(-time.Hour)},
			want:  false,
		},
		{
			name:  "not started yet",
			offer: Offer{Active: true, StartsAt: now.Add(time.Hour)},
			want:  false,
		},
		{
			name: "within window",
			offer: Offer{
				Active:   true,
				StartsAt: now.Add(-time.Hour),
				EndsAt:   sql.NullTime{Time: now.Add(time.Hour), Valid: true},
			},
			want: true,
		},
		{
			name: "window closed",
			offer: Offer{
				Active:   true,
				StartsAt: now.Add(-2 * time.Hour),
				EndsAt:   sql.NullTime{Time: now.Add(-time.Hour), Valid: true},
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.offer.EffectiveAt(now))
		})
	}
}

func TestOfferDiscountedPrice(t *testing.T) {
	offer := Offer{DiscountPercent: 20}
	assert.Equal(t, int64(8000), offer.DiscountedPrice(10000))

	full := Offer{DiscountPercent: 0}
	assert.Equal(t, int64(10000), full.DiscountedPrice(10000))

	free := Offer{DiscountPercent: 100}
	assert.Equal(t, int64(0), free.DiscountedPrice(10000))
}

func TestOrderContactEmail(t *testing.T) {
	guest := Order{GuestEmail: sql.NullString{String: "g@example.com", Valid: true}}
	assert.Equal(t, "g@example.com", guest.ContactEmail())

	account := Order{UserID: sql.NullInt64{Int64: 7, Valid: true}}
	assert.Empty(t, account.ContactEmail(), "account orders carry no inline contact email")
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(OrderStatusPending, OrderStatusPaid))
	assert.True(t, CanTransition(OrderStatusPending, OrderStatusCancelled))
	assert.True(t, CanTransition(OrderStatusPaid, OrderStatusProcessing))
	assert.True(t, CanTransition(OrderStatusProcessing, OrderStatusShipped))
	assert.True(t, CanTransition(OrderStatusShipped, OrderStatusDelivered))

	assert.False(t, CanTransition(OrderStatusPaid, OrderStatusPending))
	assert.False(t, CanTransition(OrderStatusPaid, OrderStatusShipped))
	assert.False(t, CanTransition(OrderStatusCancelled, OrderStatusPaid), "cancelled is terminal")
	assert.False(t, CanTransition(OrderStatusDelivered, OrderStatusShipped), "delivered is terminal")
	assert.False(t, CanTransition("bogus", OrderStatusPaid))
}

func TestValidDeliveryMethod(t *testing.T) {
	assert.Equal(t, DeliveryMethodPickup, ValidDeliveryMethod("pickup"))
	assert.Equal(t, DeliveryMethodDelivery, ValidDeliveryMethod("delivery"))
	assert.Equal(t, DeliveryMethodDelivery, ValidDeliveryMethod(""))
	assert.Equal(t, DeliveryMethodDelivery, ValidDeliveryMethod("drone"))
}
