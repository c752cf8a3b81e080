package services

import (
	"testing"
	"time"

	"github.com/roomly/payme-gateway/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestPaymentWindowExpired(t *testing.T) {
	checkIn := time.Date(2026, 5, 21, 14, 0, 0, 0, time.UTC)
	b := &model.Booking{CheckIn: checkIn}

	t.Run("day before check-in", func(t *testing.T) {
		now := time.Date(2026, 5, 20, 10, 0, 0, 0, time.UTC)
		assert.False(t, PaymentWindowExpired(b, now))
	})

	t.Run("late on the check-in day is still payable", func(t *testing.T) {
		now := time.Date(2026, 5, 21, 23, 59, 59, 0, time.UTC)
		assert.False(t, PaymentWindowExpired(b, now))
	})

	t.Run("midnight after check-in day", func(t *testing.T) {
		now := time.Date(2026, 5, 22, 0, 0, 0, 0, time.UTC)
		assert.True(t, PaymentWindowExpired(b, now))
	})

	t.Run("cutoff is calendar based, not 24h from check-in time", func(t *testing.T) {
		// 20h after a 14:00 check-in is the next day, already expired
		now := checkIn.Add(20 * time.Hour)
		assert.True(t, PaymentWindowExpired(b, now))
	})
}

func TestConfirmWindowExpired(t *testing.T) {
	created := time.Date(2026, 5, 20, 10, 0, 0, 0, time.UTC)
	txn := &model.Transaction{CreateDate: created}

	assert.False(t, ConfirmWindowExpired(txn, created.Add(11*time.Minute)))
	assert.False(t, ConfirmWindowExpired(txn, created.Add(12*time.Minute)))
	assert.True(t, ConfirmWindowExpired(txn, created.Add(12*time.Minute+time.Second)))
}
