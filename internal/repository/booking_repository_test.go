package repository

import (
	"context"
	"testing"
	"time"

	"github.com/roomly/payme-gateway/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBooking(userID int64, price int64, checkIn time.Time) *model.Booking {
	return &model.Booking{
		UserID:     userID,
		PlaceID:    10,
		GuestPhone: "+998901234567",
		Price:      price,
		Status:     model.BookingStatusSelected,
		CheckIn:    checkIn,
		CheckOut:   checkIn.AddDate(0, 0, 2),
	}
}

func TestBookingRepository_GetByID(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewBookingRepository(db)
	ctx := context.Background()

	t.Run("existing booking", func(t *testing.T) {
		created, err := repo.Create(ctx, newTestBooking(1, 1000, time.Now().AddDate(0, 0, 7)))
		require.NoError(t, err)
		require.NotZero(t, created.ID)

		got, err := repo.GetByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, created.ID, got.ID)
		assert.Equal(t, int64(1000), got.Price)
		assert.Equal(t, model.BookingStatusSelected, got.Status)
		assert.Nil(t, got.PaidAt)
	})

	t.Run("missing booking", func(t *testing.T) {
		_, err := repo.GetByID(ctx, 99999)
		assert.ErrorIs(t, err, ErrBookingNotFound)
	})
}

func TestBookingRepository_MarkApproved(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewBookingRepository(db)
	ctx := context.Background()

	t.Run("sets status and both timestamps in one update", func(t *testing.T) {
		created, err := repo.Create(ctx, newTestBooking(1, 1500, time.Now().AddDate(0, 0, 3)))
		require.NoError(t, err)

		ts := time.Now().Truncate(time.Millisecond)
		summary := []byte(`{"provider":"payme","amount":150000}`)
		err = repo.MarkApproved(ctx, created.ID, ts, summary)
		require.NoError(t, err)

		got, err := repo.GetByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, model.BookingStatusApproved, got.Status)
		require.NotNil(t, got.PaidAt)
		require.NotNil(t, got.ApprovedAt)
		assert.Equal(t, ts.UnixMilli(), got.PaidAt.UnixMilli())
		assert.Equal(t, ts.UnixMilli(), got.ApprovedAt.UnixMilli())
		assert.JSONEq(t, string(summary), string(got.PaymentSummary))
	})

	t.Run("missing booking", func(t *testing.T) {
		err := repo.MarkApproved(ctx, 424242, time.Now(), nil)
		assert.ErrorIs(t, err, ErrBookingNotFound)
	})
}
