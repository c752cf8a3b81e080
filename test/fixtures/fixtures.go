package fixtures

import (
	"time"

	"github.com/roomly/payme-gateway/internal/model"
	"github.com/roomly/payme-gateway/internal/services"
)

// NewSelectedBooking is a booking ready for payment: selected status,
// check-in in the future.
func NewSelectedBooking(userID, price int64, checkIn time.Time) *model.Booking {
	return &model.Booking{
		UserID:     userID,
		PlaceID:    42,
		GuestPhone: "+998901112233",
		Price:      price,
		Status:     model.BookingStatusSelected,
		CheckIn:    checkIn,
		CheckOut:   checkIn.AddDate(0, 0, 3),
	}
}

// PayParams builds the params CheckPerformTransaction/CreateTransaction
// receive for a booking priced in major units.
func PayParams(providerTxID string, bookingID string, priceMajor int64) services.Params {
	return services.Params{
		ID:     providerTxID,
		Amount: priceMajor * 100,
		Account: map[string]interface{}{
			"order_id": bookingID,
		},
	}
}
