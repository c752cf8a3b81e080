package model

import "time"

// BookingPaidEvent is published to the payments queue when a
// transaction reaches the paid state. The notification processor
// consumes it and informs the guest.
type BookingPaidEvent struct {
	EventID      string    `json:"event_id"` // provider tx id, the natural dedup key
	BookingID    int64     `json:"booking_id"`
	UserID       int64     `json:"user_id"`
	GuestPhone   string    `json:"guest_phone"`
	Amount       int64     `json:"amount"` // major currency units
	ProviderTxID string    `json:"provider_tx_id"`
	PaidAt       time.Time `json:"paid_at"`
}
