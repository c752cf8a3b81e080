package model

import "time"

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	BookingStatusSelected  BookingStatus = "selected"
	BookingStatusApproved  BookingStatus = "approved"
	BookingStatusCanceled  BookingStatus = "canceled"
	BookingStatusCompleted BookingStatus = "completed"
)

type Booking struct {
	ID             int64         `json:"id"              db:"id"              gorm:"primaryKey;autoIncrement;column:id"`
	UserID         int64         `json:"user_id"         db:"user_id"         gorm:"column:user_id;not null;index"`
	PlaceID        int64         `json:"place_id"        db:"place_id"        gorm:"column:place_id;not null;index"`
	GuestPhone     string        `json:"guest_phone"     db:"guest_phone"     gorm:"column:guest_phone"`
	Price          int64         `json:"price"           db:"price"           gorm:"column:price;not null"` // major currency units
	Status         BookingStatus `json:"status"          db:"status"          gorm:"column:status;not null;default:selected"`
	CheckIn        time.Time     `json:"check_in"        db:"check_in"        gorm:"column:check_in;not null"`
	CheckOut       time.Time     `json:"check_out"       db:"check_out"       gorm:"column:check_out;not null"`
	PaidAt         *time.Time    `json:"paid_at"         db:"paid_at"         gorm:"column:paid_at"`
	ApprovedAt     *time.Time    `json:"approved_at"     db:"approved_at"     gorm:"column:approved_at"`
	PaymentSummary []byte        `json:"payment_summary" db:"payment_summary" gorm:"column:payment_summary"`
	CreatedAt      time.Time     `json:"created_at"      db:"created_at"      gorm:"column:created_at;autoCreateTime"`
}

func (Booking) TableName() string { return "bookings" }
