package repository

import (
	"time"

	"github.com/roomly/payme-gateway/internal/model"
)

type BookingEntity struct {
	ID             int64      `db:"id"              gorm:"primaryKey;autoIncrement;column:id"`
	UserID         int64      `db:"user_id"         gorm:"column:user_id;not null;index"`
	PlaceID        int64      `db:"place_id"        gorm:"column:place_id;not null;index"`
	GuestPhone     string     `db:"guest_phone"     gorm:"column:guest_phone"`
	Price          int64      `db:"price"           gorm:"column:price;not null"`
	Status         string     `db:"status"          gorm:"column:status;not null;default:selected"`
	CheckIn        time.Time  `db:"check_in"        gorm:"column:check_in;not null"`
	CheckOut       time.Time  `db:"check_out"       gorm:"column:check_out;not null"`
	PaidAt         *time.Time `db:"paid_at"         gorm:"column:paid_at"`
	ApprovedAt     *time.Time `db:"approved_at"     gorm:"column:approved_at"`
	PaymentSummary []byte     `db:"payment_summary" gorm:"column:payment_summary"`
	CreatedAt      time.Time  `db:"created_at"      gorm:"column:created_at;autoCreateTime"`
}

func (BookingEntity) TableName() string {
	return "bookings"
}

func toBookingEntity(m *model.Booking) *BookingEntity {
	if m == nil {
		return nil
	}
	return &BookingEntity{
		ID:             m.ID,
		UserID:         m.UserID,
		PlaceID:        m.PlaceID,
		GuestPhone:     m.GuestPhone,
		Price:          m.Price,
		Status:         string(m.Status),
		CheckIn:        m.CheckIn,
		CheckOut:       m.CheckOut,
		PaidAt:         m.PaidAt,
		ApprovedAt:     m.ApprovedAt,
		PaymentSummary: m.PaymentSummary,
		CreatedAt:      m.CreatedAt,
	}
}

func toBookingModel(e *BookingEntity) *model.Booking {
	if e == nil {
		return nil
	}
	return &model.Booking{
		ID:             e.ID,
		UserID:         e.UserID,
		PlaceID:        e.PlaceID,
		GuestPhone:     e.GuestPhone,
		Price:          e.Price,
		Status:         model.BookingStatus(e.Status),
		CheckIn:        e.CheckIn,
		CheckOut:       e.CheckOut,
		PaidAt:         e.PaidAt,
		ApprovedAt:     e.ApprovedAt,
		PaymentSummary: e.PaymentSummary,
		CreatedAt:      e.CreatedAt,
	}
}
