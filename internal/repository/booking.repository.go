package repository

import (
	"context"
	"errors"
	"time"

	"github.com/roomly/payme-gateway/internal/model"
	"github.com/roomly/payme-gateway/pkg/pg"
	"gorm.io/gorm"
)

var (
	// ErrBookingNotFound is returned when a booking does not exist.
	ErrBookingNotFound = errors.New("booking not found")
)

type BookingRepository struct {
	*pg.DB
}

func NewBookingRepository(db *pg.DB) *BookingRepository {
	return &BookingRepository{
		db,
	}
}

func (r *BookingRepository) GetByID(ctx context.Context, id int64) (*model.Booking, error) {
	var entity BookingEntity

	err := r.Read(ctx).WithContext(ctx).
		Where("id = ?", id).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}

	return toBookingModel(&entity), nil
}

func (r *BookingRepository) Create(ctx context.Context, b *model.Booking) (*model.Booking, error) {
	entity := toBookingEntity(b)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toBookingModel(entity), nil
}

// MarkApproved flips a paid booking into the approved state in a single
// update: status, paid_at, approved_at and the payment audit blob move
// together so a partially approved booking can never be observed.
func (r *BookingRepository) MarkApproved(ctx context.Context, id int64, ts time.Time, paymentSummary []byte) error {
	res := r.Write(ctx).WithContext(ctx).
		Model(&BookingEntity{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":          string(model.BookingStatusApproved),
			"paid_at":         ts,
			"approved_at":     ts,
			"payment_summary": paymentSummary,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrBookingNotFound
	}
	return nil
}
