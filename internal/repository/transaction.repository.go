package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/roomly/payme-gateway/internal/model"
	"github.com/roomly/payme-gateway/pkg/pg"
	"gorm.io/gorm"
)

var (
	// ErrTransactionNotFound is returned when no transaction matches
	// the provider-assigned id.
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrDuplicateTransaction is returned when a create hits the unique
	// provider_tx_id index. Callers treat it as a concurrent replay.
	ErrDuplicateTransaction = errors.New("transaction already exists")
	// ErrStateConflict is returned when a guarded transition matched no
	// row, i.e. the transaction left the expected state concurrently.
	ErrStateConflict = errors.New("transaction state changed concurrently")
)

type TransactionRepository struct {
	*pg.DB
}

func NewTransactionRepository(db *pg.DB) *TransactionRepository {
	return &TransactionRepository{
		db,
	}
}

func (r *TransactionRepository) FindByProviderTxID(ctx context.Context, providerTxID string) (*model.Transaction, error) {
	var entity TransactionEntity

	err := r.Read(ctx).WithContext(ctx).
		Where("provider = ? AND provider_tx_id = ?", model.ProviderPayme, providerTxID).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}

	return toTransactionModel(&entity), nil
}

// FindLiveByBooking returns the most recent live (pending or paid)
// transaction on the booking, skipping the provider tx id the caller
// is currently handling. Returns ErrTransactionNotFound when the
// booking has no live transaction.
func (r *TransactionRepository) FindLiveByBooking(ctx context.Context, bookingID int64, excludeProviderTxID string) (*model.Transaction, error) {
	var entity TransactionEntity

	q := r.Read(ctx).WithContext(ctx).
		Where("provider = ? AND booking_id = ? AND state IN ?",
			model.ProviderPayme, bookingID,
			[]int{int(model.StatePending), int(model.StatePaid)})
	if excludeProviderTxID != "" {
		q = q.Where("provider_tx_id <> ?", excludeProviderTxID)
	}

	err := q.Order("create_date DESC").First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}

	return toTransactionModel(&entity), nil
}

func (r *TransactionRepository) Create(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	entity := toTransactionEntity(txn)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateTransaction
		}
		return nil, err
	}

	return toTransactionModel(entity), nil
}

// TransitionPatch carries the audit fields a transition stamps next to
// the state change.
type TransitionPatch struct {
	Reason *int
	Audit  map[string]interface{}
}

// Transition moves a transaction from one state to another with a
// guarded update: the WHERE clause pins the expected current state, so
// a concurrent duplicate delivery loses the race and gets
// ErrStateConflict instead of double-stamping dates. The date column
// matching the target state is set exactly once, and the audit patch is
// merged into provider_data.
func (r *TransactionRepository) Transition(ctx context.Context, providerTxID string, from, to model.TransactionState, ts time.Time, patch TransitionPatch) (*model.Transaction, error) {
	current, err := r.FindByProviderTxID(ctx, providerTxID)
	if err != nil {
		return nil, err
	}
	if current.State != from {
		return nil, ErrStateConflict
	}

	updates := map[string]interface{}{
		"state": int(to),
	}
	switch {
	case to == model.StatePaid:
		updates["perform_date"] = ts
	case to.Canceled():
		updates["cancel_date"] = ts
	}
	if patch.Reason != nil {
		updates["reason"] = *patch.Reason
	}
	if len(patch.Audit) > 0 {
		updates["provider_data"] = mergeProviderData(current.ProviderData, patch.Audit)
	}

	res := r.Write(ctx).WithContext(ctx).
		Model(&TransactionEntity{}).
		Where("provider = ? AND provider_tx_id = ? AND state = ?",
			model.ProviderPayme, providerTxID, int(from)).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrStateConflict
	}

	return r.FindByProviderTxID(ctx, providerTxID)
}

// ListByPeriod returns the provider's transactions with a create date
// inside [from, to], both ends inclusive, oldest first. Feeds
// GetStatement.
func (r *TransactionRepository) ListByPeriod(ctx context.Context, from, to time.Time) ([]*model.Transaction, error) {
	var entities []*TransactionEntity

	err := r.Read(ctx).WithContext(ctx).
		Where("provider = ? AND create_date >= ? AND create_date <= ?", model.ProviderPayme, from, to).
		Order("create_date ASC").
		Find(&entities).
		Error
	if err != nil {
		return nil, err
	}

	return toTransactionModels(entities), nil
}

func mergeProviderData(existing []byte, patch map[string]interface{}) []byte {
	merged := map[string]interface{}{}
	if len(existing) > 0 {
		// best effort, a corrupt audit bag must not block a transition
		_ = json.Unmarshal(existing, &merged)
	}
	for k, v := range patch {
		merged[k] = v
	}
	b, err := json.Marshal(merged)
	if err != nil {
		return existing
	}
	return b
}
