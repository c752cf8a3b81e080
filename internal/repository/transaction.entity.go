package repository

import (
	"time"

	"github.com/roomly/payme-gateway/internal/model"
)

type TransactionEntity struct {
	ID           int64      `db:"id"             gorm:"primaryKey;autoIncrement;column:id"`
	Provider     string     `db:"provider"       gorm:"column:provider;not null;index"`
	ProviderTxID string     `db:"provider_tx_id" gorm:"column:provider_tx_id;not null;uniqueIndex"`
	BookingID    int64      `db:"booking_id"     gorm:"column:booking_id;not null;index"`
	Amount       int64      `db:"amount"         gorm:"column:amount;not null"`
	State        int        `db:"state"          gorm:"column:state;not null"`
	Reason       *int       `db:"reason"         gorm:"column:reason"`
	ProviderData []byte     `db:"provider_data"  gorm:"column:provider_data"`
	CreateDate   time.Time  `db:"create_date"    gorm:"column:create_date;not null;index"`
	PerformDate  *time.Time `db:"perform_date"   gorm:"column:perform_date"`
	CancelDate   *time.Time `db:"cancel_date"    gorm:"column:cancel_date"`
}

func (TransactionEntity) TableName() string {
	return "payme_transactions"
}

func toTransactionEntity(m *model.Transaction) *TransactionEntity {
	if m == nil {
		return nil
	}
	return &TransactionEntity{
		ID:           m.ID,
		Provider:     m.Provider,
		ProviderTxID: m.ProviderTxID,
		BookingID:    m.BookingID,
		Amount:       m.Amount,
		State:        int(m.State),
		Reason:       m.Reason,
		ProviderData: m.ProviderData,
		CreateDate:   m.CreateDate,
		PerformDate:  m.PerformDate,
		CancelDate:   m.CancelDate,
	}
}

func toTransactionModel(e *TransactionEntity) *model.Transaction {
	if e == nil {
		return nil
	}
	return &model.Transaction{
		ID:           e.ID,
		Provider:     e.Provider,
		ProviderTxID: e.ProviderTxID,
		BookingID:    e.BookingID,
		Amount:       e.Amount,
		State:        model.TransactionState(e.State),
		Reason:       e.Reason,
		ProviderData: e.ProviderData,
		CreateDate:   e.CreateDate,
		PerformDate:  e.PerformDate,
		CancelDate:   e.CancelDate,
	}
}

func toTransactionModels(entities []*TransactionEntity) []*model.Transaction {
	if entities == nil {
		return nil
	}
	models := make([]*model.Transaction, len(entities))
	for i, e := range entities {
		models[i] = toTransactionModel(e)
	}
	return models
}
