package model

import "time"

// ProviderPayme identifies the Payme gateway on transaction rows.
const ProviderPayme = "payme"

// TransactionState mirrors the Payme wire encoding: the sign marks a
// canceled transaction, the magnitude marks the stage it was canceled
// from. Only the four listed values are legal.
type TransactionState int

const (
	StatePending         TransactionState = 1
	StatePaid            TransactionState = 2
	StatePendingCanceled TransactionState = -1
	StatePaidCanceled    TransactionState = -2
)

// Canceled reports whether the state is one of the two terminal
// cancellation states.
func (s TransactionState) Canceled() bool { return s < 0 }

// Live reports whether a transaction in this state still occupies its
// booking (pending or paid, not canceled).
func (s TransactionState) Live() bool { return s == StatePending || s == StatePaid }

// CanceledFrom returns the cancellation state reached by canceling out
// of s. Calling it on an already-canceled state returns s unchanged.
func (s TransactionState) CanceledFrom() TransactionState {
	if s.Canceled() {
		return s
	}
	return -s
}

// Valid reports whether s is one of the four wire-legal values.
func (s TransactionState) Valid() bool {
	switch s {
	case StatePending, StatePaid, StatePendingCanceled, StatePaidCanceled:
		return true
	}
	return false
}

// Cancellation reason codes defined by the provider.
const (
	ReasonPayerCanceled   = 1
	ReasonProcessingError = 3
	ReasonPendingExpired  = 4
	ReasonRefund          = 5
)

type Transaction struct {
	ID           int64            `json:"id"             db:"id"             gorm:"primaryKey;autoIncrement;column:id"`
	Provider     string           `json:"provider"       db:"provider"       gorm:"column:provider;not null;index"`
	ProviderTxID string           `json:"provider_tx_id" db:"provider_tx_id" gorm:"column:provider_tx_id;not null;uniqueIndex"`
	BookingID    int64            `json:"booking_id"     db:"booking_id"     gorm:"column:booking_id;not null;index"`
	Booking      *Booking         `json:"-"                                   gorm:"foreignKey:BookingID;references:ID;constraint:OnDelete:CASCADE"`
	Amount       int64            `json:"amount"         db:"amount"         gorm:"column:amount;not null"` // major currency units
	State        TransactionState `json:"state"          db:"state"          gorm:"column:state;not null"`
	Reason       *int             `json:"reason"         db:"reason"         gorm:"column:reason"`
	ProviderData []byte           `json:"provider_data"  db:"provider_data"  gorm:"column:provider_data"`
	CreateDate   time.Time        `json:"create_date"    db:"create_date"    gorm:"column:create_date;not null"`
	PerformDate  *time.Time       `json:"perform_date"   db:"perform_date"   gorm:"column:perform_date"`
	CancelDate   *time.Time       `json:"cancel_date"    db:"cancel_date"    gorm:"column:cancel_date"`
}

func (Transaction) TableName() string { return "payme_transactions" }

// CreateTimeMillis is the wire representation of CreateDate.
func (t *Transaction) CreateTimeMillis() int64 { return t.CreateDate.UnixMilli() }

// PerformTimeMillis is the wire representation of PerformDate, 0 when unset.
func (t *Transaction) PerformTimeMillis() int64 {
	if t.PerformDate == nil {
		return 0
	}
	return t.PerformDate.UnixMilli()
}

// CancelTimeMillis is the wire representation of CancelDate, 0 when unset.
func (t *Transaction) CancelTimeMillis() int64 {
	if t.CancelDate == nil {
		return 0
	}
	return t.CancelDate.UnixMilli()
}
