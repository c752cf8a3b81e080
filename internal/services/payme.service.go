package services

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/roomly/payme-gateway/internal/model"
	"github.com/roomly/payme-gateway/internal/queue"
	"github.com/roomly/payme-gateway/internal/repository"
	"github.com/roomly/payme-gateway/pkg/logger"
)

// Params is the JSON-RPC params object Payme sends. Every method uses
// a subset of the same shape.
type Params struct {
	ID      string                 `json:"id"`
	Time    int64                  `json:"time"`
	Amount  int64                  `json:"amount"` // tiyin
	Account map[string]interface{} `json:"account"`
	Reason  *int                   `json:"reason"`
	From    int64                  `json:"from"`
	To      int64                  `json:"to"`
}

type CheckPerformResult struct {
	Allow bool `json:"allow"`
}

type CreateResult struct {
	CreateTime  int64  `json:"create_time"`
	Transaction string `json:"transaction"`
	State       int    `json:"state"`
}

type PerformResult struct {
	Transaction string `json:"transaction"`
	PerformTime int64  `json:"perform_time"`
	State       int    `json:"state"`
}

type CancelResult struct {
	Transaction string `json:"transaction"`
	CancelTime  int64  `json:"cancel_time"`
	State       int    `json:"state"`
}

type CheckResult struct {
	CreateTime  int64  `json:"create_time"`
	PerformTime int64  `json:"perform_time"`
	CancelTime  int64  `json:"cancel_time"`
	Transaction string `json:"transaction"`
	State       int    `json:"state"`
	Reason      *int   `json:"reason"`
}

type StatementEntry struct {
	ID          string                 `json:"id"`
	Time        int64                  `json:"time"`
	Amount      int64                  `json:"amount"` // tiyin
	Account     map[string]interface{} `json:"account"`
	CreateTime  int64                  `json:"create_time"`
	PerformTime int64                  `json:"perform_time"`
	CancelTime  int64                  `json:"cancel_time"`
	Transaction string                 `json:"transaction"`
	State       int                    `json:"state"`
	Reason      *int                   `json:"reason"`
}

type StatementResult struct {
	Transactions []StatementEntry `json:"transactions"`
}

type TransactionRepository interface {
	FindByProviderTxID(ctx context.Context, providerTxID string) (*model.Transaction, error)
	FindLiveByBooking(ctx context.Context, bookingID int64, excludeProviderTxID string) (*model.Transaction, error)
	Create(ctx context.Context, txn *model.Transaction) (*model.Transaction, error)
	Transition(ctx context.Context, providerTxID string, from, to model.TransactionState, ts time.Time, patch repository.TransitionPatch) (*model.Transaction, error)
	ListByPeriod(ctx context.Context, from, to time.Time) ([]*model.Transaction, error)
}

type BookingRepository interface {
	GetByID(ctx context.Context, id int64) (*model.Booking, error)
	MarkApproved(ctx context.Context, id int64, ts time.Time, paymentSummary []byte) error
}

// PaymeService implements the reconciliation state machine behind the
// Payme webhook. Every method is safe under concurrent duplicate
// delivery: replays return the stored result, races lose against the
// unique provider_tx_id index or the guarded state transition.
type PaymeService struct {
	transactionRepo TransactionRepository
	bookingRepo     BookingRepository
	paidQueue       *queue.Queue
	now             func() time.Time
}

func NewPaymeService(transactionRepo TransactionRepository, bookingRepo BookingRepository, paidQueue *queue.Queue) *PaymeService {
	return &PaymeService{
		transactionRepo: transactionRepo,
		bookingRepo:     bookingRepo,
		paidQueue:       paidQueue,
		now:             time.Now,
	}
}

// WithClock overrides the time source. Tests only.
func (s *PaymeService) WithClock(now func() time.Time) *PaymeService {
	s.now = now
	return s
}

// CheckPerformTransaction is the provider's read-only feasibility
// probe. It must not touch any state.
func (s *PaymeService) CheckPerformTransaction(ctx context.Context, p Params) (*CheckPerformResult, error) {
	booking, terr := s.loadBooking(ctx, p.Account)
	if terr != nil {
		return nil, terr
	}
	if p.Amount != ToTiyin(booking.Price) {
		return nil, ErrInvalidAmount()
	}
	return &CheckPerformResult{Allow: true}, nil
}

// CreateTransaction registers a pending transaction for a booking. It
// is idempotent on the provider tx id and actively enforces the
// one-live-transaction-per-booking invariant.
func (s *PaymeService) CreateTransaction(ctx context.Context, p Params) (*CreateResult, error) {
	now := s.now()

	bookingID, terr := ExtractBookingID(p.Account)
	if terr != nil {
		return nil, terr
	}
	booking, err := s.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		if errors.Is(err, repository.ErrBookingNotFound) {
			return nil, ErrBookingNotFound()
		}
		return nil, err
	}

	// another transaction may already hold the booking
	if terr := s.resolveLiveConflict(ctx, booking, p.ID, now); terr != nil {
		return nil, terr
	}

	// replay of a transaction we already know about
	existing, err := s.transactionRepo.FindByProviderTxID(ctx, p.ID)
	if err == nil {
		return s.replayCreate(ctx, existing, booking, now)
	}
	if !errors.Is(err, repository.ErrTransactionNotFound) {
		return nil, err
	}

	// genuinely new transaction: validate before writing anything
	if p.Amount != ToTiyin(booking.Price) {
		return nil, ErrInvalidAmount()
	}
	if booking.Status != model.BookingStatusSelected {
		// the provider's account-error range has no "wrong state" code
		return nil, ErrBookingNotFound()
	}
	if PaymentWindowExpired(booking, now) {
		return nil, ErrTransactionNotFoundError()
	}

	// close the race against a concurrent create for the same booking
	if terr := s.resolveLiveConflict(ctx, booking, p.ID, now); terr != nil {
		return nil, terr
	}

	audit, _ := json.Marshal(map[string]interface{}{
		"tiyin_amount": p.Amount,
		"account":      p.Account,
	})
	created, err := s.transactionRepo.Create(ctx, &model.Transaction{
		Provider:     model.ProviderPayme,
		ProviderTxID: p.ID,
		BookingID:    booking.ID,
		Amount:       booking.Price,
		State:        model.StatePending,
		ProviderData: audit,
		CreateDate:   now,
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateTransaction) {
			// a concurrent duplicate delivery created the row first
			stored, ferr := s.transactionRepo.FindByProviderTxID(ctx, p.ID)
			if ferr != nil {
				return nil, ferr
			}
			return s.replayCreate(ctx, stored, booking, now)
		}
		return nil, err
	}

	return &CreateResult{
		CreateTime:  created.CreateTimeMillis(),
		Transaction: created.ProviderTxID,
		State:       int(created.State),
	}, nil
}

// CheckTransaction is a pure read; repeated calls must produce
// byte-identical results.
func (s *PaymeService) CheckTransaction(ctx context.Context, p Params) (*CheckResult, error) {
	txn, err := s.transactionRepo.FindByProviderTxID(ctx, p.ID)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			return nil, ErrTransactionNotFoundError()
		}
		return nil, err
	}
	return &CheckResult{
		CreateTime:  txn.CreateTimeMillis(),
		PerformTime: txn.PerformTimeMillis(),
		CancelTime:  txn.CancelTimeMillis(),
		Transaction: txn.ProviderTxID,
		State:       int(txn.State),
		Reason:      txn.Reason,
	}, nil
}

// PerformTransaction confirms the payment. The transaction and the
// booking are stamped with the same instant, and the booking flips to
// approved as a side effect of reaching the paid state.
func (s *PaymeService) PerformTransaction(ctx context.Context, p Params) (*PerformResult, error) {
	txn, err := s.transactionRepo.FindByProviderTxID(ctx, p.ID)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			return nil, ErrTransactionNotFoundError()
		}
		return nil, err
	}

	if txn.State == model.StatePaid {
		// idempotent replay, do not re-perform
		return &PerformResult{
			Transaction: txn.ProviderTxID,
			PerformTime: txn.PerformTimeMillis(),
			State:       int(txn.State),
		}, nil
	}
	if txn.State != model.StatePending {
		return nil, ErrCantDoOperation()
	}

	now := s.now()
	if ConfirmWindowExpired(txn, now) {
		reason := model.ReasonPendingExpired
		_, terr := s.transactionRepo.Transition(ctx, txn.ProviderTxID,
			model.StatePending, model.StatePendingCanceled, now,
			repository.TransitionPatch{
				Reason: &reason,
				Audit:  map[string]interface{}{"cancel_origin": "confirm_window_expired"},
			})
		if terr != nil && !errors.Is(terr, repository.ErrStateConflict) {
			return nil, terr
		}
		return nil, ErrCantDoOperation()
	}

	booking, err := s.bookingRepo.GetByID(ctx, txn.BookingID)
	if err != nil {
		if errors.Is(err, repository.ErrBookingNotFound) {
			return nil, ErrCantDoOperation()
		}
		return nil, err
	}

	summary, _ := json.Marshal(map[string]interface{}{
		"provider":       model.ProviderPayme,
		"provider_tx_id": txn.ProviderTxID,
		"amount":         txn.Amount,
		"tiyin_amount":   ToTiyin(txn.Amount),
		"paid_at":        now.UnixMilli(),
	})

	performed, err := s.transactionRepo.Transition(ctx, txn.ProviderTxID,
		model.StatePending, model.StatePaid, now,
		repository.TransitionPatch{
			Audit: map[string]interface{}{"performed_at": now.UnixMilli()},
		})
	if err != nil {
		if errors.Is(err, repository.ErrStateConflict) {
			// a concurrent duplicate may have performed it already
			stored, ferr := s.transactionRepo.FindByProviderTxID(ctx, txn.ProviderTxID)
			if ferr == nil && stored.State == model.StatePaid {
				return &PerformResult{
					Transaction: stored.ProviderTxID,
					PerformTime: stored.PerformTimeMillis(),
					State:       int(stored.State),
				}, nil
			}
			return nil, ErrCantDoOperation()
		}
		return nil, err
	}

	// the booking update reuses the exact transition timestamp, the
	// provider must never observe drift between the two records
	if err := s.bookingRepo.MarkApproved(ctx, booking.ID, now, summary); err != nil {
		return nil, err
	}

	s.publishPaid(ctx, booking, performed, now)

	return &PerformResult{
		Transaction: performed.ProviderTxID,
		PerformTime: performed.PerformTimeMillis(),
		State:       int(performed.State),
	}, nil
}

// CancelTransaction negates the current state, once. Repeat calls
// replay the stored cancellation.
func (s *PaymeService) CancelTransaction(ctx context.Context, p Params) (*CancelResult, error) {
	txn, err := s.transactionRepo.FindByProviderTxID(ctx, p.ID)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			return nil, ErrTransactionNotFoundError()
		}
		return nil, err
	}

	if txn.State.Canceled() {
		return &CancelResult{
			Transaction: txn.ProviderTxID,
			CancelTime:  txn.CancelTimeMillis(),
			State:       int(txn.State),
		}, nil
	}

	reason := model.ReasonPayerCanceled
	if p.Reason != nil {
		reason = *p.Reason
	}
	now := s.now()
	canceled, err := s.transactionRepo.Transition(ctx, txn.ProviderTxID,
		txn.State, txn.State.CanceledFrom(), now,
		repository.TransitionPatch{
			Reason: &reason,
			Audit:  map[string]interface{}{"cancel_origin": "provider"},
		})
	if err != nil {
		if errors.Is(err, repository.ErrStateConflict) {
			stored, ferr := s.transactionRepo.FindByProviderTxID(ctx, txn.ProviderTxID)
			if ferr == nil && stored.State.Canceled() {
				return &CancelResult{
					Transaction: stored.ProviderTxID,
					CancelTime:  stored.CancelTimeMillis(),
					State:       int(stored.State),
				}, nil
			}
			return nil, ErrCantDoOperation()
		}
		return nil, err
	}

	return &CancelResult{
		Transaction: canceled.ProviderTxID,
		CancelTime:  canceled.CancelTimeMillis(),
		State:       int(canceled.State),
	}, nil
}

// GetStatement lists the provider's transactions created inside
// [from, to], both ends inclusive.
func (s *PaymeService) GetStatement(ctx context.Context, p Params) (*StatementResult, error) {
	from := time.UnixMilli(p.From)
	to := time.UnixMilli(p.To)

	txns, err := s.transactionRepo.ListByPeriod(ctx, from, to)
	if err != nil {
		return nil, err
	}

	entries := make([]StatementEntry, 0, len(txns))
	for _, txn := range txns {
		entries = append(entries, StatementEntry{
			ID:          txn.ProviderTxID,
			Time:        txn.CreateTimeMillis(),
			Amount:      ToTiyin(txn.Amount),
			Account:     statementAccount(txn),
			CreateTime:  txn.CreateTimeMillis(),
			PerformTime: txn.PerformTimeMillis(),
			CancelTime:  txn.CancelTimeMillis(),
			Transaction: strconv.FormatInt(txn.ID, 10),
			State:       int(txn.State),
			Reason:      txn.Reason,
		})
	}
	return &StatementResult{Transactions: entries}, nil
}

/* ------------------------------- helpers ---------------------------------- */

func (s *PaymeService) loadBooking(ctx context.Context, account map[string]interface{}) (*model.Booking, *TransactionError) {
	bookingID, terr := ExtractBookingID(account)
	if terr != nil {
		return nil, terr
	}
	booking, err := s.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		if errors.Is(err, repository.ErrBookingNotFound) {
			return nil, ErrBookingNotFound()
		}
		logger.Error("payme: booking lookup failed", "booking_id", bookingID, "error", err)
		return nil, ErrInternalError()
	}
	if booking.UserID <= 0 {
		return nil, ErrUserNotFound()
	}
	return booking, nil
}

// resolveLiveConflict applies the single-live-transaction rule: a paid
// transaction blocks the booking for good, an unexpired pending one
// raises the pending error, and an expired pending one is auto-canceled
// so the current call can continue.
func (s *PaymeService) resolveLiveConflict(ctx context.Context, booking *model.Booking, incomingTxID string, now time.Time) *TransactionError {
	live, err := s.transactionRepo.FindLiveByBooking(ctx, booking.ID, incomingTxID)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			return nil
		}
		logger.Error("payme: live transaction lookup failed", "booking_id", booking.ID, "error", err)
		return ErrInternalError()
	}

	if live.State == model.StatePaid {
		return ErrCantDoOperation()
	}
	if !PaymentWindowExpired(booking, now) {
		return ErrPendingPayment()
	}

	reason := model.ReasonPendingExpired
	_, err = s.transactionRepo.Transition(ctx, live.ProviderTxID,
		model.StatePending, model.StatePendingCanceled, now,
		repository.TransitionPatch{
			Reason: &reason,
			Audit:  map[string]interface{}{"cancel_origin": "payment_window_expired"},
		})
	if err != nil && !errors.Is(err, repository.ErrStateConflict) {
		logger.Error("payme: expiring stale transaction failed", "provider_tx_id", live.ProviderTxID, "error", err)
		return ErrInternalError()
	}
	return nil
}

// replayCreate re-validates a known transaction and returns its stored
// triple unchanged, unless its payment window lapsed while it was still
// pending, in which case the transaction is expired and the call fails.
func (s *PaymeService) replayCreate(ctx context.Context, txn *model.Transaction, booking *model.Booking, now time.Time) (*CreateResult, error) {
	if txn.State == model.StatePending && PaymentWindowExpired(booking, now) {
		reason := model.ReasonPendingExpired
		_, err := s.transactionRepo.Transition(ctx, txn.ProviderTxID,
			model.StatePending, model.StatePendingCanceled, now,
			repository.TransitionPatch{
				Reason: &reason,
				Audit:  map[string]interface{}{"cancel_origin": "payment_window_expired"},
			})
		if err != nil && !errors.Is(err, repository.ErrStateConflict) {
			return nil, err
		}
		return nil, ErrCantDoOperation()
	}
	return &CreateResult{
		CreateTime:  txn.CreateTimeMillis(),
		Transaction: txn.ProviderTxID,
		State:       int(txn.State),
	}, nil
}

func (s *PaymeService) publishPaid(ctx context.Context, booking *model.Booking, txn *model.Transaction, paidAt time.Time) {
	if s.paidQueue == nil {
		return
	}
	event := model.BookingPaidEvent{
		EventID:      txn.ProviderTxID,
		BookingID:    booking.ID,
		UserID:       booking.UserID,
		GuestPhone:   booking.GuestPhone,
		Amount:       txn.Amount,
		ProviderTxID: txn.ProviderTxID,
		PaidAt:       paidAt,
	}
	// best effort: a notification hiccup must never fail the RPC
	if _, err := s.paidQueue.PublishJSON(ctx, event, nil); err != nil {
		logger.Error("payme: failed to publish paid event", "provider_tx_id", txn.ProviderTxID, "error", err)
	}
}

func statementAccount(txn *model.Transaction) map[string]interface{} {
	if len(txn.ProviderData) > 0 {
		var data struct {
			Account map[string]interface{} `json:"account"`
		}
		if err := json.Unmarshal(txn.ProviderData, &data); err == nil && len(data.Account) > 0 {
			return data.Account
		}
	}
	return map[string]interface{}{"order_id": strconv.FormatInt(txn.BookingID, 10)}
}
