package services

import (
	"time"

	"github.com/roomly/payme-gateway/internal/model"
)

// ConfirmWindow is the provider-mandated interval between creating a
// transaction and performing it. PerformTransaction past this window
// auto-cancels the transaction.
const ConfirmWindow = 12 * time.Minute

// PaymentWindowExpired reports whether the booking can no longer be
// paid. Payment stays valid through the whole check-in day: the cutoff
// is 23:59:59.999 of the check-in date in its own location, not a
// sliding duration.
func PaymentWindowExpired(b *model.Booking, now time.Time) bool {
	d := b.CheckIn
	endOfDay := time.Date(d.Year(), d.Month(), d.Day(), 23, 59, 59, int(999*time.Millisecond), d.Location())
	return now.After(endOfDay)
}

// ConfirmWindowExpired reports whether a pending transaction outlived
// the 12-minute confirmation window since its create date.
func ConfirmWindowExpired(txn *model.Transaction, now time.Time) bool {
	return now.Sub(txn.CreateDate) > ConfirmWindow
}
