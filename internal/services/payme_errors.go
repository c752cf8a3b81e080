package services

import "fmt"

// ErrorCode is a provider-defined wire code. The values are fixed by
// the Payme merchant API and must never be renumbered.
type ErrorCode int

const (
	CodeInternalError        ErrorCode = -32000
	CodeInvalidAuthorization ErrorCode = -32504
	CodeMethodNotFound       ErrorCode = -32601
	CodeParseError           ErrorCode = -32700

	CodeInvalidAmount       ErrorCode = -31001
	CodeTransactionNotFound ErrorCode = -31003
	CodeCantDoOperation     ErrorCode = -31008
	// -31050..-31099 is the account-error range. The provider does not
	// distinguish inside it, so the three account failures share one
	// code.
	CodeBookingNotFound ErrorCode = -31050
	CodeAlreadyDone     ErrorCode = -31060
)

// LocalizedMessage is the trilingual error text Payme requires.
type LocalizedMessage struct {
	Uz string `json:"uz"`
	Ru string `json:"ru"`
	En string `json:"en"`
}

// TransactionError is the single domain error type of the webhook. The
// dispatcher serializes it into the JSON-RPC error member with the
// request id echoed back.
type TransactionError struct {
	Code    ErrorCode        `json:"code"`
	Message LocalizedMessage `json:"message"`
	Data    string           `json:"data,omitempty"`
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("payme error %d: %s", e.Code, e.Message.En)
}

func ErrInvalidAmount() *TransactionError {
	return &TransactionError{
		Code: CodeInvalidAmount,
		Message: LocalizedMessage{
			Uz: "Noto'g'ri summa",
			Ru: "Неверная сумма",
			En: "Invalid amount",
		},
		Data: "amount",
	}
}

func ErrBookingNotFound() *TransactionError {
	return &TransactionError{
		Code: CodeBookingNotFound,
		Message: LocalizedMessage{
			Uz: "Buyurtma topilmadi",
			Ru: "Заказ не найден",
			En: "Order not found",
		},
		Data: "account",
	}
}

func ErrUserNotFound() *TransactionError {
	return &TransactionError{
		Code: CodeBookingNotFound,
		Message: LocalizedMessage{
			Uz: "Foydalanuvchi topilmadi",
			Ru: "Пользователь не найден",
			En: "User not found",
		},
		Data: "account",
	}
}

// ErrPendingPayment signals that another live transaction already
// occupies the booking. No new transaction row may appear in this case.
func ErrPendingPayment() *TransactionError {
	return &TransactionError{
		Code: CodeBookingNotFound,
		Message: LocalizedMessage{
			Uz: "Buyurtma uchun to'lov hozirda amalga oshirilmoqda",
			Ru: "Оплата по заказу уже проводится",
			En: "Payment for this order is already being processed",
		},
		Data: "account",
	}
}

func ErrCantDoOperation() *TransactionError {
	return &TransactionError{
		Code: CodeCantDoOperation,
		Message: LocalizedMessage{
			Uz: "Amalni bajarib bo'lmaydi",
			Ru: "Невозможно выполнить операцию",
			En: "Unable to perform the operation",
		},
	}
}

func ErrTransactionNotFoundError() *TransactionError {
	return &TransactionError{
		Code: CodeTransactionNotFound,
		Message: LocalizedMessage{
			Uz: "Tranzaksiya topilmadi",
			Ru: "Транзакция не найдена",
			En: "Transaction not found",
		},
		Data: "id",
	}
}

func ErrAlreadyDone() *TransactionError {
	return &TransactionError{
		Code: CodeAlreadyDone,
		Message: LocalizedMessage{
			Uz: "Buyurtma allaqachon to'langan",
			Ru: "Заказ уже оплачен",
			En: "Order is already paid",
		},
	}
}

func ErrInvalidAuthorizationError() *TransactionError {
	return &TransactionError{
		Code: CodeInvalidAuthorization,
		Message: LocalizedMessage{
			Uz: "Avtorizatsiya xatosi",
			Ru: "Ошибка авторизации",
			En: "Authorization failure",
		},
	}
}

func ErrMethodNotFoundError(method string) *TransactionError {
	return &TransactionError{
		Code: CodeMethodNotFound,
		Message: LocalizedMessage{
			Uz: "Metod topilmadi",
			Ru: "Метод не найден",
			En: "Method not found",
		},
		Data: method,
	}
}

func ErrParseErrorError() *TransactionError {
	return &TransactionError{
		Code: CodeParseError,
		Message: LocalizedMessage{
			Uz: "JSON o'qishda xatolik",
			Ru: "Ошибка разбора JSON",
			En: "Parse error",
		},
	}
}

// ErrInternalError hides every non-domain failure behind one generic
// trilingual message, nothing internal may leak to the provider.
func ErrInternalError() *TransactionError {
	return &TransactionError{
		Code: CodeInternalError,
		Message: LocalizedMessage{
			Uz: "Ichki server xatosi",
			Ru: "Внутренняя ошибка сервера",
			En: "Internal server error",
		},
	}
}
