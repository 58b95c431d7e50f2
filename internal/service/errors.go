package service

import (
	"errors"
	"fmt"
)

// Kind classifies a failure independently of the provider's numeric codes.
type Kind int

const (
	KindMalformedRequest Kind = iota + 1
	KindAccountNotFound
	KindInvalidAmount
	KindTransactionNotFound
	KindCannotPerformTransaction
	KindCannotCancelTransaction
	KindSystemError
	KindParseError
	KindMethodNotFound
	KindInsufficientPrivilege
	KindTransportError
)

// Localized is the provider's multi-locale message triple.
type Localized struct {
	RU string `json:"ru"`
	UZ string `json:"uz"`
	EN string `json:"en"`
}

// Error is the only error type returned across the service boundary.
type Error struct {
	Kind    Kind
	Code    int
	Message Localized
	// Data names the offending field, when there is one.
	Data string
}

func (e *Error) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("merchant error %d: %s (%s)", e.Code, e.Message.EN, e.Data)
	}
	return fmt.Sprintf("merchant error %d: %s", e.Code, e.Message.EN)
}

// Is matches any *Error of the same Kind, so the timeout error is also
// ErrCannotPerformTransaction.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// WithData returns a copy of e annotated with the offending field.
func (e *Error) WithData(data string) *Error {
	c := *e
	c.Data = data
	return &c
}

var (
	ErrMalformedRequest = &Error{Kind: KindMalformedRequest, Code: -32600, Message: Localized{
		RU: "Отсутствуют обязательные поля",
		UZ: "Majburiy maydonlar yo'q",
		EN: "Missing or invalid required fields",
	}}
	ErrAccountNotFound = &Error{Kind: KindAccountNotFound, Code: -31050, Message: Localized{
		RU: "Пользователь не найден",
		UZ: "Foydalanuvchi topilmadi",
		EN: "User not found",
	}}
	ErrInvalidAmount = &Error{Kind: KindInvalidAmount, Code: -31001, Message: Localized{
		RU: "Неверная сумма",
		UZ: "Noto'g'ri summa",
		EN: "Invalid amount",
	}}
	ErrTransactionNotFound = &Error{Kind: KindTransactionNotFound, Code: -31003, Message: Localized{
		RU: "Транзакция не найдена",
		UZ: "Tranzaksiya topilmadi",
		EN: "Transaction not found",
	}}
	ErrCannotPerformTransaction = &Error{Kind: KindCannotPerformTransaction, Code: -31008, Message: Localized{
		RU: "Невозможно выполнить операцию",
		UZ: "Amalni bajarib bo'lmaydi",
		EN: "Unable to perform operation",
	}}
	ErrTransactionTimeout = &Error{Kind: KindCannotPerformTransaction, Code: -31008, Message: Localized{
		RU: "Тайм-аут прошел",
		UZ: "Vaqt tugashi o'tdi",
		EN: "Timeout passed",
	}}
	ErrCannotCancelTransaction = &Error{Kind: KindCannotCancelTransaction, Code: -31007, Message: Localized{
		RU: "Невозможно отменить транзакцию",
		UZ: "Tranzaksiyani bekor qilib bo'lmaydi",
		EN: "Unable to cancel transaction",
	}}
	ErrSystem = &Error{Kind: KindSystemError, Code: -32400, Message: Localized{
		RU: "Системная ошибка",
		UZ: "Tizim xatosi",
		EN: "System error",
	}}
	ErrParse = &Error{Kind: KindParseError, Code: -32700, Message: Localized{
		RU: "Ошибка разбора JSON",
		UZ: "JSON tahlil xatosi",
		EN: "Parse error",
	}}
	ErrMethodNotFound = &Error{Kind: KindMethodNotFound, Code: -32601, Message: Localized{
		RU: "Метод не найден",
		UZ: "Metod topilmadi",
		EN: "Method not found",
	}}
	ErrInsufficientPrivilege = &Error{Kind: KindInsufficientPrivilege, Code: -32504, Message: Localized{
		RU: "Недостаточно привилегий",
		UZ: "Imtiyozlar yetarli emas",
		EN: "Insufficient privilege",
	}}
	ErrTransport = &Error{Kind: KindTransportError, Code: -32300, Message: Localized{
		RU: "Метод запроса не POST",
		UZ: "So'rov metodi POST emas",
		EN: "Request method must be POST",
	}}
)

// AsError converts any error into an *Error, mapping unknown failures to
// fallback.
func AsError(err error, fallback *Error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return fallback
}
