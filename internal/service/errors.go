package service

import (
	"errors"
	"fmt"
)

// Code - код ошибки расчёта, который видит клиент.
type Code string

// Коды ошибок расчёта. Все, кроме CodeRetryLater, окончательные: запрос нужно исправить.
const (
	CodeInvalidRequest            Code = "INVALID_REQUEST"
	CodeProductNotFound           Code = "PRODUCT_NOT_FOUND"
	CodeOutOfStock                Code = "OUT_OF_STOCK"
	CodeInsufficientPayment       Code = "INSUFFICIENT_PAYMENT"
	CodeInsufficientDenominations Code = "INSUFFICIENT_DENOMINATIONS"
	CodeRetryLater                Code = "RETRY_LATER"
)

var (
	ErrInvalidRequest            = errors.New("invalid request")
	ErrProductNotFound           = errors.New("product not found")
	ErrOutOfStock                = errors.New("out of stock")
	ErrInsufficientPayment       = errors.New("insufficient payment")
	ErrInsufficientDenominations = errors.New("insufficient denominations for change")
	ErrRetryLater                = errors.New("retry later")
)

var sentinels = map[Code]error{
	CodeInvalidRequest:            ErrInvalidRequest,
	CodeProductNotFound:           ErrProductNotFound,
	CodeOutOfStock:                ErrOutOfStock,
	CodeInsufficientPayment:       ErrInsufficientPayment,
	CodeInsufficientDenominations: ErrInsufficientDenominations,
	CodeRetryLater:                ErrRetryLater,
}

// SettlementError описывает отказ в расчёте. При любой такой ошибке
// ни остатки, ни касса не изменены.
type SettlementError struct {
	Code      Code
	ProductID string
	Requested int64
	Available int64
	Err       error
}

func (e *SettlementError) Error() string {
	msg := sentinels[e.Code].Error()
	switch e.Code {
	case CodeOutOfStock:
		msg = fmt.Sprintf("%s: product %s requested %d, available %d", msg, e.ProductID, e.Requested, e.Available)
	case CodeProductNotFound:
		msg = fmt.Sprintf("%s: %s", msg, e.ProductID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SettlementError) Unwrap() error {
	return e.Err
}

// Is позволяет сравнивать ошибку с сентинелом её кода через errors.Is.
func (e *SettlementError) Is(target error) bool {
	return sentinels[e.Code] == target
}

// ErrorCode возвращает код ошибки расчёта или пустую строку для внутренних ошибок.
func ErrorCode(err error) Code {
	var se *SettlementError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

func newError(code Code, err error) *SettlementError {
	return &SettlementError{Code: code, Err: err}
}
