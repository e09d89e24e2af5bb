// Package validation содержит функции валидации входных данных.
package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/mmeshcher/billing-system/internal/model"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ErrFractionalTender возвращается, если внесённая сумма содержит доли единицы валюты.
var ErrFractionalTender = errors.New("amount tendered must be a whole number of currency units")

// ValidateSettleRequest проверяет запрос до каких-либо изменений данных:
// корректный email, непустая корзина, количество не меньше 1,
// неотрицательные пополнения кассы и целая неотрицательная внесённая сумма.
func ValidateSettleRequest(req model.SettleRequest) error {
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return describe(verrs)
		}
		return fmt.Errorf("validate request: %w", err)
	}

	if req.AmountTendered.IsNegative() {
		return errors.New("amount tendered must not be negative")
	}
	if !req.AmountTendered.Equal(req.AmountTendered.Truncate(0)) {
		return ErrFractionalTender
	}

	return nil
}

// IsValidEmail проверяет синтаксис адреса электронной почты.
func IsValidEmail(email string) bool {
	return validate.Var(email, "required,email") == nil
}

func describe(verrs validator.ValidationErrors) error {
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed on %q", fe.Namespace(), fe.Tag()))
	}
	return errors.New(strings.Join(parts, "; "))
}
