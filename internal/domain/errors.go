package domain

import (
	"errors"
	"strings"
)

// ValidationError — единственный вид бизнес-ошибки: запись не прошла валидацию.
// Attribute хранит имя поля в snake_case, Message — текст без имени поля.
type ValidationError struct {
	Attribute string
	Message   string
}

// Error возвращает сообщение в человекочитаемом виде: "Order can't be blank".
func (e *ValidationError) Error() string {
	if e.Attribute == "" {
		return e.Message
	}
	return humanizeAttribute(e.Attribute) + " " + e.Message
}

// Is сравнивает ошибки по полю и тексту, чтобы errors.Is работал с копиями.
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	if !ok {
		return false
	}
	return e.Attribute == t.Attribute && e.Message == t.Message
}

// humanizeAttribute превращает "amount_in_cents" в "Amount in cents".
func humanizeAttribute(attr string) string {
	s := strings.ReplaceAll(attr, "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

var (
	// Ссылка на заказ у возврата отсутствует.
	ErrOrderRequired = &ValidationError{Attribute: "order", Message: "can't be blank"}
	// Сумма возврата превышает остаток, доступный к возврату.
	ErrRefundAmountInvalid = &ValidationError{Attribute: "amount_in_cents", Message: "is invalid"}
	// Сумма возврата нулевая или отрицательная.
	ErrRefundAmountNotPositive = &ValidationError{Attribute: "amount_in_cents", Message: "must be greater than 0"}
	// Отрицательная сумма заказа.
	ErrTotalNegative = &ValidationError{Attribute: "total_in_cents", Message: "must be greater than or equal to 0"}
	// Статус вне перечисления OrderStatus.
	ErrStatusInvalid = &ValidationError{Attribute: "status", Message: "is not included in the list"}
	// Пустой идентификатор записи.
	ErrIDRequired = &ValidationError{Attribute: "id", Message: "can't be blank"}

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrRefundNotFound возвращается, если возврат не найден в репозитории.
	ErrRefundNotFound = errors.New("refund not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
)

// IsValidationError проверяет, что в цепочке есть ValidationError.
func IsValidationError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}
