package domain

import (
	"errors"
	"time"
)

// OrderStatus описывает состояние заказа с точки зрения возвратов.
type OrderStatus string

const (
	// OrderStatusPaid — заказ оплачен, возвратов по нему ещё не было.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusRefunded — по заказу создан хотя бы один возврат. Обратного перехода нет.
	OrderStatusRefunded OrderStatus = "refunded"
)

// Valid сообщает, входит ли статус в перечисление.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPaid, OrderStatusRefunded:
		return true
	default:
		return false
	}
}

// Order — корневая сущность: покупка с фиксированной суммой и списком возвратов.
type Order struct {
	ID           string
	Status       OrderStatus
	TotalInCents int64
	// Refunds упорядочены по CreatedAt, затем по ID. Заказ — единственный владелец.
	Refunds   []Refund
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewOrder создаёт заказ. Пустой status заменяется на paid.
func NewOrder(id string, status OrderStatus, totalInCents int64, now time.Time) (Order, error) {
	order := Order{
		ID:           id,
		Status:       status,
		TotalInCents: totalInCents,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	order.applyDefaults()

	if errs := order.Validate(); len(errs) != 0 {
		return Order{}, errors.Join(errs...)
	}
	return order, nil
}

// applyDefaults выставляет статус по умолчанию, если он не задан явно.
func (o *Order) applyDefaults() {
	if o.Status == "" {
		o.Status = OrderStatusPaid
	}
}

// Validate проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) Validate() []error {
	var errs []error

	if o.ID == "" {
		errs = append(errs, ErrIDRequired)
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrStatusInvalid)
	}
	if o.TotalInCents < 0 {
		errs = append(errs, ErrTotalNegative)
	}
	if o.RefundedAmountInCents() > o.TotalInCents {
		errs = append(errs, ErrRefundAmountInvalid)
	}

	return errs
}

// RefundedAmountInCents возвращает сумму всех возвратов (0, если их нет).
func (o *Order) RefundedAmountInCents() int64 {
	var sum int64
	for _, r := range o.Refunds {
		sum += r.AmountInCents
	}
	return sum
}

// RefundableAmountInCents возвращает остаток, который ещё можно вернуть.
func (o *Order) RefundableAmountInCents() int64 {
	return o.TotalInCents - o.RefundedAmountInCents()
}

// CanRefund сообщает, остались ли средства для возврата.
func (o *Order) CanRefund() bool {
	return o.RefundableAmountInCents() > 0
}

// CanRefundAmount сообщает, укладывается ли amount в остаток.
func (o *Order) CanRefundAmount(amount int64) bool {
	return amount <= o.RefundableAmountInCents()
}

// ApplyRefund добавляет уже провалидированный возврат и переводит заказ в refunded.
// Возвращает true, если статус изменился.
func (o *Order) ApplyRefund(refund Refund, now time.Time) bool {
	o.Refunds = append(o.Refunds, refund)
	o.UpdatedAt = now
	if o.Status == OrderStatusRefunded {
		return false
	}
	o.Status = OrderStatusRefunded
	return true
}
