package domain

import "time"

// Refund — частичный или полный возврат по заказу. После создания не меняется.
type Refund struct {
	ID            string
	OrderID       string
	AmountInCents int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewRefund строит возврат по заказу, проверяя его против текущего остатка.
// Отсутствие заказа проверяется первым и прерывает остальные проверки.
func NewRefund(id string, order *Order, amountInCents int64, now time.Time) (Refund, error) {
	if order == nil {
		return Refund{}, ErrOrderRequired
	}
	if amountInCents <= 0 {
		return Refund{}, ErrRefundAmountNotPositive
	}
	if !order.CanRefundAmount(amountInCents) {
		return Refund{}, ErrRefundAmountInvalid
	}
	if id == "" {
		return Refund{}, ErrIDRequired
	}

	return Refund{
		ID:            id,
		OrderID:       order.ID,
		AmountInCents: amountInCents,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}
