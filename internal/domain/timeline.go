package domain

import "time"

// Типы событий timeline.
const (
	TimelineOrderCreated  = "OrderCreated"
	TimelineRefundCreated = "RefundCreated"
	TimelineStatusChanged = "OrderStatusChanged"
)

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}
