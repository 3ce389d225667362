package domain

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ErrOrderVersionConflict, если ID уже занят.
	Create(order Order) error
	// Get возвращает заказ вместе с возвратами или ErrOrderNotFound.
	Get(id string) (Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	Save(order Order) error
	// AppendRefund атомарно сохраняет возврат и новое состояние заказа.
	// order.Version должен совпадать с версией в хранилище, иначе ErrOrderVersionConflict.
	AppendRefund(order Order, refund Refund) error
}

// RefundRepository даёт доступ к уже созданным возвратам. Возвраты неизменяемы,
// поэтому запись идёт только через OrderRepository.AppendRefund.
type RefundRepository interface {
	// Get возвращает возврат по идентификатору или ErrRefundNotFound.
	Get(id string) (Refund, error)
	// ListByOrder возвращает возвраты заказа в порядке создания.
	ListByOrder(orderID string) ([]Refund, error)
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(event TimelineEvent) error
	List(orderID string) ([]TimelineEvent, error)
}
