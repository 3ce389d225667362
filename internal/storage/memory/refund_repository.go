package memory

import "github.com/vladislavdragonenkov/refunds/internal/domain"

// refundRepositoryInMemory читает возвраты из OrderRepository.
type refundRepositoryInMemory struct {
	orders *OrderRepository
}

// NewRefundRepository создаёт read-only представление возвратов поверх заказов.
func NewRefundRepository(orders *OrderRepository) domain.RefundRepository {
	return &refundRepositoryInMemory{orders: orders}
}

// Get возвращает возврат или ErrRefundNotFound.
func (r *refundRepositoryInMemory) Get(id string) (domain.Refund, error) {
	r.orders.mu.RLock()
	defer r.orders.mu.RUnlock()

	refund, ok := r.orders.refunds[id]
	if !ok {
		return domain.Refund{}, domain.ErrRefundNotFound
	}
	return refund, nil
}

// ListByOrder возвращает возвраты заказа в порядке создания.
func (r *refundRepositoryInMemory) ListByOrder(orderID string) ([]domain.Refund, error) {
	r.orders.mu.RLock()
	defer r.orders.mu.RUnlock()

	order, ok := r.orders.items[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	result := make([]domain.Refund, len(order.Refunds))
	copy(result, order.Refunds)
	return result, nil
}

var _ domain.RefundRepository = (*refundRepositoryInMemory)(nil)
