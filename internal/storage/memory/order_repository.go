package memory

import (
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/refunds/internal/domain"
)

// OrderRepository — in-memory реализация domain.OrderRepository.
// Возвраты хранятся внутри заказов, отдельный индекс нужен для поиска по ID.
type OrderRepository struct {
	mu      sync.RWMutex
	items   map[string]domain.Order
	refunds map[string]domain.Refund
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		items:   make(map[string]domain.Order),
		refunds: make(map[string]domain.Refund),
	}
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (r *OrderRepository) Create(order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[order.ID]; exists {
		return domain.ErrOrderVersionConflict
	}
	// Возвраты создаются только через AppendRefund.
	order.Refunds = nil
	r.items[order.ID] = order
	return nil
}

// Get возвращает копию заказа или ErrOrderNotFound, если его нет.
func (r *OrderRepository) Get(id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// Save перезаписывает статус заказа, проверяя версию (optimistic locking).
// Список возвратов не меняется.
func (r *OrderRepository) Save(order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrOrderVersionConflict
	}
	current.Status = order.Status
	current.UpdatedAt = order.UpdatedAt
	current.Version++
	r.items[order.ID] = current
	return nil
}

// AppendRefund под одной блокировкой добавляет возврат и обновляет заказ.
func (r *OrderRepository) AppendRefund(order domain.Order, refund domain.Refund) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrOrderVersionConflict
	}
	if _, exists := r.refunds[refund.ID]; exists {
		return domain.ErrOrderVersionConflict
	}
	if current.RefundedAmountInCents()+refund.AmountInCents > current.TotalInCents {
		return domain.ErrRefundAmountInvalid
	}

	current.Refunds = append(cloneRefunds(current.Refunds), refund)
	sortRefunds(current.Refunds)
	current.Status = order.Status
	current.UpdatedAt = order.UpdatedAt
	current.Version++

	r.items[order.ID] = current
	r.refunds[refund.ID] = refund
	return nil
}

func cloneOrder(order domain.Order) domain.Order {
	order.Refunds = cloneRefunds(order.Refunds)
	return order
}

func cloneRefunds(refunds []domain.Refund) []domain.Refund {
	if len(refunds) == 0 {
		return nil
	}
	out := make([]domain.Refund, len(refunds))
	copy(out, refunds)
	return out
}

func sortRefunds(refunds []domain.Refund) {
	sort.SliceStable(refunds, func(i, j int) bool {
		if !refunds[i].CreatedAt.Equal(refunds[j].CreatedAt) {
			return refunds[i].CreatedAt.Before(refunds[j].CreatedAt)
		}
		return refunds[i].ID < refunds[j].ID
	})
}

var _ domain.OrderRepository = (*OrderRepository)(nil)
