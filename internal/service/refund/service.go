package refund

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/refunds/internal/domain"
	"github.com/vladislavdragonenkov/refunds/internal/metrics"
)

// OrderInput описывает параметры нового заказа. Пустой Status означает paid.
type OrderInput struct {
	TotalInCents int64
	Status       domain.OrderStatus
}

// RefundInput описывает возврат, создаваемый напрямую по ссылке на заказ.
type RefundInput struct {
	OrderID       string
	AmountInCents int64
}

// Service создаёт заказы и возвраты поверх репозиториев.
type Service struct {
	orders   domain.OrderRepository
	refunds  domain.RefundRepository
	timeline domain.TimelineRepository
	metrics  *metrics.RefundMetrics
	retry    RetryConfig
	logger   *log.Entry

	now   func() time.Time
	newID func() string
}

// NewService собирает сервис. metrics может быть nil (например, в тестах).
func NewService(
	orders domain.OrderRepository,
	refunds domain.RefundRepository,
	timeline domain.TimelineRepository,
	m *metrics.RefundMetrics,
	retry RetryConfig,
	logger *log.Entry,
) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "refund")
	}
	return &Service{
		orders:   orders,
		refunds:  refunds,
		timeline: timeline,
		metrics:  m,
		retry:    retry.normalized(),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

// CreateOrder создаёт заказ и пишет событие OrderCreated в timeline.
func (s *Service) CreateOrder(in OrderInput) (domain.Order, error) {
	defer s.observe("create_order", time.Now())

	order, err := domain.NewOrder(s.newID(), in.Status, in.TotalInCents, s.now())
	if err != nil {
		s.logger.WithError(err).WithField("total_in_cents", in.TotalInCents).Info("order rejected")
		return domain.Order{}, err
	}
	if err := s.orders.Create(order); err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Error("failed to persist order")
		return domain.Order{}, fmt.Errorf("create order: %w", err)
	}

	s.metrics.RecordOrderCreated()
	s.appendTimeline(order.ID, domain.TimelineOrderCreated, fmt.Sprintf("total_in_cents=%d", order.TotalInCents), order.CreatedAt)
	s.logger.WithFields(log.Fields{
		"order_id":       order.ID,
		"total_in_cents": order.TotalInCents,
		"status":         order.Status,
	}).Info("order created")

	return order, nil
}

// GetOrder возвращает заказ вместе с возвратами.
func (s *Service) GetOrder(orderID string) (domain.Order, error) {
	return s.orders.Get(orderID)
}

// GetRefund возвращает возврат по идентификатору.
func (s *Service) GetRefund(refundID string) (domain.Refund, error) {
	return s.refunds.Get(refundID)
}

// ListRefunds возвращает возвраты заказа в порядке создания.
func (s *Service) ListRefunds(orderID string) ([]domain.Refund, error) {
	return s.refunds.ListByOrder(orderID)
}

// Timeline возвращает события заказа.
func (s *Service) Timeline(orderID string) ([]domain.TimelineEvent, error) {
	if s.timeline == nil {
		return nil, nil
	}
	return s.timeline.List(orderID)
}

// Refund создаёт возврат на amountInCents по существующему заказу.
func (s *Service) Refund(orderID string, amountInCents int64) (domain.Refund, error) {
	defer s.observe("refund", time.Now())
	return s.createRefund(orderID, &amountInCents)
}

// RefundAll возвращает весь текущий остаток заказа.
func (s *Service) RefundAll(orderID string) (domain.Refund, error) {
	defer s.observe("refund_all", time.Now())
	return s.createRefund(orderID, nil)
}

// CreateRefund создаёт возврат по ссылке на заказ. Пустая или несуществующая
// ссылка даёт ErrOrderRequired до проверки суммы.
func (s *Service) CreateRefund(in RefundInput) (domain.Refund, error) {
	defer s.observe("create_refund", time.Now())

	if in.OrderID == "" {
		return domain.Refund{}, s.reject(domain.ErrOrderRequired, in.OrderID, in.AmountInCents)
	}
	refund, err := s.createRefund(in.OrderID, &in.AmountInCents)
	if errors.Is(err, domain.ErrOrderNotFound) {
		return domain.Refund{}, domain.ErrOrderRequired
	}
	return refund, err
}

// createRefund загружает заказ, валидирует возврат и сохраняет его атомарно
// вместе с новым статусом заказа. При конфликте версий заказ перечитывается
// и проверка повторяется. amount == nil означает весь остаток.
func (s *Service) createRefund(orderID string, amount *int64) (domain.Refund, error) {
	delay := s.retry.InitialDelay

	for attempt := 1; ; attempt++ {
		order, err := s.orders.Get(orderID)
		if err != nil {
			if errors.Is(err, domain.ErrOrderNotFound) {
				s.metrics.RecordRefundRejected(metrics.RejectReasonOrderMissing)
				s.logger.WithField("order_id", orderID).Info("refund rejected: order not found")
				return domain.Refund{}, err
			}
			s.metrics.RecordRefundRejected(metrics.RejectReasonStorage)
			s.logger.WithError(err).WithField("order_id", orderID).Error("failed to load order for refund")
			return domain.Refund{}, fmt.Errorf("load order: %w", err)
		}

		amountInCents := order.RefundableAmountInCents()
		if amount != nil {
			amountInCents = *amount
		}

		now := s.now()
		refund, err := domain.NewRefund(s.newID(), &order, amountInCents, now)
		if err != nil {
			return domain.Refund{}, s.reject(err, orderID, amountInCents)
		}
		statusChanged := order.ApplyRefund(refund, now)

		err = s.orders.AppendRefund(order, refund)
		switch {
		case err == nil:
			s.onRefundCreated(order, refund, statusChanged)
			return refund, nil
		case domain.IsValidationError(err):
			return domain.Refund{}, s.reject(err, orderID, amountInCents)
		case domain.IsVersionConflict(err) && attempt < s.retry.MaxAttempts:
			s.metrics.RecordVersionConflict()
			s.logger.WithFields(log.Fields{
				"order_id": orderID,
				"attempt":  attempt,
				"delay":    delay,
			}).Warn("version conflict detected, retrying")
			time.Sleep(delay)
			delay = s.retry.nextDelay(delay)
			continue
		case domain.IsVersionConflict(err):
			s.metrics.RecordVersionConflict()
			s.metrics.RecordRefundRejected(metrics.RejectReasonVersionExhaust)
			s.logger.WithFields(log.Fields{
				"order_id":     orderID,
				"max_attempts": s.retry.MaxAttempts,
			}).Error("refund failed after all retry attempts")
			return domain.Refund{}, err
		default:
			s.metrics.RecordRefundRejected(metrics.RejectReasonStorage)
			s.logger.WithError(err).WithField("order_id", orderID).Error("failed to persist refund")
			return domain.Refund{}, fmt.Errorf("persist refund: %w", err)
		}
	}
}

func (s *Service) onRefundCreated(order domain.Order, refund domain.Refund, statusChanged bool) {
	s.metrics.RecordRefundCreated(refund.AmountInCents)
	s.appendTimeline(order.ID, domain.TimelineRefundCreated, fmt.Sprintf("refund_id=%s amount_in_cents=%d", refund.ID, refund.AmountInCents), refund.CreatedAt)
	if statusChanged {
		s.metrics.RecordStatusChange(string(order.Status))
		s.appendTimeline(order.ID, domain.TimelineStatusChanged, "status="+string(order.Status), refund.CreatedAt)
	}

	s.logger.WithFields(log.Fields{
		"order_id":        order.ID,
		"refund_id":       refund.ID,
		"amount_in_cents": refund.AmountInCents,
		"refundable":      order.RefundableAmountInCents(),
		"status":          order.Status,
	}).Info("refund created")
}

// reject учитывает отклонённый возврат и возвращает исходную ошибку.
func (s *Service) reject(err error, orderID string, amountInCents int64) error {
	reason := metrics.RejectReasonAmountInvalid
	if errors.Is(err, domain.ErrOrderRequired) {
		reason = metrics.RejectReasonOrderMissing
	}
	s.metrics.RecordRefundRejected(reason)
	s.logger.WithError(err).WithFields(log.Fields{
		"order_id":        orderID,
		"amount_in_cents": amountInCents,
	}).Info("refund rejected")
	return err
}

// appendTimeline пишет событие в timeline; ошибка только логируется.
func (s *Service) appendTimeline(orderID, eventType, reason string, occurred time.Time) {
	if s.timeline == nil {
		return
	}
	if err := s.timeline.Append(domain.TimelineEvent{
		OrderID:  orderID,
		Type:     eventType,
		Reason:   reason,
		Occurred: occurred,
	}); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id": orderID,
			"type":     eventType,
		}).Warn("failed to append timeline event")
	}
}

func (s *Service) observe(operation string, start time.Time) {
	s.metrics.RecordOperationDuration(operation, time.Since(start))
}
