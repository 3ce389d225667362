package refund_test

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/refunds/internal/domain"
	"github.com/vladislavdragonenkov/refunds/internal/metrics"
	"github.com/vladislavdragonenkov/refunds/internal/service/refund"
	"github.com/vladislavdragonenkov/refunds/internal/storage/memory"
)

func loggerForTests() *log.Entry {
	logger := log.New()
	logger.SetFormatter(&log.TextFormatter{DisableTimestamp: true})
	logger.SetLevel(log.WarnLevel) // Уменьшаем шум в тестах
	return logger.WithField("component", "test")
}

// RefundServiceTestSuite проверяет сценарии заказов и возвратов на in-memory хранилище.
type RefundServiceTestSuite struct {
	suite.Suite
	orders   *memory.OrderRepository
	timeline domain.TimelineRepository
	service  *refund.Service
}

func (s *RefundServiceTestSuite) SetupTest() {
	s.orders = memory.NewOrderRepository()
	s.timeline = memory.NewTimelineRepository()
	s.service = refund.NewService(
		s.orders,
		memory.NewRefundRepository(s.orders),
		s.timeline,
		metrics.NewRefundMetricsWithRegisterer(prometheus.NewRegistry()),
		refund.DefaultRetryConfig(),
		loggerForTests(),
	)
}

func (s *RefundServiceTestSuite) createOrder(total int64) domain.Order {
	order, err := s.service.CreateOrder(refund.OrderInput{TotalInCents: total})
	s.Require().NoError(err)
	return order
}

func (s *RefundServiceTestSuite) TestCreateOrder_StartsPaid() {
	order := s.createOrder(16000)

	s.NotEmpty(order.ID)
	s.Equal(domain.OrderStatusPaid, order.Status)

	stored, err := s.service.GetOrder(order.ID)
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusPaid, stored.Status)
	s.Equal(int64(16000), stored.TotalInCents)
	s.Equal(int64(0), stored.RefundedAmountInCents())
}

func (s *RefundServiceTestSuite) TestCreateOrder_Validation() {
	_, err := s.service.CreateOrder(refund.OrderInput{TotalInCents: -1})
	s.ErrorIs(err, domain.ErrTotalNegative)

	_, err = s.service.CreateOrder(refund.OrderInput{TotalInCents: 10, Status: "lost"})
	s.ErrorIs(err, domain.ErrStatusInvalid)
}

func (s *RefundServiceTestSuite) TestRefund_PartialScenario() {
	order := s.createOrder(16000)

	_, err := s.service.Refund(order.ID, 6000)
	s.Require().NoError(err)
	stored, err := s.service.GetOrder(order.ID)
	s.Require().NoError(err)
	s.Equal(int64(10000), stored.RefundableAmountInCents())
	s.Equal(domain.OrderStatusRefunded, stored.Status)

	_, err = s.service.Refund(order.ID, 6000)
	s.Require().NoError(err)
	stored, err = s.service.GetOrder(order.ID)
	s.Require().NoError(err)
	s.Equal(int64(4000), stored.RefundableAmountInCents())
	s.Len(stored.Refunds, 2)
	s.True(stored.CanRefund())
	s.False(stored.CanRefundAmount(4001))
}

func (s *RefundServiceTestSuite) TestRefund_ExceedingTotal() {
	order := s.createOrder(16000)

	_, err := s.service.Refund(order.ID, 17000)
	s.Require().ErrorIs(err, domain.ErrRefundAmountInvalid)
	s.Equal("Amount in cents is invalid", err.Error())

	stored, err := s.service.GetOrder(order.ID)
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusPaid, stored.Status)
	s.Equal(int64(0), stored.RefundedAmountInCents())

	refunds, err := s.service.ListRefunds(order.ID)
	s.Require().NoError(err)
	s.Empty(refunds)
}

func (s *RefundServiceTestSuite) TestRefundAll_UsesRefundableBalance() {
	order := s.createOrder(16000)

	_, err := s.service.Refund(order.ID, 1000)
	s.Require().NoError(err)

	created, err := s.service.RefundAll(order.ID)
	s.Require().NoError(err)
	s.Equal(int64(15000), created.AmountInCents)

	stored, err := s.service.GetOrder(order.ID)
	s.Require().NoError(err)
	s.Equal(int64(0), stored.RefundableAmountInCents())
	s.False(stored.CanRefund())

	// Остатка нет: возврат "на всё" теперь отклоняется.
	_, err = s.service.RefundAll(order.ID)
	s.ErrorIs(err, domain.ErrRefundAmountNotPositive)
}

func (s *RefundServiceTestSuite) TestStatusStaysRefundedAfterFailedAttempt() {
	order := s.createOrder(1000)

	_, err := s.service.Refund(order.ID, 500)
	s.Require().NoError(err)
	_, err = s.service.Refund(order.ID, 501)
	s.Require().Error(err)

	stored, err := s.service.GetOrder(order.ID)
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusRefunded, stored.Status)
	s.Equal(int64(500), stored.RefundedAmountInCents())
}

func (s *RefundServiceTestSuite) TestCreateRefund_WithoutOrder() {
	_, err := s.service.CreateRefund(refund.RefundInput{AmountInCents: 1000})
	s.Require().ErrorIs(err, domain.ErrOrderRequired)
	s.Equal("Order can't be blank", err.Error())

	_, err = s.service.CreateRefund(refund.RefundInput{OrderID: "missing", AmountInCents: 1000})
	s.ErrorIs(err, domain.ErrOrderRequired)
}

func (s *RefundServiceTestSuite) TestCreateRefund_Ok() {
	order := s.createOrder(3000)

	created, err := s.service.CreateRefund(refund.RefundInput{OrderID: order.ID, AmountInCents: 3000})
	s.Require().NoError(err)
	s.Equal(order.ID, created.OrderID)

	got, err := s.service.GetRefund(created.ID)
	s.Require().NoError(err)
	s.Equal(created.AmountInCents, got.AmountInCents)

	stored, err := s.service.GetOrder(order.ID)
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusRefunded, stored.Status)
}

func (s *RefundServiceTestSuite) TestRefund_MissingOrder() {
	_, err := s.service.Refund("missing", 100)
	s.ErrorIs(err, domain.ErrOrderNotFound)
}

func (s *RefundServiceTestSuite) TestTimeline() {
	order := s.createOrder(1000)
	_, err := s.service.Refund(order.ID, 100)
	s.Require().NoError(err)
	_, err = s.service.Refund(order.ID, 100)
	s.Require().NoError(err)

	events, err := s.service.Timeline(order.ID)
	s.Require().NoError(err)

	types := make([]string, 0, len(events))
	for _, e := range events {
		types = append(types, e.Type)
	}
	s.Equal(1, countOf(types, domain.TimelineOrderCreated))
	s.Equal(2, countOf(types, domain.TimelineRefundCreated))
	s.Equal(1, countOf(types, domain.TimelineStatusChanged))
}

func countOf(values []string, needle string) int {
	n := 0
	for _, v := range values {
		if v == needle {
			n++
		}
	}
	return n
}

func TestRefundServiceSuite(t *testing.T) {
	suite.Run(t, new(RefundServiceTestSuite))
}

// conflictingOrders отдаёт ErrOrderVersionConflict заданное число раз.
type conflictingOrders struct {
	*memory.OrderRepository
	conflicts int
	calls     int
}

func (c *conflictingOrders) AppendRefund(order domain.Order, r domain.Refund) error {
	c.calls++
	if c.conflicts > 0 {
		c.conflicts--
		return domain.ErrOrderVersionConflict
	}
	return c.OrderRepository.AppendRefund(order, r)
}

func newServiceWithOrders(orders domain.OrderRepository, refunds domain.RefundRepository, retry refund.RetryConfig) *refund.Service {
	return refund.NewService(orders, refunds, nil, nil, retry, loggerForTests())
}

func TestRefund_RetriesOnVersionConflict(t *testing.T) {
	base := memory.NewOrderRepository()
	orders := &conflictingOrders{OrderRepository: base, conflicts: 2}
	svc := newServiceWithOrders(orders, memory.NewRefundRepository(base), refund.RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
	})

	order, err := svc.CreateOrder(refund.OrderInput{TotalInCents: 100})
	require.NoError(t, err)

	created, err := svc.Refund(order.ID, 40)
	require.NoError(t, err)
	require.Equal(t, 3, orders.calls)

	stored, err := svc.GetOrder(order.ID)
	require.NoError(t, err)
	require.Len(t, stored.Refunds, 1)
	require.Equal(t, created.ID, stored.Refunds[0].ID)
}

func TestRefund_GivesUpAfterMaxAttempts(t *testing.T) {
	base := memory.NewOrderRepository()
	orders := &conflictingOrders{OrderRepository: base, conflicts: 10}
	svc := newServiceWithOrders(orders, memory.NewRefundRepository(base), refund.RetryConfig{
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
	})

	order, err := svc.CreateOrder(refund.OrderInput{TotalInCents: 100})
	require.NoError(t, err)

	_, err = svc.Refund(order.ID, 40)
	require.ErrorIs(t, err, domain.ErrOrderVersionConflict)
	require.Equal(t, 2, orders.calls)

	stored, err := svc.GetOrder(order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPaid, stored.Status)
	require.Empty(t, stored.Refunds)
}

// failingOrders имитирует сбой хранилища.
type failingOrders struct {
	*memory.OrderRepository
}

func (f *failingOrders) AppendRefund(domain.Order, domain.Refund) error {
	return errors.New("connection reset")
}

func TestRefund_StorageFailureIsWrapped(t *testing.T) {
	base := memory.NewOrderRepository()
	svc := newServiceWithOrders(&failingOrders{OrderRepository: base}, memory.NewRefundRepository(base), refund.DefaultRetryConfig())

	order, err := svc.CreateOrder(refund.OrderInput{TotalInCents: 100})
	require.NoError(t, err)

	_, err = svc.Refund(order.ID, 10)
	require.Error(t, err)
	require.Contains(t, err.Error(), "persist refund")
	require.False(t, domain.IsValidationError(err))
}

func TestRefund_ConcurrentRefundsNeverExceedTotal(t *testing.T) {
	orders := memory.NewOrderRepository()
	svc := refund.NewService(orders, memory.NewRefundRepository(orders), memory.NewTimelineRepository(), nil, refund.RetryConfig{
		MaxAttempts:  50,
		InitialDelay: time.Microsecond,
		MaxDelay:     time.Millisecond,
	}, loggerForTests())

	order, err := svc.CreateOrder(refund.OrderInput{TotalInCents: 1000})
	require.NoError(t, err)

	const workers = 10
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func() {
			_, err := svc.Refund(order.ID, 300)
			results <- err
		}()
	}

	succeeded := 0
	for i := 0; i < workers; i++ {
		if err := <-results; err == nil {
			succeeded++
		} else {
			require.True(t, domain.IsValidationError(err) || domain.IsVersionConflict(err), "unexpected error: %v", err)
		}
	}

	stored, err := svc.GetOrder(order.ID)
	require.NoError(t, err)
	require.LessOrEqual(t, stored.RefundedAmountInCents(), stored.TotalInCents)
	require.Equal(t, int64(succeeded*300), stored.RefundedAmountInCents())
	require.LessOrEqual(t, succeeded, 3)
}
