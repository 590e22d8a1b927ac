package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/entrega-next/internal/constants"
	"github.com/entrega-next/internal/events"
	"github.com/entrega-next/internal/logger"
	"github.com/entrega-next/internal/models"
	"github.com/entrega-next/internal/repository"

	"gorm.io/gorm"
)

const maxTransitionAttempts = 3

// TaskEnqueuer 异步任务投递
type TaskEnqueuer interface {
	EnqueueNotificationDispatch(notificationID uint, retryCount int, delay time.Duration) error
	EnqueueRefundIntent(intentID uint) error
	EnqueuePaymentExpire(paymentID uint, delay time.Duration) error
}

// OrderService 订单服务（订单状态的唯一写入方）
type OrderService struct {
	db           *gorm.DB
	orderRepo    repository.OrderRepository
	deliveryRepo repository.DeliveryRepository
	refundRepo   repository.RefundIntentRepository
	publisher    events.Publisher
	queue        TaskEnqueuer
	locks        *KeyedLock
	now          func() time.Time
}

// NewOrderService 创建订单服务
func NewOrderService(db *gorm.DB, orderRepo repository.OrderRepository, deliveryRepo repository.DeliveryRepository, refundRepo repository.RefundIntentRepository, publisher events.Publisher, queue TaskEnqueuer, locks *KeyedLock) *OrderService {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if locks == nil {
		locks = NewKeyedLock()
	}
	return &OrderService{
		db:           db,
		orderRepo:    orderRepo,
		deliveryRepo: deliveryRepo,
		refundRepo:   refundRepo,
		publisher:    publisher,
		queue:        queue,
		locks:        locks,
		now:          time.Now,
	}
}

// CreateOrderInput 创建订单输入
type CreateOrderInput struct {
	ConsumerID   uint
	MerchantID   *uint
	Source       string
	ThreadID     string
	Priority     string
	ItemCategory string
}

// QuoteDetails 报价时写入订单的字段
type QuoteDetails struct {
	PickupAddress   string
	DeliveryAddress string
	PickupLat       *float64
	PickupLng       *float64
	DeliveryLat     *float64
	DeliveryLng     *float64
	ItemDescription string
	ItemCategory    string
	Priority        string
	DurationMin     int
	Price           PriceQuote
}

// TransitionOptions 状态转移附带参数
type TransitionOptions struct {
	DriverID uint
	Reason   string
	Quote    *QuoteDetails
}

// TransitionResult 一次状态转移的结果
type TransitionResult struct {
	Order        *models.Order
	From         string
	To           string
	Event        string
	Delivery     *models.Delivery
	RefundIntent *models.RefundIntent
	Noop         bool
}

// Create 创建草稿订单
func (s *OrderService) Create(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	if input.ConsumerID == 0 {
		return nil, errors.New("consumer is required")
	}
	order := &models.Order{
		OrderNo:      generateOrderNo(s.now()),
		ConsumerID:   input.ConsumerID,
		MerchantID:   input.MerchantID,
		Status:       constants.OrderStatusDraft,
		Priority:     normalizePriority(input.Priority),
		ItemCategory: normalizeItemCategory(input.ItemCategory),
		Currency:     constants.CurrencyBRL,
		Source:       strings.TrimSpace(input.Source),
		ThreadID:     strings.TrimSpace(input.ThreadID),
	}
	if err := s.orderRepo.WithTx(s.db.WithContext(ctx)).Create(order); err != nil {
		return nil, err
	}
	logger.Infow("order_created", "order_id", order.ID, "order_no", order.OrderNo, "consumer_id", order.ConsumerID)
	return order, nil
}

// Get 获取订单
func (s *OrderService) Get(ctx context.Context, orderID uint) (*models.Order, error) {
	order, err := s.orderRepo.WithTx(s.db.WithContext(ctx)).GetByID(orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

// OpenOrderFor 获取用户最新的未终结订单，没有时返回 nil
func (s *OrderService) OpenOrderFor(ctx context.Context, consumerID uint) (*models.Order, error) {
	return s.orderRepo.WithTx(s.db.WithContext(ctx)).GetOpenByConsumer(consumerID)
}

// Apply 在订单锁与事务内执行一次状态转移，提交后广播事件并投递退款意图。
// 已支付订单重复收到 payment_confirmed 时视为成功的空操作。
func (s *OrderService) Apply(ctx context.Context, orderID uint, event string, opts TransitionOptions) (*TransitionResult, error) {
	unlock := s.locks.Lock(orderLockKey(orderID))
	defer unlock()

	var result *TransitionResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		applied, err := s.ApplyInTx(tx, orderID, event, opts)
		if err != nil {
			return err
		}
		result = applied
		return nil
	})
	if errors.Is(err, ErrAlreadyPaid) {
		order, getErr := s.Get(ctx, orderID)
		if getErr != nil {
			return nil, getErr
		}
		logger.Debugw("order_transition_noop", "order_id", orderID, "event", event, "status", order.Status)
		return &TransitionResult{Order: order, From: order.Status, To: order.Status, Event: event, Noop: true}, nil
	}
	if err != nil {
		logger.Warnw("order_transition_rejected", "order_id", orderID, "event", event, "error", err)
		return nil, err
	}
	s.AfterCommit(result)
	return result, nil
}

// AssignDriver 指派司机（同时创建配送记录）；重复指派返回 ErrAlreadyAssigned
func (s *OrderService) AssignDriver(ctx context.Context, orderID, driverID uint) (*TransitionResult, error) {
	if driverID == 0 {
		return nil, ErrDriverRequired
	}
	return s.Apply(ctx, orderID, constants.OrderEventAssignDriver, TransitionOptions{DriverID: driverID})
}

// Cancel 取消订单
func (s *OrderService) Cancel(ctx context.Context, orderID uint, reason string) (*TransitionResult, error) {
	return s.Apply(ctx, orderID, constants.OrderEventCancel, TransitionOptions{Reason: reason})
}

// ApplyInTx 在调用方事务内执行状态转移（调用方负责持有订单锁并在提交后调用 AfterCommit）
func (s *OrderService) ApplyInTx(tx *gorm.DB, orderID uint, event string, opts TransitionOptions) (*TransitionResult, error) {
	orderRepo := s.orderRepo.WithTx(tx)
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		order, err := orderRepo.GetByID(orderID)
		if err != nil {
			return nil, err
		}
		if order == nil {
			return nil, ErrOrderNotFound
		}
		to, err := ResolveOrderTransition(order.Status, event)
		if err != nil {
			return nil, err
		}
		now := s.now()
		if event == constants.OrderEventAssignDriver {
			active, err := s.deliveryRepo.WithTx(tx).GetActiveByOrder(order.ID)
			if err != nil {
				return nil, err
			}
			if active != nil {
				return nil, ErrAlreadyAssigned
			}
		}
		updates, err := transitionUpdates(to, event, opts, now)
		if err != nil {
			return nil, err
		}
		ok, err := orderRepo.TransitionStatus(order.ID, order.Status, to, updates)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		result := &TransitionResult{From: order.Status, To: to, Event: event}
		if err := s.applySatellites(tx, order, result, opts, now); err != nil {
			return nil, err
		}
		fresh, err := orderRepo.GetByID(order.ID)
		if err != nil {
			return nil, err
		}
		result.Order = fresh
		return result, nil
	}
	return nil, ErrTransitionConflict
}

// AfterCommit 事务提交后的副作用：广播状态变更、投递退款意图
func (s *OrderService) AfterCommit(result *TransitionResult) {
	if result == nil || result.Noop || result.Order == nil {
		return
	}
	logger.Infow("order_transition_applied",
		"order_id", result.Order.ID,
		"event", result.Event,
		"from", result.From,
		"to", result.To,
	)
	s.publisher.PublishOrderStatusChanged(events.OrderStatusChanged{
		OrderID:    result.Order.ID,
		OrderNo:    result.Order.OrderNo,
		ConsumerID: result.Order.ConsumerID,
		From:       result.From,
		To:         result.To,
		Event:      result.Event,
		OccurredAt: s.now(),
	})
	if result.RefundIntent != nil && result.RefundIntent.Status == constants.RefundIntentStatusPending && s.queue != nil {
		if err := s.queue.EnqueueRefundIntent(result.RefundIntent.ID); err != nil {
			logger.Warnw("refund_intent_enqueue_failed",
				"order_id", result.Order.ID,
				"intent_id", result.RefundIntent.ID,
				"error", err,
			)
		}
	}
}

func (s *OrderService) applySatellites(tx *gorm.DB, order *models.Order, result *TransitionResult, opts TransitionOptions, now time.Time) error {
	deliveryRepo := s.deliveryRepo.WithTx(tx)
	switch result.To {
	case constants.OrderStatusAssigned:
		count, err := deliveryRepo.CountByOrder(order.ID)
		if err != nil {
			return err
		}
		retryCount := 0
		latest, err := deliveryRepo.GetLatestByOrder(order.ID)
		if err != nil {
			return err
		}
		if latest != nil {
			retryCount = latest.RetryCount
		}
		delivery := &models.Delivery{
			OrderID:    order.ID,
			Attempt:    int(count) + 1,
			DriverID:   opts.DriverID,
			Status:     constants.DeliveryStatusAssigned,
			AssignedAt: now,
			RetryCount: retryCount,
		}
		if err := deliveryRepo.Create(delivery); err != nil {
			return err
		}
		result.Delivery = delivery
	case constants.OrderStatusCancelled, constants.OrderStatusFailed, constants.OrderStatusRefunded:
		active, err := deliveryRepo.GetActiveByOrder(order.ID)
		if err != nil {
			return err
		}
		if active != nil {
			if _, err := deliveryRepo.TransitionStatus(active.ID, active.Status, constants.DeliveryStatusCancelled, map[string]interface{}{
				"cancelled_at":   now,
				"failure_reason": strings.TrimSpace(opts.Reason),
			}); err != nil {
				return err
			}
		}
		if OrderStatusAtLeast(result.From, constants.OrderStatusPaid) {
			intent, err := s.refundRepo.WithTx(tx).CreateOnce(&models.RefundIntent{
				OrderID: order.ID,
				Reason:  refundReason(result.Event, opts.Reason),
				Status:  constants.RefundIntentStatusPending,
			})
			if err != nil {
				return err
			}
			result.RefundIntent = intent
		}
	}
	return nil
}

func transitionUpdates(to, event string, opts TransitionOptions, now time.Time) (map[string]interface{}, error) {
	updates := map[string]interface{}{}
	switch event {
	case constants.OrderEventQuote:
		quote := opts.Quote
		if quote == nil || quote.Price.FinalPrice.IsZero() {
			return nil, ErrInvalidPrice
		}
		updates["pickup_address"] = strings.TrimSpace(quote.PickupAddress)
		updates["delivery_address"] = strings.TrimSpace(quote.DeliveryAddress)
		updates["pickup_lat"] = quote.PickupLat
		updates["pickup_lng"] = quote.PickupLng
		updates["delivery_lat"] = quote.DeliveryLat
		updates["delivery_lng"] = quote.DeliveryLng
		updates["item_description"] = strings.TrimSpace(quote.ItemDescription)
		if category := strings.TrimSpace(quote.ItemCategory); category != "" {
			updates["item_category"] = normalizeItemCategory(category)
		}
		if priority := strings.TrimSpace(quote.Priority); priority != "" {
			updates["priority"] = normalizePriority(priority)
		}
		updates["distance_km"] = quote.Price.DistanceKm
		updates["duration_min"] = quote.DurationMin
		updates["base_price"] = quote.Price.BasePrice
		updates["final_price"] = quote.Price.FinalPrice
		updates["currency"] = quote.Price.Currency
		updates["price_factors"] = quote.Price.Factors
		updates["quote_generated_at"] = now
	case constants.OrderEventAssignDriver:
		if opts.DriverID == 0 {
			return nil, ErrDriverRequired
		}
		updates["driver_id"] = opts.DriverID
		updates["driver_assigned_at"] = now
	case constants.OrderEventReleaseDriver:
		updates["driver_id"] = nil
		updates["driver_assigned_at"] = nil
	}

	switch to {
	case constants.OrderStatusPaid:
		if event == constants.OrderEventPaymentConfirmed {
			updates["payment_confirmed_at"] = now
		}
	case constants.OrderStatusPickupPending:
		updates["pickup_started_at"] = now
	case constants.OrderStatusPickedUp:
		updates["picked_up_at"] = now
	case constants.OrderStatusInTransit:
		updates["delivery_started_at"] = now
	case constants.OrderStatusDelivered:
		updates["delivered_at"] = now
	case constants.OrderStatusCancelled:
		updates["cancelled_at"] = now
		updates["cancellation_reason"] = strings.TrimSpace(opts.Reason)
	case constants.OrderStatusFailed:
		updates["failed_at"] = now
		updates["cancellation_reason"] = strings.TrimSpace(opts.Reason)
	case constants.OrderStatusRefunded:
		updates["refunded_at"] = now
	}
	return updates, nil
}

func refundReason(event, reason string) string {
	reason = strings.TrimSpace(reason)
	if reason != "" {
		return reason
	}
	return "order " + event
}

func normalizePriority(priority string) string {
	switch strings.ToLower(strings.TrimSpace(priority)) {
	case constants.OrderPriorityLow:
		return constants.OrderPriorityLow
	case constants.OrderPriorityHigh:
		return constants.OrderPriorityHigh
	case constants.OrderPriorityUrgent:
		return constants.OrderPriorityUrgent
	default:
		return constants.OrderPriorityNormal
	}
}

func normalizeItemCategory(category string) string {
	switch value := strings.ToLower(strings.TrimSpace(category)); value {
	case constants.ItemCategoryFood, constants.ItemCategoryMedicine, constants.ItemCategoryDocuments,
		constants.ItemCategoryElectronics, constants.ItemCategoryClothing, constants.ItemCategoryFlowers,
		constants.ItemCategoryGroceries:
		return value
	default:
		return constants.ItemCategoryOther
	}
}

// generateOrderNo 订单号：ENT + yyyymmdd + 6 位随机数
func generateOrderNo(now time.Time) string {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return fmt.Sprintf("ENT%s%06d", now.Format("20060102"), now.UnixNano()%1000000)
	}
	return fmt.Sprintf("ENT%s%06d", now.Format("20060102"), n.Int64())
}
