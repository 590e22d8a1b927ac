package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/entrega-next/internal/config"
	"github.com/entrega-next/internal/constants"
	"github.com/entrega-next/internal/gateway"
	"github.com/entrega-next/internal/logger"
	"github.com/entrega-next/internal/models"
	"github.com/entrega-next/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const paymentExpirySource = "payment_expiry"

// PaymentService 支付服务（PIX 收款、回调、过期、退款意图）
type PaymentService struct {
	db          *gorm.DB
	paymentRepo repository.PaymentRepository
	orderRepo   repository.OrderRepository
	userRepo    repository.UserRepository
	refundRepo  repository.RefundIntentRepository
	inboundRepo repository.InboundEventRepository
	orders      *OrderService
	gateway     gateway.Payments
	queue       TaskEnqueuer
	locks       *KeyedLock
	method      string
	expireAfter time.Duration
	now         func() time.Time
}

// PaymentServiceDeps 支付服务依赖
type PaymentServiceDeps struct {
	DB          *gorm.DB
	PaymentRepo repository.PaymentRepository
	OrderRepo   repository.OrderRepository
	UserRepo    repository.UserRepository
	RefundRepo  repository.RefundIntentRepository
	InboundRepo repository.InboundEventRepository
	Orders      *OrderService
	Gateway     gateway.Payments
	Queue       TaskEnqueuer
	Locks       *KeyedLock
}

// NewPaymentService 创建支付服务
func NewPaymentService(deps PaymentServiceDeps, cfg config.PaymentConfig) *PaymentService {
	locks := deps.Locks
	if locks == nil {
		locks = NewKeyedLock()
	}
	method := strings.ToLower(strings.TrimSpace(cfg.Method))
	if method == "" {
		method = constants.PaymentMethodPix
	}
	return &PaymentService{
		db:          deps.DB,
		paymentRepo: deps.PaymentRepo,
		orderRepo:   deps.OrderRepo,
		userRepo:    deps.UserRepo,
		refundRepo:  deps.RefundRepo,
		inboundRepo: deps.InboundRepo,
		orders:      deps.Orders,
		gateway:     deps.Gateway,
		queue:       deps.Queue,
		locks:       locks,
		method:      method,
		expireAfter: cfg.ExpireAfter(),
		now:         time.Now,
	}
}

func paymentLogger(kv ...interface{}) *zap.SugaredLogger {
	return logger.Component("payment", kv...)
}

// GetByOrder 获取订单的支付记录
func (s *PaymentService) GetByOrder(ctx context.Context, orderID uint) (*models.Payment, error) {
	payment, err := s.paymentRepo.WithTx(s.db.WithContext(ctx)).GetByOrderID(orderID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ErrPaymentNotFound
	}
	return payment, nil
}

// EnsurePayment 确认报价并取得订单的支付记录。
// QUOTED 订单在同一事务内转入 PENDING_PAYMENT 并创建 PENDING 支付；PENDING_PAYMENT 订单复用已有支付。
// 只有尚未拿到网关交易号的支付才会调用网关，且始终使用同一个幂等键。
func (s *PaymentService) EnsurePayment(ctx context.Context, orderID uint) (*models.Payment, error) {
	log := paymentLogger("order_id", orderID)
	unlock := s.locks.Lock(orderLockKey(orderID))
	defer unlock()

	var (
		order      *models.Order
		payment    *models.Payment
		transition *TransitionResult
		created    bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.orderRepo.WithTx(tx).GetByID(orderID)
		if err != nil {
			return err
		}
		if current == nil {
			return ErrOrderNotFound
		}
		paymentRepo := s.paymentRepo.WithTx(tx)
		existing, err := paymentRepo.GetByOrderID(current.ID)
		if err != nil {
			return err
		}
		switch current.Status {
		case constants.OrderStatusQuoted:
			if existing != nil {
				return ErrPaymentNotAllowed
			}
			result, err := s.orders.ApplyInTx(tx, current.ID, constants.OrderEventConfirm, TransitionOptions{})
			if err != nil {
				return err
			}
			transition = result
			current = result.Order
		case constants.OrderStatusPendingPayment:
			if existing != nil {
				order = current
				payment = existing
				return nil
			}
		default:
			return ErrPaymentNotAllowed
		}

		amount := current.FinalPrice.Cents()
		if amount <= 0 {
			return ErrInvalidPrice
		}
		expiresAt := s.now().Add(s.expireAfter)
		payment = &models.Payment{
			OrderID:        current.ID,
			Method:         s.method,
			Gateway:        constants.PaymentGatewayPagSeguro,
			Status:         constants.PaymentStatusPending,
			AmountCents:    amount,
			Currency:       current.Currency,
			IdempotencyKey: uuid.NewString(),
			ExpiresAt:      &expiresAt,
		}
		if err := paymentRepo.Create(payment); err != nil {
			return err
		}
		order = current
		created = true
		return nil
	})
	if err != nil {
		log.Warnw("payment_ensure_rejected", "error", err)
		return nil, err
	}
	s.orders.AfterCommit(transition)
	if created {
		log.Infow("payment_created", "payment_id", payment.ID, "amount_cents", payment.AmountCents)
		if s.queue != nil {
			if err := s.queue.EnqueuePaymentExpire(payment.ID, s.expireAfter); err != nil {
				log.Warnw("payment_expire_enqueue_failed", "payment_id", payment.ID, "error", err)
			}
		}
	}

	switch payment.Status {
	case constants.PaymentStatusFailed, constants.PaymentStatusCancelled:
		return nil, ErrPaymentNotAllowed
	}
	if payment.Status != constants.PaymentStatusPending || payment.GatewayTransactionID != "" {
		return payment, nil
	}
	return s.createCharge(ctx, order, payment)
}

func (s *PaymentService) createCharge(ctx context.Context, order *models.Order, payment *models.Payment) (*models.Payment, error) {
	log := paymentLogger("order_id", order.ID, "payment_id", payment.ID)
	req := gateway.CreatePaymentRequest{
		IdempotencyKey: payment.IdempotencyKey,
		ReferenceID:    order.OrderNo,
		AmountCents:    payment.AmountCents,
		Method:         payment.Method,
		Description:    fmt.Sprintf("Entrega %s", order.OrderNo),
	}
	if payment.ExpiresAt != nil {
		req.ExpiresAt = *payment.ExpiresAt
	}
	if consumer, err := s.userRepo.WithTx(s.db.WithContext(ctx)).GetByID(order.ConsumerID); err == nil && consumer != nil {
		req.Customer = gateway.Customer{Name: consumer.Name, Phone: consumer.Phone}
	}
	charge, err := s.gateway.CreatePayment(ctx, req)
	if err != nil {
		log.Warnw("payment_gateway_create_failed", "error", err)
		return nil, err
	}

	updates := map[string]interface{}{
		"gateway_transaction_id": charge.TransactionID,
		"pix_code":               charge.PixCode,
		"qr_code":                charge.QRCode,
		"processing_at":          s.now(),
	}
	if charge.ExpiresAt != nil {
		updates["expires_at"] = *charge.ExpiresAt
	}
	repo := s.paymentRepo.WithTx(s.db.WithContext(ctx))
	ok, err := repo.TransitionStatus(payment.ID, constants.PaymentStatusPending, constants.PaymentStatusProcessing, updates)
	if err != nil {
		return nil, err
	}
	if !ok {
		// 回调先于创建结果到达时状态已前移，只补录网关数据
		delete(updates, "processing_at")
		if err := repo.UpdateFields(payment.ID, updates); err != nil {
			return nil, err
		}
	}
	log.Infow("payment_charge_created", "transaction_id", charge.TransactionID)
	return repo.GetByID(payment.ID)
}

// HandleWebhook 处理支付网关回调。无法匹配的回调登记为孤立事件并返回 ErrOrphanWebhook。
func (s *PaymentService) HandleWebhook(ctx context.Context, source string, hook gateway.PaymentWebhook) error {
	log := paymentLogger("source", source, "transaction_id", hook.TransactionID, "status", hook.RawStatus)
	if strings.TrimSpace(hook.TransactionID) == "" && strings.TrimSpace(hook.ReferenceID) == "" {
		log.Warnw("payment_webhook_invalid")
		return nil
	}
	payment, err := s.lookupPayment(ctx, hook)
	if err != nil {
		return err
	}
	if payment == nil {
		inbound := s.inboundRepo.WithTx(s.db.WithContext(ctx))
		first, err := inbound.Record(source, hook.DedupKey())
		if err != nil {
			return err
		}
		if first {
			if err := inbound.MarkOrphan(source, hook.DedupKey()); err != nil {
				return err
			}
		}
		log.Warnw("payment_webhook_orphan", "reference_id", hook.ReferenceID)
		return ErrOrphanWebhook
	}
	return s.applyGatewayStatus(ctx, payment.ID, source, hook.DedupKey(), gateway.PaymentStatusResult{
		TransactionID: hook.TransactionID,
		ChargeID:      hook.ChargeID,
		Status:        hook.Status,
		RawStatus:     hook.RawStatus,
	})
}

func (s *PaymentService) lookupPayment(ctx context.Context, hook gateway.PaymentWebhook) (*models.Payment, error) {
	db := s.db.WithContext(ctx)
	if txID := strings.TrimSpace(hook.TransactionID); txID != "" {
		payment, err := s.paymentRepo.WithTx(db).GetByGatewayTransactionID(txID)
		if err != nil || payment != nil {
			return payment, err
		}
	}
	ref := strings.TrimSpace(hook.ReferenceID)
	if ref == "" {
		return nil, nil
	}
	order, err := s.orderRepo.WithTx(db).GetByOrderNo(ref)
	if err != nil || order == nil {
		return nil, err
	}
	return s.paymentRepo.WithTx(db).GetByOrderID(order.ID)
}

// applyGatewayStatus 在订单锁与单一事务内：登记去重键、推进支付状态、同步订单
func (s *PaymentService) applyGatewayStatus(ctx context.Context, paymentID uint, source, dedupKey string, status gateway.PaymentStatusResult) error {
	log := paymentLogger("payment_id", paymentID, "source", source, "status", status.Status)
	payment, err := s.paymentRepo.WithTx(s.db.WithContext(ctx)).GetByID(paymentID)
	if err != nil {
		return err
	}
	if payment == nil {
		return ErrPaymentNotFound
	}
	unlock := s.locks.Lock(orderLockKey(payment.OrderID))
	defer unlock()

	var (
		transition *TransitionResult
		intent     *models.RefundIntent
		duplicate  bool
		applied    string
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		paymentRepo := s.paymentRepo.WithTx(tx)
		if dedupKey != "" {
			first, err := s.inboundRepo.WithTx(tx).Record(source, dedupKey)
			if err != nil {
				return err
			}
			if !first {
				duplicate = true
				return nil
			}
			if err := paymentRepo.IncrementWebhookAttempts(paymentID); err != nil {
				return err
			}
		}
		current, err := paymentRepo.GetByID(paymentID)
		if err != nil {
			return err
		}
		target := paymentTargetStatus(status.Status)
		if target == "" || !CanTransitionPayment(current.Status, target) {
			if target == constants.PaymentStatusCompleted && IsTerminalPaymentStatus(current.Status) {
				log.Errorw("payment_completed_after_close", "current_status", current.Status, "order_id", current.OrderID)
			}
			return nil
		}
		order, err := s.orderRepo.WithTx(tx).GetByID(current.OrderID)
		if err != nil {
			return err
		}
		if order == nil {
			return ErrOrderNotFound
		}

		now := s.now()
		updates := map[string]interface{}{}
		if field := paymentStatusTimestamp(target); field != "" {
			updates[field] = now
		}
		if status.TransactionID != "" && current.GatewayTransactionID == "" {
			updates["gateway_transaction_id"] = status.TransactionID
		}
		if status.ChargeID != "" {
			updates["gateway_charge_id"] = status.ChargeID
		}
		switch target {
		case constants.PaymentStatusCompleted:
			platformFee := order.FinalPrice.Cents() - order.BasePrice.Cents()
			if platformFee < 0 {
				platformFee = 0
			}
			updates["platform_fee_cents"] = platformFee
			updates["net_amount_cents"] = current.AmountCents - current.GatewayFeeCents
		case constants.PaymentStatusFailed, constants.PaymentStatusCancelled:
			updates["failure_reason"] = status.RawStatus
		case constants.PaymentStatusRefunded:
			if current.RefundAmountCents == 0 {
				updates["refund_amount_cents"] = current.AmountCents
			}
		}
		ok, err := paymentRepo.TransitionStatus(current.ID, current.Status, target, updates)
		if err != nil {
			return err
		}
		if !ok {
			return ErrTransitionConflict
		}
		applied = target

		switch target {
		case constants.PaymentStatusCompleted:
			switch order.Status {
			case constants.OrderStatusPendingPayment:
				transition, err = s.orders.ApplyInTx(tx, order.ID, constants.OrderEventPaymentConfirmed, TransitionOptions{})
				return err
			case constants.OrderStatusCancelled, constants.OrderStatusFailed:
				intent, err = s.refundRepo.WithTx(tx).CreateOnce(&models.RefundIntent{
					OrderID: order.ID,
					Reason:  "payment completed after order " + order.Status,
					Status:  constants.RefundIntentStatusPending,
				})
				return err
			}
		case constants.PaymentStatusFailed:
			if order.Status == constants.OrderStatusPendingPayment {
				transition, err = s.orders.ApplyInTx(tx, order.ID, constants.OrderEventPaymentFailed, TransitionOptions{Reason: "payment failed"})
				return err
			}
		case constants.PaymentStatusCancelled:
			if order.Status == constants.OrderStatusPendingPayment {
				transition, err = s.orders.ApplyInTx(tx, order.ID, constants.OrderEventExpire, TransitionOptions{Reason: "payment expired"})
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Warnw("payment_status_apply_failed", "error", err)
		return err
	}
	if duplicate {
		log.Debugw("payment_webhook_duplicate", "dedup_key", dedupKey)
		return nil
	}
	if applied != "" {
		log.Infow("payment_status_applied", "to", applied)
	}
	s.orders.AfterCommit(transition)
	if intent != nil && intent.Status == constants.RefundIntentStatusPending && s.queue != nil {
		if err := s.queue.EnqueueRefundIntent(intent.ID); err != nil {
			log.Warnw("refund_intent_enqueue_failed", "intent_id", intent.ID, "error", err)
		}
	}
	return nil
}

func paymentTargetStatus(status string) string {
	switch status {
	case gateway.PaymentStatusProcessing:
		return constants.PaymentStatusProcessing
	case gateway.PaymentStatusCompleted:
		return constants.PaymentStatusCompleted
	case gateway.PaymentStatusFailed:
		return constants.PaymentStatusFailed
	case gateway.PaymentStatusCancelled:
		return constants.PaymentStatusCancelled
	case gateway.PaymentStatusRefunded:
		return constants.PaymentStatusRefunded
	}
	return ""
}

// HandleExpiry 支付到期检查：先向网关复查，已付款则确认，否则取消支付并让订单过期
func (s *PaymentService) HandleExpiry(ctx context.Context, paymentID uint) error {
	payment, err := s.paymentRepo.WithTx(s.db.WithContext(ctx)).GetByID(paymentID)
	if err != nil {
		return err
	}
	if payment == nil {
		return ErrPaymentNotFound
	}
	if payment.Status != constants.PaymentStatusPending && payment.Status != constants.PaymentStatusProcessing {
		return nil
	}
	now := s.now()
	if payment.ExpiresAt != nil && now.Before(*payment.ExpiresAt) {
		if s.queue != nil {
			return s.queue.EnqueuePaymentExpire(payment.ID, payment.ExpiresAt.Sub(now))
		}
		return nil
	}
	if payment.GatewayTransactionID != "" {
		result, err := s.gateway.QueryStatus(ctx, payment.GatewayTransactionID)
		if err != nil {
			paymentLogger("payment_id", payment.ID).Warnw("payment_expiry_query_failed", "error", err)
			return err
		}
		switch result.Status {
		case gateway.PaymentStatusCompleted, gateway.PaymentStatusFailed, gateway.PaymentStatusCancelled:
			return s.applyGatewayStatus(ctx, payment.ID, paymentExpirySource, "", *result)
		}
	}
	return s.applyGatewayStatus(ctx, payment.ID, paymentExpirySource, "", gateway.PaymentStatusResult{
		TransactionID: payment.GatewayTransactionID,
		Status:        gateway.PaymentStatusCancelled,
		RawStatus:     "EXPIRED",
	})
}

// ExpireOverdue 扫描已过期的支付（任务丢失时兜底）
func (s *PaymentService) ExpireOverdue(ctx context.Context, limit int) (int, error) {
	payments, err := s.paymentRepo.WithTx(s.db.WithContext(ctx)).ListExpired(s.now(), limit)
	if err != nil {
		return 0, err
	}
	handled := 0
	for _, payment := range payments {
		if err := s.HandleExpiry(ctx, payment.ID); err != nil {
			paymentLogger("payment_id", payment.ID).Warnw("payment_expiry_rescan_failed", "error", err)
			continue
		}
		handled++
	}
	return handled, nil
}

// Refund 对已完成的支付发起退款；全额退款时订单（若仍在进行中）同时转入 REFUNDED
func (s *PaymentService) Refund(ctx context.Context, paymentID uint, amountCents int64, reason string) (*models.Payment, error) {
	payment, err := s.paymentRepo.WithTx(s.db.WithContext(ctx)).GetByID(paymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ErrPaymentNotFound
	}
	log := paymentLogger("payment_id", payment.ID, "order_id", payment.OrderID, "amount_cents", amountCents)
	unlock := s.locks.Lock(orderLockKey(payment.OrderID))
	defer unlock()

	payment, err = s.paymentRepo.WithTx(s.db.WithContext(ctx)).GetByID(paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != constants.PaymentStatusCompleted {
		return nil, ErrPaymentNotAllowed
	}
	if amountCents <= 0 || amountCents > payment.AmountCents {
		return nil, ErrRefundAmountInvalid
	}
	result, err := s.gateway.Refund(ctx, payment.GatewayTransactionID, amountCents)
	if err != nil {
		log.Warnw("payment_refund_gateway_failed", "error", err)
		return nil, err
	}

	target := constants.PaymentStatusPartiallyRefunded
	if amountCents == payment.AmountCents {
		target = constants.PaymentStatusRefunded
	}
	var transition *TransitionResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.paymentRepo.WithTx(tx).TransitionStatus(payment.ID, constants.PaymentStatusCompleted, target, map[string]interface{}{
			"refund_amount_cents":   amountCents,
			"refund_reason":         strings.TrimSpace(reason),
			"refund_transaction_id": result.RefundID,
			"refunded_at":           s.now(),
		})
		if err != nil {
			return err
		}
		if !ok {
			return ErrTransitionConflict
		}
		if target != constants.PaymentStatusRefunded {
			return nil
		}
		order, err := s.orderRepo.WithTx(tx).GetByID(payment.OrderID)
		if err != nil {
			return err
		}
		if order == nil || IsTerminalOrderStatus(order.Status) || !OrderStatusAtLeast(order.Status, constants.OrderStatusPaid) {
			return nil
		}
		transition, err = s.orders.ApplyInTx(tx, order.ID, constants.OrderEventRefund, TransitionOptions{Reason: reason})
		return err
	})
	if err != nil {
		log.Errorw("payment_refund_record_failed", "refund_id", result.RefundID, "error", err)
		return nil, err
	}
	s.orders.AfterCommit(transition)
	log.Infow("payment_refunded", "status", target, "refund_id", result.RefundID)
	return s.paymentRepo.WithTx(s.db.WithContext(ctx)).GetByID(payment.ID)
}

// ProcessRefundIntent 处理退款意图：已完成的支付退回剩余金额，处理中的支付留待下次扫描
func (s *PaymentService) ProcessRefundIntent(ctx context.Context, intentID uint) error {
	db := s.db.WithContext(ctx)
	refundRepo := s.refundRepo.WithTx(db)
	intent, err := refundRepo.GetByID(intentID)
	if err != nil {
		return err
	}
	if intent == nil || intent.Status != constants.RefundIntentStatusPending {
		return nil
	}
	log := paymentLogger("intent_id", intent.ID, "order_id", intent.OrderID)
	payment, err := s.paymentRepo.WithTx(db).GetByOrderID(intent.OrderID)
	if err != nil {
		return err
	}

	status := ""
	if payment != nil {
		status = payment.Status
	}
	switch status {
	case constants.PaymentStatusPending, constants.PaymentStatusProcessing:
		log.Debugw("refund_intent_waiting_payment", "payment_status", status)
		return refundRepo.RecordAttempt(intent.ID, "payment not settled")
	case constants.PaymentStatusRefunded, constants.PaymentStatusPartiallyRefunded:
		_, err := refundRepo.Finish(intent.ID, constants.RefundIntentStatusDone, map[string]interface{}{"processed_at": s.now()})
		return err
	case constants.PaymentStatusCompleted:
		remaining := payment.AmountCents - payment.RefundAmountCents
		if _, err := s.Refund(ctx, payment.ID, remaining, intent.Reason); err != nil {
			if recordErr := refundRepo.RecordAttempt(intent.ID, err.Error()); recordErr != nil {
				log.Warnw("refund_intent_record_failed", "error", recordErr)
			}
			if errors.Is(err, ErrPaymentNotAllowed) || errors.Is(err, ErrRefundAmountInvalid) {
				return nil
			}
			return err
		}
		if _, err := refundRepo.Finish(intent.ID, constants.RefundIntentStatusDone, map[string]interface{}{"processed_at": s.now()}); err != nil {
			return err
		}
		log.Infow("refund_intent_done", "payment_id", payment.ID, "amount_cents", remaining)
		return nil
	default:
		_, err := refundRepo.Finish(intent.ID, constants.RefundIntentStatusSkipped, map[string]interface{}{
			"processed_at": s.now(),
			"last_error":   "no captured payment",
		})
		if err == nil {
			log.Infow("refund_intent_skipped", "payment_status", status)
		}
		return err
	}
}

// RescanRefundIntents 处理遗留的待退款意图
func (s *PaymentService) RescanRefundIntents(ctx context.Context, limit int) (int, error) {
	intents, err := s.refundRepo.WithTx(s.db.WithContext(ctx)).ListPending(limit)
	if err != nil {
		return 0, err
	}
	processed := 0
	for _, intent := range intents {
		if err := s.ProcessRefundIntent(ctx, intent.ID); err != nil {
			paymentLogger("intent_id", intent.ID).Warnw("refund_intent_rescan_failed", "error", err)
			continue
		}
		processed++
	}
	return processed, nil
}
