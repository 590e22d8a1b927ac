package service

import (
	"context"
	"strings"
	"time"

	"github.com/entrega-next/internal/constants"
	"github.com/entrega-next/internal/logger"
	"github.com/entrega-next/internal/models"
	"github.com/entrega-next/internal/repository"

	"gorm.io/gorm"
)

// DeliveryService 配送执行服务
type DeliveryService struct {
	db               *gorm.DB
	deliveryRepo     repository.DeliveryRepository
	orders           *OrderService
	locks            *KeyedLock
	maxReassignments int
	now              func() time.Time
}

// NewDeliveryService 创建配送服务
func NewDeliveryService(db *gorm.DB, deliveryRepo repository.DeliveryRepository, orders *OrderService, locks *KeyedLock, maxReassignments int) *DeliveryService {
	if maxReassignments <= 0 {
		maxReassignments = 3
	}
	if locks == nil {
		locks = NewKeyedLock()
	}
	return &DeliveryService{
		db:               db,
		deliveryRepo:     deliveryRepo,
		orders:           orders,
		locks:            locks,
		maxReassignments: maxReassignments,
		now:              time.Now,
	}
}

// DeliveryProof 签收凭证
type DeliveryProof struct {
	PhotoURL      string
	SignatureURL  string
	RecipientName string
	Notes         string
}

func (p *DeliveryProof) empty() bool {
	return p == nil || (strings.TrimSpace(p.PhotoURL) == "" &&
		strings.TrimSpace(p.SignatureURL) == "" &&
		strings.TrimSpace(p.RecipientName) == "")
}

// DeliveryEventInput 配送事件参数
type DeliveryEventInput struct {
	Reason    string
	Proof     *DeliveryProof
	Latitude  *float64
	Longitude *float64
}

// DeliveryEventResult 配送事件结果
type DeliveryEventResult struct {
	Delivery    *models.Delivery
	OrderResult *TransitionResult
}

// Get 获取配送记录
func (s *DeliveryService) Get(ctx context.Context, deliveryID uint) (*models.Delivery, error) {
	delivery, err := s.deliveryRepo.WithTx(s.db.WithContext(ctx)).GetByID(deliveryID)
	if err != nil {
		return nil, err
	}
	if delivery == nil {
		return nil, ErrDeliveryNotFound
	}
	return delivery, nil
}

// ApplyEvent 推进配送状态，并在同一事务内推进联动的订单状态
func (s *DeliveryService) ApplyEvent(ctx context.Context, deliveryID uint, event string, input DeliveryEventInput) (*DeliveryEventResult, error) {
	event = strings.ToLower(strings.TrimSpace(event))
	current, err := s.Get(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(orderLockKey(current.OrderID))
	defer unlock()

	var result DeliveryEventResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.deliveryRepo.WithTx(tx)
		delivery, err := repo.GetByID(deliveryID)
		if err != nil {
			return err
		}
		if delivery == nil {
			return ErrDeliveryNotFound
		}
		to, err := ResolveDeliveryTransition(delivery.Status, event)
		if err != nil {
			return err
		}
		now := s.now()
		updates := map[string]interface{}{deliveryTimestampFields[to]: now}
		if input.Latitude != nil && input.Longitude != nil {
			if !validCoordinate(*input.Latitude, *input.Longitude) {
				return ErrInvalidPosition
			}
			updates["current_lat"] = *input.Latitude
			updates["current_lng"] = *input.Longitude
			updates["position_at"] = now
		}

		orderEvent := deliveryOrderEvents[event]
		reason := strings.TrimSpace(input.Reason)
		switch event {
		case constants.DeliveryEventDeliver:
			if input.Proof.empty() {
				return ErrProofRequired
			}
			updates["proof_photo_url"] = strings.TrimSpace(input.Proof.PhotoURL)
			updates["proof_signature_url"] = strings.TrimSpace(input.Proof.SignatureURL)
			updates["recipient_name"] = strings.TrimSpace(input.Proof.RecipientName)
			updates["delivery_notes"] = strings.TrimSpace(input.Proof.Notes)
		case constants.DeliveryEventFail:
			retryCount := delivery.RetryCount + 1
			updates["failure_reason"] = reason
			updates["retry_count"] = retryCount
			if retryCount < s.maxReassignments {
				orderEvent = constants.OrderEventReleaseDriver
			} else {
				orderEvent = constants.OrderEventFail
				if reason == "" {
					reason = "delivery failed"
				}
			}
		case constants.DeliveryEventCancel:
			updates["failure_reason"] = reason
			orderEvent = constants.OrderEventReleaseDriver
		}

		ok, err := repo.TransitionStatus(delivery.ID, delivery.Status, to, updates)
		if err != nil {
			return err
		}
		if !ok {
			return ErrTransitionConflict
		}
		if orderEvent != "" {
			orderResult, err := s.orders.ApplyInTx(tx, delivery.OrderID, orderEvent, TransitionOptions{Reason: reason})
			if err != nil {
				return err
			}
			result.OrderResult = orderResult
		}
		fresh, err := repo.GetByID(delivery.ID)
		if err != nil {
			return err
		}
		result.Delivery = fresh
		return nil
	})
	if err != nil {
		logger.Warnw("delivery_transition_rejected", "delivery_id", deliveryID, "event", event, "error", err)
		return nil, err
	}
	s.orders.AfterCommit(result.OrderResult)
	logger.Infow("delivery_transition_applied",
		"delivery_id", deliveryID,
		"order_id", result.Delivery.OrderID,
		"event", event,
		"status", result.Delivery.Status,
	)
	return &result, nil
}

// RecordPosition 上报司机位置；任何非终态都接受，不改变状态
func (s *DeliveryService) RecordPosition(ctx context.Context, deliveryID uint, lat, lng float64, at time.Time) (*models.Delivery, error) {
	if !validCoordinate(lat, lng) {
		return nil, ErrInvalidPosition
	}
	delivery, err := s.Get(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	if IsTerminalDeliveryStatus(delivery.Status) {
		return nil, ErrInvalidTransition
	}
	if at.IsZero() {
		at = s.now()
	}
	if err := s.deliveryRepo.WithTx(s.db.WithContext(ctx)).UpdateFields(delivery.ID, map[string]interface{}{
		"current_lat": lat,
		"current_lng": lng,
		"position_at": at,
	}); err != nil {
		return nil, err
	}
	return s.Get(ctx, deliveryID)
}

// Rate 送达后记录评分（1-5）
func (s *DeliveryService) Rate(ctx context.Context, deliveryID uint, driverRating, customerRating *int) (*models.Delivery, error) {
	if driverRating == nil && customerRating == nil {
		return nil, ErrRatingInvalid
	}
	updates := map[string]interface{}{}
	for column, rating := range map[string]*int{"driver_rating": driverRating, "customer_rating": customerRating} {
		if rating == nil {
			continue
		}
		if *rating < 1 || *rating > 5 {
			return nil, ErrRatingInvalid
		}
		updates[column] = *rating
	}
	delivery, err := s.Get(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	if delivery.Status != constants.DeliveryStatusDelivered {
		return nil, ErrRatingNotAllowed
	}
	if err := s.deliveryRepo.WithTx(s.db.WithContext(ctx)).UpdateFields(delivery.ID, updates); err != nil {
		return nil, err
	}
	return s.Get(ctx, deliveryID)
}

// ActiveDeliveryFor 获取订单当前进行中的配送
func (s *DeliveryService) ActiveDeliveryFor(ctx context.Context, orderID uint) (*models.Delivery, error) {
	return s.deliveryRepo.WithTx(s.db.WithContext(ctx)).GetActiveByOrder(orderID)
}

func validCoordinate(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}
