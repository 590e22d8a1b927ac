// Package ops 司机与运营侧接口（指派、配送事件、位置、评分、取消、退款）
package ops

import (
	"context"
	"time"

	"github.com/entrega-next/internal/gateway"
	"github.com/entrega-next/internal/http/handlers/shared"
	"github.com/entrega-next/internal/http/response"
	"github.com/entrega-next/internal/models"
	"github.com/entrega-next/internal/provider"
	"github.com/entrega-next/internal/service"

	"github.com/gin-gonic/gin"
)

// Orders 订单操作
type Orders interface {
	Get(ctx context.Context, orderID uint) (*models.Order, error)
	AssignDriver(ctx context.Context, orderID, driverID uint) (*service.TransitionResult, error)
	Cancel(ctx context.Context, orderID uint, reason string) (*service.TransitionResult, error)
}

// Deliveries 配送操作
type Deliveries interface {
	ApplyEvent(ctx context.Context, deliveryID uint, event string, input service.DeliveryEventInput) (*service.DeliveryEventResult, error)
	RecordPosition(ctx context.Context, deliveryID uint, lat, lng float64, at time.Time) (*models.Delivery, error)
	Rate(ctx context.Context, deliveryID uint, driverRating, customerRating *int) (*models.Delivery, error)
	ActiveDeliveryFor(ctx context.Context, orderID uint) (*models.Delivery, error)
}

// Payments 支付操作
type Payments interface {
	GetByOrder(ctx context.Context, orderID uint) (*models.Payment, error)
	Refund(ctx context.Context, paymentID uint, amountCents int64, reason string) (*models.Payment, error)
}

// Handler 运营接口处理器
type Handler struct {
	orders     Orders
	deliveries Deliveries
	payments   Payments
}

// New 从容器创建处理器
func New(c *provider.Container) *Handler {
	return NewHandler(c.OrderService, c.DeliveryService, c.PaymentService)
}

// NewHandler 创建处理器
func NewHandler(orders Orders, deliveries Deliveries, payments Payments) *Handler {
	return &Handler{orders: orders, deliveries: deliveries, payments: payments}
}

var opsErrorRules = []shared.MappedError{
	{Target: service.ErrOrderNotFound, Code: response.CodeNotFound, Msg: "order not found"},
	{Target: service.ErrDeliveryNotFound, Code: response.CodeNotFound, Msg: "delivery not found"},
	{Target: service.ErrPaymentNotFound, Code: response.CodeNotFound, Msg: "payment not found"},
	{Target: service.ErrInvalidTransition, Code: response.CodeConflict, Msg: "invalid transition"},
	{Target: service.ErrAlreadyAssigned, Code: response.CodeConflict, Msg: "order already assigned"},
	{Target: service.ErrTransitionConflict, Code: response.CodeConflict, Msg: "concurrent update, retry"},
	{Target: service.ErrRatingNotAllowed, Code: response.CodeConflict, Msg: "rating only after delivery"},
	{Target: service.ErrPaymentNotAllowed, Code: response.CodeConflict, Msg: "payment does not allow refund"},
	{Target: service.ErrDriverRequired, Code: response.CodeBadRequest, Msg: "driver_id is required"},
	{Target: service.ErrProofRequired, Code: response.CodeBadRequest, Msg: "proof of delivery is required"},
	{Target: service.ErrInvalidPosition, Code: response.CodeBadRequest, Msg: "invalid position"},
	{Target: service.ErrRatingInvalid, Code: response.CodeBadRequest, Msg: "rating must be between 1 and 5"},
	{Target: service.ErrRefundAmountInvalid, Code: response.CodeBadRequest, Msg: "refund amount invalid"},
	// 4xx 同时包装 ErrProviderError，需先于其匹配
	{Target: gateway.ErrProviderRejected, Code: response.CodeBadRequest, Msg: "payment provider rejected request"},
	{Target: gateway.ErrProviderTimeout, Code: response.CodeUnavailable, Msg: "payment provider timeout"},
	{Target: gateway.ErrProviderError, Code: response.CodeUnavailable, Msg: "payment provider error"},
}

func respondServiceError(c *gin.Context, err error) {
	shared.RespondMappedError(c, err, opsErrorRules, response.CodeInternal, "internal error")
}
