package ops

import (
	"errors"
	"strings"

	"github.com/entrega-next/internal/http/handlers/shared"
	"github.com/entrega-next/internal/http/response"
	"github.com/entrega-next/internal/models"
	"github.com/entrega-next/internal/service"

	"github.com/gin-gonic/gin"
)

// AssignDriverRequest 指派司机请求
type AssignDriverRequest struct {
	DriverID uint `json:"driver_id"`
}

// CancelOrderRequest 取消订单请求
type CancelOrderRequest struct {
	Reason string `json:"reason"`
}

// OrderDetail 订单详情
type OrderDetail struct {
	Order    *models.Order    `json:"order"`
	Delivery *models.Delivery `json:"delivery,omitempty"`
	Payment  *models.Payment  `json:"payment,omitempty"`
}

// GetOrder 订单详情（含进行中的配送与支付）
func (h *Handler) GetOrder(c *gin.Context) {
	orderID, ok := shared.ParseIDParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	order, err := h.orders.Get(ctx, orderID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	detail := OrderDetail{Order: order}
	if delivery, err := h.deliveries.ActiveDeliveryFor(ctx, orderID); err != nil {
		shared.RequestLog(c).Warnw("ops_order_delivery_fetch_failed", "order_id", orderID, "error", err)
	} else {
		detail.Delivery = delivery
	}
	payment, err := h.payments.GetByOrder(ctx, orderID)
	switch {
	case err == nil:
		detail.Payment = payment
	case !errors.Is(err, service.ErrPaymentNotFound):
		shared.RequestLog(c).Warnw("ops_order_payment_fetch_failed", "order_id", orderID, "error", err)
	}
	response.Success(c, detail)
}

// AssignDriver 指派司机
func (h *Handler) AssignDriver(c *gin.Context) {
	orderID, ok := shared.ParseIDParam(c, "id")
	if !ok {
		return
	}
	var req AssignDriverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		shared.RespondError(c, response.CodeBadRequest, "invalid request body", nil)
		return
	}
	result, err := h.orders.AssignDriver(c.Request.Context(), orderID, req.DriverID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	shared.RequestLog(c).Infow("ops_driver_assigned", "order_id", orderID, "driver_id", req.DriverID)
	response.Success(c, gin.H{
		"order":    result.Order,
		"delivery": result.Delivery,
	})
}

// CancelOrder 取消订单；已支付的订单会登记退款意图
func (h *Handler) CancelOrder(c *gin.Context) {
	orderID, ok := shared.ParseIDParam(c, "id")
	if !ok {
		return
	}
	var req CancelOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		shared.RespondError(c, response.CodeBadRequest, "invalid request body", nil)
		return
	}
	result, err := h.orders.Cancel(c.Request.Context(), orderID, strings.TrimSpace(req.Reason))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, gin.H{
		"order":         result.Order,
		"refund_intent": result.RefundIntent != nil,
	})
}
