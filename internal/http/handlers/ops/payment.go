package ops

import (
	"strings"

	"github.com/entrega-next/internal/http/handlers/shared"
	"github.com/entrega-next/internal/http/response"

	"github.com/gin-gonic/gin"
)

// RefundRequest 退款请求；amount_cents 为 0 时全额退款
type RefundRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Reason      string `json:"reason"`
}

// RefundPayment 对订单的已完成支付发起退款
func (h *Handler) RefundPayment(c *gin.Context) {
	orderID, ok := shared.ParseIDParam(c, "id")
	if !ok {
		return
	}
	var req RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		shared.RespondError(c, response.CodeBadRequest, "invalid request body", nil)
		return
	}
	ctx := c.Request.Context()
	payment, err := h.payments.GetByOrder(ctx, orderID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	amount := req.AmountCents
	if amount == 0 {
		amount = payment.AmountCents - payment.RefundAmountCents
	}
	refunded, err := h.payments.Refund(ctx, payment.ID, amount, strings.TrimSpace(req.Reason))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	shared.RequestLog(c).Infow("ops_payment_refunded", "order_id", orderID, "payment_id", payment.ID, "amount_cents", amount)
	response.Success(c, refunded)
}
