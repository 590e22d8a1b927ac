package ops

import (
	"strings"
	"time"

	"github.com/entrega-next/internal/http/handlers/shared"
	"github.com/entrega-next/internal/http/response"
	"github.com/entrega-next/internal/service"

	"github.com/gin-gonic/gin"
)

// DeliveryProofRequest 签收凭证
type DeliveryProofRequest struct {
	PhotoURL      string `json:"photo_url"`
	SignatureURL  string `json:"signature_url"`
	RecipientName string `json:"recipient_name"`
	Notes         string `json:"notes"`
}

// DeliveryEventRequest 配送事件请求
type DeliveryEventRequest struct {
	Event     string                `json:"event" binding:"required"`
	Reason    string                `json:"reason"`
	Proof     *DeliveryProofRequest `json:"proof"`
	Latitude  *float64              `json:"lat"`
	Longitude *float64              `json:"lng"`
}

// PositionRequest 位置上报请求
type PositionRequest struct {
	Latitude  *float64   `json:"lat" binding:"required"`
	Longitude *float64   `json:"lng" binding:"required"`
	At        *time.Time `json:"at"`
}

// RatingRequest 评分请求
type RatingRequest struct {
	DriverRating   *int `json:"driver_rating"`
	CustomerRating *int `json:"customer_rating"`
}

// ApplyDeliveryEvent 推进配送状态，联动订单状态
func (h *Handler) ApplyDeliveryEvent(c *gin.Context) {
	deliveryID, ok := shared.ParseIDParam(c, "id")
	if !ok {
		return
	}
	var req DeliveryEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		shared.RespondError(c, response.CodeBadRequest, "invalid request body", nil)
		return
	}
	input := service.DeliveryEventInput{
		Reason:    strings.TrimSpace(req.Reason),
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
	}
	if req.Proof != nil {
		input.Proof = &service.DeliveryProof{
			PhotoURL:      strings.TrimSpace(req.Proof.PhotoURL),
			SignatureURL:  strings.TrimSpace(req.Proof.SignatureURL),
			RecipientName: strings.TrimSpace(req.Proof.RecipientName),
			Notes:         strings.TrimSpace(req.Proof.Notes),
		}
	}
	event := strings.ToLower(strings.TrimSpace(req.Event))
	result, err := h.deliveries.ApplyEvent(c.Request.Context(), deliveryID, event, input)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	data := gin.H{"delivery": result.Delivery}
	if result.OrderResult != nil {
		data["order"] = result.OrderResult.Order
	}
	response.Success(c, data)
}

// RecordPosition 上报司机位置
func (h *Handler) RecordPosition(c *gin.Context) {
	deliveryID, ok := shared.ParseIDParam(c, "id")
	if !ok {
		return
	}
	var req PositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		shared.RespondError(c, response.CodeBadRequest, "invalid request body", nil)
		return
	}
	var at time.Time
	if req.At != nil {
		at = *req.At
	}
	delivery, err := h.deliveries.RecordPosition(c.Request.Context(), deliveryID, *req.Latitude, *req.Longitude, at)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, delivery)
}

// RateDelivery 送达后评分
func (h *Handler) RateDelivery(c *gin.Context) {
	deliveryID, ok := shared.ParseIDParam(c, "id")
	if !ok {
		return
	}
	var req RatingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		shared.RespondError(c, response.CodeBadRequest, "invalid request body", nil)
		return
	}
	delivery, err := h.deliveries.Rate(c.Request.Context(), deliveryID, req.DriverRating, req.CustomerRating)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, delivery)
}
