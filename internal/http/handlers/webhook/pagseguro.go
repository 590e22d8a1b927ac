package webhook

import (
	"errors"
	"io"
	"net/http"

	"github.com/entrega-next/internal/constants"
	"github.com/entrega-next/internal/gateway/pagseguro"
	"github.com/entrega-next/internal/http/handlers/shared"
	"github.com/entrega-next/internal/service"

	"github.com/gin-gonic/gin"
)

const pagseguroSignatureHeader = "x-authenticity-token"

// ReceivePagSeguro 支付状态回调
func (h *Handler) ReceivePagSeguro(c *gin.Context) {
	log := shared.RequestLog(c)
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		log.Warnw("pagseguro_webhook_body_read_failed", "error", err)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	if h.pagseguro != nil && !h.pagseguro.VerifySignature(body, c.GetHeader(pagseguroSignatureHeader)) {
		log.Warnw("pagseguro_webhook_signature_invalid", "client_ip", c.ClientIP(), "body_size", len(body))
		c.JSON(http.StatusUnauthorized, gin.H{"status": "invalid_signature"})
		return
	}
	hook, err := pagseguro.ParseWebhook(body)
	if err != nil {
		log.Warnw("pagseguro_webhook_parse_failed", "error", err, "body_size", len(body))
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	log.Infow("pagseguro_webhook_received",
		"transaction_id", hook.TransactionID,
		"reference_id", hook.ReferenceID,
		"raw_status", hook.RawStatus,
	)
	if h.payments == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	if err := h.payments.HandleWebhook(c.Request.Context(), constants.InboundSourcePagSeguro, *hook); err != nil {
		if errors.Is(err, service.ErrOrphanWebhook) {
			c.JSON(http.StatusOK, gin.H{"status": "orphan"})
			return
		}
		log.Errorw("pagseguro_webhook_handle_failed", "transaction_id", hook.TransactionID, "error", err)
		c.JSON(http.StatusOK, gin.H{"status": "error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "processed"})
}
