package webhook

import (
	"io"
	"net/http"
	"strings"

	"github.com/entrega-next/internal/gateway/whatsapp"
	"github.com/entrega-next/internal/http/handlers/shared"

	"github.com/gin-gonic/gin"
)

const whatsappSignatureHeader = "X-Hub-Signature-256"

// VerifyWhatsApp 订阅握手：hub.mode=subscribe 且 verify_token 匹配时原样返回 challenge
func (h *Handler) VerifyWhatsApp(c *gin.Context) {
	log := shared.RequestLog(c)
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")
	if h.whatsapp != nil {
		if echoed, ok := h.whatsapp.VerifyChallenge(mode, token, challenge); ok {
			log.Infow("whatsapp_webhook_verified")
			c.String(http.StatusOK, echoed)
			return
		}
	}
	log.Warnw("whatsapp_webhook_verify_failed", "mode", mode)
	c.String(http.StatusForbidden, "verification failed")
}

// ReceiveWhatsApp 接收消息与状态回执。
// 签名不通过时拒绝；其余情况一律 200，处理失败只记录日志，避免渠道重复推送。
func (h *Handler) ReceiveWhatsApp(c *gin.Context) {
	log := shared.RequestLog(c)
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		log.Warnw("whatsapp_webhook_body_read_failed", "error", err)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	if h.whatsapp != nil && !h.whatsapp.VerifySignature(body, c.GetHeader(whatsappSignatureHeader)) {
		log.Warnw("whatsapp_webhook_signature_invalid", "client_ip", c.ClientIP(), "body_size", len(body))
		c.JSON(http.StatusUnauthorized, gin.H{"status": "invalid_signature"})
		return
	}
	batch, err := whatsapp.ParseWebhook(body)
	if err != nil {
		log.Warnw("whatsapp_webhook_parse_failed", "error", err, "body_size", len(body))
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	if len(batch.Messages) == 0 && len(batch.Statuses) == 0 {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	ctx := c.Request.Context()
	failed := 0
	for _, status := range batch.Statuses {
		if h.conversation == nil {
			break
		}
		if err := h.conversation.HandleMessageStatus(ctx, status); err != nil {
			failed++
			log.Warnw("whatsapp_status_handle_failed", "message_id", status.MessageID, "status", status.Status, "error", err)
		}
	}
	limited := 0
	for _, msg := range batch.Messages {
		if !h.allowInbound(c, msg.From) {
			limited++
			continue
		}
		if h.conversation == nil {
			break
		}
		if err := h.conversation.HandleInbound(ctx, msg); err != nil {
			failed++
			log.Warnw("whatsapp_message_handle_failed", "message_id", msg.ID, "identity", msg.From, "error", err)
		}
	}
	log.Infow("whatsapp_webhook_processed",
		"messages", len(batch.Messages),
		"statuses", len(batch.Statuses),
		"rate_limited", limited,
		"failed", failed,
	)
	status := "processed"
	if failed > 0 {
		status = "error"
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

// allowInbound 按发送方号码限流；限流存储故障时放行
func (h *Handler) allowInbound(c *gin.Context, identity string) bool {
	identity = strings.TrimSpace(identity)
	if h.limiter == nil || identity == "" {
		return true
	}
	allowed, wait, err := h.limiter.Allow(c.Request.Context(), identity)
	if err != nil {
		shared.RequestLog(c).Warnw("whatsapp_rate_limit_unavailable", "identity", identity, "error", err)
		return true
	}
	if !allowed {
		shared.RequestLog(c).Warnw("whatsapp_inbound_rate_limited", "identity", identity, "retry_after", wait)
	}
	return allowed
}
