// Package webhook 外部渠道回调（WhatsApp、PagSeguro）
package webhook

import (
	"context"

	"github.com/entrega-next/internal/cache"
	"github.com/entrega-next/internal/gateway"
	"github.com/entrega-next/internal/provider"
)

// Conversation 入站消息与消息回执的处理方
type Conversation interface {
	HandleInbound(ctx context.Context, msg gateway.InboundMessage) error
	HandleMessageStatus(ctx context.Context, status gateway.MessageStatus) error
}

// PaymentWebhooks 支付回调的处理方
type PaymentWebhooks interface {
	HandleWebhook(ctx context.Context, source string, hook gateway.PaymentWebhook) error
}

// WhatsAppVerifier 订阅握手与签名校验
type WhatsAppVerifier interface {
	VerifyChallenge(mode, token, challenge string) (string, bool)
	VerifySignature(body []byte, header string) bool
}

// SignatureVerifier 回调签名校验
type SignatureVerifier interface {
	VerifySignature(body []byte, signature string) bool
}

// Deps 处理器依赖
type Deps struct {
	Conversation Conversation
	Payments     PaymentWebhooks
	WhatsApp     WhatsAppVerifier
	PagSeguro    SignatureVerifier
	Limiter      cache.RateLimiter
}

// Handler 渠道回调处理器
type Handler struct {
	conversation Conversation
	payments     PaymentWebhooks
	whatsapp     WhatsAppVerifier
	pagseguro    SignatureVerifier
	limiter      cache.RateLimiter
}

// New 从容器创建处理器
func New(c *provider.Container) *Handler {
	return NewHandler(Deps{
		Conversation: c.Orchestrator,
		Payments:     c.PaymentService,
		WhatsApp:     c.WhatsAppClient,
		PagSeguro:    c.PagSeguroClient,
		Limiter:      c.RateLimiter,
	})
}

// NewHandler 创建处理器
func NewHandler(deps Deps) *Handler {
	return &Handler{
		conversation: deps.Conversation,
		payments:     deps.Payments,
		whatsapp:     deps.WhatsApp,
		pagseguro:    deps.PagSeguro,
		limiter:      deps.Limiter,
	}
}
