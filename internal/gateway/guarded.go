package gateway

import (
	"context"
	"time"
)

// Policies 各外部调用点的策略
type Policies struct {
	Timeout       time.Duration
	AssistantTurn time.Duration
	MaxAttempts   int
}

type guardedAssistant struct {
	inner    Assistant
	policies Policies
}

// GuardAssistant 为对话助手加上超时与重试策略（新建线程可重试，对话轮次不可重试）
func GuardAssistant(inner Assistant, policies Policies) Assistant {
	return &guardedAssistant{inner: inner, policies: policies}
}

func (g *guardedAssistant) OpenThread(ctx context.Context) (string, error) {
	return Call(ctx, RetryIdempotent(g.policies.Timeout, g.policies.MaxAttempts), func(ctx context.Context) (string, error) {
		return g.inner.OpenThread(ctx)
	})
}

func (g *guardedAssistant) SendTurn(ctx context.Context, threadID, text string, turn TurnContext, tools ToolExecutor) (Reply, error) {
	return Call(ctx, SingleAttempt(g.policies.AssistantTurn), func(ctx context.Context) (Reply, error) {
		return g.inner.SendTurn(ctx, threadID, text, turn, tools)
	})
}

type guardedMessenger struct {
	inner    Messenger
	policies Policies
}

// GuardMessenger 为消息渠道加上超时策略；发送失败的重试由通知分发的持久化退避负责
func GuardMessenger(inner Messenger, policies Policies) Messenger {
	return &guardedMessenger{inner: inner, policies: policies}
}

func (g *guardedMessenger) SendText(ctx context.Context, to, body string) (string, error) {
	return Call(ctx, SingleAttempt(g.policies.Timeout), func(ctx context.Context) (string, error) {
		return g.inner.SendText(ctx, to, body)
	})
}

func (g *guardedMessenger) SendInteractive(ctx context.Context, to string, msg InteractiveMessage) (string, error) {
	return Call(ctx, SingleAttempt(g.policies.Timeout), func(ctx context.Context) (string, error) {
		return g.inner.SendInteractive(ctx, to, msg)
	})
}

func (g *guardedMessenger) SendLocation(ctx context.Context, to string, loc LocationMessage) (string, error) {
	return Call(ctx, SingleAttempt(g.policies.Timeout), func(ctx context.Context) (string, error) {
		return g.inner.SendLocation(ctx, to, loc)
	})
}

func (g *guardedMessenger) MarkRead(ctx context.Context, messageID string) error {
	_, err := Call(ctx, RetryIdempotent(g.policies.Timeout, g.policies.MaxAttempts), func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.inner.MarkRead(ctx, messageID)
	})
	return err
}

type guardedPayments struct {
	inner    Payments
	policies Policies
}

// GuardPayments 为支付网关加上超时与重试策略（仅查询可重试）
func GuardPayments(inner Payments, policies Policies) Payments {
	return &guardedPayments{inner: inner, policies: policies}
}

func (g *guardedPayments) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*PaymentCharge, error) {
	return Call(ctx, SingleAttempt(g.policies.Timeout), func(ctx context.Context) (*PaymentCharge, error) {
		return g.inner.CreatePayment(ctx, req)
	})
}

func (g *guardedPayments) QueryStatus(ctx context.Context, transactionID string) (*PaymentStatusResult, error) {
	return Call(ctx, RetryIdempotent(g.policies.Timeout, g.policies.MaxAttempts), func(ctx context.Context) (*PaymentStatusResult, error) {
		return g.inner.QueryStatus(ctx, transactionID)
	})
}

func (g *guardedPayments) Refund(ctx context.Context, transactionID string, amountCents int64) (*RefundResult, error) {
	return Call(ctx, SingleAttempt(g.policies.Timeout), func(ctx context.Context) (*RefundResult, error) {
		return g.inner.Refund(ctx, transactionID, amountCents)
	})
}
