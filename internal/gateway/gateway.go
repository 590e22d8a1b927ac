// Package gateway 定义核心依赖的外部服务接口（对话助手、消息渠道、支付网关），
// 以及统一的调用策略与错误归一化。
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"
)

var (
	// ErrProviderTimeout 外部调用超时（视为失败，不视为成功）
	ErrProviderTimeout = errors.New("provider timeout")
	// ErrProviderError 外部调用失败
	ErrProviderError = errors.New("provider error")
	// ErrProviderRejected 外部服务拒绝请求（4xx），重试无意义
	ErrProviderRejected = errors.New("provider rejected request")
)

// Normalize 将任意错误归一为 ErrProviderTimeout 或 ErrProviderError
func Normalize(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrProviderTimeout) || errors.Is(err, ErrProviderError) {
		return err
	}
	if errors.Is(err, ErrProviderRejected) {
		return fmt.Errorf("%w: %w", ErrProviderError, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrProviderTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrProviderTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrProviderError, err)
}

// TurnContext 随对话轮次附带的订单上下文
type TurnContext struct {
	Identity    string
	Name        string
	OpenOrderNo string
	OrderStatus string
	FinalPrice  string
}

// ToolExecutor 对话助手可调用的工具函数
type ToolExecutor interface {
	ExecuteTool(ctx context.Context, name string, arguments json.RawMessage) (interface{}, error)
}

// Assistant 对话助手网关
type Assistant interface {
	OpenThread(ctx context.Context) (string, error)
	SendTurn(ctx context.Context, threadID, text string, turn TurnContext, tools ToolExecutor) (Reply, error)
}

// InteractiveMessage 交互按钮消息
type InteractiveMessage struct {
	Body    string
	Header  string
	Footer  string
	Buttons []Button
}

// Button 回复按钮
type Button struct {
	ID    string
	Title string
}

// LocationMessage 位置消息
type LocationMessage struct {
	Latitude  float64
	Longitude float64
	Name      string
	Address   string
}

// Messenger 消息渠道网关，发送成功返回渠道消息 ID
type Messenger interface {
	SendText(ctx context.Context, to, body string) (string, error)
	SendInteractive(ctx context.Context, to string, msg InteractiveMessage) (string, error)
	SendLocation(ctx context.Context, to string, loc LocationMessage) (string, error)
	MarkRead(ctx context.Context, messageID string) error
}

// Customer 付款人信息
type Customer struct {
	Name  string
	Phone string
	Email string
	TaxID string
}

// CreatePaymentRequest 创建支付请求
type CreatePaymentRequest struct {
	IdempotencyKey string
	ReferenceID    string
	AmountCents    int64
	Method         string
	Description    string
	Customer       Customer
	ExpiresAt      time.Time
}

// PaymentCharge 创建支付结果
type PaymentCharge struct {
	TransactionID string
	PixCode       string
	QRCode        string
	ExpiresAt     *time.Time
}

// 网关侧支付状态（已归一）
const (
	PaymentStatusProcessing = "processing"
	PaymentStatusCompleted  = "completed"
	PaymentStatusFailed     = "failed"
	PaymentStatusCancelled  = "cancelled"
	PaymentStatusRefunded   = "refunded"
)

// PaymentStatusResult 查询支付状态结果
type PaymentStatusResult struct {
	TransactionID string
	ChargeID      string
	Status        string
	RawStatus     string
}

// RefundResult 退款结果
type RefundResult struct {
	RefundID    string
	AmountCents int64
	Status      string
}

// Payments 支付网关
type Payments interface {
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (*PaymentCharge, error)
	QueryStatus(ctx context.Context, transactionID string) (*PaymentStatusResult, error)
	Refund(ctx context.Context, transactionID string, amountCents int64) (*RefundResult, error)
}

// InboundMessage 渠道入站消息（已解析）
type InboundMessage struct {
	ID          string
	From        string
	Name        string
	Type        string // text / button / location / image / unsupported
	Text        string
	ButtonID    string
	ButtonTitle string
	Latitude    float64
	Longitude   float64
	Timestamp   time.Time
}

// MessageStatus 渠道消息状态回执
type MessageStatus struct {
	MessageID   string
	RecipientID string
	Status      string // sent / delivered / read / failed
	ErrorText   string
	Timestamp   time.Time
}

// PaymentWebhook 支付网关回调（已解析）
type PaymentWebhook struct {
	TransactionID string
	ReferenceID   string
	ChargeID      string
	Status        string
	RawStatus     string
}

// DedupKey 支付回调去重键（同一交易的不同状态视为不同事件）
func (w PaymentWebhook) DedupKey() string {
	return w.TransactionID + ":" + w.RawStatus
}
