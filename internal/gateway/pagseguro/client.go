// Package pagseguro PagBank（PagSeguro）订单 API 客户端，支持 PIX 收款、查询、退款与回调解析
package pagseguro

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/entrega-next/internal/gateway"
)

// ErrMethodUnsupported 网关不支持的支付方式
var ErrMethodUnsupported = errors.New("payment method unsupported")

// Config PagSeguro 配置
type Config struct {
	APIURL          string
	Token           string
	NotificationURL string
	WebhookToken    string
}

// Client PagSeguro 客户端
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient 创建客户端
func NewClient(cfg Config, httpClient *http.Client) *Client {
	cfg.APIURL = strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{cfg: cfg, http: httpClient}
}

type amount struct {
	Value    int64  `json:"value"`
	Currency string `json:"currency,omitempty"`
}

type link struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

type orderResponse struct {
	ID          string `json:"id"`
	ReferenceID string `json:"reference_id"`
	QRCodes     []struct {
		ID             string `json:"id"`
		Text           string `json:"text"`
		ExpirationDate string `json:"expiration_date"`
		Links          []link `json:"links"`
	} `json:"qr_codes"`
	Charges []chargeResponse `json:"charges"`
}

type chargeResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount struct {
		Value   int64 `json:"value"`
		Summary struct {
			Total    int64 `json:"total"`
			Paid     int64 `json:"paid"`
			Refunded int64 `json:"refunded"`
		} `json:"summary"`
	} `json:"amount"`
}

// CreatePayment 创建 PIX 订单，返回网关订单 ID 与二维码
func (c *Client) CreatePayment(ctx context.Context, req gateway.CreatePaymentRequest) (*gateway.PaymentCharge, error) {
	if method := strings.ToLower(strings.TrimSpace(req.Method)); method != "" && method != "pix" {
		return nil, fmt.Errorf("%w: %w: %w: %s", gateway.ErrProviderError, gateway.ErrProviderRejected, ErrMethodUnsupported, method)
	}
	customer := map[string]interface{}{"name": fallback(req.Customer.Name, "Cliente")}
	if req.Customer.Email != "" {
		customer["email"] = req.Customer.Email
	}
	if req.Customer.TaxID != "" {
		customer["tax_id"] = req.Customer.TaxID
	}
	if phone := splitPhone(req.Customer.Phone); phone != nil {
		customer["phones"] = []interface{}{phone}
	}
	qrCode := map[string]interface{}{"amount": amount{Value: req.AmountCents}}
	if !req.ExpiresAt.IsZero() {
		qrCode["expiration_date"] = req.ExpiresAt.Format(time.RFC3339)
	}
	body := map[string]interface{}{
		"reference_id": req.ReferenceID,
		"customer":     customer,
		"items": []map[string]interface{}{{
			"reference_id": req.ReferenceID,
			"name":         fallback(req.Description, "Entrega "+req.ReferenceID),
			"quantity":     1,
			"unit_amount":  req.AmountCents,
		}},
		"qr_codes": []interface{}{qrCode},
	}
	if c.cfg.NotificationURL != "" {
		body["notification_urls"] = []string{c.cfg.NotificationURL}
	}

	var resp orderResponse
	if err := gateway.DoJSON(ctx, c.http, http.MethodPost, c.cfg.APIURL+"/orders", c.headers(req.IdempotencyKey), body, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" || len(resp.QRCodes) == 0 {
		return nil, fmt.Errorf("%w: pagseguro order without qr code", gateway.ErrProviderError)
	}
	charge := &gateway.PaymentCharge{
		TransactionID: resp.ID,
		PixCode:       resp.QRCodes[0].Text,
	}
	for _, l := range resp.QRCodes[0].Links {
		if strings.EqualFold(l.Rel, "QRCODE.PNG") {
			charge.QRCode = l.Href
		}
	}
	if parsed, err := time.Parse(time.RFC3339, resp.QRCodes[0].ExpirationDate); err == nil {
		charge.ExpiresAt = &parsed
	}
	return charge, nil
}

// QueryStatus 查询网关订单状态
func (c *Client) QueryStatus(ctx context.Context, transactionID string) (*gateway.PaymentStatusResult, error) {
	var resp orderResponse
	if err := gateway.DoJSON(ctx, c.http, http.MethodGet, c.cfg.APIURL+"/orders/"+transactionID, c.headers(""), nil, &resp); err != nil {
		return nil, err
	}
	result := &gateway.PaymentStatusResult{TransactionID: transactionID, Status: gateway.PaymentStatusProcessing, RawStatus: "WAITING"}
	if len(resp.Charges) > 0 {
		latest := resp.Charges[len(resp.Charges)-1]
		result.ChargeID = latest.ID
		result.RawStatus = strings.ToUpper(latest.Status)
		result.Status = NormalizeStatus(latest.Status)
	}
	return result, nil
}

// Refund 对订单下最近一笔已支付的 charge 发起（部分）退款
func (c *Client) Refund(ctx context.Context, transactionID string, amountCents int64) (*gateway.RefundResult, error) {
	status, err := c.QueryStatus(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if status.ChargeID == "" {
		return nil, fmt.Errorf("%w: %w: order %s has no charge", gateway.ErrProviderError, gateway.ErrProviderRejected, transactionID)
	}
	var resp chargeResponse
	url := fmt.Sprintf("%s/charges/%s/cancel", c.cfg.APIURL, status.ChargeID)
	headers := c.headers(fmt.Sprintf("refund-%s-%d", status.ChargeID, amountCents))
	if err := gateway.DoJSON(ctx, c.http, http.MethodPost, url, headers, map[string]interface{}{
		"amount": amount{Value: amountCents},
	}, &resp); err != nil {
		return nil, err
	}
	refunded := resp.Amount.Summary.Refunded
	if refunded == 0 {
		refunded = amountCents
	}
	return &gateway.RefundResult{RefundID: resp.ID, AmountCents: refunded, Status: NormalizeStatus(resp.Status)}, nil
}

func (c *Client) headers(idempotencyKey string) map[string]string {
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.Token}
	if idempotencyKey != "" {
		headers["x-idempotency-key"] = idempotencyKey
	}
	return headers
}

// NormalizeStatus 将 PagBank charge 状态映射为网关侧统一状态
func NormalizeStatus(raw string) string {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "PAID":
		return gateway.PaymentStatusCompleted
	case "DECLINED":
		return gateway.PaymentStatusFailed
	case "CANCELED", "CANCELLED":
		return gateway.PaymentStatusCancelled
	case "REFUNDED":
		return gateway.PaymentStatusRefunded
	default:
		return gateway.PaymentStatusProcessing
	}
}

// ParseWebhook 解析订单回调
func ParseWebhook(body []byte) (*gateway.PaymentWebhook, error) {
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if strings.TrimSpace(resp.ID) == "" {
		return nil, errors.New("webhook without order id")
	}
	hook := &gateway.PaymentWebhook{
		TransactionID: resp.ID,
		ReferenceID:   resp.ReferenceID,
		Status:        gateway.PaymentStatusProcessing,
		RawStatus:     "WAITING",
	}
	if len(resp.Charges) > 0 {
		latest := resp.Charges[len(resp.Charges)-1]
		hook.ChargeID = latest.ID
		hook.RawStatus = strings.ToUpper(latest.Status)
		hook.Status = NormalizeStatus(latest.Status)
	}
	return hook, nil
}

// VerifySignature 校验 x-authenticity-token：sha256(token + "-" + body)；未配置 token 时跳过
func (c *Client) VerifySignature(body []byte, signature string) bool {
	if c.cfg.WebhookToken == "" {
		return true
	}
	sum := sha256.Sum256(append([]byte(c.cfg.WebhookToken+"-"), body...))
	expected := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature)))) == 1
}

func splitPhone(raw string) map[string]interface{} {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, raw)
	if len(digits) < 12 {
		return nil
	}
	// 55 + DDD(2) + 号码
	return map[string]interface{}{
		"country": digits[:2],
		"area":    digits[2:4],
		"number":  digits[4:],
		"type":    "MOBILE",
	}
}

func fallback(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return value
}
