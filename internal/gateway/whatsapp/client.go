// Package whatsapp WhatsApp Cloud API 客户端与 webhook 解析
package whatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/entrega-next/internal/gateway"
)

const (
	maxButtons     = 3
	maxButtonTitle = 20
)

// Config WhatsApp 配置
type Config struct {
	APIURL        string
	PhoneNumberID string
	AccessToken   string
	VerifyToken   string
	AppSecret     string
}

// Client WhatsApp 客户端
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

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// SendText 发送文本消息
func (c *Client) SendText(ctx context.Context, to, body string) (string, error) {
	return c.send(ctx, map[string]interface{}{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "text",
		"text": map[string]interface{}{
			"preview_url": false,
			"body":        body,
		},
	})
}

// SendInteractive 发送按钮消息（最多 3 个按钮）
func (c *Client) SendInteractive(ctx context.Context, to string, msg gateway.InteractiveMessage) (string, error) {
	buttons := msg.Buttons
	if len(buttons) > maxButtons {
		buttons = buttons[:maxButtons]
	}
	actions := make([]map[string]interface{}, 0, len(buttons))
	for _, button := range buttons {
		actions = append(actions, map[string]interface{}{
			"type": "reply",
			"reply": map[string]string{
				"id":    button.ID,
				"title": truncateRunes(button.Title, maxButtonTitle),
			},
		})
	}
	interactive := map[string]interface{}{
		"type":   "button",
		"body":   map[string]string{"text": msg.Body},
		"action": map[string]interface{}{"buttons": actions},
	}
	if strings.TrimSpace(msg.Header) != "" {
		interactive["header"] = map[string]string{"type": "text", "text": msg.Header}
	}
	if strings.TrimSpace(msg.Footer) != "" {
		interactive["footer"] = map[string]string{"text": msg.Footer}
	}
	return c.send(ctx, map[string]interface{}{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "interactive",
		"interactive":       interactive,
	})
}

// SendLocation 发送位置消息
func (c *Client) SendLocation(ctx context.Context, to string, loc gateway.LocationMessage) (string, error) {
	location := map[string]interface{}{
		"latitude":  loc.Latitude,
		"longitude": loc.Longitude,
	}
	if loc.Name != "" {
		location["name"] = loc.Name
	}
	if loc.Address != "" {
		location["address"] = loc.Address
	}
	return c.send(ctx, map[string]interface{}{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "location",
		"location":          location,
	})
}

// MarkRead 标记入站消息已读
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	return gateway.DoJSON(ctx, c.http, http.MethodPost, c.messagesURL(), c.headers(), map[string]interface{}{
		"messaging_product": "whatsapp",
		"status":            "read",
		"message_id":        messageID,
	}, nil)
}

func (c *Client) send(ctx context.Context, payload map[string]interface{}) (string, error) {
	var resp sendResponse
	if err := gateway.DoJSON(ctx, c.http, http.MethodPost, c.messagesURL(), c.headers(), payload, &resp); err != nil {
		return "", err
	}
	if len(resp.Messages) == 0 || resp.Messages[0].ID == "" {
		return "", fmt.Errorf("%w: whatsapp response without message id", gateway.ErrProviderError)
	}
	return resp.Messages[0].ID, nil
}

func (c *Client) messagesURL() string {
	return fmt.Sprintf("%s/%s/messages", c.cfg.APIURL, c.cfg.PhoneNumberID)
}

func (c *Client) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.cfg.AccessToken}
}

// VerifyChallenge 校验订阅握手，成功返回 challenge
func (c *Client) VerifyChallenge(mode, token, challenge string) (string, bool) {
	if mode != "subscribe" || c.cfg.VerifyToken == "" {
		return "", false
	}
	if !hmac.Equal([]byte(token), []byte(c.cfg.VerifyToken)) {
		return "", false
	}
	return challenge, true
}

// VerifySignature 校验 X-Hub-Signature-256；未配置 AppSecret 时跳过
func (c *Client) VerifySignature(body []byte, header string) bool {
	if c.cfg.AppSecret == "" {
		return true
	}
	provided := strings.TrimPrefix(strings.TrimSpace(header), "sha256=")
	if provided == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(c.cfg.AppSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(provided)))
}

func truncateRunes(value string, limit int) string {
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	runes := []rune(value)
	return string(runes[:limit])
}
