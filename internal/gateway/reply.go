package gateway

import (
	"encoding/json"
	"strings"
)

// 回复类型
const (
	ReplyKindChat     = "chat"
	ReplyKindQuestion = "question"
	ReplyKindQuote    = "quote"
	ReplyKindFsmEvent = "fsm_event"
)

// Reply 对话助手的结构化回复（封闭变体：ChatReply / QuestionReply / QuoteReply / FsmEventReply）
type Reply interface {
	Kind() string
	Message() string
	sealed()
}

// ChatReply 普通聊天回复
type ChatReply struct {
	Text string
}

// QuestionReply 追问（补充信息）
type QuestionReply struct {
	Text string
}

// QuoteReply 报价请求
type QuoteReply struct {
	Text    string
	Request QuoteRequest
}

// FsmEventReply 请求执行订单事件
type FsmEventReply struct {
	Text  string
	Event string
}

// QuoteRequest 助手整理出的报价参数
type QuoteRequest struct {
	PickupAddress   string   `json:"pickup_address"`
	DeliveryAddress string   `json:"delivery_address"`
	PickupLat       *float64 `json:"pickup_lat,omitempty"`
	PickupLng       *float64 `json:"pickup_lng,omitempty"`
	DeliveryLat     *float64 `json:"delivery_lat,omitempty"`
	DeliveryLng     *float64 `json:"delivery_lng,omitempty"`
	DistanceKm      float64  `json:"distance_km"`
	EtaMinutes      int      `json:"eta_minutes"`
	ItemDescription string   `json:"item_description"`
	ItemCategory    string   `json:"item_category"`
	Priority        string   `json:"priority"`
}

func (ChatReply) Kind() string { return ReplyKindChat }
func (r ChatReply) Message() string { return r.Text }
func (ChatReply) sealed() {}
func (QuestionReply) Kind() string { return ReplyKindQuestion }
func (r QuestionReply) Message() string { return r.Text }
func (QuestionReply) sealed() {}
func (QuoteReply) Kind() string { return ReplyKindQuote }
func (r QuoteReply) Message() string { return r.Text }
func (QuoteReply) sealed() {}
func (FsmEventReply) Kind() string { return ReplyKindFsmEvent }
func (r FsmEventReply) Message() string { return r.Text }
func (FsmEventReply) sealed() {}

type rawReply struct {
	Kind     string          `json:"kind"`
	Type     string          `json:"type"`
	Text     string          `json:"text"`
	Message  string          `json:"message"`
	Event    string          `json:"event"`
	FsmEvent string          `json:"fsm_event"`
	Metadata json.RawMessage `json:"metadata"`
}

// ParseReply 解析助手输出；无法识别或格式错误时一律降级为 ChatReply
func ParseReply(raw string) Reply {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var parsed rawReply
	if !strings.HasPrefix(trimmed, "{") || json.Unmarshal([]byte(trimmed), &parsed) != nil {
		return ChatReply{Text: strings.TrimSpace(raw)}
	}
	text := strings.TrimSpace(parsed.Text)
	if text == "" {
		text = strings.TrimSpace(parsed.Message)
	}
	kind := strings.ToLower(strings.TrimSpace(parsed.Kind))
	if kind == "" {
		kind = strings.ToLower(strings.TrimSpace(parsed.Type))
	}

	switch kind {
	case ReplyKindQuestion:
		return QuestionReply{Text: text}
	case ReplyKindQuote:
		var request QuoteRequest
		if len(parsed.Metadata) == 0 || json.Unmarshal(parsed.Metadata, &request) != nil {
			return ChatReply{Text: text}
		}
		return QuoteReply{Text: text, Request: request}
	case ReplyKindFsmEvent:
		event := strings.TrimSpace(parsed.FsmEvent)
		if event == "" {
			event = strings.TrimSpace(parsed.Event)
		}
		if event == "" && len(parsed.Metadata) > 0 {
			var meta struct {
				Event string `json:"event"`
			}
			_ = json.Unmarshal(parsed.Metadata, &meta)
			event = strings.TrimSpace(meta.Event)
		}
		if event == "" {
			return ChatReply{Text: text}
		}
		return FsmEventReply{Text: text, Event: strings.ToLower(event)}
	default:
		return ChatReply{Text: text}
	}
}
