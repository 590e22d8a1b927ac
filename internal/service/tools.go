package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/entrega-next/internal/constants"
	"github.com/entrega-next/internal/models"
)

// 助手可调用的工具名
const (
	ToolComputeQuote    = "compute_quote"
	ToolGetDriverETA    = "get_driver_eta"
	ToolGeneratePayment = "generate_payment"
	ToolSearchFAQ       = "search_faq"
	ToolSummarizeOrder  = "summarize_order"
)

const (
	fallbackDriverETAMinutes = 15
	fallbackDriverDistanceKm = 5.0
)

type faqEntry struct {
	Question string
	Answer   string
	Keywords []string
}

var builtinFAQ = []faqEntry{
	{
		Question: "Como funciona o pagamento?",
		Answer:   "Aceitamos PIX. Depois de confirmar a cotação você recebe o código copia e cola, válido por 30 minutos.",
		Keywords: []string{"pagamento", "pagar", "pix", "cartão", "boleto"},
	},
	{
		Question: "Quanto custa uma entrega?",
		Answer:   "O valor é calculado pela distância entre coleta e entrega. Envie os dois endereços para receber uma cotação.",
		Keywords: []string{"preço", "preco", "valor", "custa", "cotação", "cotacao", "frete"},
	},
	{
		Question: "Quanto tempo demora?",
		Answer:   "Assim que o pagamento é confirmado um entregador é designado. O tempo estimado aparece na cotação.",
		Keywords: []string{"tempo", "demora", "prazo", "quando", "chega"},
	},
	{
		Question: "Posso cancelar o pedido?",
		Answer:   "Sim. Use o botão Cancelar ou escreva \"cancelar\". Pedidos já pagos são reembolsados automaticamente.",
		Keywords: []string{"cancelar", "cancelamento", "desistir", "reembolso", "estorno"},
	},
	{
		Question: "O que posso enviar?",
		Answer:   "Documentos, comida, remédios, eletrônicos, roupas, flores e compras de mercado. Itens ilegais ou perigosos não são aceitos.",
		Keywords: []string{"enviar", "item", "itens", "aceita", "proibido", "pode"},
	},
	{
		Question: "Como acompanho minha entrega?",
		Answer:   "Você recebe mensagens a cada etapa: coleta, em trânsito e entregue. Pergunte a qualquer momento pelo status do pedido.",
		Keywords: []string{"acompanhar", "rastrear", "status", "onde", "entregador", "motorista"},
	},
}

// turnTools 单轮对话内的工具执行器（绑定当前用户）
type turnTools struct {
	o    *Orchestrator
	user *models.User
}

// ExecuteTool 执行工具调用，结果可直接 JSON 序列化
func (t *turnTools) ExecuteTool(ctx context.Context, name string, arguments json.RawMessage) (interface{}, error) {
	switch name {
	case ToolComputeQuote:
		return t.computeQuote(arguments)
	case ToolGetDriverETA:
		return t.driverETA(ctx)
	case ToolGeneratePayment:
		return t.generatePayment(ctx)
	case ToolSearchFAQ:
		return searchFAQ(arguments)
	case ToolSummarizeOrder:
		return t.summarizeOrder(ctx)
	default:
		return nil, fmt.Errorf("unknown tool %q", name)
	}
}

type computeQuoteArgs struct {
	PickupLat   *float64 `json:"pickup_lat"`
	PickupLng   *float64 `json:"pickup_lng"`
	DeliveryLat *float64 `json:"delivery_lat"`
	DeliveryLng *float64 `json:"delivery_lng"`
	DistanceKm  float64  `json:"distance_km"`
}

func (t *turnTools) computeQuote(arguments json.RawMessage) (interface{}, error) {
	var args computeQuoteArgs
	if len(arguments) > 0 {
		if err := json.Unmarshal(arguments, &args); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
	}
	distance := args.DistanceKm
	if args.PickupLat != nil && args.PickupLng != nil && args.DeliveryLat != nil && args.DeliveryLng != nil {
		distance = HaversineKm(*args.PickupLat, *args.PickupLng, *args.DeliveryLat, *args.DeliveryLng)
	}
	quote, err := t.o.pricing.Quote(distance, t.o.now())
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"distance_km": quote.DistanceKm,
		"base_price":  quote.BasePrice.String(),
		"final_price": quote.FinalPrice.String(),
		"currency":    quote.Currency,
		"eta_minutes": EstimateMinutes(quote.DistanceKm, t.o.averageSpeed),
		"time_of_day": quote.Factors.TimeOfDay,
		"zone":        quote.Factors.ZoneKey,
	}, nil
}

func (t *turnTools) driverETA(ctx context.Context) (interface{}, error) {
	fallback := map[string]interface{}{
		"eta_minutes": fallbackDriverETAMinutes,
		"distance_km": fallbackDriverDistanceKm,
		"source":      "estimate",
	}
	order, err := t.o.orders.OpenOrderFor(ctx, t.user.ID)
	if err != nil {
		return nil, err
	}
	if order == nil || order.PickupLat == nil || order.PickupLng == nil || t.o.deliveries == nil {
		return fallback, nil
	}
	delivery, err := t.o.deliveries.ActiveDeliveryFor(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if delivery == nil || delivery.CurrentLat == nil || delivery.CurrentLng == nil {
		return fallback, nil
	}
	distance := HaversineKm(*delivery.CurrentLat, *delivery.CurrentLng, *order.PickupLat, *order.PickupLng)
	return map[string]interface{}{
		"eta_minutes": EstimateMinutes(distance, t.o.averageSpeed),
		"distance_km": distance,
		"source":      "live",
	}, nil
}

func (t *turnTools) generatePayment(ctx context.Context) (interface{}, error) {
	order, err := t.o.orders.OpenOrderFor(ctx, t.user.ID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return map[string]interface{}{"found": false}, nil
	}
	// 报价阶段与确认按钮同一规则：缓存报价过期后必须重新报价
	if order.Status == constants.OrderStatusQuoted {
		quote, found := t.o.liveQuote(ctx, t.user.Phone)
		if !found || quote.OrderID != order.ID {
			return map[string]interface{}{"found": false, "reason": "quote_expired"}, nil
		}
	}
	payment, err := t.o.payments.EnsurePayment(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	result := map[string]interface{}{
		"found":    true,
		"order_no": order.OrderNo,
		"status":   payment.Status,
		"amount":   models.NewMoneyFromCents(payment.AmountCents).String(),
		"currency": payment.Currency,
		"pix_code": payment.PixCode,
		"qr_code":  payment.QRCode,
	}
	if payment.ExpiresAt != nil {
		result["expires_at"] = payment.ExpiresAt
	}
	return result, nil
}

func (t *turnTools) summarizeOrder(ctx context.Context) (interface{}, error) {
	order, err := t.o.orders.OpenOrderFor(ctx, t.user.ID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return map[string]interface{}{"found": false}, nil
	}
	return map[string]interface{}{
		"found":            true,
		"order_no":         order.OrderNo,
		"status":           order.Status,
		"pickup_address":   order.PickupAddress,
		"delivery_address": order.DeliveryAddress,
		"item":             order.ItemDescription,
		"distance_km":      order.DistanceKm,
		"final_price":      order.FinalPrice.String(),
		"currency":         order.Currency,
		"driver_assigned":  order.DriverID != nil,
	}, nil
}

type faqMatch struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	score    int
}

func searchFAQ(arguments json.RawMessage) (interface{}, error) {
	var args struct {
		Query string `json:"query"`
	}
	if len(arguments) > 0 {
		if err := json.Unmarshal(arguments, &args); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
	}
	query := strings.ToLower(args.Query)
	matches := make([]faqMatch, 0, 3)
	for _, entry := range builtinFAQ {
		score := 0
		for _, keyword := range entry.Keywords {
			if strings.Contains(query, keyword) {
				score++
			}
		}
		if score > 0 {
			matches = append(matches, faqMatch{Question: entry.Question, Answer: entry.Answer, score: score})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].score > matches[j].score })
	if len(matches) > 3 {
		matches = matches[:3]
	}
	return map[string]interface{}{"matches": matches}, nil
}
