package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/entrega-next/internal/cache"
	"github.com/entrega-next/internal/constants"
	"github.com/entrega-next/internal/gateway"
	"github.com/entrega-next/internal/logger"
	"github.com/entrega-next/internal/models"
	"github.com/entrega-next/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 面向用户的固定文案（pt-BR）
const (
	TextQuoteExpired    = "❌ Cotação expirada. Por favor, solicite uma nova cotação."
	TextOrderCancelled  = "❌ Pedido cancelado. Posso ajudar com algo mais?"
	TextNothingToCancel = "Não há nenhum pedido para cancelar."
	TextModifyOrder     = "O que você gostaria de modificar no pedido?"
	TextApology         = "Desculpe, ocorreu um erro. Tente novamente em alguns minutos."
	TextImageReceived   = "📷 Recebemos sua imagem! Se for o comprovante ou uma foto do item, vamos considerar no seu pedido."
	TextUnsupported     = "Ainda não consigo ler esse tipo de mensagem. Pode me enviar por texto?"
	TextQuoteHeader     = "💰 Cotação de Entrega"
	TextQuoteFooter     = "Cotação válida por 30 minutos"
	textQuoteNoDistance = "Não consegui calcular a distância. Pode me enviar os endereços completos de coleta e entrega?"
	textOrderInProgress = "Você já tem um pedido em andamento (%s). Para uma nova entrega, cancele o atual ou aguarde a conclusão."
)

var quoteButtons = []gateway.Button{
	{ID: constants.ButtonConfirmOrder, Title: "✅ Confirmar"},
	{ID: constants.ButtonModifyOrder, Title: "✏️ Modificar"},
	{ID: constants.ButtonCancelOrder, Title: "❌ Cancelar"},
}

// Orchestrator 对话编排：一条入站消息最多触发一次状态迁移
type Orchestrator struct {
	db            *gorm.DB
	userRepo      repository.UserRepository
	inboundRepo   repository.InboundEventRepository
	sessions      *cache.SessionStore
	assistant     gateway.Assistant
	messenger     gateway.Messenger
	notifications *NotificationService
	orders        *OrderService
	payments      *PaymentService
	deliveries    *DeliveryService
	pricing       *Pricing
	locks         *KeyedLock
	averageSpeed  float64
	now           func() time.Time
}

// OrchestratorDeps 编排器依赖
type OrchestratorDeps struct {
	DB            *gorm.DB
	UserRepo      repository.UserRepository
	InboundRepo   repository.InboundEventRepository
	Sessions      *cache.SessionStore
	Assistant     gateway.Assistant
	Messenger     gateway.Messenger
	Notifications *NotificationService
	Orders        *OrderService
	Payments      *PaymentService
	Deliveries    *DeliveryService
	Pricing       *Pricing
	Locks         *KeyedLock
	AverageSpeed  float64
}

// NewOrchestrator 创建对话编排器
func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	locks := deps.Locks
	if locks == nil {
		locks = NewKeyedLock()
	}
	return &Orchestrator{
		db:            deps.DB,
		userRepo:      deps.UserRepo,
		inboundRepo:   deps.InboundRepo,
		sessions:      deps.Sessions,
		assistant:     deps.Assistant,
		messenger:     deps.Messenger,
		notifications: deps.Notifications,
		orders:        deps.Orders,
		payments:      deps.Payments,
		deliveries:    deps.Deliveries,
		pricing:       deps.Pricing,
		locks:         locks,
		averageSpeed:  deps.AverageSpeed,
		now:           time.Now,
	}
}

func orchestratorLogger(kv ...interface{}) *zap.SugaredLogger {
	return logger.Component("orchestrator", kv...)
}

// HandleInbound 处理一条入站消息。
// 同一身份的消息串行处理；重复投递直接忽略；业务失败降级为道歉回复，只有存储故障会返回错误。
func (o *Orchestrator) HandleInbound(ctx context.Context, msg gateway.InboundMessage) error {
	identity := strings.TrimSpace(msg.From)
	if identity == "" {
		return nil
	}
	log := orchestratorLogger("identity", identity, "message_id", msg.ID, "type", msg.Type)

	unlock := o.locks.Lock(identityLockKey(identity))
	defer unlock()

	// 去重标记在用户落库之后写入：存储失败时返回错误，重投的同一消息仍会被处理
	user, err := o.userRepo.WithTx(o.db.WithContext(ctx)).EnsureByPhone(identity, msg.Name, constants.UserRoleCustomer)
	if err != nil {
		log.Errorw("orchestrator_user_upsert_failed", "error", err)
		return err
	}
	first, err := o.inboundRepo.WithTx(o.db.WithContext(ctx)).Record(constants.InboundSourceWhatsAppMessage, msg.ID)
	if err != nil {
		log.Errorw("orchestrator_dedup_failed", "error", err)
		return err
	}
	if !first {
		log.Debugw("orchestrator_message_duplicate")
		return nil
	}

	switch msg.Type {
	case "button":
		o.handleButton(ctx, user, msg)
	case "image":
		o.reply(ctx, user, nil, TextImageReceived)
	case "unsupported":
		o.reply(ctx, user, nil, TextUnsupported)
	case "location":
		text := fmt.Sprintf("📍 Localização compartilhada: %.6f, %.6f", msg.Latitude, msg.Longitude)
		if msg.Text != "" {
			text += " (" + msg.Text + ")"
		}
		o.handleTurn(ctx, user, text)
	default:
		o.handleTurn(ctx, user, msg.Text)
	}

	if o.messenger != nil && msg.ID != "" {
		if err := o.messenger.MarkRead(ctx, msg.ID); err != nil {
			log.Debugw("orchestrator_mark_read_failed", "error", err)
		}
	}
	return nil
}

// HandleMessageStatus 处理渠道消息回执（按消息 ID + 状态去重）
func (o *Orchestrator) HandleMessageStatus(ctx context.Context, status gateway.MessageStatus) error {
	key := status.MessageID + ":" + strings.ToLower(status.Status)
	first, err := o.inboundRepo.WithTx(o.db.WithContext(ctx)).Record(constants.InboundSourceWhatsAppStatus, key)
	if err != nil {
		return err
	}
	if !first {
		return nil
	}
	return o.notifications.ApplyProviderStatus(ctx, status)
}

func (o *Orchestrator) handleTurn(ctx context.Context, user *models.User, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	threadID, err := o.ensureThread(ctx, user.Phone)
	if err != nil {
		o.apologize(ctx, user, nil, "open_thread", err)
		return
	}
	open, err := o.orders.OpenOrderFor(ctx, user.ID)
	if err != nil {
		o.apologize(ctx, user, nil, "load_open_order", err)
		return
	}
	turn := gateway.TurnContext{Identity: user.Phone, Name: user.Name}
	if open != nil {
		turn.OpenOrderNo = open.OrderNo
		turn.OrderStatus = open.Status
		if !open.FinalPrice.IsZero() {
			turn.FinalPrice = formatBRL(open.FinalPrice.Cents())
		}
	}

	reply, err := o.assistant.SendTurn(ctx, threadID, text, turn, &turnTools{o: o, user: user})
	if err != nil {
		o.apologize(ctx, user, orderIDOf(open), "send_turn", err)
		return
	}
	switch r := reply.(type) {
	case gateway.ChatReply:
		o.reply(ctx, user, orderIDOf(open), r.Text)
	case gateway.QuestionReply:
		o.reply(ctx, user, orderIDOf(open), r.Text)
	case gateway.QuoteReply:
		o.handleQuote(ctx, user, open, threadID, r)
	case gateway.FsmEventReply:
		o.handleFsmEvent(ctx, user, open, threadID, r)
	default:
		o.reply(ctx, user, orderIDOf(open), reply.Message())
	}
}

// ensureThread 会话线程缓存未命中时新建线程；缓存读写失败视为未命中
func (o *Orchestrator) ensureThread(ctx context.Context, identity string) (string, error) {
	threadID, found, err := o.sessions.GetThread(ctx, identity)
	if err != nil {
		orchestratorLogger("identity", identity).Warnw("orchestrator_session_read_failed", "error", err)
	}
	if found {
		return threadID, nil
	}
	threadID, err = o.assistant.OpenThread(ctx)
	if err != nil {
		return "", err
	}
	if err := o.sessions.SetThread(ctx, identity, threadID); err != nil {
		orchestratorLogger("identity", identity).Warnw("orchestrator_session_write_failed", "error", err)
	}
	return threadID, nil
}

func (o *Orchestrator) handleQuote(ctx context.Context, user *models.User, open *models.Order, threadID string, r gateway.QuoteReply) {
	req := r.Request
	distance := req.DistanceKm
	if req.PickupLat != nil && req.PickupLng != nil && req.DeliveryLat != nil && req.DeliveryLng != nil {
		distance = HaversineKm(*req.PickupLat, *req.PickupLng, *req.DeliveryLat, *req.DeliveryLng)
	}
	now := o.now()
	price, err := o.pricing.Quote(distance, now)
	if err != nil {
		o.reply(ctx, user, orderIDOf(open), textQuoteNoDistance)
		return
	}

	order := open
	if order != nil && !isQuotableOrderStatus(order.Status) {
		o.reply(ctx, user, &order.ID, fmt.Sprintf(textOrderInProgress, order.OrderNo))
		return
	}
	if order == nil {
		order, err = o.orders.Create(ctx, CreateOrderInput{
			ConsumerID:   user.ID,
			Source:       constants.OrderSourceWhatsApp,
			ThreadID:     threadID,
			Priority:     req.Priority,
			ItemCategory: req.ItemCategory,
		})
		if err != nil {
			o.apologize(ctx, user, nil, "create_order", err)
			return
		}
	}

	eta := req.EtaMinutes
	if eta <= 0 {
		eta = EstimateMinutes(price.DistanceKm, o.averageSpeed)
	}
	result, err := o.orders.Apply(ctx, order.ID, constants.OrderEventQuote, TransitionOptions{Quote: &QuoteDetails{
		PickupAddress:   req.PickupAddress,
		DeliveryAddress: req.DeliveryAddress,
		PickupLat:       req.PickupLat,
		PickupLng:       req.PickupLng,
		DeliveryLat:     req.DeliveryLat,
		DeliveryLng:     req.DeliveryLng,
		ItemDescription: req.ItemDescription,
		ItemCategory:    req.ItemCategory,
		Priority:        req.Priority,
		DurationMin:     eta,
		Price:           price,
	}})
	if err != nil {
		o.apologize(ctx, user, &order.ID, "apply_quote", err)
		return
	}
	quoted := result.Order

	if err := o.sessions.SetQuote(ctx, user.Phone, cache.Quote{
		OrderID:         quoted.ID,
		OrderNo:         quoted.OrderNo,
		DistanceKm:      price.DistanceKm,
		EtaMinutes:      eta,
		BasePrice:       price.BasePrice.String(),
		FinalPrice:      price.FinalPrice.String(),
		Currency:        price.Currency,
		PickupAddress:   quoted.PickupAddress,
		DeliveryAddress: quoted.DeliveryAddress,
		ItemDescription: quoted.ItemDescription,
	}); err != nil {
		orchestratorLogger("identity", user.Phone, "order_id", quoted.ID).Warnw("orchestrator_quote_cache_failed", "error", err)
	}

	if _, err := o.notifications.SendInteractive(ctx, user.ID, &quoted.ID, user.Phone, gateway.InteractiveMessage{
		Header:  TextQuoteHeader,
		Body:    quotePromptBody(r.Text, quoted, eta),
		Footer:  TextQuoteFooter,
		Buttons: quoteButtons,
	}); err != nil {
		orchestratorLogger("identity", user.Phone, "order_id", quoted.ID).Errorw("orchestrator_reply_enqueue_failed", "error", err)
	}
}

// handleFsmEvent 助手只允许触发 request_quote / confirm / cancel，其余事件由司机端或支付回调驱动
func (o *Orchestrator) handleFsmEvent(ctx context.Context, user *models.User, open *models.Order, threadID string, r gateway.FsmEventReply) {
	switch r.Event {
	case constants.OrderEventRequestQuote:
		order := open
		if order == nil {
			created, err := o.orders.Create(ctx, CreateOrderInput{
				ConsumerID: user.ID,
				Source:     constants.OrderSourceWhatsApp,
				ThreadID:   threadID,
			})
			if err != nil {
				o.apologize(ctx, user, nil, "create_order", err)
				return
			}
			order = created
		}
		if _, err := o.orders.Apply(ctx, order.ID, constants.OrderEventRequestQuote, TransitionOptions{}); err != nil {
			o.apologize(ctx, user, &order.ID, "apply_request_quote", err)
			return
		}
		o.reply(ctx, user, &order.ID, r.Text)
	case constants.OrderEventConfirm:
		o.confirm(ctx, user)
	case constants.OrderEventCancel:
		o.cancel(ctx, user)
	default:
		o.apologize(ctx, user, orderIDOf(open), "fsm_event", fmt.Errorf("%w: %s", ErrInvalidTransition, r.Event))
	}
}

func (o *Orchestrator) handleButton(ctx context.Context, user *models.User, msg gateway.InboundMessage) {
	switch msg.ButtonID {
	case constants.ButtonConfirmOrder:
		o.confirm(ctx, user)
	case constants.ButtonModifyOrder:
		o.reply(ctx, user, nil, TextModifyOrder)
	case constants.ButtonCancelOrder:
		o.cancel(ctx, user)
	default:
		o.handleTurn(ctx, user, firstNonEmpty(msg.ButtonTitle, msg.Text))
	}
}

// liveQuote 读取仍在有效期内的缓存报价；读取失败按不存在处理
func (o *Orchestrator) liveQuote(ctx context.Context, identity string) (*cache.Quote, bool) {
	quote, found, err := o.sessions.GetQuote(ctx, identity)
	if err != nil {
		orchestratorLogger("identity", identity).Warnw("orchestrator_session_read_failed", "error", err)
		return nil, false
	}
	return quote, found
}

// confirm 确认报价：必须存在有效的缓存报价，随后创建（或复用）PIX 支付
func (o *Orchestrator) confirm(ctx context.Context, user *models.User) {
	log := orchestratorLogger("identity", user.Phone)
	quote, found := o.liveQuote(ctx, user.Phone)
	if !found {
		o.reply(ctx, user, nil, TextQuoteExpired)
		return
	}
	payment, err := o.payments.EnsurePayment(ctx, quote.OrderID)
	if err != nil {
		if errors.Is(err, ErrPaymentNotAllowed) || errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrOrderNotFound) {
			if _, clearErr := o.sessions.ClearQuote(ctx, user.Phone); clearErr != nil {
				log.Warnw("orchestrator_quote_clear_failed", "error", clearErr)
			}
			o.reply(ctx, user, nil, TextQuoteExpired)
			return
		}
		o.apologize(ctx, user, &quote.OrderID, "ensure_payment", err)
		return
	}
	o.reply(ctx, user, &quote.OrderID, pixPaymentText(quote.OrderNo, payment))
}

// cancel 清除报价；没有进行中的订单时不创建任何记录
func (o *Orchestrator) cancel(ctx context.Context, user *models.User) {
	log := orchestratorLogger("identity", user.Phone)
	hadQuote, err := o.sessions.ClearQuote(ctx, user.Phone)
	if err != nil {
		log.Warnw("orchestrator_quote_clear_failed", "error", err)
	}
	open, err := o.orders.OpenOrderFor(ctx, user.ID)
	if err != nil {
		o.apologize(ctx, user, nil, "load_open_order", err)
		return
	}
	if open == nil {
		if hadQuote {
			o.reply(ctx, user, nil, TextOrderCancelled)
			return
		}
		o.reply(ctx, user, nil, TextNothingToCancel)
		return
	}
	if _, err := o.orders.Cancel(ctx, open.ID, "cancelled by customer"); err != nil {
		o.apologize(ctx, user, &open.ID, "cancel_order", err)
		return
	}
	o.reply(ctx, user, &open.ID, TextOrderCancelled)
}

func (o *Orchestrator) reply(ctx context.Context, user *models.User, orderID *uint, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	if _, err := o.notifications.SendText(ctx, user.ID, orderID, user.Phone, text); err != nil {
		orchestratorLogger("identity", user.Phone).Errorw("orchestrator_reply_enqueue_failed", "error", err)
	}
}

func (o *Orchestrator) apologize(ctx context.Context, user *models.User, orderID *uint, step string, err error) {
	log := orchestratorLogger("identity", user.Phone, "step", step)
	switch {
	case errors.Is(err, gateway.ErrProviderTimeout), errors.Is(err, gateway.ErrProviderError):
		log.Warnw("orchestrator_provider_error", "error", err)
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrAlreadyAssigned), errors.Is(err, ErrTransitionConflict):
		log.Infow("orchestrator_transition_rejected", "error", err)
	default:
		log.Errorw("orchestrator_step_failed", "error", err)
	}
	o.reply(ctx, user, orderID, TextApology)
}

func isQuotableOrderStatus(status string) bool {
	switch status {
	case constants.OrderStatusDraft, constants.OrderStatusPendingQuote, constants.OrderStatusQuoted:
		return true
	}
	return false
}

func orderIDOf(order *models.Order) *uint {
	if order == nil {
		return nil
	}
	id := order.ID
	return &id
}

func quotePromptBody(intro string, order *models.Order, eta int) string {
	var b strings.Builder
	if intro = strings.TrimSpace(intro); intro != "" {
		b.WriteString(intro)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "📦 Pedido: %s\n", order.OrderNo)
	if order.PickupAddress != "" {
		fmt.Fprintf(&b, "📍 Coleta: %s\n", order.PickupAddress)
	}
	if order.DeliveryAddress != "" {
		fmt.Fprintf(&b, "🏁 Entrega: %s\n", order.DeliveryAddress)
	}
	fmt.Fprintf(&b, "📏 Distância: %.1f km\n", order.DistanceKm)
	fmt.Fprintf(&b, "⏱️ Tempo estimado: %d min\n", eta)
	fmt.Fprintf(&b, "💵 Valor: %s", formatBRL(order.FinalPrice.Cents()))
	return b.String()
}

func pixPaymentText(orderNo string, payment *models.Payment) string {
	var b strings.Builder
	b.WriteString("💳 Pagamento PIX\n\n")
	fmt.Fprintf(&b, "Pedido: %s\n", orderNo)
	fmt.Fprintf(&b, "Valor: %s\n", formatBRL(payment.AmountCents))
	if payment.PixCode != "" {
		b.WriteString("\nCopie o código abaixo e pague no app do seu banco:\n")
		b.WriteString(payment.PixCode)
		b.WriteString("\n")
	}
	if payment.ExpiresAt != nil {
		fmt.Fprintf(&b, "\nVálido até %s.", payment.ExpiresAt.Format("15:04"))
	}
	return strings.TrimRight(b.String(), "\n")
}

// formatBRL 2750 -> "R$ 27,50"
func formatBRL(cents int64) string {
	return "R$ " + strings.Replace(models.NewMoneyFromCents(cents).String(), ".", ",", 1)
}
