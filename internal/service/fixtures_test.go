package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/entrega-next/internal/cache"
	"github.com/entrega-next/internal/config"
	"github.com/entrega-next/internal/constants"
	"github.com/entrega-next/internal/events"
	"github.com/entrega-next/internal/gateway"
	"github.com/entrega-next/internal/models"
	"github.com/entrega-next/internal/repository"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type testClock struct {
	mu      sync.Mutex
	current time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	c.mu.Unlock()
}

type enqueuedDispatch struct {
	NotificationID uint
	RetryCount     int
	Delay          time.Duration
}

type recordingQueue struct {
	mu            sync.Mutex
	dispatches    []enqueuedDispatch
	refundIntents []uint
	expiries      []uint
}

func (q *recordingQueue) EnqueueNotificationDispatch(notificationID uint, retryCount int, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dispatches = append(q.dispatches, enqueuedDispatch{NotificationID: notificationID, RetryCount: retryCount, Delay: delay})
	return nil
}

func (q *recordingQueue) EnqueueRefundIntent(intentID uint) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.refundIntents = append(q.refundIntents, intentID)
	return nil
}

func (q *recordingQueue) EnqueuePaymentExpire(paymentID uint, _ time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.expiries = append(q.expiries, paymentID)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.OrderStatusChanged
}

func (p *recordingPublisher) PublishOrderStatusChanged(evt events.OrderStatusChanged) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func (p *recordingPublisher) Close() {}

type stubPayments struct {
	mu          sync.Mutex
	createCalls []gateway.CreatePaymentRequest
	createErr   error
	queryResult *gateway.PaymentStatusResult
	queryErr    error
	refunds     []int64
	refundErr   error
}

func (s *stubPayments) CreatePayment(_ context.Context, req gateway.CreatePaymentRequest) (*gateway.PaymentCharge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createCalls = append(s.createCalls, req)
	if s.createErr != nil {
		return nil, s.createErr
	}
	return &gateway.PaymentCharge{
		TransactionID: fmt.Sprintf("ORDE_%s", req.ReferenceID),
		PixCode:       "00020126pix" + req.ReferenceID,
		QRCode:        "https://qr.example/" + req.ReferenceID,
	}, nil
}

func (s *stubPayments) QueryStatus(_ context.Context, transactionID string) (*gateway.PaymentStatusResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	if s.queryResult != nil {
		result := *s.queryResult
		result.TransactionID = transactionID
		return &result, nil
	}
	return &gateway.PaymentStatusResult{TransactionID: transactionID, Status: gateway.PaymentStatusProcessing, RawStatus: "WAITING"}, nil
}

func (s *stubPayments) Refund(_ context.Context, transactionID string, amountCents int64) (*gateway.RefundResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refundErr != nil {
		return nil, s.refundErr
	}
	s.refunds = append(s.refunds, amountCents)
	return &gateway.RefundResult{RefundID: fmt.Sprintf("RF_%s_%d", transactionID, len(s.refunds)), AmountCents: amountCents, Status: "CANCELED"}, nil
}

type sentMessage struct {
	To          string
	Kind        string
	Body        string
	Interactive gateway.InteractiveMessage
}

type stubMessenger struct {
	mu      sync.Mutex
	sent    []sentMessage
	reads   []string
	sendErr error
	seq     int
}

func (m *stubMessenger) record(msg sentMessage) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return "", m.sendErr
	}
	m.seq++
	m.sent = append(m.sent, msg)
	return fmt.Sprintf("wamid.%d", m.seq), nil
}

func (m *stubMessenger) SendText(_ context.Context, to, body string) (string, error) {
	return m.record(sentMessage{To: to, Kind: constants.NotificationKindText, Body: body})
}

func (m *stubMessenger) SendInteractive(_ context.Context, to string, msg gateway.InteractiveMessage) (string, error) {
	return m.record(sentMessage{To: to, Kind: constants.NotificationKindInteractive, Body: msg.Body, Interactive: msg})
}

func (m *stubMessenger) SendLocation(_ context.Context, to string, loc gateway.LocationMessage) (string, error) {
	return m.record(sentMessage{To: to, Kind: constants.NotificationKindLocation, Body: loc.Name})
}

func (m *stubMessenger) MarkRead(_ context.Context, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads = append(m.reads, messageID)
	return nil
}

func (m *stubMessenger) messages() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

type toolCall struct {
	Name      string
	Arguments string
}

type stubAssistant struct {
	mu       sync.Mutex
	threads  int
	replies  []gateway.Reply
	turnErr  error
	turns    []gateway.TurnContext
	toolCall *toolCall
	toolOut  interface{}
}

func (a *stubAssistant) OpenThread(context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.threads++
	return fmt.Sprintf("thread_%d", a.threads), nil
}

func (a *stubAssistant) SendTurn(ctx context.Context, _ string, _ string, turn gateway.TurnContext, tools gateway.ToolExecutor) (gateway.Reply, error) {
	a.mu.Lock()
	a.turns = append(a.turns, turn)
	call := a.toolCall
	a.mu.Unlock()
	if a.turnErr != nil {
		return nil, a.turnErr
	}
	if call != nil {
		out, err := tools.ExecuteTool(ctx, call.Name, json.RawMessage(call.Arguments))
		if err != nil {
			return nil, err
		}
		a.mu.Lock()
		a.toolOut = out
		a.mu.Unlock()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.replies) == 0 {
		return gateway.ChatReply{Text: "Olá!"}, nil
	}
	reply := a.replies[0]
	a.replies = a.replies[1:]
	return reply, nil
}

type testEnv struct {
	db            *gorm.DB
	clock         *testClock
	queue         *recordingQueue
	publisher     *recordingPublisher
	payGateway    *stubPayments
	messenger     *stubMessenger
	assistant     *stubAssistant
	store         *cache.MemoryStore
	sessions      *cache.SessionStore
	pricing       *Pricing
	orders        *OrderService
	deliveries    *DeliveryService
	payments      *PaymentService
	notifications *NotificationService
	orchestrator  *Orchestrator
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:entrega_service_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	return db
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)
	clock := &testClock{current: time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)}
	queue := &recordingQueue{}
	publisher := &recordingPublisher{}
	payGateway := &stubPayments{}
	messenger := &stubMessenger{}
	assistant := &stubAssistant{}
	locks := NewKeyedLock()

	pricing, err := NewPricing(config.PricingConfig{})
	if err != nil {
		t.Fatalf("new pricing failed: %v", err)
	}
	store := cache.NewMemoryStore()
	sessions := cache.NewSessionStore(store, 24*time.Hour, 30*time.Minute).WithClock(clock.Now)

	orderRepo := repository.NewOrderRepository(db)
	deliveryRepo := repository.NewDeliveryRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	refundRepo := repository.NewRefundIntentRepository(db)
	inboundRepo := repository.NewInboundEventRepository(db)
	userRepo := repository.NewUserRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	orders := NewOrderService(db, orderRepo, deliveryRepo, refundRepo, publisher, queue, locks)
	orders.now = clock.Now
	deliveries := NewDeliveryService(db, deliveryRepo, orders, locks, 3)
	deliveries.now = clock.Now
	payments := NewPaymentService(PaymentServiceDeps{
		DB:          db,
		PaymentRepo: paymentRepo,
		OrderRepo:   orderRepo,
		UserRepo:    userRepo,
		RefundRepo:  refundRepo,
		InboundRepo: inboundRepo,
		Orders:      orders,
		Gateway:     payGateway,
		Queue:       queue,
		Locks:       locks,
	}, config.PaymentConfig{ExpireMinutes: 30})
	payments.now = clock.Now
	notifications := NewNotificationService(db, notificationRepo, queue, config.NotificationConfig{
		MaxRetries:         3,
		BackoffBaseSeconds: 10,
		BackoffMaxSeconds:  3600,
	}, map[string]ChannelSender{
		constants.NotificationChannelWhatsApp: NewWhatsAppSender(messenger),
	})
	notifications.now = clock.Now
	orchestrator := NewOrchestrator(OrchestratorDeps{
		DB:            db,
		UserRepo:      userRepo,
		InboundRepo:   inboundRepo,
		Sessions:      sessions,
		Assistant:     assistant,
		Messenger:     messenger,
		Notifications: notifications,
		Orders:        orders,
		Payments:      payments,
		Deliveries:    deliveries,
		Pricing:       pricing,
		Locks:         locks,
		AverageSpeed:  30,
	})
	orchestrator.now = clock.Now

	return &testEnv{
		db:            db,
		clock:         clock,
		queue:         queue,
		publisher:     publisher,
		payGateway:    payGateway,
		messenger:     messenger,
		assistant:     assistant,
		store:         store,
		sessions:      sessions,
		pricing:       pricing,
		orders:        orders,
		deliveries:    deliveries,
		payments:      payments,
		notifications: notifications,
		orchestrator:  orchestrator,
	}
}

func (e *testEnv) createUser(t *testing.T, phone string) *models.User {
	t.Helper()
	user, err := repository.NewUserRepository(e.db).EnsureByPhone(phone, "Maria", constants.UserRoleCustomer)
	if err != nil {
		t.Fatalf("ensure user failed: %v", err)
	}
	return user
}

// quotedOrder 创建一笔 10km 报价完成的订单
func (e *testEnv) quotedOrder(t *testing.T, user *models.User) *models.Order {
	t.Helper()
	ctx := context.Background()
	order, err := e.orders.Create(ctx, CreateOrderInput{ConsumerID: user.ID, Source: constants.OrderSourceWhatsApp})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	price, err := e.pricing.Quote(10, e.clock.Now())
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	result, err := e.orders.Apply(ctx, order.ID, constants.OrderEventQuote, TransitionOptions{Quote: &QuoteDetails{
		PickupAddress:   "Av. Paulista, 1000",
		DeliveryAddress: "Rua Augusta, 500",
		ItemDescription: "documentos",
		DurationMin:     20,
		Price:           price,
	}})
	if err != nil {
		t.Fatalf("apply quote failed: %v", err)
	}
	return result.Order
}

// paidOrder 创建一笔已支付的订单
func (e *testEnv) paidOrder(t *testing.T, user *models.User) *models.Order {
	t.Helper()
	ctx := context.Background()
	order := e.quotedOrder(t, user)
	payment, err := e.payments.EnsurePayment(ctx, order.ID)
	if err != nil {
		t.Fatalf("ensure payment failed: %v", err)
	}
	if err := e.payments.HandleWebhook(ctx, constants.InboundSourcePagSeguro, gateway.PaymentWebhook{
		TransactionID: payment.GatewayTransactionID,
		Status:        gateway.PaymentStatusCompleted,
		RawStatus:     "PAID",
	}); err != nil {
		t.Fatalf("payment webhook failed: %v", err)
	}
	paid, err := e.orders.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order failed: %v", err)
	}
	if paid.Status != constants.OrderStatusPaid {
		t.Fatalf("expected paid order, got %s", paid.Status)
	}
	return paid
}

func (e *testEnv) countRows(t *testing.T, model interface{}) int64 {
	t.Helper()
	var count int64
	if err := e.db.Model(model).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	return count
}

// drainNotifications 依次执行所有待发送通知
func (e *testEnv) drainNotifications(t *testing.T) {
	t.Helper()
	if _, err := e.notifications.RescanDue(context.Background()); err != nil {
		t.Fatalf("rescan notifications failed: %v", err)
	}
}

var errSendFailed = errors.New("send failed")
