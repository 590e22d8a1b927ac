package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/entrega-next/internal/constants"
	"github.com/entrega-next/internal/gateway"
	"github.com/entrega-next/internal/http/response"
	"github.com/entrega-next/internal/models"
	"github.com/entrega-next/internal/service"

	"github.com/gin-gonic/gin"
)

type stubOrders struct {
	order       *models.Order
	err         error
	assignedTo  uint
	cancelWhy   string
	refundLater bool
}

func (s *stubOrders) Get(_ context.Context, orderID uint) (*models.Order, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.order, nil
}

func (s *stubOrders) AssignDriver(_ context.Context, orderID, driverID uint) (*service.TransitionResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	if driverID == 0 {
		return nil, service.ErrDriverRequired
	}
	s.assignedTo = driverID
	return &service.TransitionResult{
		Order:    s.order,
		Delivery: &models.Delivery{OrderID: orderID, DriverID: driverID},
	}, nil
}

func (s *stubOrders) Cancel(_ context.Context, orderID uint, reason string) (*service.TransitionResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.cancelWhy = reason
	result := &service.TransitionResult{Order: s.order}
	if s.refundLater {
		result.RefundIntent = &models.RefundIntent{OrderID: orderID}
	}
	return result, nil
}

type stubDeliveries struct {
	err       error
	event     string
	input     service.DeliveryEventInput
	lat, lng  float64
	active    *models.Delivery
	activeErr error
}

func (s *stubDeliveries) ApplyEvent(_ context.Context, deliveryID uint, event string, input service.DeliveryEventInput) (*service.DeliveryEventResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.event = event
	s.input = input
	return &service.DeliveryEventResult{Delivery: &models.Delivery{}}, nil
}

func (s *stubDeliveries) RecordPosition(_ context.Context, deliveryID uint, lat, lng float64, at time.Time) (*models.Delivery, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.lat, s.lng = lat, lng
	return &models.Delivery{}, nil
}

func (s *stubDeliveries) Rate(_ context.Context, deliveryID uint, driverRating, customerRating *int) (*models.Delivery, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.Delivery{}, nil
}

func (s *stubDeliveries) ActiveDeliveryFor(_ context.Context, orderID uint) (*models.Delivery, error) {
	return s.active, s.activeErr
}

type stubPayments struct {
	payment      *models.Payment
	getErr       error
	refundErr    error
	refundAmount int64
}

func (s *stubPayments) GetByOrder(_ context.Context, orderID uint) (*models.Payment, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.payment, nil
}

func (s *stubPayments) Refund(_ context.Context, paymentID uint, amountCents int64, reason string) (*models.Payment, error) {
	if s.refundErr != nil {
		return nil, s.refundErr
	}
	s.refundAmount = amountCents
	return s.payment, nil
}

func newTestRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/orders/:id", h.GetOrder)
	r.POST("/orders/:id/assign", h.AssignDriver)
	r.POST("/orders/:id/cancel", h.CancelOrder)
	r.POST("/orders/:id/refund", h.RefundPayment)
	r.POST("/deliveries/:id/events", h.ApplyDeliveryEvent)
	r.POST("/deliveries/:id/position", h.RecordPosition)
	r.POST("/deliveries/:id/rating", h.RateDelivery)
	return r
}

func perform(t *testing.T, r *gin.Engine, method, path, body string) response.Response {
	t.Helper()
	w := httptest.NewRecorder()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("http status want 200 got %d", w.Code)
	}
	var resp response.Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response failed: %v", err)
	}
	return resp
}

func TestAssignDriver(t *testing.T) {
	orders := &stubOrders{order: &models.Order{ID: 7, Status: constants.OrderStatusAssigned}}
	r := newTestRouter(NewHandler(orders, &stubDeliveries{}, &stubPayments{}))

	resp := perform(t, r, http.MethodPost, "/orders/7/assign", `{"driver_id":42}`)
	if resp.StatusCode != response.CodeOK {
		t.Fatalf("status_code want 0 got %d (%s)", resp.StatusCode, resp.Msg)
	}
	if orders.assignedTo != 42 {
		t.Fatalf("driver want 42 got %d", orders.assignedTo)
	}

	resp = perform(t, r, http.MethodPost, "/orders/7/assign", `{}`)
	if resp.StatusCode != response.CodeBadRequest {
		t.Fatalf("missing driver want 400 got %d", resp.StatusCode)
	}

	resp = perform(t, r, http.MethodPost, "/orders/abc/assign", `{"driver_id":42}`)
	if resp.StatusCode != response.CodeBadRequest {
		t.Fatalf("bad id want 400 got %d", resp.StatusCode)
	}
}

func TestServiceErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", service.ErrOrderNotFound, response.CodeNotFound},
		{"already assigned", service.ErrAlreadyAssigned, response.CodeConflict},
		{"invalid transition", service.ErrInvalidTransition, response.CodeConflict},
		{"conflict", service.ErrTransitionConflict, response.CodeConflict},
		{"provider rejected", fmt.Errorf("%w: %w: status 422", gateway.ErrProviderError, gateway.ErrProviderRejected), response.CodeBadRequest},
		{"provider error", fmt.Errorf("%w: status 502", gateway.ErrProviderError), response.CodeUnavailable},
		{"provider timeout", gateway.ErrProviderTimeout, response.CodeUnavailable},
		{"unexpected", context.DeadlineExceeded, response.CodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			orders := &stubOrders{err: tc.err}
			r := newTestRouter(NewHandler(orders, &stubDeliveries{}, &stubPayments{}))
			resp := perform(t, r, http.MethodPost, "/orders/1/cancel", `{"reason":"x"}`)
			if resp.StatusCode != tc.want {
				t.Fatalf("status_code want %d got %d", tc.want, resp.StatusCode)
			}
		})
	}
}

func TestCancelOrderReportsRefundIntent(t *testing.T) {
	orders := &stubOrders{order: &models.Order{ID: 3, Status: constants.OrderStatusCancelled}, refundLater: true}
	r := newTestRouter(NewHandler(orders, &stubDeliveries{}, &stubPayments{}))

	resp := perform(t, r, http.MethodPost, "/orders/3/cancel", `{"reason":"  cliente desistiu "}`)
	if resp.StatusCode != response.CodeOK {
		t.Fatalf("status_code want 0 got %d", resp.StatusCode)
	}
	if orders.cancelWhy != "cliente desistiu" {
		t.Fatalf("reason should be trimmed, got %q", orders.cancelWhy)
	}
	data, ok := resp.Data.(map[string]interface{})
	if !ok || data["refund_intent"] != true {
		t.Fatalf("refund_intent flag missing: %#v", resp.Data)
	}
}

func TestApplyDeliveryEvent(t *testing.T) {
	deliveries := &stubDeliveries{}
	r := newTestRouter(NewHandler(&stubOrders{}, deliveries, &stubPayments{}))

	body := `{"event":" DELIVER ","proof":{"recipient_name":" Ana ","photo_url":"https://cdn/p.jpg"}}`
	resp := perform(t, r, http.MethodPost, "/deliveries/9/events", body)
	if resp.StatusCode != response.CodeOK {
		t.Fatalf("status_code want 0 got %d (%s)", resp.StatusCode, resp.Msg)
	}
	if deliveries.event != constants.DeliveryEventDeliver {
		t.Fatalf("event want deliver got %q", deliveries.event)
	}
	if deliveries.input.Proof == nil || deliveries.input.Proof.RecipientName != "Ana" {
		t.Fatalf("proof not forwarded: %#v", deliveries.input.Proof)
	}

	resp = perform(t, r, http.MethodPost, "/deliveries/9/events", `{"reason":"x"}`)
	if resp.StatusCode != response.CodeBadRequest {
		t.Fatalf("missing event want 400 got %d", resp.StatusCode)
	}

	deliveries.err = service.ErrProofRequired
	resp = perform(t, r, http.MethodPost, "/deliveries/9/events", `{"event":"deliver"}`)
	if resp.StatusCode != response.CodeBadRequest {
		t.Fatalf("proof required want 400 got %d", resp.StatusCode)
	}
}

func TestRecordPositionRequiresCoordinates(t *testing.T) {
	deliveries := &stubDeliveries{}
	r := newTestRouter(NewHandler(&stubOrders{}, deliveries, &stubPayments{}))

	resp := perform(t, r, http.MethodPost, "/deliveries/4/position", `{"lat":-23.55}`)
	if resp.StatusCode != response.CodeBadRequest {
		t.Fatalf("missing lng want 400 got %d", resp.StatusCode)
	}

	resp = perform(t, r, http.MethodPost, "/deliveries/4/position", `{"lat":-23.55,"lng":-46.63}`)
	if resp.StatusCode != response.CodeOK {
		t.Fatalf("status_code want 0 got %d", resp.StatusCode)
	}
	if deliveries.lat != -23.55 || deliveries.lng != -46.63 {
		t.Fatalf("position not forwarded: %v,%v", deliveries.lat, deliveries.lng)
	}
}

func TestRateDeliveryNotAllowed(t *testing.T) {
	deliveries := &stubDeliveries{err: service.ErrRatingNotAllowed}
	r := newTestRouter(NewHandler(&stubOrders{}, deliveries, &stubPayments{}))

	resp := perform(t, r, http.MethodPost, "/deliveries/4/rating", `{"driver_rating":5}`)
	if resp.StatusCode != response.CodeConflict {
		t.Fatalf("rating before delivery want 409 got %d", resp.StatusCode)
	}
}

func TestGetOrderIncludesPaymentAndDelivery(t *testing.T) {
	orders := &stubOrders{order: &models.Order{ID: 5, Status: constants.OrderStatusInTransit}}
	deliveries := &stubDeliveries{active: &models.Delivery{OrderID: 5, DriverID: 8}}
	payments := &stubPayments{payment: &models.Payment{OrderID: 5, AmountCents: 2590}}
	r := newTestRouter(NewHandler(orders, deliveries, payments))

	resp := perform(t, r, http.MethodGet, "/orders/5", "")
	if resp.StatusCode != response.CodeOK {
		t.Fatalf("status_code want 0 got %d", resp.StatusCode)
	}
	data, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected data: %#v", resp.Data)
	}
	if data["delivery"] == nil || data["payment"] == nil {
		t.Fatalf("delivery and payment should be present: %#v", data)
	}

	payments.getErr = service.ErrPaymentNotFound
	deliveries.active = nil
	resp = perform(t, r, http.MethodGet, "/orders/5", "")
	if resp.StatusCode != response.CodeOK {
		t.Fatalf("order without payment want 0 got %d", resp.StatusCode)
	}
	data, _ = resp.Data.(map[string]interface{})
	if _, exists := data["payment"]; exists {
		t.Fatalf("payment should be omitted: %#v", data)
	}
}

func TestRefundPayment(t *testing.T) {
	payments := &stubPayments{payment: &models.Payment{ID: 11, OrderID: 2, AmountCents: 3000, RefundAmountCents: 1000}}
	r := newTestRouter(NewHandler(&stubOrders{}, &stubDeliveries{}, payments))

	resp := perform(t, r, http.MethodPost, "/orders/2/refund", `{"reason":"item danificado"}`)
	if resp.StatusCode != response.CodeOK {
		t.Fatalf("status_code want 0 got %d", resp.StatusCode)
	}
	if payments.refundAmount != 2000 {
		t.Fatalf("default refund should cover the remainder, got %d", payments.refundAmount)
	}

	payments.refundErr = gateway.ErrProviderTimeout
	resp = perform(t, r, http.MethodPost, "/orders/2/refund", `{"amount_cents":500}`)
	if resp.StatusCode != response.CodeUnavailable {
		t.Fatalf("gateway timeout want 503 got %d", resp.StatusCode)
	}

	payments.refundErr = service.ErrPaymentNotAllowed
	resp = perform(t, r, http.MethodPost, "/orders/2/refund", `{"amount_cents":500}`)
	if resp.StatusCode != response.CodeConflict {
		t.Fatalf("not completed want 409 got %d", resp.StatusCode)
	}
}
