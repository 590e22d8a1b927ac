package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/entrega-next/internal/constants"
	"github.com/entrega-next/internal/gateway"
	"github.com/entrega-next/internal/models"
	"github.com/entrega-next/internal/repository"
)

func TestEnsurePaymentCreatesOnceAndReusesPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.quotedOrder(t, env.createUser(t, "5511977770001"))

	payment, err := env.payments.EnsurePayment(ctx, order.ID)
	if err != nil {
		t.Fatalf("ensure payment failed: %v", err)
	}
	if payment.AmountCents != 2750 || payment.Currency != "BRL" || payment.Method != constants.PaymentMethodPix {
		t.Fatalf("unexpected payment: %+v", payment)
	}
	if payment.Status != constants.PaymentStatusProcessing || payment.GatewayTransactionID != "ORDE_"+order.OrderNo || payment.PixCode == "" {
		t.Fatalf("expected processing payment with gateway data, got %+v", payment)
	}
	expectedExpiry := env.clock.Now().Add(30 * time.Minute)
	if payment.ExpiresAt == nil || !payment.ExpiresAt.Equal(expectedExpiry) {
		t.Fatalf("expected expiry %v, got %v", expectedExpiry, payment.ExpiresAt)
	}
	current, err := env.orders.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order failed: %v", err)
	}
	if current.Status != constants.OrderStatusPendingPayment {
		t.Fatalf("expected pending payment order, got %s", current.Status)
	}

	again, err := env.payments.EnsurePayment(ctx, order.ID)
	if err != nil {
		t.Fatalf("second ensure failed: %v", err)
	}
	if again.ID != payment.ID {
		t.Fatalf("expected payment reuse, got %d and %d", payment.ID, again.ID)
	}
	if len(env.payGateway.createCalls) != 1 {
		t.Fatalf("expected one gateway call, got %d", len(env.payGateway.createCalls))
	}
	if len(env.queue.expiries) != 1 || env.queue.expiries[0] != payment.ID {
		t.Fatalf("expected one expiry task, got %v", env.queue.expiries)
	}
	if count := env.countRows(t, &models.Payment{}); count != 1 {
		t.Fatalf("expected one payment row, got %d", count)
	}
	req := env.payGateway.createCalls[0]
	if req.AmountCents != 2750 || req.ReferenceID != order.OrderNo || req.Customer.Phone != "5511977770001" {
		t.Fatalf("unexpected gateway request: %+v", req)
	}
}

func TestEnsurePaymentRetriesGatewayWithSameKey(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.quotedOrder(t, env.createUser(t, "5511977770002"))

	env.payGateway.createErr = gateway.ErrProviderTimeout
	if _, err := env.payments.EnsurePayment(ctx, order.ID); !errors.Is(err, gateway.ErrProviderTimeout) {
		t.Fatalf("expected provider timeout, got %v", err)
	}
	pending, err := env.payments.GetByOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("get payment failed: %v", err)
	}
	if pending.Status != constants.PaymentStatusPending || pending.GatewayTransactionID != "" {
		t.Fatalf("expected pending payment without charge, got %+v", pending)
	}

	env.payGateway.createErr = nil
	payment, err := env.payments.EnsurePayment(ctx, order.ID)
	if err != nil {
		t.Fatalf("retry ensure failed: %v", err)
	}
	if payment.ID != pending.ID || payment.Status != constants.PaymentStatusProcessing {
		t.Fatalf("unexpected payment after retry: %+v", payment)
	}
	calls := env.payGateway.createCalls
	if len(calls) != 2 || calls[0].IdempotencyKey != calls[1].IdempotencyKey || calls[0].IdempotencyKey != pending.IdempotencyKey {
		t.Fatalf("expected two calls with the same idempotency key, got %+v", calls)
	}
}

func TestEnsurePaymentRejectsOrdersOutsideCheckout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "5511977770003")
	draft, err := env.orders.Create(ctx, CreateOrderInput{ConsumerID: user.ID})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if _, err := env.payments.EnsurePayment(ctx, draft.ID); !errors.Is(err, ErrPaymentNotAllowed) {
		t.Fatalf("expected not allowed on draft, got %v", err)
	}
	paid := env.paidOrder(t, env.createUser(t, "5511977770004"))
	if _, err := env.payments.EnsurePayment(ctx, paid.ID); !errors.Is(err, ErrPaymentNotAllowed) {
		t.Fatalf("expected not allowed on paid order, got %v", err)
	}
	if _, err := env.payments.EnsurePayment(ctx, 9999); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected order not found, got %v", err)
	}
}

func TestPaymentWebhookDuplicateAppliesOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.quotedOrder(t, env.createUser(t, "5511977770005"))
	payment, err := env.payments.EnsurePayment(ctx, order.ID)
	if err != nil {
		t.Fatalf("ensure payment failed: %v", err)
	}
	published := len(env.publisher.events)

	hook := gateway.PaymentWebhook{TransactionID: payment.GatewayTransactionID, Status: gateway.PaymentStatusCompleted, RawStatus: "PAID"}
	for i := 0; i < 2; i++ {
		if err := env.payments.HandleWebhook(ctx, constants.InboundSourcePagSeguro, hook); err != nil {
			t.Fatalf("webhook %d failed: %v", i, err)
		}
	}

	current, err := env.orders.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order failed: %v", err)
	}
	if current.Status != constants.OrderStatusPaid {
		t.Fatalf("expected paid order, got %s", current.Status)
	}
	if len(env.publisher.events) != published+1 {
		t.Fatalf("expected exactly one transition event, got %d", len(env.publisher.events)-published)
	}
	stored, err := env.payments.GetByOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("get payment failed: %v", err)
	}
	if stored.Status != constants.PaymentStatusCompleted || stored.WebhookAttempts != 1 || stored.CompletedAt == nil {
		t.Fatalf("unexpected completed payment: %+v", stored)
	}
	if stored.PlatformFeeCents != 250 || stored.NetAmountCents != 2750 {
		t.Fatalf("unexpected fees: platform=%d net=%d", stored.PlatformFeeCents, stored.NetAmountCents)
	}
	if count := env.countRows(t, &models.InboundEvent{}); count != 1 {
		t.Fatalf("expected one inbound event, got %d", count)
	}
}

func TestPaymentWebhookMatchesByReference(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.quotedOrder(t, env.createUser(t, "5511977770006"))
	if _, err := env.payments.EnsurePayment(ctx, order.ID); err != nil {
		t.Fatalf("ensure payment failed: %v", err)
	}
	err := env.payments.HandleWebhook(ctx, constants.InboundSourcePagSeguro, gateway.PaymentWebhook{
		TransactionID: "CHAR_unknown",
		ReferenceID:   order.OrderNo,
		Status:        gateway.PaymentStatusFailed,
		RawStatus:     "DECLINED",
	})
	if err != nil {
		t.Fatalf("webhook failed: %v", err)
	}
	current, err := env.orders.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order failed: %v", err)
	}
	if current.Status != constants.OrderStatusFailed {
		t.Fatalf("expected failed order, got %s", current.Status)
	}
	stored, err := env.payments.GetByOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("get payment failed: %v", err)
	}
	if stored.Status != constants.PaymentStatusFailed || stored.FailureReason != "DECLINED" {
		t.Fatalf("unexpected failed payment: %+v", stored)
	}
	if count := env.countRows(t, &models.RefundIntent{}); count != 0 {
		t.Fatalf("unpaid failure must not write refund intent, got %d", count)
	}
}

func TestPaymentWebhookOrphanIsRecorded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	hook := gateway.PaymentWebhook{TransactionID: "ORDE_missing", Status: gateway.PaymentStatusCompleted, RawStatus: "PAID"}

	if err := env.payments.HandleWebhook(ctx, constants.InboundSourcePagSeguro, hook); !errors.Is(err, ErrOrphanWebhook) {
		t.Fatalf("expected orphan webhook, got %v", err)
	}
	var event models.InboundEvent
	if err := env.db.Where("source = ? AND external_id = ?", constants.InboundSourcePagSeguro, hook.DedupKey()).First(&event).Error; err != nil {
		t.Fatalf("orphan event not recorded: %v", err)
	}
	if !event.Orphan {
		t.Fatalf("expected orphan flag")
	}
	if err := env.payments.HandleWebhook(ctx, constants.InboundSourcePagSeguro, hook); !errors.Is(err, ErrOrphanWebhook) {
		t.Fatalf("replayed orphan should still report orphan, got %v", err)
	}
	if count := env.countRows(t, &models.InboundEvent{}); count != 1 {
		t.Fatalf("expected one inbound event, got %d", count)
	}
}

func TestPaymentExpiryCancelsOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.quotedOrder(t, env.createUser(t, "5511977770007"))
	payment, err := env.payments.EnsurePayment(ctx, order.ID)
	if err != nil {
		t.Fatalf("ensure payment failed: %v", err)
	}

	if err := env.payments.HandleExpiry(ctx, payment.ID); err != nil {
		t.Fatalf("early expiry failed: %v", err)
	}
	if len(env.queue.expiries) != 2 {
		t.Fatalf("early expiry should reschedule, got %v", env.queue.expiries)
	}
	stored, err := env.payments.GetByOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("get payment failed: %v", err)
	}
	if stored.Status != constants.PaymentStatusProcessing {
		t.Fatalf("payment must stay processing before expiry, got %s", stored.Status)
	}

	env.clock.Advance(31 * time.Minute)
	if err := env.payments.HandleExpiry(ctx, payment.ID); err != nil {
		t.Fatalf("expiry failed: %v", err)
	}
	stored, err = env.payments.GetByOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("get payment failed: %v", err)
	}
	if stored.Status != constants.PaymentStatusCancelled || stored.FailureReason != "EXPIRED" {
		t.Fatalf("unexpected expired payment: %+v", stored)
	}
	current, err := env.orders.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order failed: %v", err)
	}
	if current.Status != constants.OrderStatusCancelled {
		t.Fatalf("expected cancelled order, got %s", current.Status)
	}

	if err := env.payments.HandleExpiry(ctx, payment.ID); err != nil {
		t.Fatalf("repeated expiry failed: %v", err)
	}
}

func TestPaymentExpiryConfirmsWhenGatewayCaptured(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.quotedOrder(t, env.createUser(t, "5511977770008"))
	if _, err := env.payments.EnsurePayment(ctx, order.ID); err != nil {
		t.Fatalf("ensure payment failed: %v", err)
	}
	env.payGateway.queryResult = &gateway.PaymentStatusResult{Status: gateway.PaymentStatusCompleted, RawStatus: "PAID"}
	env.clock.Advance(45 * time.Minute)

	handled, err := env.payments.ExpireOverdue(ctx, 10)
	if err != nil {
		t.Fatalf("expire overdue failed: %v", err)
	}
	if handled != 1 {
		t.Fatalf("expected one expired payment, got %d", handled)
	}
	current, err := env.orders.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order failed: %v", err)
	}
	if current.Status != constants.OrderStatusPaid {
		t.Fatalf("expected paid order, got %s", current.Status)
	}
	handled, err = env.payments.ExpireOverdue(ctx, 10)
	if err != nil || handled != 0 {
		t.Fatalf("expected nothing left to expire, got %d %v", handled, err)
	}
}

func TestCompletedPaymentOnCancelledOrderIsRefunded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.quotedOrder(t, env.createUser(t, "5511977770009"))
	payment, err := env.payments.EnsurePayment(ctx, order.ID)
	if err != nil {
		t.Fatalf("ensure payment failed: %v", err)
	}
	if _, err := env.orders.Cancel(ctx, order.ID, "cliente desistiu"); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	err = env.payments.HandleWebhook(ctx, constants.InboundSourcePagSeguro, gateway.PaymentWebhook{
		TransactionID: payment.GatewayTransactionID,
		Status:        gateway.PaymentStatusCompleted,
		RawStatus:     "PAID",
	})
	if err != nil {
		t.Fatalf("late webhook failed: %v", err)
	}
	current, err := env.orders.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order failed: %v", err)
	}
	if current.Status != constants.OrderStatusCancelled {
		t.Fatalf("late payment must not revive the order, got %s", current.Status)
	}
	if len(env.queue.refundIntents) != 1 {
		t.Fatalf("expected refund intent enqueued, got %v", env.queue.refundIntents)
	}

	intentID := env.queue.refundIntents[0]
	if err := env.payments.ProcessRefundIntent(ctx, intentID); err != nil {
		t.Fatalf("process refund intent failed: %v", err)
	}
	if len(env.payGateway.refunds) != 1 || env.payGateway.refunds[0] != 2750 {
		t.Fatalf("expected full refund, got %v", env.payGateway.refunds)
	}
	stored, err := env.payments.GetByOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("get payment failed: %v", err)
	}
	if stored.Status != constants.PaymentStatusRefunded || stored.RefundAmountCents != 2750 {
		t.Fatalf("unexpected refunded payment: %+v", stored)
	}
	intent, err := repository.NewRefundIntentRepository(env.db).GetByID(intentID)
	if err != nil || intent == nil {
		t.Fatalf("get intent failed: %v", err)
	}
	if intent.Status != constants.RefundIntentStatusDone || intent.ProcessedAt == nil {
		t.Fatalf("unexpected intent: %+v", intent)
	}

	if err := env.payments.ProcessRefundIntent(ctx, intentID); err != nil {
		t.Fatalf("reprocessing done intent failed: %v", err)
	}
	if len(env.payGateway.refunds) != 1 {
		t.Fatalf("done intent must not refund again")
	}
}

func TestRefundIntentWithoutCaptureIsSkipped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.paidOrder(t, env.createUser(t, "5511977770010"))
	result, err := env.orders.Cancel(ctx, order.ID, "sem entregador")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if err := env.db.Model(&models.Payment{}).Where("order_id = ?", order.ID).
		Update("status", constants.PaymentStatusFailed).Error; err != nil {
		t.Fatalf("force payment status failed: %v", err)
	}
	if err := env.payments.ProcessRefundIntent(ctx, result.RefundIntent.ID); err != nil {
		t.Fatalf("process refund intent failed: %v", err)
	}
	intent, err := repository.NewRefundIntentRepository(env.db).GetByID(result.RefundIntent.ID)
	if err != nil || intent == nil {
		t.Fatalf("get intent failed: %v", err)
	}
	if intent.Status != constants.RefundIntentStatusSkipped {
		t.Fatalf("expected skipped intent, got %s", intent.Status)
	}
	if len(env.payGateway.refunds) != 0 {
		t.Fatalf("skipped intent must not call gateway")
	}
}

func TestRefundIntentRescanRetriesGatewayFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.paidOrder(t, env.createUser(t, "5511977770011"))
	result, err := env.orders.Cancel(ctx, order.ID, "loja fechada")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	env.payGateway.refundErr = gateway.ErrProviderError
	if err := env.payments.ProcessRefundIntent(ctx, result.RefundIntent.ID); !errors.Is(err, gateway.ErrProviderError) {
		t.Fatalf("expected provider error, got %v", err)
	}
	intent, err := repository.NewRefundIntentRepository(env.db).GetByID(result.RefundIntent.ID)
	if err != nil || intent == nil {
		t.Fatalf("get intent failed: %v", err)
	}
	if intent.Status != constants.RefundIntentStatusPending || intent.Attempts != 1 || intent.LastError == "" {
		t.Fatalf("expected pending intent with one attempt, got %+v", intent)
	}

	env.payGateway.refundErr = nil
	processed, err := env.payments.RescanRefundIntents(ctx, 10)
	if err != nil || processed != 1 {
		t.Fatalf("expected one processed intent, got %d %v", processed, err)
	}
	stored, err := env.payments.GetByOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("get payment failed: %v", err)
	}
	if stored.Status != constants.PaymentStatusRefunded {
		t.Fatalf("expected refunded payment, got %s", stored.Status)
	}
}

func TestPaymentRefundValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.paidOrder(t, env.createUser(t, "5511977770012"))
	payment, err := env.payments.GetByOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("get payment failed: %v", err)
	}

	for _, amount := range []int64{0, -1, 2751} {
		if _, err := env.payments.Refund(ctx, payment.ID, amount, "ajuste"); !errors.Is(err, ErrRefundAmountInvalid) {
			t.Fatalf("amount %d: expected invalid amount, got %v", amount, err)
		}
	}
	partial, err := env.payments.Refund(ctx, payment.ID, 1000, "ajuste")
	if err != nil {
		t.Fatalf("partial refund failed: %v", err)
	}
	if partial.Status != constants.PaymentStatusPartiallyRefunded || partial.RefundAmountCents != 1000 || partial.RefundTransactionID == "" {
		t.Fatalf("unexpected partial refund: %+v", partial)
	}
	current, err := env.orders.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order failed: %v", err)
	}
	if current.Status != constants.OrderStatusPaid {
		t.Fatalf("partial refund must not move order, got %s", current.Status)
	}
	if _, err := env.payments.Refund(ctx, payment.ID, 500, "again"); !errors.Is(err, ErrPaymentNotAllowed) {
		t.Fatalf("expected not allowed after refund, got %v", err)
	}
}

func TestPaymentFullRefundMovesOrderToRefunded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.paidOrder(t, env.createUser(t, "5511977770013"))
	payment, err := env.payments.GetByOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("get payment failed: %v", err)
	}
	refunded, err := env.payments.Refund(ctx, payment.ID, payment.AmountCents, "pedido duplicado")
	if err != nil {
		t.Fatalf("refund failed: %v", err)
	}
	if refunded.Status != constants.PaymentStatusRefunded {
		t.Fatalf("expected refunded payment, got %s", refunded.Status)
	}
	current, err := env.orders.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order failed: %v", err)
	}
	if current.Status != constants.OrderStatusRefunded || current.RefundedAt == nil {
		t.Fatalf("expected refunded order, got %s", current.Status)
	}
	if count := env.countRows(t, &models.RefundIntent{}); count != 1 {
		t.Fatalf("expected refund intent recorded with the transition, got %d", count)
	}
}

func TestCanTransitionPayment(t *testing.T) {
	cases := []struct {
		from, to string
		ok       bool
	}{
		{constants.PaymentStatusPending, constants.PaymentStatusProcessing, true},
		{constants.PaymentStatusPending, constants.PaymentStatusCompleted, true},
		{constants.PaymentStatusProcessing, constants.PaymentStatusCompleted, true},
		{constants.PaymentStatusCompleted, constants.PaymentStatusPartiallyRefunded, true},
		{constants.PaymentStatusProcessing, constants.PaymentStatusPending, false},
		{constants.PaymentStatusCompleted, constants.PaymentStatusCompleted, false},
		{constants.PaymentStatusCompleted, constants.PaymentStatusFailed, false},
		{constants.PaymentStatusCancelled, constants.PaymentStatusCompleted, false},
		{constants.PaymentStatusRefunded, constants.PaymentStatusCompleted, false},
	}
	for _, tc := range cases {
		if got := CanTransitionPayment(tc.from, tc.to); got != tc.ok {
			t.Fatalf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.ok, got)
		}
	}
}
