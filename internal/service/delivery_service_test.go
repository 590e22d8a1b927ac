package service

import (
	"context"
	"errors"
	"testing"

	"github.com/entrega-next/internal/constants"
	"github.com/entrega-next/internal/models"
)

func assignedDelivery(t *testing.T, env *testEnv, phone string, driverID uint) (*models.Order, *models.Delivery) {
	t.Helper()
	order := env.paidOrder(t, env.createUser(t, phone))
	result, err := env.orders.AssignDriver(context.Background(), order.ID, driverID)
	if err != nil {
		t.Fatalf("assign driver failed: %v", err)
	}
	return result.Order, result.Delivery
}

func TestDeliveryLifecycleDrivesOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order, delivery := assignedDelivery(t, env, "5511988880001", 11)

	steps := []struct {
		event       string
		delivery    string
		orderStatus string
	}{
		{constants.DeliveryEventHeadToPickup, constants.DeliveryStatusHeadingToPickup, constants.OrderStatusPickupPending},
		{constants.DeliveryEventArrivePickup, constants.DeliveryStatusAtPickup, constants.OrderStatusPickupPending},
		{constants.DeliveryEventPickUp, constants.DeliveryStatusPickedUp, constants.OrderStatusPickedUp},
		{constants.DeliveryEventStartTransit, constants.DeliveryStatusInTransit, constants.OrderStatusInTransit},
		{constants.DeliveryEventArriveDelivery, constants.DeliveryStatusAtDelivery, constants.OrderStatusInTransit},
	}
	for _, step := range steps {
		result, err := env.deliveries.ApplyEvent(ctx, delivery.ID, step.event, DeliveryEventInput{})
		if err != nil {
			t.Fatalf("event %s failed: %v", step.event, err)
		}
		if result.Delivery.Status != step.delivery {
			t.Fatalf("event %s: expected delivery %s, got %s", step.event, step.delivery, result.Delivery.Status)
		}
		current, err := env.orders.Get(ctx, order.ID)
		if err != nil {
			t.Fatalf("get order failed: %v", err)
		}
		if current.Status != step.orderStatus {
			t.Fatalf("event %s: expected order %s, got %s", step.event, step.orderStatus, current.Status)
		}
	}

	if _, err := env.deliveries.ApplyEvent(ctx, delivery.ID, constants.DeliveryEventDeliver, DeliveryEventInput{}); !errors.Is(err, ErrProofRequired) {
		t.Fatalf("expected proof required, got %v", err)
	}
	current, err := env.orders.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order failed: %v", err)
	}
	if current.Status != constants.OrderStatusInTransit {
		t.Fatalf("order must stay in transit without proof, got %s", current.Status)
	}

	result, err := env.deliveries.ApplyEvent(ctx, delivery.ID, constants.DeliveryEventDeliver, DeliveryEventInput{
		Proof: &DeliveryProof{RecipientName: "João", PhotoURL: "https://cdn.example/proof.jpg"},
	})
	if err != nil {
		t.Fatalf("deliver failed: %v", err)
	}
	if result.Delivery.Status != constants.DeliveryStatusDelivered || result.Delivery.RecipientName != "João" || result.Delivery.DeliveredAt == nil {
		t.Fatalf("unexpected delivered record: %+v", result.Delivery)
	}
	if result.OrderResult == nil || result.OrderResult.Order.Status != constants.OrderStatusDelivered {
		t.Fatalf("expected order delivered, got %+v", result.OrderResult)
	}

	bad := 6
	if _, err := env.deliveries.Rate(ctx, delivery.ID, &bad, nil); !errors.Is(err, ErrRatingInvalid) {
		t.Fatalf("expected invalid rating, got %v", err)
	}
	good := 5
	rated, err := env.deliveries.Rate(ctx, delivery.ID, &good, nil)
	if err != nil {
		t.Fatalf("rate failed: %v", err)
	}
	if rated.DriverRating == nil || *rated.DriverRating != 5 {
		t.Fatalf("expected driver rating 5, got %v", rated.DriverRating)
	}
	if _, err := env.deliveries.ApplyEvent(ctx, delivery.ID, constants.DeliveryEventFail, DeliveryEventInput{}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("terminal delivery must reject events, got %v", err)
	}
}

func TestDeliveryRateRequiresDelivered(t *testing.T) {
	env := newTestEnv(t)
	_, delivery := assignedDelivery(t, env, "5511988880002", 12)
	rating := 4
	if _, err := env.deliveries.Rate(context.Background(), delivery.ID, nil, &rating); !errors.Is(err, ErrRatingNotAllowed) {
		t.Fatalf("expected rating not allowed, got %v", err)
	}
}

func TestDeliveryFailuresReassignUntilLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order, delivery := assignedDelivery(t, env, "5511988880003", 21)

	for attempt := 1; attempt <= 3; attempt++ {
		if delivery.Attempt != attempt {
			t.Fatalf("expected attempt %d, got %d", attempt, delivery.Attempt)
		}
		result, err := env.deliveries.ApplyEvent(ctx, delivery.ID, constants.DeliveryEventFail, DeliveryEventInput{Reason: "destinatário ausente"})
		if err != nil {
			t.Fatalf("fail attempt %d: %v", attempt, err)
		}
		if result.Delivery.Status != constants.DeliveryStatusFailed || result.Delivery.RetryCount != attempt {
			t.Fatalf("attempt %d: unexpected delivery %+v", attempt, result.Delivery)
		}
		current, err := env.orders.Get(ctx, order.ID)
		if err != nil {
			t.Fatalf("get order failed: %v", err)
		}
		if attempt < 3 {
			if current.Status != constants.OrderStatusPaid || current.DriverID != nil {
				t.Fatalf("attempt %d: expected order released to paid, got %s", attempt, current.Status)
			}
			reassigned, err := env.orders.AssignDriver(ctx, order.ID, uint(21+attempt))
			if err != nil {
				t.Fatalf("reassign %d failed: %v", attempt, err)
			}
			if reassigned.Delivery.RetryCount != attempt {
				t.Fatalf("retry count must carry over, got %d", reassigned.Delivery.RetryCount)
			}
			delivery = reassigned.Delivery
			continue
		}
		if current.Status != constants.OrderStatusFailed {
			t.Fatalf("expected order failed after limit, got %s", current.Status)
		}
		if result.OrderResult == nil || result.OrderResult.RefundIntent == nil {
			t.Fatalf("expected refund intent when paid order fails")
		}
	}
	if count := env.countRows(t, &models.Delivery{}); count != 3 {
		t.Fatalf("expected three delivery attempts, got %d", count)
	}
	if len(env.queue.refundIntents) != 1 {
		t.Fatalf("expected one enqueued refund intent, got %v", env.queue.refundIntents)
	}
}

func TestDeliveryCancelReleasesDriver(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order, delivery := assignedDelivery(t, env, "5511988880004", 31)

	result, err := env.deliveries.ApplyEvent(ctx, delivery.ID, constants.DeliveryEventCancel, DeliveryEventInput{Reason: "moto quebrou"})
	if err != nil {
		t.Fatalf("cancel delivery failed: %v", err)
	}
	if result.Delivery.Status != constants.DeliveryStatusCancelled || result.Delivery.RetryCount != 0 {
		t.Fatalf("unexpected cancelled delivery: %+v", result.Delivery)
	}
	current, err := env.orders.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order failed: %v", err)
	}
	if current.Status != constants.OrderStatusPaid {
		t.Fatalf("expected order back to paid, got %s", current.Status)
	}
}

func TestDeliveryRecordPositionKeepsStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, delivery := assignedDelivery(t, env, "5511988880005", 41)

	if _, err := env.deliveries.RecordPosition(ctx, delivery.ID, 91, 0, env.clock.Now()); !errors.Is(err, ErrInvalidPosition) {
		t.Fatalf("expected invalid position, got %v", err)
	}
	updated, err := env.deliveries.RecordPosition(ctx, delivery.ID, -23.561, -46.655, env.clock.Now())
	if err != nil {
		t.Fatalf("record position failed: %v", err)
	}
	if updated.Status != constants.DeliveryStatusAssigned {
		t.Fatalf("position must not change status, got %s", updated.Status)
	}
	if updated.CurrentLat == nil || *updated.CurrentLat != -23.561 || updated.CurrentLng == nil || *updated.CurrentLng != -46.655 {
		t.Fatalf("unexpected position: %v %v", updated.CurrentLat, updated.CurrentLng)
	}
}
