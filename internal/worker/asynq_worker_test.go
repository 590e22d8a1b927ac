package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/entrega-next/internal/queue"
	"github.com/entrega-next/internal/service"

	"github.com/hibiken/asynq"
)

type stubDispatcher struct {
	ids []uint
	err error
}

func (s *stubDispatcher) DispatchOne(_ context.Context, id uint) error {
	s.ids = append(s.ids, id)
	return s.err
}

type stubPaymentTasks struct {
	expired   []uint
	intents   []uint
	expireErr error
	refundErr error
}

func (s *stubPaymentTasks) HandleExpiry(_ context.Context, paymentID uint) error {
	s.expired = append(s.expired, paymentID)
	return s.expireErr
}

func (s *stubPaymentTasks) ProcessRefundIntent(_ context.Context, intentID uint) error {
	s.intents = append(s.intents, intentID)
	return s.refundErr
}

func TestHandleNotificationDispatch(t *testing.T) {
	dispatcher := &stubDispatcher{}
	consumer := &Consumer{notifications: dispatcher}
	task, err := queue.NewNotificationDispatchTask(queue.NotificationDispatchPayload{NotificationID: 7, RetryCount: 1})
	if err != nil {
		t.Fatalf("new task failed: %v", err)
	}
	if err := consumer.handleNotificationDispatch(context.Background(), task); err != nil {
		t.Fatalf("handle dispatch failed: %v", err)
	}
	if len(dispatcher.ids) != 1 || dispatcher.ids[0] != 7 {
		t.Fatalf("unexpected dispatched ids: %v", dispatcher.ids)
	}

	dispatcher.err = service.ErrNotificationNotFound
	if err := consumer.handleNotificationDispatch(context.Background(), task); err != nil {
		t.Fatalf("missing notification should be dropped, got %v", err)
	}

	storageErr := errors.New("database is locked")
	dispatcher.err = storageErr
	if err := consumer.handleNotificationDispatch(context.Background(), task); !errors.Is(err, storageErr) {
		t.Fatalf("storage error should be retried by asynq, got %v", err)
	}
}

func TestHandleNotificationDispatchInvalidPayload(t *testing.T) {
	dispatcher := &stubDispatcher{}
	consumer := &Consumer{notifications: dispatcher}
	if err := consumer.handleNotificationDispatch(context.Background(), asynq.NewTask(queue.TaskNotificationDispatch, []byte("{"))); err == nil {
		t.Fatalf("expected unmarshal error")
	}
	if err := consumer.handleNotificationDispatch(context.Background(), asynq.NewTask(queue.TaskNotificationDispatch, []byte(`{"notification_id":0}`))); err != nil {
		t.Fatalf("zero id should be skipped, got %v", err)
	}
	if len(dispatcher.ids) != 0 {
		t.Fatalf("nothing should be dispatched, got %v", dispatcher.ids)
	}
}

func TestHandlePaymentExpire(t *testing.T) {
	payments := &stubPaymentTasks{}
	consumer := &Consumer{payments: payments}
	task, err := queue.NewPaymentExpireTask(queue.PaymentExpirePayload{PaymentID: 3})
	if err != nil {
		t.Fatalf("new task failed: %v", err)
	}
	cases := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"ok", nil, false},
		{"not_found", service.ErrPaymentNotFound, false},
		{"conflict", service.ErrTransitionConflict, false},
		{"gateway", errors.New("gateway timeout"), true},
	}
	for _, tc := range cases {
		payments.expireErr = tc.err
		err := consumer.handlePaymentExpire(context.Background(), task)
		if (err != nil) != tc.wantErr {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
	}
	if len(payments.expired) != len(cases) {
		t.Fatalf("expected %d expiry calls, got %d", len(cases), len(payments.expired))
	}
}

func TestHandleRefundIntent(t *testing.T) {
	payments := &stubPaymentTasks{}
	consumer := &Consumer{payments: payments}
	task, err := queue.NewRefundIntentTask(queue.RefundIntentPayload{IntentID: 9})
	if err != nil {
		t.Fatalf("new task failed: %v", err)
	}
	if err := consumer.handleRefundIntent(context.Background(), task); err != nil {
		t.Fatalf("handle refund intent failed: %v", err)
	}
	payments.refundErr = errors.New("provider error")
	if err := consumer.handleRefundIntent(context.Background(), task); err == nil {
		t.Fatalf("refund failure should be retried")
	}
	if len(payments.intents) != 2 || payments.intents[0] != 9 {
		t.Fatalf("unexpected intents: %v", payments.intents)
	}
}

func TestConsumerWithoutServicesSkips(t *testing.T) {
	consumer := &Consumer{}
	task, _ := queue.NewRefundIntentTask(queue.RefundIntentPayload{IntentID: 1})
	if err := consumer.handleRefundIntent(context.Background(), task); err != nil {
		t.Fatalf("expected skip, got %v", err)
	}
	var nilConsumer *Consumer
	if err := nilConsumer.handlePaymentExpire(context.Background(), task); err != nil {
		t.Fatalf("nil consumer should skip, got %v", err)
	}
	mux := asynq.NewServeMux()
	consumer.Register(mux)
	nilConsumer.Register(mux)
}
