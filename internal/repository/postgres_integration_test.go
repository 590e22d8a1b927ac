//go:build integration
// +build integration

package repository

import (
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/entrega-next/internal/constants"
	"github.com/entrega-next/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// setupPostgresIntegrationDB 初始化 PostgreSQL 集成测试数据库。
func setupPostgresIntegrationDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv("TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("skip postgres integration test: TEST_POSTGRES_DSN is empty")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open postgres failed: %v", err)
	}

	_ = db.Migrator().DropTable(models.AllModels()...)
	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		t.Fatalf("migrate postgres models failed: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Migrator().DropTable(models.AllModels()...)
		sqlDB, err := db.DB()
		if err == nil {
			_ = sqlDB.Close()
		}
	})

	return db
}

func TestPostgresOrderTransitionSingleWinner(t *testing.T) {
	db := setupPostgresIntegrationDB(t)
	repo := NewOrderRepository(db)
	order := &models.Order{
		OrderNo:    "ENT20260101900001",
		ConsumerID: 1,
		Status:     constants.OrderStatusPaid,
		Priority:   constants.OrderPriorityNormal,
		Currency:   constants.CurrencyBRL,
		Source:     constants.OrderSourceWhatsApp,
	}
	if err := repo.Create(order); err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	const contenders = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(driverID uint) {
			defer wg.Done()
			ok, err := repo.TransitionStatus(order.ID, constants.OrderStatusPaid, constants.OrderStatusAssigned, map[string]interface{}{
				"driver_id":          driverID,
				"driver_assigned_at": time.Now(),
			})
			if err != nil {
				t.Errorf("transition failed: %v", err)
				return
			}
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(uint(i + 1))
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("exactly one assignment should win, got %d", winners)
	}
}

func TestPostgresInboundEventAndRefundIntentUpserts(t *testing.T) {
	db := setupPostgresIntegrationDB(t)

	events := NewInboundEventRepository(db)
	first, err := events.Record(constants.InboundSourcePagSeguro, "ORDE_1:PAID")
	if err != nil || !first {
		t.Fatalf("first record should be new, got %v %v", first, err)
	}
	again, err := events.Record(constants.InboundSourcePagSeguro, "ORDE_1:PAID")
	if err != nil || again {
		t.Fatalf("duplicate should be detected on postgres, got %v %v", again, err)
	}

	intents := NewRefundIntentRepository(db)
	created, err := intents.CreateOnce(&models.RefundIntent{OrderID: 42, Reason: "cancelled"})
	if err != nil {
		t.Fatalf("create intent failed: %v", err)
	}
	existing, err := intents.CreateOnce(&models.RefundIntent{OrderID: 42, Reason: "other"})
	if err != nil || existing.ID != created.ID {
		t.Fatalf("refund intent must be unique per order, got %#v (%v)", existing, err)
	}
}

func TestPostgresNotificationDueScan(t *testing.T) {
	db := setupPostgresIntegrationDB(t)
	repo := NewNotificationRepository(db)
	now := time.Now().UTC()

	for i, priority := range []int{3, 9} {
		_, _, err := repo.CreateOnce(&models.Notification{
			UserID:     1,
			Channel:    constants.NotificationChannelWhatsApp,
			Status:     constants.NotificationStatusPending,
			Recipient:  "5511999990000",
			Priority:   priority,
			MaxRetries: 3,
			DedupKey:   "pg-due-" + string(rune('a'+i)),
		})
		if err != nil {
			t.Fatalf("create notification failed: %v", err)
		}
	}

	due, err := repo.ListDue(now.Add(time.Second), 10)
	if err != nil {
		t.Fatalf("list due failed: %v", err)
	}
	if len(due) != 2 || due[0].Priority != 9 {
		t.Fatalf("higher priority should be listed first, got %#v", due)
	}
}
