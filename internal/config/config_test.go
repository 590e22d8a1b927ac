package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefaultsDecode(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	cfg, err := decode(v)
	if err != nil {
		t.Fatalf("decode defaults failed: %v", err)
	}
	if cfg.Pricing.PerKmRate != "2.50" || cfg.Pricing.Currency != "BRL" {
		t.Fatalf("unexpected pricing defaults: %+v", cfg.Pricing)
	}
	if cfg.Session.ThreadTTL() != 24*time.Hour {
		t.Fatalf("unexpected thread ttl: %s", cfg.Session.ThreadTTL())
	}
	if cfg.Session.QuoteTTL() != 30*time.Minute {
		t.Fatalf("unexpected quote ttl: %s", cfg.Session.QuoteTTL())
	}
	if cfg.Notification.MaxRetries != 3 {
		t.Fatalf("unexpected max retries: %d", cfg.Notification.MaxRetries)
	}
	if cfg.Queue.Queues["critical"] != 6 {
		t.Fatalf("unexpected queue weights: %+v", cfg.Queue.Queues)
	}
}

func TestDurationFallbacks(t *testing.T) {
	if got := (NotificationConfig{}).BackoffBase(); got != 30*time.Second {
		t.Fatalf("unexpected backoff base fallback: %s", got)
	}
	if got := (NotificationConfig{BackoffMaxSeconds: 5}).BackoffMax(); got != 5*time.Second {
		t.Fatalf("unexpected backoff max: %s", got)
	}
	if got := (GatewayConfig{}).Timeout(); got != 15*time.Second {
		t.Fatalf("unexpected gateway timeout fallback: %s", got)
	}
	if got := (PaymentConfig{ExpireMinutes: 10}).ExpireAfter(); got != 10*time.Minute {
		t.Fatalf("unexpected payment expiry: %s", got)
	}
}
