package cache

import (
	"context"
	"strings"
	"time"

	"github.com/entrega-next/internal/constants"
)

// Store 带过期时间的 KV 存储
type Store interface {
	GetJSON(ctx context.Context, key string, dest interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, key string) (bool, error)
}

// QuoteSchemaVersion 报价缓存结构版本
const QuoteSchemaVersion = 1

// Quote 待确认的报价
type Quote struct {
	SchemaVersion   int       `json:"schema_version"`
	OrderID         uint      `json:"order_id"`
	OrderNo         string    `json:"order_no"`
	DistanceKm      float64   `json:"distance_km"`
	EtaMinutes      int       `json:"eta_minutes"`
	BasePrice       string    `json:"base_price"`
	FinalPrice      string    `json:"final_price"`
	Currency        string    `json:"currency"`
	PickupAddress   string    `json:"pickup_address"`
	DeliveryAddress string    `json:"delivery_address"`
	ItemDescription string    `json:"item_description"`
	CreatedAt       time.Time `json:"created_at"`
}

type threadEntry struct {
	ThreadID  string    `json:"thread_id"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionStore 会话线程与报价缓存
type SessionStore struct {
	store     Store
	threadTTL time.Duration
	quoteTTL  time.Duration
	now       func() time.Time
}

// NewSessionStore 创建会话缓存
func NewSessionStore(store Store, threadTTL, quoteTTL time.Duration) *SessionStore {
	if threadTTL <= 0 {
		threadTTL = 24 * time.Hour
	}
	if quoteTTL <= 0 {
		quoteTTL = 30 * time.Minute
	}
	return &SessionStore{store: store, threadTTL: threadTTL, quoteTTL: quoteTTL, now: time.Now}
}

// WithClock 替换时间源
func (s *SessionStore) WithClock(now func() time.Time) *SessionStore {
	if now != nil {
		s.now = now
	}
	return s
}

// ThreadKey 会话线程 key
func ThreadKey(identity string) string {
	return constants.CacheKeyThreadPrefix + ":" + strings.TrimSpace(identity)
}

// QuoteKey 报价 key
func QuoteKey(identity string) string {
	return constants.CacheKeyQuotePrefix + ":" + strings.TrimSpace(identity)
}

// GetThread 获取会话线程 ID
func (s *SessionStore) GetThread(ctx context.Context, identity string) (string, bool, error) {
	var entry threadEntry
	found, err := s.store.GetJSON(ctx, ThreadKey(identity), &entry)
	if err != nil || !found {
		return "", false, err
	}
	if entry.ThreadID == "" || s.expired(entry.CreatedAt, s.threadTTL) {
		return "", false, nil
	}
	return entry.ThreadID, true, nil
}

// SetThread 缓存会话线程 ID
func (s *SessionStore) SetThread(ctx context.Context, identity, threadID string) error {
	return s.store.SetJSON(ctx, ThreadKey(identity), threadEntry{ThreadID: threadID, CreatedAt: s.now()}, s.threadTTL)
}

// GetQuote 获取报价；结构版本不符或超过逻辑有效期的报价视为不存在
func (s *SessionStore) GetQuote(ctx context.Context, identity string) (*Quote, bool, error) {
	var quote Quote
	found, err := s.store.GetJSON(ctx, QuoteKey(identity), &quote)
	if err != nil || !found {
		return nil, false, err
	}
	if quote.SchemaVersion != QuoteSchemaVersion || s.expired(quote.CreatedAt, s.quoteTTL) {
		return nil, false, nil
	}
	return &quote, true, nil
}

// SetQuote 缓存报价
func (s *SessionStore) SetQuote(ctx context.Context, identity string, quote Quote) error {
	if quote.CreatedAt.IsZero() {
		quote.CreatedAt = s.now()
	}
	if quote.SchemaVersion == 0 {
		quote.SchemaVersion = QuoteSchemaVersion
	}
	return s.store.SetJSON(ctx, QuoteKey(identity), quote, s.quoteTTL)
}

// ClearQuote 清除报价，返回是否存在过有效报价
func (s *SessionStore) ClearQuote(ctx context.Context, identity string) (bool, error) {
	_, found, err := s.GetQuote(ctx, identity)
	if err != nil {
		return false, err
	}
	if _, err := s.store.Del(ctx, QuoteKey(identity)); err != nil {
		return false, err
	}
	return found, nil
}

func (s *SessionStore) expired(createdAt time.Time, ttl time.Duration) bool {
	if createdAt.IsZero() {
		return true
	}
	return !s.now().Before(createdAt.Add(ttl))
}
