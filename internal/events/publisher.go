// Package events 领域事件广播（NATS）
package events

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/entrega-next/internal/constants"
	"github.com/entrega-next/internal/logger"

	"github.com/nats-io/nats.go"
)

// OrderStatusChanged 订单状态变更事件
type OrderStatusChanged struct {
	OrderID    uint      `json:"order_id"`
	OrderNo    string    `json:"order_no"`
	ConsumerID uint      `json:"consumer_id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Event      string    `json:"event"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher 事件发布接口
type Publisher interface {
	PublishOrderStatusChanged(evt OrderStatusChanged)
	Close()
}

// NoopPublisher 未启用 NATS 时的空实现
type NoopPublisher struct{}

// PublishOrderStatusChanged 空实现
func (NoopPublisher) PublishOrderStatusChanged(OrderStatusChanged) {}

// Close 空实现
func (NoopPublisher) Close() {}

// NATSPublisher 基于 NATS 的事件发布
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	once   sync.Once
}

// NewNATSPublisher 连接 NATS；连接失败返回错误，由调用方决定是否降级
func NewNATSPublisher(url, prefix string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("entrega-next"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warnw("nats_disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Infow("nats_reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{conn: conn, prefix: strings.Trim(strings.TrimSpace(prefix), ".")}, nil
}

// Subject 拼接带前缀的主题
func Subject(prefix, name string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// PublishOrderStatusChanged 发布订单状态变更；失败只记日志
func (p *NATSPublisher) PublishOrderStatusChanged(evt OrderStatusChanged) {
	if p == nil || p.conn == nil {
		return
	}
	data, err := json.Marshal(evt)
	if err != nil {
		logger.Warnw("order_event_encode_failed", "order_id", evt.OrderID, "error", err)
		return
	}
	subject := Subject(p.prefix, constants.EventSubjectOrderStatusChanged)
	if err := p.conn.Publish(subject, data); err != nil {
		logger.Warnw("order_event_publish_failed",
			"order_id", evt.OrderID,
			"subject", subject,
			"error", err,
		)
	}
}

// Close 刷新并关闭连接
func (p *NATSPublisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.once.Do(func() {
		if err := p.conn.Drain(); err != nil {
			p.conn.Close()
		}
	})
}
