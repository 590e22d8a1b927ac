package events

import "testing"

func TestSubject(t *testing.T) {
	if got := Subject("entrega.", "order.status_changed"); got != "entrega.order.status_changed" {
		t.Fatalf("unexpected subject: %s", got)
	}
	if got := Subject("", "order.status_changed"); got != "order.status_changed" {
		t.Fatalf("unexpected subject without prefix: %s", got)
	}
}

func TestNilPublishersAreSafe(t *testing.T) {
	var p *NATSPublisher
	p.PublishOrderStatusChanged(OrderStatusChanged{OrderID: 1})
	p.Close()
	NoopPublisher{}.PublishOrderStatusChanged(OrderStatusChanged{})
}
