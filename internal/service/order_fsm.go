package service

import "github.com/entrega-next/internal/constants"

// 订单状态推进顺序，用于 "≥ PAID" 之类的比较；终态不参与排序
var orderStatusRank = map[string]int{
	constants.OrderStatusDraft:          0,
	constants.OrderStatusPendingQuote:   1,
	constants.OrderStatusQuoted:         2,
	constants.OrderStatusPendingPayment: 3,
	constants.OrderStatusPaid:           4,
	constants.OrderStatusAssigned:       5,
	constants.OrderStatusPickupPending:  6,
	constants.OrderStatusPickedUp:       7,
	constants.OrderStatusInTransit:      8,
	constants.OrderStatusDelivered:      9,
}

type orderEdge struct {
	from  string
	event string
}

var orderTransitions = map[orderEdge]string{
	{constants.OrderStatusDraft, constants.OrderEventRequestQuote}:              constants.OrderStatusPendingQuote,
	{constants.OrderStatusDraft, constants.OrderEventQuote}:                     constants.OrderStatusQuoted,
	{constants.OrderStatusPendingQuote, constants.OrderEventQuote}:              constants.OrderStatusQuoted,
	{constants.OrderStatusQuoted, constants.OrderEventQuote}:                    constants.OrderStatusQuoted,
	{constants.OrderStatusQuoted, constants.OrderEventConfirm}:                  constants.OrderStatusPendingPayment,
	{constants.OrderStatusPendingPayment, constants.OrderEventPaymentConfirmed}: constants.OrderStatusPaid,
	{constants.OrderStatusPendingPayment, constants.OrderEventPaymentFailed}:    constants.OrderStatusFailed,
	{constants.OrderStatusPendingPayment, constants.OrderEventExpire}:           constants.OrderStatusCancelled,
	{constants.OrderStatusPaid, constants.OrderEventAssignDriver}:               constants.OrderStatusAssigned,
	{constants.OrderStatusAssigned, constants.OrderEventStartPickup}:            constants.OrderStatusPickupPending,
	{constants.OrderStatusPickupPending, constants.OrderEventPickUp}:            constants.OrderStatusPickedUp,
	{constants.OrderStatusPickedUp, constants.OrderEventStartTransit}:           constants.OrderStatusInTransit,
	{constants.OrderStatusInTransit, constants.OrderEventDeliver}:               constants.OrderStatusDelivered,
	{constants.OrderStatusAssigned, constants.OrderEventReleaseDriver}:          constants.OrderStatusPaid,
	{constants.OrderStatusPickupPending, constants.OrderEventReleaseDriver}:     constants.OrderStatusPaid,
	{constants.OrderStatusPickedUp, constants.OrderEventReleaseDriver}:          constants.OrderStatusPaid,
	{constants.OrderStatusInTransit, constants.OrderEventReleaseDriver}:         constants.OrderStatusPaid,
}

// ResolveOrderTransition 查询状态转移表；非法组合返回 ErrInvalidTransition，
// 已支付订单重复确认返回 ErrAlreadyPaid，已指派订单再次指派返回 ErrAlreadyAssigned
func ResolveOrderTransition(from, event string) (string, error) {
	if to, ok := orderTransitions[orderEdge{from: from, event: event}]; ok {
		return to, nil
	}
	if IsTerminalOrderStatus(from) {
		if event == constants.OrderEventPaymentConfirmed && from == constants.OrderStatusDelivered {
			return "", ErrAlreadyPaid
		}
		return "", ErrInvalidTransition
	}
	switch event {
	case constants.OrderEventCancel:
		return constants.OrderStatusCancelled, nil
	case constants.OrderEventFail:
		return constants.OrderStatusFailed, nil
	case constants.OrderEventRefund:
		if OrderStatusAtLeast(from, constants.OrderStatusPaid) {
			return constants.OrderStatusRefunded, nil
		}
	case constants.OrderEventPaymentConfirmed:
		if OrderStatusAtLeast(from, constants.OrderStatusPaid) {
			return "", ErrAlreadyPaid
		}
	case constants.OrderEventAssignDriver:
		if OrderStatusAtLeast(from, constants.OrderStatusAssigned) {
			return "", ErrAlreadyAssigned
		}
	}
	return "", ErrInvalidTransition
}

// IsTerminalOrderStatus 是否终态
func IsTerminalOrderStatus(status string) bool {
	switch status {
	case constants.OrderStatusDelivered,
		constants.OrderStatusCancelled,
		constants.OrderStatusFailed,
		constants.OrderStatusRefunded:
		return true
	}
	return false
}

// OrderStatusAtLeast 主线状态是否已推进到 target（终态 CANCELLED/FAILED/REFUNDED 返回 false）
func OrderStatusAtLeast(status, target string) bool {
	rank, ok := orderStatusRank[status]
	if !ok {
		return false
	}
	return rank >= orderStatusRank[target]
}

// IsOrderInFlight 是否处于已指派未完成的阶段
func IsOrderInFlight(status string) bool {
	return OrderStatusAtLeast(status, constants.OrderStatusAssigned) && !IsTerminalOrderStatus(status)
}
