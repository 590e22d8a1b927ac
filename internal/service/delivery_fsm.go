package service

import "github.com/entrega-next/internal/constants"

type deliveryEdge struct {
	from  string
	event string
}

var deliveryTransitions = map[deliveryEdge]string{
	{constants.DeliveryStatusAssigned, constants.DeliveryEventHeadToPickup}:        constants.DeliveryStatusHeadingToPickup,
	{constants.DeliveryStatusHeadingToPickup, constants.DeliveryEventArrivePickup}: constants.DeliveryStatusAtPickup,
	{constants.DeliveryStatusAtPickup, constants.DeliveryEventPickUp}:              constants.DeliveryStatusPickedUp,
	{constants.DeliveryStatusPickedUp, constants.DeliveryEventStartTransit}:        constants.DeliveryStatusInTransit,
	{constants.DeliveryStatusInTransit, constants.DeliveryEventArriveDelivery}:     constants.DeliveryStatusAtDelivery,
	{constants.DeliveryStatusAtDelivery, constants.DeliveryEventDeliver}:           constants.DeliveryStatusDelivered,
}

// 配送事件联动的订单事件（同一事务内执行）
var deliveryOrderEvents = map[string]string{
	constants.DeliveryEventHeadToPickup: constants.OrderEventStartPickup,
	constants.DeliveryEventPickUp:       constants.OrderEventPickUp,
	constants.DeliveryEventStartTransit: constants.OrderEventStartTransit,
	constants.DeliveryEventDeliver:      constants.OrderEventDeliver,
}

// 每个目标状态对应的时间戳字段
var deliveryTimestampFields = map[string]string{
	constants.DeliveryStatusHeadingToPickup: "heading_to_pickup_at",
	constants.DeliveryStatusAtPickup:        "arrived_pickup_at",
	constants.DeliveryStatusPickedUp:        "picked_up_at",
	constants.DeliveryStatusInTransit:       "in_transit_at",
	constants.DeliveryStatusAtDelivery:      "arrived_delivery_at",
	constants.DeliveryStatusDelivered:       "delivered_at",
	constants.DeliveryStatusFailed:          "failed_at",
	constants.DeliveryStatusCancelled:       "cancelled_at",
}

// ResolveDeliveryTransition 查询配送状态转移表
func ResolveDeliveryTransition(from, event string) (string, error) {
	if IsTerminalDeliveryStatus(from) {
		return "", ErrInvalidTransition
	}
	switch event {
	case constants.DeliveryEventFail:
		return constants.DeliveryStatusFailed, nil
	case constants.DeliveryEventCancel:
		return constants.DeliveryStatusCancelled, nil
	}
	if to, ok := deliveryTransitions[deliveryEdge{from: from, event: event}]; ok {
		return to, nil
	}
	return "", ErrInvalidTransition
}

// IsTerminalDeliveryStatus 配送是否终态
func IsTerminalDeliveryStatus(status string) bool {
	switch status {
	case constants.DeliveryStatusDelivered, constants.DeliveryStatusFailed, constants.DeliveryStatusCancelled:
		return true
	}
	return false
}
