package service

import "github.com/entrega-next/internal/constants"

var paymentTransitions = map[string][]string{
	constants.PaymentStatusPending: {
		constants.PaymentStatusProcessing,
		constants.PaymentStatusCompleted,
		constants.PaymentStatusFailed,
		constants.PaymentStatusCancelled,
	},
	constants.PaymentStatusProcessing: {
		constants.PaymentStatusCompleted,
		constants.PaymentStatusFailed,
		constants.PaymentStatusCancelled,
	},
	constants.PaymentStatusCompleted: {
		constants.PaymentStatusRefunded,
		constants.PaymentStatusPartiallyRefunded,
	},
}

// CanTransitionPayment 支付状态是否允许 from -> to；相同状态视为幂等空操作返回 false
func CanTransitionPayment(from, to string) bool {
	for _, next := range paymentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminalPaymentStatus 支付是否终态（COMPLETED 仍可进入退款分支）
func IsTerminalPaymentStatus(status string) bool {
	switch status {
	case constants.PaymentStatusFailed,
		constants.PaymentStatusCancelled,
		constants.PaymentStatusRefunded,
		constants.PaymentStatusPartiallyRefunded:
		return true
	}
	return false
}

// paymentStatusTimestamp 进入状态时写入的时间字段
func paymentStatusTimestamp(status string) string {
	switch status {
	case constants.PaymentStatusProcessing:
		return "processing_at"
	case constants.PaymentStatusCompleted:
		return "completed_at"
	case constants.PaymentStatusFailed:
		return "failed_at"
	case constants.PaymentStatusCancelled:
		return "cancelled_at"
	case constants.PaymentStatusRefunded, constants.PaymentStatusPartiallyRefunded:
		return "refunded_at"
	}
	return ""
}
