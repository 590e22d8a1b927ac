package service

import "errors"

var (
	// ErrInvalidTransition 当前状态不允许该事件
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrAlreadyAssigned 订单已指派司机
	ErrAlreadyAssigned = errors.New("order already assigned")
	// ErrAlreadyPaid 订单已支付（幂等回放）
	ErrAlreadyPaid = errors.New("order already paid")
	// ErrTransitionConflict 并发写入导致状态比对多次失败
	ErrTransitionConflict = errors.New("transition conflict")
	// ErrQuoteExpired 报价已过期或不存在
	ErrQuoteExpired = errors.New("quote expired")
	// ErrOrphanWebhook 回调无法匹配到任何记录
	ErrOrphanWebhook = errors.New("orphan webhook")
	// ErrOrderNotFound 订单不存在
	ErrOrderNotFound = errors.New("order not found")
	// ErrDeliveryNotFound 配送记录不存在
	ErrDeliveryNotFound = errors.New("delivery not found")
	// ErrPaymentNotFound 支付记录不存在
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrNotificationNotFound 通知不存在
	ErrNotificationNotFound = errors.New("notification not found")
	// ErrRefundAmountInvalid 退款金额非法
	ErrRefundAmountInvalid = errors.New("refund amount invalid")
	// ErrPaymentNotAllowed 当前订单或支付状态不允许该操作
	ErrPaymentNotAllowed = errors.New("payment not allowed")
	// ErrRatingNotAllowed 配送未完成不可评分
	ErrRatingNotAllowed = errors.New("rating not allowed")
	// ErrRatingInvalid 评分超出 1-5
	ErrRatingInvalid = errors.New("rating invalid")
	// ErrChannelUnsupported 通知渠道没有可用的发送器
	ErrChannelUnsupported = errors.New("notification channel unsupported")
	// ErrDriverRequired 指派需要司机
	ErrDriverRequired = errors.New("driver is required")
	// ErrInvalidPrice 报价参数非法
	ErrInvalidPrice = errors.New("invalid price input")
)

var (
	// ErrProofRequired 送达需要签收凭证
	ErrProofRequired = errors.New("proof of delivery is required")
	// ErrInvalidPosition 坐标非法
	ErrInvalidPosition = errors.New("invalid position")
)
