package constants

// 订单状态常量
const (
	OrderStatusDraft          = "draft"
	OrderStatusPendingQuote   = "pending_quote"
	OrderStatusQuoted         = "quoted"
	OrderStatusPendingPayment = "pending_payment"
	OrderStatusPaid           = "paid"
	OrderStatusAssigned       = "assigned"
	OrderStatusPickupPending  = "pickup_pending"
	OrderStatusPickedUp       = "picked_up"
	OrderStatusInTransit      = "in_transit"
	OrderStatusDelivered      = "delivered"
	OrderStatusCancelled      = "cancelled"
	OrderStatusFailed         = "failed"
	OrderStatusRefunded       = "refunded"
)

// 订单事件常量
const (
	OrderEventRequestQuote     = "request_quote"
	OrderEventQuote            = "quote"
	OrderEventConfirm          = "confirm"
	OrderEventPaymentConfirmed = "payment_confirmed"
	OrderEventPaymentFailed    = "payment_failed"
	OrderEventExpire           = "expire"
	OrderEventAssignDriver     = "assign_driver"
	OrderEventStartPickup      = "start_pickup"
	OrderEventPickUp           = "pick_up"
	OrderEventStartTransit     = "start_transit"
	OrderEventDeliver          = "deliver"
	OrderEventReleaseDriver    = "release_driver"
	OrderEventCancel           = "cancel"
	OrderEventFail             = "fail"
	OrderEventRefund           = "refund"
)

// 订单优先级
const (
	OrderPriorityLow    = "low"
	OrderPriorityNormal = "normal"
	OrderPriorityHigh   = "high"
	OrderPriorityUrgent = "urgent"
)

// 物品分类
const (
	ItemCategoryFood        = "food"
	ItemCategoryMedicine    = "medicine"
	ItemCategoryDocuments   = "documents"
	ItemCategoryElectronics = "electronics"
	ItemCategoryClothing    = "clothing"
	ItemCategoryFlowers     = "flowers"
	ItemCategoryGroceries   = "groceries"
	ItemCategoryOther       = "other"
)

// 订单来源
const (
	OrderSourceWhatsApp = "whatsapp"
	OrderSourceAPI      = "api"
)

// CurrencyBRL 默认结算币种
const CurrencyBRL = "BRL"

// 配送状态常量
const (
	DeliveryStatusAssigned        = "assigned"
	DeliveryStatusHeadingToPickup = "heading_to_pickup"
	DeliveryStatusAtPickup        = "at_pickup"
	DeliveryStatusPickedUp        = "picked_up"
	DeliveryStatusInTransit       = "in_transit"
	DeliveryStatusAtDelivery      = "at_delivery"
	DeliveryStatusDelivered       = "delivered"
	DeliveryStatusFailed          = "failed"
	DeliveryStatusCancelled       = "cancelled"
)

// 配送事件常量
const (
	DeliveryEventHeadToPickup   = "head_to_pickup"
	DeliveryEventArrivePickup   = "arrive_pickup"
	DeliveryEventPickUp         = "pick_up"
	DeliveryEventStartTransit   = "start_transit"
	DeliveryEventArriveDelivery = "arrive_delivery"
	DeliveryEventDeliver        = "deliver"
	DeliveryEventFail           = "fail"
	DeliveryEventCancel         = "cancel"
)

// 支付状态常量
const (
	PaymentStatusPending           = "pending"
	PaymentStatusProcessing        = "processing"
	PaymentStatusCompleted         = "completed"
	PaymentStatusFailed            = "failed"
	PaymentStatusCancelled         = "cancelled"
	PaymentStatusRefunded          = "refunded"
	PaymentStatusPartiallyRefunded = "partially_refunded"
)

// 支付方式常量
const (
	PaymentMethodPix        = "pix"
	PaymentMethodCreditCard = "credit_card"
	PaymentMethodDebitCard  = "debit_card"
	PaymentMethodBoleto     = "boleto"
	PaymentMethodWallet     = "wallet"
)

// 支付网关
const (
	PaymentGatewayPagSeguro = "pagseguro"
)

// 退款意图状态
const (
	RefundIntentStatusPending = "pending"
	RefundIntentStatusDone    = "done"
	RefundIntentStatusSkipped = "skipped"
)

// 通知渠道
const (
	NotificationChannelSMS      = "sms"
	NotificationChannelEmail    = "email"
	NotificationChannelWhatsApp = "whatsapp"
	NotificationChannelPush     = "push"
	NotificationChannelInApp    = "in_app"
	NotificationChannelWebhook  = "webhook"
)

// 通知状态
const (
	NotificationStatusPending   = "pending"
	NotificationStatusSending   = "sending"
	NotificationStatusSent      = "sent"
	NotificationStatusDelivered = "delivered"
	NotificationStatusRead      = "read"
	NotificationStatusFailed    = "failed"
	NotificationStatusCancelled = "cancelled"
)

// 通知内容类型
const (
	NotificationKindText        = "text"
	NotificationKindInteractive = "interactive"
	NotificationKindLocation    = "location"
)

// 用户角色
const (
	UserRoleCustomer = "customer"
	UserRoleDriver   = "driver"
	UserRoleMerchant = "merchant"
)

// 入站事件来源
const (
	InboundSourceWhatsAppMessage = "whatsapp_message"
	InboundSourceWhatsAppStatus  = "whatsapp_status"
	InboundSourcePagSeguro       = "pagseguro"
)

// 交互按钮 ID
const (
	ButtonConfirmOrder = "confirm_order"
	ButtonModifyOrder  = "modify_order"
	ButtonCancelOrder  = "cancel_order"
)

// 队列名称
const (
	QueueDefault  = "default"
	QueueCritical = "critical"
)

// 异步任务类型
const (
	TaskNotificationDispatch = "notification:dispatch"
	TaskRefundIntent         = "payment:refund_intent"
	TaskPaymentExpire        = "payment:expire"
)

// 缓存 key 前缀
const (
	CacheKeyThreadPrefix = "thread"
	CacheKeyQuotePrefix  = "quote"
)

// 事件主题
const (
	EventSubjectOrderStatusChanged = "order.status_changed"
)

// 价格明细结构版本
const (
	PriceFactorsSchemaVersion        = 1
	NotificationPayloadSchemaVersion = 1
)
