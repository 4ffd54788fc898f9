// Package model содержит доменные сущности магазина nexent.
package model

import "time"

// OrderStatus описывает статус жизненного цикла заказа.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusFailed    OrderStatus = "failed"
)

// PaymentStatus описывает статус оплаты заказа.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// OrderItem описывает позицию заказа. Название, цена и изображение —
// снимки на момент оформления, последующие изменения товара их не затрагивают.
type OrderItem struct {
	ProductID  int64
	Name       string
	PriceCents int64
	Quantity   int32
	Image      string
}

// ShippingAddress описывает адрес доставки заказа.
type ShippingAddress struct {
	FullName      string `json:"fullName"`
	StreetAddress string `json:"streetAddress"`
	City          string `json:"city"`
	State         string `json:"state"`
	ZipCode       string `json:"zipCode"`
	PhoneNumber   string `json:"phoneNumber"`
}

// Order описывает заказ пользователя.
type Order struct {
	ID              int64
	UserID          int64
	ExternalID      string
	Items           []OrderItem
	ShippingAddress ShippingAddress
	PaymentID       *string
	PaymentStatus   PaymentStatus
	TotalPriceCents int64
	DiscountCents   int64
	CouponID        *int64
	CoinsEarned     int64
	Status          OrderStatus
	Hidden          bool
	InvoiceSent     bool
	CreatedAt       time.Time
}

// Product описывает срез товара, используемый ядром оформления заказов:
// актуальная цена, остаток и снимочные поля.
type Product struct {
	ID         int64
	Name       string
	PriceCents int64
	Stock      int64
	Image      string
}

// CouponTier описывает уровень купона.
type CouponTier string

const (
	CouponTierBronze CouponTier = "bronze"
	CouponTierSilver CouponTier = "silver"
	CouponTierGold   CouponTier = "gold"
)

// TierRate описывает стоимость уровня купона в монетах и размер скидки.
type TierRate struct {
	CoinsRequired   int64
	DiscountPercent int64
}

// CouponTiers задаёт фиксированную таблицу уровней купонов.
var CouponTiers = map[CouponTier]TierRate{
	CouponTierBronze: {CoinsRequired: 100, DiscountPercent: 10},
	CouponTierSilver: {CoinsRequired: 300, DiscountPercent: 35},
	CouponTierGold:   {CoinsRequired: 500, DiscountPercent: 60},
}

// Coupon описывает одноразовый купон пользователя.
type Coupon struct {
	ID              int64
	UserID          int64
	ExternalID      string
	Code            string
	Tier            CouponTier
	DiscountPercent int64
	CoinsRequired   int64
	IsUsed          bool
	UsedAt          *time.Time
	OrderID         *int64
	ExpiresAt       time.Time
	CreatedAt       time.Time
}

// TransactionType описывает тип операции по кошельку.
type TransactionType string

const (
	TransactionEarned   TransactionType = "earned"
	TransactionRedeemed TransactionType = "redeemed"
	TransactionExpired  TransactionType = "expired"
)

// WalletTransaction описывает запись в журнале операций кошелька.
// Журнал только пополняется; сумма записей всегда равна текущему балансу.
type WalletTransaction struct {
	ID          int64
	Type        TransactionType
	Amount      int64
	Description string
	OrderID     *int64
	CouponID    *int64
	CreatedAt   time.Time
}

// Wallet описывает кошелёк монет пользователя. Создаётся лениво при первом
// обращении. LifetimeCoins не убывает и учитывает только начисления.
type Wallet struct {
	UserID        int64
	ExternalID    string
	Coins         int64
	LifetimeCoins int64
	CreatedAt     time.Time
}
