// Package service реализует бизнес-логику магазина nexent: оформление заказов,
// сверку платежей, кошелёк монет и купоны.
package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/nexent-shop/internal/identity"
	"github.com/mmeshcher/nexent-shop/internal/model"
	"github.com/mmeshcher/nexent-shop/internal/notification"
	"github.com/mmeshcher/nexent-shop/internal/payment"
	"github.com/mmeshcher/nexent-shop/internal/repository"
)

// ErrEmptyOrder возвращается при попытке оформить заказ без позиций.
var (
	ErrEmptyOrder = errors.New("order has no items")
	// ErrCouponAlreadyUsed возвращается, если купон уже был использован.
	ErrCouponAlreadyUsed = errors.New("coupon already used")
	// ErrCouponExpired возвращается, если срок действия купона истёк.
	ErrCouponExpired = errors.New("coupon has expired")
	// ErrBelowMinimum возвращается, если сумма заказа меньше порога применения купона.
	ErrBelowMinimum = errors.New("order value below coupon minimum")
	// ErrInvalidTier возвращается при запросе несуществующего уровня купона.
	ErrInvalidTier = errors.New("invalid coupon tier")
	// ErrNothingAvailable возвращается, если ни одна позиция прошлого заказа недоступна.
	ErrNothingAvailable = errors.New("no items available for reorder")
	// ErrCodeSpaceExhausted возвращается, если не удалось подобрать свободный код купона.
	ErrCodeSpaceExhausted = errors.New("coupon code space exhausted")
	// ErrGateway возвращается при сбое создания платёжного намерения.
	ErrGateway = errors.New("payment gateway error")
)

// Минимальная сумма заказа для применения купона, в центах.
const couponMinOrderCents = 100_00

// Начисление за каждую позицию заказа (не за единицу товара).
const coinsPerLineItem = 10

const (
	couponCodeLength   = 6
	couponCodeAttempts = 10
	couponValidity     = 30 * 24 * time.Hour
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	GetProduct(ctx context.Context, productID int64) (*model.Product, error)
	DecrementStock(ctx context.Context, productID int64, quantity int32) error
	CreateOrder(ctx context.Context, o *model.Order) (int64, error)
	GetOrderByID(ctx context.Context, orderID int64) (*model.Order, error)
	ListOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)
	HideOrder(ctx context.Context, orderID, userID int64) error
	ConfirmOrder(ctx context.Context, orderID int64, paymentID string) (bool, error)
	FailOrder(ctx context.Context, orderID int64, paymentID string) (bool, error)
	MarkInvoiceSent(ctx context.Context, orderID int64) (bool, error)
	GetOrCreateWallet(ctx context.Context, userID int64, externalID string) (*model.Wallet, error)
	CreditWallet(ctx context.Context, userID int64, externalID string, amount int64, description string, orderID *int64) error
	RedeemCoupon(ctx context.Context, c *model.Coupon) (int64, error)
	ListWalletTransactions(ctx context.Context, userID int64) ([]model.WalletTransaction, error)
	GetCouponByCode(ctx context.Context, userID int64, code string) (*model.Coupon, error)
	CouponCodeExists(ctx context.Context, code string) (bool, error)
	ListActiveCoupons(ctx context.Context, userID int64) ([]model.Coupon, error)
	ClaimCoupon(ctx context.Context, couponID int64) (bool, error)
	ReleaseCoupon(ctx context.Context, couponID int64) (bool, error)
	SetCouponOrder(ctx context.Context, couponID, orderID int64) error
	ClearCart(ctx context.Context, userID int64) error
}

// PaymentGateway описывает контракт платёжного шлюза.
type PaymentGateway interface {
	CreateIntent(ctx context.Context, amountCents int64, currency string, orderID, userID int64) (*payment.Intent, error)
}

// Notifier описывает контракт сервиса уведомлений.
type Notifier interface {
	Notify(ctx context.Context, kind notification.Kind, order *model.Order, recipientEmail, recipientName string) error
}

// IdentityProvider описывает контракт провайдера учётных записей.
type IdentityProvider interface {
	GetUser(ctx context.Context, userID int64) (*identity.User, error)
}

// Service содержит бизнес-логику магазина nexent.
type Service struct {
	repo     Repository
	gateway  PaymentGateway
	notifier Notifier
	idp      IdentityProvider
	logger   *zap.Logger
}

// NewService создаёт сервис с указанным репозиторием и внешними клиентами.
// Клиенты шлюза, уведомлений и провайдера учётных записей могут быть nil —
// соответствующие операции тогда деградируют, не ломая ядро.
func NewService(repo Repository, gateway PaymentGateway, notifier Notifier, idp IdentityProvider, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		repo:     repo,
		gateway:  gateway,
		notifier: notifier,
		idp:      idp,
		logger:   logger,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// GetWallet возвращает кошелёк пользователя, создавая его при первом обращении.
func (s *Service) GetWallet(ctx context.Context, userID int64, externalID string) (*model.Wallet, error) {
	return s.repo.GetOrCreateWallet(ctx, userID, externalID)
}

// GetWalletTransactions возвращает журнал операций кошелька пользователя.
func (s *Service) GetWalletTransactions(ctx context.Context, userID int64) ([]model.WalletTransaction, error) {
	return s.repo.ListWalletTransactions(ctx, userID)
}

// GetActiveCoupons возвращает действующие купоны пользователя.
func (s *Service) GetActiveCoupons(ctx context.Context, userID int64) ([]model.Coupon, error) {
	return s.repo.ListActiveCoupons(ctx, userID)
}

// RedeemCoupon обменивает монеты на купон указанного уровня. Списание монет
// и выпуск купона выполняются атомарно; код подбирается повторно при
// коллизии, число попыток ограничено.
func (s *Service) RedeemCoupon(ctx context.Context, userID int64, externalID string, tier model.CouponTier) (*model.Coupon, error) {
	rate, ok := model.CouponTiers[tier]
	if !ok {
		return nil, ErrInvalidTier
	}

	if _, err := s.repo.GetOrCreateWallet(ctx, userID, externalID); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < couponCodeAttempts; attempt++ {
		code, err := generateCouponCode()
		if err != nil {
			return nil, fmt.Errorf("generate coupon code: %w", err)
		}

		exists, err := s.repo.CouponCodeExists(ctx, code)
		if err != nil {
			return nil, err
		}
		if exists {
			continue
		}

		coupon := &model.Coupon{
			UserID:          userID,
			ExternalID:      externalID,
			Code:            code,
			Tier:            tier,
			DiscountPercent: rate.DiscountPercent,
			CoinsRequired:   rate.CoinsRequired,
			ExpiresAt:       time.Now().Add(couponValidity),
		}

		couponID, err := s.repo.RedeemCoupon(ctx, coupon)
		if err != nil {
			// Уникальный индекс мог поймать гонку, которую не увидела
			// предварительная проверка кода.
			if errors.Is(err, repository.ErrCouponCodeTaken) {
				continue
			}
			return nil, err
		}

		coupon.ID = couponID
		return coupon, nil
	}

	return nil, ErrCodeSpaceExhausted
}

// ValidateCoupon проверяет применимость купона к заказу указанной стоимости
// и возвращает размер скидки в центах. Состояние купона не меняется:
// фактическое потребление происходит только при оформлении заказа.
func (s *Service) ValidateCoupon(ctx context.Context, userID int64, code string, orderValueCents int64) (int64, *model.Coupon, error) {
	coupon, err := s.repo.GetCouponByCode(ctx, userID, code)
	if err != nil {
		return 0, nil, err
	}

	if coupon.IsUsed {
		return 0, nil, ErrCouponAlreadyUsed
	}

	if !coupon.ExpiresAt.After(time.Now()) {
		return 0, nil, ErrCouponExpired
	}

	if orderValueCents < couponMinOrderCents {
		return 0, nil, ErrBelowMinimum
	}

	discount := orderValueCents * coupon.DiscountPercent / 100
	return discount, coupon, nil
}

const couponCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

func generateCouponCode() (string, error) {
	max := big.NewInt(int64(len(couponCodeAlphabet)))

	code := make([]byte, couponCodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		code[i] = couponCodeAlphabet[n.Int64()]
	}

	return string(code), nil
}
