package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/nexent-shop/internal/model"
	"github.com/mmeshcher/nexent-shop/internal/notification"
	"github.com/mmeshcher/nexent-shop/internal/repository"
)

// ErrInvalidItem возвращается, если позиция заказа содержит некорректное количество.
var ErrInvalidItem = errors.New("invalid order item")

const (
	shippingCents  = 10_00
	taxPercent     = 8
	intentCurrency = "usd"
)

// CheckoutItem описывает позицию корзины: клиент передаёт только идентификатор
// товара и количество, цена всегда перечитывается из каталога.
type CheckoutItem struct {
	ProductID int64
	Quantity  int32
}

// CheckoutRequest описывает запрос на оформление заказа.
type CheckoutRequest struct {
	Items           []CheckoutItem
	ShippingAddress model.ShippingAddress
	CouponCode      string
	PaymentID       string
}

// IntentResult содержит данные для завершения оплаты на стороне клиента.
type IntentResult struct {
	OrderID      int64
	ClientSecret string
}

// ReorderItem описывает доступную позицию повторного заказа в актуальных ценах.
type ReorderItem struct {
	ProductID  int64
	Name       string
	PriceCents int64
	Quantity   int32
	Image      string
}

// UnavailableItem описывает позицию, недоступную для повторного заказа.
type UnavailableItem struct {
	Name   string
	Reason string
}

// ReorderResult содержит предложенную корзину повторного заказа.
type ReorderResult struct {
	Items           []ReorderItem
	Unavailable     []UnavailableItem
	TotalPriceCents int64
	ShippingAddress model.ShippingAddress
}

// validateItems перечитывает актуальные цену и остаток каждой позиции.
// Ошибки возвращаются до каких-либо изменений состояния.
func (s *Service) validateItems(ctx context.Context, items []CheckoutItem) ([]model.OrderItem, int64, error) {
	if len(items) == 0 {
		return nil, 0, ErrEmptyOrder
	}

	var (
		validated []model.OrderItem
		subtotal  int64
	)

	for _, item := range items {
		if item.Quantity < 1 {
			return nil, 0, fmt.Errorf("%w: quantity must be at least 1", ErrInvalidItem)
		}

		product, err := s.repo.GetProduct(ctx, item.ProductID)
		if err != nil {
			return nil, 0, err
		}

		if product.Stock < int64(item.Quantity) {
			return nil, 0, fmt.Errorf("%w: %s", repository.ErrInsufficientStock, product.Name)
		}

		validated = append(validated, model.OrderItem{
			ProductID:  product.ID,
			Name:       product.Name,
			PriceCents: product.PriceCents,
			Quantity:   item.Quantity,
			Image:      product.Image,
		})
		subtotal += product.PriceCents * int64(item.Quantity)
	}

	return validated, subtotal, nil
}

func orderTotalCents(subtotal int64) int64 {
	return subtotal + shippingCents + subtotal*taxPercent/100
}

// applyCoupon проверяет купон и потребляет его условным переходом is_used.
// Проигравший гонку вызов получает ErrCouponAlreadyUsed до любых других мутаций.
func (s *Service) applyCoupon(ctx context.Context, userID int64, code string, totalCents int64) (int64, *int64, error) {
	discount, coupon, err := s.ValidateCoupon(ctx, userID, code, totalCents)
	if err != nil {
		return 0, nil, err
	}

	won, err := s.repo.ClaimCoupon(ctx, coupon.ID)
	if err != nil {
		return 0, nil, err
	}
	if !won {
		return 0, nil, ErrCouponAlreadyUsed
	}

	return discount, &coupon.ID, nil
}

// releaseCoupon возвращает купон в оборот, когда захватившее его оформление
// не состоялось. Сбой возврата логируется: купон остаётся занятым до внешней
// сверки, но операцию это не ломает.
func (s *Service) releaseCoupon(ctx context.Context, couponID *int64) {
	if couponID == nil {
		return
	}

	if _, err := s.repo.ReleaseCoupon(ctx, *couponID); err != nil {
		s.logger.Error("release coupon", zap.Int64("couponID", *couponID), zap.Error(err))
	}
}

// CreateOrder оформляет заказ с немедленной оплатой: списывает остатки,
// создаёт подтверждённый заказ, начисляет монеты и отправляет уведомление.
// Сбой уведомления не считается сбоем заказа.
func (s *Service) CreateOrder(ctx context.Context, userID int64, externalID string, req CheckoutRequest) (*model.Order, error) {
	items, subtotal, err := s.validateItems(ctx, req.Items)
	if err != nil {
		return nil, err
	}

	total := orderTotalCents(subtotal)

	var (
		discount int64
		couponID *int64
	)
	if req.CouponCode != "" {
		discount, couponID, err = s.applyCoupon(ctx, userID, req.CouponCode, total)
		if err != nil {
			return nil, err
		}
		total -= discount
	}

	// Списание остатков — пропускной барьер немедленного оформления: условный
	// декремент либо проходит, либо заказ не создаётся вовсе. Уже списанные
	// позиции при частичном отказе не компенсируются, расхождение логируется.
	for i, item := range items {
		if err := s.repo.DecrementStock(ctx, item.ProductID, item.Quantity); err != nil {
			s.releaseCoupon(ctx, couponID)
			if i > 0 {
				s.logger.Error("partial stock decrement on rejected checkout",
					zap.Int64("userID", userID),
					zap.Int("decremented", i),
					zap.Error(err))
			}
			return nil, err
		}
	}

	coinsEarned := int64(len(items)) * coinsPerLineItem

	order := &model.Order{
		UserID:          userID,
		ExternalID:      externalID,
		Items:           items,
		ShippingAddress: req.ShippingAddress,
		PaymentStatus:   model.PaymentStatusSucceeded,
		TotalPriceCents: total,
		DiscountCents:   discount,
		CouponID:        couponID,
		CoinsEarned:     coinsEarned,
		Status:          model.OrderStatusConfirmed,
	}
	if req.PaymentID != "" {
		order.PaymentID = &req.PaymentID
	}

	orderID, err := s.repo.CreateOrder(ctx, order)
	if err != nil {
		s.releaseCoupon(ctx, couponID)
		s.logger.Error("create order after stock decrement", zap.Int64("userID", userID), zap.Error(err))
		return nil, err
	}
	order.ID = orderID

	if couponID != nil {
		if err := s.repo.SetCouponOrder(ctx, *couponID, orderID); err != nil {
			s.logger.Error("set coupon order reference", zap.Int64("orderID", orderID), zap.Error(err))
		}
	}

	err = s.repo.CreditWallet(ctx, userID, externalID, coinsEarned,
		fmt.Sprintf("Earned from order #%d", orderID), &orderID)
	if err != nil {
		s.logger.Error("credit wallet for order", zap.Int64("orderID", orderID), zap.Error(err))
		return nil, fmt.Errorf("credit wallet: %w", err)
	}

	s.sendNotification(ctx, notification.KindConfirmation, order)

	return s.repo.GetOrderByID(ctx, orderID)
}

// CreatePaymentIntent оформляет заказ с отложенной оплатой: проверяет корзину,
// сохраняет заказ в статусе pending и создаёт платёжное намерение у шлюза.
// Остатки и кошелёк на этом шаге не затрагиваются — побочные эффекты
// применяет сверка платежа после подтверждения.
func (s *Service) CreatePaymentIntent(ctx context.Context, userID int64, externalID string, req CheckoutRequest) (*IntentResult, error) {
	// Без шлюза заказ оплатить невозможно, поэтому отказ идёт до любых мутаций.
	if s.gateway == nil {
		return nil, fmt.Errorf("%w: gateway not configured", ErrGateway)
	}

	items, subtotal, err := s.validateItems(ctx, req.Items)
	if err != nil {
		return nil, err
	}

	total := orderTotalCents(subtotal)

	var (
		discount int64
		couponID *int64
	)
	if req.CouponCode != "" {
		discount, couponID, err = s.applyCoupon(ctx, userID, req.CouponCode, total)
		if err != nil {
			return nil, err
		}
		total -= discount
	}

	order := &model.Order{
		UserID:          userID,
		ExternalID:      externalID,
		Items:           items,
		ShippingAddress: req.ShippingAddress,
		PaymentStatus:   model.PaymentStatusPending,
		TotalPriceCents: total,
		DiscountCents:   discount,
		CouponID:        couponID,
		CoinsEarned:     int64(len(items)) * coinsPerLineItem,
		Status:          model.OrderStatusPending,
	}

	orderID, err := s.repo.CreateOrder(ctx, order)
	if err != nil {
		s.releaseCoupon(ctx, couponID)
		return nil, err
	}

	if couponID != nil {
		if err := s.repo.SetCouponOrder(ctx, *couponID, orderID); err != nil {
			s.logger.Error("set coupon order reference", zap.Int64("orderID", orderID), zap.Error(err))
		}
	}

	intent, err := s.gateway.CreateIntent(ctx, total, intentCurrency, orderID, userID)
	if err != nil {
		s.logger.Error("create payment intent", zap.Int64("orderID", orderID), zap.Error(err))
		return nil, fmt.Errorf("%w: %s", ErrGateway, err)
	}

	return &IntentResult{
		OrderID:      orderID,
		ClientSecret: intent.ClientSecret,
	}, nil
}

// ApplyConfirmation — единственная процедура применения успешной оплаты.
// Её вызывают и обработчик уведомлений шлюза, и ручное подтверждение;
// собственных копий последовательности эффектов у них нет.
//
// Повторный вызов для уже подтверждённого заказа ничего не меняет: статусный
// переход pending -> confirmed выигрывает ровно один вызов, остальные
// возвращают успех без побочных эффектов.
func (s *Service) ApplyConfirmation(ctx context.Context, orderID int64, paymentID string) (*model.Order, error) {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if order.PaymentStatus == model.PaymentStatusSucceeded && order.Status != model.OrderStatusPending {
		return order, nil
	}

	won, err := s.repo.ConfirmOrder(ctx, orderID, paymentID)
	if err != nil {
		return nil, err
	}
	if !won {
		// Переход выиграл параллельный вызов либо заказ уже вышел из pending.
		return s.repo.GetOrderByID(ctx, orderID)
	}

	// Статус заказа зафиксирован; дальнейшие эффекты не откатываются.
	// Их сбой — отложенное расхождение для внешней сверки, не повод
	// возвращать деньги в pending.
	var effectsErr error

	for _, item := range order.Items {
		if err := s.repo.DecrementStock(ctx, item.ProductID, item.Quantity); err != nil {
			s.logger.Error("decrement stock for confirmed order",
				zap.Int64("orderID", orderID),
				zap.Int64("productID", item.ProductID),
				zap.Error(err))
			if effectsErr == nil {
				effectsErr = err
			}
		}
	}

	if err := s.repo.ClearCart(ctx, order.UserID); err != nil {
		s.logger.Error("clear cart after confirmation", zap.Int64("orderID", orderID), zap.Error(err))
	}

	if order.CoinsEarned > 0 {
		err = s.repo.CreditWallet(ctx, order.UserID, order.ExternalID, order.CoinsEarned,
			fmt.Sprintf("Earned from order #%d", orderID), &orderID)
		if err != nil {
			s.logger.Error("credit wallet for confirmed order", zap.Int64("orderID", orderID), zap.Error(err))
			if effectsErr == nil {
				effectsErr = err
			}
		}
	}

	invoiceWon, err := s.repo.MarkInvoiceSent(ctx, orderID)
	if err != nil {
		s.logger.Error("mark invoice sent", zap.Int64("orderID", orderID), zap.Error(err))
	}

	confirmed, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if invoiceWon {
		s.sendNotification(ctx, notification.KindInvoice, confirmed)
	}

	if effectsErr != nil {
		return confirmed, fmt.Errorf("apply confirmation effects: %w", effectsErr)
	}

	return confirmed, nil
}

// ApplyFailure фиксирует неуспешную оплату: переход pending -> failed.
// Остатки и кошелёк не затрагиваются, а захваченный заказом купон возвращается
// в оборот и может быть использован повторно. Повторный вызов ничего не меняет:
// купон освобождает только вызов, выигравший статусный переход.
func (s *Service) ApplyFailure(ctx context.Context, orderID int64, paymentID string) error {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return err
	}

	won, err := s.repo.FailOrder(ctx, orderID, paymentID)
	if err != nil {
		return err
	}

	if won && order.CouponID != nil {
		s.releaseCoupon(ctx, order.CouponID)
	}

	return nil
}

// ConfirmOrderManually — резервный путь подтверждения, когда уведомления шлюза
// недоступны. Доступен только владельцу заказа и даёт те же эффекты, что и
// уведомление, через общий ApplyConfirmation.
func (s *Service) ConfirmOrderManually(ctx context.Context, userID, orderID int64) (*model.Order, error) {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if order.UserID != userID {
		return nil, repository.ErrNotOwner
	}

	paymentID := "manual_" + uuid.NewString()
	if order.PaymentID != nil && *order.PaymentID != "" {
		paymentID = *order.PaymentID
	}

	return s.ApplyConfirmation(ctx, orderID, paymentID)
}

// GetOrders возвращает видимые заказы пользователя.
func (s *Service) GetOrders(ctx context.Context, userID int64) ([]model.Order, error) {
	return s.repo.ListOrdersByUser(ctx, userID)
}

// HideOrder скрывает заказ из списков, не удаляя данные. Доступно только владельцу.
func (s *Service) HideOrder(ctx context.Context, userID, orderID int64) error {
	return s.repo.HideOrder(ctx, orderID, userID)
}

// Reorder собирает корзину повторного заказа по прошлому заказу. Каждая позиция
// проверяется по актуальным остатку и цене, а не по сохранённому снимку.
// Никаких изменений состояния этот путь не выполняет.
func (s *Service) Reorder(ctx context.Context, userID, orderID int64) (*ReorderResult, error) {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if order.UserID != userID {
		return nil, repository.ErrNotOwner
	}

	result := &ReorderResult{
		ShippingAddress: order.ShippingAddress,
	}

	for _, item := range order.Items {
		product, err := s.repo.GetProduct(ctx, item.ProductID)
		if err != nil {
			if errors.Is(err, repository.ErrProductNotFound) {
				result.Unavailable = append(result.Unavailable, UnavailableItem{
					Name:   item.Name,
					Reason: "Product no longer available",
				})
				continue
			}
			return nil, err
		}

		if product.Stock < int64(item.Quantity) {
			result.Unavailable = append(result.Unavailable, UnavailableItem{
				Name:   item.Name,
				Reason: fmt.Sprintf("Only %d in stock (you ordered %d)", product.Stock, item.Quantity),
			})
			continue
		}

		result.Items = append(result.Items, ReorderItem{
			ProductID:  product.ID,
			Name:       product.Name,
			PriceCents: product.PriceCents,
			Quantity:   item.Quantity,
			Image:      product.Image,
		})
		result.TotalPriceCents += product.PriceCents * int64(item.Quantity)
	}

	if len(result.Items) == 0 {
		return result, ErrNothingAvailable
	}

	return result, nil
}

// sendNotification отправляет уведомление о заказе по принципу best-effort:
// любой сбой логируется и никогда не распространяется на вызывающую операцию.
func (s *Service) sendNotification(ctx context.Context, kind notification.Kind, order *model.Order) {
	if s.notifier == nil || s.idp == nil {
		return
	}

	user, err := s.idp.GetUser(ctx, order.UserID)
	if err != nil {
		s.logger.Error("resolve notification recipient",
			zap.Int64("orderID", order.ID),
			zap.String("kind", string(kind)),
			zap.Error(err))
		return
	}

	if err := s.notifier.Notify(ctx, kind, order, user.Email, user.Name); err != nil {
		s.logger.Error("send order notification",
			zap.Int64("orderID", order.ID),
			zap.String("kind", string(kind)),
			zap.Error(err))
	}
}
