package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mmeshcher/nexent-shop/internal/identity"
	"github.com/mmeshcher/nexent-shop/internal/model"
	"github.com/mmeshcher/nexent-shop/internal/notification"
	"github.com/mmeshcher/nexent-shop/internal/payment"
	"github.com/mmeshcher/nexent-shop/internal/repository"
)

type stubNotifier struct {
	mu    sync.Mutex
	calls []notification.Kind
}

func (n *stubNotifier) Notify(ctx context.Context, kind notification.Kind, order *model.Order, recipientEmail, recipientName string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, kind)
	return nil
}

func (n *stubNotifier) sent() []notification.Kind {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification.Kind(nil), n.calls...)
}

type stubIdentity struct{}

func (stubIdentity) GetUser(ctx context.Context, userID int64) (*identity.User, error) {
	return &identity.User{ID: userID, Email: "user@example.com", Name: "Test User"}, nil
}

func pendingOrder(repo *stubRepo, userID int64) int64 {
	orderID, _ := repo.CreateOrder(context.Background(), &model.Order{
		UserID:     userID,
		ExternalID: "ext-1",
		Items: []model.OrderItem{
			{ProductID: 1, Name: "Widget", PriceCents: 100_00, Quantity: 2},
			{ProductID: 2, Name: "Gadget", PriceCents: 40_00, Quantity: 1},
		},
		ShippingAddress: addr(),
		PaymentStatus:   model.PaymentStatusPending,
		TotalPriceCents: 259_20,
		CoinsEarned:     20,
		Status:          model.OrderStatusPending,
	})
	return orderID
}

func TestApplyConfirmation_Idempotent(t *testing.T) {
	repo := newStubRepo()
	repo.products[1] = &model.Product{ID: 1, Name: "Widget", PriceCents: 100_00, Stock: 5}
	repo.products[2] = &model.Product{ID: 2, Name: "Gadget", PriceCents: 40_00, Stock: 5}

	notifier := &stubNotifier{}
	svc := NewService(repo, nil, notifier, stubIdentity{}, nil)

	orderID := pendingOrder(repo, 1)

	order, err := svc.ApplyConfirmation(context.Background(), orderID, "pi_123")
	if err != nil {
		t.Fatalf("ApplyConfirmation error: %v", err)
	}

	if order.Status != model.OrderStatusConfirmed || order.PaymentStatus != model.PaymentStatusSucceeded {
		t.Fatalf("order state = %s/%s, want confirmed/succeeded", order.Status, order.PaymentStatus)
	}
	if order.PaymentID == nil || *order.PaymentID != "pi_123" {
		t.Fatalf("paymentID not recorded: %+v", order.PaymentID)
	}
	if !order.InvoiceSent {
		t.Fatalf("invoiceSent flag not set")
	}
	if got := repo.stock(1); got != 3 {
		t.Fatalf("stock(1) = %d, want 3", got)
	}
	if w := repo.wallet(1); w.Coins != 20 {
		t.Fatalf("coins = %d, want 20", w.Coins)
	}

	// Повторная доставка того же события: успех без повторных эффектов.
	again, err := svc.ApplyConfirmation(context.Background(), orderID, "pi_123")
	if err != nil {
		t.Fatalf("second ApplyConfirmation error: %v", err)
	}
	if again.Status != model.OrderStatusConfirmed {
		t.Fatalf("order state after replay = %s, want confirmed", again.Status)
	}
	if got := repo.stock(1); got != 3 {
		t.Fatalf("stock(1) after replay = %d, want 3", got)
	}
	if w := repo.wallet(1); w.Coins != 20 {
		t.Fatalf("coins after replay = %d, want 20", w.Coins)
	}
	if repo.cartCleared[1] != 1 {
		t.Fatalf("cart cleared %d times, want 1", repo.cartCleared[1])
	}

	sent := notifier.sent()
	if len(sent) != 1 || sent[0] != notification.KindInvoice {
		t.Fatalf("notifications = %v, want single invoice", sent)
	}
}

func TestApplyConfirmation_Concurrent(t *testing.T) {
	repo := newStubRepo()
	repo.products[1] = &model.Product{ID: 1, Name: "Widget", PriceCents: 100_00, Stock: 5}
	repo.products[2] = &model.Product{ID: 2, Name: "Gadget", PriceCents: 40_00, Stock: 5}

	notifier := &stubNotifier{}
	svc := NewService(repo, nil, notifier, stubIdentity{}, nil)

	orderID := pendingOrder(repo, 1)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.ApplyConfirmation(context.Background(), orderID, "pi_123"); err != nil {
				t.Errorf("ApplyConfirmation error: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := repo.stock(1); got != 3 {
		t.Fatalf("stock(1) = %d, want 3 (decremented exactly once)", got)
	}
	if w := repo.wallet(1); w.Coins != 20 {
		t.Fatalf("coins = %d, want 20 (credited exactly once)", w.Coins)
	}
	if sent := notifier.sent(); len(sent) != 1 {
		t.Fatalf("notifications = %v, want exactly one", sent)
	}
}

func TestApplyFailure(t *testing.T) {
	repo := newStubRepo()
	repo.products[1] = &model.Product{ID: 1, Name: "Widget", PriceCents: 100_00, Stock: 5}
	repo.products[2] = &model.Product{ID: 2, Name: "Gadget", PriceCents: 40_00, Stock: 5}

	svc := NewService(repo, nil, nil, nil, nil)

	orderID := pendingOrder(repo, 1)

	if err := svc.ApplyFailure(context.Background(), orderID, "pi_123"); err != nil {
		t.Fatalf("ApplyFailure error: %v", err)
	}

	order, _ := repo.GetOrderByID(context.Background(), orderID)
	if order.Status != model.OrderStatusFailed || order.PaymentStatus != model.PaymentStatusFailed {
		t.Fatalf("order state = %s/%s, want failed/failed", order.Status, order.PaymentStatus)
	}
	if got := repo.stock(1); got != 5 {
		t.Fatalf("stock(1) = %d, failed payment must not touch stock", got)
	}
	if w := repo.wallet(1); w.Coins != 0 {
		t.Fatalf("coins = %d, failed payment must not credit wallet", w.Coins)
	}

	// Подтверждение после фиксации неуспеха не реанимирует заказ.
	confirmed, err := svc.ApplyConfirmation(context.Background(), orderID, "pi_123")
	if err != nil {
		t.Fatalf("ApplyConfirmation after failure: %v", err)
	}
	if confirmed.Status != model.OrderStatusFailed {
		t.Fatalf("order state = %s, want failed", confirmed.Status)
	}
	if got := repo.stock(1); got != 5 {
		t.Fatalf("stock(1) = %d, want 5", got)
	}
}

func TestCreatePaymentIntent(t *testing.T) {
	repo := newStubRepo()
	repo.products[1] = &model.Product{ID: 1, Name: "Widget", PriceCents: 100_00, Stock: 5}

	gateway := &stubGateway{intent: &payment.Intent{ID: "pi_123", ClientSecret: "pi_123_secret"}}
	svc := NewService(repo, gateway, nil, nil, nil)

	result, err := svc.CreatePaymentIntent(context.Background(), 1, "ext-1", CheckoutRequest{
		Items:           []CheckoutItem{{ProductID: 1, Quantity: 2}},
		ShippingAddress: addr(),
	})
	if err != nil {
		t.Fatalf("CreatePaymentIntent error: %v", err)
	}

	if result.ClientSecret != "pi_123_secret" {
		t.Fatalf("clientSecret = %q", result.ClientSecret)
	}

	want := int64(200_00 + 10_00 + 16_00)
	if gateway.lastAmount != want {
		t.Fatalf("intent amount = %d, want %d", gateway.lastAmount, want)
	}
	if gateway.lastOrderID != result.OrderID {
		t.Fatalf("intent orderID = %d, want %d", gateway.lastOrderID, result.OrderID)
	}

	order, _ := repo.GetOrderByID(context.Background(), result.OrderID)
	if order.Status != model.OrderStatusPending || order.PaymentStatus != model.PaymentStatusPending {
		t.Fatalf("order state = %s/%s, want pending/pending", order.Status, order.PaymentStatus)
	}

	// Отложенное оформление не трогает ни остатки, ни кошелёк.
	if got := repo.stock(1); got != 5 {
		t.Fatalf("stock = %d, want 5", got)
	}
	if w := repo.wallet(1); w.Coins != 0 {
		t.Fatalf("coins = %d, want 0", w.Coins)
	}
}

func TestApplyFailure_ReleasesCoupon(t *testing.T) {
	repo := newStubRepo()
	repo.products[1] = &model.Product{ID: 1, Name: "Widget", PriceCents: 100_00, Stock: 5}
	repo.coupons[1] = &model.Coupon{
		ID: 1, UserID: 1, Code: "ABCDEF", DiscountPercent: 10,
		ExpiresAt: time.Now().Add(time.Hour),
	}

	gateway := &stubGateway{intent: &payment.Intent{ID: "pi_123", ClientSecret: "pi_123_secret"}}
	svc := NewService(repo, gateway, nil, nil, nil)

	result, err := svc.CreatePaymentIntent(context.Background(), 1, "ext-1", CheckoutRequest{
		Items:           []CheckoutItem{{ProductID: 1, Quantity: 2}},
		ShippingAddress: addr(),
		CouponCode:      "ABCDEF",
	})
	if err != nil {
		t.Fatalf("CreatePaymentIntent error: %v", err)
	}
	if !repo.coupons[1].IsUsed {
		t.Fatalf("coupon must be claimed by the pending order")
	}

	if err := svc.ApplyFailure(context.Background(), result.OrderID, "pi_123"); err != nil {
		t.Fatalf("ApplyFailure error: %v", err)
	}

	if repo.coupons[1].IsUsed || repo.coupons[1].UsedAt != nil {
		t.Fatalf("coupon not released after failed payment: %+v", repo.coupons[1])
	}

	// Тот же код применим к повторному оформлению.
	order, err := svc.CreateOrder(context.Background(), 1, "ext-1", CheckoutRequest{
		Items:           []CheckoutItem{{ProductID: 1, Quantity: 2}},
		ShippingAddress: addr(),
		CouponCode:      "ABCDEF",
	})
	if err != nil {
		t.Fatalf("retry checkout with released coupon: %v", err)
	}
	if order.DiscountCents == 0 {
		t.Fatalf("retry checkout did not apply the coupon")
	}
	if !repo.coupons[1].IsUsed || repo.coupons[1].OrderID == nil || *repo.coupons[1].OrderID != order.ID {
		t.Fatalf("coupon not claimed by the retry order: %+v", repo.coupons[1])
	}

	// Запоздавший повтор старого события не освобождает купон заново.
	if err := svc.ApplyFailure(context.Background(), result.OrderID, "pi_123"); err != nil {
		t.Fatalf("replayed ApplyFailure error: %v", err)
	}
	if !repo.coupons[1].IsUsed {
		t.Fatalf("replayed failure must not release the coupon claimed elsewhere")
	}
}

func TestCreateOrder_ReleasesCouponOnStockRace(t *testing.T) {
	repo := newStubRepo()
	repo.products[1] = &model.Product{ID: 1, Name: "Widget", PriceCents: 150_00, Stock: 1}
	repo.coupons[1] = &model.Coupon{
		ID: 1, UserID: 1, Code: "ABCDEF", DiscountPercent: 10,
		ExpiresAt: time.Now().Add(time.Hour),
	}

	svc := NewService(repo, nil, nil, nil, nil)

	// Две позиции одного товара проходят попозиционную проверку остатка,
	// но второе условное списание отклоняется уже после захвата купона.
	_, err := svc.CreateOrder(context.Background(), 1, "ext-1", CheckoutRequest{
		Items: []CheckoutItem{
			{ProductID: 1, Quantity: 1},
			{ProductID: 1, Quantity: 1},
		},
		ShippingAddress: addr(),
		CouponCode:      "ABCDEF",
	})
	if !errors.Is(err, repository.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	if repo.coupons[1].IsUsed {
		t.Fatalf("coupon must be released when the checkout is rejected")
	}
}

func TestCreatePaymentIntent_NoGateway(t *testing.T) {
	repo := newStubRepo()
	repo.products[1] = &model.Product{ID: 1, Name: "Widget", PriceCents: 100_00, Stock: 5}
	repo.coupons[1] = &model.Coupon{
		ID: 1, UserID: 1, Code: "ABCDEF", DiscountPercent: 10,
		ExpiresAt: time.Now().Add(time.Hour),
	}

	svc := NewService(repo, nil, nil, nil, nil)

	_, err := svc.CreatePaymentIntent(context.Background(), 1, "ext-1", CheckoutRequest{
		Items:           []CheckoutItem{{ProductID: 1, Quantity: 2}},
		ShippingAddress: addr(),
		CouponCode:      "ABCDEF",
	})
	if !errors.Is(err, ErrGateway) {
		t.Fatalf("expected ErrGateway, got %v", err)
	}

	// Ненастроенный шлюз отклоняет запрос до каких-либо мутаций.
	if len(repo.orders) != 0 {
		t.Fatalf("orders created without a gateway: %d", len(repo.orders))
	}
	if repo.coupons[1].IsUsed {
		t.Fatalf("coupon claimed without a gateway")
	}
}

func TestCreatePaymentIntent_GatewayError(t *testing.T) {
	repo := newStubRepo()
	repo.products[1] = &model.Product{ID: 1, Name: "Widget", PriceCents: 100_00, Stock: 5}

	gateway := &stubGateway{err: errors.New("connection refused")}
	svc := NewService(repo, gateway, nil, nil, nil)

	_, err := svc.CreatePaymentIntent(context.Background(), 1, "ext-1", CheckoutRequest{
		Items:           []CheckoutItem{{ProductID: 1, Quantity: 1}},
		ShippingAddress: addr(),
	})
	if !errors.Is(err, ErrGateway) {
		t.Fatalf("expected ErrGateway, got %v", err)
	}
}

func TestConfirmOrderManually(t *testing.T) {
	repo := newStubRepo()
	repo.products[1] = &model.Product{ID: 1, Name: "Widget", PriceCents: 100_00, Stock: 5}
	repo.products[2] = &model.Product{ID: 2, Name: "Gadget", PriceCents: 40_00, Stock: 5}

	svc := NewService(repo, nil, nil, nil, nil)

	orderID := pendingOrder(repo, 1)

	order, err := svc.ConfirmOrderManually(context.Background(), 1, orderID)
	if err != nil {
		t.Fatalf("ConfirmOrderManually error: %v", err)
	}

	if order.Status != model.OrderStatusConfirmed {
		t.Fatalf("order state = %s, want confirmed", order.Status)
	}
	if order.PaymentID == nil || !strings.HasPrefix(*order.PaymentID, "manual_") {
		t.Fatalf("paymentID = %v, want manual_ prefix", order.PaymentID)
	}
	if got := repo.stock(1); got != 3 {
		t.Fatalf("stock(1) = %d, want 3", got)
	}
}

func TestConfirmOrderManually_NotOwner(t *testing.T) {
	repo := newStubRepo()
	svc := NewService(repo, nil, nil, nil, nil)

	orderID := pendingOrder(repo, 1)

	_, err := svc.ConfirmOrderManually(context.Background(), 2, orderID)
	if !errors.Is(err, repository.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}

	order, _ := repo.GetOrderByID(context.Background(), orderID)
	if order.Status != model.OrderStatusPending {
		t.Fatalf("order state = %s, foreign confirm must not change it", order.Status)
	}
}

func TestReorder(t *testing.T) {
	repo := newStubRepo()
	// Цена выросла после оформления исходного заказа.
	repo.products[1] = &model.Product{ID: 1, Name: "Widget", PriceCents: 120_00, Stock: 5}
	// Товара 2 больше нет в каталоге; у товара 3 не хватает остатка.
	repo.products[3] = &model.Product{ID: 3, Name: "Gizmo", PriceCents: 30_00, Stock: 1}

	orderID, _ := repo.CreateOrder(context.Background(), &model.Order{
		UserID: 1,
		Items: []model.OrderItem{
			{ProductID: 1, Name: "Widget", PriceCents: 100_00, Quantity: 2},
			{ProductID: 2, Name: "Gadget", PriceCents: 40_00, Quantity: 1},
			{ProductID: 3, Name: "Gizmo", PriceCents: 30_00, Quantity: 2},
		},
		ShippingAddress: addr(),
		Status:          model.OrderStatusDelivered,
	})

	svc := NewService(repo, nil, nil, nil, nil)

	result, err := svc.Reorder(context.Background(), 1, orderID)
	if err != nil {
		t.Fatalf("Reorder error: %v", err)
	}

	if len(result.Items) != 1 {
		t.Fatalf("available items = %d, want 1", len(result.Items))
	}
	if result.Items[0].PriceCents != 120_00 {
		t.Fatalf("price = %d, want current catalog price 12000", result.Items[0].PriceCents)
	}
	if result.TotalPriceCents != 240_00 {
		t.Fatalf("total = %d, want 24000", result.TotalPriceCents)
	}

	if len(result.Unavailable) != 2 {
		t.Fatalf("unavailable items = %d, want 2", len(result.Unavailable))
	}
	reasons := map[string]string{}
	for _, u := range result.Unavailable {
		reasons[u.Name] = u.Reason
	}
	if reasons["Gadget"] != "Product no longer available" {
		t.Fatalf("reason for Gadget = %q", reasons["Gadget"])
	}
	if reasons["Gizmo"] != "Only 1 in stock (you ordered 2)" {
		t.Fatalf("reason for Gizmo = %q", reasons["Gizmo"])
	}

	// Предложение корзины ничего не резервирует.
	if got := repo.stock(1); got != 5 {
		t.Fatalf("stock = %d, reorder must not mutate", got)
	}
}

func TestReorder_NothingAvailable(t *testing.T) {
	repo := newStubRepo()

	orderID, _ := repo.CreateOrder(context.Background(), &model.Order{
		UserID: 1,
		Items: []model.OrderItem{
			{ProductID: 42, Name: "Discontinued", PriceCents: 10_00, Quantity: 1},
		},
		Status: model.OrderStatusDelivered,
	})

	svc := NewService(repo, nil, nil, nil, nil)

	result, err := svc.Reorder(context.Background(), 1, orderID)
	if !errors.Is(err, ErrNothingAvailable) {
		t.Fatalf("expected ErrNothingAvailable, got %v", err)
	}
	if result == nil || len(result.Unavailable) != 1 {
		t.Fatalf("expected unavailable list alongside the error, got %+v", result)
	}
}

func TestReorder_NotOwner(t *testing.T) {
	repo := newStubRepo()
	orderID := pendingOrder(repo, 1)

	svc := NewService(repo, nil, nil, nil, nil)

	_, err := svc.Reorder(context.Background(), 2, orderID)
	if !errors.Is(err, repository.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
}

func TestHideOrder(t *testing.T) {
	repo := newStubRepo()
	orderID := pendingOrder(repo, 1)

	svc := NewService(repo, nil, nil, nil, nil)

	if err := svc.HideOrder(context.Background(), 2, orderID); !errors.Is(err, repository.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}

	if err := svc.HideOrder(context.Background(), 1, orderID); err != nil {
		t.Fatalf("HideOrder error: %v", err)
	}

	orders, err := svc.GetOrders(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetOrders error: %v", err)
	}
	if len(orders) != 0 {
		t.Fatalf("hidden order still listed: %+v", orders)
	}

	// Данные заказа сохраняются, скрытие не удаление.
	if _, err := repo.GetOrderByID(context.Background(), orderID); err != nil {
		t.Fatalf("hidden order must remain readable: %v", err)
	}

	if err := svc.HideOrder(context.Background(), 1, 999); !errors.Is(err, repository.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}
