// Package handler содержит HTTP-обработчики API магазина nexent.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/nexent-shop/internal/middleware"
	"github.com/mmeshcher/nexent-shop/internal/model"
	"github.com/mmeshcher/nexent-shop/internal/payment"
	"github.com/mmeshcher/nexent-shop/internal/repository"
	"github.com/mmeshcher/nexent-shop/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateOrder(ctx context.Context, userID int64, externalID string, req service.CheckoutRequest) (*model.Order, error)
	CreatePaymentIntent(ctx context.Context, userID int64, externalID string, req service.CheckoutRequest) (*service.IntentResult, error)
	ApplyConfirmation(ctx context.Context, orderID int64, paymentID string) (*model.Order, error)
	ApplyFailure(ctx context.Context, orderID int64, paymentID string) error
	ConfirmOrderManually(ctx context.Context, userID, orderID int64) (*model.Order, error)
	GetOrders(ctx context.Context, userID int64) ([]model.Order, error)
	HideOrder(ctx context.Context, userID, orderID int64) error
	Reorder(ctx context.Context, userID, orderID int64) (*service.ReorderResult, error)
	GetWallet(ctx context.Context, userID int64, externalID string) (*model.Wallet, error)
	GetWalletTransactions(ctx context.Context, userID int64) ([]model.WalletTransaction, error)
	GetActiveCoupons(ctx context.Context, userID int64) ([]model.Coupon, error)
	RedeemCoupon(ctx context.Context, userID int64, externalID string, tier model.CouponTier) (*model.Coupon, error)
	ValidateCoupon(ctx context.Context, userID int64, code string, orderValueCents int64) (int64, *model.Coupon, error)
}

// Handler реализует HTTP-обработчики API магазина nexent.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	webhookSecret  string
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, webhookSecret string) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		webhookSecret:  webhookSecret,
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorResponse{Error: kind, Message: message})
}

// writeServiceError транслирует доменные ошибки в HTTP-статусы и структурированные
// ответы. Неизвестные ошибки логируются и отдаются как internal_error.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, logMsg string, fields ...zap.Field) {
	switch {
	case errors.Is(err, repository.ErrProductNotFound):
		writeError(w, http.StatusNotFound, "not_found", "Product not found")
	case errors.Is(err, repository.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "not_found", "Order not found")
	case errors.Is(err, repository.ErrCouponNotFound):
		writeError(w, http.StatusNotFound, "not_found", "Coupon not found")
	case errors.Is(err, repository.ErrWalletNotFound):
		writeError(w, http.StatusNotFound, "not_found", "Wallet not found")
	case errors.Is(err, repository.ErrNotOwner):
		writeError(w, http.StatusForbidden, "forbidden", "Not authorized")
	case errors.Is(err, repository.ErrInsufficientStock):
		writeError(w, http.StatusBadRequest, "insufficient_stock", err.Error())
	case errors.Is(err, repository.ErrInsufficientCoins):
		writeError(w, http.StatusBadRequest, "insufficient_coins", "Insufficient coins")
	case errors.Is(err, service.ErrCouponAlreadyUsed):
		writeError(w, http.StatusBadRequest, "coupon_used", "This coupon has already been used")
	case errors.Is(err, service.ErrCouponExpired):
		writeError(w, http.StatusBadRequest, "coupon_expired", "Coupon has expired")
	case errors.Is(err, service.ErrBelowMinimum):
		writeError(w, http.StatusBadRequest, "below_minimum", "Order value must be at least $100 to use this coupon")
	case errors.Is(err, service.ErrEmptyOrder):
		writeError(w, http.StatusBadRequest, "validation_error", "No order items")
	case errors.Is(err, service.ErrInvalidItem):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, service.ErrInvalidTier):
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid coupon type")
	case errors.Is(err, service.ErrGateway):
		h.logger.Error(logMsg, append(fields, zap.Error(err))...)
		writeError(w, http.StatusBadGateway, "gateway_error", "Failed to create payment intent")
	default:
		h.logger.Error(logMsg, append(fields, zap.Error(err))...)
		writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}

type checkoutItemRequest struct {
	ProductID int64 `json:"productId"`
	Quantity  int32 `json:"quantity"`
}

type createOrderRequest struct {
	Items           []checkoutItemRequest  `json:"items"`
	ShippingAddress *model.ShippingAddress `json:"shippingAddress"`
	CouponCode      string                 `json:"couponCode"`
	PaymentID       string                 `json:"paymentId"`
}

func (r *createOrderRequest) toCheckout() (service.CheckoutRequest, string) {
	if r.ShippingAddress == nil {
		return service.CheckoutRequest{}, "Shipping address is required"
	}

	addr := *r.ShippingAddress
	if addr.FullName == "" || addr.StreetAddress == "" || addr.City == "" ||
		addr.State == "" || addr.ZipCode == "" || addr.PhoneNumber == "" {
		return service.CheckoutRequest{}, "Shipping address is incomplete"
	}

	req := service.CheckoutRequest{
		ShippingAddress: addr,
		CouponCode:      r.CouponCode,
		PaymentID:       r.PaymentID,
	}
	for _, item := range r.Items {
		req.Items = append(req.Items, service.CheckoutItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		})
	}

	return req, ""
}

type orderItemResponse struct {
	ProductID int64   `json:"productId"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Quantity  int32   `json:"quantity"`
	Image     string  `json:"image"`
}

type paymentResultResponse struct {
	ID     *string `json:"id"`
	Status string  `json:"status"`
}

type orderResponse struct {
	ID              int64                 `json:"id"`
	Items           []orderItemResponse   `json:"items"`
	ShippingAddress model.ShippingAddress `json:"shippingAddress"`
	PaymentResult   paymentResultResponse `json:"paymentResult"`
	TotalPrice      float64               `json:"totalPrice"`
	Discount        float64               `json:"discount"`
	CouponUsed      *int64                `json:"couponUsed"`
	CoinsEarned     int64                 `json:"coinsEarned"`
	Status          string                `json:"status"`
	InvoiceSent     bool                  `json:"invoiceSent"`
	CreatedAt       string                `json:"createdAt"`
}

func toOrderResponse(o *model.Order) orderResponse {
	resp := orderResponse{
		ID:              o.ID,
		ShippingAddress: o.ShippingAddress,
		PaymentResult: paymentResultResponse{
			ID:     o.PaymentID,
			Status: string(o.PaymentStatus),
		},
		TotalPrice:  float64(o.TotalPriceCents) / 100,
		Discount:    float64(o.DiscountCents) / 100,
		CouponUsed:  o.CouponID,
		CoinsEarned: o.CoinsEarned,
		Status:      string(o.Status),
		InvoiceSent: o.InvoiceSent,
		CreatedAt:   o.CreatedAt.Format(time.RFC3339),
	}
	for _, item := range o.Items {
		resp.Items = append(resp.Items, orderItemResponse{
			ProductID: item.ProductID,
			Name:      item.Name,
			Price:     float64(item.PriceCents) / 100,
			Quantity:  item.Quantity,
			Image:     item.Image,
		})
	}

	return resp
}

// CreateOrder оформляет заказ с немедленной оплатой.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Malformed request body")
		return
	}

	checkout, msg := req.toCheckout()
	if msg != "" {
		writeError(w, http.StatusBadRequest, "validation_error", msg)
		return
	}

	order, err := h.service.CreateOrder(r.Context(), id.UserID, id.ExternalID, checkout)
	if err != nil {
		h.writeServiceError(w, err, "create order error", zap.Int64("userID", id.UserID))
		return
	}

	writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

// GetOrders возвращает видимые заказы текущего пользователя.
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	orders, err := h.service.GetOrders(r.Context(), id.UserID)
	if err != nil {
		h.writeServiceError(w, err, "get orders error", zap.Int64("userID", id.UserID))
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, toOrderResponse(&orders[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

func orderIDFromURL(r *http.Request) (int64, bool) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil || orderID <= 0 {
		return 0, false
	}
	return orderID, true
}

// HideOrder скрывает заказ из списков текущего пользователя.
func (h *Handler) HideOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	orderID, ok := orderIDFromURL(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid order id")
		return
	}

	if err := h.service.HideOrder(r.Context(), id.UserID, orderID); err != nil {
		h.writeServiceError(w, err, "hide order error", zap.Int64("orderID", orderID))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Order hidden successfully"})
}

type reorderItemResponse struct {
	ProductID int64   `json:"productId"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Quantity  int32   `json:"quantity"`
	Image     string  `json:"image"`
}

type unavailableItemResponse struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

type reorderResponse struct {
	Message          string                    `json:"message"`
	CartItems        []reorderItemResponse     `json:"cartItems"`
	TotalPrice       float64                   `json:"totalPrice"`
	UnavailableItems []unavailableItemResponse `json:"unavailableItems,omitempty"`
	ShippingAddress  model.ShippingAddress     `json:"shippingAddress"`
}

// Reorder собирает корзину повторного заказа в актуальных ценах.
func (h *Handler) Reorder(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	orderID, ok := orderIDFromURL(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid order id")
		return
	}

	result, err := h.service.Reorder(r.Context(), id.UserID, orderID)
	if err != nil {
		if errors.Is(err, service.ErrNothingAvailable) {
			writeError(w, http.StatusBadRequest, "nothing_available",
				"None of the items from this order are available for reorder")
			return
		}
		h.writeServiceError(w, err, "reorder error", zap.Int64("orderID", orderID))
		return
	}

	resp := reorderResponse{
		Message:         "All items are available for reorder",
		TotalPrice:      float64(result.TotalPriceCents) / 100,
		ShippingAddress: result.ShippingAddress,
	}
	if len(result.Unavailable) > 0 {
		resp.Message = "Some items are unavailable, but we've prepared your cart with available items"
	}
	for _, item := range result.Items {
		resp.CartItems = append(resp.CartItems, reorderItemResponse{
			ProductID: item.ProductID,
			Name:      item.Name,
			Price:     float64(item.PriceCents) / 100,
			Quantity:  item.Quantity,
			Image:     item.Image,
		})
	}
	for _, item := range result.Unavailable {
		resp.UnavailableItems = append(resp.UnavailableItems, unavailableItemResponse{
			Name:   item.Name,
			Reason: item.Reason,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

type intentResponse struct {
	ClientSecret string `json:"clientSecret"`
	OrderID      int64  `json:"orderId"`
}

// CreatePaymentIntent оформляет заказ с отложенной оплатой через платёжный шлюз.
func (h *Handler) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Malformed request body")
		return
	}

	checkout, msg := req.toCheckout()
	if msg != "" {
		writeError(w, http.StatusBadRequest, "validation_error", msg)
		return
	}

	result, err := h.service.CreatePaymentIntent(r.Context(), id.UserID, id.ExternalID, checkout)
	if err != nil {
		h.writeServiceError(w, err, "create payment intent error", zap.Int64("userID", id.UserID))
		return
	}

	writeJSON(w, http.StatusOK, intentResponse{
		ClientSecret: result.ClientSecret,
		OrderID:      result.OrderID,
	})
}

// Webhook принимает уведомления платёжного шлюза. Подпись проверяется до
// какой-либо обработки; на ошибки подписи и метаданных возвращается 400,
// чтобы повторной доставкой управляла политика самого шлюза.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Cannot read request body")
		return
	}
	defer r.Body.Close()

	event, err := payment.ParseEvent(body, r.Header.Get("Gateway-Signature"), h.webhookSecret)
	if err != nil {
		h.logger.Error("webhook verification failed", zap.Error(err))
		writeError(w, http.StatusBadRequest, "validation_error", "Webhook verification failed")
		return
	}

	switch event.Type {
	case payment.EventPaymentSucceeded, payment.EventPaymentFailed:
	default:
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	if event.Data.Object.Metadata.OrderID == 0 {
		writeError(w, http.StatusBadRequest, "validation_error", "Missing required metadata")
		return
	}

	orderID := event.Data.Object.Metadata.OrderID
	paymentID := event.Data.Object.ID

	if event.Type == payment.EventPaymentSucceeded {
		if _, err := h.service.ApplyConfirmation(r.Context(), orderID, paymentID); err != nil {
			if errors.Is(err, repository.ErrOrderNotFound) {
				writeError(w, http.StatusNotFound, "not_found", "Order not found")
				return
			}
			h.logger.Error("webhook confirmation error", zap.Int64("orderID", orderID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal_error", "Failed to process order")
			return
		}
	} else {
		if err := h.service.ApplyFailure(r.Context(), orderID, paymentID); err != nil && !errors.Is(err, repository.ErrOrderNotFound) {
			h.logger.Error("webhook failure handling error", zap.Int64("orderID", orderID), zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

type confirmOrderRequest struct {
	OrderID int64 `json:"orderId"`
}

// ConfirmOrder — ручное подтверждение оплаты владельцем заказа, резервный путь
// на случай недоступности уведомлений шлюза.
func (h *Handler) ConfirmOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	var req confirmOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrderID <= 0 {
		writeError(w, http.StatusBadRequest, "validation_error", "Order ID is required")
		return
	}

	order, err := h.service.ConfirmOrderManually(r.Context(), id.UserID, req.OrderID)
	if err != nil {
		h.writeServiceError(w, err, "confirm order error", zap.Int64("orderID", req.OrderID))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Order confirmed",
		"order":   toOrderResponse(order),
	})
}
