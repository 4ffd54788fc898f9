package handler

import (
	"encoding/json"
	"math"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/nexent-shop/internal/middleware"
	"github.com/mmeshcher/nexent-shop/internal/model"
)

type walletResponse struct {
	Coins         int64 `json:"coins"`
	LifetimeCoins int64 `json:"lifetimeCoins"`
}

// GetWallet возвращает кошелёк текущего пользователя, создавая его при первом обращении.
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	wallet, err := h.service.GetWallet(r.Context(), id.UserID, id.ExternalID)
	if err != nil {
		h.writeServiceError(w, err, "get wallet error", zap.Int64("userID", id.UserID))
		return
	}

	writeJSON(w, http.StatusOK, walletResponse{
		Coins:         wallet.Coins,
		LifetimeCoins: wallet.LifetimeCoins,
	})
}

type transactionResponse struct {
	Type        string `json:"type"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
	OrderID     *int64 `json:"orderId,omitempty"`
	CouponID    *int64 `json:"couponId,omitempty"`
	CreatedAt   string `json:"createdAt"`
}

// GetTransactions возвращает журнал операций кошелька текущего пользователя.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	transactions, err := h.service.GetWalletTransactions(r.Context(), id.UserID)
	if err != nil {
		h.writeServiceError(w, err, "get transactions error", zap.Int64("userID", id.UserID))
		return
	}

	resp := make([]transactionResponse, 0, len(transactions))
	for _, t := range transactions {
		resp = append(resp, transactionResponse{
			Type:        string(t.Type),
			Amount:      t.Amount,
			Description: t.Description,
			OrderID:     t.OrderID,
			CouponID:    t.CouponID,
			CreatedAt:   t.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

type couponResponse struct {
	ID              int64  `json:"id"`
	Code            string `json:"code"`
	Tier            string `json:"tier"`
	DiscountPercent int64  `json:"discountPercent"`
	CoinsRequired   int64  `json:"coinsRequired"`
	IsUsed          bool   `json:"isUsed"`
	ExpiresAt       string `json:"expiresAt"`
	CreatedAt       string `json:"createdAt"`
}

func toCouponResponse(c *model.Coupon) couponResponse {
	return couponResponse{
		ID:              c.ID,
		Code:            c.Code,
		Tier:            string(c.Tier),
		DiscountPercent: c.DiscountPercent,
		CoinsRequired:   c.CoinsRequired,
		IsUsed:          c.IsUsed,
		ExpiresAt:       c.ExpiresAt.Format(time.RFC3339),
		CreatedAt:       c.CreatedAt.Format(time.RFC3339),
	}
}

// GetCoupons возвращает действующие купоны текущего пользователя.
func (h *Handler) GetCoupons(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	coupons, err := h.service.GetActiveCoupons(r.Context(), id.UserID)
	if err != nil {
		h.writeServiceError(w, err, "get coupons error", zap.Int64("userID", id.UserID))
		return
	}

	resp := make([]couponResponse, 0, len(coupons))
	for i := range coupons {
		resp = append(resp, toCouponResponse(&coupons[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

type redeemRequest struct {
	Type string `json:"type"`
}

// RedeemCoupon обменивает монеты текущего пользователя на купон указанного уровня.
func (h *Handler) RedeemCoupon(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Type == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "Coupon type is required")
		return
	}

	coupon, err := h.service.RedeemCoupon(r.Context(), id.UserID, id.ExternalID, model.CouponTier(req.Type))
	if err != nil {
		h.writeServiceError(w, err, "redeem coupon error", zap.Int64("userID", id.UserID))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Coupon redeemed successfully",
		"coupon":  toCouponResponse(coupon),
	})
}

type validateCouponRequest struct {
	Code       string  `json:"code"`
	OrderValue float64 `json:"orderValue"`
}

type validateCouponResponse struct {
	Valid      bool           `json:"valid"`
	Coupon     couponResponse `json:"coupon"`
	Discount   float64        `json:"discount"`
	FinalPrice float64        `json:"finalPrice"`
}

// ValidateCoupon проверяет применимость купона к заказу указанной стоимости.
// Состояние купона не меняется.
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	var req validateCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "Coupon code is required")
		return
	}

	// Округление, а не усечение: 149.99 в двоичном виде чуть меньше самого себя.
	orderValueCents := int64(math.Round(req.OrderValue * 100))

	discount, coupon, err := h.service.ValidateCoupon(r.Context(), id.UserID, req.Code, orderValueCents)
	if err != nil {
		h.writeServiceError(w, err, "validate coupon error", zap.Int64("userID", id.UserID))
		return
	}

	writeJSON(w, http.StatusOK, validateCouponResponse{
		Valid:      true,
		Coupon:     toCouponResponse(coupon),
		Discount:   float64(discount) / 100,
		FinalPrice: float64(orderValueCents-discount) / 100,
	})
}
