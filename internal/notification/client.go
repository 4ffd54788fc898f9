// Package notification предоставляет клиент сервиса уведомлений.
// Доставка выполняется по принципу best-effort: сбой уведомления никогда
// не считается сбоем операции, которая его инициировала.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/mmeshcher/nexent-shop/internal/model"
)

// Kind описывает тип уведомления о заказе.
type Kind string

const (
	KindConfirmation Kind = "confirmation"
	KindInvoice      Kind = "invoice"
)

// Client инкапсулирует HTTP-взаимодействие с сервисом уведомлений.
type Client struct {
	baseURL    string
	httpClient *retryablehttp.Client
}

// NewClient создаёт клиент сервиса уведомлений по указанному адресу.
func NewClient(baseURL string) *Client {
	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = 1
	httpClient.HTTPClient.Timeout = 5 * time.Second
	httpClient.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

type notifyItem struct {
	Name     string  `json:"name"`
	Quantity int32   `json:"quantity"`
	Price    float64 `json:"price"`
	Image    string  `json:"image"`
}

type notifyRequest struct {
	Kind           Kind         `json:"kind"`
	OrderID        int64        `json:"orderId"`
	RecipientEmail string       `json:"recipientEmail"`
	RecipientName  string       `json:"recipientName"`
	TotalPrice     float64      `json:"totalPrice"`
	Discount       float64      `json:"discount"`
	CoinsEarned    int64        `json:"coinsEarned"`
	Items          []notifyItem `json:"items"`
}

// Notify отправляет уведомление о заказе. Возврат ошибки означает только то,
// что доставка не удалась: вызывающая сторона логирует её и продолжает работу.
func (c *Client) Notify(ctx context.Context, kind Kind, order *model.Order, recipientEmail, recipientName string) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("notification client not configured")
	}

	req := notifyRequest{
		Kind:           kind,
		OrderID:        order.ID,
		RecipientEmail: recipientEmail,
		RecipientName:  recipientName,
		TotalPrice:     float64(order.TotalPriceCents) / 100,
		Discount:       float64(order.DiscountCents) / 100,
		CoinsEarned:    order.CoinsEarned,
	}
	for _, item := range order.Items {
		req.Items = append(req.Items, notifyItem{
			Name:     item.Name,
			Quantity: item.Quantity,
			Price:    float64(item.PriceCents) / 100,
			Image:    item.Image,
		})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal notify request: %w", err)
	}

	url := c.baseURL + "/api/notifications"

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return nil
}
