// Package payment предоставляет клиент платёжного шлюза и разбор его уведомлений.
package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// ErrInvalidSignature возвращается, если подпись уведомления шлюза не прошла проверку.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Типы событий платёжного шлюза, обрабатываемые ядром.
const (
	EventPaymentSucceeded = "payment_intent.succeeded"
	EventPaymentFailed    = "payment_intent.payment_failed"
)

// Client инкапсулирует HTTP-взаимодействие с платёжным шлюзом.
type Client struct {
	baseURL    string
	secretKey  string
	httpClient *retryablehttp.Client
}

// Intent описывает созданное платёжное намерение.
type Intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
}

// Metadata содержит корреляционные данные, привязанные к платёжному намерению.
type Metadata struct {
	OrderID int64 `json:"orderId,string"`
	UserID  int64 `json:"userId,string"`
}

// Event описывает уведомление платёжного шлюза.
type Event struct {
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID       string   `json:"id"`
			Metadata Metadata `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// NewClient создаёт клиент платёжного шлюза по указанному адресу.
func NewClient(baseURL, secretKey string) *Client {
	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = 2
	httpClient.HTTPClient.Timeout = 10 * time.Second
	httpClient.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secretKey:  secretKey,
		httpClient: httpClient,
	}
}

type createIntentRequest struct {
	Amount   int64    `json:"amount"`
	Currency string   `json:"currency"`
	Metadata Metadata `json:"metadata"`
}

// CreateIntent создаёт платёжное намерение на указанную сумму в центах.
// Идентификаторы заказа и пользователя передаются шлюзу как корреляционные
// метаданные и возвращаются им в уведомлении.
func (c *Client) CreateIntent(ctx context.Context, amountCents int64, currency string, orderID, userID int64) (*Intent, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("payment gateway client not configured")
	}

	body, err := json.Marshal(createIntentRequest{
		Amount:   amountCents,
		Currency: currency,
		Metadata: Metadata{OrderID: orderID, UserID: userID},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal intent request: %w", err)
	}

	url := c.baseURL + "/v1/payment_intents"

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var intent Intent
	if err := json.NewDecoder(resp.Body).Decode(&intent); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &intent, nil
}

// ParseEvent проверяет подпись уведомления шлюза и разбирает его тело.
// Подпись — HMAC-SHA256 от тела запроса, переданная в hex.
func ParseEvent(payload []byte, signature, secret string) (*Event, error) {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return nil, ErrInvalidSignature
	}

	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	return &event, nil
}

// SignPayload подписывает тело уведомления. Используется шлюзом и тестами.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
