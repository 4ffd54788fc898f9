package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCreateIntent(t *testing.T) {
	var gotReq createIntentRequest
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payment_intents" {
			t.Errorf("path = %q, want /v1/payment_intents", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Intent{ID: "pi_123", ClientSecret: "pi_123_secret"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "sk_test")

	intent, err := client.CreateIntent(context.Background(), 226_00, "usd", 7, 1)
	if err != nil {
		t.Fatalf("CreateIntent error: %v", err)
	}

	if intent.ID != "pi_123" || intent.ClientSecret != "pi_123_secret" {
		t.Fatalf("unexpected intent: %+v", intent)
	}
	if gotAuth != "Bearer sk_test" {
		t.Fatalf("authorization = %q", gotAuth)
	}
	if gotReq.Amount != 226_00 || gotReq.Currency != "usd" {
		t.Fatalf("unexpected request: %+v", gotReq)
	}
	if gotReq.Metadata.OrderID != 7 || gotReq.Metadata.UserID != 1 {
		t.Fatalf("unexpected metadata: %+v", gotReq.Metadata)
	}
}

func TestCreateIntent_UnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "sk_test")

	if _, err := client.CreateIntent(context.Background(), 100_00, "usd", 7, 1); err == nil {
		t.Fatalf("expected error on non-200 response")
	}
}

func TestParseEvent(t *testing.T) {
	payload := []byte(`{"type":"payment_intent.succeeded","data":{"object":{"id":"pi_123","metadata":{"orderId":"7","userId":"1"}}}}`)
	secret := "whsec_test"

	event, err := ParseEvent(payload, SignPayload(payload, secret), secret)
	if err != nil {
		t.Fatalf("ParseEvent error: %v", err)
	}

	if event.Type != EventPaymentSucceeded {
		t.Fatalf("type = %q", event.Type)
	}
	if event.Data.Object.ID != "pi_123" {
		t.Fatalf("object id = %q", event.Data.Object.ID)
	}
	if event.Data.Object.Metadata.OrderID != 7 || event.Data.Object.Metadata.UserID != 1 {
		t.Fatalf("metadata = %+v", event.Data.Object.Metadata)
	}
}

func TestParseEvent_InvalidSignature(t *testing.T) {
	payload := []byte(`{"type":"payment_intent.succeeded"}`)

	tests := []struct {
		name      string
		signature string
	}{
		{name: "empty", signature: ""},
		{name: "garbage", signature: "deadbeef"},
		{name: "wrong secret", signature: SignPayload(payload, "other_secret")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseEvent(payload, tt.signature, "whsec_test"); !errors.Is(err, ErrInvalidSignature) {
				t.Fatalf("expected ErrInvalidSignature, got %v", err)
			}
		})
	}
}

func TestParseEvent_TamperedPayload(t *testing.T) {
	payload := []byte(`{"type":"payment_intent.succeeded"}`)
	signature := SignPayload(payload, "whsec_test")

	tampered := []byte(`{"type":"payment_intent.payment_failed"}`)
	if _, err := ParseEvent(tampered, signature, "whsec_test"); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}
