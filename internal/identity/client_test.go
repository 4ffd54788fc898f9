package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGetUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/users/7" {
			t.Errorf("path = %q, want /api/users/7", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(User{ID: 7, Email: "user@example.com", Name: "Test User"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)

	user, err := client.GetUser(context.Background(), 7)
	if err != nil {
		t.Fatalf("GetUser error: %v", err)
	}

	if user.ID != 7 || user.Email != "user@example.com" || user.Name != "Test User" {
		t.Fatalf("unexpected user: %+v", user)
	}
}

func TestGetUser_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)

	if _, err := client.GetUser(context.Background(), 404); err == nil {
		t.Fatalf("expected error for missing user")
	}
}
