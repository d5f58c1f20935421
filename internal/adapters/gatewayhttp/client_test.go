package gatewayhttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tillpoint/internal/checkout"
)

func TestAuthorize_Paid(t *testing.T) {
	var got authorizeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/pay" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"Paid"}`))
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, time.Second)
	amount := decimal.RequireFromString("15.50")
	outcome, err := client.Authorize(context.Background(), 7, amount, "4111111111111111")
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if outcome.Status != checkout.StatusPaid {
		t.Fatalf("expected Paid, got %s", outcome.Status)
	}
	if got.SaleID != 7 || got.CardNumber != "4111111111111111" || !got.Amount.Equal(amount) {
		t.Fatalf("unexpected forwarded request: %+v", got)
	}
}

func TestAuthorize_Declined(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"Declined"}`))
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, time.Second)
	outcome, err := client.Authorize(context.Background(), 1, decimal.New(100, -2), "4000000000000002")
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if outcome.Status != checkout.StatusDeclined {
		t.Fatalf("expected Declined, got %s", outcome.Status)
	}
}

func TestAuthorize_ClientErrorIsTerminalFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "card number malformed", http.StatusUnprocessableEntity)
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, time.Second)
	outcome, err := client.Authorize(context.Background(), 1, decimal.New(100, -2), "junk")
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if outcome.Status != checkout.StatusFailed {
		t.Fatalf("expected Failed, got %s", outcome.Status)
	}
	if !strings.Contains(outcome.Raw, "422") || !strings.Contains(outcome.Raw, "card number malformed") {
		t.Fatalf("unexpected raw outcome %q", outcome.Raw)
	}
}

func TestAuthorize_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, time.Second)
	_, err := client.Authorize(context.Background(), 1, decimal.New(100, -2), "4111111111111111")
	if !errors.Is(err, checkout.ErrGatewayTransient) {
		t.Fatalf("expected ErrGatewayTransient, got %v", err)
	}
}

func TestAuthorize_UnknownStatusIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"Settling"}`))
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, time.Second)
	_, err := client.Authorize(context.Background(), 1, decimal.New(100, -2), "4111111111111111")
	if !errors.Is(err, checkout.ErrGatewayTransient) {
		t.Fatalf("expected ErrGatewayTransient, got %v", err)
	}
}

func TestAuthorize_TimeoutIsTransient(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	client := NewClient(srv.URL, 20*time.Millisecond)
	_, err := client.Authorize(context.Background(), 1, decimal.New(100, -2), "4111111111111111")
	if !errors.Is(err, checkout.ErrGatewayTransient) {
		t.Fatalf("expected ErrGatewayTransient, got %v", err)
	}
}

func TestAuthorize_ConnectionRefusedIsTransient(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", 200*time.Millisecond)
	_, err := client.Authorize(context.Background(), 1, decimal.New(100, -2), "4111111111111111")
	if !errors.Is(err, checkout.ErrGatewayTransient) {
		t.Fatalf("expected ErrGatewayTransient, got %v", err)
	}
}
