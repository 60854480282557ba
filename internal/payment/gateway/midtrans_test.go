package gateway_test

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/smallbiznis/bookvault/internal/config"
	paymentdomain "github.com/smallbiznis/bookvault/internal/payment/domain"
	"github.com/smallbiznis/bookvault/internal/payment/gateway"
	"go.uber.org/zap"
)

func newGateway(serverKey, baseURL string, retries int) *gateway.Midtrans {
	return gateway.NewMidtrans(config.GatewayConfig{
		ServerKey:   serverKey,
		BaseURL:     baseURL,
		MaxRetries:  retries,
		HTTPTimeout: 5 * time.Second,
	}, zap.NewNop())
}

func TestChargeReturnsToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/snap/v1/transactions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"token":"snap-token-1","redirect_url":"https://pay.example/snap-token-1"}`))
	}))
	defer srv.Close()

	gw := newGateway("sk-test", srv.URL, 1)
	resp, err := gw.Charge(context.Background(), paymentdomain.ChargeRequest{
		OrderNumber: "ORD-20260310-AAAA0001",
		Amount:      290000,
		ItemName:    "Distributed Systems Field Guide",
	})
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if resp.GatewayRef != "snap-token-1" {
		t.Fatalf("gateway ref = %q", resp.GatewayRef)
	}
	if resp.PaymentURL != "https://pay.example/snap-token-1" {
		t.Fatalf("payment url = %q", resp.PaymentURL)
	}
	if !strings.HasPrefix(gotAuth, "Basic ") {
		t.Fatalf("authorization = %q, want basic auth", gotAuth)
	}
}

func TestChargeRetriesServerErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"token":"snap-token-2","redirect_url":"https://pay.example/snap-token-2"}`))
	}))
	defer srv.Close()

	gw := newGateway("sk-test", srv.URL, 3)
	resp, err := gw.Charge(context.Background(), paymentdomain.ChargeRequest{
		OrderNumber: "ORD-20260310-AAAA0002",
		Amount:      100000,
	})
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if resp.GatewayRef != "snap-token-2" {
		t.Fatalf("gateway ref = %q", resp.GatewayRef)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestChargeRejectionIsNotRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error_messages":["transaction_details.gross_amount is required"]}`))
	}))
	defer srv.Close()

	gw := newGateway("sk-test", srv.URL, 3)
	_, err := gw.Charge(context.Background(), paymentdomain.ChargeRequest{
		OrderNumber: "ORD-20260310-AAAA0003",
	})
	if err == nil {
		t.Fatal("expected rejection error")
	}
	if !strings.Contains(err.Error(), "charge rejected") {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (4xx is permanent)", calls)
	}
}

func TestRefundPostsToCoreAPI(t *testing.T) {
	var gotPath, gotAuth, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		w.Write([]byte(`{"status_code":"200","status_message":"Success, refund request is approved"}`))
	}))
	defer srv.Close()

	gw := newGateway("sk-test", srv.URL, 1)
	err := gw.Refund(context.Background(), paymentdomain.RefundRequestGateway{
		OrderNumber: "ORD-20260310-AAAA0005",
		Amount:      100000,
		Reason:      "price adjustment",
	})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if gotPath != "/v2/ORD-20260310-AAAA0005/refund" {
		t.Fatalf("path = %s", gotPath)
	}
	if !strings.HasPrefix(gotAuth, "Basic ") {
		t.Fatalf("authorization = %q, want basic auth", gotAuth)
	}
	if !strings.Contains(gotBody, `"amount":100000`) {
		t.Fatalf("body = %s, want amount", gotBody)
	}
}

func TestRefundRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"status_code":"412","status_message":"Merchant cannot modify the status of the transaction"}`))
	}))
	defer srv.Close()

	gw := newGateway("sk-test", srv.URL, 1)
	err := gw.Refund(context.Background(), paymentdomain.RefundRequestGateway{
		OrderNumber: "ORD-20260310-AAAA0006",
	})
	if err == nil {
		t.Fatal("expected rejection error")
	}
	if !strings.Contains(err.Error(), "refund rejected") {
		t.Fatalf("err = %v", err)
	}
}

func TestVerifySignature(t *testing.T) {
	const serverKey = "sk-test-verify"
	gw := newGateway(serverKey, "", 1)

	n := paymentdomain.Notification{
		OrderRef:    "ORD-20260310-AAAA0004",
		StatusCode:  "200",
		GrossAmount: "290000.00",
	}
	sum := sha512.Sum512([]byte(n.OrderRef + n.StatusCode + n.GrossAmount + serverKey))
	n.SignatureKey = hex.EncodeToString(sum[:])

	if !gw.VerifySignature(n) {
		t.Fatal("valid signature rejected")
	}

	n.SignatureKey = "deadbeef"
	if gw.VerifySignature(n) {
		t.Fatal("invalid signature accepted")
	}

	// An empty server key rejects everything.
	if newGateway("", "", 1).VerifySignature(n) {
		t.Fatal("empty server key must reject")
	}
}
