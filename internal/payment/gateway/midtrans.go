package gateway

import (
	"bytes"
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/bookvault/internal/config"
	paymentdomain "github.com/smallbiznis/bookvault/internal/payment/domain"
	"go.uber.org/zap"
)

const (
	sandboxBaseURL    = "https://app.sandbox.midtrans.com"
	productionBaseURL = "https://app.midtrans.com"

	sandboxAPIBaseURL    = "https://api.sandbox.midtrans.com"
	productionAPIBaseURL = "https://api.midtrans.com"
)

// Midtrans talks to the Midtrans Snap API. Charge creates a transaction and
// returns the hosted payment page; notifications come back through the
// webhook and are authenticated by VerifySignature.
type Midtrans struct {
	cfg    config.GatewayConfig
	log    *zap.Logger
	client *http.Client
}

func NewMidtrans(cfg config.GatewayConfig, log *zap.Logger) *Midtrans {
	return &Midtrans{
		cfg:    cfg,
		log:    log.Named("payment.gateway"),
		client: &http.Client{Timeout: cfg.HTTPTimeout},
	}
}

type snapRequest struct {
	TransactionDetails struct {
		OrderID     string `json:"order_id"`
		GrossAmount int64  `json:"gross_amount"`
	} `json:"transaction_details"`
	ItemDetails []snapItem `json:"item_details,omitempty"`
	CustomerID  string     `json:"customer_id,omitempty"`
}

type snapItem struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
}

type snapResponse struct {
	Token       string   `json:"token"`
	RedirectURL string   `json:"redirect_url"`
	Errors      []string `json:"error_messages"`
}

func (m *Midtrans) baseURL() string {
	if url := strings.TrimSpace(m.cfg.BaseURL); url != "" {
		return strings.TrimRight(url, "/")
	}
	if m.cfg.IsProduction {
		return productionBaseURL
	}
	return sandboxBaseURL
}

func (m *Midtrans) apiBaseURL() string {
	if url := strings.TrimSpace(m.cfg.BaseURL); url != "" {
		return strings.TrimRight(url, "/")
	}
	if m.cfg.IsProduction {
		return productionAPIBaseURL
	}
	return sandboxAPIBaseURL
}

func (m *Midtrans) Charge(ctx context.Context, req paymentdomain.ChargeRequest) (*paymentdomain.ChargeResponse, error) {
	body := snapRequest{CustomerID: req.CustomerID}
	body.TransactionDetails.OrderID = req.OrderNumber
	body.TransactionDetails.GrossAmount = req.Amount
	if req.ItemName != "" {
		body.ItemDetails = []snapItem{{
			ID:       req.OrderNumber,
			Name:     req.ItemName,
			Price:    req.Amount,
			Quantity: 1,
		}}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	retries := m.cfg.MaxRetries
	if retries < 1 {
		retries = 1
	}
	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		resp, retryable, err := m.charge(ctx, payload)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable || attempt == retries {
			break
		}
		m.log.Warn("charge attempt failed, retrying",
			zap.String("order_number", req.OrderNumber),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
		}
	}
	return nil, lastErr
}

func (m *Midtrans) charge(ctx context.Context, payload []byte) (*paymentdomain.ChargeResponse, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		m.baseURL()+"/snap/v1/transactions", bytes.NewReader(payload))
	if err != nil {
		return nil, false, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.SetBasicAuth(m.cfg.ServerKey, "")

	httpResp, err := m.client.Do(httpReq)
	if err != nil {
		return nil, true, err
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, true, err
	}

	if httpResp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("gateway returned %d", httpResp.StatusCode)
	}

	var decoded snapResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, false, err
	}
	if httpResp.StatusCode >= 400 || decoded.Token == "" {
		msg := strings.Join(decoded.Errors, "; ")
		if msg == "" {
			msg = fmt.Sprintf("gateway returned %d", httpResp.StatusCode)
		}
		return nil, false, fmt.Errorf("charge rejected: %s", msg)
	}

	paymentURL := decoded.RedirectURL
	if base := strings.TrimSpace(m.cfg.PaymentBase); base != "" && paymentURL == "" {
		paymentURL = strings.TrimRight(base, "/") + "/" + decoded.Token
	}
	return &paymentdomain.ChargeResponse{
		GatewayRef: decoded.Token,
		PaymentURL: paymentURL,
	}, false, nil
}

type refundRequest struct {
	Amount int64  `json:"amount,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type refundResponse struct {
	StatusCode    string `json:"status_code"`
	StatusMessage string `json:"status_message"`
}

// Refund initiates a refund for a settled transaction. The resulting status
// change comes back through the notification webhook.
func (m *Midtrans) Refund(ctx context.Context, req paymentdomain.RefundRequestGateway) error {
	payload, err := json.Marshal(refundRequest{Amount: req.Amount, Reason: req.Reason})
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		m.apiBaseURL()+"/v2/"+req.OrderNumber+"/refund", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.SetBasicAuth(m.cfg.ServerKey, "")

	httpResp, err := m.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return err
	}
	if httpResp.StatusCode >= 400 {
		var decoded refundResponse
		_ = json.Unmarshal(raw, &decoded)
		msg := decoded.StatusMessage
		if msg == "" {
			msg = fmt.Sprintf("gateway returned %d", httpResp.StatusCode)
		}
		return fmt.Errorf("refund rejected: %s", msg)
	}
	return nil
}

// VerifySignature checks the SHA-512 signature Midtrans sends with every
// notification: hex(sha512(order_id + status_code + gross_amount + server_key)).
func (m *Midtrans) VerifySignature(n paymentdomain.Notification) bool {
	if m.cfg.ServerKey == "" {
		return false
	}
	sum := sha512.Sum512([]byte(n.OrderRef + n.StatusCode + n.GrossAmount + m.cfg.ServerKey))
	expected := hex.EncodeToString(sum[:])
	provided := strings.ToLower(strings.TrimSpace(n.SignatureKey))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) == 1
}
