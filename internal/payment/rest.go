package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type RESTConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	// HTTPClient defaults to a client with an otelhttp transport.
	HTTPClient *http.Client
}

// RESTProvider talks to a PayPal-style orders API: OAuth client credentials,
// POST /v2/checkout/orders, POST /v2/checkout/orders/{id}/capture and
// POST /v2/payments/captures/{id}/refund.
type RESTProvider struct {
	baseURL      string
	clientID     string
	clientSecret string
	client       *http.Client
	now          func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

var _ Provider = (*RESTProvider)(nil)

func NewRESTProvider(cfg RESTConfig) *RESTProvider {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{
			Timeout:   20 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &RESTProvider{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		client:       client,
		now:          time.Now,
	}
}

type restAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type createOrderRequest struct {
	Intent        string `json:"intent"`
	PurchaseUnits []struct {
		Amount restAmount `json:"amount"`
	} `json:"purchase_units"`
}

type orderResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Payer  struct {
		PayerID string `json:"payer_id"`
	} `json:"payer"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []struct {
				ID         string     `json:"id"`
				Status     string     `json:"status"`
				Amount     restAmount `json:"amount"`
				CreateTime time.Time  `json:"create_time"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

type refundResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (p *RESTProvider) CreateOrder(ctx context.Context, amount decimal.Decimal, currency string) (string, error) {
	body := createOrderRequest{Intent: "CAPTURE"}
	body.PurchaseUnits = append(body.PurchaseUnits, struct {
		Amount restAmount `json:"amount"`
	}{Amount: restAmount{CurrencyCode: currency, Value: amount.StringFixed(2)}})

	var resp orderResponse
	if err := p.do(ctx, "/v2/checkout/orders", body, &resp); err != nil {
		return "", fmt.Errorf("create order: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("create order: provider returned no order id")
	}
	return resp.ID, nil
}

func (p *RESTProvider) CaptureOrder(ctx context.Context, providerOrderID string) (Approval, error) {
	var resp orderResponse
	path := "/v2/checkout/orders/" + url.PathEscape(providerOrderID) + "/capture"
	if err := p.do(ctx, path, struct{}{}, &resp); err != nil {
		return Approval{}, fmt.Errorf("capture order %s: %w", providerOrderID, err)
	}
	if resp.Status != "COMPLETED" || len(resp.PurchaseUnits) == 0 || len(resp.PurchaseUnits[0].Payments.Captures) == 0 {
		return Approval{}, fmt.Errorf("%w: order status %s", ErrDeclined, resp.Status)
	}

	c := resp.PurchaseUnits[0].Payments.Captures[0]
	if c.Status == "DECLINED" || c.Status == "FAILED" {
		return Approval{}, fmt.Errorf("%w: capture status %s", ErrDeclined, c.Status)
	}
	amount, err := decimal.NewFromString(c.Amount.Value)
	if err != nil {
		return Approval{}, fmt.Errorf("capture order %s: parse amount %q: %w", providerOrderID, c.Amount.Value, err)
	}
	capturedAt := c.CreateTime
	if capturedAt.IsZero() {
		capturedAt = p.now().UTC()
	}

	return Approval{
		ProviderOrderID: resp.ID,
		CaptureID:       c.ID,
		PayerID:         resp.Payer.PayerID,
		Amount:          amount,
		Currency:        c.Amount.CurrencyCode,
		CapturedAt:      capturedAt,
	}, nil
}

// RefundCapture refunds the whole capture. The request id is derived from the
// capture so a repeated refund is deduplicated by the provider.
func (p *RESTProvider) RefundCapture(ctx context.Context, capture Approval) error {
	var resp refundResponse
	path := "/v2/payments/captures/" + url.PathEscape(capture.CaptureID) + "/refund"
	err := p.send(ctx, path, "refund-"+capture.CaptureID, struct{}{}, &resp)
	if errors.Is(err, ErrDeclined) {
		if strings.Contains(err.Error(), "CAPTURE_FULLY_REFUNDED") {
			return nil
		}
		return fmt.Errorf("refund capture %s rejected: %s", capture.CaptureID, err.Error())
	}
	if err != nil {
		return fmt.Errorf("refund capture %s: %w", capture.CaptureID, err)
	}
	if resp.Status != "COMPLETED" && resp.Status != "PENDING" {
		return fmt.Errorf("refund capture %s: refund status %s", capture.CaptureID, resp.Status)
	}
	return nil
}

func (p *RESTProvider) do(ctx context.Context, path string, in, out any) error {
	return p.send(ctx, path, uuid.NewString(), in, out)
}

func (p *RESTProvider) send(ctx context.Context, path, requestID string, in, out any) error {
	token, err := p.accessToken(ctx)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("PayPal-Request-Id", requestID)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", ErrDeclined, strings.TrimSpace(string(data)))
	case resp.StatusCode == http.StatusUnauthorized:
		p.resetToken()
		return fmt.Errorf("provider rejected credentials: status %d", resp.StatusCode)
	case resp.StatusCode >= 300:
		return fmt.Errorf("provider returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (p *RESTProvider) accessToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && p.now().Before(p.tokenExpiry) {
		return p.token, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.SetBasicAuth(p.clientID, p.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch token: status %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decode token: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("fetch token: empty access token")
	}

	// refresh a little before the provider expires it
	p.token = tr.AccessToken
	p.tokenExpiry = p.now().Add(time.Duration(tr.ExpiresIn)*time.Second - 30*time.Second)
	return p.token, nil
}

func (p *RESTProvider) resetToken() {
	p.mu.Lock()
	p.token = ""
	p.mu.Unlock()
}
