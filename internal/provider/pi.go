package provider

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
	"time"
)

// PiClient calls the Pi Platform API.
type PiClient struct {
	baseURL *url.URL
	apiKey  string
	http    *http.Client
}

// NewPiClient builds a client for baseURL (e.g. https://api.testnet.minepi.com).
// A nil hc uses a client with a 15s timeout.
func NewPiClient(baseURL, apiKey string, hc *http.Client) (*PiClient, error) {
	if apiKey == "" {
		return nil, errors.New("provider: pi mode requires provider.api_key")
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("provider: invalid base url %q", baseURL)
	}
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &PiClient{baseURL: u, apiKey: apiKey, http: hc}, nil
}

func (*PiClient) Name() string { return "pi" }

type piUser struct {
	UID      string `json:"uid"`
	Username string `json:"username"`
}

type piPaymentBody struct {
	Payment struct {
		Amount   json.Number       `json:"amount"`
		Memo     string            `json:"memo"`
		Metadata map[string]string `json:"metadata"`
		UID      string            `json:"uid"`
	} `json:"payment"`
}

type piPayment struct {
	Identifier string `json:"identifier"`
	Network    string `json:"network"`
	Status     struct {
		DeveloperApproved   bool `json:"developer_approved"`
		TransactionVerified bool `json:"transaction_verified"`
		DeveloperCompleted  bool `json:"developer_completed"`
		Cancelled           bool `json:"cancelled"`
	} `json:"status"`
}

// Authenticate resolves an access token via GET /v2/me.
func (c *PiClient) Authenticate(ctx context.Context, credential string) <-chan AuthResult {
	ch := make(chan AuthResult, 1)
	go func() {
		defer close(ch)
		var me piUser
		err := c.do(ctx, http.MethodGet, "/v2/me", "Bearer "+credential, nil, &me)
		if err != nil {
			ch <- AuthResult{Err: err}
			return
		}
		if me.UID == "" {
			ch <- AuthResult{Err: ErrNotAuthenticated}
			return
		}
		ch <- AuthResult{Authenticated: true, UID: me.UID, Username: me.Username}
	}()
	return ch
}

// CreatePayment registers an app-to-user payment via POST /v2/payments.
func (c *PiClient) CreatePayment(ctx context.Context, req PaymentRequest) <-chan PaymentResult {
	ch := make(chan PaymentResult, 1)
	go func() {
		defer close(ch)
		var body piPaymentBody
		body.Payment.Amount = json.Number(req.Amount.String())
		body.Payment.Memo = req.Memo
		body.Payment.UID = req.UID
		body.Payment.Metadata = map[string]string{"payment_id": req.PaymentID}

		var out piPayment
		if err := c.do(ctx, http.MethodPost, "/v2/payments", "Key "+c.apiKey, body, &out); err != nil {
			ch <- PaymentResult{Err: err}
			return
		}
		status := "pending"
		switch {
		case out.Status.Cancelled:
			status = "cancelled"
		case out.Status.DeveloperCompleted:
			status = "completed"
		case out.Status.DeveloperApproved:
			status = "approved"
		}
		ch <- PaymentResult{
			ProviderPaymentID: out.Identifier,
			Status:            status,
			Testnet:           strings.Contains(strings.ToLower(out.Network), "testnet"),
		}
	}()
	return ch
}

func (c *PiClient) do(ctx context.Context, method, path, authz string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("provider: marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, body)
	if err != nil {
		return fmt.Errorf("provider: build request: %w", err)
	}
	req.Header.Set("Authorization", authz)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("provider: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("provider: read response: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return ErrNotAuthenticated
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("provider: %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("provider: decode response: %w", err)
	}
	return nil
}
