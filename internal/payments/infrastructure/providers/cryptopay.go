package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/sony/gobreaker/v2"

	"github.com/pavelzhukov/raylink/internal/payments/application/commands"
)

const cryptoPayName = "cryptopay"

// CryptoPay issues and polls invoices on a Crypto Pay bot API.
type CryptoPay struct {
	baseURL   string
	token     string
	returnURL string
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker[[]byte]
}

// NewCryptoPay creates a Crypto Pay gateway. botUsername, when set, puts a
// "back to bot" button on the provider's payment page.
func NewCryptoPay(baseURL, token, botUsername string, logger *slog.Logger) *CryptoPay {
	returnURL := ""
	if botUsername != "" {
		returnURL = "https://t.me/" + botUsername
	}
	return &CryptoPay{
		baseURL:   strings.TrimRight(baseURL, "/"),
		token:     token,
		returnURL: returnURL,
		client:    &http.Client{Timeout: requestTimeout},
		breaker:   newBreaker(cryptoPayName, logger),
	}
}

// Name implements commands.Gateway.
func (c *CryptoPay) Name() string { return cryptoPayName }

type cryptoPayEnvelope struct {
	Ok     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code int    `json:"code"`
		Name string `json:"name"`
	} `json:"error"`
}

type cryptoPayInvoice struct {
	InvoiceID json.Number `json:"invoice_id"`
	Status    string      `json:"status"`
	PayURL    string      `json:"pay_url"`
}

// CreateInvoice implements commands.Gateway.
func (c *CryptoPay) CreateInvoice(ctx context.Context, req commands.GatewayInvoiceRequest) (*commands.GatewayInvoice, error) {
	body := map[string]any{
		"amount":          minorToDecimal(req.AmountMinor),
		"currency":        req.Currency,
		"description":     req.Description,
		"allow_comments":  false,
		"allow_anonymous": false,
		"expires_in":      int(req.TTL.Seconds()),
	}
	if c.returnURL != "" {
		body["paid_btn_name"] = "back_to_bot"
		body["paid_btn_url"] = c.returnURL
	}

	raw, err := c.post(ctx, "/createInvoice", body)
	if err != nil {
		return nil, err
	}

	var invoice cryptoPayInvoice
	if err := json.Unmarshal(raw, &invoice); err != nil {
		return nil, fmt.Errorf("decode createInvoice result: %w", err)
	}

	return &commands.GatewayInvoice{
		ProviderInvoiceID: invoice.InvoiceID.String(),
		PayURL:            invoice.PayURL,
	}, nil
}

// CheckInvoice implements commands.Gateway.
func (c *CryptoPay) CheckInvoice(ctx context.Context, providerInvoiceID string) (commands.PaymentStatus, error) {
	raw, err := c.get(ctx, "/getInvoice?invoice_id="+url.QueryEscape(providerInvoiceID))
	if err != nil {
		return commands.PaymentPending, err
	}

	var invoice cryptoPayInvoice
	if err := json.Unmarshal(raw, &invoice); err != nil {
		return commands.PaymentPending, fmt.Errorf("decode getInvoice result: %w", err)
	}

	switch invoice.Status {
	case "paid":
		return commands.PaymentPaid, nil
	case "expired":
		return commands.PaymentExpired, nil
	default:
		return commands.PaymentPending, nil
	}
}

func (c *CryptoPay) post(ctx context.Context, path string, body any) ([]byte, error) {
	return c.breaker.Execute(func() ([]byte, error) {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return c.do(req)
	})
}

func (c *CryptoPay) get(ctx context.Context, path string) ([]byte, error) {
	return c.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return nil, err
		}
		return c.do(req)
	})
}

// do unwraps the {ok, result, error} envelope every Crypto Pay response uses.
func (c *CryptoPay) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Crypto-Pay-API-Token", c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, responseError(cryptoPayName, resp)
	}

	var envelope cryptoPayEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, err
	}
	if !envelope.Ok {
		if envelope.Error != nil {
			return nil, fmt.Errorf("crypto pay API error %d: %s", envelope.Error.Code, envelope.Error.Name)
		}
		return nil, fmt.Errorf("crypto pay API rejected the request")
	}
	return envelope.Result, nil
}

var _ commands.Gateway = (*CryptoPay)(nil)
