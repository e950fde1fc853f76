package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"

	"github.com/pavelzhukov/raylink/internal/payments/application/commands"
)

const yooKassaName = "yookassa"

// YooKassa issues redirect-checkout payments on the YooKassa shop API.
// Payments are created captured, so "succeeded" is the only paid state.
type YooKassa struct {
	baseURL   string
	shopID    string
	secretKey string
	returnURL string
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker[[]byte]
}

// NewYooKassa creates a YooKassa gateway. The checkout page sends the user
// back to the bot's t.me link after payment.
func NewYooKassa(baseURL, shopID, secretKey, botUsername string, logger *slog.Logger) *YooKassa {
	returnURL := "https://t.me/"
	if botUsername != "" {
		returnURL += botUsername
	}
	return &YooKassa{
		baseURL:   strings.TrimRight(baseURL, "/"),
		shopID:    shopID,
		secretKey: secretKey,
		returnURL: returnURL,
		client:    &http.Client{Timeout: requestTimeout},
		breaker:   newBreaker(yooKassaName, logger),
	}
}

// Name implements commands.Gateway.
func (y *YooKassa) Name() string { return yooKassaName }

type yooKassaPayment struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Paid         bool   `json:"paid"`
	Confirmation struct {
		ConfirmationURL string `json:"confirmation_url"`
	} `json:"confirmation"`
}

// CreateInvoice implements commands.Gateway. The provider has no invoice
// TTL for redirect payments; unpaid ones are closed by the local watcher.
func (y *YooKassa) CreateInvoice(ctx context.Context, req commands.GatewayInvoiceRequest) (*commands.GatewayInvoice, error) {
	body := map[string]any{
		"amount": map[string]string{
			"value":    minorToDecimal(req.AmountMinor),
			"currency": req.Currency,
		},
		"capture":     true,
		"description": req.Description,
		"confirmation": map[string]string{
			"type":       "redirect",
			"return_url": y.returnURL,
		},
	}

	raw, err := y.request(ctx, http.MethodPost, "/payments", body)
	if err != nil {
		return nil, err
	}

	var payment yooKassaPayment
	if err := json.Unmarshal(raw, &payment); err != nil {
		return nil, fmt.Errorf("decode payment: %w", err)
	}

	return &commands.GatewayInvoice{
		ProviderInvoiceID: payment.ID,
		PayURL:            payment.Confirmation.ConfirmationURL,
	}, nil
}

// CheckInvoice implements commands.Gateway.
func (y *YooKassa) CheckInvoice(ctx context.Context, providerInvoiceID string) (commands.PaymentStatus, error) {
	raw, err := y.request(ctx, http.MethodGet, "/payments/"+url.PathEscape(providerInvoiceID), nil)
	if err != nil {
		return commands.PaymentPending, err
	}

	var payment yooKassaPayment
	if err := json.Unmarshal(raw, &payment); err != nil {
		return commands.PaymentPending, fmt.Errorf("decode payment: %w", err)
	}

	switch payment.Status {
	case "succeeded":
		return commands.PaymentPaid, nil
	case "canceled":
		return commands.PaymentExpired, nil
	default:
		return commands.PaymentPending, nil
	}
}

func (y *YooKassa) request(ctx context.Context, method, path string, body any) ([]byte, error) {
	return y.breaker.Execute(func() ([]byte, error) {
		var reader *bytes.Reader
		if body != nil {
			payload, err := json.Marshal(body)
			if err != nil {
				return nil, err
			}
			reader = bytes.NewReader(payload)
		} else {
			reader = bytes.NewReader(nil)
		}

		req, err := http.NewRequestWithContext(ctx, method, y.baseURL+path, reader)
		if err != nil {
			return nil, err
		}
		req.SetBasicAuth(y.shopID, y.secretKey)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
			// The API replays the original response for a repeated key, so
			// every create must carry a fresh one.
			req.Header.Set("Idempotence-Key", uuid.NewString())
		}

		resp, err := y.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, responseError(yooKassaName, resp)
		}
		return io.ReadAll(resp.Body)
	})
}

var _ commands.Gateway = (*YooKassa)(nil)
