// Package providers implements the external payment gateways. Every call
// runs through a per-provider circuit breaker so a dead payment API stops
// being hammered while the rest of the bot keeps working.
package providers

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

const requestTimeout = 30 * time.Second

// newBreaker guards one provider's HTTP surface. The circuit opens after
// five consecutive failures and half-opens after thirty seconds.
func newBreaker(name string, logger *slog.Logger) *gobreaker.CircuitBreaker[[]byte] {
	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state changed",
				slog.String("provider", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
}

func responseError(provider string, resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("%s API failed: status=%d body=%s", provider, resp.StatusCode, string(body))
}

// minorToDecimal renders minor units as the "5.00" style decimal string the
// provider APIs expect.
func minorToDecimal(amountMinor int64) string {
	return fmt.Sprintf("%d.%02d", amountMinor/100, amountMinor%100)
}
