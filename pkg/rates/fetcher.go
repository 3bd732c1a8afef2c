package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// HTTPFetcher pulls rates from the conversion-rate API. The upstream is slow
// and occasionally flaky, so calls go through a circuit breaker: after
// repeated failures the breaker opens and lookups fail fast until the
// upstream recovers.
type HTTPFetcher struct {
	BaseURL    string
	HTTPClient *http.Client

	breaker *gobreaker.CircuitBreaker
	log     logrus.FieldLogger
}

func NewHTTPFetcher(baseURL string, log logrus.FieldLogger) *HTTPFetcher {
	f := &HTTPFetcher{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		log:        log,
	}
	f.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "conversion-rates",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{"breaker": name, "from": from.String(), "to": to.String()}).
				Warn("conversion rate breaker state changed")
		},
	})
	return f
}

type ratesResponse struct {
	Symbol string                     `json:"symbol"`
	Rates  map[string]decimal.Decimal `json:"rates"`
}

func (f *HTTPFetcher) FetchRates(ctx context.Context, symbol string, day time.Time, dests []string) (map[string]decimal.Decimal, error) {
	out, err := f.breaker.Execute(func() (any, error) {
		q := url.Values{}
		q.Set("symbol", symbol)
		q.Set("date", fmt.Sprintf("%d", day.Unix()))
		q.Set("to", strings.Join(dests, ","))
		u := f.BaseURL + "/conversionRates?" + q.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		resp, err := f.HTTPClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("conversion rate api: http %d", resp.StatusCode)
		}
		var body ratesResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, err
		}
		return body.Rates, nil
	})
	if err != nil {
		return nil, err
	}
	return out.(map[string]decimal.Decimal), nil
}
