// Package rates memoizes historical exchange rates per (symbol, UTC day).
// Entries merge new destination symbols into the existing day bucket and are
// never evicted; the cache lives for the process lifetime.
package rates

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Fetcher retrieves rates for one base symbol on one day. Implementations are
// expected to be safe for concurrent use.
type Fetcher interface {
	FetchRates(ctx context.Context, symbol string, day time.Time, dests []string) (map[string]decimal.Decimal, error)
}

// StartOfDayUTC floors a timestamp to the UTC day boundary. Every lookup and
// store goes through this, so repeated queries within a day never re-fetch.
func StartOfDayUTC(ts time.Time) time.Time {
	u := ts.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

type Cache struct {
	mu      sync.Mutex
	fetcher Fetcher
	entries map[string]map[int64]map[string]decimal.Decimal
}

func NewCache(f Fetcher) *Cache {
	return &Cache{
		fetcher: f,
		entries: make(map[string]map[int64]map[string]decimal.Decimal),
	}
}

// Rate returns the symbol→to rate for the day containing ts. A hit requires
// that specific destination to be present in the day bucket; a miss fetches
// and merges without discarding destinations already cached for that day.
func (c *Cache) Rate(ctx context.Context, symbol string, ts time.Time, to string) (decimal.Decimal, error) {
	rates, err := c.Rates(ctx, symbol, ts, []string{to})
	if err != nil {
		return decimal.Zero, err
	}
	r, ok := rates[to]
	if !ok {
		return decimal.Zero, fmt.Errorf("no %s rate for %s", to, symbol)
	}
	return r, nil
}

// Rates returns the day bucket for symbol covering at least the requested
// destinations, fetching only the ones missing.
func (c *Cache) Rates(ctx context.Context, symbol string, ts time.Time, dests []string) (map[string]decimal.Decimal, error) {
	day := StartOfDayUTC(ts)
	key := day.Unix()

	c.mu.Lock()
	bucket := c.entries[symbol][key]
	var missing []string
	for _, d := range dests {
		if _, ok := bucket[d]; !ok {
			missing = append(missing, d)
		}
	}
	c.mu.Unlock()

	if len(missing) > 0 {
		fetched, err := c.fetcher.FetchRates(ctx, symbol, day, missing)
		if err != nil {
			return nil, err
		}
		c.merge(symbol, key, fetched)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(c.entries[symbol][key]))
	for k, v := range c.entries[symbol][key] {
		out[k] = v
	}
	return out, nil
}

func (c *Cache) merge(symbol string, key int64, rates map[string]decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	days, ok := c.entries[symbol]
	if !ok {
		days = make(map[int64]map[string]decimal.Decimal)
		c.entries[symbol] = days
	}
	bucket, ok := days[key]
	if !ok {
		bucket = make(map[string]decimal.Decimal)
		days[key] = bucket
	}
	for k, v := range rates {
		bucket[k] = v
	}
}

// LineItem is one amount to convert in a batch.
type LineItem struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// USDValue is the derived USD equivalent for one line item.
type USDValue struct {
	Currency string          `json:"currency"`
	USDValue decimal.Decimal `json:"usd_value"`
}

// Conversion is the result of a batch conversion into the base symbol.
type Conversion struct {
	Total     decimal.Decimal            `json:"total"`
	Rates     map[string]decimal.Decimal `json:"rates"`
	USDValues []USDValue                 `json:"usd_values"`
}

// ConvertMultiple converts each line item into the base symbol and derives a
// USD equivalent per item, reusing (or fetching once) the USD row for the
// same day. A failure partway through leaves already-merged day buckets
// intact: merges happen per successful fetch, never rolled back.
func (c *Cache) ConvertMultiple(ctx context.Context, ts time.Time, symbol string, items []LineItem) (*Conversion, error) {
	currencies := make([]string, 0, len(items))
	for _, it := range items {
		currencies = append(currencies, it.Currency)
	}

	rates, err := c.Rates(ctx, symbol, ts, currencies)
	if err != nil {
		return nil, err
	}
	usdRates := rates
	if symbol != "USD" {
		usdRates, err = c.Rates(ctx, "USD", ts, currencies)
		if err != nil {
			return nil, err
		}
	}

	conv := &Conversion{Rates: rates}
	for _, it := range items {
		if r, ok := usdRates[it.Currency]; ok && !r.IsZero() {
			conv.USDValues = append(conv.USDValues, USDValue{Currency: it.Currency, USDValue: it.Amount.Div(r)})
		} else {
			conv.USDValues = append(conv.USDValues, USDValue{Currency: it.Currency, USDValue: it.Amount})
		}
		rate := decimal.NewFromInt(1)
		if r, ok := rates[it.Currency]; ok && !r.IsZero() {
			rate = r
		}
		conv.Total = conv.Total.Add(it.Amount.Div(rate))
	}
	return conv, nil
}
