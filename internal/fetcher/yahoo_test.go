package fetcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func yahooPayload(closes []any, previousClose float64) map[string]any {
	return map[string]any{
		"chart": map[string]any{
			"result": []any{
				map[string]any{
					"meta":      map[string]any{"previousClose": previousClose},
					"timestamp": []int64{1700000000},
					"indicators": map[string]any{
						"quote": []any{map[string]any{"close": closes}},
					},
				},
			},
		},
	}
}

func TestYahooFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(yahooPayload([]any{100.0, 102.5}, 101.0))
	}))
	defer srv.Close()

	y := NewYahoo(YahooOptions{BaseURL: srv.URL, Timeout: time.Second, UserAgent: "test"}, noopLogger())
	quote, err := y.FetchPrice(context.Background(), Instrument{Symbol: "VOO", Class: "ETF"})
	if err != nil {
		t.Fatalf("fetch should succeed: %v", err)
	}
	if !quote.Price.Equal(decimal.NewFromFloat(102.5)) {
		t.Fatalf("expected price 102.5, got %s", quote.Price)
	}
	if !quote.PreviousClose.Equal(decimal.NewFromFloat(101)) {
		t.Fatalf("expected previous close 101, got %s", quote.PreviousClose)
	}
	if !quote.Change.Equal(decimal.NewFromFloat(1.5)) {
		t.Fatalf("expected change 1.5, got %s", quote.Change)
	}
}

func TestYahooSkipsNullCloses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(yahooPayload([]any{99.0, nil, nil}, 98.0))
	}))
	defer srv.Close()

	y := NewYahoo(YahooOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	quote, err := y.FetchPrice(context.Background(), Instrument{Symbol: "BND", Class: "ETF"})
	if err != nil {
		t.Fatalf("fetch should succeed: %v", err)
	}
	if !quote.Price.Equal(decimal.NewFromFloat(99)) {
		t.Fatalf("expected last non-null close 99, got %s", quote.Price)
	}
}

func TestYahooCryptoTickerSuffix(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewEncoder(w).Encode(yahooPayload([]any{50000.0}, 49000.0))
	}))
	defer srv.Close()

	y := NewYahoo(YahooOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	if _, err := y.FetchPrice(context.Background(), Instrument{Symbol: "BTC", Class: "CRYPTO"}); err != nil {
		t.Fatalf("fetch should succeed: %v", err)
	}
	if path != yahooChartPath+"BTC-USD" {
		t.Fatalf("crypto symbols should fetch with -USD suffix, got %s", path)
	}
}

func TestYahooTickerOverride(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewEncoder(w).Encode(yahooPayload([]any{80.0}, 79.0))
	}))
	defer srv.Close()

	y := NewYahoo(YahooOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	if _, err := y.FetchPrice(context.Background(), Instrument{Symbol: "XDWD", Class: "ETF", Ticker: "XDWD.MI"}); err != nil {
		t.Fatalf("fetch should succeed: %v", err)
	}
	if path != yahooChartPath+"XDWD.MI" {
		t.Fatalf("ticker override should win, got %s", path)
	}
}

func TestYahooCurrencyFromMeta(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := yahooPayload([]any{40.0, 41.2}, 40.5)
		result := payload["chart"].(map[string]any)["result"].([]any)[0].(map[string]any)
		result["meta"].(map[string]any)["currency"] = "EUR"
		_ = json.NewEncoder(w).Encode(payload)
	}))
	defer srv.Close()

	y := NewYahoo(YahooOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	quote, err := y.FetchPrice(context.Background(), Instrument{Symbol: "XDWD", Class: "ETF", Ticker: "XDWD.MI"})
	if err != nil {
		t.Fatalf("fetch should succeed: %v", err)
	}
	if quote.Currency != "EUR" {
		t.Fatalf("expected EUR from chart meta, got %q", quote.Currency)
	}
}

func TestYahooHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	y := NewYahoo(YahooOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	if _, err := y.FetchPrice(context.Background(), Instrument{Symbol: "VOO", Class: "ETF"}); err == nil {
		t.Fatal("HTTP 429 should return an error")
	}
}

func TestYahooNoCloses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(yahooPayload([]any{nil, nil}, 0))
	}))
	defer srv.Close()

	y := NewYahoo(YahooOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	if _, err := y.FetchPrice(context.Background(), Instrument{Symbol: "VOO", Class: "ETF"}); err == nil {
		t.Fatal("all-null closes should return an error")
	}
}
