package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const yahooChartPath = "/v8/finance/chart/"

// YahooOptions parameterise the Yahoo Finance fetcher.
type YahooOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Yahoo fetches quotes from the Yahoo Finance chart API. It serves both ETF
// listings (with per-symbol ticker overrides for European exchanges) and
// crypto pairs via the -USD suffix.
type Yahoo struct {
	opts    YahooOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewYahoo constructs a Yahoo Finance fetcher.
func NewYahoo(opts YahooOptions, logger zerolog.Logger) *Yahoo {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://query1.finance.yahoo.com"
	}

	return &Yahoo{
		opts:    opts,
		logger:  logger.With().Str("component", "yahoo_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchPrice retrieves the latest close and previous close for an instrument.
func (y *Yahoo) FetchPrice(ctx context.Context, inst Instrument) (Quote, error) {
	ticker := y.ticker(inst)
	endpoint := y.baseURL + yahooChartPath + url.PathEscape(ticker)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Quote{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(y.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "etfguardian/1.0")
	}

	resp, err := y.client.Do(req)
	if err != nil {
		return Quote{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Quote{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return Quote{}, fmt.Errorf("yahoo api error (%d): %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var chart yahooChartResponse
	if err := json.Unmarshal(payload, &chart); err != nil {
		return Quote{}, fmt.Errorf("decode yahoo response: %w", err)
	}
	if chart.Chart.Error != nil {
		return Quote{}, fmt.Errorf("yahoo api error: %s", chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 {
		return Quote{}, errors.New("yahoo returned no result")
	}

	result := chart.Chart.Result[0]
	price, ok := lastClose(result)
	if !ok {
		return Quote{}, fmt.Errorf("yahoo returned no close prices for %s", ticker)
	}

	previous := decimal.Zero
	if result.Meta.PreviousClose != nil {
		previous = decimal.NewFromFloat(*result.Meta.PreviousClose)
	}

	asOf := time.Now().UTC()
	if n := len(result.Timestamp); n > 0 {
		asOf = time.Unix(result.Timestamp[n-1], 0).UTC()
	}

	quote := newQuote(price, previous, asOf)
	quote.Currency = result.Meta.Currency
	return quote, nil
}

func (y *Yahoo) ticker(inst Instrument) string {
	if inst.Ticker != "" {
		return inst.Ticker
	}
	if inst.Class == "CRYPTO" {
		return inst.Symbol + "-USD"
	}
	return inst.Symbol
}

// lastClose returns the most recent non-null close bar.
func lastClose(result yahooResult) (decimal.Decimal, bool) {
	if len(result.Indicators.Quote) == 0 {
		return decimal.Decimal{}, false
	}
	closes := result.Indicators.Quote[0].Close
	for i := len(closes) - 1; i >= 0; i-- {
		if closes[i] != nil {
			return decimal.NewFromFloat(*closes[i]), true
		}
	}
	return decimal.Decimal{}, false
}

type yahooChartResponse struct {
	Chart struct {
		Result []yahooResult `json:"result"`
		Error  *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type yahooResult struct {
	Meta struct {
		Currency           string   `json:"currency"`
		PreviousClose      *float64 `json:"previousClose"`
		RegularMarketPrice *float64 `json:"regularMarketPrice"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Close []*float64 `json:"close"`
		} `json:"quote"`
	} `json:"indicators"`
}

var _ PriceFetcher = (*Yahoo)(nil)
