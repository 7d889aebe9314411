package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const coinGeckoPricePath = "/simple/price"

// defaultCoinIDs maps portfolio symbols to CoinGecko coin ids.
var defaultCoinIDs = map[string]string{
	"BTC": "bitcoin",
	"ETH": "ethereum",
	"SOL": "solana",
}

// CoinGeckoOptions parameterise the CoinGecko fetcher.
type CoinGeckoOptions struct {
	BaseURL string
	Timeout time.Duration
}

// CoinGecko fetches crypto spot prices with 24h change from the CoinGecko
// simple price API.
type CoinGecko struct {
	opts    CoinGeckoOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewCoinGecko constructs a CoinGecko fetcher.
func NewCoinGecko(opts CoinGeckoOptions, logger zerolog.Logger) *CoinGecko {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}

	return &CoinGecko{
		opts:    opts,
		logger:  logger.With().Str("component", "coingecko_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchPrice retrieves the current USD price and 24h change for a coin.
func (c *CoinGecko) FetchPrice(ctx context.Context, inst Instrument) (Quote, error) {
	coinID := inst.CoinID
	if coinID == "" {
		coinID = defaultCoinIDs[inst.Symbol]
	}
	if coinID == "" {
		return Quote{}, fmt.Errorf("no coingecko id configured for %s", inst.Symbol)
	}

	query := url.Values{}
	query.Set("ids", coinID)
	query.Set("vs_currencies", "usd")
	query.Set("include_24hr_change", "true")
	endpoint := c.baseURL + coinGeckoPricePath + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Quote{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Quote{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Quote{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return Quote{}, fmt.Errorf("coingecko api error (%d): %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var prices map[string]struct {
		USD       *float64 `json:"usd"`
		Change24h *float64 `json:"usd_24h_change"`
	}
	if err := json.Unmarshal(payload, &prices); err != nil {
		return Quote{}, fmt.Errorf("decode coingecko response: %w", err)
	}

	entry, ok := prices[coinID]
	if !ok || entry.USD == nil {
		return Quote{}, fmt.Errorf("coingecko returned no price for %s", coinID)
	}

	price := decimal.NewFromFloat(*entry.USD)
	quote := Quote{Price: price, Currency: "USD", AsOf: time.Now().UTC()}

	if entry.Change24h != nil {
		quote.ChangePct = decimal.NewFromFloat(*entry.Change24h)
		// Back out the implied previous close from the 24h change; the
		// absolute change follows from it, not from the current price.
		divisor := decimal.NewFromInt(1).Add(quote.ChangePct.Div(hundred))
		if !divisor.IsZero() {
			quote.PreviousClose = price.Div(divisor)
			quote.Change = price.Sub(quote.PreviousClose)
		}
	}

	return quote, nil
}

var _ PriceFetcher = (*CoinGecko)(nil)
