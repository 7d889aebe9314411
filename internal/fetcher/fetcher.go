package fetcher

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a single price observation from a market data provider.
// Currency is the provider's quote currency; empty when unknown.
type Quote struct {
	Price         decimal.Decimal
	PreviousClose decimal.Decimal
	Change        decimal.Decimal
	ChangePct     decimal.Decimal
	Currency      string
	AsOf          time.Time
}

// Instrument identifies what to fetch and through which provider.
type Instrument struct {
	Symbol string
	Class  string
	Source string
	Ticker string // Yahoo ticker override (e.g. XDWD -> XDWD.MI)
	CoinID string // CoinGecko coin id (e.g. BTC -> bitcoin)
	Feed   string // Chainlink aggregator contract address
}

// PriceFetcher retrieves the current price of an instrument.
type PriceFetcher interface {
	FetchPrice(ctx context.Context, inst Instrument) (Quote, error)
}

var hundred = decimal.NewFromInt(100)

// newQuote derives change fields from a price and its previous close.
func newQuote(price, previousClose decimal.Decimal, asOf time.Time) Quote {
	q := Quote{Price: price, PreviousClose: previousClose, AsOf: asOf}
	if !previousClose.IsZero() {
		q.Change = price.Sub(previousClose)
		q.ChangePct = q.Change.Div(previousClose).Mul(hundred)
	}
	return q
}
