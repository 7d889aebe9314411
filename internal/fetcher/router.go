package fetcher

import (
	"context"
	"fmt"
)

// Router dispatches price fetches to the provider configured per instrument.
// Instruments without an explicit source default by class: ETF via Yahoo,
// CRYPTO via CoinGecko.
type Router struct {
	yahoo     PriceFetcher
	coingecko PriceFetcher
	chainlink PriceFetcher
}

// NewRouter wires the available providers.
func NewRouter(yahoo, coingecko, chainlink PriceFetcher) *Router {
	return &Router{yahoo: yahoo, coingecko: coingecko, chainlink: chainlink}
}

// FetchPrice routes to the provider for the instrument.
func (r *Router) FetchPrice(ctx context.Context, inst Instrument) (Quote, error) {
	provider, err := r.resolve(inst)
	if err != nil {
		return Quote{}, err
	}
	return provider.FetchPrice(ctx, inst)
}

func (r *Router) resolve(inst Instrument) (PriceFetcher, error) {
	source := inst.Source
	if source == "" {
		if inst.Class == "CRYPTO" {
			source = "coingecko"
		} else {
			source = "yahoo"
		}
	}

	switch source {
	case "yahoo":
		if r.yahoo == nil {
			return nil, fmt.Errorf("yahoo fetcher not configured")
		}
		return r.yahoo, nil
	case "coingecko":
		if r.coingecko == nil {
			return nil, fmt.Errorf("coingecko fetcher not configured")
		}
		return r.coingecko, nil
	case "chainlink":
		if r.chainlink == nil {
			return nil, fmt.Errorf("chainlink fetcher not configured")
		}
		return r.chainlink, nil
	default:
		return nil, fmt.Errorf("unknown price source %q for %s", source, inst.Symbol)
	}
}

var _ PriceFetcher = (*Router)(nil)
