package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const aggregatorABIJSON = `[
{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}
]`

var aggregatorABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABIJSON))
	if err != nil {
		panic("failed to parse aggregator ABI: " + err.Error())
	}
	aggregatorABI = parsed
}

// ChainlinkOptions parameterise the on-chain price feed fetcher.
type ChainlinkOptions struct {
	RPCURL  string
	Timeout time.Duration
}

// Chainlink reads USD price feeds from on-chain aggregator contracts over
// Ethereum RPC. Each instrument supplies its own feed address.
type Chainlink struct {
	opts      ChainlinkOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex

	decimalsMux  sync.Mutex
	feedDecimals map[common.Address]uint8
}

// NewChainlink builds a new on-chain price fetcher.
func NewChainlink(opts ChainlinkOptions, logger zerolog.Logger) *Chainlink {
	return &Chainlink{
		opts:         opts,
		logger:       logger.With().Str("component", "chainlink_fetcher").Logger(),
		feedDecimals: make(map[common.Address]uint8),
	}
}

// FetchPrice reads latestRoundData from the instrument's aggregator feed.
// Chainlink has no previous-close notion, so the quote carries only the spot
// price and the feed's update timestamp.
func (c *Chainlink) FetchPrice(ctx context.Context, inst Instrument) (Quote, error) {
	if c.opts.RPCURL == "" {
		return Quote{}, errors.New("chainlink rpc url not configured")
	}
	if inst.Feed == "" {
		return Quote{}, fmt.Errorf("no chainlink feed configured for %s", inst.Symbol)
	}

	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return Quote{}, err
	}

	addr := common.HexToAddress(inst.Feed)

	feedDec, err := c.getDecimals(ctx, client, addr)
	if err != nil {
		return Quote{}, err
	}

	payload, err := aggregatorABI.Pack("latestRoundData")
	if err != nil {
		return Quote{}, err
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return Quote{}, err
	}

	outputs, err := aggregatorABI.Unpack("latestRoundData", res)
	if err != nil {
		return Quote{}, err
	}
	if len(outputs) != 5 {
		return Quote{}, errors.New("unexpected latestRoundData response")
	}

	answer, ok := outputs[1].(*big.Int)
	if !ok {
		return Quote{}, errors.New("failed to decode latestRoundData answer")
	}
	if answer.Sign() <= 0 {
		return Quote{}, fmt.Errorf("feed %s returned non-positive answer", inst.Feed)
	}

	updatedAt, ok := outputs[3].(*big.Int)
	if !ok {
		return Quote{}, errors.New("failed to decode latestRoundData updatedAt")
	}

	price := decimal.NewFromBigInt(answer, -int32(feedDec))
	asOf := time.Unix(updatedAt.Int64(), 0).UTC()

	return Quote{Price: price, Currency: "USD", AsOf: asOf}, nil
}

func (c *Chainlink) getDecimals(ctx context.Context, client *ethclient.Client, addr common.Address) (uint8, error) {
	c.decimalsMux.Lock()
	cached, ok := c.feedDecimals[addr]
	c.decimalsMux.Unlock()
	if ok {
		return cached, nil
	}

	payload, err := aggregatorABI.Pack("decimals")
	if err != nil {
		return 0, err
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return 0, err
	}

	outputs, err := aggregatorABI.Unpack("decimals", res)
	if err != nil {
		return 0, err
	}
	if len(outputs) != 1 {
		return 0, errors.New("unexpected decimals response")
	}

	value, ok := outputs[0].(uint8)
	if !ok {
		return 0, errors.New("failed to decode decimals output")
	}

	c.decimalsMux.Lock()
	c.feedDecimals[addr] = value
	c.decimalsMux.Unlock()
	return value, nil
}

func (c *Chainlink) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

var _ PriceFetcher = (*Chainlink)(nil)
