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

const (
	aggregatorV3ABIJSON = `[
{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}
]`
)

var (
	aggregatorV3ABI abi.ABI
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorV3ABIJSON))
	if err != nil {
		panic("failed to parse AggregatorV3 ABI: " + err.Error())
	}
	aggregatorV3ABI = parsed
}

// ReferenceOptions parameterise the EVM reference fetcher.
type ReferenceOptions struct {
	RPCURL      string
	FeedAddress string
	Timeout     time.Duration
}

// Reference reads a Chainlink-compatible AggregatorV3 feed.
type Reference struct {
	opts      ReferenceOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
	decimals  *uint8
}

// NewReference builds a new reference fetcher.
func NewReference(opts ReferenceOptions, logger zerolog.Logger) *Reference {
	return &Reference{opts: opts, logger: logger.With().Str("component", "reference_fetcher").Logger()}
}

// FetchReference retrieves the latest reference answer scaled by the feed decimals.
func (r *Reference) FetchReference(ctx context.Context) (ReferencePrice, error) {
	if r.opts.RPCURL == "" {
		return ReferencePrice{}, errors.New("reference rpc url not configured")
	}
	if r.opts.FeedAddress == "" {
		return ReferencePrice{}, errors.New("reference feed address not configured")
	}

	timeout := r.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := r.getClient(ctx)
	if err != nil {
		return ReferencePrice{}, err
	}

	addr := common.HexToAddress(r.opts.FeedAddress)

	decimals, err := r.feedDecimals(ctx, client, addr)
	if err != nil {
		return ReferencePrice{}, err
	}

	outputs, err := r.call(ctx, client, addr, "latestRoundData")
	if err != nil {
		return ReferencePrice{}, err
	}
	if len(outputs) != 5 {
		return ReferencePrice{}, errors.New("unexpected latestRoundData response")
	}

	answer, ok := outputs[1].(*big.Int)
	if !ok {
		return ReferencePrice{}, errors.New("failed to decode latestRoundData answer")
	}
	updatedAt, ok := outputs[3].(*big.Int)
	if !ok {
		return ReferencePrice{}, errors.New("failed to decode latestRoundData updatedAt")
	}

	blockNumber, err := client.BlockNumber(ctx)
	if err != nil {
		return ReferencePrice{}, err
	}

	return ReferencePrice{
		Price:       decimal.NewFromBigInt(answer, -int32(decimals)),
		BlockNumber: blockNumber,
		UpdatedAt:   time.Unix(updatedAt.Int64(), 0).UTC(),
	}, nil
}

func (r *Reference) feedDecimals(ctx context.Context, client *ethclient.Client, addr common.Address) (uint8, error) {
	if r.decimals != nil {
		return *r.decimals, nil
	}
	outputs, err := r.call(ctx, client, addr, "decimals")
	if err != nil {
		return 0, err
	}
	if len(outputs) != 1 {
		return 0, errors.New("unexpected decimals response")
	}
	d, ok := outputs[0].(uint8)
	if !ok {
		return 0, errors.New("failed to decode decimals output")
	}
	r.decimals = &d
	return d, nil
}

func (r *Reference) call(ctx context.Context, client *ethclient.Client, addr common.Address, method string) ([]interface{}, error) {
	payload, err := aggregatorV3ABI.Pack(method)
	if err != nil {
		return nil, err
	}
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	return aggregatorV3ABI.Unpack(method, res)
}

func (r *Reference) getClient(ctx context.Context) (*ethclient.Client, error) {
	r.clientMux.Lock()
	defer r.clientMux.Unlock()

	if r.client != nil {
		return r.client, nil
	}

	client, err := ethclient.DialContext(ctx, r.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	r.client = client
	return client, nil
}

var _ ReferenceFetcher = (*Reference)(nil)
