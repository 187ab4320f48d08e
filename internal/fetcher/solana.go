package fetcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog"
)

// SolanaOptions parameterise the aggregator fetcher.
type SolanaOptions struct {
	RPCURL     string
	Aggregator string
	ProgramID  string
	Commitment string
	Timeout    time.Duration
}

// Solana reads aggregator accounts over JSON-RPC.
type Solana struct {
	opts      SolanaOptions
	logger    zerolog.Logger
	client    *rpc.Client
	clientMux sync.Mutex
}

// NewSolana builds a new aggregator fetcher.
func NewSolana(opts SolanaOptions, logger zerolog.Logger) *Solana {
	return &Solana{opts: opts, logger: logger.With().Str("component", "solana_fetcher").Logger()}
}

// FetchAggregator returns the current account bytes and the slot they were read at.
func (s *Solana) FetchAggregator(ctx context.Context) (AccountSnapshot, error) {
	if s.opts.RPCURL == "" {
		return AccountSnapshot{}, errors.New("solana rpc url not configured")
	}
	if s.opts.Aggregator == "" {
		return AccountSnapshot{}, errors.New("aggregator address not configured")
	}
	address, err := solana.PublicKeyFromBase58(s.opts.Aggregator)
	if err != nil {
		return AccountSnapshot{}, fmt.Errorf("parse aggregator address: %w", err)
	}
	var program solana.PublicKey
	if s.opts.ProgramID != "" {
		program, err = solana.PublicKeyFromBase58(s.opts.ProgramID)
		if err != nil {
			return AccountSnapshot{}, fmt.Errorf("parse program id: %w", err)
		}
	}

	timeout := s.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	commitment := rpc.CommitmentConfirmed
	if s.opts.Commitment != "" {
		commitment = rpc.CommitmentType(s.opts.Commitment)
	}

	res, err := s.getClient().GetAccountInfoWithOpts(ctx, address, &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: commitment,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return AccountSnapshot{}, fmt.Errorf("%w: %s", ErrAccountNotFound, address)
		}
		return AccountSnapshot{}, fmt.Errorf("get account info: %w", err)
	}
	if res == nil || res.Value == nil || res.Value.Data == nil {
		return AccountSnapshot{}, fmt.Errorf("%w: %s", ErrAccountNotFound, address)
	}
	if !program.IsZero() && !res.Value.Owner.Equals(program) {
		return AccountSnapshot{}, fmt.Errorf("account %s is owned by %s, want %s", address, res.Value.Owner, program)
	}

	data := res.Value.Data.GetBinary()
	s.logger.Debug().Str("aggregator", address.String()).
		Uint64("slot", res.Context.Slot).
		Int("bytes", len(data)).
		Msg("aggregator account fetched")

	return AccountSnapshot{
		Address:   address,
		Owner:     res.Value.Owner,
		Data:      data,
		Slot:      res.Context.Slot,
		FetchedAt: time.Now().UTC(),
	}, nil
}

func (s *Solana) getClient() *rpc.Client {
	s.clientMux.Lock()
	defer s.clientMux.Unlock()

	if s.client == nil {
		s.client = rpc.New(s.opts.RPCURL)
	}
	return s.client
}

var _ FeedFetcher = (*Solana)(nil)
