package switchboard

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
)

// ProgramID is the Switchboard V2 program that owns aggregator accounts on mainnet.
var ProgramID = solana.MustPublicKeyFromBase58("SW1TCH7qEPTdLsDHRgPuMQjbQxKdH2aBStViMFnt64f")

// AggregatorDiscriminator prefixes every aggregator account.
var AggregatorDiscriminator = accountDiscriminator("AggregatorAccountData")

func accountDiscriminator(name string) [DiscriminatorSize]byte {
	sum := sha256.Sum256([]byte("account:" + name))
	var d [DiscriminatorSize]byte
	copy(d[:], sum[:DiscriminatorSize])
	return d
}

// Hash is a 32 byte digest of a job definition.
type Hash [HashSize]byte

// ResolutionMode selects how the published result is produced.
type ResolutionMode uint8

const (
	// ModeRoundResolution publishes the median of one quorum-gated round.
	ModeRoundResolution ResolutionMode = 0
	// ModeSlidingResolution publishes a continuously maintained sliding window.
	ModeSlidingResolution ResolutionMode = 1
)

func (m ResolutionMode) String() string {
	switch m {
	case ModeRoundResolution:
		return "round"
	case ModeSlidingResolution:
		return "sliding"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(m))
	}
}

// AggregatorAccountData is the decoded aggregator account.
type AggregatorAccountData struct {
	Name        [32]byte
	Metadata    [128]byte
	Reserved1   [32]byte
	QueuePubkey solana.PublicKey

	// OracleRequestBatchSize is the number of oracles assigned to an update request.
	OracleRequestBatchSize uint32
	// MinOracleResults is the quorum a round needs before it is accepted.
	MinOracleResults      uint32
	MinJobResults         uint32
	MinUpdateDelaySeconds uint32
	StartAfter            int64
	VarianceThreshold     SwitchboardDecimal
	ForceReportPeriod     int64
	Expiration            int64

	ConsecutiveFailureCount uint64
	NextAllowedUpdateTime   int64
	IsLocked                bool
	CrankPubkey             solana.PublicKey

	LatestConfirmedRound AggregatorRound
	CurrentRound         AggregatorRound

	JobPubkeys     [MaxJobs]solana.PublicKey
	JobHashes      [MaxJobs]Hash
	JobPubkeysSize uint32
	JobsChecksum   [32]byte

	Authority                    solana.PublicKey
	HistoryBuffer                solana.PublicKey
	PreviousConfirmedRoundResult SwitchboardDecimal
	PreviousConfirmedRoundSlot   uint64
	DisableCrank                 bool
	JobWeights                   [MaxJobs]uint8
	CreationTimestamp            int64
	ResolutionMode               ResolutionMode
	Ebuf                         [ebufSize]byte
}

// NewZeroAggregator returns the all-zero aggregator, the state of an
// account that was allocated but never initialised.
func NewZeroAggregator() *AggregatorAccountData {
	return &AggregatorAccountData{}
}

// ParseAggregator validates the discriminator and decodes account data.
// data is only read for the duration of the call. Bytes past
// AggregatorAccountSize are ignored, the same as the on-chain loader, so
// accounts allocated with trailing space still decode.
func ParseAggregator(data []byte) (*AggregatorAccountData, error) {
	if len(data) < AggregatorAccountSize {
		return nil, fmt.Errorf("%w: account is %d bytes, want %d", ErrAccountDeserialization, len(data), AggregatorAccountSize)
	}
	if !bytes.Equal(data[:DiscriminatorSize], AggregatorDiscriminator[:]) {
		return nil, fmt.Errorf("%w: got %x", ErrAccountDiscriminatorMismatch, data[:DiscriminatorSize])
	}
	return decodeAggregatorBody(data[DiscriminatorSize:AggregatorAccountSize])
}

func decodeAggregatorBody(body []byte) (*AggregatorAccountData, error) {
	a := &AggregatorAccountData{}
	r := &layoutReader{buf: body}

	r.bytesInto(a.Name[:])
	r.bytesInto(a.Metadata[:])
	r.bytesInto(a.Reserved1[:])
	a.QueuePubkey = r.pubkey()
	a.OracleRequestBatchSize = r.u32()
	a.MinOracleResults = r.u32()
	a.MinJobResults = r.u32()
	a.MinUpdateDelaySeconds = r.u32()
	a.StartAfter = r.i64()
	a.VarianceThreshold = r.decimal()
	a.ForceReportPeriod = r.i64()
	a.Expiration = r.i64()
	a.ConsecutiveFailureCount = r.u64()
	a.NextAllowedUpdateTime = r.i64()
	a.IsLocked = r.bool()
	a.CrankPubkey = r.pubkey()
	a.LatestConfirmedRound.read(r)
	a.CurrentRound.read(r)
	for i := range a.JobPubkeys {
		a.JobPubkeys[i] = r.pubkey()
	}
	for i := range a.JobHashes {
		r.bytesInto(a.JobHashes[i][:])
	}
	a.JobPubkeysSize = r.u32()
	r.bytesInto(a.JobsChecksum[:])
	a.Authority = r.pubkey()
	a.HistoryBuffer = r.pubkey()
	a.PreviousConfirmedRoundResult = r.decimal()
	a.PreviousConfirmedRoundSlot = r.u64()
	a.DisableCrank = r.bool()
	r.bytesInto(a.JobWeights[:])
	a.CreationTimestamp = r.i64()
	modeAt := r.off
	a.ResolutionMode = ResolutionMode(r.u8())
	r.bytesInto(a.Ebuf[:])

	if r.err != nil {
		return nil, r.err
	}
	if a.ResolutionMode > ModeSlidingResolution {
		return nil, fmt.Errorf("%w: unknown resolution mode %d at offset %d", ErrAccountDeserialization, uint8(a.ResolutionMode), modeAt)
	}
	if r.off != AggregatorBodySize {
		return nil, fmt.Errorf("%w: decoded %d bytes, want %d", ErrAccountDeserialization, r.off, AggregatorBodySize)
	}
	return a, nil
}

// MarshalBinary encodes the account, discriminator included.
func (a *AggregatorAccountData) MarshalBinary() ([]byte, error) {
	buf := make([]byte, AggregatorAccountSize)
	copy(buf, AggregatorDiscriminator[:])
	w := &layoutWriter{buf: buf[DiscriminatorSize:]}

	w.bytes(a.Name[:])
	w.bytes(a.Metadata[:])
	w.bytes(a.Reserved1[:])
	w.pubkey(a.QueuePubkey)
	w.u32(a.OracleRequestBatchSize)
	w.u32(a.MinOracleResults)
	w.u32(a.MinJobResults)
	w.u32(a.MinUpdateDelaySeconds)
	w.i64(a.StartAfter)
	w.decimal(a.VarianceThreshold)
	w.i64(a.ForceReportPeriod)
	w.i64(a.Expiration)
	w.u64(a.ConsecutiveFailureCount)
	w.i64(a.NextAllowedUpdateTime)
	w.bool(a.IsLocked)
	w.pubkey(a.CrankPubkey)
	a.LatestConfirmedRound.write(w)
	a.CurrentRound.write(w)
	for _, pk := range a.JobPubkeys {
		w.pubkey(pk)
	}
	for _, h := range a.JobHashes {
		w.bytes(h[:])
	}
	w.u32(a.JobPubkeysSize)
	w.bytes(a.JobsChecksum[:])
	w.pubkey(a.Authority)
	w.pubkey(a.HistoryBuffer)
	w.decimal(a.PreviousConfirmedRoundResult)
	w.u64(a.PreviousConfirmedRoundSlot)
	w.bool(a.DisableCrank)
	w.bytes(a.JobWeights[:])
	w.i64(a.CreationTimestamp)
	w.u8(uint8(a.ResolutionMode))
	w.bytes(a.Ebuf[:])

	if w.off != AggregatorBodySize {
		return nil, fmt.Errorf("%w: encoded %d bytes, want %d", ErrAccountDeserialization, w.off, AggregatorBodySize)
	}
	return buf, nil
}

// GetResult returns the latest confirmed result. In round resolution mode
// the round must have reached MinOracleResults successful responses.
//
// Freshness is not checked here: callers must validate round timestamps
// themselves. An all-zero account with a zero quorum resolves to 0, so
// check IsInitialized before trusting the value.
func (a *AggregatorAccountData) GetResult() (SwitchboardDecimal, error) {
	if a.ResolutionMode == ModeSlidingResolution {
		return a.LatestConfirmedRound.Result, nil
	}
	if a.MinOracleResults > a.LatestConfirmedRound.NumSuccess {
		return SwitchboardDecimal{}, fmt.Errorf("%w: %d of %d required oracle results",
			ErrInvalidAggregatorRound, a.LatestConfirmedRound.NumSuccess, a.MinOracleResults)
	}
	return a.LatestConfirmedRound.Result, nil
}

// IsInitialized reports whether the account was ever initialised by the oracle program.
func (a *AggregatorAccountData) IsInitialized() bool {
	return a.CreationTimestamp != 0 || !a.QueuePubkey.IsZero()
}

// FeedName returns Name with trailing NUL bytes removed.
func (a *AggregatorAccountData) FeedName() string {
	return strings.TrimRight(string(a.Name[:]), "\x00")
}

// CreatedAt returns the creation timestamp as UTC time.
func (a *AggregatorAccountData) CreatedAt() time.Time {
	return time.Unix(a.CreationTimestamp, 0).UTC()
}
