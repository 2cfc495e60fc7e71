package reputation

import (
	"context"
	"math"

	"github.com/ethereum/go-ethereum/common"

	"github.com/karmacadabra/agent/internal/store"
)

// LedgerReader is the subset of store.Store the transactional layer needs.
// Kept as an interface so tests can fake it without a real data directory.
type LedgerReader interface {
	LedgerEntriesWith(ctx context.Context, address string) ([]store.LedgerEntry, error)
}

// OnChainReader is the subset of EVMRegistry the composite source needs,
// so a nil chain connection degrades the layer instead of panicking.
type OnChainReader interface {
	ConfirmedValidations(ctx context.Context, addr common.Address) (uint64, error)
}

// onChainConfidenceSamples is the validation count at which the on-chain
// layer reaches full confidence; below it, confidence scales linearly.
const onChainConfidenceSamples = 20

// transactionalConfidenceSamples is the settled-ledger-entry count at which
// the transactional layer reaches full confidence.
const transactionalConfidenceSamples = 10

// CompositeSource implements Source over the on-chain reputation registry
// and the local settlement ledger. The off-chain layer (chat-derived
// sentiment, external attestations) has no durable signal anywhere in this
// system — chat messages are not persisted past delivery (C6) — so it
// always reports Available: false and the composite degrades to the
// remaining two layers, per spec §4.5's "missing layer" rule.
type CompositeSource struct {
	onChain OnChainReader
	ledger  LedgerReader
}

// NewCompositeSource builds a Source from an on-chain registry reader and a
// ledger reader. onChain may be nil when no reputation registry is
// configured; its layer then reports Available: false.
func NewCompositeSource(onChain OnChainReader, ledger LedgerReader) *CompositeSource {
	return &CompositeSource{onChain: onChain, ledger: ledger}
}

// OnChainLayer scores an address by its confirmed-validation count on the
// reputation registry: more confirmed validations raise both the score
// (capped at 100) and the confidence (capped at 1).
func (s *CompositeSource) OnChainLayer(ctx context.Context, address string) (Layer, error) {
	if s.onChain == nil {
		return Layer{}, nil
	}
	count, err := s.onChain.ConfirmedValidations(ctx, common.HexToAddress(address))
	if err != nil {
		return Layer{}, err
	}
	score := math.Min(100, float64(count)*5)
	confidence := math.Min(1, float64(count)/onChainConfidenceSamples)
	return Layer{Score: score, Confidence: confidence, Available: true}, nil
}

// OffChainLayer always reports unavailable; see CompositeSource's doc comment.
func (s *CompositeSource) OffChainLayer(ctx context.Context, address string) (Layer, error) {
	return Layer{}, nil
}

// TransactionalLayer scores an address by its settled-ledger history with
// this agent: every recorded settlement counts as a successful interaction,
// since a settled ledger entry implies the counterparty's payment cleared.
func (s *CompositeSource) TransactionalLayer(ctx context.Context, address string) (Layer, error) {
	entries, err := s.ledger.LedgerEntriesWith(ctx, address)
	if err != nil {
		return Layer{}, err
	}
	if len(entries) == 0 {
		return Layer{}, nil
	}
	score := math.Min(100, 60+float64(len(entries))*4)
	confidence := math.Min(1, float64(len(entries))/transactionalConfidenceSamples)
	return Layer{Score: score, Confidence: confidence, Available: true}, nil
}
