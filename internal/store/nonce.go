package store

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// NonceSeenSet scans ledger.jsonl into an in-memory set of observed
// (from, nonce) pairs at startup, so the payment verifier's replay check
// survives process restarts.
func (s *Store) NonceSeenSet(ctx context.Context) (map[string]struct{}, error) {
	seen := make(map[string]struct{})
	entries, err := s.readLedger()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		seen[e.From+":"+e.Nonce] = struct{}{}
	}
	return seen, nil
}

// LedgerEntriesWith returns every ledger entry where address appears as
// either counterparty, for C5's transactional reputation layer.
func (s *Store) LedgerEntriesWith(ctx context.Context, address string) ([]LedgerEntry, error) {
	entries, err := s.readLedger()
	if err != nil {
		return nil, err
	}
	var out []LedgerEntry
	for _, e := range entries {
		if e.From == address || e.To == address {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) readLedger() ([]LedgerEntry, error) {
	path := ledgerPath(s.dir)
	data, err := readFileIfExists(path)
	if err != nil {
		return nil, err
	}
	return parseLedgerLines(data)
}

// restoredNonceStore adapts a pre-seeded seen-set to payment.NonceStore
// without importing the payment package here, avoiding a store<->payment
// import cycle; internal/agent wires the concrete type together.
type restoredNonceStore struct {
	seen map[string]struct{}
}

// NewRestoredNonceStore builds a NonceStore pre-seeded from the ledger, so
// an agent restarted mid-session still rejects a replayed nonce it issued
// before the crash.
func NewRestoredNonceStore(seen map[string]struct{}) *restoredNonceStore {
	return &restoredNonceStore{seen: seen}
}

func (r *restoredNonceStore) SeenAndRecord(from common.Address, nonce [32]byte) bool {
	key := from.Hex() + ":" + common.Bytes2Hex(nonce[:])
	if _, ok := r.seen[key]; ok {
		return true
	}
	r.seen[key] = struct{}{}
	return false
}
