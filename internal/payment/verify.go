package payment

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// defaultClockSkewTolerance bounds how far a verifier's clock may diverge
// from the authorization's window edges before it's rejected, per spec
// §4.2's WindowInvalid failure mode.
const defaultClockSkewTolerance = 60 * time.Second

// NonceStore tracks observed (from, nonce) pairs to enforce the global
// replay-uniqueness invariant of spec §3 ("Payment Authorization").
type NonceStore interface {
	SeenAndRecord(from common.Address, nonce [32]byte) (alreadySeen bool)
}

// MemoryNonceStore is an in-process NonceStore, sufficient for a single
// agent's lifetime; C7 persists the same keys durably for crash recovery.
type MemoryNonceStore struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewMemoryNonceStore constructs an empty MemoryNonceStore.
func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{seen: make(map[string]struct{})}
}

func (m *MemoryNonceStore) SeenAndRecord(from common.Address, nonce [32]byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := from.Hex() + ":" + common.Bytes2Hex(nonce[:])
	if _, ok := m.seen[key]; ok {
		return true
	}
	m.seen[key] = struct{}{}
	return false
}

// Verifier verifies authorizations under one domain.
type Verifier struct {
	Domain       Domain
	Nonces       NonceStore
	SkewTolerance time.Duration
	Now          func() time.Time
}

// NewVerifier constructs a Verifier bound to domain and nonces, using the
// spec's default 60s clock-skew tolerance.
func NewVerifier(domain Domain, nonces NonceStore) *Verifier {
	return &Verifier{Domain: domain, Nonces: nonces, SkewTolerance: defaultClockSkewTolerance, Now: time.Now}
}

// Verify reconstructs the digest, recovers the signer, checks it matches
// auth.From, checks the validity window against the current time (with
// skew tolerance), and checks the nonce has not been observed before --
// spec §4.2's symmetric verification.
func (v *Verifier) Verify(auth *Authorization) error {
	d, err := digest(v.Domain, auth.From.Hex(), auth.To.Hex(), auth.Value, auth.ValidAfter, auth.ValidBefore, auth.Nonce)
	if err != nil {
		return SigningFailure(err)
	}

	sig := auth.Signature()
	// crypto.Ecrecover expects the recovery id in the last byte as 0/1, not
	// the Ethereum-convention 27/28 this package stores in auth.V.
	recoverSig := make([]byte, 65)
	copy(recoverSig, sig)
	if recoverSig[64] >= 27 {
		recoverSig[64] -= 27
	}

	pubKeyBytes, err := crypto.Ecrecover(d, recoverSig)
	if err != nil {
		return WrongSignerRecoveryFailed(err)
	}
	pubKey, err := crypto.UnmarshalPubkey(pubKeyBytes)
	if err != nil {
		return WrongSignerRecoveryFailed(err)
	}
	recovered := crypto.PubkeyToAddress(*pubKey)
	if recovered != auth.From {
		return WrongSigner(recovered, auth.From)
	}

	now := v.clock().Unix()
	tolerance := int64(v.SkewTolerance.Seconds())
	if now+tolerance < auth.ValidAfter || now-tolerance >= auth.ValidBefore {
		return WindowInvalid(now, auth.ValidAfter, auth.ValidBefore)
	}

	if v.Nonces != nil {
		if v.Nonces.SeenAndRecord(auth.From, auth.Nonce) {
			return DuplicateNonce(auth.From, auth.Nonce)
		}
	}

	return nil
}

func (v *Verifier) clock() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}
