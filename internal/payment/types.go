// Package payment implements C2: construction, signing, and verification of
// typed transfer-with-authorization messages consumed by the external
// settlement facilitator (spec §4.2).
package payment

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Domain binds a signature to one token contract, chain, and token version,
// per spec §4.2 step 5's domain separator (token_contract, chain_id,
// token_name, version).
type Domain struct {
	TokenContract common.Address
	ChainID       int64
	TokenName     string
	Version       string
}

// Authorization is the wire-level payment authorization of spec §4.2: a
// transfer of Value from From to To, valid only in [ValidAfter, ValidBefore),
// authenticated by the (V, R, S) signature over the typed struct and Domain.
type Authorization struct {
	From         common.Address
	To           common.Address
	Value        *big.Int
	ValidAfter   int64
	ValidBefore  int64
	Nonce        [32]byte
	V            uint8
	R            [32]byte
	S            [32]byte
}

// Signature returns the 65-byte [R || S || V] encoding go-ethereum's crypto
// package expects for recovery.
func (a *Authorization) Signature() []byte {
	sig := make([]byte, 65)
	copy(sig[0:32], a.R[:])
	copy(sig[32:64], a.S[:])
	sig[64] = a.V
	return sig
}

// NonceHex renders the nonce as an unprefixed hex string, the form used as
// the second half of the (from, nonce) replay-uniqueness key.
func (a *Authorization) NonceHex() string {
	return common.Bytes2Hex(a.Nonce[:])
}
