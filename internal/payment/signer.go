package payment

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// defaultValidityWindow is the validBefore horizon from now, per spec §4.2
// step 4.
const defaultValidityWindow = 3600 * time.Second

// KeySigner is the minimal surface C2 needs from C1's identity handle: sign
// a 32-byte digest with the agent's private key.
type KeySigner interface {
	Sign(digest [32]byte) ([]byte, error)
}

// Signer constructs and signs transfer authorizations under one domain.
type Signer struct {
	Domain Domain
	Now    func() time.Time
}

// NewSigner constructs a Signer bound to domain, using time.Now unless
// overridden (tests supply a fixed clock).
func NewSigner(domain Domain) *Signer {
	return &Signer{Domain: domain, Now: time.Now}
}

// Authorize implements spec §4.2 steps 1-6: converts amountDecimal to the
// token's smallest unit, generates a uniform nonce, fixes the validity
// window, and signs the resulting struct with signer on behalf of from.
func (s *Signer) Authorize(from, to common.Address, amountDecimal float64, decimals int, signer KeySigner) (*Authorization, error) {
	value, err := toSmallestUnit(amountDecimal, decimals)
	if err != nil {
		return nil, err
	}

	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, SigningFailure(err)
	}

	now := s.clock().Unix()
	validAfter := int64(0)
	validBefore := now + int64(defaultValidityWindow.Seconds())

	d, err := digest(s.Domain, from.Hex(), to.Hex(), value, validAfter, validBefore, nonce)
	if err != nil {
		return nil, SigningFailure(err)
	}
	var digestArr [32]byte
	copy(digestArr[:], d)

	sig, err := signer.Sign(digestArr)
	if err != nil {
		return nil, SigningFailure(err)
	}
	if len(sig) != 65 {
		return nil, SigningFailure(errSigLength)
	}

	auth := &Authorization{
		From:        from,
		To:          to,
		Value:       value,
		ValidAfter:  validAfter,
		ValidBefore: validBefore,
		Nonce:       nonce,
		V:           sig[64] + 27,
	}
	copy(auth.R[:], sig[0:32])
	copy(auth.S[:], sig[32:64])
	return auth, nil
}

func (s *Signer) clock() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// toSmallestUnit converts a decimal amount to an integer at the token's
// decimals, rejecting amounts that are not exactly representable
// (AmountUnrepresentable, per spec §4.2).
func toSmallestUnit(amount float64, decimals int) (*big.Int, error) {
	if amount <= 0 {
		return nil, AmountUnrepresentable(amount, decimals)
	}
	scale := math.Pow(10, float64(decimals))
	scaled := amount * scale
	rounded := math.Round(scaled)
	if math.Abs(scaled-rounded) > 1e-3 {
		return nil, AmountUnrepresentable(amount, decimals)
	}
	return big.NewInt(int64(rounded)), nil
}

type signatureLengthError struct{}

func (signatureLengthError) Error() string { return "signature is not 65 bytes" }

var errSigLength = signatureLengthError{}
