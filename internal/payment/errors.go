package payment

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/karmacadabra/agent/internal/kerrors"
)

// SigningFailure reports that the signing key was unavailable, per spec §4.2.
func SigningFailure(err error) *kerrors.AgentError {
	return kerrors.Wrap(kerrors.KindConfig, "signing key unavailable", err)
}

// AmountUnrepresentable reports a decimal amount that does not scale to an
// exact integer at the token's decimals, per spec §4.2.
func AmountUnrepresentable(amount float64, decimals int) *kerrors.AgentError {
	return kerrors.New(kerrors.KindInvariant, "amount is not representable at token decimals").
		WithDetail("amount", amount).
		WithDetail("decimals", decimals)
}

// WindowInvalid reports that an authorization's validity window is not
// currently open, accounting for the configured clock-skew tolerance.
func WindowInvalid(now, validAfter, validBefore int64) *kerrors.AgentError {
	return kerrors.New(kerrors.KindInvariant, "authorization window is not currently valid").
		WithDetail("now", now).
		WithDetail("valid_after", validAfter).
		WithDetail("valid_before", validBefore)
}

// WrongSignerRecoveryFailed reports that the signature could not be recovered
// to any public key at all.
func WrongSignerRecoveryFailed(err error) *kerrors.AgentError {
	return kerrors.Wrap(kerrors.KindInvariant, "failed to recover signer from signature", err)
}

// WrongSigner reports that the recovered signer does not match the claimed
// authorization sender.
func WrongSigner(recovered, claimed common.Address) *kerrors.AgentError {
	return kerrors.WrongSigner(claimed.Hex(), recovered.Hex())
}

// DuplicateNonce reports that the (from, nonce) pair has already been observed.
func DuplicateNonce(from common.Address, nonce [32]byte) *kerrors.AgentError {
	return kerrors.DuplicateNonce(from.Hex(), common.Bytes2Hex(nonce[:]))
}
