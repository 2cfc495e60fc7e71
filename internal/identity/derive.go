package identity

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcutil/hdkeychain"
	"github.com/tyler-smith/go-bip39"
)

// derivationPurpose, derivationCoinType, and derivationAccount fix the
// hardened path prefix m/44'/60'/0'/0/i from spec §4.1.
const (
	derivationPurpose  = 44
	derivationCoinType = 60
	derivationAccount  = 0
	derivationChange   = 0
)

// DeriveFromMnemonic derives the secp256k1 private key at hardened path
// m/44'/60'/0'/0/index from a BIP-39 mnemonic loaded from the swarm seed.
func DeriveFromMnemonic(mnemonic string, index uint32) (*ecdsa.PrivateKey, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("swarm seed is not a valid BIP-39 mnemonic")
	}
	seed := bip39.NewSeed(mnemonic, "")

	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("derive master key: %w", err)
	}

	purpose, err := master.Child(derivationPurpose + hdkeychain.HardenedKeyStart)
	if err != nil {
		return nil, fmt.Errorf("derive purpose: %w", err)
	}
	coinType, err := purpose.Child(derivationCoinType + hdkeychain.HardenedKeyStart)
	if err != nil {
		return nil, fmt.Errorf("derive coin type: %w", err)
	}
	account, err := coinType.Child(derivationAccount + hdkeychain.HardenedKeyStart)
	if err != nil {
		return nil, fmt.Errorf("derive account: %w", err)
	}
	change, err := account.Child(derivationChange)
	if err != nil {
		return nil, fmt.Errorf("derive change: %w", err)
	}
	addressKey, err := change.Child(index)
	if err != nil {
		return nil, fmt.Errorf("derive address index %d: %w", index, err)
	}

	ecKey, err := addressKey.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("extract private key: %w", err)
	}

	return ecKey.ToECDSA(), nil
}
