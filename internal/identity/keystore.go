// Package identity implements C1: the keystore and identity resolver.
// It resolves a plaintext agent name to (private key, address, registry id,
// derivation index) following the lookup order of spec §4.1.
package identity

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/karmacadabra/agent/internal/kerrors"
	"github.com/karmacadabra/agent/internal/resilience"
)

// Handle is the resolved identity of one agent.
type Handle struct {
	Name            string
	PrivateKey      *ecdsa.PrivateKey
	Address         common.Address
	RegistryID      uint64
	Registered      bool
	DerivationIndex uint32
	Degraded        bool
	DegradedReason  string
}

// Sign signs a 32-byte digest with the handle's private key. The signer (C2)
// is the only caller; this exists so the private key never leaves this
// package's control.
func (h *Handle) Sign(digest [32]byte) (sig []byte, err error) {
	if h == nil || h.PrivateKey == nil {
		return nil, kerrors.Wrap(kerrors.KindConfig, "signing key unavailable", fmt.Errorf("no private key"))
	}
	return crypto.Sign(digest[:], h.PrivateKey)
}

// Config is the subset of agent configuration C1 needs to resolve an identity.
type Config struct {
	Name            string
	PrivateKeyHex   string
	SwarmSeedPath   string
	DerivationIndex uint32
}

// Registry is the on-chain identity registry contract surface C1 needs.
// Implemented by the chain-bound EVMRegistry type in registry.go; abstracted
// here so tests can supply a fake.
type Registry interface {
	ResolveByAddress(ctx context.Context, addr common.Address) (registryID uint64, found bool, err error)
	NewAgent(ctx context.Context, name, domain string, metadata []byte, signer *ecdsa.PrivateKey) (registryID uint64, err error)
}

// Resolver resolves agent identities per the lookup order of spec §4.1.
type Resolver struct {
	registry Registry
}

// NewResolver constructs a Resolver bound to the given on-chain registry.
// registry may be nil, in which case resolution always runs in degraded mode.
func NewResolver(registry Registry) *Resolver {
	return &Resolver{registry: registry}
}

// Resolve implements the three-step lookup order of spec §4.1:
//  1. process-scoped config (explicit private key)
//  2. swarm seed mnemonic, derived at cfg.DerivationIndex
//  3. on-chain identity registry, queried by address
//
// A missing secret (no explicit key and no usable swarm seed) is fatal per
// spec §7. Chain RPC failure during step 3 is retried with capped backoff
// and degrades gracefully rather than failing resolution outright.
func (r *Resolver) Resolve(ctx context.Context, cfg Config) (*Handle, error) {
	privKey, err := r.loadPrivateKey(cfg)
	if err != nil {
		return nil, err
	}

	addr := crypto.PubkeyToAddress(privKey.PublicKey)
	h := &Handle{
		Name:            cfg.Name,
		PrivateKey:      privKey,
		Address:         addr,
		DerivationIndex: cfg.DerivationIndex,
	}

	if r.registry == nil {
		h.Degraded = true
		h.DegradedReason = "no identity registry configured"
		return h, nil
	}

	var (
		registryID uint64
		found      bool
	)
	retryErr := resilience.Retry(ctx, resilience.ChainResolutionConfig(), func() error {
		var rerr error
		registryID, found, rerr = r.registry.ResolveByAddress(ctx, addr)
		return rerr
	})
	if retryErr != nil {
		h.Degraded = true
		h.DegradedReason = fmt.Sprintf("chain RPC failure during resolution: %v", retryErr)
		return h, nil
	}

	if found {
		h.RegistryID = registryID
		h.Registered = true
		return h, nil
	}

	// Not yet registered. Spec §4.1: "the first successful heartbeat submits
	// a registration transaction ... and caches the returned registry_id
	// locally." Registration itself is driven by the scheduler (C8) on the
	// first tick, not here; Resolve only reports the unregistered state.
	return h, nil
}

// Register submits a self-registration transaction and returns the assigned
// registry id. Callers (C8) invoke this once, on the first successful
// heartbeat for an unregistered agent, and persist the result via C7.
func (r *Resolver) Register(ctx context.Context, h *Handle, domain string, metadata []byte) (uint64, error) {
	if r.registry == nil {
		return 0, kerrors.New(kerrors.KindNetwork, "identity registry unavailable, cannot self-register")
	}
	var id uint64
	err := resilience.Retry(ctx, resilience.ChainResolutionConfig(), func() error {
		var rerr error
		id, rerr = r.registry.NewAgent(ctx, h.Name, domain, metadata, h.PrivateKey)
		return rerr
	})
	if err != nil {
		return 0, kerrors.Wrap(kerrors.KindNetwork, "self-registration failed", err)
	}
	h.RegistryID = id
	h.Registered = true
	return id, nil
}

func (r *Resolver) loadPrivateKey(cfg Config) (*ecdsa.PrivateKey, error) {
	// Step 1: process-scoped config (explicit private key).
	if hexKey := strings.TrimSpace(cfg.PrivateKeyHex); hexKey != "" {
		hexKey = strings.TrimPrefix(hexKey, "0x")
		key, err := crypto.HexToECDSA(hexKey)
		if err != nil {
			return nil, kerrors.MalformedIdentity(err)
		}
		return key, nil
	}

	// Step 2: swarm seed mnemonic, derived at cfg.DerivationIndex.
	if path := strings.TrimSpace(cfg.SwarmSeedPath); path != "" {
		mnemonicBytes, err := os.ReadFile(path)
		if err != nil {
			return nil, kerrors.MissingSecret("SWARM_SEED_PATH")
		}
		mnemonic := strings.TrimSpace(string(mnemonicBytes))
		key, err := DeriveFromMnemonic(mnemonic, cfg.DerivationIndex)
		if err != nil {
			return nil, kerrors.MalformedIdentity(err)
		}
		return key, nil
	}

	return nil, kerrors.MissingSecret("PRIVATE_KEY or SWARM_SEED_PATH")
}
