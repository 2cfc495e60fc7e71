package identity

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// identityRegistryABI exposes just the two methods C1 needs, per spec §6:
// newAgent(name, domain, metadata) -> id and resolveByAddress(addr) -> AgentInfo.
const identityRegistryABI = `[
  {"type":"function","name":"newAgent","stateMutability":"nonpayable",
   "inputs":[{"name":"name","type":"string"},{"name":"domain","type":"string"},{"name":"metadata","type":"bytes"}],
   "outputs":[{"name":"id","type":"uint256"}]},
  {"type":"function","name":"resolveByAddress","stateMutability":"view",
   "inputs":[{"name":"addr","type":"address"}],
   "outputs":[{"name":"id","type":"uint256"},{"name":"found","type":"bool"}]}
]`

// EVMRegistry implements identity.Registry against an EVM-style identity
// registry contract over JSON-RPC, per spec §4.1 and §6's chain registries.
type EVMRegistry struct {
	client  *ethclient.Client
	address common.Address
	abi     abi.ABI
	chainID *big.Int
}

// NewEVMRegistry dials rpcURL and binds to the identity registry at address.
func NewEVMRegistry(rpcURL string, address common.Address, chainID int64) (*EVMRegistry, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc: %w", err)
	}
	parsedABI, err := abi.JSON(strings.NewReader(identityRegistryABI))
	if err != nil {
		return nil, fmt.Errorf("parse identity registry abi: %w", err)
	}
	return &EVMRegistry{
		client:  client,
		address: address,
		abi:     parsedABI,
		chainID: big.NewInt(chainID),
	}, nil
}

// ResolveByAddress calls the registry's resolveByAddress view method.
func (r *EVMRegistry) ResolveByAddress(ctx context.Context, addr common.Address) (uint64, bool, error) {
	data, err := r.abi.Pack("resolveByAddress", addr)
	if err != nil {
		return 0, false, fmt.Errorf("pack resolveByAddress: %w", err)
	}

	result, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &r.address, Data: data}, nil)
	if err != nil {
		return 0, false, fmt.Errorf("call resolveByAddress: %w", err)
	}

	out, err := r.abi.Unpack("resolveByAddress", result)
	if err != nil {
		return 0, false, fmt.Errorf("unpack resolveByAddress: %w", err)
	}
	if len(out) != 2 {
		return 0, false, fmt.Errorf("unexpected resolveByAddress output shape")
	}
	id, ok := out[0].(*big.Int)
	if !ok {
		return 0, false, fmt.Errorf("unexpected id type")
	}
	found, ok := out[1].(bool)
	if !ok {
		return 0, false, fmt.Errorf("unexpected found type")
	}
	return id.Uint64(), found, nil
}

// NewAgent submits a self-registration transaction and waits for its receipt.
func (r *EVMRegistry) NewAgent(ctx context.Context, name, domain string, metadata []byte, signer *ecdsa.PrivateKey) (uint64, error) {
	auth, err := bind.NewKeyedTransactorWithChainID(signer, r.chainID)
	if err != nil {
		return 0, fmt.Errorf("create transactor: %w", err)
	}
	auth.Context = ctx

	data, err := r.abi.Pack("newAgent", name, domain, metadata)
	if err != nil {
		return 0, fmt.Errorf("pack newAgent: %w", err)
	}

	nonce, err := r.client.PendingNonceAt(ctx, auth.From)
	if err != nil {
		return 0, fmt.Errorf("fetch nonce: %w", err)
	}
	gasPrice, err := r.client.SuggestGasPrice(ctx)
	if err != nil {
		return 0, fmt.Errorf("suggest gas price: %w", err)
	}

	tx := types.NewTransaction(nonce, r.address, big.NewInt(0), 200_000, gasPrice, data)
	signedTx, err := auth.Signer(auth.From, tx)
	if err != nil {
		return 0, fmt.Errorf("sign registration tx: %w", err)
	}
	if err := r.client.SendTransaction(ctx, signedTx); err != nil {
		return 0, fmt.Errorf("send registration tx: %w", err)
	}

	receipt, err := bind.WaitMined(ctx, r.client, signedTx)
	if err != nil {
		return 0, fmt.Errorf("wait for registration receipt: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return 0, fmt.Errorf("registration transaction reverted")
	}

	// The registry id isn't directly in the receipt for a generic ABI call;
	// re-resolve by address to pick up the freshly assigned id.
	addr := crypto.PubkeyToAddress(signer.PublicKey)
	id, found, err := r.ResolveByAddress(ctx, addr)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("registration succeeded but resolveByAddress still reports unregistered")
	}
	return id, nil
}
