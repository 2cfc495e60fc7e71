package reputation

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// onChainRegistryABI exposes the one read C5 needs from the reputation
// registry named in spec §6: a confirmed-validation count per address. The
// registry's write side (rateClient/rateValidator) belongs to the
// validator/buyer roles that rate counterparties, not to this read path.
const onChainRegistryABI = `[
  {"type":"function","name":"confirmedValidations","stateMutability":"view",
   "inputs":[{"name":"addr","type":"address"}],
   "outputs":[{"name":"count","type":"uint256"}]}
]`

// EVMRegistry reads the on-chain reputation registry over JSON-RPC, grounded
// on identity.EVMRegistry's call-and-unpack shape.
type EVMRegistry struct {
	client  *ethclient.Client
	address common.Address
	abi     abi.ABI
}

// NewEVMRegistry dials rpcURL and binds to the reputation registry at address.
func NewEVMRegistry(rpcURL string, address common.Address) (*EVMRegistry, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc: %w", err)
	}
	parsedABI, err := abi.JSON(strings.NewReader(onChainRegistryABI))
	if err != nil {
		return nil, fmt.Errorf("parse reputation registry abi: %w", err)
	}
	return &EVMRegistry{client: client, address: address, abi: parsedABI}, nil
}

// ConfirmedValidations reads the registry's confirmed-validation count for addr.
func (r *EVMRegistry) ConfirmedValidations(ctx context.Context, addr common.Address) (uint64, error) {
	data, err := r.abi.Pack("confirmedValidations", addr)
	if err != nil {
		return 0, fmt.Errorf("pack confirmedValidations: %w", err)
	}
	result, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &r.address, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("call confirmedValidations: %w", err)
	}
	out, err := r.abi.Unpack("confirmedValidations", result)
	if err != nil {
		return 0, fmt.Errorf("unpack confirmedValidations: %w", err)
	}
	count, ok := out[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("unexpected confirmedValidations output type")
	}
	return count.Uint64(), nil
}
