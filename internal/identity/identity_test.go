package identity

import (
	"context"
	"crypto/ecdsa"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

type fakeRegistry struct {
	byAddress   map[common.Address]uint64
	registerErr error
	nextID      uint64
}

func (f *fakeRegistry) ResolveByAddress(ctx context.Context, addr common.Address) (uint64, bool, error) {
	id, ok := f.byAddress[addr]
	return id, ok, nil
}

func (f *fakeRegistry) NewAgent(ctx context.Context, name, domain string, metadata []byte, signer *ecdsa.PrivateKey) (uint64, error) {
	if f.registerErr != nil {
		return 0, f.registerErr
	}
	f.nextID++
	f.byAddress[crypto.PubkeyToAddress(signer.PublicKey)] = f.nextID
	return f.nextID, nil
}

func testKeyHex(t *testing.T) (string, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return hexFromKey(key), crypto.PubkeyToAddress(key.PublicKey)
}

func hexFromKey(key *ecdsa.PrivateKey) string {
	return common.Bytes2Hex(crypto.FromECDSA(key))
}

func TestResolve_ExplicitKey_Registered(t *testing.T) {
	hexKey, addr := testKeyHex(t)
	reg := &fakeRegistry{byAddress: map[common.Address]uint64{addr: 7}}
	r := NewResolver(reg)

	h, err := r.Resolve(context.Background(), Config{Name: "seller-1", PrivateKeyHex: hexKey})
	require.NoError(t, err)
	require.Equal(t, addr, h.Address)
	require.True(t, h.Registered)
	require.EqualValues(t, 7, h.RegistryID)
	require.False(t, h.Degraded)
}

func TestResolve_ExplicitKey_Unregistered(t *testing.T) {
	hexKey, _ := testKeyHex(t)
	reg := &fakeRegistry{byAddress: map[common.Address]uint64{}}
	r := NewResolver(reg)

	h, err := r.Resolve(context.Background(), Config{Name: "seller-1", PrivateKeyHex: hexKey})
	require.NoError(t, err)
	require.False(t, h.Registered)
	require.False(t, h.Degraded)
}

func TestResolve_NoSecretIsFatal(t *testing.T) {
	reg := &fakeRegistry{byAddress: map[common.Address]uint64{}}
	r := NewResolver(reg)

	_, err := r.Resolve(context.Background(), Config{Name: "seller-1"})
	require.Error(t, err)
}

func TestResolve_NilRegistryDegradesGracefully(t *testing.T) {
	hexKey, _ := testKeyHex(t)
	r := NewResolver(nil)

	h, err := r.Resolve(context.Background(), Config{Name: "seller-1", PrivateKeyHex: hexKey})
	require.NoError(t, err)
	require.True(t, h.Degraded)
}

func TestRegister_AssignsRegistryID(t *testing.T) {
	hexKey, addr := testKeyHex(t)
	reg := &fakeRegistry{byAddress: map[common.Address]uint64{}}
	r := NewResolver(reg)

	h, err := r.Resolve(context.Background(), Config{Name: "seller-1", PrivateKeyHex: hexKey})
	require.NoError(t, err)
	require.False(t, h.Registered)

	id, err := r.Register(context.Background(), h, "seller-1.karmacadabra.agent", nil)
	require.NoError(t, err)
	require.Equal(t, uint64(1), id)
	require.True(t, h.Registered)
	require.Equal(t, uint64(1), reg.byAddress[addr])
}

func TestHandle_SignRequiresKey(t *testing.T) {
	h := &Handle{}
	_, err := h.Sign([32]byte{})
	require.Error(t, err)
}

func TestDeriveFromMnemonic_Deterministic(t *testing.T) {
	mnemonic := "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	k1, err := DeriveFromMnemonic(mnemonic, 0)
	require.NoError(t, err)
	k2, err := DeriveFromMnemonic(mnemonic, 0)
	require.NoError(t, err)
	require.Equal(t, crypto.FromECDSA(k1), crypto.FromECDSA(k2))

	k3, err := DeriveFromMnemonic(mnemonic, 1)
	require.NoError(t, err)
	require.NotEqual(t, crypto.FromECDSA(k1), crypto.FromECDSA(k3))
}

func TestDeriveFromMnemonic_RejectsInvalid(t *testing.T) {
	_, err := DeriveFromMnemonic("not a real mnemonic phrase at all nope", 0)
	require.Error(t, err)
}
