package clients

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/onramp/types"
)

const (
	tokenAddress = "0x1111111111111111111111111111111111111111"
	buyerAddress = "0xAAAAaaaaAAAAaaaaAAAAaaaaAAAAaaaa11111111"
)

type fakeBackend struct {
	mu        sync.Mutex
	nonce     uint64
	sent      []*gethtypes.Transaction
	status    uint64
	notFound  int
	sendErr   error
	receipts  int
	neverMine bool
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) { return big.NewInt(8453), nil }

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 50_000, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *gethtypes.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	f.nonce++
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts++
	if f.neverMine || f.receipts <= f.notFound {
		return nil, ethereum.NotFound
	}
	return &gethtypes.Receipt{Status: f.status, TxHash: hash, BlockNumber: big.NewInt(42)}, nil
}

func (f *fakeBackend) Close() {}

func newTestClient(t *testing.T, backend *fakeBackend, opts ...EVMOption) (*EVMClient, Account, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	opts = append([]EVMOption{WithPollInterval(5 * time.Millisecond), WithTokenDecimals(18)}, opts...)
	c := NewEVMClientWithBackends(map[types.Network]EthBackend{types.NetworkBase: backend}, opts...)

	acct, err := c.DeriveSigningAccount(types.Secret(fmt.Sprintf("0x%x", crypto.FromECDSA(key))))
	require.NoError(t, err)
	return c, acct, crypto.PubkeyToAddress(key.PublicKey)
}

func TestTransferSubmitsSignedERC20Call(t *testing.T) {
	backend := &fakeBackend{status: gethtypes.ReceiptStatusSuccessful, notFound: 2}
	c, acct, sender := newTestClient(t, backend)
	assert.Equal(t, sender.Hex(), acct.Address())

	contract, err := c.Contract(types.NetworkBase, tokenAddress)
	require.NoError(t, err)

	hash, err := c.Transfer(context.Background(), contract, buyerAddress, decimal.NewFromInt(97000), acct)
	require.NoError(t, err)
	require.Len(t, backend.sent, 1)

	tx := backend.sent[0]
	assert.Equal(t, tx.Hash().Hex(), hash)
	assert.Equal(t, common.HexToAddress(tokenAddress), *tx.To())
	assert.Equal(t, uint64(60_000), tx.Gas())
	assert.Equal(t, 0, tx.Value().Sign())

	from, err := gethtypes.Sender(gethtypes.LatestSignerForChainID(big.NewInt(8453)), tx)
	require.NoError(t, err)
	assert.Equal(t, sender, from)

	method, err := erc20ABI.MethodById(tx.Data()[:4])
	require.NoError(t, err)
	assert.Equal(t, "transfer", method.Name)

	args, err := method.Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(buyerAddress), args[0].(common.Address))
	want, _ := new(big.Int).SetString("97000000000000000000000", 10)
	assert.Equal(t, 0, want.Cmp(args[1].(*big.Int)))
}

func TestTransferReverted(t *testing.T) {
	backend := &fakeBackend{status: gethtypes.ReceiptStatusFailed}
	c, acct, _ := newTestClient(t, backend)
	contract, _ := c.Contract(types.NetworkBase, tokenAddress)

	hash, err := c.Transfer(context.Background(), contract, buyerAddress, decimal.NewFromInt(1), acct)
	assert.ErrorIs(t, err, ErrTransferReverted)
	assert.NotEmpty(t, hash)
}

func TestTransferConfirmationTimeout(t *testing.T) {
	backend := &fakeBackend{neverMine: true}
	c, acct, _ := newTestClient(t, backend, WithConfirmationTimeout(30*time.Millisecond))
	contract, _ := c.Contract(types.NetworkBase, tokenAddress)

	hash, err := c.Transfer(context.Background(), contract, buyerAddress, decimal.NewFromInt(1), acct)
	assert.ErrorIs(t, err, ErrConfirmationTimeout)
	assert.NotEmpty(t, hash)
}

func TestTransferSendFailure(t *testing.T) {
	backend := &fakeBackend{sendErr: errors.New("nonce too low")}
	c, acct, _ := newTestClient(t, backend)
	contract, _ := c.Contract(types.NetworkBase, tokenAddress)

	hash, err := c.Transfer(context.Background(), contract, buyerAddress, decimal.NewFromInt(1), acct)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nonce too low")
	assert.Empty(t, hash)
}

func TestTransferRejectsBadInput(t *testing.T) {
	backend := &fakeBackend{status: gethtypes.ReceiptStatusSuccessful}
	c, acct, _ := newTestClient(t, backend)
	contract, _ := c.Contract(types.NetworkBase, tokenAddress)
	ctx := context.Background()

	_, err := c.Transfer(ctx, contract, "not-an-address", decimal.NewFromInt(1), acct)
	assert.ErrorIs(t, err, ErrInvalidRecipient)

	_, err = c.Transfer(ctx, contract, buyerAddress, decimal.Zero, acct)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = c.Transfer(ctx, contract, buyerAddress, decimal.NewFromInt(1), nil)
	assert.ErrorIs(t, err, ErrInvalidAccount)

	_, err = c.Contract(types.NetworkPolygon, tokenAddress)
	assert.ErrorIs(t, err, ErrUnsupportedNetwork)

	_, err = c.Contract(types.NetworkBase, "0x123")
	assert.ErrorIs(t, err, ErrInvalidContract)

	assert.Empty(t, backend.sent)
}

func TestDeriveSigningAccountErrors(t *testing.T) {
	c := NewEVMClientWithBackends(nil)

	_, err := c.DeriveSigningAccount("")
	assert.ErrorIs(t, err, ErrInvalidAccount)

	_, err = c.DeriveSigningAccount("0xdeadbeef")
	assert.ErrorIs(t, err, ErrInvalidAccount)
	assert.NotContains(t, err.Error(), "deadbeef")
}

func TestConcurrentTransfersUseDistinctNonces(t *testing.T) {
	backend := &fakeBackend{status: gethtypes.ReceiptStatusSuccessful}
	c, acct, _ := newTestClient(t, backend)
	contract, _ := c.Contract(types.NetworkBase, tokenAddress)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Transfer(context.Background(), contract, buyerAddress, decimal.NewFromInt(1), acct)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	seen := map[uint64]bool{}
	for _, tx := range backend.sent {
		assert.False(t, seen[tx.Nonce()], "nonce %d reused", tx.Nonce())
		seen[tx.Nonce()] = true
	}
	assert.Len(t, seen, 5)
}
