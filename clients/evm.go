package clients

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/vitwit/onramp/logger"
	"github.com/vitwit/onramp/metrics"
	"github.com/vitwit/onramp/types"
	"github.com/vitwit/onramp/utils"
)

const erc20TransferABI = `[{
	"inputs":[
	  {"name":"to","type":"address"},
	  {"name":"value","type":"uint256"}
	],
	"name":"transfer",
	"outputs":[{"name":"","type":"bool"}],
	"stateMutability":"nonpayable",
	"type":"function"
}]`

var erc20ABI = mustParseABI(erc20TransferABI)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// EthBackend is the subset of *ethclient.Client used to submit transfers.
type EthBackend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
	Close()
}

var _ LedgerClient = (*EVMClient)(nil)

// EVMClient transfers ERC-20 tokens from a custodial treasury account.
type EVMClient struct {
	backends map[types.Network]EthBackend
	decimals int32

	confirmationTimeout time.Duration
	pollInterval        time.Duration
	gasBufferPercent    uint64

	// serializes nonce allocation per process
	sendMu sync.Mutex

	log     logger.Logger
	metrics metrics.Recorder
}

type EVMOption func(*EVMClient)

func WithTokenDecimals(d int32) EVMOption {
	return func(c *EVMClient) { c.decimals = d }
}

func WithConfirmationTimeout(d time.Duration) EVMOption {
	return func(c *EVMClient) {
		if d > 0 {
			c.confirmationTimeout = d
		}
	}
}

func WithPollInterval(d time.Duration) EVMOption {
	return func(c *EVMClient) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

func WithLogger(l logger.Logger) EVMOption {
	return func(c *EVMClient) { c.log = l }
}

func WithMetrics(m metrics.Recorder) EVMOption {
	return func(c *EVMClient) { c.metrics = m }
}

// NewEVMClient dials one RPC endpoint per network.
func NewEVMClient(rpcURLs map[types.Network]string, opts ...EVMOption) (*EVMClient, error) {
	backends := make(map[types.Network]EthBackend, len(rpcURLs))
	for network, url := range rpcURLs {
		if !network.IsEVM() {
			closeAll(backends)
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedNetwork, network)
		}
		eth, err := ethclient.Dial(url)
		if err != nil {
			closeAll(backends)
			return nil, fmt.Errorf("ethereum rpc dial %s: %w", network, err)
		}
		backends[network] = eth
	}
	return NewEVMClientWithBackends(backends, opts...), nil
}

// NewEVMClientWithBackends builds a client over already connected backends.
func NewEVMClientWithBackends(backends map[types.Network]EthBackend, opts ...EVMOption) *EVMClient {
	c := &EVMClient{
		backends:            backends,
		decimals:            18,
		confirmationTimeout: 2 * time.Minute,
		pollInterval:        2 * time.Second,
		gasBufferPercent:    20,
		log:                 logger.NoopLogger{},
		metrics:             metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type evmAccount struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

func (a *evmAccount) Address() string { return a.addr.Hex() }

// String never renders the key.
func (a *evmAccount) String() string { return a.addr.Hex() }

func (c *EVMClient) DeriveSigningAccount(secret types.Secret) (Account, error) {
	if secret.IsZero() {
		return nil, fmt.Errorf("%w: empty secret", ErrInvalidAccount)
	}
	key, err := utils.PrivateKeyFromHex(secret.Reveal())
	if err != nil {
		// the underlying error may echo key bytes
		return nil, ErrInvalidAccount
	}
	return &evmAccount{key: key, addr: utils.AddressFromPrivateKey(key)}, nil
}

func (c *EVMClient) Contract(network types.Network, address string) (Contract, error) {
	if _, ok := c.backends[network]; !ok {
		return Contract{}, fmt.Errorf("%w: %s", ErrUnsupportedNetwork, network)
	}
	if !utils.IsEVMAddress(address) {
		return Contract{}, fmt.Errorf("%w: %q", ErrInvalidContract, address)
	}
	return Contract{Network: network, Address: common.HexToAddress(address).Hex(), Decimals: c.decimals}, nil
}

func (c *EVMClient) Transfer(ctx context.Context, contract Contract, to string, amount decimal.Decimal, from Account) (string, error) {
	acct, ok := from.(*evmAccount)
	if !ok || acct == nil {
		return "", ErrInvalidAccount
	}
	backend, ok := c.backends[contract.Network]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedNetwork, contract.Network)
	}
	if !utils.IsEVMAddress(to) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRecipient, to)
	}
	if !utils.IsEVMAddress(contract.Address) {
		return "", fmt.Errorf("%w: %q", ErrInvalidContract, contract.Address)
	}

	value, err := utils.ToBaseUnits(utils.TruncateToDecimals(amount, contract.Decimals), contract.Decimals)
	if err != nil {
		return "", fmt.Errorf("convert amount: %w", err)
	}
	if value.Sign() <= 0 {
		return "", ErrInvalidAmount
	}

	callData, err := erc20ABI.Pack("transfer", common.HexToAddress(to), value)
	if err != nil {
		return "", fmt.Errorf("pack call data failed: %w", err)
	}

	start := time.Now()
	labels := metrics.Network(contract.Network.String())
	defer func() { c.metrics.ObserveLatency(metrics.OpTransfer, time.Since(start), labels) }()

	signed, err := c.send(ctx, backend, contract, acct, callData)
	if err != nil {
		return "", err
	}
	hash := signed.Hash().Hex()

	c.log.Info("transfer submitted", map[string]any{
		"network": contract.Network.String(),
		"txHash":  hash,
		"to":      to,
		"amount":  amount.String(),
	})

	// the transaction is broadcast; the caller's cancellation must not abandon the receipt wait
	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.confirmationTimeout)
	defer cancel()

	if err := c.waitForReceipt(waitCtx, backend, signed.Hash()); err != nil {
		return hash, err
	}
	return hash, nil
}

func (c *EVMClient) send(ctx context.Context, backend EthBackend, contract Contract, acct *evmAccount, callData []byte) (*gethtypes.Transaction, error) {
	chainID := contract.Network.ChainID()
	if chainID == nil {
		id, err := backend.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("chain id failed: %w", err)
		}
		chainID = id
	}
	tokenAddr := common.HexToAddress(contract.Address)

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	gasLimit, err := backend.EstimateGas(ctx, ethereum.CallMsg{From: acct.addr, To: &tokenAddr, Data: callData})
	if err != nil {
		return nil, fmt.Errorf("estimate gas failed: %w", err)
	}
	gasLimit += gasLimit * c.gasBufferPercent / 100

	gasPrice, err := backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price failed: %w", err)
	}

	nonce, err := backend.PendingNonceAt(ctx, acct.addr)
	if err != nil {
		return nil, fmt.Errorf("pending nonce failed: %w", err)
	}

	tx := gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &tokenAddr,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     callData,
	})

	signed, err := gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(chainID), acct.key)
	if err != nil {
		return nil, fmt.Errorf("sign tx failed: %w", err)
	}

	if err := backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send tx failed: %w", err)
	}
	return signed, nil
}

func (c *EVMClient) waitForReceipt(ctx context.Context, backend EthBackend, hash common.Hash) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			if receipt.Status != gethtypes.ReceiptStatusSuccessful {
				return fmt.Errorf("%w: %s in block %v", ErrTransferReverted, hash.Hex(), receipt.BlockNumber)
			}
			return nil
		case errors.Is(err, ethereum.NotFound):
		default:
			c.log.Warn("receipt lookup failed", map[string]any{"txHash": hash.Hex(), "error": err})
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s", ErrConfirmationTimeout, hash.Hex())
		case <-ticker.C:
		}
	}
}

// Networks returns the networks this client has a backend for.
func (c *EVMClient) Networks() []types.Network {
	out := make([]types.Network, 0, len(c.backends))
	for n := range c.backends {
		out = append(out, n)
	}
	return out
}

func (c *EVMClient) Close() {
	closeAll(c.backends)
}

func closeAll(backends map[types.Network]EthBackend) {
	for _, b := range backends {
		b.Close()
	}
}
