package evm

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
)

// mockBackend is a mock implementation of Backend for testing
type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) ChainID(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	if id := args.Get(0); id != nil {
		return id.(*big.Int), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockBackend) BlockNumber(ctx context.Context) (uint64, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *mockBackend) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	args := m.Called(ctx, q)
	if logs := args.Get(0); logs != nil {
		return logs.([]types.Log), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	args := m.Called(ctx, msg, blockNumber)
	if out := args.Get(0); out != nil {
		return out.([]byte), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockBackend) TransactionReceipt(ctx context.Context, txHash ethcommon.Hash) (*types.Receipt, error) {
	args := m.Called(ctx, txHash)
	if fn, ok := args.Get(0).(func(context.Context, ethcommon.Hash) *types.Receipt); ok {
		return fn(ctx, txHash), args.Error(1)
	}
	if receipt := args.Get(0); receipt != nil {
		return receipt.(*types.Receipt), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockBackend) PendingNonceAt(ctx context.Context, account ethcommon.Address) (uint64, error) {
	args := m.Called(ctx, account)
	if fn, ok := args.Get(0).(func(context.Context, ethcommon.Address) uint64); ok {
		return fn(ctx, account), args.Error(1)
	}
	return args.Get(0).(uint64), args.Error(1)
}

func (m *mockBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	if price := args.Get(0); price != nil {
		return price.(*big.Int), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *mockBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *mockBackend) SyncProgress(ctx context.Context) (*ethereum.SyncProgress, error) {
	args := m.Called(ctx)
	if progress := args.Get(0); progress != nil {
		return progress.(*ethereum.SyncProgress), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockBackend) ClientVersion(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *mockBackend) Close() {
	m.Called()
}

func newTestRPCClient(backends ...*mockBackend) *RPCClient {
	urls := make([]string, 0, len(backends))
	byURL := make(map[string]Backend, len(backends))
	for i, b := range backends {
		url := "http://node-" + string(rune('a'+i))
		urls = append(urls, url)
		byURL[url] = b
	}
	return newRPCClient("rsk", 31, urls, byURL, zerolog.Nop())
}
