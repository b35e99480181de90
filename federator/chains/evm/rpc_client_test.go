package evm

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	fedErrors "github.com/tokenbridge/federator/federator/errors"
)

func TestNewRPCClient_NoURLs(t *testing.T) {
	_, err := NewRPCClient(context.Background(), "rsk", nil, 31, zerolog.Nop())
	require.Error(t, err)
	assert.True(t, fedErrors.IsChainError(err, fedErrors.ErrCodeConfig))
}

func TestRPCClient_Failover(t *testing.T) {
	t.Run("falls over to the next endpoint", func(t *testing.T) {
		bad := &mockBackend{}
		good := &mockBackend{}
		bad.On("BlockNumber", mock.Anything).Return(uint64(0), errors.New("connection refused"))
		good.On("BlockNumber", mock.Anything).Return(uint64(1234), nil)

		rc := newTestRPCClient(bad, good)

		height, err := rc.LatestBlock(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint64(1234), height)
	})

	t.Run("all endpoints failing is a retryable RPC error", func(t *testing.T) {
		a := &mockBackend{}
		b := &mockBackend{}
		a.On("BlockNumber", mock.Anything).Return(uint64(0), errors.New("connection refused"))
		b.On("BlockNumber", mock.Anything).Return(uint64(0), errors.New("i/o timeout"))

		rc := newTestRPCClient(a, b)

		_, err := rc.LatestBlock(context.Background())
		require.Error(t, err)
		assert.True(t, fedErrors.IsChainError(err, fedErrors.ErrCodeRPC))
		assert.True(t, fedErrors.IsRetryable(err))
		assert.Contains(t, err.Error(), "failed after trying 2 endpoints")
	})

	t.Run("revert is returned without failover", func(t *testing.T) {
		a := &mockBackend{}
		b := &mockBackend{}
		a.On("CallContract", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("execution reverted"))
		b.On("CallContract", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("execution reverted"))

		rc := newTestRPCClient(a, b)

		_, err := rc.CallContract(context.Background(), ethereum.CallMsg{})
		require.Error(t, err)
		assert.False(t, fedErrors.IsRetryable(err))
		assert.Equal(t, 1, len(a.Calls)+len(b.Calls))
	})

	t.Run("cancelled context stops immediately", func(t *testing.T) {
		a := &mockBackend{}
		rc := newTestRPCClient(a)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := rc.LatestBlock(ctx)
		assert.ErrorIs(t, err, context.Canceled)
		a.AssertNotCalled(t, "BlockNumber", mock.Anything)
	})
}

func TestRPCClient_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	flaky := &mockBackend{}
	flaky.On("BlockNumber", mock.Anything).Return(uint64(0), errors.New("connection refused"))

	rc := newTestRPCClient(flaky)

	for i := 0; i < 5; i++ {
		_, err := rc.LatestBlock(context.Background())
		require.Error(t, err)
	}
	_, err := rc.LatestBlock(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker is open")
	flaky.AssertNumberOfCalls(t, "BlockNumber", 5)
}

func TestRPCClient_TransactionReceiptNotFound(t *testing.T) {
	b := &mockBackend{}
	hash := ethcommon.HexToHash("0x01")
	b.On("TransactionReceipt", mock.Anything, hash).Return(nil, ethereum.NotFound)

	rc := newTestRPCClient(b)

	_, err := rc.TransactionReceipt(context.Background(), hash)
	assert.ErrorIs(t, err, ethereum.NotFound)
}

func TestRPCClient_IsSyncing(t *testing.T) {
	syncing := &mockBackend{}
	syncing.On("SyncProgress", mock.Anything).Return(&ethereum.SyncProgress{CurrentBlock: 10, HighestBlock: 100}, nil)
	synced := &mockBackend{}
	synced.On("SyncProgress", mock.Anything).Return(nil, nil)

	isSyncing, err := newTestRPCClient(syncing).IsSyncing(context.Background())
	require.NoError(t, err)
	assert.True(t, isSyncing)

	isSyncing, err = newTestRPCClient(synced).IsSyncing(context.Background())
	require.NoError(t, err)
	assert.False(t, isSyncing)
}

func TestRPCClient_NodeInfo(t *testing.T) {
	b := &mockBackend{}
	b.On("BlockNumber", mock.Anything).Return(uint64(500), nil)
	b.On("ClientVersion", mock.Anything).Return("RskJ/4.1.0", nil)

	info, err := newTestRPCClient(b).NodeInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(31), info.ChainID)
	assert.Equal(t, uint64(500), info.BlockNumber)
	assert.Equal(t, "RskJ/4.1.0", info.ClientVersion)
	assert.Equal(t, "chainId:31 blockNumber:500 nodeInfo:RskJ/4.1.0", info.String())
}

func TestRPCClient_SendTransactionAlreadyKnown(t *testing.T) {
	b := &mockBackend{}
	b.On("SendTransaction", mock.Anything, mock.Anything).Return(errors.New("already known"))

	err := newTestRPCClient(b).SendTransaction(context.Background(), nil)
	assert.NoError(t, err)
}

func TestRPCClient_Close(t *testing.T) {
	a := &mockBackend{}
	a.On("Close").Return()
	rc := newTestRPCClient(a)

	rc.Close()
	a.AssertCalled(t, "Close")

	_, err := rc.LatestBlock(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no RPC clients available")
}
