package contracts

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tokenbridge/federator/federator/chains/common"
	fedErrors "github.com/tokenbridge/federator/federator/errors"
)

type callKey struct {
	to       ethcommon.Address
	selector [4]byte
}

type callResult struct {
	out []byte
	err error
}

// fakeChain answers eth_call by contract address and method selector.
type fakeChain struct {
	name    string
	chainID uint64

	mu      sync.Mutex
	results map[callKey]callResult
	calls   []ethereum.CallMsg
	logs    []types.Log
	queries []ethereum.FilterQuery
}

func newFakeChain(name string, chainID uint64) *fakeChain {
	return &fakeChain{name: name, chainID: chainID, results: make(map[callKey]callResult)}
}

func (f *fakeChain) Name() string    { return f.name }
func (f *fakeChain) ChainID() uint64 { return f.chainID }

func (f *fakeChain) respond(t *testing.T, to ethcommon.Address, contractABI abi.ABI, method string, outputs ...any) {
	t.Helper()
	m, ok := contractABI.Methods[method]
	require.True(t, ok, "unknown method %s", method)
	out, err := m.Outputs.Pack(outputs...)
	require.NoError(t, err)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[callKey{to, [4]byte(m.ID)}] = callResult{out: out}
}

func (f *fakeChain) fail(to ethcommon.Address, contractABI abi.ABI, method string, err error) {
	m := contractABI.Methods[method]
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[callKey{to, [4]byte(m.ID)}] = callResult{err: err}
}

func (f *fakeChain) CallContract(_ context.Context, msg ethereum.CallMsg) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, msg)
	if msg.To == nil || len(msg.Data) < 4 {
		return nil, fedErrors.NewInternalError(f.name, "execution reverted", nil)
	}
	res, ok := f.results[callKey{*msg.To, [4]byte(msg.Data[:4])}]
	if !ok {
		return nil, fedErrors.NewInternalError(f.name, "execution reverted", nil)
	}
	return res.out, res.err
}

func (f *fakeChain) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return f.logs, nil
}

func (f *fakeChain) callsTo(contractABI abi.ABI, method string) int {
	id := contractABI.Methods[method].ID
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if len(c.Data) >= 4 && [4]byte(c.Data[:4]) == [4]byte(id) {
			n++
		}
	}
	return n
}

type mockSender struct {
	mock.Mock
	from ethcommon.Address
}

func (m *mockSender) Address() ethcommon.Address {
	return m.from
}

func (m *mockSender) SendTransaction(ctx context.Context, to ethcommon.Address, data []byte, value *big.Int) (*types.Receipt, error) {
	args := m.Called(ctx, to, data, value)
	if r := args.Get(0); r != nil {
		return r.(*types.Receipt), args.Error(1)
	}
	return nil, args.Error(1)
}

func testRetry() *common.RetryManager {
	return common.NewRetryManager(&common.RetryConfig{
		MaxRetries:    1,
		InitialDelay:  time.Millisecond,
		MaxDelay:      time.Millisecond,
		BackoffFactor: 1,
	}, zerolog.Nop())
}

func sampleEvent() *common.CrossTransferEvent {
	return &common.CrossTransferEvent{
		OriginalTokenAddress: ethcommon.HexToAddress("0x1000000000000000000000000000000000000001"),
		Receiver:             ethcommon.HexToAddress("0x2000000000000000000000000000000000000002"),
		Amount:               big.NewInt(500),
		Symbol:               "DOC",
		Decimals:             18,
		Granularity:          big.NewInt(1),
		BlockHash:            ethcommon.HexToHash("0xaa"),
		TransactionHash:      ethcommon.HexToHash("0xbb"),
		LogIndex:             3,
		BlockNumber:          100,
	}
}
