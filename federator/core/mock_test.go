package core

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/tokenbridge/federator/federator/chains/common"
	"github.com/tokenbridge/federator/federator/contracts"
	"github.com/tokenbridge/federator/federator/db"
)

var (
	selfAddr  = ethcommon.HexToAddress("0x5000000000000000000000000000000000000005")
	tokenAddr = ethcommon.HexToAddress("0x1000000000000000000000000000000000000001")
)

type fakeClient struct {
	name    string
	chainID uint64

	mu      sync.Mutex
	height  uint64
	syncing bool
	err     error
	version string
}

func newFakeClient(name string, chainID, height uint64) *fakeClient {
	return &fakeClient{name: name, chainID: chainID, height: height, version: "Geth/v1.15.11"}
}

func (c *fakeClient) Name() string    { return c.name }
func (c *fakeClient) ChainID() uint64 { return c.chainID }

func (c *fakeClient) setHeight(h uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.height = h
}

func (c *fakeClient) LatestBlock(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height, c.err
}

func (c *fakeClient) IsSyncing(context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.syncing, c.err
}

func (c *fakeClient) NodeInfo(context.Context) (common.NodeInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return common.NodeInfo{ChainID: c.chainID, BlockNumber: c.height, ClientVersion: c.version}, c.err
}

type fakeBridge struct {
	mu       sync.Mutex
	events   []common.CrossTransferEvent
	tiers    common.Confirmations
	limits   common.TokenLimits
	ranges   [][2]uint64
	eventErr error
	onScan   func()
}

func (b *fakeBridge) Version() string            { return contracts.VersionV1 }
func (b *fakeBridge) Address() ethcommon.Address { return ethcommon.HexToAddress("0xb1") }
func (b *fakeBridge) ChainID() uint64            { return 31 }

func (b *fakeBridge) GetFederation(context.Context) (ethcommon.Address, error) {
	return ethcommon.HexToAddress("0xfed"), nil
}

func (b *fakeBridge) GetCrossEvents(_ context.Context, from, to uint64) ([]common.CrossTransferEvent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ranges = append(b.ranges, [2]uint64{from, to})
	if b.onScan != nil {
		b.onScan()
	}
	if b.eventErr != nil {
		return nil, b.eventErr
	}
	var out []common.CrossTransferEvent
	for _, ev := range b.events {
		if ev.BlockNumber >= from && ev.BlockNumber <= to {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (b *fakeBridge) GetConfirmations(context.Context) (common.Confirmations, error) {
	return b.tiers, nil
}

func (b *fakeBridge) GetLimits(context.Context, ethcommon.Address) (common.TokenLimits, error) {
	return b.limits, nil
}

// fakeFederation keeps votes in memory the way the contract would.
type fakeFederation struct {
	mu         sync.Mutex
	version    string
	member     bool
	processed  map[ethcommon.Hash]bool
	votes      map[ethcommon.Hash]map[ethcommon.Address]bool
	voteCalls  []ethcommon.Hash
	voteErr    map[ethcommon.Hash]error
	revert     map[ethcommon.Hash]bool
	heartbeats []contracts.HeartbeatInfo
	logs       []types.Log
}

func newFakeFederation(version string) *fakeFederation {
	return &fakeFederation{
		version:   version,
		member:    true,
		processed: make(map[ethcommon.Hash]bool),
		votes:     make(map[ethcommon.Hash]map[ethcommon.Address]bool),
		voteErr:   make(map[ethcommon.Hash]error),
		revert:    make(map[ethcommon.Hash]bool),
	}
}

func txIDOf(ev *common.CrossTransferEvent) ethcommon.Hash {
	return crypto.Keccak256Hash([]byte(ev.Key()))
}

func (f *fakeFederation) Version() string            { return f.version }
func (f *fakeFederation) Address() ethcommon.Address { return ethcommon.HexToAddress("0xfed") }
func (f *fakeFederation) SupportsHeartbeat() bool    { return f.version != contracts.VersionV1 }

func (f *fakeFederation) IsMember(context.Context, ethcommon.Address) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.member, nil
}

func (f *fakeFederation) GetTransactionID(_ context.Context, ev *common.CrossTransferEvent) (ethcommon.Hash, error) {
	return txIDOf(ev), nil
}

func (f *fakeFederation) TransactionWasProcessed(_ context.Context, txID ethcommon.Hash) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.processed[txID], nil
}

func (f *fakeFederation) HasVoted(_ context.Context, txID ethcommon.Hash, voter ethcommon.Address) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.votes[txID][voter], nil
}

func (f *fakeFederation) VoteTransaction(_ context.Context, ev *common.CrossTransferEvent) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	txID := txIDOf(ev)
	f.voteCalls = append(f.voteCalls, txID)
	if err := f.voteErr[txID]; err != nil {
		return nil, err
	}
	receipt := &types.Receipt{TxHash: crypto.Keccak256Hash(txID.Bytes()), Status: types.ReceiptStatusSuccessful}
	if f.revert[txID] {
		receipt.Status = types.ReceiptStatusFailed
		return receipt, nil
	}
	if f.votes[txID] == nil {
		f.votes[txID] = make(map[ethcommon.Address]bool)
	}
	f.votes[txID][selfAddr] = true
	return receipt, nil
}

func (f *fakeFederation) GetPastEvents(_ context.Context, eventName string, from, to uint64) ([]types.Log, error) {
	if eventName == contracts.EventHeartBeat && !f.SupportsHeartbeat() {
		return []types.Log{}, nil
	}
	var out []types.Log
	for _, l := range f.logs {
		if l.BlockNumber >= from && l.BlockNumber <= to {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeFederation) EmitHeartbeat(_ context.Context, info contracts.HeartbeatInfo) (bool, error) {
	if !f.SupportsHeartbeat() {
		return false, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats = append(f.heartbeats, info)
	return true, nil
}

func (f *fakeFederation) voteCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.voteCalls)
}

var (
	_ ChainClient          = (*fakeClient)(nil)
	_ contracts.Bridge     = (*fakeBridge)(nil)
	_ contracts.Federation = (*fakeFederation)(nil)
)

func newTestStore(t *testing.T) *common.ChainStore {
	t.Helper()
	database, err := db.OpenInMemoryDB(true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return common.NewChainStore(database)
}

func testRetry() *common.RetryManager {
	return common.NewRetryManager(&common.RetryConfig{
		MaxRetries:    0,
		InitialDelay:  time.Millisecond,
		MaxDelay:      time.Millisecond,
		BackoffFactor: 1,
	}, zerolog.Nop())
}

func crossEvent(block uint64, logIndex uint, amount int64) common.CrossTransferEvent {
	return common.CrossTransferEvent{
		OriginalTokenAddress: tokenAddr,
		Receiver:             ethcommon.HexToAddress("0x2000000000000000000000000000000000000002"),
		Amount:               big.NewInt(amount),
		Symbol:               "DOC",
		Decimals:             18,
		Granularity:          big.NewInt(1),
		BlockHash:            crypto.Keccak256Hash(new(big.Int).SetUint64(block).Bytes()),
		TransactionHash:      crypto.Keccak256Hash([]byte{byte(block), byte(logIndex)}),
		LogIndex:             logIndex,
		BlockNumber:          block,
	}
}

// tieredBridge uses tiers {1, 10, 100} with thresholds {100, 10000}.
func tieredBridge(events ...common.CrossTransferEvent) *fakeBridge {
	return &fakeBridge{
		events: events,
		tiers:  common.Confirmations{Small: 1, Medium: 10, Large: 100},
		limits: common.TokenLimits{
			Allowed:      true,
			MediumAmount: big.NewInt(100),
			LargeAmount:  big.NewInt(10_000),
		},
	}
}
