package core

import (
	"context"
	"math/big"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenbridge/federator/federator/chains/common"
	"github.com/tokenbridge/federator/federator/contracts"
)

func heartbeatLog(t *testing.T, sender ethcommon.Address, block, mainBlock, sideBlock uint64) types.Log {
	t.Helper()
	event := contracts.FederationV2ABI.Events[contracts.EventHeartBeat]
	data, err := event.Inputs.NonIndexed().Pack(
		new(big.Int).SetUint64(mainBlock),
		new(big.Int).SetUint64(sideBlock),
		"3.0.0", "main-node", "side-node",
	)
	require.NoError(t, err)
	return types.Log{
		Topics:      []ethcommon.Hash{event.ID, ethcommon.BytesToHash(sender.Bytes())},
		Data:        data,
		BlockNumber: block,
		TxHash:      ethcommon.BigToHash(new(big.Int).SetUint64(block)),
	}
}

func TestHeartbeatEmit(t *testing.T) {
	t.Run("both chains support heartbeats", func(t *testing.T) {
		mainFed := newFakeFederation(contracts.VersionV2)
		sideFed := newFakeFederation(contracts.VersionV2)
		h := NewHeartbeatEmitter(
			HeartbeatSide{Client: newFakeClient("rsk", 31, 1200), Federation: mainFed},
			HeartbeatSide{Client: newFakeClient("eth", 42, 3400), Federation: sideFed},
			"3.0.0", newTestStore(t), testRetry(), nil, zerolog.Nop(),
		)

		result, err := h.Emit(context.Background())
		require.NoError(t, err)
		assert.True(t, result.MainEmitted)
		assert.True(t, result.SideEmitted)

		require.Len(t, mainFed.heartbeats, 1)
		sent := mainFed.heartbeats[0]
		assert.Equal(t, uint64(1200), sent.MainChainBlock)
		assert.Equal(t, uint64(3400), sent.SideChainBlock)
		assert.Equal(t, "3.0.0", sent.FederatorVersion)
		assert.Equal(t, "chainId:31 blockNumber:1200 nodeInfo:Geth/v1.15.11", sent.MainNodeInfo)
		assert.Equal(t, sent, sideFed.heartbeats[0])
	})

	t.Run("v1 federation is skipped without error", func(t *testing.T) {
		mainFed := newFakeFederation(contracts.VersionV1)
		sideFed := newFakeFederation(contracts.VersionV2)
		h := NewHeartbeatEmitter(
			HeartbeatSide{Client: newFakeClient("rsk", 31, 10), Federation: mainFed},
			HeartbeatSide{Client: newFakeClient("eth", 42, 20), Federation: sideFed},
			"3.0.0", newTestStore(t), testRetry(), nil, zerolog.Nop(),
		)

		result, err := h.Emit(context.Background())
		require.NoError(t, err)
		assert.False(t, result.MainEmitted)
		assert.True(t, result.SideEmitted)
		assert.Empty(t, mainFed.heartbeats)
	})
}

func TestHeartbeatReadLogs(t *testing.T) {
	cs := newTestStore(t)
	peer := ethcommon.HexToAddress("0x7000000000000000000000000000000000000007")
	sideFed := newFakeFederation(contracts.VersionV2)
	sideFed.logs = []types.Log{
		heartbeatLog(t, peer, 150, 1000, 140),
		heartbeatLog(t, peer, 1500, 1100, 1490),
		heartbeatLog(t, selfAddr, 1600, 1110, 1590),
	}
	sideClient := newFakeClient("eth", 42, 1700)
	h := NewHeartbeatEmitter(
		HeartbeatSide{Client: newFakeClient("rsk", 31, 10), Federation: newFakeFederation(contracts.VersionV1)},
		HeartbeatSide{Client: sideClient, Federation: sideFed, FromBlock: 100},
		"3.0.0", cs, testRetry(), nil, zerolog.Nop(),
	)

	seen, err := h.ReadLogs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, seen)

	records, err := cs.ListHeartbeats(42)
	require.NoError(t, err)
	require.Len(t, records, 2)
	byBlock := map[string]uint64{}
	for _, r := range records {
		byBlock[r.Sender] = r.BlockNumber
	}
	assert.Equal(t, uint64(1500), byBlock[peer.Hex()])
	assert.Equal(t, uint64(1600), byBlock[selfAddr.Hex()])

	cursor, found, err := cs.GetCursor(common.DirectionHeartbeat, 42)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(1700), cursor)

	_, found, err = cs.GetCursor(common.DirectionHeartbeat, 31)
	require.NoError(t, err)
	assert.False(t, found, "v1 federation has no heartbeat cursor")

	seen, err = h.ReadLogs(context.Background())
	require.NoError(t, err)
	assert.Zero(t, seen)
}

func TestHeartbeatReadLogsConfirmationDepth(t *testing.T) {
	cs := newTestStore(t)
	peer := ethcommon.HexToAddress("0x7000000000000000000000000000000000000007")
	sideFed := newFakeFederation(contracts.VersionV2)
	sideFed.logs = []types.Log{
		heartbeatLog(t, peer, 1650, 1000, 1640),
		heartbeatLog(t, selfAddr, 1695, 1100, 1690),
	}
	sideClient := newFakeClient("eth", 42, 1700)
	bridge := tieredBridge()
	bridge.tiers = common.Confirmations{Small: 20, Medium: 40, Large: 60}
	h := NewHeartbeatEmitter(
		HeartbeatSide{Client: newFakeClient("rsk", 31, 10), Federation: newFakeFederation(contracts.VersionV1)},
		HeartbeatSide{Client: sideClient, Federation: sideFed, FromBlock: 1600, Bridge: bridge},
		"3.0.0", cs, testRetry(), nil, zerolog.Nop(),
	)

	seen, err := h.ReadLogs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, seen, "the log at 1695 is not 20 blocks deep yet")
	cursor, found, err := cs.GetCursor(common.DirectionHeartbeat, 42)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(1680), cursor)

	sideClient.setHeight(1715)
	seen, err = h.ReadLogs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, seen)
	cursor, _, err = cs.GetCursor(common.DirectionHeartbeat, 42)
	require.NoError(t, err)
	assert.Equal(t, uint64(1695), cursor)

	t.Run("configured tiers replace the bridge", func(t *testing.T) {
		cs := newTestStore(t)
		h := NewHeartbeatEmitter(
			HeartbeatSide{Client: newFakeClient("rsk", 31, 10), Federation: newFakeFederation(contracts.VersionV1)},
			HeartbeatSide{
				Client:        newFakeClient("eth", 42, 1700),
				Federation:    sideFed,
				FromBlock:     1600,
				Bridge:        bridge,
				Confirmations: &common.Confirmations{Small: 2, Medium: 2, Large: 2},
			},
			"3.0.0", cs, testRetry(), nil, zerolog.Nop(),
		)
		seen, err := h.ReadLogs(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, seen)
		cursor, _, err := cs.GetCursor(common.DirectionHeartbeat, 42)
		require.NoError(t, err)
		assert.Equal(t, uint64(1698), cursor)
	})
}
