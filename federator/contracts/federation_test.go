package contracts

import (
	"bytes"
	"context"
	"math/big"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var voter = ethcommon.HexToAddress("0x5000000000000000000000000000000000000005")

func TestFederationV1HeartbeatIsNoop(t *testing.T) {
	chain := newFakeChain("rsk", 31)
	sender := &mockSender{from: voter}
	fed := NewFederationV1(federationAddr, chain, sender, testRetry())

	emitted, err := fed.EmitHeartbeat(context.Background(), HeartbeatInfo{MainChainBlock: 1, SideChainBlock: 2})
	require.NoError(t, err)
	assert.False(t, emitted)
	sender.AssertNotCalled(t, "SendTransaction", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	logs, err := fed.GetPastEvents(context.Background(), EventHeartBeat, 1, 100)
	require.NoError(t, err)
	assert.Empty(t, logs)
	assert.Empty(t, chain.queries)
}

func TestFederationV2EmitHeartbeat(t *testing.T) {
	chain := newFakeChain("rsk", 31)
	sender := &mockSender{from: voter}
	fed := NewFederationV2(federationAddr, chain, sender, testRetry())

	info := HeartbeatInfo{
		MainChainBlock:   120,
		SideChainBlock:   340,
		FederatorVersion: "3.0.0",
		MainNodeInfo:     "chainId:31 blockNumber:120 nodeInfo:RskJ",
		SideNodeInfo:     "chainId:42 blockNumber:340 nodeInfo:Geth",
	}
	expected, err := FederationV2ABI.Pack("emitHeartbeat",
		big.NewInt(120), big.NewInt(340), info.FederatorVersion, info.MainNodeInfo, info.SideNodeInfo)
	require.NoError(t, err)

	sender.On("SendTransaction", mock.Anything, federationAddr, expected, (*big.Int)(nil)).
		Return(&types.Receipt{Status: types.ReceiptStatusSuccessful}, nil).Once()

	emitted, err := fed.EmitHeartbeat(context.Background(), info)
	require.NoError(t, err)
	assert.True(t, emitted)
	sender.AssertExpectations(t)
}

const (
	getTransactionIDV1Sig = "getTransactionId(address,address,uint256,string,bytes32,bytes32,uint32,uint8,uint256)"
	getTransactionIDV2Sig = "getTransactionId(address,(address,uint256,string,bytes32,bytes32,uint32,uint8,uint256))"
	voteTransactionV1Sig  = "voteTransaction(address,address,uint256,string,bytes32,bytes32,uint32,uint8,uint256)"
	voteTransactionV2Sig  = "voteTransaction(address,(address,uint256,string,bytes32,bytes32,uint32,uint8,uint256))"
)

func selector(sig string) []byte {
	return crypto.Keccak256([]byte(sig))[:4]
}

// word returns the i-th 32 byte word of the calldata after the selector.
func word(data []byte, i int) []byte {
	return data[4+32*i : 4+32*(i+1)]
}

func wordOf(v uint64) []byte {
	return ethcommon.LeftPadBytes(new(big.Int).SetUint64(v).Bytes(), 32)
}

func TestGetTransactionIDEncoding(t *testing.T) {
	ev := sampleEvent()
	txID := ethcommon.HexToHash("0x1234")

	t.Run("v1 flat arguments", func(t *testing.T) {
		chain := newFakeChain("rsk", 31)
		chain.respond(t, federationAddr, FederationV1ABI, "getTransactionId", [32]byte(txID))
		fed := NewFederationV1(federationAddr, chain, nil, testRetry())

		got, err := fed.GetTransactionID(context.Background(), ev)
		require.NoError(t, err)
		assert.Equal(t, txID, got)

		require.Len(t, chain.calls, 1)
		data := chain.calls[0].Data
		assert.Equal(t, selector(getTransactionIDV1Sig), data[:4])
		assert.Equal(t, ethcommon.LeftPadBytes(ev.OriginalTokenAddress.Bytes(), 32), word(data, 0))
		assert.Equal(t, ethcommon.LeftPadBytes(ev.Receiver.Bytes(), 32), word(data, 1))
		assert.Equal(t, wordOf(500), word(data, 2))
		assert.Equal(t, wordOf(9*32), word(data, 3), "symbol offset after nine head words")
		assert.Equal(t, ev.BlockHash.Bytes(), word(data, 4))
		assert.Equal(t, ev.TransactionHash.Bytes(), word(data, 5))
		assert.Equal(t, wordOf(3), word(data, 6))
		assert.Equal(t, wordOf(18), word(data, 7))
		assert.Equal(t, wordOf(1), word(data, 8))
	})

	t.Run("v2 token address then transfer tuple", func(t *testing.T) {
		chain := newFakeChain("rsk", 31)
		chain.respond(t, federationAddr, FederationV2ABI, "getTransactionId", [32]byte(txID))
		fed := NewFederationV2(federationAddr, chain, nil, testRetry())

		got, err := fed.GetTransactionID(context.Background(), ev)
		require.NoError(t, err)
		assert.Equal(t, txID, got)

		require.Len(t, chain.calls, 1)
		data := chain.calls[0].Data
		assert.Equal(t, selector(getTransactionIDV2Sig), data[:4])
		assert.Equal(t, ethcommon.LeftPadBytes(ev.OriginalTokenAddress.Bytes(), 32), word(data, 0))
		assert.Equal(t, wordOf(2*32), word(data, 1), "tuple offset after two head words")

		// The tuple starts at word 2.
		assert.Equal(t, ethcommon.LeftPadBytes(ev.Receiver.Bytes(), 32), word(data, 2))
		assert.Equal(t, wordOf(500), word(data, 3))
		assert.Equal(t, wordOf(8*32), word(data, 4), "symbol offset inside the tuple")
		assert.Equal(t, ev.BlockHash.Bytes(), word(data, 5))
		assert.Equal(t, ev.TransactionHash.Bytes(), word(data, 6))
		assert.Equal(t, wordOf(3), word(data, 7))
		assert.Equal(t, wordOf(18), word(data, 8))
		assert.Equal(t, wordOf(1), word(data, 9))
		assert.Equal(t, wordOf(uint64(len(ev.Symbol))), word(data, 10))
	})
}

func TestVoteTransactionSelectors(t *testing.T) {
	receipt := &types.Receipt{Status: types.ReceiptStatusSuccessful}

	for _, tc := range []struct {
		name string
		fed  func(chain *fakeChain, sender *mockSender) Federation
		sig  string
	}{
		{
			name: "v1",
			fed: func(chain *fakeChain, sender *mockSender) Federation {
				return NewFederationV1(federationAddr, chain, sender, testRetry())
			},
			sig: voteTransactionV1Sig,
		},
		{
			name: "v2",
			fed: func(chain *fakeChain, sender *mockSender) Federation {
				return NewFederationV2(federationAddr, chain, sender, testRetry())
			},
			sig: voteTransactionV2Sig,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			sender := &mockSender{from: voter}
			sender.On("SendTransaction", mock.Anything, federationAddr, mock.MatchedBy(func(data []byte) bool {
				return len(data) > 4 && bytes.Equal(data[:4], selector(tc.sig))
			}), (*big.Int)(nil)).Return(receipt, nil).Once()

			got, err := tc.fed(newFakeChain("rsk", 31), sender).VoteTransaction(context.Background(), sampleEvent())
			require.NoError(t, err)
			assert.Equal(t, receipt, got)
			sender.AssertExpectations(t)
		})
	}
}

func TestHasVotedCallsFromVoter(t *testing.T) {
	chain := newFakeChain("rsk", 31)
	chain.respond(t, federationAddr, FederationV2ABI, "hasVoted", true)
	fed := NewFederationV2(federationAddr, chain, nil, testRetry())

	voted, err := fed.HasVoted(context.Background(), ethcommon.HexToHash("0x01"), voter)
	require.NoError(t, err)
	assert.True(t, voted)
	require.Len(t, chain.calls, 1)
	assert.Equal(t, voter, chain.calls[0].From)
}

func TestVoteWithoutSignerFails(t *testing.T) {
	chain := newFakeChain("rsk", 31)
	fed := NewFederationV2(federationAddr, chain, nil, testRetry())

	_, err := fed.VoteTransaction(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no signer configured")
}

func TestUnexpectedResultIsVersionMismatch(t *testing.T) {
	chain := newFakeChain("rsk", 31)
	// isMember answered with a string: a different contract lives at this address.
	m := FederationV2ABI.Methods["isMember"]
	out, err := FederationV2ABI.Methods["version"].Outputs.Pack("v2")
	require.NoError(t, err)
	chain.results[callKey{federationAddr, [4]byte(m.ID)}] = callResult{out: out}

	fed := NewFederationV2(federationAddr, chain, nil, testRetry())
	_, err = fed.IsMember(context.Background(), voter)
	require.Error(t, err)
}

func TestParseHeartbeat(t *testing.T) {
	event := FederationV2ABI.Events[EventHeartBeat]
	data, err := event.Inputs.NonIndexed().Pack(big.NewInt(120), big.NewInt(340), "3.0.0", "main", "side")
	require.NoError(t, err)

	log := types.Log{
		Topics:      []ethcommon.Hash{event.ID, ethcommon.BytesToHash(voter.Bytes())},
		Data:        data,
		BlockNumber: 500,
		TxHash:      ethcommon.HexToHash("0xcc"),
	}
	hb, err := ParseHeartbeat("eth", &log)
	require.NoError(t, err)
	assert.Equal(t, voter, hb.Sender)
	assert.Equal(t, uint64(120), hb.MainChainBlock)
	assert.Equal(t, uint64(340), hb.SideChainBlock)
	assert.Equal(t, "3.0.0", hb.FederatorVersion)
	assert.Equal(t, "main", hb.MainNodeInfo)
	assert.Equal(t, "side", hb.SideNodeInfo)
	assert.Equal(t, uint64(500), hb.BlockNumber)

	log.Topics[0] = ethcommon.HexToHash("0x01")
	_, err = ParseHeartbeat("eth", &log)
	require.Error(t, err)
}
