package contracts

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/tokenbridge/federator/federator/chains/common"
	fedErrors "github.com/tokenbridge/federator/federator/errors"
)

// Federation is the voting contract on the destination side of a transfer.
type Federation interface {
	Version() string
	Address() ethcommon.Address
	SupportsHeartbeat() bool

	IsMember(ctx context.Context, account ethcommon.Address) (bool, error)
	GetTransactionID(ctx context.Context, event *common.CrossTransferEvent) (ethcommon.Hash, error)
	TransactionWasProcessed(ctx context.Context, txID ethcommon.Hash) (bool, error)
	// HasVoted reports whether voter already voted txID.
	HasVoted(ctx context.Context, txID ethcommon.Hash, voter ethcommon.Address) (bool, error)
	VoteTransaction(ctx context.Context, event *common.CrossTransferEvent) (*types.Receipt, error)

	// GetPastEvents returns raw logs of eventName in [from, to].
	// Versions without the event return an empty slice.
	GetPastEvents(ctx context.Context, eventName string, from, to uint64) ([]types.Log, error)
	// EmitHeartbeat submits a heartbeat. Versions without heartbeat support
	// return (false, nil) and make no call.
	EmitHeartbeat(ctx context.Context, info HeartbeatInfo) (bool, error)
}

// HeartbeatInfo is the payload of a heartbeat transaction.
type HeartbeatInfo struct {
	MainChainBlock   uint64
	SideChainBlock   uint64
	FederatorVersion string
	MainNodeInfo     string
	SideNodeInfo     string
}

// transferTuple mirrors the tuple argument of the v2 federation methods.
type transferTuple struct {
	Receiver        ethcommon.Address
	Amount          *big.Int
	Symbol          string
	BlockHash       [32]byte
	TransactionHash [32]byte
	LogIndex        uint32
	Decimals        uint8
	Granularity     *big.Int
}

// transferData is the vote payload of one Cross event.
type transferData struct {
	OriginalTokenAddress ethcommon.Address
	Transfer             transferTuple
}

func newTransferData(ev *common.CrossTransferEvent) transferData {
	granularity := ev.Granularity
	if granularity == nil {
		granularity = big.NewInt(1)
	}
	amount := ev.Amount
	if amount == nil {
		amount = new(big.Int)
	}
	return transferData{
		OriginalTokenAddress: ev.OriginalTokenAddress,
		Transfer: transferTuple{
			Receiver:        ev.Receiver,
			Amount:          amount,
			Symbol:          ev.Symbol,
			BlockHash:       ev.BlockHash,
			TransactionHash: ev.TransactionHash,
			LogIndex:        uint32(ev.LogIndex),
			Decimals:        ev.Decimals,
			Granularity:     granularity,
		},
	}
}

// flat returns the nine v1 arguments in wire order.
func (t transferData) flat() []any {
	return []any{
		t.OriginalTokenAddress,
		t.Transfer.Receiver,
		t.Transfer.Amount,
		t.Transfer.Symbol,
		t.Transfer.BlockHash,
		t.Transfer.TransactionHash,
		t.Transfer.LogIndex,
		t.Transfer.Decimals,
		t.Transfer.Granularity,
	}
}

// tupled returns the v2 arguments: the token address and the transfer tuple.
func (t transferData) tupled() []any {
	return []any{t.OriginalTokenAddress, t.Transfer}
}

// federationBase holds the methods identical across versions.
type federationBase struct {
	contract *boundContract
	chain    string
	version  string
}

func newFederationBase(contractABI abi.ABI, version string, address ethcommon.Address, reader ChainReader, sender TxSubmitter, retry *common.RetryManager) federationBase {
	return federationBase{
		contract: newBoundContract(contractABI, address, reader, sender, retry),
		chain:    reader.Name(),
		version:  version,
	}
}

func (f *federationBase) Version() string {
	return f.version
}

func (f *federationBase) Address() ethcommon.Address {
	return f.contract.address
}

func (f *federationBase) IsMember(ctx context.Context, account ethcommon.Address) (bool, error) {
	values, err := f.contract.call(ctx, "isMember", account)
	if err != nil {
		return false, err
	}
	isMember, err := readBool(values)
	if err != nil {
		return false, versionMismatch(f.chain, "isMember", err)
	}
	return isMember, nil
}

func (f *federationBase) TransactionWasProcessed(ctx context.Context, txID ethcommon.Hash) (bool, error) {
	values, err := f.contract.call(ctx, "transactionWasProcessed", [32]byte(txID))
	if err != nil {
		return false, err
	}
	processed, err := readBool(values)
	if err != nil {
		return false, versionMismatch(f.chain, "transactionWasProcessed", err)
	}
	return processed, nil
}

func (f *federationBase) HasVoted(ctx context.Context, txID ethcommon.Hash, voter ethcommon.Address) (bool, error) {
	values, err := f.contract.callFrom(ctx, voter, "hasVoted", [32]byte(txID))
	if err != nil {
		return false, err
	}
	voted, err := readBool(values)
	if err != nil {
		return false, versionMismatch(f.chain, "hasVoted", err)
	}
	return voted, nil
}

// FederationV1 takes the transfer as a flat argument list and has no heartbeat.
type FederationV1 struct {
	federationBase
}

// NewFederationV1 binds a v1 federation at address.
func NewFederationV1(address ethcommon.Address, reader ChainReader, sender TxSubmitter, retry *common.RetryManager) *FederationV1 {
	return &FederationV1{newFederationBase(FederationV1ABI, VersionV1, address, reader, sender, retry)}
}

func (f *FederationV1) SupportsHeartbeat() bool {
	return false
}

func (f *FederationV1) GetTransactionID(ctx context.Context, event *common.CrossTransferEvent) (ethcommon.Hash, error) {
	values, err := f.contract.call(ctx, "getTransactionId", newTransferData(event).flat()...)
	if err != nil {
		return ethcommon.Hash{}, err
	}
	id, err := readBytes32(values)
	if err != nil {
		return ethcommon.Hash{}, versionMismatch(f.chain, "getTransactionId", err)
	}
	return id, nil
}

func (f *FederationV1) VoteTransaction(ctx context.Context, event *common.CrossTransferEvent) (*types.Receipt, error) {
	return f.contract.transact(ctx, "voteTransaction", newTransferData(event).flat()...)
}

func (f *FederationV1) GetPastEvents(ctx context.Context, eventName string, from, to uint64) ([]types.Log, error) {
	if eventName == EventHeartBeat {
		return []types.Log{}, nil
	}
	return f.contract.filterLogs(ctx, eventName, from, to)
}

func (f *FederationV1) EmitHeartbeat(context.Context, HeartbeatInfo) (bool, error) {
	return false, nil
}

// FederationV2 takes the token address plus the rest of the transfer as a
// tuple, and supports heartbeats.
type FederationV2 struct {
	federationBase
}

// NewFederationV2 binds a v2 federation at address.
func NewFederationV2(address ethcommon.Address, reader ChainReader, sender TxSubmitter, retry *common.RetryManager) *FederationV2 {
	return &FederationV2{newFederationBase(FederationV2ABI, VersionV2, address, reader, sender, retry)}
}

func (f *FederationV2) SupportsHeartbeat() bool {
	return true
}

func (f *FederationV2) GetTransactionID(ctx context.Context, event *common.CrossTransferEvent) (ethcommon.Hash, error) {
	values, err := f.contract.call(ctx, "getTransactionId", newTransferData(event).tupled()...)
	if err != nil {
		return ethcommon.Hash{}, err
	}
	id, err := readBytes32(values)
	if err != nil {
		return ethcommon.Hash{}, versionMismatch(f.chain, "getTransactionId", err)
	}
	return id, nil
}

func (f *FederationV2) VoteTransaction(ctx context.Context, event *common.CrossTransferEvent) (*types.Receipt, error) {
	return f.contract.transact(ctx, "voteTransaction", newTransferData(event).tupled()...)
}

func (f *FederationV2) GetPastEvents(ctx context.Context, eventName string, from, to uint64) ([]types.Log, error) {
	return f.contract.filterLogs(ctx, eventName, from, to)
}

func (f *FederationV2) EmitHeartbeat(ctx context.Context, info HeartbeatInfo) (bool, error) {
	_, err := f.contract.transact(ctx, "emitHeartbeat",
		new(big.Int).SetUint64(info.MainChainBlock),
		new(big.Int).SetUint64(info.SideChainBlock),
		info.FederatorVersion,
		info.MainNodeInfo,
		info.SideNodeInfo,
	)
	if err != nil {
		return false, err
	}
	return true, nil
}

// HeartbeatEvent is a decoded HeartBeat log of a v2 federation.
type HeartbeatEvent struct {
	Sender           ethcommon.Address
	MainChainBlock   uint64
	SideChainBlock   uint64
	FederatorVersion string
	MainNodeInfo     string
	SideNodeInfo     string

	BlockNumber uint64
	TxHash      ethcommon.Hash
}

// ParseHeartbeat decodes a HeartBeat log.
func ParseHeartbeat(chain string, log *types.Log) (*HeartbeatEvent, error) {
	event := FederationV2ABI.Events[EventHeartBeat]
	if len(log.Topics) != 2 || log.Topics[0] != event.ID {
		return nil, fedErrors.NewConfigError(chain, "unexpected event signature in federation logs").
			WithContext("tx_hash", log.TxHash.Hex())
	}

	values, err := event.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil || len(values) != 5 {
		return nil, fedErrors.NewChainError(fedErrors.ErrCodeValidation, chain, "malformed HeartBeat event data", err).
			WithContext("tx_hash", log.TxHash.Hex())
	}

	mainBlock, ok1 := values[0].(*big.Int)
	sideBlock, ok2 := values[1].(*big.Int)
	version, ok3 := values[2].(string)
	mainInfo, ok4 := values[3].(string)
	sideInfo, ok5 := values[4].(string)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return nil, fedErrors.NewValidationError(chain, "unexpected HeartBeat event field types").
			WithContext("tx_hash", log.TxHash.Hex())
	}

	return &HeartbeatEvent{
		Sender:           ethcommon.BytesToAddress(log.Topics[1].Bytes()),
		MainChainBlock:   mainBlock.Uint64(),
		SideChainBlock:   sideBlock.Uint64(),
		FederatorVersion: version,
		MainNodeInfo:     mainInfo,
		SideNodeInfo:     sideInfo,
		BlockNumber:      log.BlockNumber,
		TxHash:           log.TxHash,
	}, nil
}

var (
	_ Federation = (*FederationV1)(nil)
	_ Federation = (*FederationV2)(nil)
)
