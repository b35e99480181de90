package contracts

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/tokenbridge/federator/federator/chains/common"
	fedErrors "github.com/tokenbridge/federator/federator/errors"
)

// Bridge is the source side contract emitting Cross events.
// Its version is the version of the allow-tokens contract it uses for limits.
type Bridge interface {
	Version() string
	Address() ethcommon.Address
	ChainID() uint64

	GetFederation(ctx context.Context) (ethcommon.Address, error)
	GetCrossEvents(ctx context.Context, from, to uint64) ([]common.CrossTransferEvent, error)
	GetConfirmations(ctx context.Context) (common.Confirmations, error)
	GetLimits(ctx context.Context, token ethcommon.Address) (common.TokenLimits, error)
}

// StaticConfirmations returns the confirmation depth used by bridges that
// predate on-chain tiers. Unknown chains (regtest, ganache) need none.
func StaticConfirmations(chainID uint64) uint64 {
	switch chainID {
	case 31, 42: // rsk testnet, kovan
		return 10
	case 1: // ethereum mainnet, about 24h
		return 5760
	case 30: // rsk mainnet, about 24h
		return 2880
	default:
		return 0
	}
}

type bridgeBase struct {
	contract *boundContract
	chain    string
	chainID  uint64
	parser   *CrossEventParser
}

func newBridgeBase(address ethcommon.Address, reader ChainReader, retry *common.RetryManager) bridgeBase {
	return bridgeBase{
		contract: newBoundContract(BridgeABI, address, reader, nil, retry),
		chain:    reader.Name(),
		chainID:  reader.ChainID(),
		parser:   NewCrossEventParser(BridgeABI, reader.Name()),
	}
}

func (b *bridgeBase) Address() ethcommon.Address {
	return b.contract.address
}

func (b *bridgeBase) ChainID() uint64 {
	return b.chainID
}

func (b *bridgeBase) GetFederation(ctx context.Context) (ethcommon.Address, error) {
	values, err := b.contract.call(ctx, "getFederation")
	if err != nil {
		return ethcommon.Address{}, err
	}
	addr, err := readAddress(values)
	if err != nil {
		return ethcommon.Address{}, versionMismatch(b.chain, "getFederation", err)
	}
	return addr, nil
}

// GetCrossEvents returns the decoded Cross events in [from, to], ordered as the node returned them.
func (b *bridgeBase) GetCrossEvents(ctx context.Context, from, to uint64) ([]common.CrossTransferEvent, error) {
	logs, err := b.contract.filterLogs(ctx, EventCross, from, to)
	if err != nil {
		return nil, err
	}
	events := make([]common.CrossTransferEvent, 0, len(logs))
	for i := range logs {
		if logs[i].Removed {
			continue
		}
		ev, err := b.parser.Parse(&logs[i])
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	return events, nil
}

// BridgeV0 uses a static confirmation table and no amount limits.
type BridgeV0 struct {
	bridgeBase
}

// NewBridgeV0 binds a bridge without on-chain confirmation tiers.
func NewBridgeV0(address ethcommon.Address, reader ChainReader, retry *common.RetryManager) *BridgeV0 {
	return &BridgeV0{newBridgeBase(address, reader, retry)}
}

func (b *BridgeV0) Version() string {
	return VersionV0
}

func (b *BridgeV0) GetConfirmations(context.Context) (common.Confirmations, error) {
	conf := StaticConfirmations(b.chainID)
	return common.Confirmations{Small: conf, Medium: conf, Large: conf}, nil
}

// GetLimits returns the "no limit" sentinels: every amount uses the single depth.
func (b *BridgeV0) GetLimits(context.Context, ethcommon.Address) (common.TokenLimits, error) {
	return common.TokenLimits{
		Allowed:      true,
		MediumAmount: big.NewInt(-1),
		LargeAmount:  big.NewInt(0),
	}, nil
}

// BridgeV1 reads tiers and per-token limits from its allow-tokens contract.
type BridgeV1 struct {
	bridgeBase
	allowTokens *boundContract

	mu     sync.RWMutex
	limits map[ethcommon.Address]common.TokenLimits
}

// NewBridgeV1 binds a bridge whose limits live in the allow-tokens contract at allowTokens.
func NewBridgeV1(address, allowTokens ethcommon.Address, reader ChainReader, retry *common.RetryManager) *BridgeV1 {
	return &BridgeV1{
		bridgeBase:  newBridgeBase(address, reader, retry),
		allowTokens: newBoundContract(AllowTokensABI, allowTokens, reader, nil, retry),
		limits:      make(map[ethcommon.Address]common.TokenLimits),
	}
}

func (b *BridgeV1) Version() string {
	return VersionV1
}

func (b *BridgeV1) GetConfirmations(ctx context.Context) (common.Confirmations, error) {
	var conf common.Confirmations
	fields := []struct {
		method string
		dst    *uint64
	}{
		{"smallAmountConfirmations", &conf.Small},
		{"mediumAmountConfirmations", &conf.Medium},
		{"largeAmountConfirmations", &conf.Large},
	}
	for _, f := range fields {
		values, err := b.allowTokens.call(ctx, f.method)
		if err != nil {
			return common.Confirmations{}, err
		}
		v, err := readUint(values)
		if err != nil {
			return common.Confirmations{}, versionMismatch(b.chain, f.method, err)
		}
		*f.dst = v
	}
	return conf, nil
}

type tokenInfo struct {
	TypeId  *big.Int
	Allowed bool
}

type tokenLimits struct {
	Min          *big.Int
	Max          *big.Int
	Daily        *big.Int
	MediumAmount *big.Int
	LargeAmount  *big.Int
}

// GetLimits returns the thresholds of token. Allowed tokens are cached for
// the lifetime of the adapter; disallowed ones are queried again next time.
func (b *BridgeV1) GetLimits(ctx context.Context, token ethcommon.Address) (common.TokenLimits, error) {
	b.mu.RLock()
	cached, ok := b.limits[token]
	b.mu.RUnlock()
	if ok {
		return cached, nil
	}

	values, err := b.allowTokens.call(ctx, "getInfoAndLimits", token)
	if err != nil {
		return common.TokenLimits{}, err
	}
	if len(values) != 2 {
		return common.TokenLimits{}, versionMismatch(b.chain, "getInfoAndLimits",
			fmt.Errorf("expected 2 values, got %d", len(values)))
	}
	info := *abi.ConvertType(values[0], new(tokenInfo)).(*tokenInfo)
	limit := *abi.ConvertType(values[1], new(tokenLimits)).(*tokenLimits)

	result := common.TokenLimits{
		Allowed:      info.Allowed,
		MediumAmount: limit.MediumAmount,
		LargeAmount:  limit.LargeAmount,
	}
	if result.Allowed {
		b.mu.Lock()
		b.limits[token] = result
		b.mu.Unlock()
	}
	return result, nil
}

// CrossEventParser decodes Cross logs of a bridge.
type CrossEventParser struct {
	event abi.Event
	chain string
}

// NewCrossEventParser builds a parser from the bridge ABI.
func NewCrossEventParser(bridgeABI abi.ABI, chain string) *CrossEventParser {
	return &CrossEventParser{event: bridgeABI.Events[EventCross], chain: chain}
}

// Parse decodes one log. A log that is not a well-formed Cross event is a
// fatal configuration error: the bridge address or ABI is wrong.
func (p *CrossEventParser) Parse(log *types.Log) (*common.CrossTransferEvent, error) {
	if len(log.Topics) != 3 || log.Topics[0] != p.event.ID {
		return nil, fedErrors.NewConfigError(p.chain, "unexpected event signature in bridge logs").
			WithContext("tx_hash", log.TxHash.Hex()).
			WithContext("log_index", log.Index)
	}

	values, err := p.event.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil || len(values) != 5 {
		return nil, fedErrors.NewChainError(fedErrors.ErrCodeValidation, p.chain, "malformed Cross event data", err).
			WithContext("tx_hash", log.TxHash.Hex()).
			WithContext("log_index", log.Index)
	}

	amount, okAmount := values[0].(*big.Int)
	symbol, okSymbol := values[1].(string)
	userData, okData := values[2].([]byte)
	decimals, okDecimals := values[3].(uint8)
	granularity, okGranularity := values[4].(*big.Int)
	if !okAmount || !okSymbol || !okData || !okDecimals || !okGranularity {
		return nil, fedErrors.NewValidationError(p.chain, "unexpected Cross event field types").
			WithContext("tx_hash", log.TxHash.Hex())
	}

	return &common.CrossTransferEvent{
		OriginalTokenAddress: ethcommon.BytesToAddress(log.Topics[1].Bytes()),
		Receiver:             ethcommon.BytesToAddress(log.Topics[2].Bytes()),
		Amount:               amount,
		Symbol:               symbol,
		Decimals:             decimals,
		Granularity:          granularity,
		UserData:             userData,
		BlockHash:            log.BlockHash,
		TransactionHash:      log.TxHash,
		LogIndex:             log.Index,
		BlockNumber:          log.BlockNumber,
	}, nil
}

var (
	_ Bridge = (*BridgeV0)(nil)
	_ Bridge = (*BridgeV1)(nil)
)
