// Package contracts adapts the bridge, allow-tokens and federation contracts
// to version independent interfaces. Callers never see a concrete version.
package contracts

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/tokenbridge/federator/federator/chains/common"
	fedErrors "github.com/tokenbridge/federator/federator/errors"
)

// ChainReader is the read side of a chain client. *evm.RPCClient implements it.
type ChainReader interface {
	Name() string
	ChainID() uint64
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// TxSubmitter signs and submits transactions. *evm.TxSender implements it.
type TxSubmitter interface {
	Address() ethcommon.Address
	SendTransaction(ctx context.Context, to ethcommon.Address, data []byte, value *big.Int) (*types.Receipt, error)
}

// boundContract packs, calls and unpacks methods of one deployed contract.
// Reads go through the retry manager; writes do not.
type boundContract struct {
	abi     abi.ABI
	address ethcommon.Address
	reader  ChainReader
	sender  TxSubmitter
	retry   *common.RetryManager
	from    ethcommon.Address
}

func newBoundContract(
	contractABI abi.ABI,
	address ethcommon.Address,
	reader ChainReader,
	sender TxSubmitter,
	retry *common.RetryManager,
) *boundContract {
	bc := &boundContract{
		abi:     contractABI,
		address: address,
		reader:  reader,
		sender:  sender,
		retry:   retry,
	}
	if sender != nil {
		bc.from = sender.Address()
	}
	return bc
}

func (bc *boundContract) call(ctx context.Context, method string, args ...any) ([]any, error) {
	return bc.callFrom(ctx, bc.from, method, args...)
}

func (bc *boundContract) callFrom(ctx context.Context, from ethcommon.Address, method string, args ...any) ([]any, error) {
	input, err := bc.abi.Pack(method, args...)
	if err != nil {
		return nil, fedErrors.NewChainError(fedErrors.ErrCodeInternal, bc.reader.Name(),
			fmt.Sprintf("failed to pack %s", method), err)
	}

	op := fmt.Sprintf("%s.%s", bc.address.Hex(), method)
	out, err := common.Do(ctx, bc.retry, op, func() ([]byte, error) {
		return bc.reader.CallContract(ctx, ethereum.CallMsg{
			From: from,
			To:   &bc.address,
			Data: input,
		})
	})
	if err != nil {
		return nil, err
	}

	values, err := bc.abi.Unpack(method, out)
	if err != nil {
		return nil, fedErrors.NewChainError(fedErrors.ErrCodeVersion, bc.reader.Name(),
			fmt.Sprintf("failed to unpack %s result, contract version mismatch?", method), err)
	}
	return values, nil
}

func (bc *boundContract) transact(ctx context.Context, method string, args ...any) (*types.Receipt, error) {
	if bc.sender == nil {
		return nil, fedErrors.NewConfigError(bc.reader.Name(), "contract is read only, no signer configured")
	}
	input, err := bc.abi.Pack(method, args...)
	if err != nil {
		return nil, fedErrors.NewChainError(fedErrors.ErrCodeInternal, bc.reader.Name(),
			fmt.Sprintf("failed to pack %s", method), err)
	}
	return bc.sender.SendTransaction(ctx, bc.address, input, nil)
}

// filterLogs queries logs of eventName for [from, to].
func (bc *boundContract) filterLogs(ctx context.Context, eventName string, from, to uint64) ([]types.Log, error) {
	event, ok := bc.abi.Events[eventName]
	if !ok {
		return nil, fedErrors.NewConfigError(bc.reader.Name(), fmt.Sprintf("unknown event %s", eventName))
	}
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []ethcommon.Address{bc.address},
		Topics:    [][]ethcommon.Hash{{event.ID}},
	}
	op := fmt.Sprintf("%s.logs.%s", bc.address.Hex(), eventName)
	return common.Do(ctx, bc.retry, op, func() ([]types.Log, error) {
		return bc.reader.FilterLogs(ctx, query)
	})
}

func readBool(values []any) (bool, error) {
	if len(values) != 1 {
		return false, fmt.Errorf("expected 1 value, got %d", len(values))
	}
	v, ok := values[0].(bool)
	if !ok {
		return false, fmt.Errorf("expected bool, got %T", values[0])
	}
	return v, nil
}

func readString(values []any) (string, error) {
	if len(values) != 1 {
		return "", fmt.Errorf("expected 1 value, got %d", len(values))
	}
	v, ok := values[0].(string)
	if !ok {
		return "", fmt.Errorf("expected string, got %T", values[0])
	}
	return v, nil
}

func readAddress(values []any) (ethcommon.Address, error) {
	if len(values) != 1 {
		return ethcommon.Address{}, fmt.Errorf("expected 1 value, got %d", len(values))
	}
	v, ok := values[0].(ethcommon.Address)
	if !ok {
		return ethcommon.Address{}, fmt.Errorf("expected address, got %T", values[0])
	}
	return v, nil
}

func readBytes32(values []any) (ethcommon.Hash, error) {
	if len(values) != 1 {
		return ethcommon.Hash{}, fmt.Errorf("expected 1 value, got %d", len(values))
	}
	v, ok := values[0].([32]byte)
	if !ok {
		return ethcommon.Hash{}, fmt.Errorf("expected bytes32, got %T", values[0])
	}
	return ethcommon.Hash(v), nil
}

func readUint(values []any) (uint64, error) {
	if len(values) != 1 {
		return 0, fmt.Errorf("expected 1 value, got %d", len(values))
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("expected uint256, got %T", values[0])
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("value %s overflows uint64", v)
	}
	return v.Uint64(), nil
}

func versionMismatch(chain, method string, err error) error {
	return fedErrors.NewVersionError(chain, fmt.Sprintf("unexpected %s result", method), err)
}
