package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"

	fedErrors "github.com/tokenbridge/federator/federator/errors"
)

// MinGasLimit is the floor applied to gas estimates, which undershoot on some nodes.
const MinGasLimit = 250000

// TxSender signs and submits transactions from one account on one chain.
// Every submission holds the account mutex from nonce lookup until the receipt,
// so votes and heartbeats sharing the key never race on a nonce.
type TxSender struct {
	client         *RPCClient
	key            *ecdsa.PrivateKey
	from           ethcommon.Address
	signer         types.Signer
	receiptTimeout time.Duration
	pollInterval   time.Duration

	mu     sync.Mutex
	logger zerolog.Logger
}

// NewTxSender creates a sender for the account of key.
func NewTxSender(
	client *RPCClient,
	key *ecdsa.PrivateKey,
	receiptTimeout time.Duration,
	pollInterval time.Duration,
	logger zerolog.Logger,
) (*TxSender, error) {
	if client == nil {
		return nil, fmt.Errorf("rpc client is required")
	}
	if key == nil {
		return nil, fedErrors.NewConfigError(client.Name(), "signing key is required")
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	return &TxSender{
		client:         client,
		key:            key,
		from:           from,
		signer:         types.LatestSignerForChainID(new(big.Int).SetUint64(client.ChainID())),
		receiptTimeout: receiptTimeout,
		pollInterval:   pollInterval,
		logger: logger.With().
			Str("component", "evm_tx_sender").
			Str("chain", client.Name()).
			Str("from", from.Hex()).
			Logger(),
	}, nil
}

// Address returns the sending account.
func (s *TxSender) Address() ethcommon.Address {
	return s.from
}

// SendTransaction signs a call to `to`, broadcasts it and waits for the receipt.
// A receipt with status 0 or a missing receipt after the timeout is a TRANSACTION error.
//
// The submission ignores cancellation of ctx once the transaction is signed;
// it stops only on the receipt timeout.
func (s *TxSender) SendTransaction(ctx context.Context, to ethcommon.Address, data []byte, value *big.Int) (*types.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if value == nil {
		value = new(big.Int)
	}
	chain := s.client.Name()

	nonce, err := s.client.PendingNonceAt(ctx, s.from)
	if err != nil {
		return nil, fedErrors.Wrap(err, "failed to get nonce")
	}
	gasPrice, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fedErrors.Wrap(err, "failed to get gas price")
	}

	gas, err := s.client.EstimateGas(ctx, ethereum.CallMsg{
		From:     s.from,
		To:       &to,
		GasPrice: gasPrice,
		Value:    value,
		Data:     data,
	})
	if err != nil {
		if isRevert(err) {
			return nil, fedErrors.NewTransactionError(chain, "gas estimation reverted", err)
		}
		return nil, fedErrors.Wrap(err, "failed to estimate gas")
	}
	if gas < MinGasLimit {
		gas = MinGasLimit
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signedTx, err := types.SignTx(tx, s.signer, s.key)
	if err != nil {
		return nil, fedErrors.NewInternalError(chain, "failed to sign transaction", err)
	}
	txHash := signedTx.Hash()

	submitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.receiptTimeout)
	defer cancel()

	if err := s.client.SendTransaction(submitCtx, signedTx); err != nil {
		return nil, fedErrors.NewTransactionError(chain, "failed to broadcast transaction", err).
			WithContext("tx_hash", txHash.Hex())
	}

	s.logger.Info().
		Str("tx_hash", txHash.Hex()).
		Uint64("nonce", nonce).
		Uint64("gas", gas).
		Str("gas_price", gasPrice.String()).
		Msg("transaction broadcast")

	receipt, err := s.waitForReceipt(submitCtx, txHash)
	if err != nil {
		return nil, fedErrors.NewTransactionError(chain, "transaction was not mined", err).
			WithContext("tx_hash", txHash.Hex())
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		s.logger.Error().
			Str("tx_hash", txHash.Hex()).
			Uint64("block", receipt.BlockNumber.Uint64()).
			Msg("transaction receipt status failed")
		return receipt, fedErrors.NewTransactionError(chain, "transaction reverted", nil).
			WithContext("tx_hash", txHash.Hex())
	}

	s.logger.Info().
		Str("tx_hash", txHash.Hex()).
		Uint64("block", receipt.BlockNumber.Uint64()).
		Uint64("gas_used", receipt.GasUsed).
		Msg("transaction successful")
	return receipt, nil
}

func (s *TxSender) waitForReceipt(ctx context.Context, txHash ethcommon.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := s.client.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			s.logger.Debug().Err(err).Str("tx_hash", txHash.Hex()).Msg("receipt lookup failed")
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("it might still be mined, check %s manually: %w", txHash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}
