package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/tokenbridge/federator/federator/chains/common"
	fedErrors "github.com/tokenbridge/federator/federator/errors"
)

// Backend is the subset of an EVM node API the federator uses.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash ethcommon.Hash) (*types.Receipt, error)
	PendingNonceAt(ctx context.Context, account ethcommon.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	SyncProgress(ctx context.Context) (*ethereum.SyncProgress, error)
	ClientVersion(ctx context.Context) (string, error)
	Close()
}

// ethBackend adds web3_clientVersion to the go-ethereum client.
type ethBackend struct {
	*ethclient.Client
}

func (b ethBackend) ClientVersion(ctx context.Context) (string, error) {
	var version string
	if err := b.Client.Client().CallContext(ctx, &version, "web3_clientVersion"); err != nil {
		return "", err
	}
	return version, nil
}

type endpoint struct {
	url     string
	backend Backend
	breaker *gobreaker.CircuitBreaker
}

// RPCClient talks to one chain through one or more endpoints.
// Calls rotate round-robin and skip endpoints whose breaker is open.
type RPCClient struct {
	chainName string
	chainID   uint64
	endpoints []*endpoint
	index     uint64
	mu        sync.RWMutex
	logger    zerolog.Logger
}

// NewRPCClient dials every URL and keeps the endpoints reporting expectedChainID.
func NewRPCClient(ctx context.Context, chainName string, rpcURLs []string, expectedChainID uint64, logger zerolog.Logger) (*RPCClient, error) {
	if len(rpcURLs) == 0 {
		return nil, fedErrors.NewConfigError(chainName, "no RPC URLs provided")
	}

	log := logger.With().Str("component", "evm_rpc_client").Str("chain", chainName).Logger()
	backends := make(map[string]Backend, len(rpcURLs))

	dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	for _, url := range rpcURLs {
		client, err := ethclient.DialContext(dialCtx, url)
		if err != nil {
			log.Warn().Err(err).Str("url", url).Msg("failed to connect to RPC endpoint, skipping")
			continue
		}

		clientChainID, err := client.ChainID(dialCtx)
		if err != nil {
			log.Warn().
				Err(err).
				Str("url", url).
				Uint64("expected_chain_id", expectedChainID).
				Msg("failed to verify chain ID, proceeding with client anyway")
			backends[url] = ethBackend{client}
			continue
		}

		if clientChainID.Uint64() != expectedChainID {
			client.Close()
			log.Warn().
				Str("url", url).
				Uint64("expected_chain_id", expectedChainID).
				Uint64("actual_chain_id", clientChainID.Uint64()).
				Msg("chain ID mismatch, closing client")
			continue
		}

		backends[url] = ethBackend{client}
		log.Info().Str("url", url).Msg("connected to RPC endpoint")
	}

	if len(backends) == 0 {
		return nil, fedErrors.NewConfigError(chainName, "failed to connect to any valid RPC endpoints")
	}

	ordered := make([]string, 0, len(backends))
	for _, url := range rpcURLs {
		if _, ok := backends[url]; ok {
			ordered = append(ordered, url)
		}
	}
	return newRPCClient(chainName, expectedChainID, ordered, backends, log), nil
}

func newRPCClient(chainName string, chainID uint64, urls []string, backends map[string]Backend, logger zerolog.Logger) *RPCClient {
	rc := &RPCClient{
		chainName: chainName,
		chainID:   chainID,
		logger:    logger,
	}
	for _, url := range urls {
		rc.endpoints = append(rc.endpoints, &endpoint{
			url:     url,
			backend: backends[url],
			breaker: newBreaker(chainName, url, logger),
		})
	}
	return rc
}

func newBreaker(chainName, url string, logger zerolog.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        chainName + "|" + url,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// A revert is an answer from a healthy node.
		IsSuccessful: func(err error) bool {
			return err == nil || isRevert(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("endpoint", url).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("rpc endpoint breaker changed state")
		},
	})
}

// Name returns the configured chain name.
func (rc *RPCClient) Name() string {
	return rc.chainName
}

// ChainID returns the chain id every endpoint was verified against.
func (rc *RPCClient) ChainID() uint64 {
	return rc.chainID
}

// executeWithFailover runs fn against each endpoint in turn until one answers.
// Reverts are returned at once since every node would give the same answer.
func (rc *RPCClient) executeWithFailover(ctx context.Context, operation string, fn func(Backend) error) error {
	rc.mu.RLock()
	endpoints := rc.endpoints
	rc.mu.RUnlock()

	if len(endpoints) == 0 {
		return fedErrors.NewRPCError(rc.chainName, fmt.Sprintf("no RPC clients available for %s", operation), nil)
	}

	var lastErr error
	maxAttempts := len(endpoints)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		index := atomic.AddUint64(&rc.index, 1) - 1
		ep := endpoints[index%uint64(len(endpoints))]

		_, err := ep.breaker.Execute(func() (interface{}, error) {
			return nil, fn(ep.backend)
		})
		if err == nil {
			return nil
		}
		if isRevert(err) {
			return fedErrors.NewChainError(fedErrors.ErrCodeInternal, rc.chainName, operation+" reverted", err)
		}
		lastErr = err

		rc.logger.Warn().
			Str("operation", operation).
			Str("endpoint", ep.url).
			Int("attempt", attempt+1).
			Err(err).
			Msg("operation failed, trying next endpoint")
	}

	return fedErrors.NewRPCError(rc.chainName,
		fmt.Sprintf("operation %s failed after trying %d endpoints", operation, maxAttempts), lastErr)
}

// LatestBlock returns the current block height.
func (rc *RPCClient) LatestBlock(ctx context.Context) (uint64, error) {
	var blockNum uint64
	err := rc.executeWithFailover(ctx, "get_block_number", func(b Backend) error {
		var innerErr error
		blockNum, innerErr = b.BlockNumber(ctx)
		return innerErr
	})
	return blockNum, err
}

// FilterLogs fetches logs matching the filter query
func (rc *RPCClient) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	var logs []types.Log
	err := rc.executeWithFailover(ctx, "filter_logs", func(b Backend) error {
		var innerErr error
		logs, innerErr = b.FilterLogs(ctx, query)
		return innerErr
	})
	return logs, err
}

// CallContract executes an eth_call against the latest block.
func (rc *RPCClient) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	var out []byte
	err := rc.executeWithFailover(ctx, "call_contract", func(b Backend) error {
		var innerErr error
		out, innerErr = b.CallContract(ctx, msg, nil)
		return innerErr
	})
	return out, err
}

// TransactionReceipt fetches a receipt. ethereum.NotFound is returned unwrapped.
func (rc *RPCClient) TransactionReceipt(ctx context.Context, txHash ethcommon.Hash) (*types.Receipt, error) {
	var receipt *types.Receipt
	var notFound bool
	err := rc.executeWithFailover(ctx, "get_transaction_receipt", func(b Backend) error {
		var innerErr error
		receipt, innerErr = b.TransactionReceipt(ctx, txHash)
		if innerErr == ethereum.NotFound {
			notFound = true
			return nil
		}
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	if notFound {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

// PendingNonceAt returns the next nonce of account, counting pending transactions.
func (rc *RPCClient) PendingNonceAt(ctx context.Context, account ethcommon.Address) (uint64, error) {
	var nonce uint64
	err := rc.executeWithFailover(ctx, "get_pending_nonce", func(b Backend) error {
		var innerErr error
		nonce, innerErr = b.PendingNonceAt(ctx, account)
		return innerErr
	})
	return nonce, err
}

// SuggestGasPrice fetches the node's gas price suggestion.
func (rc *RPCClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	var gasPrice *big.Int
	err := rc.executeWithFailover(ctx, "get_gas_price", func(b Backend) error {
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		var innerErr error
		gasPrice, innerErr = b.SuggestGasPrice(callCtx)
		return innerErr
	})
	return gasPrice, err
}

// EstimateGas estimates the gas of msg.
func (rc *RPCClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	var gas uint64
	err := rc.executeWithFailover(ctx, "estimate_gas", func(b Backend) error {
		var innerErr error
		gas, innerErr = b.EstimateGas(ctx, msg)
		return innerErr
	})
	return gas, err
}

// SendTransaction broadcasts a signed transaction.
// A node that already knows the transaction counts as success.
func (rc *RPCClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return rc.executeWithFailover(ctx, "send_transaction", func(b Backend) error {
		err := b.SendTransaction(ctx, tx)
		if err != nil && strings.Contains(strings.ToLower(err.Error()), "already known") {
			return nil
		}
		return err
	})
}

// IsSyncing reports whether the node is still catching up.
func (rc *RPCClient) IsSyncing(ctx context.Context) (bool, error) {
	var progress *ethereum.SyncProgress
	err := rc.executeWithFailover(ctx, "get_sync_progress", func(b Backend) error {
		var innerErr error
		progress, innerErr = b.SyncProgress(ctx)
		return innerErr
	})
	if err != nil {
		return false, err
	}
	return progress != nil, nil
}

// NodeInfo returns the height and client version of the node, for heartbeats.
func (rc *RPCClient) NodeInfo(ctx context.Context) (common.NodeInfo, error) {
	info := common.NodeInfo{ChainID: rc.chainID}

	height, err := rc.LatestBlock(ctx)
	if err != nil {
		return info, err
	}
	info.BlockNumber = height

	err = rc.executeWithFailover(ctx, "get_client_version", func(b Backend) error {
		var innerErr error
		info.ClientVersion, innerErr = b.ClientVersion(ctx)
		return innerErr
	})
	return info, err
}

// IsHealthy checks if any endpoint answers a block number query.
func (rc *RPCClient) IsHealthy(ctx context.Context) bool {
	_, err := rc.LatestBlock(ctx)
	return err == nil
}

// Close closes all RPC connections
func (rc *RPCClient) Close() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	for _, ep := range rc.endpoints {
		if ep.backend != nil {
			ep.backend.Close()
		}
	}
	rc.endpoints = nil
}

func isRevert(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "execution reverted")
}
