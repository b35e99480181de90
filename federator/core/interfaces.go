package core

import (
	"context"

	"github.com/tokenbridge/federator/federator/chains/common"
)

// ChainClient is the node view the engine needs from one chain.
// *evm.RPCClient implements it.
type ChainClient interface {
	Name() string
	ChainID() uint64
	LatestBlock(ctx context.Context) (uint64, error)
	IsSyncing(ctx context.Context) (bool, error)
	NodeInfo(ctx context.Context) (common.NodeInfo, error)
}
