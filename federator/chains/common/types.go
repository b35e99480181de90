package common

import (
	"fmt"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Direction identifies which way a transfer flows.
type Direction string

const (
	DirectionMainToSide Direction = "main_to_side"
	DirectionSideToMain Direction = "side_to_main"

	// DirectionHeartbeat keys the cursor of the heartbeat log reader.
	DirectionHeartbeat Direction = "heartbeat"
)

func (d Direction) String() string {
	return string(d)
}

// CrossTransferEvent is a Cross log decoded from the source bridge.
// (TransactionHash, LogIndex) is unique per source chain.
type CrossTransferEvent struct {
	OriginalTokenAddress ethcommon.Address
	Receiver             ethcommon.Address
	Amount               *big.Int
	Symbol               string
	Decimals             uint8
	Granularity          *big.Int
	UserData             []byte

	BlockHash       ethcommon.Hash
	TransactionHash ethcommon.Hash
	LogIndex        uint
	BlockNumber     uint64
}

// Key identifies the event on its source chain.
func (e *CrossTransferEvent) Key() string {
	return fmt.Sprintf("%s:%d", e.TransactionHash.Hex(), e.LogIndex)
}

// HumanAmount returns the amount scaled by the token decimals, for logs.
func (e *CrossTransferEvent) HumanAmount() decimal.Decimal {
	if e.Amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(e.Amount, -int32(e.Decimals))
}

// VoteOutcome is the result of processing one event.
type VoteOutcome string

const (
	OutcomeVoted            VoteOutcome = "voted"
	OutcomeSkipped          VoteOutcome = "skipped"
	OutcomeAlreadyProcessed VoteOutcome = "already-processed"
)

// Confirmations holds the block depth required for each amount tier.
type Confirmations struct {
	Small  uint64
	Medium uint64
	Large  uint64
}

// Min returns the smallest depth of the three tiers.
func (c Confirmations) Min() uint64 {
	m := c.Small
	if c.Medium < m {
		m = c.Medium
	}
	if c.Large < m {
		m = c.Large
	}
	return m
}

// TokenLimits are the per-token amount thresholds selecting a tier.
// A threshold that is nil or not positive disables its tier.
type TokenLimits struct {
	Allowed      bool
	MediumAmount *big.Int
	LargeAmount  *big.Int
}

// ConfirmationTier pairs the tier depths with the thresholds of one token.
type ConfirmationTier struct {
	Confirmations Confirmations
	Limits        TokenLimits
}

// NodeInfo describes the node behind an RPC endpoint, as sent in heartbeats.
type NodeInfo struct {
	ChainID       uint64
	BlockNumber   uint64
	ClientVersion string
}

// String renders the node info the way heartbeats carry it.
func (n NodeInfo) String() string {
	return fmt.Sprintf("chainId:%d blockNumber:%d nodeInfo:%s", n.ChainID, n.BlockNumber, n.ClientVersion)
}
