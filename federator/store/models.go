// Package store contains GORM-backed SQLite models used by the federator.
//
// Database Structure (database file: federator.db):
//
//	<storage_path>/
//	└── federator.db
//	    ├── chain_cursors
//	    ├── vote_records
//	    └── heartbeat_records
//
// Nothing in here is authoritative. Losing the file is safe: the federation
// contracts gate every vote through transactionWasProcessed and hasVoted.
package store

import (
	"gorm.io/gorm"
)

// ChainCursor is the highest source block fully handled for one direction.
// Only moves forward unless an operator resets it.
type ChainCursor struct {
	gorm.Model
	Direction string `gorm:"uniqueIndex:idx_direction_chain;not null"` // "main_to_side", "side_to_main" or "heartbeat"
	ChainID   uint64 `gorm:"uniqueIndex:idx_direction_chain;not null"` // Source chain id
	LastBlock uint64 // Last processed block height
}

// VoteRecord caches what the federator knows about one cross-chain transaction id.
// Never deleted; never used to skip the on-chain checks.
type VoteRecord struct {
	gorm.Model
	TxID           string `gorm:"uniqueIndex;not null"` // bytes32 transaction id, hex
	Direction      string `gorm:"index"`
	SourceTxHash   string // Transaction hash of the Cross event on the source chain
	LogIndex       uint
	BlockNumber    uint64
	Voted          bool
	Processed      bool
	VoteTxHash     string // Hash of our vote transaction (empty until voted)
	FailedAttempts int    // Submissions that reverted or were not mined
	LastError      string `gorm:"type:text"`
}

// HeartbeatRecord is the latest heartbeat observed from a federator on a chain.
type HeartbeatRecord struct {
	gorm.Model
	ChainID          uint64 `gorm:"uniqueIndex:idx_chain_sender;not null"`
	Sender           string `gorm:"uniqueIndex:idx_chain_sender;not null"`
	BlockNumber      uint64
	TxHash           string
	FederatorVersion string
	MainChainBlock   uint64
	SideChainBlock   uint64
	MainNodeInfo     string
	SideNodeInfo     string
}
