package common

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tokenbridge/federator/federator/db"
	"github.com/tokenbridge/federator/federator/store"
)

// ChainStore provides database operations for cursors, vote records and heartbeats.
type ChainStore struct {
	database *db.DB
}

// NewChainStore creates a new chain store
func NewChainStore(database *db.DB) *ChainStore {
	return &ChainStore{
		database: database,
	}
}

// GetCursor returns the last processed block for (direction, chainID).
// found is false when no cursor was ever saved.
func (cs *ChainStore) GetCursor(direction Direction, chainID uint64) (block uint64, found bool, err error) {
	if cs.database == nil {
		return 0, false, fmt.Errorf("database is nil")
	}

	var cursor store.ChainCursor
	result := cs.database.Client().
		Where("direction = ? AND chain_id = ?", string(direction), chainID).
		First(&cursor)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get cursor: %w", result.Error)
	}
	return cursor.LastBlock, true, nil
}

// SaveCursor moves the cursor forward to block. Lower values are ignored.
func (cs *ChainStore) SaveCursor(direction Direction, chainID uint64, block uint64) error {
	if cs.database == nil {
		return fmt.Errorf("database is nil")
	}

	var cursor store.ChainCursor
	result := cs.database.Client().
		Where("direction = ? AND chain_id = ?", string(direction), chainID).
		First(&cursor)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			cursor = store.ChainCursor{
				Direction: string(direction),
				ChainID:   chainID,
				LastBlock: block,
			}
			if err := cs.database.Client().Create(&cursor).Error; err != nil {
				return fmt.Errorf("failed to create cursor: %w", err)
			}
			return nil
		}
		return fmt.Errorf("failed to query cursor: %w", result.Error)
	}

	if block > cursor.LastBlock {
		cursor.LastBlock = block
		if err := cs.database.Client().Save(&cursor).Error; err != nil {
			return fmt.Errorf("failed to update cursor: %w", err)
		}
	}
	return nil
}

// ResetCursor sets the cursor to block, even backwards. Operator use only.
func (cs *ChainStore) ResetCursor(direction Direction, chainID uint64, block uint64) error {
	if cs.database == nil {
		return fmt.Errorf("database is nil")
	}

	cursor := store.ChainCursor{
		Direction: string(direction),
		ChainID:   chainID,
		LastBlock: block,
	}
	err := cs.database.Client().Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "direction"}, {Name: "chain_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_block", "updated_at"}),
	}).Create(&cursor).Error
	if err != nil {
		return fmt.Errorf("failed to reset cursor: %w", err)
	}
	return nil
}

// ListCursors returns every stored cursor ordered by direction.
func (cs *ChainStore) ListCursors() ([]store.ChainCursor, error) {
	if cs.database == nil {
		return nil, fmt.Errorf("database is nil")
	}

	var cursors []store.ChainCursor
	if err := cs.database.Client().Order("direction ASC").Find(&cursors).Error; err != nil {
		return nil, fmt.Errorf("failed to list cursors: %w", err)
	}
	return cursors, nil
}

// GetVoteRecord returns the record for txID, or nil if none exists.
func (cs *ChainStore) GetVoteRecord(txID string) (*store.VoteRecord, error) {
	if cs.database == nil {
		return nil, fmt.Errorf("database is nil")
	}

	var record store.VoteRecord
	result := cs.database.Client().Where("tx_id = ?", txID).First(&record)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get vote record: %w", result.Error)
	}
	return &record, nil
}

// UpsertVoteRecord stores the latest known state of a transaction id.
// Voted and Processed never go back to false once set.
func (cs *ChainStore) UpsertVoteRecord(record *store.VoteRecord) error {
	if cs.database == nil {
		return fmt.Errorf("database is nil")
	}

	existing, err := cs.GetVoteRecord(record.TxID)
	if err != nil {
		return err
	}
	if existing == nil {
		if err := cs.database.Client().Create(record).Error; err != nil {
			return fmt.Errorf("failed to create vote record: %w", err)
		}
		return nil
	}

	existing.Voted = existing.Voted || record.Voted
	existing.Processed = existing.Processed || record.Processed
	if record.VoteTxHash != "" {
		existing.VoteTxHash = record.VoteTxHash
	}
	if record.Direction != "" {
		existing.Direction = record.Direction
	}
	if record.SourceTxHash != "" {
		existing.SourceTxHash = record.SourceTxHash
		existing.LogIndex = record.LogIndex
		existing.BlockNumber = record.BlockNumber
	}
	if existing.Voted || existing.Processed {
		existing.LastError = ""
	}
	if err := cs.database.Client().Save(existing).Error; err != nil {
		return fmt.Errorf("failed to update vote record: %w", err)
	}
	*record = *existing
	return nil
}

// RecordVoteFailure increments the failed attempts of record.TxID and keeps the error text.
func (cs *ChainStore) RecordVoteFailure(record *store.VoteRecord, cause error) error {
	if cs.database == nil {
		return fmt.Errorf("database is nil")
	}

	existing, err := cs.GetVoteRecord(record.TxID)
	if err != nil {
		return err
	}
	if existing == nil {
		existing = record
	}
	existing.FailedAttempts++
	if cause != nil {
		existing.LastError = cause.Error()
	}
	if err := cs.database.Client().Save(existing).Error; err != nil {
		return fmt.Errorf("failed to record vote failure: %w", err)
	}
	return nil
}

// ListFailingVotes returns records whose last submission failed and that are not yet resolved.
func (cs *ChainStore) ListFailingVotes(limit int) ([]store.VoteRecord, error) {
	if cs.database == nil {
		return nil, fmt.Errorf("database is nil")
	}

	var records []store.VoteRecord
	if err := cs.database.Client().
		Where("failed_attempts > 0 AND voted = ? AND processed = ?", false, false).
		Order("failed_attempts DESC").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to query failing votes: %w", err)
	}
	return records, nil
}

// UpsertHeartbeat keeps the newest heartbeat seen per (chain, sender).
func (cs *ChainStore) UpsertHeartbeat(record *store.HeartbeatRecord) error {
	if cs.database == nil {
		return fmt.Errorf("database is nil")
	}

	err := cs.database.Client().Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "chain_id"}, {Name: "sender"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"block_number", "tx_hash", "federator_version",
			"main_chain_block", "side_chain_block",
			"main_node_info", "side_node_info", "updated_at",
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "heartbeat_records.block_number <= excluded.block_number"},
		}},
	}).Create(record).Error
	if err != nil {
		return fmt.Errorf("failed to upsert heartbeat: %w", err)
	}
	return nil
}

// ListHeartbeats returns the stored heartbeats of a chain.
func (cs *ChainStore) ListHeartbeats(chainID uint64) ([]store.HeartbeatRecord, error) {
	if cs.database == nil {
		return nil, fmt.Errorf("database is nil")
	}

	var records []store.HeartbeatRecord
	if err := cs.database.Client().
		Where("chain_id = ?", chainID).
		Order("sender ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list heartbeats: %w", err)
	}
	return records, nil
}
