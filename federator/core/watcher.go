package core

import (
	"context"
	"fmt"
	"sort"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/tokenbridge/federator/federator/chains/common"
	"github.com/tokenbridge/federator/federator/contracts"
	fedErrors "github.com/tokenbridge/federator/federator/errors"
)

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	Direction common.Direction
	// FromBlock is the first block scanned when no cursor is stored.
	FromBlock uint64
	PageSize  uint64
	// Confirmations replaces the tiers reported by the bridge when set.
	Confirmations *common.Confirmations
}

// ScanResult is what one Scan found.
type ScanResult struct {
	// Events are ready to act on, ordered by (BlockNumber, LogIndex).
	Events []common.CrossTransferEvent
	// Pending counts events seen but not yet deep enough.
	Pending int
	// Disallowed counts events of tokens the bridge no longer allows.
	// They hold the cursor like pending events.
	Disallowed int

	CurrentHeight uint64
	FromBlock     uint64
	ToBlock       uint64
	// Scanned is false when there was no new block range to look at.
	Scanned bool
	// SafeBlock is the highest block whose events are all in Events.
	// Only meaningful when Scanned is true.
	SafeBlock uint64
}

// Watcher finds Cross events on the source bridge that are deep enough to vote.
// It never writes the cursor: the caller saves it once the events are handled.
type Watcher struct {
	cfg    WatcherConfig
	source ChainClient
	bridge contracts.Bridge
	store  *common.ChainStore
	retry  *common.RetryManager
	logger zerolog.Logger
}

// NewWatcher creates a watcher of bridge on source.
func NewWatcher(
	cfg WatcherConfig,
	source ChainClient,
	bridge contracts.Bridge,
	store *common.ChainStore,
	retry *common.RetryManager,
	logger zerolog.Logger,
) *Watcher {
	if cfg.PageSize == 0 {
		cfg.PageSize = DefaultPageSize
	}
	return &Watcher{
		cfg:    cfg,
		source: source,
		bridge: bridge,
		store:  store,
		retry:  retry,
		logger: logger.With().
			Str("component", "chain_watcher").
			Str("direction", cfg.Direction.String()).
			Str("source", source.Name()).
			Logger(),
	}
}

// Scan reads the events between the stored cursor and the current height
// minus the smallest confirmation tier.
func (w *Watcher) Scan(ctx context.Context) (*ScanResult, error) {
	start, err := w.startBlock()
	if err != nil {
		return nil, err
	}

	current, err := common.Do(ctx, w.retry, "latest_block", func() (uint64, error) {
		return w.source.LatestBlock(ctx)
	})
	if err != nil {
		return nil, err
	}

	tiers, err := w.confirmations(ctx)
	if err != nil {
		return nil, err
	}

	result := &ScanResult{CurrentHeight: current, FromBlock: start}
	minConf := tiers.Min()
	if current < minConf || current-minConf < start {
		w.logger.Debug().
			Uint64("current_height", current).
			Uint64("from_block", start).
			Uint64("min_confirmations", minConf).
			Msg("no new confirmed blocks")
		return result, nil
	}
	toBlock := current - minConf
	result.ToBlock = toBlock
	result.Scanned = true

	var events []common.CrossTransferEvent
	for _, page := range pages(start, toBlock, w.cfg.PageSize) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		found, err := w.bridge.GetCrossEvents(ctx, page.from, page.to)
		if err != nil {
			return nil, fedErrors.Wrapf(err, "failed to get Cross events in [%d, %d]", page.from, page.to)
		}
		events = append(events, found...)
	}
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].BlockNumber != events[j].BlockNumber {
			return events[i].BlockNumber < events[j].BlockNumber
		}
		return events[i].LogIndex < events[j].LogIndex
	})

	limits := make(map[ethcommon.Address]common.TokenLimits)
	firstHeld := uint64(0)
	hasHeld := false
	hold := func(block uint64) {
		if !hasHeld || block < firstHeld {
			firstHeld = block
			hasHeld = true
		}
	}
	for i := range events {
		ev := events[i]
		tokenLimits, ok := limits[ev.OriginalTokenAddress]
		if !ok {
			tokenLimits, err = w.bridge.GetLimits(ctx, ev.OriginalTokenAddress)
			if err != nil {
				return nil, fedErrors.Wrapf(err, "failed to get limits of token %s", ev.OriginalTokenAddress.Hex())
			}
			limits[ev.OriginalTokenAddress] = tokenLimits
		}
		if !tokenLimits.Allowed {
			w.logger.Warn().
				Str("tx_hash", ev.TransactionHash.Hex()).
				Uint("log_index", ev.LogIndex).
				Uint64("block", ev.BlockNumber).
				Str("token", ev.OriginalTokenAddress.Hex()).
				Msg("token not allowed, holding event")
			hold(ev.BlockNumber)
			result.Disallowed++
			continue
		}

		required := common.RequiredConfirmations(common.ConfirmationTier{
			Confirmations: tiers,
			Limits:        tokenLimits,
		}, ev.Amount)
		depth := current - ev.BlockNumber
		if depth < required {
			w.logger.Info().
				Str("tx_hash", ev.TransactionHash.Hex()).
				Uint("log_index", ev.LogIndex).
				Uint64("block", ev.BlockNumber).
				Str("amount", ev.HumanAmount().String()).
				Uint64("confirmations", depth).
				Uint64("required", required).
				Msg("event not confirmed yet")
			hold(ev.BlockNumber)
			result.Pending++
			continue
		}
		result.Events = append(result.Events, ev)
	}

	result.SafeBlock = toBlock
	if hasHeld {
		if firstHeld == 0 {
			result.Scanned = false
		} else if firstHeld-1 < result.SafeBlock {
			result.SafeBlock = firstHeld - 1
		}
	}

	w.logger.Debug().
		Uint64("from_block", start).
		Uint64("to_block", toBlock).
		Uint64("current_height", current).
		Int("ready", len(result.Events)).
		Int("pending", result.Pending).
		Int("disallowed", result.Disallowed).
		Uint64("safe_block", result.SafeBlock).
		Msg("scan complete")

	return result, nil
}

func (w *Watcher) startBlock() (uint64, error) {
	cursor, found, err := w.store.GetCursor(w.cfg.Direction, w.source.ChainID())
	if err != nil {
		return 0, fedErrors.NewDatabaseError(w.source.Name(), "failed to read cursor", err)
	}
	if !found {
		return w.cfg.FromBlock, nil
	}
	return cursor + 1, nil
}

func (w *Watcher) confirmations(ctx context.Context) (common.Confirmations, error) {
	return confirmationTiers(ctx, w.cfg.Confirmations, w.bridge)
}

// confirmationTiers returns override when set, else the tiers of bridge.
// Without either there is no depth requirement.
func confirmationTiers(ctx context.Context, override *common.Confirmations, bridge contracts.Bridge) (common.Confirmations, error) {
	if override != nil {
		return *override, nil
	}
	if bridge == nil {
		return common.Confirmations{}, nil
	}
	tiers, err := bridge.GetConfirmations(ctx)
	if err != nil {
		return common.Confirmations{}, fmt.Errorf("failed to get confirmation tiers: %w", err)
	}
	return tiers, nil
}
