package core

import (
	"context"
	"sync"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tokenbridge/federator/federator/chains/common"
	"github.com/tokenbridge/federator/federator/contracts"
	fedErrors "github.com/tokenbridge/federator/federator/errors"
	"github.com/tokenbridge/federator/federator/store"
	"github.com/tokenbridge/federator/federator/telemetry"
)

// VoteHandler votes Cross events on the destination federation.
//
// The on-chain reads decide everything. The VoteRecord rows are a cache for
// operators and are never used to skip transactionWasProcessed or hasVoted.
type VoteHandler struct {
	direction  common.Direction
	chain      string
	federation contracts.Federation
	self       ethcommon.Address
	store      *common.ChainStore
	log        zerolog.Logger

	mu    sync.Mutex
	voted map[ethcommon.Hash]struct{} // votes mined during this process lifetime
}

// NewVoteHandler creates a vote handler voting as self on federation.
func NewVoteHandler(
	direction common.Direction,
	chain string,
	federation contracts.Federation,
	self ethcommon.Address,
	store *common.ChainStore,
	log zerolog.Logger,
) *VoteHandler {
	return &VoteHandler{
		direction:  direction,
		chain:      chain,
		federation: federation,
		self:       self,
		store:      store,
		log: log.With().
			Str("component", "vote_handler").
			Str("direction", direction.String()).
			Logger(),
		voted: make(map[ethcommon.Hash]struct{}),
	}
}

// Process runs the vote state machine for one ready event:
// transaction id, processed check, own vote check, vote, receipt.
// An error means the event is not handled and must be seen again.
func (vh *VoteHandler) Process(ctx context.Context, ev *common.CrossTransferEvent) (outcome common.VoteOutcome, err error) {
	ctx, span := telemetry.StartSpan(ctx, "federator.vote",
		trace.WithAttributes(
			attribute.String("direction", vh.direction.String()),
			attribute.String("source_tx_hash", ev.TransactionHash.Hex()),
			attribute.Int64("log_index", int64(ev.LogIndex)),
		))
	defer func() {
		span.SetAttributes(attribute.String("outcome", string(outcome)))
		telemetry.EndSpan(span, err)
	}()

	logger := vh.log.With().
		Str("source_tx_hash", ev.TransactionHash.Hex()).
		Uint("log_index", ev.LogIndex).
		Uint64("block", ev.BlockNumber).
		Logger()

	txID, err := vh.federation.GetTransactionID(ctx, ev)
	if err != nil {
		return "", fedErrors.Wrap(err, "failed to get transaction id")
	}
	logger = logger.With().Str("tx_id", txID.Hex()).Logger()
	record := vh.newRecord(txID, ev)

	processed, err := vh.federation.TransactionWasProcessed(ctx, txID)
	if err != nil {
		return "", fedErrors.Wrap(err, "failed to check transactionWasProcessed")
	}
	if processed {
		record.Processed = true
		vh.cache(logger, record)
		logger.Debug().Msg("transaction already processed")
		return common.OutcomeAlreadyProcessed, nil
	}

	if vh.votedThisRun(txID) {
		logger.Debug().Msg("vote already mined in this run")
		return common.OutcomeSkipped, nil
	}

	hasVoted, err := vh.federation.HasVoted(ctx, txID, vh.self)
	if err != nil {
		return "", fedErrors.Wrap(err, "failed to check hasVoted")
	}
	if hasVoted {
		record.Voted = true
		vh.cache(logger, record)
		logger.Debug().Msg("transaction already voted by this federator")
		return common.OutcomeSkipped, nil
	}

	logger.Info().
		Str("token", ev.OriginalTokenAddress.Hex()).
		Str("receiver", ev.Receiver.Hex()).
		Str("amount", ev.HumanAmount().String()).
		Str("symbol", ev.Symbol).
		Msg("voting transaction")

	receipt, err := vh.federation.VoteTransaction(ctx, ev)
	if err == nil {
		switch {
		case receipt == nil:
			err = fedErrors.NewTransactionError(vh.chain, "vote returned no receipt", nil)
		case receipt.Status != types.ReceiptStatusSuccessful:
			err = fedErrors.NewTransactionError(vh.chain, "vote transaction reverted", nil).
				WithContext("vote_tx_hash", receipt.TxHash.Hex())
		}
	}
	if err != nil {
		if dbErr := vh.store.RecordVoteFailure(record, err); dbErr != nil {
			logger.Warn().Err(dbErr).Msg("failed to record vote failure")
		}
		logger.Error().Err(err).Msg("vote failed, event will be retried")
		return "", fedErrors.Wrap(err, "failed to vote transaction")
	}

	vh.mu.Lock()
	vh.voted[txID] = struct{}{}
	vh.mu.Unlock()

	record.Voted = true
	record.VoteTxHash = receipt.TxHash.Hex()
	vh.cache(logger, record)

	logger.Info().
		Str("vote_tx_hash", receipt.TxHash.Hex()).
		Uint64("gas_used", receipt.GasUsed).
		Msg("transaction voted")
	return common.OutcomeVoted, nil
}

func (vh *VoteHandler) newRecord(txID ethcommon.Hash, ev *common.CrossTransferEvent) *store.VoteRecord {
	return &store.VoteRecord{
		TxID:         txID.Hex(),
		Direction:    vh.direction.String(),
		SourceTxHash: ev.TransactionHash.Hex(),
		LogIndex:     ev.LogIndex,
		BlockNumber:  ev.BlockNumber,
	}
}

func (vh *VoteHandler) votedThisRun(txID ethcommon.Hash) bool {
	vh.mu.Lock()
	defer vh.mu.Unlock()
	_, ok := vh.voted[txID]
	return ok
}

// cache writes record to the store. Failures only cost operator visibility.
func (vh *VoteHandler) cache(logger zerolog.Logger, record *store.VoteRecord) {
	if err := vh.store.UpsertVoteRecord(record); err != nil {
		logger.Warn().Err(err).Msg("failed to update vote record")
	}
}
