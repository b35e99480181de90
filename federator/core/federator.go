package core

import (
	"context"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tokenbridge/federator/federator/chains/common"
	"github.com/tokenbridge/federator/federator/contracts"
	"github.com/tokenbridge/federator/federator/cron"
	fedErrors "github.com/tokenbridge/federator/federator/errors"
	"github.com/tokenbridge/federator/federator/metrics"
	"github.com/tokenbridge/federator/federator/telemetry"
)

const (
	outcomeFailed = "failed"
	// The destination chain refused the vote transaction.
	outcomeRejected = "rejected"
)

// CycleReport summarizes one run of a direction.
type CycleReport struct {
	Direction        common.Direction
	Skipped          bool // a node was syncing
	Processed        int
	Voted            int
	SkippedVotes     int
	AlreadyProcessed int
	Failed           int
	// FailedEvents holds the source keys of the events that failed.
	FailedEvents []string
	Pending      int
	Disallowed   int
	Stopped      bool // cancellation arrived between events
	CursorSaved  bool
	Cursor       uint64
	// SafeBlock is the watermark reached by this run, saved or not.
	SafeBlock uint64
}

// DirectionRunner moves transfers one way: it scans the source bridge and
// votes on the destination federation, then advances the cursor.
type DirectionRunner struct {
	direction   common.Direction
	source      ChainClient
	destination ChainClient
	watcher     *Watcher
	voter       *VoteHandler
	federation  contracts.Federation
	self        ethcommon.Address
	store       *common.ChainStore
	retry       *common.RetryManager
	metrics     *metrics.Metrics
	log         zerolog.Logger
}

// NewDirectionRunner wires a direction from its parts.
func NewDirectionRunner(
	direction common.Direction,
	source, destination ChainClient,
	watcher *Watcher,
	voter *VoteHandler,
	federation contracts.Federation,
	self ethcommon.Address,
	store *common.ChainStore,
	retry *common.RetryManager,
	m *metrics.Metrics,
	log zerolog.Logger,
) *DirectionRunner {
	return &DirectionRunner{
		direction:   direction,
		source:      source,
		destination: destination,
		watcher:     watcher,
		voter:       voter,
		federation:  federation,
		self:        self,
		store:       store,
		retry:       retry,
		metrics:     m,
		log: log.With().
			Str("component", "direction_runner").
			Str("direction", direction.String()).
			Str("source", source.Name()).
			Str("destination", destination.Name()).
			Logger(),
	}
}

// Direction returns the direction this runner handles.
func (r *DirectionRunner) Direction() common.Direction {
	return r.direction
}

// Run performs one pass. Events are handled in order; the cursor is saved
// only up to the block before the first event that was not handled.
func (r *DirectionRunner) Run(ctx context.Context) (report *CycleReport, err error) {
	started := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "federator.direction",
		trace.WithAttributes(attribute.String("direction", r.direction.String())))
	defer func() {
		telemetry.EndSpan(span, err)
		if report != nil && report.Skipped {
			r.metrics.RecordSkippedCycle(r.direction.String())
			return
		}
		r.metrics.RecordCycle(r.direction.String(), err, time.Since(started).Seconds())
	}()

	report = &CycleReport{Direction: r.direction}
	log := r.log
	if id := cron.CycleID(ctx); id != "" {
		log = log.With().Str("cycle_id", id).Logger()
	}

	syncing, err := r.anySyncing(ctx)
	if err != nil {
		return report, err
	}
	if syncing {
		log.Warn().Msg("node is syncing, skipping run")
		report.Skipped = true
		return report, nil
	}

	isMember, err := r.federation.IsMember(ctx, r.self)
	if err != nil {
		return report, fedErrors.Wrap(err, "failed to check federation membership")
	}
	if !isMember {
		return report, fedErrors.NewTransactionError(r.destination.Name(),
			"federator account is not a member of the federation", nil).
			WithContext("account", r.self.Hex()).
			WithContext("federation", r.federation.Address().Hex())
	}

	scan, err := r.watcher.Scan(ctx)
	if err != nil {
		return report, err
	}
	report.Pending = scan.Pending
	report.Disallowed = scan.Disallowed

	errs := fedErrors.NewErrorGroup()
	safe := scan.SafeBlock
	held := false
	holdAt := func(block uint64) {
		if block == 0 {
			held = true
			return
		}
		if block-1 < safe {
			safe = block - 1
		}
	}

	for i := range scan.Events {
		ev := &scan.Events[i]
		if ctx.Err() != nil {
			report.Stopped = true
			holdAt(ev.BlockNumber)
			break
		}

		outcome, voteErr := r.voter.Process(ctx, ev)
		report.Processed++
		if voteErr != nil {
			report.Failed++
			report.FailedEvents = append(report.FailedEvents, ev.Key())
			if fedErrors.IsChainError(voteErr, fedErrors.ErrCodeTransaction) {
				r.metrics.RecordEvent(r.direction.String(), outcomeRejected)
			} else {
				r.metrics.RecordEvent(r.direction.String(), outcomeFailed)
			}
			errs.Add(voteErr)
			holdAt(ev.BlockNumber)

			if fedErrors.IsRetryable(voteErr) || fedErrors.IsFatal(voteErr) || ctx.Err() != nil {
				// Later events would fail the same way.
				break
			}
			continue
		}

		r.metrics.RecordEvent(r.direction.String(), string(outcome))
		switch outcome {
		case common.OutcomeVoted:
			report.Voted++
		case common.OutcomeSkipped:
			report.SkippedVotes++
		case common.OutcomeAlreadyProcessed:
			report.AlreadyProcessed++
		}
	}

	if scan.Scanned && !held {
		report.SafeBlock = safe
		if safe >= scan.FromBlock {
			if saveErr := r.store.SaveCursor(r.direction, r.source.ChainID(), safe); saveErr != nil {
				errs.Add(fedErrors.NewDatabaseError(r.source.Name(), "failed to save cursor", saveErr))
			} else {
				report.CursorSaved = true
				report.Cursor = safe
				r.metrics.SetCursor(r.direction.String(), r.source.ChainID(), safe)
			}
		}
	}

	log.Info().
		Int("processed", report.Processed).
		Int("voted", report.Voted).
		Int("skipped", report.SkippedVotes).
		Int("already_processed", report.AlreadyProcessed).
		Int("failed", report.Failed).
		Strs("failed_events", report.FailedEvents).
		Int("pending", report.Pending).
		Int("disallowed", report.Disallowed).
		Bool("stopped", report.Stopped).
		Bool("cursor_saved", report.CursorSaved).
		Uint64("safe_block", report.SafeBlock).
		Msg("direction run finished")

	return report, errs.ErrOrNil()
}

func (r *DirectionRunner) anySyncing(ctx context.Context) (bool, error) {
	for _, client := range []ChainClient{r.source, r.destination} {
		syncing, err := common.Do(ctx, r.retry, "is_syncing", func() (bool, error) {
			return client.IsSyncing(ctx)
		})
		if err != nil {
			return false, fedErrors.Wrapf(err, "failed to read sync status of %s", client.Name())
		}
		if syncing {
			return true, nil
		}
	}
	return false, nil
}
