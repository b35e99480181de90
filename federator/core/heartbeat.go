package core

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/tokenbridge/federator/federator/chains/common"
	"github.com/tokenbridge/federator/federator/contracts"
	fedErrors "github.com/tokenbridge/federator/federator/errors"
	"github.com/tokenbridge/federator/federator/metrics"
	"github.com/tokenbridge/federator/federator/store"
	"github.com/tokenbridge/federator/federator/telemetry"
)

// HeartbeatSide is one chain taking part in heartbeats.
type HeartbeatSide struct {
	Client     ChainClient
	Federation contracts.Federation
	// FromBlock is where the HeartBeat log reader starts without a cursor.
	FromBlock uint64
	// Bridge gives the confirmation tiers of the chain. Logs are read only
	// up to the smallest tier below the head. Confirmations replaces them.
	Bridge        contracts.Bridge
	Confirmations *common.Confirmations
}

// HeartbeatResult tells, per chain, whether a heartbeat was sent.
type HeartbeatResult struct {
	MainEmitted bool
	SideEmitted bool
	MainInfo    common.NodeInfo
	SideInfo    common.NodeInfo
}

// HeartbeatEmitter publishes federator liveness on both federations and
// collects the heartbeats of the other federators.
type HeartbeatEmitter struct {
	main     HeartbeatSide
	side     HeartbeatSide
	version  string
	store    *common.ChainStore
	retry    *common.RetryManager
	pageSize uint64
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

// NewHeartbeatEmitter creates an emitter reporting federatorVersion.
func NewHeartbeatEmitter(
	main, side HeartbeatSide,
	federatorVersion string,
	store *common.ChainStore,
	retry *common.RetryManager,
	m *metrics.Metrics,
	log zerolog.Logger,
) *HeartbeatEmitter {
	return &HeartbeatEmitter{
		main:     main,
		side:     side,
		version:  federatorVersion,
		store:    store,
		retry:    retry,
		pageSize: DefaultPageSize,
		metrics:  m,
		log:      log.With().Str("component", "heartbeat").Logger(),
	}
}

// Emit sends a heartbeat to both federations. A federation version without
// heartbeat support is skipped and is not an error.
func (h *HeartbeatEmitter) Emit(ctx context.Context) (result HeartbeatResult, err error) {
	ctx, span := telemetry.StartSpan(ctx, "federator.heartbeat")
	defer func() { telemetry.EndSpan(span, err) }()

	result.MainInfo, err = h.nodeInfo(ctx, h.main.Client)
	if err != nil {
		return result, err
	}
	result.SideInfo, err = h.nodeInfo(ctx, h.side.Client)
	if err != nil {
		return result, err
	}

	info := contracts.HeartbeatInfo{
		MainChainBlock:   result.MainInfo.BlockNumber,
		SideChainBlock:   result.SideInfo.BlockNumber,
		FederatorVersion: h.version,
		MainNodeInfo:     result.MainInfo.String(),
		SideNodeInfo:     result.SideInfo.String(),
	}

	errs := fedErrors.NewErrorGroup()
	var emitErr error
	result.MainEmitted, emitErr = h.emitOn(ctx, h.main, info)
	errs.Add(emitErr)
	if ctx.Err() == nil {
		result.SideEmitted, emitErr = h.emitOn(ctx, h.side, info)
		errs.Add(emitErr)
	}
	return result, errs.ErrOrNil()
}

func (h *HeartbeatEmitter) emitOn(ctx context.Context, side HeartbeatSide, info contracts.HeartbeatInfo) (bool, error) {
	chain := side.Client.Name()
	logger := h.log.With().
		Str("chain", chain).
		Str("federation_version", side.Federation.Version()).
		Logger()

	if !side.Federation.SupportsHeartbeat() {
		logger.Debug().Msg("federation has no heartbeat, skipping")
		h.metrics.RecordHeartbeat(chain, metrics.ResultSkipped)
		return false, nil
	}

	emitted, err := side.Federation.EmitHeartbeat(ctx, info)
	if err != nil {
		logger.Error().Err(err).Msg("heartbeat failed, will retry next interval")
		h.metrics.RecordHeartbeat(chain, metrics.ResultError)
		return false, fedErrors.Wrapf(err, "failed to emit heartbeat on %s", chain)
	}

	result := metrics.ResultSuccess
	if !emitted {
		result = metrics.ResultSkipped
	}
	h.metrics.RecordHeartbeat(chain, result)
	logger.Info().
		Uint64("main_block", info.MainChainBlock).
		Uint64("side_block", info.SideChainBlock).
		Bool("emitted", emitted).
		Msg("heartbeat sent")
	return emitted, nil
}

func (h *HeartbeatEmitter) nodeInfo(ctx context.Context, client ChainClient) (common.NodeInfo, error) {
	info, err := common.Do(ctx, h.retry, "node_info", func() (common.NodeInfo, error) {
		return client.NodeInfo(ctx)
	})
	if err != nil {
		return info, fedErrors.Wrapf(err, "failed to read node info of %s", client.Name())
	}
	return info, nil
}

// ReadLogs stores the HeartBeat events of both federations since the last
// read and returns how many were seen.
func (h *HeartbeatEmitter) ReadLogs(ctx context.Context) (int, error) {
	errs := fedErrors.NewErrorGroup()
	total := 0
	for _, side := range []HeartbeatSide{h.main, h.side} {
		if ctx.Err() != nil {
			break
		}
		n, err := h.readLogs(ctx, side)
		total += n
		errs.Add(err)
	}
	return total, errs.ErrOrNil()
}

func (h *HeartbeatEmitter) readLogs(ctx context.Context, side HeartbeatSide) (int, error) {
	if !side.Federation.SupportsHeartbeat() {
		return 0, nil
	}
	chain := side.Client.Name()
	chainID := side.Client.ChainID()

	cursor, found, err := h.store.GetCursor(common.DirectionHeartbeat, chainID)
	if err != nil {
		return 0, fedErrors.NewDatabaseError(chain, "failed to read heartbeat cursor", err)
	}
	start := side.FromBlock
	if found {
		start = cursor + 1
	}

	latest, err := common.Do(ctx, h.retry, "latest_block", func() (uint64, error) {
		return side.Client.LatestBlock(ctx)
	})
	if err != nil {
		return 0, err
	}
	tiers, err := confirmationTiers(ctx, side.Confirmations, side.Bridge)
	if err != nil {
		return 0, fedErrors.Wrapf(err, "failed to read %s confirmations", chain)
	}
	depth := tiers.Min()
	if latest < depth || latest-depth < start {
		return 0, nil
	}
	toBlock := latest - depth

	seen := 0
	for _, page := range pages(start, toBlock, h.pageSize) {
		if ctx.Err() != nil {
			return seen, ctx.Err()
		}
		logs, err := side.Federation.GetPastEvents(ctx, contracts.EventHeartBeat, page.from, page.to)
		if err != nil {
			return seen, fedErrors.Wrapf(err, "failed to read HeartBeat events in [%d, %d]", page.from, page.to)
		}

		for i := range logs {
			if logs[i].Removed {
				continue
			}
			hb, err := contracts.ParseHeartbeat(chain, &logs[i])
			if err != nil {
				return seen, err
			}
			record := &store.HeartbeatRecord{
				ChainID:          chainID,
				Sender:           hb.Sender.Hex(),
				BlockNumber:      hb.BlockNumber,
				TxHash:           hb.TxHash.Hex(),
				FederatorVersion: hb.FederatorVersion,
				MainChainBlock:   hb.MainChainBlock,
				SideChainBlock:   hb.SideChainBlock,
				MainNodeInfo:     hb.MainNodeInfo,
				SideNodeInfo:     hb.SideNodeInfo,
			}
			if err := h.store.UpsertHeartbeat(record); err != nil {
				return seen, fedErrors.NewDatabaseError(chain, "failed to store heartbeat", err)
			}
			h.metrics.SetLastHeartbeat(chainID, record.Sender, hb.BlockNumber)
			seen++
		}

		if err := h.store.SaveCursor(common.DirectionHeartbeat, chainID, page.to); err != nil {
			return seen, fedErrors.NewDatabaseError(chain, "failed to save heartbeat cursor", err)
		}
	}

	h.log.Debug().
		Str("chain", chain).
		Uint64("from_block", start).
		Uint64("to_block", toBlock).
		Int("heartbeats", seen).
		Msg("heartbeat logs read")
	return seen, nil
}
