package core

import (
	"context"
	"crypto/ecdsa"
	"fmt"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/tokenbridge/federator/federator/chains/common"
	"github.com/tokenbridge/federator/federator/chains/evm"
	"github.com/tokenbridge/federator/federator/config"
	"github.com/tokenbridge/federator/federator/constant"
	"github.com/tokenbridge/federator/federator/contracts"
	"github.com/tokenbridge/federator/federator/db"
	fedErrors "github.com/tokenbridge/federator/federator/errors"
	"github.com/tokenbridge/federator/federator/metrics"
	"github.com/tokenbridge/federator/federator/telemetry"
)

// chainSide is everything bound to one chain.
type chainSide struct {
	cfg        *config.ChainConfig
	client     *evm.RPCClient
	sender     *evm.TxSender
	bridge     contracts.Bridge
	federation contracts.Federation
}

// Client owns the chain connections and the engine of a federator process.
// It is built once at startup; nothing in here is a package level singleton.
type Client struct {
	cfg     *config.Config
	store   *common.ChainStore
	metrics *metrics.Metrics
	log     zerolog.Logger

	main chainSide
	side chainSide

	runners   []*DirectionRunner
	heartbeat *HeartbeatEmitter
}

// NewClient connects to both chains, detects the contract versions and wires
// the directions and the heartbeat emitter.
func NewClient(
	ctx context.Context,
	cfg *config.Config,
	key *ecdsa.PrivateKey,
	database *db.DB,
	m *metrics.Metrics,
	log zerolog.Logger,
) (*Client, error) {
	if key == nil {
		return nil, fedErrors.NewConfigError("", "signing key is required")
	}

	c := &Client{
		cfg:     cfg,
		store:   common.NewChainStore(database),
		metrics: m,
		log:     log.With().Str("component", "federator").Logger(),
	}

	retry := common.NewRetryManager(&common.RetryConfig{
		MaxRetries:    cfg.MaxRetries,
		InitialDelay:  cfg.RetryBackoff(),
		MaxDelay:      30 * cfg.RetryBackoff(),
		BackoffFactor: 2.0,
	}, log)
	factory := contracts.NewFactory(retry, cfg.StrictVersionDetection, m.IncVersionFallback, log)

	var err error
	c.main, err = c.bindChain(ctx, cfg.MainChain, key, factory, retry)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.side, err = c.bindChain(ctx, cfg.SideChain, key, factory, retry)
	if err != nil {
		c.Close()
		return nil, err
	}

	self := c.main.sender.Address()
	c.runners = []*DirectionRunner{
		c.newRunner(common.DirectionMainToSide, c.main, c.side, self, retry),
		c.newRunner(common.DirectionSideToMain, c.side, c.main, self, retry),
	}
	c.heartbeat = NewHeartbeatEmitter(
		c.main.heartbeatSide(),
		c.side.heartbeatSide(),
		constant.FederatorVersion,
		c.store,
		retry,
		m,
		log,
	)

	c.log.Info().
		Str("account", self.Hex()).
		Str("main_bridge", c.main.bridge.Version()).
		Str("main_federation", c.main.federation.Version()).
		Str("side_bridge", c.side.bridge.Version()).
		Str("side_federation", c.side.federation.Version()).
		Msg("federator initialized")
	return c, nil
}

func (c *Client) bindChain(
	ctx context.Context,
	chainCfg *config.ChainConfig,
	key *ecdsa.PrivateKey,
	factory *contracts.Factory,
	retry *common.RetryManager,
) (chainSide, error) {
	side := chainSide{cfg: chainCfg}

	client, err := evm.NewRPCClient(ctx, chainCfg.Name, chainCfg.RPCURLs, chainCfg.ChainID, c.log)
	if err != nil {
		return side, err
	}
	side.client = client

	side.sender, err = evm.NewTxSender(client, key, c.cfg.ReceiptTimeout(), chainCfg.BlockTime()/2, c.log)
	if err != nil {
		return side, err
	}

	side.bridge, err = factory.NewBridge(ctx, client, ethcommon.HexToAddress(chainCfg.Bridge))
	if err != nil {
		return side, fmt.Errorf("failed to bind %s bridge: %w", chainCfg.Name, err)
	}

	federationAddr := ethcommon.HexToAddress(chainCfg.Federation)
	if chainCfg.Federation == "" {
		federationAddr, err = side.bridge.GetFederation(ctx)
		if err != nil {
			return side, fmt.Errorf("failed to resolve %s federation from bridge: %w", chainCfg.Name, err)
		}
	}
	side.federation, err = factory.NewFederation(ctx, client, side.sender, federationAddr, chainCfg.FederationVersion)
	if err != nil {
		return side, fmt.Errorf("failed to bind %s federation: %w", chainCfg.Name, err)
	}
	return side, nil
}

// confirmations is the configured tier override, nil to use the bridge tiers.
func (s chainSide) confirmations() *common.Confirmations {
	conf := s.cfg.Confirmations
	if conf == nil {
		return nil
	}
	return &common.Confirmations{Small: conf.Small, Medium: conf.Medium, Large: conf.Large}
}

func (s chainSide) heartbeatSide() HeartbeatSide {
	return HeartbeatSide{
		Client:        s.client,
		Federation:    s.federation,
		FromBlock:     s.cfg.FromBlock,
		Bridge:        s.bridge,
		Confirmations: s.confirmations(),
	}
}

func (c *Client) newRunner(direction common.Direction, source, destination chainSide, self ethcommon.Address, retry *common.RetryManager) *DirectionRunner {
	watcher := NewWatcher(WatcherConfig{
		Direction:     direction,
		FromBlock:     source.cfg.FromBlock,
		Confirmations: source.confirmations(),
	}, source.client, source.bridge, c.store, retry, c.log)
	voter := NewVoteHandler(direction, destination.client.Name(), destination.federation, self, c.store, c.log)
	return NewDirectionRunner(direction, source.client, destination.client, watcher, voter,
		destination.federation, self, c.store, retry, c.metrics, c.log)
}

// RunCycle runs main to side, then side to main. A failing direction does not
// stop the other one. Cancellation is honored between directions.
func (c *Client) RunCycle(ctx context.Context) error {
	return runDirections(ctx, c.runners, c.log)
}

func runDirections(ctx context.Context, runners []*DirectionRunner, log zerolog.Logger) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "federator.cycle")
	defer func() { telemetry.EndSpan(span, err) }()

	errs := fedErrors.NewErrorGroup()
	for _, runner := range runners {
		if ctx.Err() != nil {
			log.Info().Str("direction", runner.Direction().String()).Msg("stop requested, skipping direction")
			break
		}
		if _, runErr := runner.Run(ctx); runErr != nil {
			log.Error().
				Err(runErr).
				Str("direction", runner.Direction().String()).
				Str("severity", string(fedErrors.GetSeverity(runErr))).
				Msg("direction failed")
			errs.Add(fmt.Errorf("%s: %w", runner.Direction(), runErr))
		}
	}
	return errs.ErrOrNil()
}

// RunHeartbeat emits a heartbeat on both chains and then reads the heartbeat logs.
func (c *Client) RunHeartbeat(ctx context.Context) error {
	errs := fedErrors.NewErrorGroup()
	if _, err := c.heartbeat.Emit(ctx); err != nil {
		errs.Add(err)
	}
	if ctx.Err() == nil {
		if _, err := c.heartbeat.ReadLogs(ctx); err != nil {
			errs.Add(err)
		}
	}
	return errs.ErrOrNil()
}

// IsHealthy reports whether both chains answer.
func (c *Client) IsHealthy(ctx context.Context) bool {
	return c.main.client.IsHealthy(ctx) && c.side.client.IsHealthy(ctx)
}

// Store returns the cursor and vote store.
func (c *Client) Store() *common.ChainStore {
	return c.store
}

// Close releases the RPC connections.
func (c *Client) Close() {
	if c.main.client != nil {
		c.main.client.Close()
	}
	if c.side.client != nil {
		c.side.client.Close()
	}
}
