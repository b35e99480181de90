package contracts

import (
	"context"
	"errors"
	"fmt"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/tokenbridge/federator/federator/chains/common"
	fedErrors "github.com/tokenbridge/federator/federator/errors"
)

// FallbackRecorder is told every time a version could not be detected and the newest was assumed.
type FallbackRecorder func(chain, contract string)

// Factory detects contract versions once and returns the matching adapters.
//
// When version() reverts or returns garbage the newest known version is
// assumed. This is logged at WARN with version_fallback=true and reported
// to the FallbackRecorder. In strict mode it is a fatal VERSION error.
// Transient RPC failures are returned as they are.
type Factory struct {
	retry      *common.RetryManager
	strict     bool
	onFallback FallbackRecorder
	logger     zerolog.Logger
}

// NewFactory creates an adapter factory.
func NewFactory(retry *common.RetryManager, strict bool, onFallback FallbackRecorder, logger zerolog.Logger) *Factory {
	if onFallback == nil {
		onFallback = func(string, string) {}
	}
	return &Factory{
		retry:      retry,
		strict:     strict,
		onFallback: onFallback,
		logger:     logger.With().Str("component", "contract_factory").Logger(),
	}
}

// NewFederation binds the federation at address. A non-empty override skips detection.
func (f *Factory) NewFederation(
	ctx context.Context,
	reader ChainReader,
	sender TxSubmitter,
	address ethcommon.Address,
	override string,
) (Federation, error) {
	version := override
	if version == "" {
		var err error
		version, err = f.detectVersion(ctx, reader, newBoundContract(FederationV2ABI, address, reader, nil, f.retry), "federation", VersionV2)
		if err != nil {
			return nil, err
		}
	}

	f.logger.Info().
		Str("chain", reader.Name()).
		Str("address", address.Hex()).
		Str("version", version).
		Msg("federation contract bound")

	switch version {
	case VersionV1:
		return NewFederationV1(address, reader, sender, f.retry), nil
	case VersionV2:
		return NewFederationV2(address, reader, sender, f.retry), nil
	default:
		return nil, fedErrors.NewVersionError(reader.Name(), fmt.Sprintf("unknown federation contract version %q", version), nil)
	}
}

// NewBridge binds the bridge at address. Bridges without an allow-tokens
// contract, or with a v0 one, get the static confirmation table.
func (f *Factory) NewBridge(ctx context.Context, reader ChainReader, address ethcommon.Address) (Bridge, error) {
	bridge := newBoundContract(BridgeABI, address, reader, nil, f.retry)

	values, err := bridge.call(ctx, "allowTokens")
	var allowTokens ethcommon.Address
	if err == nil {
		allowTokens, err = readAddress(values)
	}
	if err != nil {
		if fedErrors.IsRetryable(err) || errors.Is(err, context.Canceled) {
			return nil, fedErrors.Wrap(err, "failed to read allowTokens address")
		}
		f.logger.Info().
			Err(err).
			Str("chain", reader.Name()).
			Str("bridge", address.Hex()).
			Msg("bridge exposes no allow-tokens contract, using static confirmations")
		return NewBridgeV0(address, reader, f.retry), nil
	}
	if allowTokens == (ethcommon.Address{}) {
		return NewBridgeV0(address, reader, f.retry), nil
	}

	version, err := f.detectVersion(ctx, reader, newBoundContract(AllowTokensABI, allowTokens, reader, nil, f.retry), "allow_tokens", VersionV1)
	if err != nil {
		return nil, err
	}

	f.logger.Info().
		Str("chain", reader.Name()).
		Str("bridge", address.Hex()).
		Str("allow_tokens", allowTokens.Hex()).
		Str("version", version).
		Msg("bridge contract bound")

	switch version {
	case VersionV0:
		return NewBridgeV0(address, reader, f.retry), nil
	case VersionV1:
		return NewBridgeV1(address, allowTokens, reader, f.retry), nil
	default:
		return nil, fedErrors.NewVersionError(reader.Name(), fmt.Sprintf("unknown allow-tokens contract version %q", version), nil)
	}
}

func (f *Factory) detectVersion(ctx context.Context, reader ChainReader, contract *boundContract, name, newest string) (string, error) {
	values, err := contract.call(ctx, "version")
	var version string
	if err == nil {
		version, err = readString(values)
	}
	if err == nil {
		return version, nil
	}
	// A node that keeps failing says nothing about the contract.
	if errors.Is(err, context.Canceled) || fedErrors.IsRetryable(err) {
		return "", fedErrors.Wrapf(err, "failed to read %s version", name)
	}

	if f.strict {
		return "", fedErrors.NewVersionError(reader.Name(),
			fmt.Sprintf("could not detect %s version at %s", name, contract.address.Hex()), err)
	}

	f.logger.Warn().
		Err(err).
		Bool("version_fallback", true).
		Str("chain", reader.Name()).
		Str("contract", name).
		Str("address", contract.address.Hex()).
		Str("assumed_version", newest).
		Msg("contract version detection failed, assuming newest version")
	f.onFallback(reader.Name(), name)
	return newest, nil
}
