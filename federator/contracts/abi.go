package contracts

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const (
	EventCross     = "Cross"
	EventHeartBeat = "HeartBeat"
)

// Versions reported by the contracts' version() method.
const (
	VersionV0 = "v0"
	VersionV1 = "v1"
	VersionV2 = "v2"
)

const bridgeABIJSON = `[
  {"type":"function","name":"version","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"getFederation","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"allowTokens","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
  {"type":"event","name":"Cross","anonymous":false,"inputs":[
    {"name":"_tokenAddress","type":"address","indexed":true},
    {"name":"_to","type":"address","indexed":true},
    {"name":"_amount","type":"uint256","indexed":false},
    {"name":"_symbol","type":"string","indexed":false},
    {"name":"_userData","type":"bytes","indexed":false},
    {"name":"_decimals","type":"uint8","indexed":false},
    {"name":"_granularity","type":"uint256","indexed":false}
  ]}
]`

const allowTokensABIJSON = `[
  {"type":"function","name":"version","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"smallAmountConfirmations","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"mediumAmountConfirmations","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"largeAmountConfirmations","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getInfoAndLimits","stateMutability":"view","inputs":[{"name":"token","type":"address"}],"outputs":[
    {"name":"info","type":"tuple","components":[
      {"name":"typeId","type":"uint256"},
      {"name":"allowed","type":"bool"}
    ]},
    {"name":"limit","type":"tuple","components":[
      {"name":"min","type":"uint256"},
      {"name":"max","type":"uint256"},
      {"name":"daily","type":"uint256"},
      {"name":"mediumAmount","type":"uint256"},
      {"name":"largeAmount","type":"uint256"}
    ]}
  ]}
]`

// Shared by both federation versions.
const federationCommonABI = `
  {"type":"function","name":"version","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"isMember","stateMutability":"view","inputs":[{"name":"","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"transactionWasProcessed","stateMutability":"view","inputs":[{"name":"","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"hasVoted","stateMutability":"view","inputs":[{"name":"","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]}`

// Transfer fields after originalTokenAddress, in wire order.
const transferFields = `
    {"name":"receiver","type":"address"},
    {"name":"amount","type":"uint256"},
    {"name":"symbol","type":"string"},
    {"name":"blockHash","type":"bytes32"},
    {"name":"transactionHash","type":"bytes32"},
    {"name":"logIndex","type":"uint32"},
    {"name":"decimals","type":"uint8"},
    {"name":"granularity","type":"uint256"}`

const originalTokenField = `{"name":"originalTokenAddress","type":"address"}`

// v1 takes all nine fields flat.
const transferArgsV1 = originalTokenField + `,` + transferFields

const federationV1ABIJSON = `[` + federationCommonABI + `,
  {"type":"function","name":"getTransactionId","stateMutability":"pure","inputs":[` + transferArgsV1 + `],"outputs":[{"name":"","type":"bytes32"}]},
  {"type":"function","name":"voteTransaction","stateMutability":"nonpayable","inputs":[` + transferArgsV1 + `],"outputs":[{"name":"","type":"bool"}]}
]`

// v2 takes the token address, then the remaining fields as one tuple.
const transferArgsV2 = originalTokenField + `,{"name":"transaction","type":"tuple","components":[` + transferFields + `]}`

const federationV2ABIJSON = `[` + federationCommonABI + `,
  {"type":"function","name":"getTransactionId","stateMutability":"pure","inputs":[` + transferArgsV2 + `],"outputs":[{"name":"","type":"bytes32"}]},
  {"type":"function","name":"voteTransaction","stateMutability":"nonpayable","inputs":[` + transferArgsV2 + `],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"emitHeartbeat","stateMutability":"nonpayable","inputs":[
    {"name":"fedRskBlock","type":"uint256"},
    {"name":"fedEthBlock","type":"uint256"},
    {"name":"federatorVersion","type":"string"},
    {"name":"nodeRskInfo","type":"string"},
    {"name":"nodeEthInfo","type":"string"}
  ],"outputs":[{"name":"","type":"bool"}]},
  {"type":"event","name":"HeartBeat","anonymous":false,"inputs":[
    {"name":"sender","type":"address","indexed":true},
    {"name":"fedRskBlock","type":"uint256","indexed":false},
    {"name":"fedEthBlock","type":"uint256","indexed":false},
    {"name":"federatorVersion","type":"string","indexed":false},
    {"name":"nodeRskInfo","type":"string","indexed":false},
    {"name":"nodeEthInfo","type":"string","indexed":false}
  ]}
]`

var (
	BridgeABI       = mustParseABI(bridgeABIJSON)
	AllowTokensABI  = mustParseABI(allowTokensABIJSON)
	FederationV1ABI = mustParseABI(federationV1ABIJSON)
	FederationV2ABI = mustParseABI(federationV2ABIJSON)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
