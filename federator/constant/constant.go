package constant

import "os"

// <NodeDir>/                    (e.g., /home/federator/.federator)
// └── config/
//	└── federator_config.json
//	└── federator.key
// └── db/
//	└── federator.db

const (
	NodeDir = ".federator"

	ConfigSubdir   = "config"
	ConfigFileName = "federator_config.json"
	KeyFileName    = "federator.key"

	DatabaseSubdir   = "db"
	DatabaseFileName = "federator.db"

	// EnvPrefix is the prefix of environment variables bound by the CLI.
	EnvPrefix = "FEDERATOR"

	// FederatorVersion is reported in heartbeats and by the version command.
	FederatorVersion = "3.0.0"
)

var DefaultNodeHome = os.ExpandEnv("$HOME/") + NodeDir
