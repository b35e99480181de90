package main

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tokenbridge/federator/federator/chains/common"
	"github.com/tokenbridge/federator/federator/config"
	"github.com/tokenbridge/federator/federator/constant"
	"github.com/tokenbridge/federator/federator/db"
)

const flagLimit = "limit"

func statusCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print cursors, failing votes and observed heartbeats",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt(flagLimit)
			cfg, chainStore, closeDB, err := openStore(v)
			if err != nil {
				return err
			}
			defer closeDB()
			return printStatus(cmd.OutOrStdout(), cfg, chainStore, limit)
		},
	}
	cmd.Flags().Int(flagLimit, 20, "maximum number of failing votes to print")
	return cmd
}

func resetCursorCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-cursor <main_to_side|side_to_main|heartbeat> <chain-id> <block>",
		Short: "Move a scan cursor, backwards included. Stop the federator first.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			direction, err := parseDirection(args[0])
			if err != nil {
				return err
			}
			chainID, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid chain id %q: %w", args[1], err)
			}
			block, err := strconv.ParseUint(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid block %q: %w", args[2], err)
			}

			_, chainStore, closeDB, err := openStore(v)
			if err != nil {
				return err
			}
			defer closeDB()

			if err := chainStore.ResetCursor(direction, chainID, block); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cursor %s/%d set to %d\n", direction, chainID, block)
			return nil
		},
	}
}

func openStore(v *viper.Viper) (config.Config, *common.ChainStore, func(), error) {
	cfg, err := loadConfig(v)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	database, err := db.OpenFileDB(cfg.StoragePath, constant.DatabaseFileName, true)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	return cfg, common.NewChainStore(database), func() { _ = database.Close() }, nil
}

func parseDirection(s string) (common.Direction, error) {
	switch d := common.Direction(s); d {
	case common.DirectionMainToSide, common.DirectionSideToMain, common.DirectionHeartbeat:
		return d, nil
	default:
		return "", fmt.Errorf("unknown direction %q", s)
	}
}

func printStatus(out io.Writer, cfg config.Config, chainStore *common.ChainStore, limit int) error {
	cursors, err := chainStore.ListCursors()
	if err != nil {
		return err
	}
	failing, err := chainStore.ListFailingVotes(limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	fmt.Fprintln(w, "CURSORS")
	if len(cursors) == 0 {
		fmt.Fprintln(w, "  none")
	}
	for _, c := range cursors {
		fmt.Fprintf(w, "  %s\tchain %d\tblock %d\tupdated %s\n",
			c.Direction, c.ChainID, c.LastBlock, c.UpdatedAt.UTC().Format("2006-01-02 15:04:05"))
	}

	fmt.Fprintln(w, "FAILING VOTES")
	if len(failing) == 0 {
		fmt.Fprintln(w, "  none")
	}
	for _, r := range failing {
		fmt.Fprintf(w, "  %s\t%s\tblock %d\tattempts %d\t%s\n",
			r.TxID, r.Direction, r.BlockNumber, r.FailedAttempts, r.LastError)
	}

	fmt.Fprintln(w, "HEARTBEATS")
	for _, chain := range []*config.ChainConfig{cfg.MainChain, cfg.SideChain} {
		beats, err := chainStore.ListHeartbeats(chain.ChainID)
		if err != nil {
			return err
		}
		for _, hb := range beats {
			fmt.Fprintf(w, "  %s\t%s\tblock %d\tversion %s\n", chain.Name, hb.Sender, hb.BlockNumber, hb.FederatorVersion)
		}
	}

	return w.Flush()
}
