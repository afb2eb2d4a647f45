package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	nodeconfig "occrlend/config"
	"occrlend/core"
	"occrlend/integrations/exports"
	"occrlend/observability/logging"
	"occrlend/services/lending/client"
	"occrlend/storage"
)

func newExportCmd(flags *globalFlags) *cobra.Command {
	var (
		format     string
		outPath    string
		nodeConfig string
		underwater bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export every account snapshot as parquet, csv or jsonl",
		Long: `Export account snapshots for offline risk analysis.

By default accounts are fetched from the lending service at --endpoint.
Pass --node-config to read them directly from a stopped node's state.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format = strings.ToLower(strings.TrimSpace(format))
			switch format {
			case "parquet", "csv", "jsonl":
			default:
				return fmt.Errorf("unsupported format %q", format)
			}
			if outPath == "" {
				outPath = "accounts." + format
			}
			snapshot := time.Now()
			var (
				rows []exports.AccountRow
				err  error
			)
			if nodeConfig != "" {
				rows, err = localRows(nodeConfig, snapshot)
			} else {
				rows, err = remoteRows(cmd, flags, underwater, snapshot)
			}
			if err != nil {
				return err
			}
			checksum, err := writeExport(format, outPath, rows)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "exported %s accounts to %s\n", printer.Sprintf("%d", len(rows)), outPath)
			if checksum != "" {
				fmt.Fprintf(out, "sha256: %s\n", checksum)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "parquet", "parquet, csv or jsonl")
	cmd.Flags().StringVar(&outPath, "out", "", "output path (default accounts.<format>)")
	cmd.Flags().StringVar(&nodeConfig, "node-config", "", "read from local node state instead of the service")
	cmd.Flags().BoolVar(&underwater, "underwater", false, "only export positions eligible for liquidation (remote only)")
	return cmd
}

func writeExport(format, path string, rows []exports.AccountRow) (string, error) {
	if format == "parquet" {
		return "", exports.WriteAccountsParquet(path, rows)
	}
	var (
		data     []byte
		checksum string
		err      error
	)
	if format == "csv" {
		data, checksum, err = exports.AccountsCSV(rows)
	} else {
		data, checksum, err = exports.AccountsJSONL(rows)
	}
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	return checksum, nil
}

func remoteRows(cmd *cobra.Command, flags *globalFlags, underwater bool, snapshot time.Time) ([]exports.AccountRow, error) {
	c, err := flags.client()
	if err != nil {
		return nil, err
	}
	ctx, cancel := commandContext(cmd)
	defer cancel()
	accounts, err := c.Accounts(ctx, underwater)
	if err != nil {
		return nil, err
	}
	return rowsFromAPI(accounts, snapshot), nil
}

func rowsFromAPI(accounts []client.Account, snapshot time.Time) []exports.AccountRow {
	stamp := snapshot.UTC().Format(time.RFC3339)
	rows := make([]exports.AccountRow, 0, len(accounts))
	for _, acct := range accounts {
		rows = append(rows, exports.AccountRow{
			Address:       strings.ToLower(acct.Address),
			Collateral:    orZero(acct.Position.Collateral),
			Debt:          orZero(acct.Position.Debt),
			Buffer:        orZero(acct.Position.Buffer),
			ScoreMicro:    acct.ScoreMicro,
			MaxLTVBps:     acct.MaxLTVBps,
			MaxBorrowable: orZero(acct.MaxBorrowable),
			Underwater:    acct.Underwater,
			SnapshotAt:    stamp,
		})
	}
	return rows
}

func localRows(path string, snapshot time.Time) ([]exports.AccountRow, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("node config: %w", err)
	}
	cfg, err := nodeconfig.Load(path)
	if err != nil {
		return nil, err
	}
	logger := logging.SetupWithOptions("occrctl", os.Getenv("OCCR_ENV"), logging.Options{Level: "error", Output: os.Stderr})
	opts, err := cfg.NodeOptions(logger, nil)
	if err != nil {
		return nil, err
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}
	node, err := core.NewNode(db, opts)
	if err != nil {
		db.Close()
		return nil, err
	}
	defer node.Close()
	accounts, err := node.Accounts()
	if err != nil {
		return nil, err
	}
	return exports.Rows(accounts, snapshot), nil
}

func orZero(v string) string {
	if strings.TrimSpace(v) == "" {
		return "0"
	}
	return v
}
