package cmd

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"my/fronius_publisher/internal/config"
	"my/fronius_publisher/internal/logging"
	"my/fronius_publisher/internal/publisher"
)

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single poll cycle and print the record",
	Long: `Fetch the three Fronius endpoints once, publish the normalized record
to the configured broker and print it to stdout. Exits non-zero if any
stage fails. Set FRONIUS_BROKER_TYPE=stdout for a dry run.`,
	Args: cobra.NoArgs,
	RunE: runOnce,
}

func init() {
	rootCmd.AddCommand(onceCmd)
}

func runOnce(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// stdout is reserved for the record
	logger := logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	p, err := newPoller(cfg, logger, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	rec, err := p.Cycle(cmd.Context())
	if err != nil {
		return err
	}

	// the stdout backend has already printed it
	if cfg.Broker.Type == publisher.TypeStdout {
		return nil
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")

	return enc.Encode(rec)
}
