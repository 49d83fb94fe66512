// Polystore - JSON documents routed to SQL or NoSQL storage
//
// Every document is analyzed, stored in the backend that suits its shape
// and recorded in a directory keyed by doc_id and owner.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/adrianmcphee/polystore"
)

var (
	configPath string
	ownerID    string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "polystore",
		Short:        "Analyze JSON documents and store them in SQL or NoSQL",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("POLYSTORE_CONFIG"), "YAML config file")
	rootCmd.PersistentFlags().StringVar(&ownerID, "owner", os.Getenv("POLYSTORE_OWNER"), "owner id the command acts for")

	rootCmd.AddCommand(analyzeCmd())
	rootCmd.AddCommand(storeCmd())
	rootCmd.AddCommand(getCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(deleteCmd())
	rootCmd.AddCommand(repairCmd())
	rootCmd.AddCommand(serveCmd())
	return rootCmd
}

// loadEnv reads the config and builds the logger every command shares
func loadEnv() (polystore.Config, *polystore.ZapLogger, error) {
	cfg, err := polystore.LoadConfig(configPath)
	if err != nil {
		return polystore.Config{}, nil, err
	}
	logger, err := polystore.NewZapLoggerFromConfig(cfg.Log)
	if err != nil {
		return polystore.Config{}, nil, err
	}
	return cfg, logger, nil
}

// openRouter opens every store named by the config. The caller closes
// the router and syncs the logger.
func openRouter(ctx context.Context, metrics polystore.Metrics) (*polystore.Router, *polystore.ZapLogger, error) {
	cfg, logger, err := loadEnv()
	if err != nil {
		return nil, nil, err
	}
	router, err := polystore.Open(ctx, cfg, logger, metrics)
	if err != nil {
		logger.Sync()
		return nil, nil, err
	}
	return router, logger, nil
}

// readPayload reads the JSON document from the file named by args[0], or
// stdin when there is no argument or it is "-".
func readPayload(cmd *cobra.Command, args []string) (polystore.Value, error) {
	var (
		data []byte
		err  error
	)
	if len(args) == 0 || args[0] == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return polystore.Value{}, fmt.Errorf("reading payload: %w", err)
	}
	return polystore.ParseValue(data)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// commandError prefixes err with its machine-readable kind
func commandError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", polystore.ErrorKind(err), err)
}
