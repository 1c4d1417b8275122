package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gitzhang10/dagbft/config"
	"github.com/gitzhang10/dagbft/node"
	"github.com/spf13/cobra"
)

var (
	configName   string
	configPrefix string
	configPath   string
)

var rootCmd = &cobra.Command{
	Use:   "dagbft",
	Short: "Consensus core of a DAG-based BFT validator",
}

// RunCmd starts the node with the given configuration file and runs it until
// it receives SIGINT or SIGTERM.
var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the consensus node",
	RunE:  runNode,
}

func init() {
	RunCmd.Flags().StringVar(&configName, "config", "config", "name of the configuration file, without extension")
	RunCmd.Flags().StringVar(&configPrefix, "env-prefix", "", "prefix of the environment variables overriding the configuration")
	RunCmd.Flags().StringVar(&configPath, "config-dir", "./", "directory holding the configuration file")
	rootCmd.AddCommand(RunCmd)
}

func runNode(cmd *cobra.Command, args []string) error {
	conf, err := config.LoadConfig(configPrefix, configName, configPath)
	if err != nil {
		return err
	}
	n, err := node.New(conf)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := n.Start(ctx); err != nil {
		return err
	}
	fmt.Println("node starts the consensus!")

	select {
	case <-ctx.Done():
	case <-n.Done():
	}
	if err := n.Shutdown(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
