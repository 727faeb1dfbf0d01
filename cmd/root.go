package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/serveroute/serveroute/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "serveroute",
	Short: "DCN matching and service attempt tracking",
	Long:  "Matches uploaded DCN spreadsheets to route addresses, runs the match review queue, and tracks service attempts with AM/PM/weekend qualifiers.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
