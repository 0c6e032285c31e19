package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

// serveCmd starts every component and blocks until an interrupt, the
// ordinary way this binary runs outside of one-shot CLI verbs.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the mining subsystem until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := requireApp()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := a.Broker.Start(ctx); err != nil {
			return err
		}
		defer a.Broker.Stop()

		if a.Config.Stratum.Enabled {
			if err := a.Stratum.Start(); err != nil {
				return err
			}
			defer a.Stratum.Stop()
		}

		if a.Config.Monitoring.PrometheusAddr != "" {
			// Start serves until ctx is cancelled and then shuts down.
			go func() {
				if err := a.Metrics.Start(ctx); err != nil {
					a.Logger.Warn("metrics exporter shutdown failed", zap.Error(err))
				}
			}()
		}

		a.Logger.Info("wattxd running")
		<-ctx.Done()
		a.Logger.Info("wattxd shutting down")
		return nil
	},
}
