package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const Version = "0.1.0"

var (
	cfgFile string
	verbose bool
	app     *App
)

// rootCmd is the wattxd entrypoint: a mining subsystem for a proof-of-work
// node combining a memory-hard hash core, a prime-gap sieve core, and a
// Stratum-compatible pool server.
var rootCmd = &cobra.Command{
	Use:     "wattxd",
	Short:   "Mining subsystem daemon: memory-hard hash core, prime-gap sieve core, Stratum server",
	Version: Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

func initConfig() {
	// Component wiring is deferred to requireApp(), called lazily by each
	// verb, so commands that don't touch the App (like --help) never pay
	// the cost of standing up engines and a listener.
}

// requireApp lazily constructs the shared App on first use and memoizes it
// for the remainder of the process.
func requireApp() (*App, error) {
	if app != nil {
		return app, nil
	}
	a, err := newApp(cfgFile)
	if err != nil {
		return nil, err
	}
	app = a
	return app, nil
}
