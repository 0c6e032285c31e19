package commands

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(startStratumCmd, stopStratumCmd, getStratumInfoCmd)
}

var startStratumCmd = &cobra.Command{
	Use:   "startstratum [port] [bind]",
	Short: "Start the Stratum mining server",
	Args:  cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := requireApp()
		if err != nil {
			return err
		}

		if len(args) >= 1 {
			port, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid port: %w", err)
			}
			bind := "0.0.0.0"
			if len(args) >= 2 {
				bind = args[1]
			}
			a.Stratum.SetListenAddr(fmt.Sprintf("%s:%d", bind, port))
		}

		if err := a.ensureBroker(cmd.Context()); err != nil {
			return printResult(map[string]interface{}{"success": false, "port": 0})
		}

		if err := a.Stratum.Start(); err != nil {
			return printResult(map[string]interface{}{"success": false, "port": 0})
		}

		return printResult(map[string]interface{}{"success": true, "port": portFromAddr(a.Stratum.ListenAddr())})
	},
}

var stopStratumCmd = &cobra.Command{
	Use:   "stopstratum",
	Short: "Stop the Stratum mining server",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := requireApp()
		if err != nil {
			return err
		}
		_ = a.Stratum.Stop()
		return printResult(true)
	},
}

var getStratumInfoCmd = &cobra.Command{
	Use:   "getstratuminfo",
	Short: "Report Stratum server status and counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := requireApp()
		if err != nil {
			return err
		}
		stats := a.Stratum.Stats()
		return printResult(map[string]interface{}{
			"running":         stats.Running,
			"port":            portFromAddr(a.Stratum.ListenAddr()),
			"clients":         stats.Clients,
			"shares_accepted": stats.SharesAccepted,
			"shares_rejected": stats.SharesRejected,
			"blocks_found":    stats.BlocksFound,
		})
	},
}

func printResult(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func portFromAddr(addr string) int {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			p, err := strconv.Atoi(addr[i+1:])
			if err != nil {
				return 0
			}
			return p
		}
	}
	return 0
}
