package commands

import (
	"fmt"
	"strconv"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(startGapcoinMiningCmd, stopGapcoinMiningCmd, getGapcoinMiningInfoCmd)
}

var startGapcoinMiningCmd = &cobra.Command{
	Use:   "startgapcoinmining [threads] [shift]",
	Short: "Start the prime-gap sieve mining loop",
	Args:  cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := requireApp()
		if err != nil {
			return err
		}

		threads := a.Config.Sieve.Threads
		shift := a.Config.Sieve.Shift
		if len(args) >= 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid threads: %w", err)
			}
			threads = n
		}
		if len(args) >= 2 {
			sh, err := strconv.ParseUint(args[1], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid shift: %w", err)
			}
			shift = uint32(sh)
		}

		if err := a.ensureBroker(cmd.Context()); err != nil {
			return printResult(map[string]interface{}{"success": false})
		}

		if err := a.Driver.Start(cmd.Context(), threads, shift); err != nil {
			return printResult(map[string]interface{}{"success": false})
		}

		return printResult(map[string]interface{}{"success": true, "threads": threads, "shift": shift})
	},
}

var stopGapcoinMiningCmd = &cobra.Command{
	Use:   "stopgapcoinmining",
	Short: "Stop the prime-gap sieve mining loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := requireApp()
		if err != nil {
			return err
		}
		a.Driver.Stop()
		return printResult(true)
	},
}

var getGapcoinMiningInfoCmd = &cobra.Command{
	Use:   "getgapcoinmininginfo",
	Short: "Report sieve-engine status and counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := requireApp()
		if err != nil {
			return err
		}
		stats := a.SieveEngine.Stats()
		result := map[string]interface{}{
			"primes_checked": stats.PrimesChecked,
			"gaps_found":     stats.GapsFound,
			"sieve_cycles":   stats.SieveCycles,
			"best_merit":     stats.BestMerit,
		}

		if counts, err := cpu.Counts(true); err == nil {
			result["logical_cpus"] = counts
		}
		if avg, err := load.Avg(); err == nil {
			result["load_avg_1m"] = avg.Load1
		}

		return printResult(result)
	},
}
