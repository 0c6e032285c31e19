package commands

import (
	"github.com/spf13/cobra"

	"github.com/The-Mining-Game/WATTx/internal/gpuengine"
)

func init() {
	rootCmd.AddCommand(listGpuDevicesCmd, enableGpuMiningCmd)
}

var listGpuDevicesCmd = &cobra.Command{
	Use:   "listgpudevices [backend]",
	Short: "Enumerate GPUs visible to the host",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		devices, err := gpuengine.ListDevices()
		if err != nil {
			return printResult(map[string]interface{}{"devices": []gpuengine.Device{}, "error": err.Error()})
		}
		return printResult(map[string]interface{}{"devices": devices})
	},
}

// enableGpuMiningCmd mirrors EnableGpu/IsGpuAvailable: no real GPU kernel
// ships with this module, so enabling always reports false, matching the
// reference miner's behavior on hosts without a configured device.
var enableGpuMiningCmd = &cobra.Command{
	Use:   "enablegpumining backend [device_id]",
	Short: "Enable GPU-assisted sieving for a backend",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return printResult(map[string]interface{}{"success": false, "reason": "no GPU backend available"})
	},
}
