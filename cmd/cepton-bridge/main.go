// Command cepton-bridge republishes Cepton LiDAR point clouds from live
// sensors or capture replay to local and remote subscribers.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/banshee-data/cepton-bridge/internal/config"
	"github.com/banshee-data/cepton-bridge/internal/version"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cepton-bridge",
		Short: "Cepton LiDAR point cloud bridge",
		Long: `cepton-bridge receives Cepton sensor data, live over UDP or replayed
from a pcap capture, assembles per-callback point frames and publishes
them over gRPC, Kafka and MQTT.`,
		Version:      version.Get().String(),
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", "", "JSON configuration file")
	root.AddCommand(newRunCmd(), newSensorsCmd(), newCaptureCmd())
	return root
}

// loadConfig reads --config and the CEPTON_* environment.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
