// braid is a realtime multi-camera 3D tracker. Camera nodes stream 2D
// feature detections over UDP; braid bundles them per synchronized
// frame, runs a bank of Kalman filters per mini arena, serves live pose
// events over HTTP and records everything into .braidz archives.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/braid-data/braid/internal/version"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "braid",
	Short: "Realtime multi-camera 3D tracker",
	Long: `Braid tracks multiple animals in 3D from synchronized camera
streams. Camera nodes send 2D feature detections over UDP; braid fuses
them into per-object Kalman estimates, streams live poses to listeners
and records sessions as .braidz archives.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "braid.toml", "configuration file (TOML)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the braid version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("braid %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
	},
}
