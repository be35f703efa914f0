// Package cmd implements the command line using Cobra.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/liuran001/MusicPlayer-Go/core/app"
	"github.com/spf13/cobra"
)

var (
	flagConfig string
	build      app.BuildInfo
)

var rootCmd = &cobra.Command{
	Use:   "musicplayer",
	Short: "Plugin driven music player core",
	Long: `musicplayer plays music from script plugins and local files.
UIs attach to it over a websocket bridge.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "version: %s\n", orDev(build.BinVersion))
		fmt.Fprintf(out, "commit:  %s\n", build.CommitSHA)
		fmt.Fprintf(out, "built:   %s\n", build.BuildTime)
		fmt.Fprintf(out, "runtime: %s %s\n", build.RuntimeVer, build.BuildArch)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "config.ini", "Path to the config file")
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command and exits non-zero on failure.
func Execute(ctx context.Context, info app.BuildInfo) {
	build = info
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func orDev(v string) string {
	if v == "" {
		return "dev"
	}
	return v
}
