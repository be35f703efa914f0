package cmd

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/liuran001/MusicPlayer-Go/core/app"
	"github.com/liuran001/MusicPlayer-Go/core/config"
	"github.com/liuran001/MusicPlayer-Go/core/plugin"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "Inspect plugins",
}

var pluginsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Load the plugin directory and print every plugin",
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := config.Load(flagConfig)
		if err != nil {
			return err
		}
		// Listing never needs a real audio device.
		conf.Set("AudioBackend", "null")
		application, err := app.NewWithConfig(cmd.Context(), conf, build)
		if err != nil {
			return err
		}
		defer application.Shutdown(context.Background())

		if err := application.Plugins.LoadAll(cmd.Context(), conf.GetString("PluginDir")); err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PLATFORM\tVERSION\tSTATE\tHASH\tMETHODS")
		for _, d := range application.Plugins.Delegates() {
			state := string(d.StateCode)
			if state == "" {
				state = "ok"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", d.Platform, d.Version, state, shortHash(d.Hash), strings.Join(d.SupportedMethod, ","))
		}
		return w.Flush()
	},
}

var pluginsHashCmd = &cobra.Command{
	Use:   "hash <file>",
	Short: "Print the content hash a plugin file is identified by",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := afero.ReadFile(afero.NewOsFs(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), plugin.ContentHash(string(raw)))
		return nil
	},
}

func init() {
	pluginsCmd.AddCommand(pluginsListCmd, pluginsHashCmd)
	rootCmd.AddCommand(pluginsCmd)
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
