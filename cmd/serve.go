package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/liuran001/MusicPlayer-Go/core/app"
	"github.com/liuran001/MusicPlayer-Go/core/config"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var flagListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the player and the UI bridge",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagListen, "listen", "", "Override ListenAddr from the config")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	conf, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	if flagListen != "" {
		conf.Set("ListenAddr", flagListen)
	}
	application, err := app.NewWithConfig(ctx, conf, build)
	if err != nil {
		return err
	}
	if err := application.Start(ctx); err != nil {
		_ = application.Shutdown(context.Background())
		return err
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case err := <-application.Done():
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(serveErr, application.Shutdown(shutdownCtx))
}
