package main

import (
	"fmt"

	"github.com/joeydtaylor/steeze-functions/pkg/bundlefx"
	"github.com/joeydtaylor/steeze-functions/pkg/core"
	"github.com/joeydtaylor/steeze-functions/pkg/serverfx"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// NewServeCommand boots the HTTP server.
func NewServeCommand() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:          "serve",
		Short:        "Serve the registry over HTTP",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if path == "" {
				path = core.ManifestPath()
			}
			cfg, err := core.LoadConfig(path)
			if err != nil {
				return fmt.Errorf("load manifest %s: %w", path, err)
			}

			fx.New(
				fx.Supply(cfg),
				bundlefx.Module,
				serverfx.Module(serverfx.DefaultOptions()),
				fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
					return &fxevent.ZapLogger{Logger: l.Named("fx")}
				}),
			).Run()
			return nil
		},
	}

	cmd.Flags().StringVarP(&path, "config", "c", "", "manifest path (default $FUNCTIONS_MANIFEST or manifest.toml)")
	return cmd
}
