package cmd

import (
	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/enrichment/internal/bootstrap"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, run loops and recovery sweeper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return bootstrap.Serve(cmd.Context(), cfgFile)
		},
	}
}
