package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "geoportal",
		Short: "Interactive map backend for the geoportal viewer",
		Long: `geoportal serves map view sessions backed by a WMS server.

Each session owns a set of overlay layers, a distance measuring tool and a
feature-info pipeline that queries every visible layer on click.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newLayersCmd())
	root.AddCommand(newMeasureCmd())
	return root
}
