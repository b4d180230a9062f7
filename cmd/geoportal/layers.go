package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/geoportal-viewer/internal/layers"
)

func newLayersCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "layers",
		Short: "Validate and list overlay layer definitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defs := layers.Defaults()
			if file != "" {
				d, err := layers.Load(file)
				if err != nil {
					return err
				}
				defs = d
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tWMS LAYERS\tVERSION\tVISIBLE")
			for _, d := range defs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n", d.ID, d.Name, d.Params.Layers, d.Params.Version, d.Visible)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Layer definitions YAML file (defaults to the built-in set)")
	return cmd
}
