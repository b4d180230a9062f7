package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/geoportal-viewer/internal/geo"
)

func newMeasureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "measure LON,LAT LON,LAT [LON,LAT...]",
		Short: "Print the great-circle length of a path",
		Example: `  geoportal measure 0,0 0.01,0
  geoportal measure 60.6057,56.838 60.62,56.84 60.64,56.85`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pts := make([]orb.Point, 0, len(args))
			for _, a := range args {
				p, err := parseLonLat(a)
				if err != nil {
					return err
				}
				pts = append(pts, p)
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), geo.FormatDistance(geo.PathLength(pts)))
			return err
		},
	}
}

func parseLonLat(s string) (orb.Point, error) {
	lonS, latS, ok := strings.Cut(s, ",")
	if !ok {
		return orb.Point{}, fmt.Errorf("point %q: want LON,LAT", s)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonS), 64)
	if err != nil {
		return orb.Point{}, fmt.Errorf("point %q: lon: %w", s, err)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latS), 64)
	if err != nil {
		return orb.Point{}, fmt.Errorf("point %q: lat: %w", s, err)
	}
	if lon < -180 || lon > 180 || lat < -90 || lat > 90 {
		return orb.Point{}, fmt.Errorf("point %q: out of range", s)
	}
	return orb.Point{lon, lat}, nil
}
