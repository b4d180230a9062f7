// Package h3mapper snaps map clicks to H3 cells small enough to sit inside
// one screen pixel, so nearby clicks at the same zoom share a cache entry.
package h3mapper

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	h3 "github.com/uber/h3-go/v4"
)

const MaxRes = 15

// average hexagon edge length in km, by resolution
var avgEdgeKm = [MaxRes + 1]float64{
	1281.256011, 483.0568391, 182.5129565, 68.97922179,
	26.07175968, 9.854090990, 3.724532667, 1.406475763,
	0.531414010, 0.200786148, 0.075863783, 0.028663897,
	0.010830188, 0.004092010, 0.001546100, 0.000584169,
}

func validateRes(res int) error {
	if res < 0 || res > MaxRes {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..%d)", res, MaxRes)
	}
	return nil
}

// EdgeMeters returns the average hexagon edge length at res.
func EdgeMeters(res int) (float64, error) {
	if err := validateRes(res); err != nil {
		return 0, err
	}
	return avgEdgeKm[res] * 1000, nil
}

// PixelRes returns the coarsest resolution whose cell diameter fits inside
// one ground pixel. metersPerPixel is the Web Mercator view resolution; it
// shrinks by cos(lat) on the ground. ok is false when no cell is small enough.
func PixelRes(metersPerPixel, lat float64) (res int, ok bool) {
	if metersPerPixel <= 0 || math.IsNaN(metersPerPixel) || math.IsInf(metersPerPixel, 0) {
		return 0, false
	}
	ground := metersPerPixel * math.Cos(lat*math.Pi/180)
	for r := 0; r <= MaxRes; r++ {
		if 2*avgEdgeKm[r]*1000 <= ground {
			return r, true
		}
	}
	return 0, false
}

// Cell returns the cell containing a lon/lat point at res.
func Cell(lonlat orb.Point, res int) (string, error) {
	if err := validateRes(res); err != nil {
		return "", err
	}
	c, err := h3.LatLngToCell(h3.LatLng{Lat: lonlat.Lat(), Lng: lonlat.Lon()}, res)
	if err != nil {
		return "", fmt.Errorf("h3 cell: %w", err)
	}
	return c.String(), nil
}

// PixelCell combines PixelRes and Cell. ok is false when the view is zoomed
// in further than the finest resolution can represent.
func PixelCell(lonlat orb.Point, metersPerPixel float64) (cell string, ok bool, err error) {
	res, ok := PixelRes(metersPerPixel, lonlat.Lat())
	if !ok {
		return "", false, nil
	}
	cell, err = Cell(lonlat, res)
	if err != nil {
		return "", false, err
	}
	return cell, true, nil
}

// ToParent is used to check that a finer cell nests inside a coarser one.
func ToParent(cell string, parentRes int) (string, error) {
	if err := validateRes(parentRes); err != nil {
		return "", err
	}
	var c h3.Cell
	if err := c.UnmarshalText([]byte(cell)); err != nil {
		return "", fmt.Errorf("parse cell: %w", err)
	}
	if !c.IsValid() {
		return "", fmt.Errorf("invalid h3 cell %q", cell)
	}
	curRes := c.Resolution()
	if parentRes > curRes {
		return "", fmt.Errorf("parentRes %d must be <= cell resolution %d", parentRes, curRes)
	}
	if parentRes == curRes {
		return cell, nil
	}
	p, err := c.Parent(parentRes)
	if err != nil {
		return "", fmt.Errorf("h3 parent: %w", err)
	}
	return p.String(), nil
}
