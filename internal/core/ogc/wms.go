package ogc

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
)

// FeatureInfoPixels is the side of the virtual GetMap image built around a
// clicked coordinate, matching what browser map engines send.
const FeatureInfoPixels = 101

// BBox is an extent in the units of the request CRS.
type BBox struct {
	MinX, MinY float64
	MaxX, MaxY float64
}

// String formats the bbox for WMS; axis order is swapped for 1.3.0 geographic CRS.
func (b BBox) String(version, crs string) string {
	vals := []float64{b.MinX, b.MinY, b.MaxX, b.MaxY}
	if isWMS13(version) && swapsAxes(crs) {
		vals = []float64{b.MinY, b.MinX, b.MaxY, b.MaxX}
	}
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strings.Join(parts, ",")
}

// GetFeatureInfo describes one WMS GetFeatureInfo call.
type GetFeatureInfo struct {
	Version      string
	Layers       string
	Styles       string
	Format       string
	Transparent  bool
	QueryLayers  string
	InfoFormat   string
	FeatureCount int
	CRS          string
	BBox         BBox
	Width        int
	Height       int
	I, J         int
}

// AroundPoint builds the request for a click at (x, y) in CRS units at the
// given view resolution (CRS units per pixel).
func AroundPoint(x, y, resolution float64, base GetFeatureInfo) GetFeatureInfo {
	half := resolution * FeatureInfoPixels / 2
	q := base
	q.Width, q.Height = FeatureInfoPixels, FeatureInfoPixels
	q.BBox = BBox{MinX: x - half, MinY: y - half, MaxX: x + half, MaxY: y + half}
	q.I = int(math.Floor((x - q.BBox.MinX) / resolution))
	q.J = int(math.Floor((q.BBox.MaxY - y) / resolution))
	return q
}

func BuildGetFeatureInfoParams(q GetFeatureInfo) url.Values {
	version := q.Version
	if strings.TrimSpace(version) == "" {
		version = "1.3.0"
	}
	params := url.Values{}
	params.Set("SERVICE", "WMS")
	params.Set("VERSION", version)
	params.Set("REQUEST", "GetFeatureInfo")
	params.Set("LAYERS", q.Layers)
	params.Set("STYLES", q.Styles)
	if q.Format != "" {
		params.Set("FORMAT", q.Format)
	}
	params.Set("TRANSPARENT", strings.ToUpper(strconv.FormatBool(q.Transparent)))

	queryLayers := q.QueryLayers
	if queryLayers == "" {
		queryLayers = q.Layers
	}
	params.Set("QUERY_LAYERS", queryLayers)
	if q.InfoFormat != "" {
		params.Set("INFO_FORMAT", q.InfoFormat)
	}
	if q.FeatureCount > 0 {
		params.Set("FEATURE_COUNT", strconv.Itoa(q.FeatureCount))
	}

	params.Set("WIDTH", strconv.Itoa(q.Width))
	params.Set("HEIGHT", strconv.Itoa(q.Height))
	params.Set("BBOX", q.BBox.String(version, q.CRS))
	if isWMS13(version) {
		params.Set("CRS", q.CRS)
		params.Set("I", strconv.Itoa(q.I))
		params.Set("J", strconv.Itoa(q.J))
	} else {
		params.Set("SRS", q.CRS)
		params.Set("X", strconv.Itoa(q.I))
		params.Set("Y", strconv.Itoa(q.J))
	}
	return params
}

// FeatureInfoURL appends the request to base, keeping any query the base
// already carries (e.g. MapServer's map=... parameter).
func FeatureInfoURL(base string, q GetFeatureInfo) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("parse wms url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("wms url %q must be absolute", base)
	}
	vals := u.Query()
	for k, vs := range BuildGetFeatureInfoParams(q) {
		vals[k] = vs
	}
	u.RawQuery = vals.Encode()
	return u.String(), nil
}

func isWMS13(version string) bool {
	return strings.HasPrefix(strings.TrimSpace(version), "1.3")
}

func swapsAxes(crs string) bool {
	switch strings.ToUpper(strings.TrimSpace(crs)) {
	case "EPSG:4326", "EPSG:4258":
		return true
	default:
		return false
	}
}
