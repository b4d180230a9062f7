package featureinfo

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/paulmach/orb/geojson"
)

// Record is one feature found under a click.
type Record struct {
	Layer       string `json:"layer"`
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

var (
	errNoFeatures   = errors.New("body has no features array")
	errNoProperties = errors.New("feature has no properties")
)

// featureBody is the part of a GetFeatureInfo answer that is read. The
// GeoJSON type members and geometry are optional.
type featureBody struct {
	Features *[]*struct {
		Properties geojson.Properties `json:"properties"`
	} `json:"features"`
}

// Parse extracts records from a body with a features array. A feature
// without a properties object fails the whole body.
func Parse(layer string, body []byte) ([]Record, error) {
	var fc featureBody
	if err := json.Unmarshal(body, &fc); err != nil {
		return nil, fmt.Errorf("parse feature collection: %w", err)
	}
	if fc.Features == nil {
		return nil, errNoFeatures
	}
	out := make([]Record, 0, len(*fc.Features))
	for i, f := range *fc.Features {
		if f == nil || f.Properties == nil {
			return nil, fmt.Errorf("feature %d: %w", i, errNoProperties)
		}
		out = append(out, Record{
			Layer:       layer,
			ID:          propString(f.Properties, "id"),
			Name:        propString(f.Properties, "name"),
			Description: propString(f.Properties, "description"),
		})
	}
	return out, nil
}

func propString(p geojson.Properties, key string) string {
	switch v := p[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}
