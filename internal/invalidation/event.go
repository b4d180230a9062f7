// Package invalidation describes the layer change notifications published by
// the pipeline that loads MapServer data. A change to a layer makes every
// cached feature-info answer of that layer stale.
package invalidation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidEvent = errors.New("invalid layer change event")

type Event struct {
	Version int       `json:"version"`
	Op      string    `json:"op"`
	Layer   string    `json:"layer"`
	TS      time.Time `json:"ts"`
	Source  string    `json:"source,omitempty"`
	// BBox is the changed extent in lon/lat, when the producer knows it.
	BBox *BBox `json:"bbox,omitempty"`
}

type BBox struct {
	MinLon float64 `json:"min_lon"`
	MinLat float64 `json:"min_lat"`
	MaxLon float64 `json:"max_lon"`
	MaxLat float64 `json:"max_lat"`
}

// Decode parses and validates one message value.
func Decode(b []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(b, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	ev.Layer = strings.TrimSpace(ev.Layer)
	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}

func (e Event) Validate() error {
	bad := func(msg string) error { return fmt.Errorf("%w: %s", ErrInvalidEvent, msg) }

	if e.Version != 1 {
		return bad("version must be 1")
	}
	switch e.Op {
	case "insert", "update", "delete", "reload":
	default:
		return bad("op must be insert|update|delete|reload")
	}
	if strings.TrimSpace(e.Layer) == "" {
		return bad("layer is required")
	}
	if e.TS.IsZero() {
		return bad("ts is required")
	}
	if e.BBox == nil {
		return nil
	}
	bb := *e.BBox
	if bb.MinLon < -180 || bb.MaxLon > 180 || bb.MinLat < -90 || bb.MaxLat > 90 {
		return bad("bbox out of range")
	}
	if bb.MaxLon <= bb.MinLon || bb.MaxLat <= bb.MinLat {
		return bad("bbox must satisfy max > min")
	}
	return nil
}
