// Package state holds the UI-facing state of one map view and notifies
// subscribers when it changes.
package state

import (
	"sync"

	"github.com/mohammed-shakir/geoportal-viewer/internal/featureinfo"
	"github.com/mohammed-shakir/geoportal-viewer/internal/ruler"
)

type Kind string

const (
	FeaturesCleared   Kind = "features_cleared"
	FeaturesPublished Kind = "features_published"
	RulerChanged      Kind = "ruler_changed"
	LayerChanged      Kind = "layer_changed"
)

// Event describes one state change.
type Event struct {
	Kind       Kind   `json:"kind"`
	Generation uint64 `json:"generation,omitempty"`
	Layer      string `json:"layer,omitempty"`
	Visible    bool   `json:"visible"`
}

// Features is the feature panel. Records is nil before the first result and
// while a click is pending.
type Features struct {
	Generation uint64               `json:"generation"`
	Pending    bool                 `json:"pending"`
	Empty      bool                 `json:"empty"`
	Records    []featureinfo.Record `json:"features"`
}

type Store struct {
	mu       sync.RWMutex
	gen      uint64
	pending  bool
	result   *featureinfo.Result
	readout  ruler.Readout
	subs     map[chan Event]struct{}
	subsLock sync.RWMutex
	closed   bool
}

func New() *Store {
	return &Store{
		readout: ruler.Readout{Mode: ruler.Inactive.String(), Formatted: "0 m"},
		subs:    make(map[chan Event]struct{}),
	}
}

// ClearFeatures drops the shown result when a click with generation gen starts.
func (s *Store) ClearFeatures(gen uint64) {
	s.mu.Lock()
	if gen < s.gen {
		s.mu.Unlock()
		return
	}
	s.gen = gen
	s.pending = true
	s.result = nil
	s.mu.Unlock()
	s.publish(Event{Kind: FeaturesCleared, Generation: gen})
}

// PublishFeatures shows res unless a newer click has started since.
func (s *Store) PublishFeatures(res featureinfo.Result) {
	s.mu.Lock()
	if res.Generation != s.gen {
		s.mu.Unlock()
		return
	}
	r := res
	r.Records = append([]featureinfo.Record(nil), res.Records...)
	s.result = &r
	s.pending = false
	s.mu.Unlock()
	s.publish(Event{Kind: FeaturesPublished, Generation: res.Generation})
}

func (s *Store) Features() Features {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f := Features{Generation: s.gen, Pending: s.pending}
	if s.result != nil {
		f.Empty = s.result.Empty
		f.Records = append([]featureinfo.Record(nil), s.result.Records...)
	}
	return f
}

func (s *Store) SetRuler(r ruler.Readout) {
	s.mu.Lock()
	s.readout = r
	s.mu.Unlock()
	s.publish(Event{Kind: RulerChanged})
}

func (s *Store) Ruler() ruler.Readout {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readout
}

func (s *Store) LayerToggled(id string, visible bool) {
	s.publish(Event{Kind: LayerChanged, Layer: id, Visible: visible})
}

// Subscribe returns a buffered channel of changes. Slow subscribers miss
// events. After Close the channel is returned already closed.
func (s *Store) Subscribe() chan Event {
	ch := make(chan Event, 16)
	s.subsLock.Lock()
	defer s.subsLock.Unlock()
	if s.closed {
		close(ch)
		return ch
	}
	s.subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *Store) Unsubscribe(ch chan Event) {
	s.subsLock.Lock()
	defer s.subsLock.Unlock()
	if _, ok := s.subs[ch]; !ok {
		return
	}
	delete(s.subs, ch)
	close(ch)
}

// Close ends every subscription. It is safe to call more than once.
func (s *Store) Close() {
	s.subsLock.Lock()
	defer s.subsLock.Unlock()
	s.closed = true
	for ch := range s.subs {
		delete(s.subs, ch)
		close(ch)
	}
}

func (s *Store) publish(e Event) {
	s.subsLock.RLock()
	defer s.subsLock.RUnlock()
	for ch := range s.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
