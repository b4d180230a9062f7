package clickevents

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
)

func TestPublish_SendsJSONToTopic(t *testing.T) {
	mp := mocks.NewAsyncProducer(t, nil)
	mp.ExpectInputWithMessageCheckerFunctionAndSucceed(func(m *sarama.ProducerMessage) error {
		if m.Topic != "map-clicks" {
			return fmt.Errorf("topic=%s", m.Topic)
		}
		k, _ := m.Key.Encode()
		if string(k) != "view-1" {
			return fmt.Errorf("key=%s", k)
		}
		b, _ := m.Value.Encode()
		var ev Event
		if err := json.Unmarshal(b, &ev); err != nil {
			return err
		}
		if ev.Generation != 4 || len(ev.Layers) != 2 || ev.Lon != 60.6 || ev.TS.IsZero() {
			return fmt.Errorf("event=%+v", ev)
		}
		return nil
	})

	p := NewWithProducer(mp, "map-clicks", 4, nil)
	p.Publish(Event{View: "view-1", Lon: 60.6, Lat: 56.8, Layers: []string{"boundary", "museum"}, Generation: 4})
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestPublish_AfterCloseIsDropped(t *testing.T) {
	mp := mocks.NewAsyncProducer(t, nil)
	p := NewWithProducer(mp, "map-clicks", 1, nil)
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	p.Publish(Event{View: "late", TS: time.Now()})
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
