// Package clickevents publishes map click analytics to Kafka.
package clickevents

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/geoportal-viewer/internal/core/observability"
)

type Event struct {
	View       string    `json:"view"`
	Lon        float64   `json:"lon"`
	Lat        float64   `json:"lat"`
	Layers     []string  `json:"layers"`
	Generation uint64    `json:"generation"`
	TS         time.Time `json:"ts"`
}

// Publisher accepts events without blocking the caller; when the queue is
// full events are dropped.
type Publisher struct {
	topic   string
	logger  *slog.Logger
	prod    sarama.AsyncProducer
	stopped chan struct{}

	mu     sync.RWMutex
	events chan Event
	closed bool
}

func NewPublisher(brokers []string, topic string, queueSize int, logger *slog.Logger) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("clickevents: create async producer: %w", err)
	}
	return NewWithProducer(prod, topic, queueSize, logger), nil
}

// NewWithProducer wraps an existing producer. The publisher owns it and
// closes it on Close.
func NewWithProducer(prod sarama.AsyncProducer, topic string, queueSize int, logger *slog.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{
		topic:   topic,
		logger:  logger.With("component", "clickevents"),
		prod:    prod,
		events:  make(chan Event, queueSize),
		stopped: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				observability.IncClickEvent("failed")
				p.logger.Warn("marshal click event", "err", err)
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(ev.View),
				Value: sarama.ByteEncoder(b),
			}
		}
	}()

	go func() {
		for err := range p.prod.Errors() {
			if err != nil {
				observability.IncClickEvent("failed")
				p.logger.Warn("click event producer error", "err", err)
			}
		}
	}()

	return p
}

func (p *Publisher) Publish(ev Event) {
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.events <- ev:
		observability.IncClickEvent("queued")
	default:
		observability.IncClickEvent("dropped")
	}
}

// Close drains queued events into the producer and closes it.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.events)
	p.mu.Unlock()

	<-p.stopped
	if err := p.prod.Close(); err != nil {
		return fmt.Errorf("clickevents: close producer: %w", err)
	}
	return nil
}
