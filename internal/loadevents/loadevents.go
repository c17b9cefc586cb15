// Package loadevents publishes a Kafka event for every installed data layer.
package loadevents

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/jonboulle/clockwork"

	"github.com/mohammed-shakir/vulnerability-map/internal/core/model"
)

type Event struct {
	Boundary  string    `json:"boundary"`
	Indicator string    `json:"indicator"`
	Features  int       `json:"features"`
	Estimated int       `json:"estimated"`
	Fallback  bool      `json:"fallback"`
	TS        time.Time `json:"ts"`
}

type Publisher struct {
	topic   string
	events  chan Event
	prod    sarama.AsyncProducer
	logger  *slog.Logger
	clock   clockwork.Clock
	stopped chan struct{}
	errDone chan struct{}

	mu     sync.RWMutex
	closed bool
}

func producerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false
	return cfg
}

func NewPublisher(brokers []string, topic string, queueSize int, logger *slog.Logger) (*Publisher, error) {
	prod, err := sarama.NewAsyncProducer(brokers, producerConfig())
	if err != nil {
		return nil, fmt.Errorf("loadevents: create async producer: %w", err)
	}
	return newPublisher(prod, topic, queueSize, logger, clockwork.NewRealClock()), nil
}

func newPublisher(prod sarama.AsyncProducer, topic string, queueSize int, logger *slog.Logger, clock clockwork.Clock) *Publisher {
	if queueSize <= 0 {
		queueSize = 256
	}
	p := &Publisher{
		topic:   topic,
		events:  make(chan Event, queueSize),
		prod:    prod,
		logger:  logger,
		clock:   clock,
		stopped: make(chan struct{}),
		errDone: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				p.logger.Error("loadevents: marshal", "err", err)
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(ev.Boundary + "/" + ev.Indicator),
				Value: sarama.ByteEncoder(b),
			}
		}
	}()

	go func() {
		defer close(p.errDone)
		for err := range p.prod.Errors() {
			if err != nil {
				p.logger.Warn("loadevents: producer error", "err", err.Err, "topic", p.topic)
			}
		}
	}()

	return p
}

// OnDataLoad is a data-loaded callback for the renderer.
func (p *Publisher) OnDataLoad(c model.RegionCollection) {
	est := 0
	for _, f := range c.Features {
		if f.ScoreEstimated {
			est++
		}
	}
	p.Publish(Event{
		Boundary:  c.Request.BoundaryID,
		Indicator: c.Request.IndicatorID,
		Features:  c.Len(),
		Estimated: est,
		Fallback:  c.Fallback,
		TS:        p.clock.Now().UTC(),
	})
}

// Publish queues ev without blocking. Events published after Close are dropped.
func (p *Publisher) Publish(ev Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.logger.Debug("loadevents: publisher closed, dropping event", "boundary", ev.Boundary, "indicator", ev.Indicator)
		return
	}
	select {
	case p.events <- ev:
	default:
		// queue full, drop rather than stall the renderer
		p.logger.Debug("loadevents: queue full, dropping event", "boundary", ev.Boundary, "indicator", ev.Indicator)
	}
}

// Close drains queued events and closes the producer. Calling it again is a no-op.
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

	err := p.prod.Close()
	<-p.errDone
	if err != nil {
		return fmt.Errorf("loadevents: close producer: %w", err)
	}
	return nil
}
