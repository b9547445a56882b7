// Package forward batches outcome notifications and ships them to an
// external SIEM sink off the capture hot path.
package forward

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"warden/core"
	"warden/metrics"
	"warden/stream"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// Config controls batching and the sink endpoint. Batch size and
// flush interval are forwarder-owned; producers never wait on them.
type Config struct {
	Endpoint      string
	AuthToken     string
	BatchSize     int
	FlushInterval time.Duration
	Timeout       time.Duration
}

func DefaultConfig() Config {
	return Config{
		BatchSize:     100,
		FlushInterval: 5 * time.Second,
		Timeout:       10 * time.Second,
	}
}

// Forwarder subscribes to the outcome stream, buffers notifications,
// and flushes msgpack-encoded batches over HTTP. A circuit breaker
// sheds batches while the sink is failing rather than queuing without
// bound.
type Forwarder struct {
	cfg     Config
	client  *http.Client
	breaker *core.CircuitBreaker
	bus     *stream.Bus
	logger  *zap.SugaredLogger

	mu    sync.Mutex
	batch []core.Notification

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewForwarder(cfg Config, bus *stream.Bus, logger *zap.SugaredLogger) *Forwarder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultConfig().FlushInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Forwarder{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: core.MustNewCircuitBreaker(core.DefaultCircuitBreakerConfig()),
		bus:     bus,
		logger:  logger,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start subscribes to the bus and runs the batching loop until Stop.
func (f *Forwarder) Start() {
	ch, unsubscribe := f.bus.Subscribe("siem_forwarder", 4*f.cfg.BatchSize)

	go func() {
		defer close(f.done)
		defer unsubscribe()

		ticker := time.NewTicker(f.cfg.FlushInterval)
		defer ticker.Stop()

		for {
			select {
			case n, ok := <-ch:
				if !ok {
					f.flush()
					return
				}
				if f.append(n) {
					f.flush()
				}
			case <-ticker.C:
				f.flush()
			case <-f.stop:
				f.flush()
				return
			}
		}
	}()
}

// Stop flushes the pending batch and shuts the loop down.
func (f *Forwarder) Stop() {
	f.stopOnce.Do(func() { close(f.stop) })
	<-f.done
}

// append buffers one notification and reports whether the batch is
// full.
func (f *Forwarder) append(n core.Notification) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batch = append(f.batch, n)
	return len(f.batch) >= f.cfg.BatchSize
}

func (f *Forwarder) takeBatch() []core.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	batch := f.batch
	f.batch = nil
	return batch
}

func (f *Forwarder) flush() {
	batch := f.takeBatch()
	if len(batch) == 0 {
		return
	}

	if err := f.breaker.Allow(); err != nil {
		metrics.ForwarderBatches.WithLabelValues("shed").Inc()
		f.logger.Warnw("SIEM sink circuit open, shedding batch",
			"batch_size", len(batch), "error", err)
		return
	}

	if err := f.send(batch); err != nil {
		f.breaker.RecordFailure()
		metrics.ForwarderBatches.WithLabelValues("failure").Inc()
		f.logger.Errorw("Failed to forward batch to SIEM sink",
			"batch_size", len(batch), "endpoint", f.cfg.Endpoint, "error", err)
		return
	}
	f.breaker.RecordSuccess()
	metrics.ForwarderBatches.WithLabelValues("success").Inc()
	f.logger.Debugw("Forwarded batch to SIEM sink", "batch_size", len(batch))
}

func (f *Forwarder) send(batch []core.Notification) error {
	body, err := msgpack.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to encode batch: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), f.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/msgpack")
	if f.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+f.cfg.AuthToken)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sink returned status %d", resp.StatusCode)
	}
	return nil
}
