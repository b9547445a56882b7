// Package monitor wires the capture pipeline together: store, policy
// engine, quarantine manager, and the outcome stream.
package monitor

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"warden/aggregate"
	"warden/core"
	"warden/metrics"
	"warden/policy"
	"warden/quarantine"
	"warden/storage"
	"warden/stream"

	"go.uber.org/zap"
)

// Service is the trust layer's front door. Producers call
// CaptureEvent; everything downstream of the verdict (stream fan-out,
// SIEM forwarding, dashboards) hangs off the bus.
type Service struct {
	events     storage.EventStore
	registry   *policy.Registry
	engine     *policy.Engine
	quarantine *quarantine.Manager
	bus        *stream.Bus
	logger     *zap.SugaredLogger

	captureCount atomic.Int64
	captureNanos atomic.Int64

	aggStarted  bool
	aggStopOnce sync.Once
	aggStop     chan struct{}
	aggDone     chan struct{}
}

func NewService(
	events storage.EventStore,
	registry *policy.Registry,
	engine *policy.Engine,
	quarantineManager *quarantine.Manager,
	bus *stream.Bus,
	logger *zap.SugaredLogger,
) *Service {
	return &Service{
		events:     events,
		registry:   registry,
		engine:     engine,
		quarantine: quarantineManager,
		bus:        bus,
		logger:     logger,
		aggStop:    make(chan struct{}),
		aggDone:    make(chan struct{}),
	}
}

// CaptureEvent validates and stores the event, evaluates it against
// the enabled policies, opens a quarantine when the verdict demands
// one, and publishes the outcome. The store append and the verdict
// are synchronous; subscribers are never waited on.
func (s *Service) CaptureEvent(ctx context.Context, event *core.SecurityEvent) (*core.Outcome, error) {
	start := time.Now()

	if err := s.events.Append(ctx, event); err != nil {
		if core.IsValidation(err) {
			metrics.EventsRejected.Inc()
		}
		return nil, err
	}

	verdict, err := s.engine.EvaluateEvent(ctx, event)
	if err != nil {
		return nil, err
	}

	if verdict.Action == core.ActionQuarantine {
		reason := strings.Join(verdict.MatchedRules, ", ")
		if _, err := s.quarantine.Quarantine(ctx, event.SandboxID, reason, *event); err != nil {
			return nil, err
		}
	}

	outcome := &core.Outcome{
		Event:        *event,
		Action:       verdict.Action,
		MatchedRules: verdict.MatchedRules,
	}
	s.bus.Publish(core.Notification{
		Kind:      core.NotificationOutcome,
		Timestamp: time.Now().UTC(),
		Outcome:   outcome,
	})

	elapsed := time.Since(start)
	metrics.EventsCaptured.WithLabelValues(string(event.Type), string(event.Severity)).Inc()
	metrics.CaptureDuration.Observe(elapsed.Seconds())
	s.captureCount.Add(1)
	s.captureNanos.Add(elapsed.Nanoseconds())

	s.logger.Debugw("Captured security event",
		"event_id", event.ID, "sandbox_id", event.SandboxID,
		"type", event.Type, "severity", event.Severity,
		"action", outcome.Action, "elapsed", elapsed)
	return outcome, nil
}

// GetEvents reads a snapshot of stored events.
func (s *Service) GetEvents(ctx context.Context, filters storage.EventFilters) ([]core.SecurityEvent, error) {
	return s.events.GetEvents(ctx, filters)
}

// ApplyPolicy registers or updates a policy.
func (s *Service) ApplyPolicy(p *core.SecurityPolicy) error {
	return s.registry.Apply(p)
}

// RemovePolicy removes a policy; unknown IDs are a no-op.
func (s *Service) RemovePolicy(policyID string) {
	s.registry.Remove(policyID)
}

// Policies lists the registered policies in application order.
func (s *Service) Policies() []core.SecurityPolicy {
	return s.registry.List()
}

// AggregateWindow analyzes the stored events of the trailing window
// and publishes an anomaly notification for every flagged event.
func (s *Service) AggregateWindow(ctx context.Context, window time.Duration) (aggregate.Report, error) {
	now := time.Now().UTC()
	since := now.Add(-window)
	events, err := s.events.GetEvents(ctx, storage.EventFilters{StartTime: &since})
	if err != nil {
		return aggregate.Report{}, err
	}

	report := aggregate.Aggregate(events, window, now)
	for i := range report.Anomalies {
		anomaly := report.Anomalies[i]
		s.bus.Publish(core.Notification{
			Kind:      core.NotificationAnomaly,
			Timestamp: now,
			Anomaly:   &anomaly,
		})
	}
	return report, nil
}

// Correlate runs the correlation passes over the trailing window.
func (s *Service) Correlate(ctx context.Context, window time.Duration) ([]aggregate.CorrelationResult, error) {
	since := time.Now().UTC().Add(-window)
	events, err := s.events.GetEvents(ctx, storage.EventFilters{StartTime: &since})
	if err != nil {
		return nil, err
	}
	return aggregate.Correlate(events), nil
}

// StartAggregation runs AggregateWindow every interval until Stop.
func (s *Service) StartAggregation(interval, window time.Duration) {
	s.aggStarted = true
	go func() {
		defer close(s.aggDone)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				report, err := s.AggregateWindow(context.Background(), window)
				if err != nil {
					s.logger.Errorw("Periodic aggregation failed", "error", err)
					continue
				}
				if len(report.Anomalies) > 0 {
					s.logger.Infow("Aggregation pass flagged anomalies",
						"anomalies", len(report.Anomalies), "patterns", len(report.Patterns))
				}
			case <-s.aggStop:
				return
			}
		}
	}()
}

// Stop halts periodic aggregation, if it was started.
func (s *Service) Stop() {
	s.aggStopOnce.Do(func() { close(s.aggStop) })
	if s.aggStarted {
		<-s.aggDone
	}
}

// statsWindow is the trailing window the per-type/severity breakdowns
// and the rate cover.
const statsWindow = 15 * time.Minute

// Stats is the dashboard summary. The breakdown maps and the rate
// cover the trailing stats window; the totals cover everything stored.
type Stats struct {
	TotalEvents       int64          `json:"total_events"`
	EventsByType      map[string]int `json:"events_by_type"`
	EventsBySeverity  map[string]int `json:"events_by_severity"`
	EventsPerSecond   float64        `json:"events_per_second"`
	ActiveQuarantines int            `json:"active_quarantines"`
	Policies          int            `json:"policies"`
	AvgCaptureMS      float64        `json:"avg_capture_ms"`
	Subscribers       int            `json:"subscribers"`
}

// Stats reports current counters. AvgCaptureMS is measured from real
// capture latency, not a placeholder.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	total, err := s.events.EventCount(ctx)
	if err != nil {
		return nil, err
	}
	active, err := s.quarantine.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	since := time.Now().UTC().Add(-statsWindow)
	recent, err := s.events.GetEvents(ctx, storage.EventFilters{StartTime: &since})
	if err != nil {
		return nil, err
	}
	byType := make(map[string]int)
	bySeverity := make(map[string]int)
	for i := range recent {
		byType[string(recent[i].Type)]++
		bySeverity[string(recent[i].Severity)]++
	}

	var avgMS float64
	if n := s.captureCount.Load(); n > 0 {
		avgMS = float64(s.captureNanos.Load()) / float64(n) / float64(time.Millisecond)
	}
	return &Stats{
		TotalEvents:       total,
		EventsByType:      byType,
		EventsBySeverity:  bySeverity,
		EventsPerSecond:   float64(len(recent)) / statsWindow.Seconds(),
		ActiveQuarantines: len(active),
		Policies:          len(s.registry.List()),
		AvgCaptureMS:      avgMS,
		Subscribers:       s.bus.SubscriberCount(),
	}, nil
}
