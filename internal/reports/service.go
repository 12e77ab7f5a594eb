// Package reports periodically recomputes analytical report payloads,
// validates them and broadcasts them to the reports room. Overlapping
// cycles for the same feed are skipped, never queued.
package reports

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nayanladumor10/Latest-backend/internal/feeds"
	"github.com/nayanladumor10/Latest-backend/internal/metrics"
	"github.com/nayanladumor10/Latest-backend/internal/models"
	"github.com/nayanladumor10/Latest-backend/internal/snapshot"
	"github.com/nayanladumor10/Latest-backend/internal/stats"
	"github.com/nayanladumor10/Latest-backend/pkg/logging"
)

// ErrCycleInProgress is returned when a broadcast cycle for the feed is
// already running and the trigger is skipped.
var ErrCycleInProgress = errors.New("reports: broadcast cycle already in progress")

// Broadcaster fans an event out to a room
type Broadcaster interface {
	Broadcast(event string, payload interface{}, room string)
}

// FilterSource yields a representative report filter across connections
type FilterSource interface {
	FirstReportFilter() models.ReportFilter
}

// Config holds reports tunables
type Config struct {
	SummaryInterval  time.Duration
	EarningsInterval time.Duration
	// InterFeedDelay spaces the feeds of a triggered update to avoid bursts
	InterFeedDelay time.Duration
}

// DefaultConfig returns the reference cadence
func DefaultConfig() Config {
	return Config{
		SummaryInterval:  5 * time.Minute,
		EarningsInterval: 10 * time.Minute,
		InterFeedDelay:   500 * time.Millisecond,
	}
}

// Service wraps the snapshot cache with guarded report broadcast cycles
type Service struct {
	cfg     Config
	agg     stats.Aggregator
	cache   *snapshot.Cache
	bus     Broadcaster
	filters FilterSource
	logger  logging.Logger
	metrics *metrics.Metrics

	// one guard per feed; TryLock skips rather than queues, and the
	// deferred unlock cannot leave the guard wedged after a failed cycle
	guards map[string]*sync.Mutex
}

// NewService creates a reports broadcast service
func NewService(cfg Config, agg stats.Aggregator, cache *snapshot.Cache, bus Broadcaster,
	filters FilterSource, logger logging.Logger, m *metrics.Metrics) *Service {
	return &Service{
		cfg:     cfg,
		agg:     agg,
		cache:   cache,
		bus:     bus,
		filters: filters,
		logger:  logger,
		metrics: m,
		guards: map[string]*sync.Mutex{
			snapshot.FeedSummary:       {},
			snapshot.FeedEarnings:      {},
			snapshot.FeedDriversReport: {},
			snapshot.FeedRidesReport:   {},
		},
	}
}

// Run drives the periodic cycles until the context is cancelled
func (s *Service) Run(ctx context.Context) {
	summary := time.NewTicker(s.cfg.SummaryInterval)
	earnings := time.NewTicker(s.cfg.EarningsInterval)
	defer summary.Stop()
	defer earnings.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-summary.C:
			if err := s.BroadcastFeed(ctx, snapshot.FeedSummary); err != nil {
				s.logCycleSkip(snapshot.FeedSummary, err)
			}
		case <-earnings.C:
			if err := s.BroadcastFeed(ctx, snapshot.FeedEarnings); err != nil {
				s.logCycleSkip(snapshot.FeedEarnings, err)
			}
		}
	}
}

// TriggerReportsUpdate runs an out-of-band cycle for every report feed,
// serialized against the periodic ones by the same guards.
func (s *Service) TriggerReportsUpdate(ctx context.Context) {
	if err := s.BroadcastFeed(ctx, snapshot.FeedSummary); err != nil {
		s.logCycleSkip(snapshot.FeedSummary, err)
	}
	select {
	case <-ctx.Done():
		return
	case <-time.After(s.cfg.InterFeedDelay):
	}
	if err := s.BroadcastFeed(ctx, snapshot.FeedEarnings); err != nil {
		s.logCycleSkip(snapshot.FeedEarnings, err)
	}
}

// BroadcastFeed runs one fetch -> validate -> commit -> broadcast cycle.
// A cycle already in flight for the feed makes this a no-op returning
// ErrCycleInProgress.
func (s *Service) BroadcastFeed(ctx context.Context, feedKind string) error {
	guard, ok := s.guards[feedKind]
	if !ok {
		return errors.New("reports: unknown feed " + feedKind)
	}
	if !guard.TryLock() {
		s.countCycle(feedKind, "skipped")
		return ErrCycleInProgress
	}
	defer guard.Unlock()

	filter := s.filters.FirstReportFilter()

	payload, err := s.ComputeValidated(ctx, feedKind, filter)
	if err != nil {
		s.countCycle(feedKind, "failed")
		s.logger.WithError(err).WithField("feed", feedKind).Warn("Report cycle produced no broadcast")
		return nil
	}

	s.bus.Broadcast(feeds.UpdateEvent(feedKind), payload, feeds.RoomReports)
	s.countCycle(feedKind, "broadcast")
	return nil
}

// ComputeValidated fetches one report, rejects invalid or meaningless
// payloads and commits good ones to the snapshot cache.
func (s *Service) ComputeValidated(ctx context.Context, feedKind string, filter models.ReportFilter) (map[string]interface{}, error) {
	payload, err := s.agg.ComputeReport(ctx, feedKind, filter)
	if err != nil {
		return nil, err
	}
	if !snapshot.Validate(feedKind, payload) {
		return nil, errors.New("report payload failed validation")
	}
	if meaningless(feedKind, payload) {
		return nil, errors.New("report payload is empty of signal")
	}
	if !s.cache.Commit(feedKind, payload) {
		return nil, errors.New("report payload rejected by snapshot cache")
	}
	return payload, nil
}

// meaningless rejects payloads that validate structurally but carry no
// signal, like all-zero earnings with zero rides.
func meaningless(feedKind string, payload map[string]interface{}) bool {
	switch feedKind {
	case snapshot.FeedSummary:
		return numberValue(payload["totalEarnings"]) == 0 && numberValue(payload["totalRides"]) == 0
	case snapshot.FeedEarnings:
		summary, ok := payload["summary"].(map[string]interface{})
		if !ok {
			return false
		}
		return numberValue(summary["totalEarnings"]) == 0 && numberValue(summary["totalRides"]) == 0
	default:
		return false
	}
}

func numberValue(v interface{}) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}

func (s *Service) countCycle(feedKind, outcome string) {
	if s.metrics != nil {
		s.metrics.ReportCycles.WithLabelValues(feedKind, outcome).Inc()
	}
}

func (s *Service) logCycleSkip(feedKind string, err error) {
	if errors.Is(err, ErrCycleInProgress) {
		s.logger.WithField("feed", feedKind).Debug("Skipping overlapping report cycle")
		return
	}
	s.logger.WithError(err).WithField("feed", feedKind).Warn("Report cycle failed")
}
