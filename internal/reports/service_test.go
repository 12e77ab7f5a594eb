package reports

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	logrustest "github.com/sirupsen/logrus/hooks/test"

	"github.com/nayanladumor10/Latest-backend/internal/feeds"
	"github.com/nayanladumor10/Latest-backend/internal/models"
	"github.com/nayanladumor10/Latest-backend/internal/snapshot"
)

type stubAggregator struct {
	mu      sync.Mutex
	compute func(kind string, filter models.ReportFilter) (map[string]interface{}, error)
	filters []models.ReportFilter
}

func (a *stubAggregator) ComputeDashboardStats(_ context.Context) (*models.DashboardStats, error) {
	return &models.DashboardStats{}, nil
}

func (a *stubAggregator) ComputeReport(_ context.Context, kind string, filter models.ReportFilter) (map[string]interface{}, error) {
	a.mu.Lock()
	a.filters = append(a.filters, filter)
	a.mu.Unlock()
	return a.compute(kind, filter)
}

type stubFilters struct {
	filter models.ReportFilter
}

func (s stubFilters) FirstReportFilter() models.ReportFilter { return s.filter }

type captureBus struct {
	mu    sync.Mutex
	calls []struct {
		event string
		room  string
	}
}

func (b *captureBus) Broadcast(event string, _ interface{}, room string) {
	b.mu.Lock()
	b.calls = append(b.calls, struct {
		event string
		room  string
	}{event, room})
	b.mu.Unlock()
}

func (b *captureBus) count(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.calls {
		if c.event == event {
			n++
		}
	}
	return n
}

func validSummary(string, models.ReportFilter) (map[string]interface{}, error) {
	return map[string]interface{}{
		"totalEarnings":  1240.50,
		"totalRides":     31,
		"completedRides": 28,
		"cancelledRides": 3,
	}, nil
}

func newTestService(agg *stubAggregator, bus *captureBus, filters FilterSource) (*Service, *snapshot.Cache) {
	logger, _ := logrustest.NewNullLogger()
	cache := snapshot.NewCache(logger)
	cfg := DefaultConfig()
	cfg.InterFeedDelay = time.Millisecond
	return NewService(cfg, agg, cache, bus, filters, logger, nil), cache
}

func TestBroadcastFeed_CommitsAndBroadcasts(t *testing.T) {
	agg := &stubAggregator{compute: validSummary}
	bus := &captureBus{}
	svc, cache := newTestService(agg, bus, stubFilters{})

	if err := svc.BroadcastFeed(context.Background(), snapshot.FeedSummary); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bus.count(feeds.EventReportsSummaryUpdate) != 1 {
		t.Fatalf("expected one summary broadcast")
	}
	if bus.calls[0].room != feeds.RoomReports {
		t.Fatalf("report broadcasts belong to the reports room, got %q", bus.calls[0].room)
	}
	if _, ok := cache.Get(snapshot.FeedSummary); !ok {
		t.Fatalf("validated report must be cached for late joiners")
	}
}

func TestBroadcastFeed_OverlappingCycleSkipped(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var startedOnce sync.Once
	agg := &stubAggregator{compute: func(kind string, f models.ReportFilter) (map[string]interface{}, error) {
		startedOnce.Do(func() {
			close(started)
			<-release
		})
		return validSummary(kind, f)
	}}
	bus := &captureBus{}
	svc, _ := newTestService(agg, bus, stubFilters{})

	done := make(chan error, 1)
	go func() { done <- svc.BroadcastFeed(context.Background(), snapshot.FeedSummary) }()
	<-started

	if err := svc.BroadcastFeed(context.Background(), snapshot.FeedSummary); !errors.Is(err, ErrCycleInProgress) {
		t.Fatalf("expected ErrCycleInProgress, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first cycle should finish cleanly: %v", err)
	}

	// the guard must not stay wedged
	if err := svc.BroadcastFeed(context.Background(), snapshot.FeedSummary); err != nil {
		t.Fatalf("guard left locked after cycle: %v", err)
	}
}

func TestBroadcastFeed_UnknownFeed(t *testing.T) {
	svc, _ := newTestService(&stubAggregator{compute: validSummary}, &captureBus{}, stubFilters{})
	if err := svc.BroadcastFeed(context.Background(), "nonsense"); err == nil {
		t.Fatalf("expected error for unknown feed")
	}
}

func TestBroadcastFeed_UsesRepresentativeFilter(t *testing.T) {
	agg := &stubAggregator{compute: validSummary}
	want := models.ReportFilter{From: "2024-03-01", To: "2024-03-31"}
	svc, _ := newTestService(agg, &captureBus{}, stubFilters{filter: want})

	if err := svc.BroadcastFeed(context.Background(), snapshot.FeedSummary); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(agg.filters) != 1 || agg.filters[0] != want {
		t.Fatalf("expected the connection filter to reach the aggregator, got %+v", agg.filters)
	}
}

func TestComputeValidated_RejectsAllZeroSummary(t *testing.T) {
	agg := &stubAggregator{compute: func(string, models.ReportFilter) (map[string]interface{}, error) {
		return map[string]interface{}{
			"totalEarnings":  0.0,
			"totalRides":     0,
			"completedRides": 0,
			"cancelledRides": 0,
		}, nil
	}}
	svc, cache := newTestService(agg, &captureBus{}, stubFilters{})

	if _, err := svc.ComputeValidated(context.Background(), snapshot.FeedSummary, models.ReportFilter{}); err == nil {
		t.Fatalf("all-zero summary must be rejected")
	}
	if _, ok := cache.Get(snapshot.FeedSummary); ok {
		t.Fatalf("rejected payload must not be cached")
	}
}

func TestComputeValidated_RejectsAllZeroEarnings(t *testing.T) {
	agg := &stubAggregator{compute: func(string, models.ReportFilter) (map[string]interface{}, error) {
		return map[string]interface{}{
			"chartData": []interface{}{},
			"summary": map[string]interface{}{
				"totalEarnings": 0.0,
				"totalRides":    0,
			},
		}, nil
	}}
	svc, _ := newTestService(agg, &captureBus{}, stubFilters{})

	if _, err := svc.ComputeValidated(context.Background(), snapshot.FeedEarnings, models.ReportFilter{}); err == nil {
		t.Fatalf("earnings with zero rides and zero revenue must be rejected")
	}
}

func TestComputeValidated_RejectsMalformedShape(t *testing.T) {
	agg := &stubAggregator{compute: func(string, models.ReportFilter) (map[string]interface{}, error) {
		return map[string]interface{}{"totalEarnings": "lots"}, nil
	}}
	svc, _ := newTestService(agg, &captureBus{}, stubFilters{})

	if _, err := svc.ComputeValidated(context.Background(), snapshot.FeedSummary, models.ReportFilter{}); err == nil {
		t.Fatalf("summary without numeric fields must fail validation")
	}
}

func TestTriggerReportsUpdate_RunsSummaryThenEarnings(t *testing.T) {
	agg := &stubAggregator{compute: func(kind string, _ models.ReportFilter) (map[string]interface{}, error) {
		if kind == snapshot.FeedEarnings {
			return map[string]interface{}{
				"chartData": []interface{}{map[string]interface{}{"date": "2024-03-01", "earnings": 410.0}},
				"summary":   map[string]interface{}{"totalEarnings": 410.0, "totalRides": 9},
			}, nil
		}
		return validSummary(kind, models.ReportFilter{})
	}}
	bus := &captureBus{}
	svc, _ := newTestService(agg, bus, stubFilters{})

	svc.TriggerReportsUpdate(context.Background())

	if bus.count(feeds.EventReportsSummaryUpdate) != 1 {
		t.Fatalf("expected summary broadcast")
	}
	if bus.count(feeds.EventEarningsReport) != 1 {
		t.Fatalf("expected earnings broadcast")
	}
	if bus.calls[0].event != feeds.EventReportsSummaryUpdate {
		t.Fatalf("summary must go out before earnings")
	}
}
