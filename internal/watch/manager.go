package watch

import (
	"context"
	"fmt"

	"github.com/nayanladumor10/Latest-backend/internal/feeds"
	"github.com/nayanladumor10/Latest-backend/internal/metrics"
	"github.com/nayanladumor10/Latest-backend/internal/snapshot"
	"github.com/nayanladumor10/Latest-backend/internal/stats"
	"github.com/nayanladumor10/Latest-backend/internal/store"
	"github.com/nayanladumor10/Latest-backend/pkg/logging"
	"github.com/nayanladumor10/Latest-backend/pkg/monitoring"
)

// Manager owns one watcher per watched collection
type Manager struct {
	watchers map[string]*Watcher
	logger   logging.Logger
}

// NewManager builds the standard watcher set over the given collaborators
func NewManager(cfg Config, st store.Store, cache *snapshot.Cache, agg stats.Aggregator,
	bus Broadcaster, logger logging.Logger, m *metrics.Metrics) *Manager {

	// shared so dashboard refreshes coalesce across watchers too
	flights := newFlightGroup()

	defs := []Definition{
		{
			Collection: store.CollectionDrivers,
			FeedKind:   snapshot.FeedDrivers,
			Rooms:      []string{feeds.RoomDrivers, feeds.RoomDashboard},
			Fetch: func(ctx context.Context) (interface{}, error) {
				return st.ListDrivers(ctx)
			},
			FeedsDashboard: true,
		},
		{
			Collection: store.CollectionVehicles,
			FeedKind:   snapshot.FeedVehicles,
			Rooms:      []string{feeds.RoomVehicles, feeds.RoomDashboard},
			Fetch: func(ctx context.Context) (interface{}, error) {
				return st.ListVehicles(ctx)
			},
		},
		{
			Collection: store.CollectionRides,
			FeedKind:   snapshot.FeedRides,
			Rooms:      []string{feeds.RoomRides, feeds.RoomDashboard},
			Fetch: func(ctx context.Context) (interface{}, error) {
				return st.ListRides(ctx)
			},
			FeedsDashboard: true,
		},
		{
			Collection: store.CollectionAdmins,
			FeedKind:   snapshot.FeedAdmins,
			Rooms:      []string{feeds.RoomAdmins},
			Fetch: func(ctx context.Context) (interface{}, error) {
				return st.ListAdmins(ctx)
			},
		},
	}

	watchers := make(map[string]*Watcher, len(defs))
	for _, def := range defs {
		watchers[def.Collection] = newWatcher(def, cfg, st, cache, agg, bus, flights, logger, m)
	}

	return &Manager{watchers: watchers, logger: logger}
}

// Start launches every watcher; they stop when the context is cancelled
func (mgr *Manager) Start(ctx context.Context) {
	for _, w := range mgr.watchers {
		go w.Run(ctx)
	}
}

// Refresh re-fetches and re-broadcasts one collection on demand
func (mgr *Manager) Refresh(ctx context.Context, collection string) error {
	w, ok := mgr.watchers[collection]
	if !ok {
		return fmt.Errorf("unknown collection %q", collection)
	}
	w.Refresh(ctx)
	return nil
}

// States reports every watcher's lifecycle state
func (mgr *Manager) States() map[string]State {
	states := make(map[string]State, len(mgr.watchers))
	for name, w := range mgr.watchers {
		states[name] = w.State()
	}
	return states
}

// HealthCheck reflects watcher connectivity: reconnecting watchers degrade
// the service, they never fail it.
func (mgr *Manager) HealthCheck() monitoring.HealthCheck {
	return func() monitoring.CheckResult {
		reconnecting := 0
		for _, w := range mgr.watchers {
			if w.State() == StateReconnecting {
				reconnecting++
			}
		}
		if reconnecting > 0 {
			return monitoring.CheckResult{
				Status:  monitoring.StatusDegraded,
				Message: fmt.Sprintf("%d watcher(s) reconnecting", reconnecting),
			}
		}
		return monitoring.CheckResult{Status: monitoring.StatusHealthy}
	}
}
