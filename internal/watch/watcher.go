// Package watch keeps broadcast feeds in sync with the persistent store.
// Each watched collection gets a watcher that either consumes the store's
// mutation-notification stream or, when notifications are unavailable,
// polls mutation timestamps. The two paths are mutually exclusive per
// collection.
package watch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nayanladumor10/Latest-backend/internal/feeds"
	"github.com/nayanladumor10/Latest-backend/internal/metrics"
	"github.com/nayanladumor10/Latest-backend/internal/snapshot"
	"github.com/nayanladumor10/Latest-backend/internal/stats"
	"github.com/nayanladumor10/Latest-backend/internal/store"
	"github.com/nayanladumor10/Latest-backend/pkg/logging"
)

// State is the watcher lifecycle state
type State int32

// Watcher states
const (
	StateConnecting State = iota
	StateConnected
	StateReconnecting
	StatePolling
)

// String implements fmt.Stringer
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StatePolling:
		return "polling"
	default:
		return "unknown"
	}
}

// Broadcaster fans an event out to a room (or all connections when empty)
type Broadcaster interface {
	Broadcast(event string, payload interface{}, room string)
}

// Config holds change-detection tunables
type Config struct {
	// SettleDelay is the pause between a mutation notification and the
	// full re-fetch, letting the write fully land first.
	SettleDelay time.Duration
	// ReconnectDelay is the fixed retry delay after a notification-channel
	// failure. The reference cadence has no backoff growth.
	ReconnectDelay time.Duration
	// PollInterval is the fallback polling period.
	PollInterval time.Duration
}

// DefaultConfig returns the reference timing
func DefaultConfig() Config {
	return Config{
		SettleDelay:    100 * time.Millisecond,
		ReconnectDelay: 5 * time.Second,
		PollInterval:   2 * time.Second,
	}
}

// Definition describes one watched collection
type Definition struct {
	Collection string
	FeedKind   string
	// Rooms receiving the full-listing broadcast
	Rooms []string
	// Fetch loads the full current listing
	Fetch func(ctx context.Context) (interface{}, error)
	// FeedsDashboard marks collections whose mutations also move the
	// dashboard aggregates
	FeedsDashboard bool
}

// flightGroup coalesces concurrent refreshes per key. A request that
// arrives while a fetch is already in flight may be answered by a fetch
// that began before the mutation prompting the request, so each request
// retries until it observes a fetch that started at or after its own
// arrival.
type flightGroup struct {
	group singleflight.Group

	mu   sync.Mutex
	gens map[string]int64
}

func newFlightGroup() *flightGroup {
	return &flightGroup{gens: make(map[string]int64)}
}

// Do runs fn for key, coalescing concurrent callers onto one flight while
// guaranteeing every caller's result reflects a fetch no older than the
// call itself.
func (fg *flightGroup) Do(key string, fn func()) {
	fg.mu.Lock()
	fg.gens[key]++
	want := fg.gens[key]
	fg.mu.Unlock()

	for {
		observed, _, _ := fg.group.Do(key, func() (interface{}, error) {
			fg.mu.Lock()
			gen := fg.gens[key]
			fg.mu.Unlock()
			fn()
			return gen, nil
		})
		if observed.(int64) >= want {
			return
		}
	}
}

// Watcher drives change detection for a single collection
type Watcher struct {
	def     Definition
	cfg     Config
	store   store.Store
	cache   *snapshot.Cache
	agg     stats.Aggregator
	bus     Broadcaster
	logger  logging.Logger
	metrics *metrics.Metrics
	flights *flightGroup

	state    atomic.Int32
	lastSeen time.Time
}

func newWatcher(def Definition, cfg Config, st store.Store, cache *snapshot.Cache, agg stats.Aggregator,
	bus Broadcaster, flights *flightGroup, logger logging.Logger, m *metrics.Metrics) *Watcher {
	return &Watcher{
		def:     def,
		cfg:     cfg,
		store:   st,
		cache:   cache,
		agg:     agg,
		bus:     bus,
		flights: flights,
		logger:  logger,
		metrics: m,
	}
}

// State returns the current lifecycle state
func (w *Watcher) State() State {
	return State(w.state.Load())
}

// Collection returns the watched collection name
func (w *Watcher) Collection() string {
	return w.def.Collection
}

func (w *Watcher) setState(s State) {
	w.state.Store(int32(s))
	if w.metrics != nil {
		w.metrics.WatcherTransitions.WithLabelValues(w.def.Collection, s.String()).Inc()
	}
}

// Run drives the Connecting -> Connected -> Reconnecting cycle until the
// context is cancelled. When the store does not support notifications at
// all, it degrades to the polling loop and never returns to notifications.
func (w *Watcher) Run(ctx context.Context) {
	for ctx.Err() == nil {
		w.setState(StateConnecting)

		sub, err := w.store.Subscribe(ctx, w.def.Collection)
		if errors.Is(err, store.ErrChangeStreamsUnsupported) {
			w.logger.WithField("collection", w.def.Collection).Info("Change notifications unavailable, polling instead")
			w.runPolling(ctx)
			return
		}
		if err != nil {
			w.logger.WithError(err).WithField("collection", w.def.Collection).Warn("Failed to subscribe to change notifications")
			w.setState(StateReconnecting)
			if !sleepCtx(ctx, w.cfg.ReconnectDelay) {
				return
			}
			continue
		}

		w.setState(StateConnected)
		w.logger.WithField("collection", w.def.Collection).Info("Watching change notifications")

		// resync: mutations may have happened while unsubscribed
		w.Refresh(ctx)

		for event := range sub.Events() {
			w.handleChange(ctx, event, "notify")
		}
		_ = sub.Close()

		if ctx.Err() != nil {
			return
		}

		w.logger.WithError(sub.Err()).WithField("collection", w.def.Collection).Warn("Notification channel lost, reconnecting")
		w.setState(StateReconnecting)
		if !sleepCtx(ctx, w.cfg.ReconnectDelay) {
			return
		}
	}
}

// runPolling compares the collection's newest mutation timestamp on a fixed
// period and runs the refresh sequence when it advances.
func (w *Watcher) runPolling(ctx context.Context) {
	w.setState(StatePolling)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ts, err := w.store.LastModified(ctx, w.def.Collection)
			if err != nil {
				w.logger.WithError(err).WithField("collection", w.def.Collection).Warn("Failed to poll mutation timestamp")
				continue
			}
			if !ts.After(w.lastSeen) {
				continue
			}
			w.lastSeen = ts
			if w.metrics != nil {
				w.metrics.ChangeEvents.WithLabelValues(w.def.Collection, "poll", "poll").Inc()
			}
			w.refreshWithDashboard(ctx)
		}
	}
}

// handleChange performs both sends of the low-latency/consistency
// tradeoff: the minimal event immediately, the full listing after the
// settle delay.
func (w *Watcher) handleChange(ctx context.Context, event store.ChangeEvent, source string) {
	if w.metrics != nil {
		w.metrics.ChangeEvents.WithLabelValues(event.Collection, event.Operation, source).Inc()
	}

	w.bus.Broadcast(event.Collection+":"+event.Operation, map[string]interface{}{
		"collection": event.Collection,
		"operation":  event.Operation,
		"documentId": event.DocumentID,
	}, "")

	if !sleepCtx(ctx, w.cfg.SettleDelay) {
		return
	}

	w.refreshWithDashboard(ctx)
}

func (w *Watcher) refreshWithDashboard(ctx context.Context) {
	w.Refresh(ctx)
	if w.def.FeedsDashboard {
		w.refreshDashboard(ctx)
	}
}

// Refresh re-fetches the full listing, commits it to the snapshot cache and
// broadcasts it. Concurrent refreshes of the same collection coalesce, but
// a refresh requested while a fetch is already running re-fetches once the
// running fetch finishes so a post-mutation request never settles on
// pre-mutation data.
func (w *Watcher) Refresh(ctx context.Context) {
	w.flights.Do(w.def.Collection, func() {
		payload, err := w.def.Fetch(ctx)
		if err != nil {
			// transient fetch failure: previous cache retained, no broadcast
			w.logger.WithError(err).WithField("collection", w.def.Collection).Warn("Failed to fetch collection listing")
			return
		}
		if !w.cache.Commit(w.def.FeedKind, payload) {
			if w.metrics != nil {
				w.metrics.SnapshotRejections.WithLabelValues(w.def.FeedKind).Inc()
			}
			return
		}
		event := feeds.UpdateEvent(w.def.FeedKind)
		for _, room := range w.def.Rooms {
			w.bus.Broadcast(event, payload, room)
		}
	})
}

func (w *Watcher) refreshDashboard(ctx context.Context) {
	w.flights.Do(snapshot.FeedDashboardStats, func() {
		dashboard, err := w.agg.ComputeDashboardStats(ctx)
		if err != nil {
			w.logger.WithError(err).Warn("Failed to compute dashboard stats")
			return
		}
		if !w.cache.Commit(snapshot.FeedDashboardStats, dashboard) {
			if w.metrics != nil {
				w.metrics.SnapshotRejections.WithLabelValues(snapshot.FeedDashboardStats).Inc()
			}
			return
		}
		w.bus.Broadcast(feeds.EventDashboardStats, dashboard, feeds.RoomDashboard)
	})
}

// sleepCtx pauses for d; false means the context was cancelled first
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
