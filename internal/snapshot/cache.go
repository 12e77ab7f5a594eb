// Package snapshot holds the last known-good payload per logical feed.
// Late joiners are answered from here without a store round trip, and a
// transient bad read can never blank out connected dashboards because
// invalid payloads are rejected instead of cached.
package snapshot

import (
	"reflect"
	"sync"
	"time"

	"github.com/nayanladumor10/Latest-backend/pkg/logging"
)

// Feed kinds with a cached snapshot
const (
	FeedDrivers        = "drivers"
	FeedVehicles       = "vehicles"
	FeedRides          = "rides"
	FeedAdmins         = "admins"
	FeedDashboardStats = "dashboard-stats"
	FeedSummary        = "summary"
	FeedEarnings       = "earnings"
	FeedDriversReport  = "drivers-report"
	FeedRidesReport    = "rides-report"
)

// Kinds lists every cached feed in display order
var Kinds = []string{
	FeedDrivers, FeedVehicles, FeedRides, FeedAdmins, FeedDashboardStats,
	FeedSummary, FeedEarnings, FeedDriversReport, FeedRidesReport,
}

type entry struct {
	payload   interface{}
	timestamp time.Time
}

// Cache is the process-scoped snapshot store, one entry per feed kind.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	logger  logging.Logger
}

// NewCache creates an empty snapshot cache
func NewCache(logger logging.Logger) *Cache {
	return &Cache{
		entries: make(map[string]entry),
		logger:  logger,
	}
}

// Validate applies the feed-specific shape rules. Zero values are valid;
// missing structure is not.
func Validate(feedKind string, payload interface{}) bool {
	switch feedKind {
	case FeedSummary:
		m, ok := asMap(payload)
		return ok && isNumber(m["totalEarnings"]) && isNumber(m["totalRides"])
	case FeedEarnings:
		m, ok := asMap(payload)
		return ok && isList(m["chartData"]) && m["summary"] != nil
	case FeedDriversReport:
		m, ok := asMap(payload)
		return ok && isList(m["tableData"])
	case FeedRidesReport:
		m, ok := asMap(payload)
		return ok && isList(m["chartData"])
	case FeedDrivers, FeedVehicles, FeedRides, FeedAdmins:
		return isList(payload)
	case FeedDashboardStats:
		return payload != nil && !isNilPointer(payload)
	default:
		return false
	}
}

// Commit stores the payload only if it validates; otherwise the previous
// entry is retained and a warning is the only observable effect.
func (c *Cache) Commit(feedKind string, payload interface{}) bool {
	if !Validate(feedKind, payload) {
		c.logger.WithFields(logging.Fields{
			"feed": feedKind,
		}).Warn("Rejected invalid snapshot payload, keeping previous data")
		return false
	}

	c.mu.Lock()
	c.entries[feedKind] = entry{payload: payload, timestamp: time.Now().UTC()}
	c.mu.Unlock()
	return true
}

// Get returns the last committed payload for the feed
func (c *Cache) Get(feedKind string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[feedKind]
	if !ok {
		return nil, false
	}
	return e.payload, true
}

// Timestamp returns when the feed was last committed
func (c *Cache) Timestamp(feedKind string) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[feedKind]
	return e.timestamp, ok
}

func asMap(payload interface{}) (map[string]interface{}, bool) {
	m, ok := payload.(map[string]interface{})
	return m, ok && m != nil
}

func isNumber(v interface{}) bool {
	switch v.(type) {
	case int, int32, int64, float32, float64:
		return true
	default:
		return false
	}
}

// isList accepts any non-nil slice or array, typed or not
func isList(v interface{}) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice:
		return !rv.IsNil()
	case reflect.Array:
		return true
	default:
		return false
	}
}

func isNilPointer(v interface{}) bool {
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Ptr && rv.IsNil()
}
