// Package sim manufactures fleet churn: a fixed-period tick advances every
// online driver's position, battery, trip lifecycle and emergency state and
// persists the result, feeding the same change-detection pipeline external
// mutations use.
package sim

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/nayanladumor10/Latest-backend/internal/feeds"
	"github.com/nayanladumor10/Latest-backend/internal/metrics"
	"github.com/nayanladumor10/Latest-backend/internal/models"
	"github.com/nayanladumor10/Latest-backend/internal/snapshot"
	"github.com/nayanladumor10/Latest-backend/internal/store"
	"github.com/nayanladumor10/Latest-backend/pkg/logging"
)

// Broadcaster fans an event out to a room (or all connections when empty)
type Broadcaster interface {
	Broadcast(event string, payload interface{}, room string)
}

// Config holds the simulation tunables. Probabilities are per driver per
// tick with independent draws.
type Config struct {
	TickInterval         time.Duration
	TripProbability      float64 // idle -> active
	EmergencyProbability float64 // active -> emergency
	ResolveProbability   float64 // emergency -> active

	MinSpeed float64 // km/h while on a trip
	MaxSpeed float64

	BatteryDrainIdle     float64 // percent per tick
	BatteryDrainPerSpeed float64 // extra percent per km/h

	MinETA int // minutes on a fresh trip
	MaxETA int
}

// DefaultConfig returns the reference probabilities and timing
func DefaultConfig() Config {
	return Config{
		TickInterval:         3 * time.Second,
		TripProbability:      0.10,
		EmergencyProbability: 0.005,
		ResolveProbability:   0.20,
		MinSpeed:             30,
		MaxSpeed:             80,
		BatteryDrainIdle:     0.05,
		BatteryDrainPerSpeed: 0.002,
		MinETA:               5,
		MaxETA:               20,
	}
}

var destinations = []string{
	"Airport Terminal 2", "Central Station", "Riverside Mall",
	"Tech Park Gate 4", "City Hospital", "Harbor Front", "University Campus",
}

var passengers = []string{
	"Aarav", "Diya", "Kabir", "Meera", "Rohan", "Sana", "Vikram", "Zara",
}

// Engine drives the driver-movement and trip simulation
type Engine struct {
	cfg     Config
	store   store.Store
	cache   *snapshot.Cache
	bus     Broadcaster
	rng     *rand.Rand
	logger  logging.Logger
	metrics *metrics.Metrics
}

// NewEngine creates a simulation engine. The rand source is injected so
// ticks are deterministic under test.
func NewEngine(cfg Config, st store.Store, cache *snapshot.Cache, bus Broadcaster, rng *rand.Rand, logger logging.Logger, m *metrics.Metrics) *Engine {
	return &Engine{
		cfg:     cfg,
		store:   st,
		cache:   cache,
		bus:     bus,
		rng:     rng,
		logger:  logger,
		metrics: m,
	}
}

// Run ticks the simulation until the context is cancelled
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// Tick advances every online driver once and broadcasts the results
func (e *Engine) Tick(ctx context.Context) {
	start := time.Now()

	drivers, err := e.store.ListDrivers(ctx)
	if err != nil {
		e.logger.WithError(err).Warn("Simulation tick skipped: failed to list drivers")
		return
	}

	updated := make([]models.Driver, 0, len(drivers))
	for i := range drivers {
		d := &drivers[i]
		if !d.IsOnline {
			updated = append(updated, *d)
			continue
		}

		before := *d
		alerts := e.advance(d)

		if err := e.store.UpdateDriver(ctx, d); err != nil {
			// this driver's update is skipped for the tick, others proceed;
			// the broadcast keeps the last persisted state so the listing
			// never momentarily loses the driver
			e.logger.WithError(err).WithField("driver_id", d.ID).Warn("Failed to persist simulated driver state")
			updated = append(updated, before)
			continue
		}
		updated = append(updated, *d)

		// emergency alerts bypass the settle delay entirely
		for _, alert := range alerts {
			e.bus.Broadcast(feeds.EventEmergencyAlert, alert, "")
		}
	}

	if e.cache.Commit(snapshot.FeedDrivers, updated) {
		e.bus.Broadcast(feeds.EventDriversUpdate, updated, feeds.RoomDrivers)
		e.bus.Broadcast(feeds.EventDriversUpdate, updated, feeds.RoomDashboard)
	}

	for i := range updated {
		d := &updated[i]
		if d.Status != models.DriverActive {
			continue
		}
		e.bus.Broadcast(feeds.EventLocationUpdate, map[string]interface{}{
			"driverId": d.ID,
			"location": d.Location,
			"speed":    d.Speed,
			"eta":      d.ETA,
		}, feeds.RoomDrivers)
	}

	if e.metrics != nil {
		e.metrics.SimTickDuration.WithLabelValues().Observe(time.Since(start).Seconds())
	}
}

// advance applies the five per-driver checks in their fixed order:
// movement, trip progress, trip assignment, emergency injection, emergency
// resolution. Returned alerts are broadcast by the caller after the state
// is persisted.
func (e *Engine) advance(d *models.Driver) []map[string]interface{} {
	var alerts []map[string]interface{}

	// 1. movement and battery
	e.move(d)

	// 2. trip progress
	if d.Status == models.DriverActive && d.ETA != nil {
		eta := *d.ETA - 1
		if eta <= 0 {
			d.CompleteTrip()
			e.countTransition("trip_completed")
		} else {
			d.ETA = &eta
		}
	}

	// 3. trip assignment
	if d.Status == models.DriverIdle && e.rng.Float64() < e.cfg.TripProbability {
		eta := e.cfg.MinETA + e.rng.Intn(e.cfg.MaxETA-e.cfg.MinETA+1)
		d.AssignTrip(
			destinations[e.rng.Intn(len(destinations))],
			passengers[e.rng.Intn(len(passengers))],
			uuid.New().String(),
			eta,
		)
		e.countTransition("trip_assigned")
	}

	// 4. emergency injection
	if d.Status == models.DriverActive && e.rng.Float64() < e.cfg.EmergencyProbability {
		d.Status = models.DriverEmergency
		e.countTransition("emergency")
		alerts = append(alerts, map[string]interface{}{
			"driverId": d.ID,
			"name":     d.Name,
			"location": d.Location,
			"message":  fmt.Sprintf("Driver %s reported an emergency", d.Name),
		})
	}

	// 5. emergency resolution
	if d.Status == models.DriverEmergency && len(alerts) == 0 && e.rng.Float64() < e.cfg.ResolveProbability {
		d.Status = models.DriverActive
		e.countTransition("emergency_resolved")
	}

	d.LastUpdate = time.Now().UTC()
	return alerts
}

// move updates speed, position and battery according to the current status.
// Only active drivers cover ground; battery only ever decreases.
func (e *Engine) move(d *models.Driver) {
	switch d.Status {
	case models.DriverActive:
		d.Speed = e.cfg.MinSpeed + e.rng.Float64()*(e.cfg.MaxSpeed-e.cfg.MinSpeed)
		heading := e.rng.Float64() * 2 * math.Pi
		distance := d.Speed * e.cfg.TickInterval.Hours() / 111.0 // km -> degrees
		d.Location.Lat += distance * math.Cos(heading)
		d.Location.Lng += distance * math.Sin(heading)
	default:
		d.Speed = 0
	}

	drain := e.cfg.BatteryDrainIdle + d.Speed*e.cfg.BatteryDrainPerSpeed
	d.BatteryLevel = math.Max(0, d.BatteryLevel-drain)
}

func (e *Engine) countTransition(name string) {
	if e.metrics != nil {
		e.metrics.SimTransitions.WithLabelValues(name).Inc()
	}
}
