package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/nayanladumor10/Latest-backend/internal/models"
	sqlfs "github.com/nayanladumor10/Latest-backend/internal/store/sql"
	"github.com/nayanladumor10/Latest-backend/pkg/logging"
)

// collection name -> table name; also the LISTEN whitelist
var collectionTables = map[string]string{
	CollectionDrivers:  "drivers",
	CollectionVehicles: "vehicles",
	CollectionRides:    "rides",
	CollectionAdmins:   "admins",
}

// Postgres implements Store on PostgreSQL with lib/pq. Mutation
// notifications ride on LISTEN/NOTIFY channels fed by schema triggers.
type Postgres struct {
	db       *sql.DB
	conninfo string
	notify   bool
	logger   logging.Logger
}

// PostgresOptions configures a Postgres store
type PostgresOptions struct {
	// ConnInfo is the connection string used for LISTEN sessions
	ConnInfo string
	// EnableNotifications turns on Subscribe; when false Subscribe returns
	// ErrChangeStreamsUnsupported and watchers poll instead.
	EnableNotifications bool
}

// NewPostgres creates a Postgres-backed store
func NewPostgres(db *sql.DB, opts PostgresOptions, logger logging.Logger) *Postgres {
	return &Postgres{
		db:       db,
		conninfo: opts.ConnInfo,
		notify:   opts.EnableNotifications,
		logger:   logger,
	}
}

// ApplySchema applies the embedded schema files in name order. All
// statements are idempotent so this is safe on every startup.
func (p *Postgres) ApplySchema(ctx context.Context) error {
	entries, err := fs.ReadDir(sqlfs.Content, "schema")
	if err != nil {
		return fmt.Errorf("failed to read embedded schema: %w", err)
	}
	for _, entry := range entries {
		contents, err := fs.ReadFile(sqlfs.Content, "schema/"+entry.Name())
		if err != nil {
			return fmt.Errorf("failed to read schema file %s: %w", entry.Name(), err)
		}
		if _, err := p.db.ExecContext(ctx, string(contents)); err != nil {
			return fmt.Errorf("failed to apply schema file %s: %w", entry.Name(), err)
		}
		p.logger.WithField("file", entry.Name()).Debug("Applied schema file")
	}
	return nil
}

const driverColumns = `id, name, email, phone, vehicle, kyc_status, status, lat, lng,
	speed, battery_level, rating, completed_trips, is_online,
	destination, passenger, trip_id, eta, updated_at`

func scanDriver(row interface{ Scan(...interface{}) error }) (models.Driver, error) {
	var d models.Driver
	var destination, passenger, tripID sql.NullString
	var eta sql.NullInt64

	err := row.Scan(&d.ID, &d.Name, &d.Email, &d.Phone, &d.Vehicle, &d.KYCStatus, &d.Status,
		&d.Location.Lat, &d.Location.Lng, &d.Speed, &d.BatteryLevel, &d.Rating,
		&d.CompletedTrips, &d.IsOnline, &destination, &passenger, &tripID, &eta, &d.LastUpdate)
	if err != nil {
		return d, err
	}

	if destination.Valid {
		d.Destination = &destination.String
	}
	if passenger.Valid {
		d.Passenger = &passenger.String
	}
	if tripID.Valid {
		d.TripID = &tripID.String
	}
	if eta.Valid {
		v := int(eta.Int64)
		d.ETA = &v
	}
	return d, nil
}

// ListDrivers returns every driver ordered by name
func (p *Postgres) ListDrivers(ctx context.Context) ([]models.Driver, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+driverColumns+` FROM drivers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list drivers: %w", err)
	}
	defer rows.Close()

	drivers := make([]models.Driver, 0)
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan driver: %w", err)
		}
		drivers = append(drivers, d)
	}
	return drivers, rows.Err()
}

// ListVehicles returns every vehicle ordered by registration
func (p *Postgres) ListVehicles(ctx context.Context) ([]models.Vehicle, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, registration, model, status, assigned_driver, updated_at FROM vehicles ORDER BY registration`)
	if err != nil {
		return nil, fmt.Errorf("failed to list vehicles: %w", err)
	}
	defer rows.Close()

	vehicles := make([]models.Vehicle, 0)
	for rows.Next() {
		var v models.Vehicle
		var assigned sql.NullString
		if err := rows.Scan(&v.ID, &v.Registration, &v.Model, &v.Status, &assigned, &v.LastUpdate); err != nil {
			return nil, fmt.Errorf("failed to scan vehicle: %w", err)
		}
		if assigned.Valid {
			v.AssignedDriver = &assigned.String
		}
		vehicles = append(vehicles, v)
	}
	return vehicles, rows.Err()
}

// ListRides returns rides, newest first
func (p *Postgres) ListRides(ctx context.Context) ([]models.Ride, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, driver_id, passenger, pickup, dropoff, status, fare, started_at, updated_at
		 FROM rides ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list rides: %w", err)
	}
	defer rows.Close()

	rides := make([]models.Ride, 0)
	for rows.Next() {
		var r models.Ride
		if err := rows.Scan(&r.ID, &r.DriverID, &r.Passenger, &r.Pickup, &r.Dropoff,
			&r.Status, &r.Fare, &r.StartedAt, &r.LastUpdate); err != nil {
			return nil, fmt.Errorf("failed to scan ride: %w", err)
		}
		rides = append(rides, r)
	}
	return rides, rows.Err()
}

// ListAdmins returns every admin ordered by name
func (p *Postgres) ListAdmins(ctx context.Context) ([]models.Admin, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, name, email, role, updated_at FROM admins ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list admins: %w", err)
	}
	defer rows.Close()

	admins := make([]models.Admin, 0)
	for rows.Next() {
		var a models.Admin
		if err := rows.Scan(&a.ID, &a.Name, &a.Email, &a.Role, &a.LastUpdate); err != nil {
			return nil, fmt.Errorf("failed to scan admin: %w", err)
		}
		admins = append(admins, a)
	}
	return admins, rows.Err()
}

// GetDriver returns a single driver or ErrNotFound
func (p *Postgres) GetDriver(ctx context.Context, id string) (*models.Driver, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+driverColumns+` FROM drivers WHERE id = $1`, id)
	d, err := scanDriver(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get driver %s: %w", id, err)
	}
	return &d, nil
}

// UpdateDriver persists the full mutable state of a driver
func (p *Postgres) UpdateDriver(ctx context.Context, d *models.Driver) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE drivers SET status = $2, lat = $3, lng = $4, speed = $5, battery_level = $6,
		 completed_trips = $7, is_online = $8, destination = $9, passenger = $10, trip_id = $11, eta = $12
		 WHERE id = $1`,
		d.ID, d.Status, d.Location.Lat, d.Location.Lng, d.Speed, d.BatteryLevel,
		d.CompletedTrips, d.IsOnline, d.Destination, d.Passenger, d.TripID, d.ETA)
	if err != nil {
		return fmt.Errorf("failed to update driver %s: %w", d.ID, err)
	}
	return requireRow(res, d.ID)
}

// UpdateDriverStatus patches the status and online flag of a driver
func (p *Postgres) UpdateDriverStatus(ctx context.Context, id, status string, isOnline bool) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE drivers SET status = $2, is_online = $3 WHERE id = $1`, id, status, isOnline)
	if err != nil {
		return fmt.Errorf("failed to update driver status %s: %w", id, err)
	}
	return requireRow(res, id)
}

// UpdateDriverLocation patches position and speed of a driver
func (p *Postgres) UpdateDriverLocation(ctx context.Context, id string, loc models.Location, speed float64) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE drivers SET lat = $2, lng = $3, speed = $4 WHERE id = $1`, id, loc.Lat, loc.Lng, speed)
	if err != nil {
		return fmt.Errorf("failed to update driver location %s: %w", id, err)
	}
	return requireRow(res, id)
}

// CountDrivers counts drivers, optionally only online ones
func (p *Postgres) CountDrivers(ctx context.Context, onlineOnly bool) (int, error) {
	query := `SELECT COUNT(*) FROM drivers`
	if onlineOnly {
		query += ` WHERE is_online = TRUE`
	}
	var count int
	if err := p.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count drivers: %w", err)
	}
	return count, nil
}

// LastModified returns the newest updated_at in the collection
func (p *Postgres) LastModified(ctx context.Context, collection string) (time.Time, error) {
	table, ok := collectionTables[collection]
	if !ok {
		return time.Time{}, fmt.Errorf("unknown collection %q", collection)
	}
	var ts time.Time
	err := p.db.QueryRowContext(ctx,
		`SELECT updated_at FROM `+table+` ORDER BY updated_at DESC LIMIT 1`).Scan(&ts)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read last modification of %s: %w", collection, err)
	}
	return ts, nil
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// pgSubscription adapts one LISTEN session to the Subscription interface.
// The listener's own reconnect machinery is not used as a recovery path:
// the first disconnect fails the subscription so the watcher state machine
// owns retry cadence.
type pgSubscription struct {
	collection string
	listener   *pq.Listener
	events     chan ChangeEvent
	logger     logging.Logger

	mu  sync.Mutex
	err error

	closeOnce sync.Once
	done      chan struct{}
}

// Subscribe opens a notification stream for one collection
func (p *Postgres) Subscribe(ctx context.Context, collection string) (Subscription, error) {
	if _, ok := collectionTables[collection]; !ok {
		return nil, fmt.Errorf("unknown collection %q", collection)
	}
	if !p.notify || p.conninfo == "" {
		return nil, ErrChangeStreamsUnsupported
	}

	sub := &pgSubscription{
		collection: collection,
		events:     make(chan ChangeEvent, 64),
		logger:     p.logger,
		done:       make(chan struct{}),
	}

	listener := pq.NewListener(p.conninfo, time.Second, 30*time.Second, func(event pq.ListenerEventType, err error) {
		if event == pq.ListenerEventDisconnected || event == pq.ListenerEventConnectionAttemptFailed {
			sub.fail(fmt.Errorf("notification channel lost: %w", err))
		}
	})
	sub.listener = listener

	if err := listener.Listen("fleet_" + collection); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("failed to LISTEN on %s: %w", collection, err)
	}

	go sub.run(ctx)
	return sub, nil
}

func (s *pgSubscription) run(ctx context.Context) {
	defer close(s.events)
	for {
		select {
		case <-ctx.Done():
			s.fail(ctx.Err())
			return
		case <-s.done:
			return
		case n, ok := <-s.listener.Notify:
			if !ok {
				s.fail(fmt.Errorf("notification channel closed"))
				return
			}
			if n == nil {
				// lib/pq signals a re-established connection with a nil
				// notification; mutations may have been missed in between,
				// so surface it as a failure and let the watcher resync.
				s.fail(fmt.Errorf("notification connection was re-established"))
				return
			}

			var payload struct {
				Operation string `json:"operation"`
				ID        string `json:"id"`
			}
			if err := json.Unmarshal([]byte(n.Extra), &payload); err != nil {
				s.logger.WithError(err).WithField("collection", s.collection).Warn("Dropping malformed change notification")
				continue
			}

			select {
			case s.events <- ChangeEvent{Collection: s.collection, Operation: payload.Operation, DocumentID: payload.ID}:
			default:
				s.logger.WithField("collection", s.collection).Warn("Change event buffer full, dropping notification")
			}
		}
	}
}

func (s *pgSubscription) fail(err error) {
	s.mu.Lock()
	if s.err == nil && err != nil {
		s.err = err
	}
	s.mu.Unlock()
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.listener.Close()
	})
}

// Events implements Subscription
func (s *pgSubscription) Events() <-chan ChangeEvent { return s.events }

// Err implements Subscription
func (s *pgSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close implements Subscription
func (s *pgSubscription) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.listener.Close()
	})
	return nil
}
