package store

import (
	"context"
	"errors"
	"time"

	"github.com/nayanladumor10/Latest-backend/internal/models"
)

// Watched collection names
const (
	CollectionDrivers  = "drivers"
	CollectionVehicles = "vehicles"
	CollectionRides    = "rides"
	CollectionAdmins   = "admins"
)

// Collections lists every watched collection
var Collections = []string{CollectionDrivers, CollectionVehicles, CollectionRides, CollectionAdmins}

// Mutation operation types carried on change events
const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("store: record not found")

	// ErrChangeStreamsUnsupported is returned by Subscribe when the store
	// cannot deliver mutation notifications; callers fall back to polling.
	ErrChangeStreamsUnsupported = errors.New("store: change notifications unsupported")
)

// ChangeEvent describes a single mutation observed on a collection
type ChangeEvent struct {
	Collection string `json:"collection"`
	Operation  string `json:"operation"`
	DocumentID string `json:"documentId"`
}

// Subscription is a live mutation-notification stream for one collection.
// Events is closed when the stream fails; Err reports why.
type Subscription interface {
	Events() <-chan ChangeEvent
	Err() error
	Close() error
}

// Store is the persistence collaborator consumed by the sync core
type Store interface {
	ListDrivers(ctx context.Context) ([]models.Driver, error)
	ListVehicles(ctx context.Context) ([]models.Vehicle, error)
	ListRides(ctx context.Context) ([]models.Ride, error)
	ListAdmins(ctx context.Context) ([]models.Admin, error)

	GetDriver(ctx context.Context, id string) (*models.Driver, error)
	UpdateDriver(ctx context.Context, driver *models.Driver) error
	UpdateDriverStatus(ctx context.Context, id, status string, isOnline bool) error
	UpdateDriverLocation(ctx context.Context, id string, loc models.Location, speed float64) error
	CountDrivers(ctx context.Context, onlineOnly bool) (int, error)

	// LastModified returns the mutation timestamp of the most recently
	// changed record in the collection, or the zero time when empty.
	LastModified(ctx context.Context, collection string) (time.Time, error)

	// Subscribe opens a mutation-notification stream for the collection.
	Subscribe(ctx context.Context, collection string) (Subscription, error)
}
