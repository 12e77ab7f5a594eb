package models

import "time"

// KYC verification states for a driver
const (
	KYCPending  = "Pending"
	KYCVerified = "Verified"
	KYCRejected = "Rejected"
)

// Driver status lifecycle
const (
	DriverIdle      = "idle"
	DriverActive    = "active"
	DriverEmergency = "emergency"
	DriverOffline   = "offline"
)

// Location is a geographic coordinate
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Driver is the dispatchable unit of the fleet. The trip fields
// (Destination, Passenger, TripID, ETA) are all-or-nothing: they are set
// together when a trip is assigned and cleared together when it completes.
type Driver struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Phone          string    `json:"phone"`
	Vehicle        string    `json:"vehicle"`
	KYCStatus      string    `json:"kycStatus"`
	Status         string    `json:"status"`
	Location       Location  `json:"location"`
	Speed          float64   `json:"speed"`
	BatteryLevel   float64   `json:"batteryLevel"`
	Rating         float64   `json:"rating"`
	CompletedTrips int       `json:"completedTrips"`
	IsOnline       bool      `json:"isOnline"`
	Destination    *string   `json:"destination,omitempty"`
	Passenger      *string   `json:"passenger,omitempty"`
	TripID         *string   `json:"tripId,omitempty"`
	ETA            *int      `json:"eta,omitempty"`
	LastUpdate     time.Time `json:"lastUpdate"`
}

// OnTrip reports whether the driver currently carries trip state.
func (d *Driver) OnTrip() bool {
	return d.Destination != nil && d.Passenger != nil && d.TripID != nil
}

// AssignTrip sets all trip fields together.
func (d *Driver) AssignTrip(destination, passenger, tripID string, eta int) {
	d.Destination = &destination
	d.Passenger = &passenger
	d.TripID = &tripID
	d.ETA = &eta
	d.Status = DriverActive
}

// CompleteTrip clears all trip fields together and credits the trip.
func (d *Driver) CompleteTrip() {
	d.Destination = nil
	d.Passenger = nil
	d.TripID = nil
	d.ETA = nil
	d.CompletedTrips++
	d.Status = DriverIdle
}

// Vehicle is a fleet vehicle. AssignedDriver is a weak reference: it is
// resolved by lookup and deleting the driver does not cascade here.
type Vehicle struct {
	ID             string    `json:"id"`
	Registration   string    `json:"registration"`
	Model          string    `json:"model"`
	Status         string    `json:"status"`
	AssignedDriver *string   `json:"assignedDriver,omitempty"`
	LastUpdate     time.Time `json:"lastUpdate"`
}

// Ride is a trip record
type Ride struct {
	ID         string    `json:"id"`
	DriverID   string    `json:"driverId"`
	Passenger  string    `json:"passenger"`
	Pickup     string    `json:"pickup"`
	Dropoff    string    `json:"dropoff"`
	Status     string    `json:"status"`
	Fare       float64   `json:"fare"`
	StartedAt  time.Time `json:"startedAt"`
	LastUpdate time.Time `json:"lastUpdate"`
}

// Admin is a dashboard operator account
type Admin struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Role       string    `json:"role"`
	LastUpdate time.Time `json:"lastUpdate"`
}

// DashboardStats is the aggregate snapshot shown on the dashboard
type DashboardStats struct {
	TodayRides    int     `json:"todayRides"`
	TotalDrivers  int     `json:"totalDrivers"`
	OnlineDrivers int     `json:"onlineDrivers"`
	ActiveRides   int     `json:"activeRides"`
	TodayIncome   float64 `json:"todayIncome"`
}

// ReportFilter captures the report query parameters a connection last asked
// for. The zero value means "no filter requested".
type ReportFilter struct {
	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`
	DriverID string `json:"driverId,omitempty"`
}

// IsZero reports whether the filter carries no parameters.
func (f ReportFilter) IsZero() bool {
	return f.From == "" && f.To == "" && f.DriverID == ""
}

// Range resolves the filter's time window. Missing bounds default to the
// start of today and now respectively.
func (f ReportFilter) Range() (time.Time, time.Time) {
	now := time.Now()
	from := now.Truncate(24 * time.Hour)
	to := now

	if f.From != "" {
		if parsed, err := time.Parse("2006-01-02", f.From); err == nil {
			from = parsed
		}
	}
	if f.To != "" {
		if parsed, err := time.Parse("2006-01-02", f.To); err == nil {
			// inclusive end of day
			to = parsed.Add(24*time.Hour - time.Nanosecond)
		}
	}
	return from, to
}
