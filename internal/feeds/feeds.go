// Package feeds maps logical feeds to broadcast rooms and wire events.
package feeds

import "github.com/nayanladumor10/Latest-backend/internal/snapshot"

// Room names clients may join
const (
	RoomDashboard = "dashboard"
	RoomDrivers   = "drivers"
	RoomVehicles  = "vehicles"
	RoomRides     = "rides"
	RoomReports   = "reports"
	RoomAdmins    = "admin-management"
)

// Outbound wire events
const (
	EventDriversUpdate        = "driversUpdate"
	EventVehiclesUpdate       = "vehiclesUpdate"
	EventRidesUpdate          = "ridesUpdate"
	EventAdminsUpdate         = "adminsUpdate"
	EventDashboardStats       = "dashboardStats"
	EventLocationUpdate       = "locationUpdate"
	EventEmergencyAlert       = "emergencyAlert"
	EventReportsSummaryUpdate = "reportsSummaryUpdate"
	EventEarningsReport       = "earningsReportUpdate"
	EventDriversReport        = "driversReportUpdate"
	EventRidesReport          = "ridesReportUpdate"
	EventJoinedRoom           = "joined-room"
	EventError                = "error"
)

// Rooms lists every joinable room
var Rooms = []string{RoomDashboard, RoomDrivers, RoomVehicles, RoomRides, RoomReports, RoomAdmins}

// UpdateEvent returns the full-listing event name for a feed kind
func UpdateEvent(feedKind string) string {
	switch feedKind {
	case snapshot.FeedDrivers:
		return EventDriversUpdate
	case snapshot.FeedVehicles:
		return EventVehiclesUpdate
	case snapshot.FeedRides:
		return EventRidesUpdate
	case snapshot.FeedAdmins:
		return EventAdminsUpdate
	case snapshot.FeedDashboardStats:
		return EventDashboardStats
	case snapshot.FeedSummary:
		return EventReportsSummaryUpdate
	case snapshot.FeedEarnings:
		return EventEarningsReport
	case snapshot.FeedDriversReport:
		return EventDriversReport
	case snapshot.FeedRidesReport:
		return EventRidesReport
	default:
		return ""
	}
}

// RoomFeeds returns the feed kinds replayed to a client joining the room
func RoomFeeds(room string) []string {
	switch room {
	case RoomDashboard:
		return []string{snapshot.FeedDrivers, snapshot.FeedVehicles, snapshot.FeedDashboardStats}
	case RoomDrivers:
		return []string{snapshot.FeedDrivers}
	case RoomVehicles:
		return []string{snapshot.FeedVehicles}
	case RoomRides:
		return []string{snapshot.FeedRides}
	case RoomAdmins:
		return []string{snapshot.FeedAdmins}
	case RoomReports:
		return []string{snapshot.FeedSummary, snapshot.FeedEarnings, snapshot.FeedDriversReport, snapshot.FeedRidesReport}
	default:
		return nil
	}
}

// ValidRoom reports whether clients may join the room
func ValidRoom(room string) bool {
	for _, r := range Rooms {
		if r == room {
			return true
		}
	}
	return false
}
