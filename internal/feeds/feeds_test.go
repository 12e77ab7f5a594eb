package feeds

import (
	"testing"

	"github.com/nayanladumor10/Latest-backend/internal/snapshot"
)

func TestRoomFeeds(t *testing.T) {
	dashboard := RoomFeeds(RoomDashboard)
	if len(dashboard) != 3 {
		t.Fatalf("dashboard replays drivers, vehicles and stats, got %v", dashboard)
	}
	if reports := RoomFeeds(RoomReports); len(reports) != 4 {
		t.Fatalf("reports room replays all four report feeds, got %v", reports)
	}
	if got := RoomFeeds("lounge"); got != nil {
		t.Fatalf("unknown room must replay nothing, got %v", got)
	}
}

func TestUpdateEvent(t *testing.T) {
	cases := map[string]string{
		snapshot.FeedDrivers:        EventDriversUpdate,
		snapshot.FeedDashboardStats: EventDashboardStats,
		snapshot.FeedEarnings:       EventEarningsReport,
		"weather":                   "",
	}
	for feed, want := range cases {
		if got := UpdateEvent(feed); got != want {
			t.Fatalf("UpdateEvent(%q) = %q, want %q", feed, got, want)
		}
	}
}

func TestValidRoom(t *testing.T) {
	for _, room := range Rooms {
		if !ValidRoom(room) {
			t.Fatalf("%q should be joinable", room)
		}
	}
	if ValidRoom("lounge") {
		t.Fatalf("unknown rooms must be rejected")
	}
}
