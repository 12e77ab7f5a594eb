package monitoring

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestHealthChecker_Basic(t *testing.T) {
	hc := NewHealthChecker("svc", "v1")
	hc.AddCheck("ok", func() CheckResult { return CheckResult{Status: StatusHealthy} })
	status := hc.CheckHealth()
	if status.Status != StatusHealthy {
		t.Fatalf("expected healthy")
	}
}

func TestHealthChecker_DegradedDoesNotFail(t *testing.T) {
	hc := NewHealthChecker("svc", "v1")
	hc.AddCheck("ok", func() CheckResult { return CheckResult{Status: StatusHealthy} })
	hc.AddCheck("slow", func() CheckResult { return CheckResult{Status: StatusDegraded, Message: "reconnecting"} })
	status := hc.CheckHealth()
	if status.Status != StatusDegraded {
		t.Fatalf("expected degraded, got %s", status.Status)
	}
}

func TestHealthChecker_UnhealthyWins(t *testing.T) {
	hc := NewHealthChecker("svc", "v1")
	hc.AddCheck("slow", func() CheckResult { return CheckResult{Status: StatusDegraded} })
	hc.AddCheck("down", func() CheckResult { return CheckResult{Status: StatusUnhealthy, Message: "db gone"} })
	status := hc.CheckHealth()
	if status.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %s", status.Status)
	}
	if status.Checks["down"].Message != "db gone" {
		t.Fatalf("expected check message to be preserved")
	}
}

func TestHealthChecker_UnknownStatusIsUnhealthy(t *testing.T) {
	hc := NewHealthChecker("svc", "v1")
	hc.AddCheck("odd", func() CheckResult { return CheckResult{Status: "confused"} })
	if status := hc.CheckHealth(); status.Status != StatusUnhealthy {
		t.Fatalf("expected unknown statuses to count as unhealthy, got %s", status.Status)
	}
}

func TestDatabaseHealthCheck(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectPing()
	res := DatabaseHealthCheck(db)()
	if res.Status != StatusHealthy {
		t.Fatalf("expected healthy ping, got %s: %s", res.Status, res.Message)
	}
}

func TestConfigurationHealthCheck(t *testing.T) {
	check := ConfigurationHealthCheck(map[string]string{"DATABASE_URL": "postgres://x"})
	if res := check(); res.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %s", res.Status)
	}

	check = ConfigurationHealthCheck(map[string]string{"DATABASE_URL": ""})
	res := check()
	if res.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy for missing config, got %s", res.Status)
	}
	if res.Message == "" {
		t.Fatalf("expected the missing key to be named")
	}
}
