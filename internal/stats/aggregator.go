// Package stats computes the dashboard and report aggregates the sync core
// broadcasts. The core validates the shapes produced here but never trusts
// them blindly.
package stats

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nayanladumor10/Latest-backend/internal/models"
	"github.com/nayanladumor10/Latest-backend/internal/snapshot"
	"github.com/nayanladumor10/Latest-backend/pkg/logging"
)

// Aggregator is the aggregation collaborator consumed by the sync core
type Aggregator interface {
	ComputeDashboardStats(ctx context.Context) (*models.DashboardStats, error)
	ComputeReport(ctx context.Context, kind string, filter models.ReportFilter) (map[string]interface{}, error)
}

// PostgresAggregator computes aggregates with SQL over the primary store
type PostgresAggregator struct {
	db     *sql.DB
	logger logging.Logger
}

// NewPostgresAggregator creates an aggregator over the given database
func NewPostgresAggregator(db *sql.DB, logger logging.Logger) *PostgresAggregator {
	return &PostgresAggregator{db: db, logger: logger}
}

// ComputeDashboardStats computes the live dashboard numbers
func (a *PostgresAggregator) ComputeDashboardStats(ctx context.Context) (*models.DashboardStats, error) {
	stats := &models.DashboardStats{}

	err := a.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM rides WHERE started_at >= date_trunc('day', now())),
			(SELECT COUNT(*) FROM drivers),
			(SELECT COUNT(*) FROM drivers WHERE is_online = TRUE),
			(SELECT COUNT(*) FROM rides WHERE status IN ('pending', 'in_progress')),
			(SELECT COALESCE(SUM(fare), 0) FROM rides WHERE status = 'completed' AND started_at >= date_trunc('day', now()))`).
		Scan(&stats.TodayRides, &stats.TotalDrivers, &stats.OnlineDrivers, &stats.ActiveRides, &stats.TodayIncome)
	if err != nil {
		return nil, fmt.Errorf("failed to compute dashboard stats: %w", err)
	}
	return stats, nil
}

// ComputeReport computes one analytical report payload
func (a *PostgresAggregator) ComputeReport(ctx context.Context, kind string, filter models.ReportFilter) (map[string]interface{}, error) {
	from, to := filter.Range()

	switch kind {
	case snapshot.FeedSummary:
		return a.summaryReport(ctx, from, to, filter.DriverID)
	case snapshot.FeedEarnings:
		return a.earningsReport(ctx, from, to, filter.DriverID)
	case snapshot.FeedDriversReport:
		return a.driversReport(ctx, from, to)
	case snapshot.FeedRidesReport:
		return a.ridesReport(ctx, from, to)
	default:
		return nil, fmt.Errorf("unknown report kind %q", kind)
	}
}

func (a *PostgresAggregator) summaryReport(ctx context.Context, from, to time.Time, driverID string) (map[string]interface{}, error) {
	var totalEarnings float64
	var totalRides, completed, cancelled int

	err := a.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(fare) FILTER (WHERE status = 'completed'), 0),
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'cancelled')
		FROM rides
		WHERE started_at BETWEEN $1 AND $2
		  AND ($3 = '' OR driver_id = $3)`, from, to, driverID).
		Scan(&totalEarnings, &totalRides, &completed, &cancelled)
	if err != nil {
		return nil, fmt.Errorf("failed to compute summary report: %w", err)
	}

	return map[string]interface{}{
		"totalEarnings":  totalEarnings,
		"totalRides":     totalRides,
		"completedRides": completed,
		"cancelledRides": cancelled,
	}, nil
}

func (a *PostgresAggregator) earningsReport(ctx context.Context, from, to time.Time, driverID string) (map[string]interface{}, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT date_trunc('day', started_at) AS day,
		       COALESCE(SUM(fare) FILTER (WHERE status = 'completed'), 0),
		       COUNT(*)
		FROM rides
		WHERE started_at BETWEEN $1 AND $2
		  AND ($3 = '' OR driver_id = $3)
		GROUP BY day
		ORDER BY day`, from, to, driverID)
	if err != nil {
		return nil, fmt.Errorf("failed to compute earnings report: %w", err)
	}
	defer rows.Close()

	chartData := make([]interface{}, 0)
	var totalEarnings float64
	var totalRides int
	for rows.Next() {
		var day time.Time
		var earnings float64
		var rides int
		if err := rows.Scan(&day, &earnings, &rides); err != nil {
			return nil, fmt.Errorf("failed to scan earnings row: %w", err)
		}
		totalEarnings += earnings
		totalRides += rides
		chartData = append(chartData, map[string]interface{}{
			"date":     day.Format("2006-01-02"),
			"earnings": earnings,
			"rides":    rides,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"chartData": chartData,
		"summary": map[string]interface{}{
			"totalEarnings": totalEarnings,
			"totalRides":    totalRides,
		},
	}, nil
}

func (a *PostgresAggregator) driversReport(ctx context.Context, from, to time.Time) (map[string]interface{}, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT d.id, d.name, d.rating, d.completed_trips,
		       COALESCE(SUM(r.fare) FILTER (WHERE r.status = 'completed'), 0)
		FROM drivers d
		LEFT JOIN rides r ON r.driver_id = d.id AND r.started_at BETWEEN $1 AND $2
		GROUP BY d.id, d.name, d.rating, d.completed_trips
		ORDER BY d.name`, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to compute drivers report: %w", err)
	}
	defer rows.Close()

	tableData := make([]interface{}, 0)
	for rows.Next() {
		var id, name string
		var rating float64
		var trips int
		var earnings float64
		if err := rows.Scan(&id, &name, &rating, &trips, &earnings); err != nil {
			return nil, fmt.Errorf("failed to scan drivers report row: %w", err)
		}
		tableData = append(tableData, map[string]interface{}{
			"driverId":       id,
			"name":           name,
			"rating":         rating,
			"completedTrips": trips,
			"earnings":       earnings,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return map[string]interface{}{"tableData": tableData}, nil
}

func (a *PostgresAggregator) ridesReport(ctx context.Context, from, to time.Time) (map[string]interface{}, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM rides
		WHERE started_at BETWEEN $1 AND $2
		GROUP BY status
		ORDER BY status`, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to compute rides report: %w", err)
	}
	defer rows.Close()

	chartData := make([]interface{}, 0)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan rides report row: %w", err)
		}
		chartData = append(chartData, map[string]interface{}{
			"status": status,
			"count":  count,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return map[string]interface{}{"chartData": chartData}, nil
}
