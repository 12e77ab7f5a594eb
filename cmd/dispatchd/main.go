package main

import (
	"context"
	"math/rand"
	"time"

	"github.com/nayanladumor10/Latest-backend/internal/handlers"
	"github.com/nayanladumor10/Latest-backend/internal/hub"
	"github.com/nayanladumor10/Latest-backend/internal/metrics"
	"github.com/nayanladumor10/Latest-backend/internal/reports"
	"github.com/nayanladumor10/Latest-backend/internal/sim"
	"github.com/nayanladumor10/Latest-backend/internal/snapshot"
	"github.com/nayanladumor10/Latest-backend/internal/stats"
	"github.com/nayanladumor10/Latest-backend/internal/store"
	"github.com/nayanladumor10/Latest-backend/internal/watch"
	"github.com/nayanladumor10/Latest-backend/pkg/config"
	"github.com/nayanladumor10/Latest-backend/pkg/database"
	"github.com/nayanladumor10/Latest-backend/pkg/logging"
	"github.com/nayanladumor10/Latest-backend/pkg/monitoring"
	"github.com/nayanladumor10/Latest-backend/pkg/server"
)

const serviceName = "dispatchd"

func main() {
	logger := logging.NewLoggerWithService(serviceName)
	config.LoadEnv(logger)

	// read after LoadEnv so .env values apply
	version := config.GetEnv("SERVICE_VERSION", "dev")

	logger.Info("Starting dispatch sync core")

	healthChecker := monitoring.NewHealthChecker(serviceName, version)
	metricsCollector := monitoring.NewMetricsCollector(serviceName, version, config.GetEnv("GIT_COMMIT", "unknown"))
	serviceMetrics := metrics.New(metricsCollector)

	// persistent store
	dbURL := config.RequireEnv("DATABASE_URL")
	dbCfg := database.DefaultConfig()
	dbCfg.URL = dbURL
	db := database.MustConnect(dbCfg, logger)
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg := store.NewPostgres(db, store.PostgresOptions{
		ConnInfo:            dbURL,
		EnableNotifications: config.GetEnvBool("ENABLE_CHANGE_NOTIFICATIONS", true),
	}, logger)
	if err := pg.ApplySchema(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to apply database schema")
	}

	if total, err := pg.CountDrivers(ctx, false); err == nil {
		online, _ := pg.CountDrivers(ctx, true)
		logger.WithFields(logging.Fields{
			"total":  total,
			"online": online,
		}).Info("Fleet loaded")
	}

	// sync core
	cache := snapshot.NewCache(logger)

	hubCfg := hub.DefaultConfig()
	hubCfg.SweepInterval = config.GetEnvDuration("HUB_SWEEP_INTERVAL", hubCfg.SweepInterval)
	hubCfg.IdleTimeout = config.GetEnvDuration("HUB_IDLE_TIMEOUT", hubCfg.IdleTimeout)
	dispatchHub := hub.NewHub(hubCfg, cache, logger, serviceMetrics)
	go dispatchHub.Run(ctx)

	aggregator := stats.NewPostgresAggregator(db, logger)

	watchCfg := watch.DefaultConfig()
	watchCfg.SettleDelay = config.GetEnvDuration("WATCH_SETTLE_DELAY", watchCfg.SettleDelay)
	watchCfg.ReconnectDelay = config.GetEnvDuration("WATCH_RECONNECT_DELAY", watchCfg.ReconnectDelay)
	watchCfg.PollInterval = config.GetEnvDuration("WATCH_POLL_INTERVAL", watchCfg.PollInterval)
	watchers := watch.NewManager(watchCfg, pg, cache, aggregator, dispatchHub, logger, serviceMetrics)
	watchers.Start(ctx)

	reportsCfg := reports.DefaultConfig()
	reportsCfg.SummaryInterval = config.GetEnvDuration("REPORTS_SUMMARY_INTERVAL", reportsCfg.SummaryInterval)
	reportsCfg.EarningsInterval = config.GetEnvDuration("REPORTS_EARNINGS_INTERVAL", reportsCfg.EarningsInterval)
	reportsService := reports.NewService(reportsCfg, aggregator, cache, dispatchHub, dispatchHub, logger, serviceMetrics)
	go reportsService.Run(ctx)

	if config.GetEnvBool("SIMULATION_ENABLED", true) {
		simCfg := sim.DefaultConfig()
		simCfg.TickInterval = config.GetEnvDuration("SIM_TICK_INTERVAL", simCfg.TickInterval)
		simCfg.TripProbability = config.GetEnvFloat("SIM_TRIP_PROBABILITY", simCfg.TripProbability)
		simCfg.EmergencyProbability = config.GetEnvFloat("SIM_EMERGENCY_PROBABILITY", simCfg.EmergencyProbability)
		simCfg.ResolveProbability = config.GetEnvFloat("SIM_RESOLVE_PROBABILITY", simCfg.ResolveProbability)
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		engine := sim.NewEngine(simCfg, pg, cache, dispatchHub, rng, logger, serviceMetrics)
		go engine.Run(ctx)
		logger.WithField("tick", simCfg.TickInterval).Info("Driver simulation enabled")
	}

	coreHandlers := handlers.NewCoreHandlers(dispatchHub, pg, watchers, reportsService, cache, logger)
	dispatchHub.SetRequestHandler(coreHandlers)

	healthChecker.AddCheck("postgres", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("watchers", watchers.HealthCheck())
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL": dbURL,
	}))

	router := server.SetupServiceRouter(logger, serviceName, healthChecker, metricsCollector)
	router.GET("/ws", coreHandlers.HandleWebSocket)
	router.GET("/internal/connections", coreHandlers.HandleConnections)
	router.POST("/internal/reports/refresh", coreHandlers.HandleReportsRefresh)
	router.NoRoute(coreHandlers.HandleNotFound)

	serverConfig := server.DefaultConfig(serviceName, "18080")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
