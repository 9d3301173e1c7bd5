package cmd

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	pubnub "github.com/pubnub/go"
	"github.com/redis/go-redis/v9"

	"queue-system/config"
	"queue-system/handlers"
	"queue-system/monitoring"
	"queue-system/services"
	"queue-system/utils"
)

func Start() error {
	app := pocketbase.New()

	// Load configuration
	cfg := config.LoadConfig()

	// Initialize Redis
	redisClient := utils.NewRedisClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	defer redisClient.Close()

	// Initialize PubNub
	pnConfig := pubnub.NewConfig()
	pnConfig.PublishKey = cfg.PubNubPublishKey
	pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
	pnConfig.SecretKey = cfg.PubNubSecretKey

	pn := pubnub.NewPubNub(pnConfig)

	// Initialize services
	publisher := services.NewPublisher(pn)
	statsService := services.NewStatsService(redisClient, cfg)
	ticketStore := services.NewTicketStore(redisClient, cfg, publisher, statsService)
	counterService := services.NewCounterService(redisClient, cfg, publisher)
	dispatchService := services.NewDispatchService(ticketStore, counterService, publisher)
	transferService := services.NewTransferService(ticketStore, counterService)
	monitor := monitoring.NewMonitor(redisClient)

	// Initialize handlers
	ticketHandler := handlers.NewTicketHandler(app, ticketStore, transferService, statsService)
	dispatchHandler := handlers.NewDispatchHandler(app, dispatchService)
	counterHandler := handlers.NewCounterHandler(app, counterService)
	statsHandler := handlers.NewStatsHandler(app, statsService, ticketStore, counterService)

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: true,
	})

	// Create context for background tasks
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start background tasks
	counterService.StartSweep(ctx)
	statsService.StartRefresh(ctx)
	go cleanupLoop(ctx, redisClient, ticketStore)

	if cfg.EnableMetrics {
		go monitor.CollectLoop(ctx, 30*time.Second)
		go serveMetrics(cfg.MetricsPort)
	}

	// Setup graceful shutdown
	go handleShutdown(cancel, counterService, statsService)

	// Register routes
	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		// Ticket endpoints
		e.Router.GET("/api/v1/tickets", ticketHandler.ListTickets)
		e.Router.POST("/api/v1/tickets", ticketHandler.CreateTicket)
		e.Router.GET("/api/v1/tickets/{ticketId}", ticketHandler.GetTicket)
		e.Router.POST("/api/v1/tickets/{ticketId}/transition", ticketHandler.TransitionTicket)
		e.Router.POST("/api/v1/tickets/{ticketId}/cancel", ticketHandler.CancelTicket)
		e.Router.POST("/api/v1/tickets/{ticketId}/transfer", ticketHandler.TransferTicket)

		// Dispatch endpoint
		e.Router.POST("/api/v1/queue/call-next", dispatchHandler.CallNext)

		// Counter endpoints
		e.Router.GET("/api/v1/counters", counterHandler.ListCounters)
		e.Router.GET("/api/v1/counters/available", counterHandler.ListAvailable)
		e.Router.POST("/api/v1/counters/{counterId}/assign", counterHandler.AssignCounter)
		e.Router.POST("/api/v1/counters/{counterId}/release", counterHandler.ReleaseCounter)
		e.Router.POST("/api/v1/counters/{counterId}/heartbeat", counterHandler.Heartbeat)

		// Stats and snapshot endpoints
		e.Router.GET("/api/v1/stats", statsHandler.GetStats)
		e.Router.GET("/api/v1/snapshot", statsHandler.GetSnapshot)

		// Health check
		e.Router.GET("/health", func(e *core.RequestEvent) error {
			if err := utils.RedisHealthCheck(redisClient); err != nil {
				return e.JSON(503, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
			return e.JSON(200, map[string]string{"status": "healthy"})
		})

		log.Println("Server routes registered")

		syncQueueConfig(app, redisClient, counterService)
		setupConfigHooks(app, redisClient, counterService)

		return e.Next()
	})

	// Start server
	return app.Start()
}

// syncQueueConfig pushes the admin-managed service and counter definitions
// into Redis so the live engine never queries the database on the hot path.
func syncQueueConfig(app *pocketbase.PocketBase, redisClient *redis.Client, counterService *services.CounterService) {
	ctx := context.Background()

	var serviceRows []dbx.NullStringMap
	if err := app.DB().NewQuery(
		"SELECT id, prefix FROM services WHERE is_active = 1",
	).All(&serviceRows); err != nil {
		log.Printf("Error fetching service definitions: %v", err)
	} else {
		for _, row := range serviceRows {
			id := row["id"].String
			prefix := row["prefix"].String
			if id == "" || prefix == "" {
				continue
			}
			redisClient.Set(ctx, "service:prefix:"+id, prefix, 0)
		}
		log.Printf("Synced %d service prefixes to Redis", len(serviceRows))
	}

	var counterRows []dbx.NullStringMap
	if err := app.DB().NewQuery(
		"SELECT id, name, branch FROM counters",
	).All(&counterRows); err != nil {
		log.Printf("Error fetching counter definitions: %v", err)
		return
	}

	for _, row := range counterRows {
		if err := counterService.EnsureCounter(ctx, row["branch"].String, row["id"].String, row["name"].String); err != nil {
			log.Printf("Error syncing counter %s: %v", row["id"].String, err)
		}
	}
	log.Printf("Synced %d counters to Redis", len(counterRows))
}

// setupConfigHooks keeps the Redis copies in sync with admin edits.
func setupConfigHooks(app *pocketbase.PocketBase, redisClient *redis.Client, counterService *services.CounterService) {
	syncService := func(e *core.RecordEvent) error {
		prefix := e.Record.GetString("prefix")
		if prefix != "" {
			if err := redisClient.Set(e.Context, "service:prefix:"+e.Record.Id, prefix, 0).Err(); err != nil {
				slog.Error("Failed to sync service prefix to Redis",
					"serviceID", e.Record.Id,
					"error", err,
				)
			}
		}
		return e.Next()
	}
	app.OnRecordAfterCreateSuccess("services").BindFunc(syncService)
	app.OnRecordAfterUpdateSuccess("services").BindFunc(syncService)

	syncCounter := func(e *core.RecordEvent) error {
		err := counterService.EnsureCounter(e.Context,
			e.Record.GetString("branch"), e.Record.Id, e.Record.GetString("name"))
		if err != nil {
			slog.Error("Failed to sync counter to Redis",
				"counterID", e.Record.Id,
				"error", err,
			)
		}
		return e.Next()
	}
	app.OnRecordAfterCreateSuccess("counters").BindFunc(syncCounter)
	app.OnRecordAfterUpdateSuccess("counters").BindFunc(syncCounter)

	app.OnRecordAfterDeleteSuccess("counters").BindFunc(func(e *core.RecordEvent) error {
		err := counterService.RemoveCounter(e.Context, e.Record.GetString("branch"), e.Record.Id)
		if err != nil {
			slog.Error("Failed to remove counter from Redis",
				"counterID", e.Record.Id,
				"error", err,
			)
		}
		return e.Next()
	})
}

// cleanupLoop retires old terminal tickets branch by branch.
func cleanupLoop(ctx context.Context, redisClient *redis.Client, ticketStore *services.TicketStore) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			branchKeys, err := redisClient.Keys(ctx, "tickets:branch:*").Result()
			if err != nil {
				log.Printf("Error listing branches for cleanup: %v", err)
				continue
			}
			for _, key := range branchKeys {
				branchID := key[len("tickets:branch:"):]
				ticketStore.CleanupTerminal(ctx, branchID, 24*time.Hour)
			}
		case <-ctx.Done():
			return
		}
	}
}

func serveMetrics(port string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	log.Printf("Metrics server listening on :%s", port)
	if err := http.ListenAndServe(":"+port, mux); err != nil {
		log.Printf("Metrics server stopped: %v", err)
	}
}

// handleShutdown handles graceful shutdown
func handleShutdown(cancel context.CancelFunc, counterService *services.CounterService, statsService *services.StatsService) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
	cancel()
	counterService.Shutdown()
	statsService.Shutdown()
}
