package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"studytrack-backend/internal/config"
	"studytrack-backend/internal/database"
	"studytrack-backend/internal/handlers"
	"studytrack-backend/internal/middleware"
	"studytrack-backend/internal/models"
	"studytrack-backend/internal/monitor"
	"studytrack-backend/internal/repository"
	"studytrack-backend/internal/router"
	"studytrack-backend/internal/services"
	"studytrack-backend/internal/session"
	"studytrack-backend/internal/websocket"
	"studytrack-backend/internal/worker"
)

func main() {
	log.Println("🚀 Starting StudyTrack Backend...")

	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	log.Println("✓ Environment variables loaded")

	// ──── Step 2: Initialize PostgreSQL Connection Pool ────
	pool, err := database.NewPostgresPool(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("✗ PostgreSQL connection failed: %v", err)
	}
	defer pool.Close()
	log.Println("✓ PostgreSQL connected")

	// ──── Step 3: Initialize Redis Clients ────
	redisClients, err := database.NewRedisClients(cfg.RedisURL)
	if err != nil {
		log.Fatalf("✗ Redis connection failed: %v", err)
	}
	defer redisClients.Close()
	log.Println("✓ Redis connected")

	// ──── Step 4: Run Database Migrations ────
	if err := database.RunMigrations(pool, "migrations"); err != nil {
		log.Fatalf("✗ Database migration failed: %v", err)
	}
	log.Println("✓ Database migrations applied")

	// ──── Initialize Repositories ────
	userRepo := repository.NewUserRepo(pool)
	sessionRepo := repository.NewSessionRepo(pool)
	activityRepo := repository.NewActivityRepo(pool)

	// ──── Initialize Services ────
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)
	authService := services.NewAuthService(userRepo, jwtAuth)

	// ──── Step 5: Session Manager + Activity Monitor ────
	activityQueue := worker.NewQueue(redisClients.Queue)
	manager := session.NewManager(sessionRepo, activityQueue, cfg.IdleThreshold)

	wsHub := websocket.NewHub(redisClients.PubSub, jwtAuth, cfg.AuthRequired)

	var source monitor.Source = monitor.Disabled{}
	if cfg.WebSocketEnabled {
		source = wsHub
	}

	mon := monitor.New(monitor.Config{
		IdleThreshold: cfg.IdleThreshold,
		CheckInterval: cfg.CheckInterval,
	}, manager, activityQueue, source)
	log.Println("✓ Activity monitor initialized")

	// ──── Step 6: Live Updates over Redis Pub/Sub ────
	publisher := services.NewStatsPublisher(redisClients.PubSub)

	mon.OnActivity(func(ev models.ActivityEvent) {
		if st := manager.Status(); st.CurrentSession != nil {
			publisher.PublishActivity(st.CurrentSession.ID, ev)
		}
	})
	mon.OnIdleChange(func(isIdle bool, ts time.Time) {
		if st := manager.Status(); st.CurrentSession != nil {
			publisher.PublishIdleChange(st.CurrentSession.ID, isIdle)
		}
	})
	manager.OnEvent(publisher.PublishSessionEvent)
	log.Println("✓ Stats publisher wired")

	// ──── Initialize Handlers ────
	authHandler := handlers.NewAuthHandler(authService)
	sessionHandler := handlers.NewSessionHandler(manager, mon, sessionRepo, activityRepo)

	// ──── Step 7: Start Activity Worker Pool ────
	workerPool := worker.NewPool(redisClients.Queue, activityRepo, 3)
	workerPool.Start()
	log.Println("✓ Worker pool started (3 goroutines)")

	retentionScheduler := services.NewRetentionScheduler(activityRepo, sessionRepo, cfg.RetentionDays, cfg.MaxStoredSessions)
	retentionScheduler.Start()
	log.Println("✓ Retention scheduler started")

	// ──── Step 8: Start HTTP Server ────
	r := router.New(
		jwtAuth,
		cfg.AuthRequired,
		authHandler,
		sessionHandler,
		mon,
		wsHub,
		cfg.WebSocketEnabled,
		cfg.RateLimitPerMin,
		cfg.FrontendURL,
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down...")
		mon.Stop()
		workerPool.Stop()
		retentionScheduler.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	log.Printf("✓ StudyTrack Backend ready on http://localhost:%s", cfg.Port)
	log.Printf("  API: http://localhost:%s/api/v1", cfg.Port)
	if cfg.WebSocketEnabled {
		log.Printf("  WS:  ws://localhost:%s/api/v1/ws", cfg.Port)
	}

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}
