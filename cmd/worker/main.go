package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/outreach-monitor/internal/config"
	"github.com/ignite/outreach-monitor/internal/intelligence"
	"github.com/ignite/outreach-monitor/internal/mailbox"
	"github.com/ignite/outreach-monitor/internal/orchestrator"
	"github.com/ignite/outreach-monitor/internal/pkg/distlock"
	"github.com/ignite/outreach-monitor/internal/scheduler"
	"github.com/ignite/outreach-monitor/internal/store"
)

func main() {
	log.Println("Starting outreach monitor worker...")

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := store.Open(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Connected to database")

	ctx := context.Background()

	bedrock, err := intelligence.NewBedrockService(ctx, cfg.Bedrock.Region, cfg.Bedrock.ModelID)
	if err != nil {
		log.Fatalf("Failed to initialize Bedrock service: %v", err)
	}

	// Event orchestrator
	orch := orchestrator.New(db, bedrock, bedrock)
	orch.SetPollInterval(time.Duration(cfg.Polling.OrchestratorSeconds) * time.Second)
	if err := orch.Start(); err != nil {
		log.Fatalf("Failed to start orchestrator: %v", err)
	}

	// Timer engine
	timers := scheduler.New(db)
	timers.SetPollInterval(time.Duration(cfg.Polling.TimerSeconds) * time.Second)
	if err := timers.Start(); err != nil {
		log.Fatalf("Failed to start timer engine: %v", err)
	}

	// Mailbox poller. Redis lock when configured, PG advisory lock
	// otherwise.
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Printf("Redis unreachable (%v), falling back to PG advisory lock", err)
			redisClient = nil
		}
	}

	transport := mailbox.NewIMAPTransport(cfg.IMAP.Host, cfg.IMAP.Port, cfg.IMAP.Username, cfg.IMAP.Password)
	poller := mailbox.New(db, transport, cfg.IMAP.Address)
	poller.SetPollInterval(time.Duration(cfg.Polling.MailboxSeconds) * time.Second)
	poller.SetLock(distlock.NewLock(redisClient, db, "mailbox-poll", mailbox.LockTTL))
	if err := poller.Start(); err != nil {
		log.Fatalf("Failed to start mailbox poller: %v", err)
	}

	log.Println("Worker running...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down worker...")
	poller.Stop()
	timers.Stop()
	orch.Stop()
	log.Println("Worker stopped")
}
