package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/yoochat/config"
	"github.com/yoockh/yoochat/internal/api/handlers"
	"github.com/yoockh/yoochat/internal/api/middleware"
	"github.com/yoockh/yoochat/internal/api/routes"
	"github.com/yoockh/yoochat/internal/cache"
	"github.com/yoockh/yoochat/internal/logger"
	"github.com/yoockh/yoochat/internal/metrics"
	"github.com/yoockh/yoochat/internal/models"
	"github.com/yoockh/yoochat/internal/notify"
	"github.com/yoockh/yoochat/internal/providers/agent"
	mongorepo "github.com/yoockh/yoochat/internal/repositories/mongo"
	pgrepo "github.com/yoockh/yoochat/internal/repositories/postgres"
	"github.com/yoockh/yoochat/internal/services"
	"github.com/yoockh/yoochat/internal/streamid"
	"github.com/yoockh/yoochat/internal/streaming"
	"github.com/yoockh/yoochat/internal/workers"
)

func main() {
	_ = godotenv.Load()

	log := logger.New()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadEngine()
	if err != nil {
		log.WithError(err).Fatal("invalid engine config")
	}

	// Stores
	rdb, err := config.NewRedis(ctx)
	if err != nil {
		log.WithError(err).Fatal("redis init failed")
	}
	defer rdb.Close()
	log.Info("redis connected")

	db, err := config.NewPostgres()
	if err != nil {
		log.WithError(err).Fatal("postgres init failed")
	}
	if os.Getenv("DB_AUTO_MIGRATE") == "true" {
		if err := db.AutoMigrate(&models.ChatMessage{}, &models.Profile{}); err != nil {
			log.WithError(err).Fatal("postgres migrate failed")
		}
	}
	log.Info("postgres connected")

	mdb, err := config.NewMongo(ctx)
	if err != nil {
		log.WithError(err).Fatal("mongo init failed")
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := metrics.Register(reg); err != nil {
		log.WithError(err).Fatal("metrics register failed")
	}

	// Collaborators
	notifier := notify.NewRedisNotifier(rdb, cfg.NotifyQueueSize, log)
	notifier.Start(ctx)

	messageSvc := services.NewMessageService(pgrepo.NewChatMessageRepo(db))
	profileSvc := services.NewProfileService(pgrepo.NewProfileRepo(db), cache.NewRedisCache(rdb, "chat:cache:"), log)

	regOpts := []streaming.Option{streaming.WithPersistTimeout(cfg.PersistTimeout)}
	var journal *services.JournalService
	if mdb != nil {
		if err := config.EnsureMongoIndexes(ctx, mdb); err != nil {
			log.WithError(err).Warn("mongo index setup failed")
		}
		journal = services.NewJournalService(mongorepo.NewStreamJournalRepo(mdb), cfg.JournalTTL, log)
		journal.Start()
		regOpts = append(regOpts, streaming.WithJournal(journal))
		log.Info("mongo connected, stream journal enabled")
	}

	// Engine
	registry := streaming.NewRegistry(streamid.NewGenerator(), notifier, messageSvc, log, regOpts...)

	var chat services.ChatService
	gateway := agent.NewClient(agent.ClientConfig{
		BaseURL:        cfg.AgentBaseURL,
		Token:          cfg.AgentToken,
		RequestTimeout: cfg.RequestTimeout,
		MaxRetries:     cfg.MaxRetries,
		RetryBackoff:   cfg.RetryBackoff,
		Workers:        cfg.GatewayWorkers,
		QueueSize:      cfg.GatewayQueue,
	}, nil, registry, func(f agent.Failure) { chat.HandleGatewayFailure(f) }, log)

	health := agent.NewHealthMonitor(gateway, cfg.ProbeTimeout, log)
	gateway.SetHealth(health)

	debouncer := workers.NewDebouncer(cfg.QuietInterval, cfg.TimerPoolSize, log)
	buffer := cache.NewRedisTypingBuffer(rdb, cfg.BufferTTL, log)

	chat = services.NewChatService(services.ChatDeps{
		Buffer:   buffer,
		Debounce: debouncer,
		Registry: registry,
		Gateway:  gateway,
		Health:   health,
		Notifier: notifier,
		Profiles: profileSvc,
	}, log)
	health.Subscribe(chat.OnHealthChange)

	gateway.Start(ctx)

	ingester := agent.NewIngester(agent.IngesterConfig{
		URL:              cfg.AgentStreamURL,
		Token:            cfg.AgentToken,
		ReconnectDelay:   cfg.ReconnectDelay,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}, registry, notifier, health, log)
	ingestDone := make(chan struct{})
	go func() {
		defer close(ingestDone)
		ingester.Run(ctx)
	}()

	scheduler := workers.NewScheduler(log)
	jobs := []workers.Job{
		{Name: "agent_health_probe", Every: cfg.HealthInterval, Run: health.Probe},
		{Name: "idle_stream_reaper", Every: cfg.IdleReapInterval, Run: func(context.Context) { registry.ReapIdle(cfg.IdleTimeout) }},
		{Name: "overdue_stream_reaper", Every: cfg.OverdueReapInterval, Run: func(context.Context) { registry.ReapOverdue(cfg.MaxStreamAge) }},
	}
	for _, j := range jobs {
		if err := scheduler.Add(j); err != nil {
			log.WithError(err).Fatal("schedule job failed")
		}
	}
	scheduler.Start()
	go health.Probe(ctx)

	// HTTP
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(log))
	routes.RegisterRoutes(r, routes.Deps{
		JWTSecret: cfg.JWTSecret,
		Gatherer:  reg,
		Chat:      handlers.NewChatHandler(chat, messageSvc),
		Profile:   handlers.NewProfileHandler(profileSvc),
		Admin:     handlers.NewAdminHandler(chat, registry, journal),
		WS:        handlers.NewWSHandler(chat, rdb, log),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.WithField("port", cfg.Port).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("http server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdown(log, srv, scheduler, debouncer, gateway, notifier, journal, ingestDone)
}

func shutdown(log *logrus.Logger, srv *http.Server, scheduler *workers.Scheduler, debouncer *workers.Debouncer,
	gateway *agent.Client, notifier *notify.RedisNotifier, journal *services.JournalService, ingestDone <-chan struct{}) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	scheduler.Stop()
	debouncer.Stop()
	gateway.Close()
	<-ingestDone
	notifier.Close()
	if journal != nil {
		journal.Close()
	}
	log.Info("bye")
}
