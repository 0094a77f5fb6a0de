package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"duochat/internal/api"
	"duochat/internal/auth"
	"duochat/internal/config"
	"duochat/internal/redis"
	"duochat/internal/service/ai"
	"duochat/internal/service/assistant"
	"duochat/internal/service/duo"
	"duochat/internal/service/mail"
	"duochat/internal/storage"
	"duochat/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {
	cfgPath := os.Getenv("DUOCHAT_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbType := os.Getenv("DUOCHAT_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	log.Printf("dbType: %s\n", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	// login tokens only; users and history live in the JSON files
	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = redis.NewRedisClient(cfg.Redis)
		if err != nil {
			log.Fatalf("create redis client: %v", err)
		}
		defer rdb.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	assistantService, err := assistant.NewService(
		storage.NewUserStore(cfg.BasicConfig.UsersFile),
		storage.NewHistoryStore(cfg.BasicConfig.HistoryFile),
	)
	if err != nil {
		log.Fatalf("init assistant service: %v", err)
	}

	authService := auth.NewService(db, rdb, time.Duration(cfg.BasicConfig.TokenTTLMinutes)*time.Minute)
	authService.StartTokenCleaner(ctx, time.Duration(cfg.BasicConfig.TokenCleanMinutes)*time.Minute)

	router, err := ai.BuildRouter(ctx, cfg)
	if err != nil {
		log.Fatalf("init providers: %v", err)
	}

	duoService, err := duo.NewService(router, assistantService, router.Modes(), cfg.Chat.Synthesizer)
	if err != nil {
		log.Printf("duo mode disabled: %v", err)
		duoService = nil
	}

	workers := worker.NewManager(worker.DispatcherConfig{
		MinWorkers:  cfg.BasicConfig.MinWorkers,
		MaxWorkers:  cfg.BasicConfig.MaxWorkers,
		QueueSize:   cfg.BasicConfig.QueueSize,
		IdleTimeout: time.Duration(cfg.BasicConfig.WorkerIdleSeconds) * time.Second,
	}, cfg.Chat.DefaultMode, rdb)
	defer workers.Close()

	handlers := api.NewHandler(api.Deps{
		Assistant:         assistantService,
		Auth:              authService,
		Router:            router,
		Duo:               duoService,
		Composer:          mail.NewComposer(router, cfg.Chat.MailProvider),
		Sender:            mail.NewSender(mail.NewSMTPTransport(cfg.Mail)),
		Workers:           workers,
		RequestsPerMinute: cfg.BasicConfig.RequestsPerMinute,
		RequestTimeout:    time.Duration(cfg.BasicConfig.RequestTimeoutSeconds) * time.Second,
		StaticDir:         cfg.BasicConfig.StaticDir,
	})

	engine := gin.Default()
	handlers.RegisterRoutes(engine)

	srv := &http.Server{
		Addr:    cfg.BasicConfig.ServerAddress,
		Handler: engine,
	}
	go func() {
		log.Printf("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server stopped: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
