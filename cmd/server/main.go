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

	"github.com/esnafgo/marketplace/internal/activity"
	"github.com/esnafgo/marketplace/internal/auth"
	"github.com/esnafgo/marketplace/internal/chat"
	"github.com/esnafgo/marketplace/internal/config"
	"github.com/esnafgo/marketplace/internal/db"
	"github.com/esnafgo/marketplace/internal/httpapi"
	"github.com/esnafgo/marketplace/internal/httpapi/handlers"
	"github.com/esnafgo/marketplace/internal/models"
	"github.com/esnafgo/marketplace/internal/notify"
	"github.com/esnafgo/marketplace/internal/otp"
	"github.com/esnafgo/marketplace/internal/relay"
	"github.com/esnafgo/marketplace/internal/store/rabbitmq"
	"github.com/esnafgo/marketplace/internal/store/redisstore"
)

func main() {
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)
	if err := gdb.AutoMigrate(
		&models.User{},
		&chat.Conversation{},
		&chat.Message{},
		&notify.Dispatch{},
		&activity.Entry{},
	); err != nil {
		log.Fatalf("automigrate: %v", err)
	}

	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	{
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := rds.Ping(ctx); err != nil {
			log.Fatalf("redis ping: %v", err)
		}
		cancel()
	}

	otpSvc := otp.NewService(rds,
		cfg.OTPCodeLength, cfg.OTPTTL,
		cfg.OTPMaxVerifyAttempts, cfg.OTPMaxIssue, cfg.OTPRateWindow,
	)
	sessions := auth.NewAdminSessions(rds, cfg.AdminTokenTTL)

	recorder := activity.NewGormRecorder(gdb)

	broker := relay.NewMemoryBroker()
	chatSvc := chat.NewService(chat.NewRepo(gdb), broker, recorder, cfg.ChatLastMessageMaxLen)

	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Fatalf("rabbit publisher: %v", err)
	}
	defer pub.Close()

	h := handlers.NewHandler(
		gdb, cfg,
		otpSvc, sessions,
		chatSvc, broker,
		notify.NewRepo(gdb), pub,
		recorder,
	)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: httpapi.NewRouter(h),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("server started addr=%s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
