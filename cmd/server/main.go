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

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"forex-portal/login-gateway/internal/config"
	"forex-portal/login-gateway/internal/logging"
	"forex-portal/login-gateway/internal/login/handler"
	"forex-portal/login-gateway/internal/login/service"
	"forex-portal/login-gateway/internal/login/store"
	"forex-portal/login-gateway/internal/telemetry"
	otelsetup "forex-portal/login-gateway/internal/telemetry/otel"
	"forex-portal/login-gateway/internal/telemetry/producer"
	"forex-portal/login-gateway/internal/upstream"
)

const serviceName = "login-gateway"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	providers, err := otelsetup.NewProviders(ctx, cfg.OTLPEndpoint, serviceName, cfg.OTLPInsecure)
	if err != nil {
		logger.Fatal("otel providers", zap.Error(err))
	}
	providers.SetGlobal()

	kafkaProducer := producer.NewKafkaProducer(cfg.TelemetryKafkaBrokersList(), cfg.TelemetryKafkaTopic)
	var emitter telemetry.EventEmitter
	if kafkaProducer != nil {
		emitter = kafkaProducer
		logger.Info("telemetry enabled", zap.String("topic", cfg.TelemetryKafkaTopic))
	}

	client := upstream.NewClient(cfg.UpstreamBaseURL, cfg.UpstreamTimeoutDuration())
	svc := service.NewService(client, client, service.Options{
		CaptchaEnabled:    cfg.CaptchaEnabled,
		CaptchaRetryDelay: cfg.CaptchaRetryDelayDuration(),
		CodeDebounce:      cfg.CodeDebounceDuration(),
		CooldownSeconds:   cfg.ResendCooldownSeconds,
		MaxAttempts:       cfg.MaxCodeAttempts,
		DevExposeOTP:      cfg.DevExposeOTP,
	}, logger, emitter)

	flows := store.NewMemoryStore(cfg.FlowTTLDuration(), svc.Close)
	sweepDone := make(chan struct{})
	go func() {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-sweepDone:
				return
			case <-t.C:
				if n := flows.Sweep(); n > 0 {
					logger.Info("evicted idle flows", zap.Int("count", n))
				}
			}
		}
	}()

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware(serviceName))
	handler.New(svc, flows, logger).RegisterRoutes(engine)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: engine,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("serve", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	close(sweepDone)

	// Give in-flight async telemetry emits time to finish before closing the producer.
	if kafkaProducer != nil {
		time.Sleep(telemetry.ShutdownDrainDuration)
		if err := kafkaProducer.Close(); err != nil {
			logger.Warn("kafka close", zap.Error(err))
		}
	}
	if err := providers.Shutdown(shutdownCtx); err != nil {
		logger.Warn("otel shutdown", zap.Error(err))
	}
	logger.Info("stopped")
}
