// Command interceptor runs the chat message interceptor: it loads
// configuration from the environment, wires the scorer behind a circuit
// breaker, the Redis Streams event emitter, the downstream detector
// forwarder, and the websocket/HTTP dispatcher, then serves until asked to
// stop. Grounded on the teacher's cmd/gateway/main.go: godotenv-then-config
// load ordering, dispatcher run in a goroutine racing the signal channel,
// non-zero exit on shutdown failure.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/neuraltrust/cis-interceptor/internal/breaker"
	"github.com/neuraltrust/cis-interceptor/internal/config"
	"github.com/neuraltrust/cis-interceptor/internal/detector"
	"github.com/neuraltrust/cis-interceptor/internal/dispatcher"
	"github.com/neuraltrust/cis-interceptor/internal/emitter"
	"github.com/neuraltrust/cis-interceptor/internal/logger"
	"github.com/neuraltrust/cis-interceptor/internal/metrics"
	"github.com/neuraltrust/cis-interceptor/internal/scorer"
)

func main() {
	os.Exit(run())
}

func run() int {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		log.Println("no .env file found, using system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Printf("failed to load config: %v", err)
		return 1
	}

	log := logger.New(cfg.LogLevel)
	metrics.Init()

	brk := breaker.New(breaker.Settings{
		Name:                "scorer",
		FailureThreshold:    cfg.CircuitBreakerThreshold,
		ResetTimeout:        cfg.ResetTimeout(),
		HalfOpenMaxAttempts: cfg.CircuitBreakerHalfOpenMax,
	})

	em := emitter.New(emitter.Config{
		Host:           cfg.LogBackendHost,
		Port:           cfg.LogBackendPort,
		RulesetVersion: scorer.RulesetVersion,
	}, log)

	det, err := detector.New(detector.Config{
		Host:  cfg.DetectorBackendHost,
		Port:  cfg.DetectorBackendPort,
		Topic: cfg.DetectorTopic,
	}, log)
	if err != nil {
		log.WithError(err).Warn("downstream detector forwarder unavailable, continuing without it")
		det = nil
	}

	disp := dispatcher.New(cfg, log, brk, em, det)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- disp.Run(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("shutting down")
	case err := <-runErrCh:
		if err != nil {
			log.WithError(err).Error("dispatcher failed")
			return 1
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := disp.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "error shutting down: %v\n", err)
		return 1
	}

	log.Info("shut down gracefully")
	return 0
}
