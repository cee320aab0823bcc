package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/emplant2000/piphp/internal/audit"
	"github.com/emplant2000/piphp/internal/auth"
	"github.com/emplant2000/piphp/internal/config"
	"github.com/emplant2000/piphp/internal/database"
	"github.com/emplant2000/piphp/internal/metrics"
	"github.com/emplant2000/piphp/internal/payment"
	"github.com/emplant2000/piphp/internal/provider"
	"github.com/emplant2000/piphp/internal/router"
	"github.com/emplant2000/piphp/internal/session"
	"github.com/emplant2000/piphp/internal/util"
	"github.com/emplant2000/piphp/internal/webhook"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the demo HTTP server.

Examples:
  pi-demo serve
  pi-demo serve --config config.yaml
  PIDEMO_PROVIDER_MODE=pi PIDEMO_PROVIDER_API_KEY=... pi-demo serve`,
	RunE: runServe,
}

func newStore(cfg *config.Config, db *gorm.DB) session.Store {
	if cfg.Session.Store == "memory" {
		return session.NewMemoryStore()
	}
	return session.NewGormStore(db)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Session.Secret == "" {
		secret, err := util.RandomString(32)
		if err != nil {
			return fmt.Errorf("generate session secret: %w", err)
		}
		cfg.Session.Secret = secret
		log.Println("session.secret not set: using a random secret, sessions end on restart")
	}

	// init database
	db, err := database.Init(cfg.Database)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer database.Close(db)

	if err := database.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	// audit sinks
	fileSink, err := audit.NewFileSink(cfg.Audit.File)
	if err != nil {
		return err
	}
	sinks := []audit.Sink{fileSink, audit.NewDBSink(db, cfg.Audit.EncryptionKey)}
	var kafkaSink *audit.KafkaSink
	if cfg.KafkaEnabled() {
		kafkaSink = audit.NewKafkaSink(cfg.Audit.KafkaBrokers, cfg.Audit.KafkaTopic)
	}
	if kafkaSink != nil {
		sinks = append(sinks, kafkaSink)
		log.Printf("audit: streaming to kafka topic %s", cfg.Audit.KafkaTopic)
	}
	recorder := audit.NewRecorder(sinks...)

	prov, err := provider.New(cfg.Provider)
	if err != nil {
		return err
	}

	ctx := context.Background()
	mp, err := metrics.NewMeterProvider(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	m := metrics.MustRecorder(mp)

	store := newStore(cfg, db)
	authMgr := auth.NewManager(store, prov, recorder, m, cfg.SessionTimeout())
	payments := payment.NewManager(store, prov, recorder, m, payment.OptionsFromConfig(cfg))
	ingestor := webhook.NewIngestor(payments, recorder, m)

	r := router.SetupRouter(cfg, router.Deps{
		DB:        db,
		Store:     store,
		Auth:      authMgr,
		Payments:  payments,
		Ingestor:  ingestor,
		AuditFile: fileSink,
		Provider:  prov.Name(),
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s (provider=%s, store=%s)", addr, prov.Name(), cfg.Session.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	var serveErr error
	select {
	case <-quit:
		log.Println("shutting down server...")
	case serveErr = <-errCh:
		log.Printf("server error: %v", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}

	// in-flight provider submissions still write to the store and sinks
	payments.Wait()

	if kafkaSink != nil {
		if err := kafkaSink.Close(); err != nil {
			log.Printf("kafka close: %v", err)
		}
	}
	if err := mp.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics shutdown: %v", err)
	}
	log.Println("server stopped")
	return serveErr
}
