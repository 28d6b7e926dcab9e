package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/renalink/platform/pkg/common/config"
	"github.com/renalink/platform/pkg/common/database"
	"github.com/renalink/platform/pkg/common/kafka"
	"github.com/renalink/platform/pkg/common/logger"
	"github.com/renalink/platform/pkg/common/models"
	"github.com/renalink/platform/pkg/observability/metrics"
	"github.com/renalink/platform/pkg/records"
)

// Consumes chart events and mirrors them into the audit table, so the trail
// survives even when the originating service could not write its own row.
type auditService struct {
	repo *records.Repository
}

func main() {
	logger.Init()
	metrics.Init()
	cfg := config.Load()

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}

	repo := records.NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate records tables")
	}

	service := &auditService{repo: repo}

	consumer := kafka.NewConsumer(cfg.ChartEventsTopic, "chart-audit-service")
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := consumer.Consume(ctx, service.processEvent); err != nil && err != context.Canceled {
			logger.Log.WithError(err).Fatal("Consumer error")
		}
	}()

	go func() {
		ticker := time.NewTicker(12 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := repo.CleanupAuditLogs(context.Background(), cfg.AuditRetention); err != nil {
					logger.Log.WithError(err).Warn("audit retention cleanup failed")
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)
	router.HandleFunc("/metrics", metrics.Handler()).Methods(http.MethodGet)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, "8085"),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithField("port", "8085").Info("Chart Audit Service started")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Chart Audit Service...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}

	logger.Log.Info("Chart Audit Service stopped")
}

func (s *auditService) processEvent(ctx context.Context, event models.Event) error {
	entityID := ""
	if raw, ok := event.Data["entity_id"].(string); ok {
		entityID = raw
	}

	err := s.repo.AppendAuditLog(ctx, models.AuditLog{
		PatientID: event.PatientID,
		Actor:     event.Source,
		Action:    event.Type,
		Entity:    "chart_event",
		EntityID:  entityID,
		Payload:   event.Data,
	})
	if err != nil {
		return err
	}

	metrics.IncAuditRows(1)
	logger.Log.WithFields(map[string]interface{}{
		"event_id":   event.ID,
		"event_type": event.Type,
		"patient_id": event.PatientID,
	}).Debug("chart event recorded")
	return nil
}
