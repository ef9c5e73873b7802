// Package service provides the business logic layer for the vmwatch server.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Schera-ole/vmwatch/internal/analysis"
	"github.com/Schera-ole/vmwatch/internal/codec"
	internalerrors "github.com/Schera-ole/vmwatch/internal/errors"
	"github.com/Schera-ole/vmwatch/internal/events"
	models "github.com/Schera-ole/vmwatch/internal/model"
	"github.com/Schera-ole/vmwatch/internal/repository"
	"github.com/Schera-ole/vmwatch/internal/telemetry"
)

// AuditService ingests sealed audits, analyses them and publishes the
// resulting alerts.
type AuditService struct {
	repository repository.Repository
	codec      *codec.Codec
	engine     *analysis.Engine
	publisher  events.Publisher
	logger     *zap.SugaredLogger
}

// NewAuditService creates an AuditService.
func NewAuditService(
	repo repository.Repository,
	c *codec.Codec,
	engine *analysis.Engine,
	publisher events.Publisher,
	logger *zap.SugaredLogger,
) *AuditService {
	return &AuditService{
		repository: repo,
		codec:      c,
		engine:     engine,
		publisher:  publisher,
		logger:     logger,
	}
}

// Ingest stores an audit pushed by agentID and analyses it.
//
// The payload is opened once, here, with agentID as associated data; the
// stored audit keeps the ciphertext. An audit that does not open is rejected
// with ErrValidation and never stored. Alert persistence failures are logged
// and do not fail ingestion.
func (s *AuditService) Ingest(ctx context.Context, agentID string, dto models.AuditDTO) (models.Audit, analysis.Result, error) {
	category, known := models.ParseCategory(dto.Category)
	if !known {
		s.logger.Infow("audit with unknown category", "category", dto.Category, "agent", agentID)
	}

	plaintext, err := s.codec.Decrypt(dto.Data, agentID)
	if err != nil {
		telemetry.AuditsRejected.WithLabelValues("decrypt").Inc()
		return models.Audit{}, analysis.Result{}, fmt.Errorf("%w: audit payload: %w", internalerrors.ErrValidation, err)
	}

	audit := models.Audit{
		ID:        uuid.NewString(),
		VMID:      dto.VMID,
		Category:  category,
		Data:      dto.Data,
		Timestamp: dto.Timestamp,
		AgentID:   agentID,
	}
	if err := s.repository.CreateAudit(ctx, audit); err != nil {
		telemetry.AuditsRejected.WithLabelValues("storage").Inc()
		return models.Audit{}, analysis.Result{}, fmt.Errorf("storing audit: %w", err)
	}
	telemetry.AuditsIngested.WithLabelValues(category.String()).Inc()

	agent, err := s.repository.FindAgentByID(ctx, agentID)
	if err != nil {
		if !errors.Is(err, internalerrors.ErrNotFound) {
			return audit, analysis.Result{}, fmt.Errorf("loading agent %s: %w", agentID, err)
		}
		// An agent without a record has an empty allow-list.
		agent = models.Agent{ID: agentID}
	}

	result := s.engine.Analyze(audit, string(plaintext), agent)
	for _, alert := range result.All() {
		if err := s.repository.CreateAlert(ctx, alert); err != nil {
			s.logger.Errorw("error storing alert", "alert", alert.ID, "error", err)
		}
		telemetry.AlertsRaised.WithLabelValues(alert.Importance.String()).Inc()
	}
	telemetry.IntrusionsDetected.Add(float64(len(result.Intrusions)))

	if s.publisher != nil {
		s.publisher.Publish(events.KindAlert, result.Alerts...)
		s.publisher.Publish(events.KindIntrusion, result.Intrusions...)
	}
	return audit, result, nil
}

// GetAudit returns one audit by id.
func (s *AuditService) GetAudit(ctx context.Context, id string) (models.Audit, error) {
	return s.repository.FindAuditByID(ctx, id)
}

// ListAudits returns every stored audit.
func (s *AuditService) ListAudits(ctx context.Context) ([]models.Audit, error) {
	return s.repository.ListAudits(ctx)
}

// ListAlerts returns every stored alert.
func (s *AuditService) ListAlerts(ctx context.Context) ([]models.Alert, error) {
	return s.repository.ListAlerts(ctx)
}

// Ping checks the storage connection.
func (s *AuditService) Ping(ctx context.Context) error {
	return s.repository.Ping(ctx)
}
