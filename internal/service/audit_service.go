package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"nytax/internal/model"
	"nytax/internal/repository"

	"github.com/google/uuid"
)

type AuditLogResponse struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	Username   string          `json:"username"`
	Action     string          `json:"action"`
	EntityID   string          `json:"entity_id"`
	EntityName string          `json:"entity_name"`
	Details    json.RawMessage `json:"details" swaggertype:"object"`
	CreatedAt  string          `json:"created_at"`
}

type AuditService interface {
	GetAuditLogs(ctx context.Context, page, limit int) ([]AuditLogResponse, int64, error)
}

type auditService struct {
	repo repository.AuditRepository
}

// NewAuditService creates a new AuditService instance
func NewAuditService(repo repository.AuditRepository) AuditService {
	return &auditService{repo: repo}
}

// GetAuditLogs returns a page of audit entries, newest first, with the acting user resolved.
func (s *auditService) GetAuditLogs(ctx context.Context, page, limit int) ([]AuditLogResponse, int64, error) {
	logs, total, err := s.repo.List(ctx, page, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list audit logs: %w", err)
	}

	res := make([]AuditLogResponse, 0, len(logs))
	for _, l := range logs {
		username := "System"
		userID := ""
		if l.User != nil {
			username = l.User.Username
		}
		if l.UserID != nil {
			userID = l.UserID.String()
		}

		details := json.RawMessage(l.Details)
		if len(details) == 0 {
			details = json.RawMessage("null")
		}
		res = append(res, AuditLogResponse{
			ID:         l.ID.String(),
			UserID:     userID,
			Username:   username,
			Action:     l.Action,
			EntityID:   l.EntityID,
			EntityName: l.EntityName,
			Details:    details,
			CreatedAt:  l.CreatedAt.Format(time.RFC3339),
		})
	}

	return res, total, nil
}

// writeAudit appends an audit row on the transaction carried by ctx.
func writeAudit(ctx context.Context, repo repository.AuditRepository, actor *uuid.UUID, action, entityID, entityName string, details interface{}) error {
	payload, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to encode audit details: %w", err)
	}
	entry := &model.AuditLog{
		UserID:     actor,
		Action:     action,
		EntityID:   entityID,
		EntityName: entityName,
		Details:    payload,
	}
	if err := repo.Log(ctx, entry); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// Notifier receives domain events after their transaction committed.
type Notifier interface {
	Publish(event string, data interface{})
}

// Event names published to websocket clients
const (
	EventRateChanged      = "rate.changed"
	EventRateReverted     = "rate.reverted"
	EventOrderCreated     = "order.created"
	EventImportCompleted  = "import.completed"
	EventImportRolledBack = "import.rolled_back"
)

type nopNotifier struct{}

func (nopNotifier) Publish(string, interface{}) {}

func notifierOrNop(n Notifier) Notifier {
	if n == nil {
		return nopNotifier{}
	}
	return n
}
