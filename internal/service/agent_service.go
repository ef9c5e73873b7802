package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	models "github.com/Schera-ole/vmwatch/internal/model"
	"github.com/Schera-ole/vmwatch/internal/repository"
)

// AgentService registers and looks up monitored hosts.
type AgentService struct {
	repository repository.Repository
}

// NewAgentService creates an AgentService.
func NewAgentService(repo repository.Repository) *AgentService {
	return &AgentService{repository: repo}
}

// Register creates an agent with a fresh id.
func (s *AgentService) Register(ctx context.Context, dto models.AgentDTO) (models.Agent, error) {
	users := dto.AllowedUsers
	if users == nil {
		users = []string{}
	}
	agent := models.Agent{
		ID:           uuid.NewString(),
		Name:         dto.Name,
		URL:          dto.URL,
		AllowedUsers: users,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.repository.CreateAgent(ctx, agent); err != nil {
		return models.Agent{}, fmt.Errorf("registering agent %s: %w", dto.Name, err)
	}
	return agent, nil
}

func (s *AgentService) GetAgent(ctx context.Context, id string) (models.Agent, error) {
	return s.repository.FindAgentByID(ctx, id)
}

func (s *AgentService) ListAgents(ctx context.Context) ([]models.Agent, error) {
	return s.repository.ListAgents(ctx)
}
