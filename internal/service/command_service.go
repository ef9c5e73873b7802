package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/Schera-ole/vmwatch/internal/codec"
	internalerrors "github.com/Schera-ole/vmwatch/internal/errors"
	models "github.com/Schera-ole/vmwatch/internal/model"
	"github.com/Schera-ole/vmwatch/internal/repository"
	"github.com/Schera-ole/vmwatch/internal/telemetry"
)

// CommandService seals admin commands and delivers them to agents.
type CommandService struct {
	repository repository.Repository
	codec      *codec.Codec
	client     *http.Client
	logger     *zap.SugaredLogger
}

// NewCommandService creates a CommandService. A nil client gets one without
// an overall timeout: the agent replies only once the command exits.
// Commands are not retried since they need not be idempotent.
func NewCommandService(repo repository.Repository, c *codec.Codec, client *http.Client, logger *zap.SugaredLogger) *CommandService {
	if client == nil {
		client = &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
	}
	return &CommandService{repository: repo, codec: c, client: client, logger: logger}
}

// Dispatch sends cmd to the agent and waits for its reply.
//
// A missing agent is ErrNotFound, a reply of 400 is ErrValidation and any
// other failure, including a command that ran and failed, is ErrTransport.
func (s *CommandService) Dispatch(ctx context.Context, agentID string, cmd models.Command) error {
	agent, err := s.repository.FindAgentByID(ctx, agentID)
	if err != nil {
		return err
	}

	plaintext, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encoding command: %w", err)
	}
	sealed, err := s.codec.Encrypt(plaintext, agent.ID)
	if err != nil {
		return err
	}
	body, err := json.Marshal(models.CommandEnvelope{Data: sealed})
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}

	url := strings.TrimRight(agent.URL, "/") + "/command"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %w", internalerrors.ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		telemetry.CommandsDispatched.WithLabelValues("unreachable").Inc()
		return fmt.Errorf("%w: %w", internalerrors.ErrTransport, err)
	}
	defer resp.Body.Close()

	var reply models.MessageDTO
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&reply)
	s.logger.Infow("command dispatched",
		"agent", agent.ID,
		"command", cmd.Command,
		"status", resp.StatusCode,
		"reply", reply.Message,
	)

	switch {
	case resp.StatusCode == http.StatusOK:
		telemetry.CommandsDispatched.WithLabelValues("executed").Inc()
		return nil
	case resp.StatusCode == http.StatusBadRequest:
		telemetry.CommandsDispatched.WithLabelValues("rejected").Inc()
		return fmt.Errorf("%w: agent rejected command: %s", internalerrors.ErrValidation, reply.Message)
	default:
		telemetry.CommandsDispatched.WithLabelValues("failed").Inc()
		return fmt.Errorf("%w: agent replied %d: %s", internalerrors.ErrTransport, resp.StatusCode, reply.Message)
	}
}
