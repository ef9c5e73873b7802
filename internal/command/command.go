// Package command receives sealed commands from the server on the agent side
// and runs them against a fixed table of allowed aliases.
package command

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Schera-ole/vmwatch/internal/codec"
	models "github.com/Schera-ole/vmwatch/internal/model"
)

const maxLoggedOutput = 1024

// Stage is how far a command got through the channel.
type Stage int

const (
	StageReceived Stage = iota
	StageDecrypted
	StageParsed
	StageExecuted
)

func (s Stage) String() string {
	switch s {
	case StageReceived:
		return "received"
	case StageDecrypted:
		return "decrypted"
	case StageParsed:
		return "parsed"
	case StageExecuted:
		return "executed"
	default:
		return "unknown"
	}
}

// Channel turns sealed request bodies into commands and executes them.
type Channel struct {
	codec   *codec.Codec
	agentID string
	aliases AliasTable
	timeout time.Duration
	logger  *zap.SugaredLogger
}

// NewChannel creates a Channel for the agent identified by agentID. A zero
// timeout leaves command execution unbounded.
func NewChannel(c *codec.Codec, agentID string, aliases AliasTable, timeout time.Duration, logger *zap.SugaredLogger) *Channel {
	return &Channel{
		codec:   c,
		agentID: agentID,
		aliases: aliases,
		timeout: timeout,
		logger:  logger,
	}
}

// wireCommand uses pointers so that absent fields can be told apart from
// empty ones.
type wireCommand struct {
	Command   *string `json:"command"`
	Arguments *string `json:"arguments"`
}

// Translate opens a sealed command envelope. It reports false for any
// malformed, tampered or incomplete input.
func (c *Channel) Translate(raw []byte) (models.Command, bool) {
	var envelope models.CommandEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Data == "" {
		c.logger.Warnw("rejected command envelope", "stage", StageReceived)
		return models.Command{}, false
	}

	plaintext, err := c.codec.Decrypt(envelope.Data, c.agentID)
	if err != nil {
		c.logger.Warnw("rejected command", "stage", StageReceived, "error", err)
		return models.Command{}, false
	}

	var wire wireCommand
	if err := json.Unmarshal(plaintext, &wire); err != nil {
		c.logger.Warnw("rejected command body", "stage", StageDecrypted, "error", err)
		return models.Command{}, false
	}
	if wire.Command == nil || wire.Arguments == nil || *wire.Command == "" {
		c.logger.Warnw("incomplete command", "stage", StageDecrypted)
		return models.Command{}, false
	}

	cmd := models.Command{Command: *wire.Command, Arguments: *wire.Arguments}
	c.logger.Debugw("command translated", "stage", StageParsed, "command", cmd.Command)
	return cmd, true
}

// Execute runs cmd once and reports whether it exited with status zero.
// Cancelling ctx does not stop a started command; only the channel timeout
// bounds it.
func (c *Channel) Execute(ctx context.Context, cmd models.Command) bool {
	argv, ok := c.aliases.Resolve(cmd.Command, cmd.Arguments)
	if !ok {
		c.logger.Warnw("command not allowed", "stage", StageParsed, "command", cmd.Command)
		return false
	}

	ctx = context.WithoutCancel(ctx)
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	proc := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var output bytes.Buffer
	proc.Stdout = &output
	proc.Stderr = &output

	err := proc.Run()
	fields := []any{
		"stage", StageExecuted,
		"command", cmd.Command,
		"duration", time.Since(start),
		"output", truncate(output.String()),
	}
	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			c.logger.Warnw("command timed out", fields...)
		case errors.As(err, &exitErr):
			c.logger.Warnw("command failed", append(fields, "exitCode", exitErr.ExitCode())...)
		default:
			c.logger.Warnw("command could not run", append(fields, "error", err)...)
		}
		return false
	}
	c.logger.Infow("command succeeded", fields...)
	return true
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLoggedOutput {
		return s[:maxLoggedOutput] + "..."
	}
	return s
}
