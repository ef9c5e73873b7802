package agent

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"go.uber.org/zap"

	"github.com/Schera-ole/vmwatch/internal/codec"
	internalerrors "github.com/Schera-ole/vmwatch/internal/errors"
	models "github.com/Schera-ole/vmwatch/internal/model"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 5 * time.Second
)

// statusError is a non-2xx reply from the server.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("server returned status %d: %s", e.code, e.body)
}

// Sender seals payloads and pushes them to the server as audits.
type Sender struct {
	client   *http.Client
	codec    *codec.Codec
	url      string
	apiKey   string
	agentID  string
	vmID     string
	attempts uint
	delay    time.Duration
	logger   *zap.SugaredLogger
}

// NewSender creates a Sender for cfg. A nil client gets a default one.
func NewSender(cfg Config, c *codec.Codec, client *http.Client, logger *zap.SugaredLogger) *Sender {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	attempts := cfg.SendAttempts
	if attempts == 0 {
		attempts = 1
	}
	return &Sender{
		client:   client,
		codec:    c,
		url:      cfg.WriteURL(),
		apiKey:   cfg.APIKey,
		agentID:  cfg.AgentID,
		vmID:     cfg.VMID,
		attempts: attempts,
		delay:    initialBackoff,
		logger:   logger,
	}
}

// Send encrypts payload and delivers it as one audit. Transport failures and
// 5xx replies are retried; other replies are final.
func (s *Sender) Send(ctx context.Context, category models.Category, payload string, ts time.Time) error {
	blob, err := s.codec.Encrypt([]byte(payload), s.agentID)
	if err != nil {
		return err
	}
	body, err := json.Marshal(models.AuditDTO{
		VMID:      s.vmID,
		Category:  category.String(),
		Data:      blob,
		Timestamp: ts,
	})
	if err != nil {
		return fmt.Errorf("encoding audit: %w", err)
	}
	compressed, err := compress(body)
	if err != nil {
		return err
	}

	return retry.Do(func() error {
		return s.post(ctx, compressed)
	},
		retry.Context(ctx),
		retry.Attempts(s.attempts),
		retry.Delay(s.delay),
		retry.MaxDelay(maxBackoff),
		retry.LastErrorOnly(true),
		retry.RetryIf(isRetryableError),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Infow("retrying audit delivery", "attempt", n+1, "category", category, "error", err)
		}),
	)
}

func (s *Sender) post(ctx context.Context, compressed []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(compressed))
	if err != nil {
		return fmt.Errorf("creating request for %s: %w", s.url, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")
	req.Header.Set("X-API-KEY", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", internalerrors.ErrTransport, err)
	}
	defer resp.Body.Close()
	reply, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{code: resp.StatusCode, body: string(reply)}
	}
	return nil
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return nil, fmt.Errorf("compressing audit: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("compressing audit: %w", err)
	}
	return buf.Bytes(), nil
}

// isRetryableError keeps retrying while the server is unreachable or failing.
func isRetryableError(err error) bool {
	var status *statusError
	if errors.As(err, &status) {
		return status.code >= 500
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	return errors.Is(err, internalerrors.ErrTransport) || errors.As(err, &netErr)
}
