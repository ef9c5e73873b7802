package main

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Schera-ole/vmwatch/internal/codec"
	"github.com/Schera-ole/vmwatch/internal/config"
	internalerrors "github.com/Schera-ole/vmwatch/internal/errors"
	"github.com/Schera-ole/vmwatch/internal/events"
	models "github.com/Schera-ole/vmwatch/internal/model"
	"github.com/Schera-ole/vmwatch/internal/notify"
	"github.com/Schera-ole/vmwatch/internal/repository"
)

func freeAddress(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func testServerConfig(t *testing.T) config.ServerConfig {
	t.Helper()
	key, err := codec.GenerateKey()
	require.NoError(t, err)
	return config.ServerConfig{
		Address:              freeAddress(t),
		EncryptionKey:        key,
		JWTSecret:            "secret",
		NotifyMinimum:        "MEDIUM",
		DefaultAdminUsername: "root",
		DefaultAdminPassword: "s3cret",
	}
}

func TestNewRootCmd_Flags(t *testing.T) {
	cmd := newRootCmd()
	for _, name := range []string{"config", "address", "database-dsn", "migrations-path", "encryption-key", "jwt-secret", "log-level"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
	assert.Equal(t, "a", cmd.Flags().Lookup("address").Shorthand)
	assert.Equal(t, "d", cmd.Flags().Lookup("database-dsn").Shorthand)
}

func TestNewRootCmd_RejectsMissingKeys(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"-a", "127.0.0.1:0"})
	err := cmd.Execute()
	assert.ErrorIs(t, err, internalerrors.ErrConfiguration)
}

func TestOpenStorage_Memory(t *testing.T) {
	storage, err := openStorage(context.Background(), config.ServerConfig{}, zap.NewNop().Sugar())
	require.NoError(t, err)
	assert.IsType(t, &repository.MemStorage{}, storage)
}

func TestNewMailer(t *testing.T) {
	mailer, err := newMailer(notify.SMTPConfig{}, zap.NewNop().Sugar())
	require.NoError(t, err)
	assert.IsType(t, notify.NopMailer{}, mailer)
}

func TestRun_RequiresBootstrapAdmin(t *testing.T) {
	cfg := testServerConfig(t)
	cfg.DefaultAdminPassword = ""
	err := run(context.Background(), cfg, zap.NewNop().Sugar())
	assert.ErrorIs(t, err, internalerrors.ErrConfiguration)
}

func TestRun_GracefulShutdown(t *testing.T) {
	cfg := testServerConfig(t)
	cfg.AlertFile = filepath.Join(t.TempDir(), "alerts.jsonl")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, zap.NewNop().Sugar()) }()

	require.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", cfg.Address)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestStartEventBus(t *testing.T) {
	cfg := config.ServerConfig{AlertFile: filepath.Join(t.TempDir(), "alerts.jsonl"), NotifyMinimum: "LOW"}
	logger := zap.NewNop().Sugar()

	publisher, source, bus := startEventBus(context.Background(), cfg, notify.NewGate(nil, logger), logger)
	publisher.Publish(events.KindAlert, models.Alert{ID: "a1", VMID: "vm-1", Importance: models.ImportanceCritical})
	close(source)
	require.NoError(t, bus.Wait())

	data, err := os.ReadFile(cfg.AlertFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"a1"`)
}
