package agent

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	internalerrors "github.com/Schera-ole/vmwatch/internal/errors"
	models "github.com/Schera-ole/vmwatch/internal/model"
)

// Config configures cmd/agent.
type Config struct {
	// Address is the server, either host:port or a full base URL
	Address string `mapstructure:"address"`

	AgentID       string `mapstructure:"agent-id"`
	APIKey        string `mapstructure:"api-key"`
	EncryptionKey string `mapstructure:"encryption-key"`

	// VMID names this machine in audits; the hostname is used when empty
	VMID string `mapstructure:"vm-id"`

	PollInterval time.Duration `mapstructure:"poll-interval"`

	// RateLimit is the number of concurrent senders
	RateLimit    int  `mapstructure:"rate-limit"`
	SendAttempts uint `mapstructure:"send-attempts"`

	// Listen is the address of the command endpoint
	Listen         string        `mapstructure:"listen"`
	CommandTimeout time.Duration `mapstructure:"command-timeout"`
	CommandAliases string        `mapstructure:"command-aliases"`

	DockerHost string   `mapstructure:"docker-host"`
	Collectors []string `mapstructure:"collectors"`
	LogLevel   string   `mapstructure:"log-level"`
}

// Defaults are the built-in agent settings.
func Defaults() map[string]any {
	names := make([]string, 0, len(models.Categories))
	for _, c := range models.Categories {
		names = append(names, c.String())
	}
	return map[string]any{
		"address":         "localhost:8080",
		"agent-id":        "",
		"api-key":         "",
		"encryption-key":  "",
		"vm-id":           "",
		"poll-interval":   10 * time.Second,
		"rate-limit":      5,
		"send-attempts":   4,
		"listen":          ":8081",
		"command-timeout": time.Duration(0),
		"command-aliases": "",
		"docker-host":     "",
		"collectors":      names,
		"log-level":       "info",
	}
}

// Validate checks required settings and fills in derived ones.
func (c *Config) Validate() error {
	var errs []error
	if c.AgentID == "" {
		errs = append(errs, errors.New("agent-id is required"))
	}
	if c.APIKey == "" {
		errs = append(errs, errors.New("api-key is required"))
	}
	if c.EncryptionKey == "" {
		errs = append(errs, errors.New("encryption-key is required"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("poll-interval must be positive"))
	}
	if c.RateLimit <= 0 {
		errs = append(errs, errors.New("rate-limit must be positive"))
	}
	if c.SendAttempts == 0 {
		c.SendAttempts = 1
	}
	for _, name := range c.Collectors {
		if _, ok := models.ParseCategory(name); !ok {
			errs = append(errs, fmt.Errorf("unknown collector %q", name))
		}
	}
	if c.VMID == "" {
		host, err := os.Hostname()
		if err != nil {
			errs = append(errs, fmt.Errorf("vm-id not set and hostname unavailable: %v", err))
		}
		c.VMID = host
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %v", internalerrors.ErrConfiguration, err)
	}
	return nil
}

// WriteURL is the audit ingestion endpoint of the server.
func (c Config) WriteURL() string {
	base := strings.TrimRight(c.Address, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return base + "/api/write"
}
