// Package models defines the data structures used throughout the vmwatch system.
package models

import "time"

// Role is the privilege level of an administrator.
type Role string

const (
	// RoleSuper is held by exactly one bootstrap administrator.
	RoleSuper Role = "SUPER"

	// RoleAdmin is the ordinary administrator role.
	RoleAdmin Role = "ADMIN"
)

// Agent is a monitored host running the collection agent.
type Agent struct {
	// ID is the agent identity, also used as AAD for every ciphertext it exchanges
	ID string `json:"id"`

	// Name is a human readable display name
	Name string `json:"name"`

	// URL is the base callback URL of the agent command endpoint
	URL string `json:"url"`

	// AllowedUsers lists the usernames permitted to log in on the host
	AllowedUsers []string `json:"allowedUsers"`

	CreatedAt time.Time `json:"createdAt"`
}

// IsAllowed reports whether username is on the agent allow-list.
func (a Agent) IsAllowed(username string) bool {
	for _, u := range a.AllowedUsers {
		if u == username {
			return true
		}
	}
	return false
}

// Admin is an operator allowed to use the management API.
type Admin struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
	Role         Role   `json:"role"`
}

// APIKey binds a hashed machine credential to exactly one agent.
type APIKey struct {
	ID        string    `json:"id"`
	Hash      string    `json:"-"`
	AgentID   string    `json:"agentId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Audit is one sealed telemetry record pushed by an agent.
type Audit struct {
	ID        string    `json:"id"`
	VMID      string    `json:"vmId"`
	Category  Category  `json:"category"`
	Data      string    `json:"data"`
	Timestamp time.Time `json:"timestamp"`
	AgentID   string    `json:"agentId"`
}

// Alert is produced by analysis when an audit crosses a threshold.
type Alert struct {
	ID         string     `json:"id"`
	VMID       string     `json:"vmId"`
	AgentID    string     `json:"agentId"`
	Importance Importance `json:"importance"`
	Timestamp  time.Time  `json:"timestamp"`
	Message    string     `json:"message"`
}

// Command is a remote execution request: an alias and its single argument.
type Command struct {
	Command   string `json:"command"`
	Arguments string `json:"arguments"`
}
