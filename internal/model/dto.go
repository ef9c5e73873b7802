package models

import "time"

// AuditDTO is the wire form of an audit pushed to /api/write.
type AuditDTO struct {
	// VMID identifies the monitored machine; it may be empty, in which case no alert can be raised
	VMID string `json:"vmId"`

	// Category is the wire name of the audit category
	Category string `json:"category" validate:"required"`

	// Data is the base64 ciphertext of the collector payload
	Data string `json:"data" validate:"required,base64"`

	// Timestamp is the collection time including its zone offset
	Timestamp time.Time `json:"timestamp" validate:"required"`
}

// CredentialsDTO is the body of /api/authenticate/jwt.
type CredentialsDTO struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// APIKeyRequestDTO is the body of /api/authenticate/apiKey.
type APIKeyRequestDTO struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
	AgentID  string `json:"agentId" validate:"required"`
}

// TokenDTO carries an issued bearer token.
type TokenDTO struct {
	Token string `json:"token"`
}

// KeyDTO carries an issued API key. It is the only time the plaintext is disclosed.
type KeyDTO struct {
	Key string `json:"key"`
}

// AgentDTO registers a new agent.
type AgentDTO struct {
	Name         string   `json:"name" validate:"required"`
	URL          string   `json:"url" validate:"required,url"`
	AllowedUsers []string `json:"allowedUsers" validate:"dive,required"`
}

// CommandDTO is the admin request to run an aliased command on an agent.
type CommandDTO struct {
	Command   string `json:"command" validate:"required"`
	Arguments string `json:"arguments"`
}

// CommandEnvelope is the sealed command body sent to an agent.
type CommandEnvelope struct {
	Data string `json:"data"`
}

// MessageDTO is the bounded JSON body used for every status reply.
type MessageDTO struct {
	Message string `json:"message"`
}
