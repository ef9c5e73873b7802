package auth

import "context"

type contextKey int

const (
	agentKey contextKey = iota
	adminKey
)

// WithAgent returns a context carrying the id of the authenticated agent.
func WithAgent(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentKey, agentID)
}

// AgentFromContext returns the authenticated agent id, if any.
func AgentFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(agentKey).(string)
	return id, ok && id != ""
}

// WithAdmin returns a context carrying the username of the authenticated admin.
func WithAdmin(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, adminKey, username)
}

// AdminFromContext returns the authenticated admin username, if any.
func AdminFromContext(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(adminKey).(string)
	return name, ok && name != ""
}
