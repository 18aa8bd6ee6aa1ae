package domain

import "context"

type ctxKey string

const (
	mentionCtxKey ctxKey = "mention"
	agentCtxKey   ctxKey = "agent_id"
)

// ContextWithMention returns a new context carrying the mention being handled.
func ContextWithMention(ctx context.Context, msg InboundMessage) context.Context {
	return context.WithValue(ctx, mentionCtxKey, msg)
}

// MentionFromContext extracts the mention being handled.
func MentionFromContext(ctx context.Context) (InboundMessage, bool) {
	msg, ok := ctx.Value(mentionCtxKey).(InboundMessage)
	return msg, ok
}

// ContextWithAgentID returns a new context carrying the handling agent's id.
func ContextWithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentCtxKey, agentID)
}

// AgentIDFromContext extracts the handling agent's id.
// Returns empty string if not set.
func AgentIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(agentCtxKey).(string); ok {
		return v
	}
	return ""
}
