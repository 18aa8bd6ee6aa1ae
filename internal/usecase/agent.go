package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"coral-agents/internal/domain"
	"coral-agents/internal/infra/tracer"
	"coral-agents/internal/usecase/backoff"
)

// AgentDeps holds injected dependencies for the agent.
type AgentDeps struct {
	LLM           domain.LLMProvider
	Tools         domain.ToolExecutor
	Logger        *slog.Logger
	SystemPrompt  string
	Model         string
	MaxIterations int
	// LLMRetry schedules retries of rate-limited or timed-out LLM calls.
	LLMRetry backoff.Policy
	Sleep    backoff.SleepFunc
}

// Agent runs the think-act loop for one persona.
type Agent struct {
	deps AgentDeps
}

// NewAgent creates an agent with the given dependencies.
func NewAgent(deps AgentDeps) *Agent {
	if deps.MaxIterations <= 0 {
		deps.MaxIterations = 10
	}
	if deps.LLMRetry.Base <= 0 {
		deps.LLMRetry = backoff.Policy{Kind: backoff.KindExponential, Base: 500 * time.Millisecond, Cap: 10 * time.Second, Max: 3}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Agent{deps: deps}
}

// Respond answers one mention. The model may call the bound tools any number
// of times before it produces the final text.
func (a *Agent) Respond(ctx context.Context, msg domain.InboundMessage) (string, error) {
	ctx, span := tracer.StartSpan(ctx, "agent.respond",
		trace.WithAttributes(tracer.StringAttr("thread.id", msg.ThreadID)),
	)
	defer span.End()

	history := []domain.Message{
		{Role: domain.RoleSystem, Content: a.deps.SystemPrompt, Timestamp: time.Now()},
		{Role: domain.RoleUser, Content: userPrompt(msg), Timestamp: time.Now()},
	}
	schemas := a.deps.Tools.Schemas()

	for i := 0; i < a.deps.MaxIterations; i++ {
		span.AddEvent("agent.iteration", trace.WithAttributes(tracer.IntAttr("iteration", i)))

		resp, err := a.callLLM(ctx, domain.ChatRequest{
			Model:    a.deps.Model,
			Messages: history,
			Tools:    schemas,
		})
		if err != nil {
			tracer.RecordError(span, err)
			return "", domain.WrapOp("Agent.Respond", err)
		}

		reply := resp.Message
		reply.Role = domain.RoleAssistant
		for j := range reply.ToolCalls {
			if reply.ToolCalls[j].ID == "" {
				reply.ToolCalls[j].ID = "call_" + ulid.Make().String()
			}
		}
		history = append(history, reply)

		a.deps.Logger.Debug("llm response",
			"iteration", i,
			"tool_calls", len(reply.ToolCalls),
			"tokens", resp.Usage.TotalTokens,
		)

		if len(reply.ToolCalls) == 0 {
			tracer.SetOK(span)
			return reply.Content, nil
		}

		// Results keep the order of the calls.
		toolMsgs := make([]domain.Message, len(reply.ToolCalls))
		var wg sync.WaitGroup
		for idx, call := range reply.ToolCalls {
			wg.Add(1)
			go func() {
				defer wg.Done()
				toolMsgs[idx] = a.executeTool(ctx, call)
			}()
		}
		wg.Wait()
		history = append(history, toolMsgs...)
	}

	tracer.RecordError(span, domain.ErrMaxIterations)
	return "", domain.ErrMaxIterations
}

func (a *Agent) callLLM(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	var resp *domain.ChatResponse
	attempt := 0
	err := backoff.Retry(ctx, a.deps.LLMRetry, a.deps.Sleep, func(ctx context.Context) error {
		attempt++
		llmCtx, llmSpan := tracer.StartSpan(ctx, "agent.llm_call",
			trace.WithAttributes(tracer.IntAttr("attempt", attempt)),
		)
		defer llmSpan.End()

		var err error
		resp, err = a.deps.LLM.Chat(llmCtx, req)
		if err == nil {
			return nil
		}
		tracer.RecordError(llmSpan, err)
		if !domain.IsRetryableError(err) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		a.deps.Logger.Info("retrying LLM call after error", "attempt", attempt, "error", err)
		return err
	})
	return resp, err
}

// executeTool runs a single tool call and returns the result as a Message.
// Failures become tool output so the model can react to them.
func (a *Agent) executeTool(ctx context.Context, call domain.ToolCall) domain.Message {
	ctx, span := tracer.StartSpan(ctx, "agent.execute_tool",
		trace.WithAttributes(tracer.StringAttr("tool.name", call.Name)),
	)
	defer span.End()

	toolMsg := func(content string) domain.Message {
		return domain.Message{
			Role:       domain.RoleTool,
			Name:       call.Name,
			Content:    content,
			ToolCallID: call.ID,
			Timestamp:  time.Now(),
		}
	}

	t, err := a.deps.Tools.Get(call.Name)
	if err != nil {
		tracer.RecordError(span, err)
		return toolMsg(err.Error())
	}

	result, err := safeExecute(ctx, t, call.Arguments)
	if err != nil {
		tracer.RecordError(span, err)
		a.deps.Logger.Warn("tool failed", "tool", call.Name, "error", err)
		return toolMsg("error: " + err.Error())
	}
	if result.IsError {
		a.deps.Logger.Info("tool returned error", "tool", call.Name, "content", result.Content)
	}

	tracer.SetOK(span)
	return toolMsg(result.Content)
}

// safeExecute turns a tool panic into an error.
func safeExecute(ctx context.Context, t domain.Tool, args json.RawMessage) (result *domain.ToolResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s panicked: %v", domain.ErrToolFailure, t.Name(), r)
		}
	}()
	result, err = t.Execute(ctx, args)
	if err == nil && result == nil {
		result = &domain.ToolResult{}
	}
	return result, err
}

func userPrompt(msg domain.InboundMessage) string {
	return fmt.Sprintf("Message from %s in thread %s:\n%s", msg.SenderID, msg.ThreadID, msg.Content)
}
