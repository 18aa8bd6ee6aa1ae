package main

import (
	"log/slog"

	"coral-agents/internal/adapter/hub"
	"coral-agents/internal/adapter/tool"
	"coral-agents/internal/domain"
	"coral-agents/internal/infra/config"
	"coral-agents/internal/infra/logger"
	"coral-agents/internal/infra/resilience"
	"coral-agents/internal/usecase"
	"coral-agents/internal/usecase/pollloop"
)

// defaultSongProvider answers check_song_status calls that name no provider.
const defaultSongProvider = "sonic"

// agentRuntime is one persona wired to its own hub session.
type agentRuntime struct {
	ID    string
	Loop  *pollloop.Loop
	Tools *tool.Registry
}

// initAgents builds a poll loop per configured persona. All personas share
// one hub transport; each opens its own session on it.
func initAgents(cfg *config.Config, llmComp *LLMComponents, svc *Services, log *slog.Logger) ([]*agentRuntime, error) {
	transport := hub.NewTransport(hub.Options{
		ClientName:  cfg.Hub.ClientName,
		Headers:     cfg.Hub.Headers,
		HTTPClient:  resilience.NewStreamClient(cfg.Hub.HTTP),
		CallTimeout: cfg.Hub.CallTimeout,
		InitTimeout: cfg.Hub.InitTimeout,
	}, log.With("component", "hub"))

	agents := make([]*agentRuntime, 0, len(cfg.Agents))
	for _, ac := range cfg.Agents {
		rt, err := initAgent(cfg, ac, transport, llmComp, svc, log)
		if err != nil {
			return nil, err
		}
		agents = append(agents, rt)
	}
	return agents, nil
}

func initAgent(cfg *config.Config, ac config.AgentConfig, transport domain.HubTransport, llmComp *LLMComponents, svc *Services, log *slog.Logger) (*agentRuntime, error) {
	agentLog := logger.ForAgent(log, ac.ID)

	provider, err := llmComp.forAgent(ac)
	if err != nil {
		return nil, err
	}

	// Tools reach the hub through the loop, which does not exist yet.
	link := &tool.HubLink{}
	tools, err := tool.Build(ac, tool.Deps{
		Jobs:                svc.Poller,
		DefaultSongProvider: defaultSongProvider,
		AsyncSongs:          cfg.Generation.Async,
		Catalog:             svc.Catalog,
		Library:             svc.Library,
		News:                svc.News,
		LLM:                 provider,
		Hub:                 link,
		Logger:              agentLog,
	})
	if err != nil {
		return nil, err
	}

	agent := usecase.NewAgent(usecase.AgentDeps{
		LLM:           provider,
		Tools:         tools,
		Logger:        agentLog,
		SystemPrompt:  ac.SystemPrompt,
		Model:         ac.Model,
		MaxIterations: ac.MaxIterations,
	})
	dispatcher := usecase.NewDispatcher(ac.ID, agent, ac.HandlerTimeout, agentLog)

	loop := pollloop.New(pollConfig(cfg, ac), pollloop.Deps{
		Transport: transport,
		Handler:   dispatcher,
		Logger:    log,
	})
	link.Bind(loop)

	agentLog.Info("agent configured", "tools", tools.Names(), "llm", provider.Name())
	return &agentRuntime{ID: ac.ID, Loop: loop, Tools: tools}, nil
}

func pollConfig(cfg *config.Config, ac config.AgentConfig) pollloop.Config {
	p := cfg.Poll
	return pollloop.Config{
		Endpoint: cfg.Hub.URL,
		Identity: domain.HubIdentity{
			AgentID:       ac.ID,
			Description:   ac.Description,
			WaitForAgents: ac.WaitForAgents,
		},
		PollTimeout:       p.Timeout,
		Reconnect:         p.Reconnect,
		TransientDelay:    p.TransientDelay,
		TransientLimit:    p.TransientLimit,
		KeepaliveInterval: p.KeepaliveInterval,
		KeepaliveTimeout:  p.KeepaliveTimeout,
		SendTimeout:       p.SendTimeout,
	}
}
