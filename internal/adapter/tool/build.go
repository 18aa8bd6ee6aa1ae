package tool

import (
	"fmt"
	"log/slog"

	"coral-agents/internal/domain"
	"coral-agents/internal/infra/config"
)

// Deps are the shared collaborators tools are built from. Fields a persona's
// tools do not need may be nil.
type Deps struct {
	Jobs                SongJobs
	DefaultSongProvider string
	AsyncSongs          bool
	Catalog             domain.Catalog
	Library             domain.SongLibrary
	News                *NewsSearch
	LLM                 domain.LLMProvider
	Hub                 HubConn
	Logger              *slog.Logger
}

// Build creates the registry for one agent from its declared tool names.
func Build(agent config.AgentConfig, deps Deps) (*Registry, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reg := NewRegistry(logger)

	for _, name := range agent.Tools {
		t, err := newTool(name, agent, deps, logger)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", agent.ID, err)
		}
		if err := reg.Register(WithRateLimit(t, agent.ToolRateLimit)); err != nil {
			return nil, fmt.Errorf("agent %s: %w", agent.ID, err)
		}
	}
	return reg, nil
}

func newTool(name string, agent config.AgentConfig, deps Deps, logger *slog.Logger) (domain.Tool, error) {
	missing := func(what string) error {
		return domain.NewDomainError("tool.Build", domain.ErrDisabled, fmt.Sprintf("%s needs %s", name, what))
	}

	switch name {
	case "create_song":
		if deps.Jobs == nil {
			return nil, missing("a generation poller")
		}
		return NewCreateSongTool(deps.Jobs, deps.Hub, deps.AsyncSongs, logger), nil
	case "check_song_status":
		if deps.Jobs == nil {
			return nil, missing("a generation poller")
		}
		return NewCheckSongStatusTool(deps.Jobs, deps.DefaultSongProvider, logger), nil
	case "generate_song_concept":
		if deps.LLM == nil {
			return nil, missing("an LLM provider")
		}
		return NewSongConceptTool(deps.LLM, agent.Model, agent.SystemPrompt, logger), nil
	case "generate_lyrics":
		if deps.LLM == nil {
			return nil, missing("an LLM provider")
		}
		return NewLyricsTool(deps.LLM, agent.Model, agent.SystemPrompt, logger), nil
	case "list_songs", "get_song_by_id", "search_songs":
		if deps.Library == nil {
			return nil, missing("a catalog that can read songs")
		}
		return newLibraryTool(name, deps.Library, logger), nil
	case "process_feedback":
		if deps.Catalog == nil {
			return nil, missing("a catalog")
		}
		return NewFeedbackTool(deps.Catalog, logger), nil
	case "search_news":
		if deps.News == nil {
			return nil, missing("a news client")
		}
		return NewNewsTool(deps.News, logger), nil
	case "compose_tweet":
		if deps.LLM == nil {
			return nil, missing("an LLM provider")
		}
		return NewTweetTool(deps.LLM, agent.Model, agent.SystemPrompt, logger), nil
	case "list_agents":
		if deps.Hub == nil {
			return nil, missing("a hub connection")
		}
		return NewListAgentsTool(deps.Hub, logger), nil
	case "create_thread":
		if deps.Hub == nil {
			return nil, missing("a hub connection")
		}
		return NewCreateThreadTool(deps.Hub, logger), nil
	default:
		return nil, domain.NewDomainError("tool.Build", domain.ErrToolNotFound, name)
	}
}

func newLibraryTool(name string, lib domain.SongLibrary, logger *slog.Logger) domain.Tool {
	switch name {
	case "list_songs":
		return NewListSongsTool(lib, logger)
	case "get_song_by_id":
		return NewGetSongTool(lib, logger)
	default:
		return NewSearchSongsTool(lib, logger)
	}
}
