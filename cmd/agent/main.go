package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"coral-agents/internal/infra/config"
	"coral-agents/internal/infra/logger"
	"coral-agents/internal/infra/tracer"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	if len(os.Args) < 2 || strings.HasPrefix(os.Args[1], "-") {
		if err := run(os.Args[1:]); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		return
	}

	switch os.Args[1] {
	case "doctor":
		if err := runDoctor(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "doctor: %v\n", err)
			os.Exit(1)
		}
	case "encrypt":
		if err := runEncrypt(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "encrypt: %v\n", err)
			os.Exit(1)
		}
	case "recheck":
		if err := runRecheck(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "recheck: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'coral-agents --help' for usage information.\n", os.Args[1])
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`coral-agents - persona agents for a Coral hub session

USAGE:
    coral-agents [COMMAND] [FLAGS]

COMMANDS:
    doctor      Run health checks on your setup
    encrypt     Encrypt a secret for use as an "enc:" config value
    recheck     Sweep timed-out generation jobs once and exit

    (no command) - Connect the configured agents to the hub

FLAGS:
    -h, --help         Show this help message
    --config PATH      Config file path (default: ./config.yaml)
    --agent ID         Run only the named agent (repeatable, or comma separated)

CONFIGURATION:
    Config file: ./config.yaml (a missing file runs the built-in personas)
    Environment: CORAL_* variables override config
    Secrets:     CORAL_MASTER_KEY decrypts "enc:" values

EXAMPLES:
    coral-agents                                  # Run all four personas
    coral-agents --agent yona_agent               # Run one persona
    CORAL_MASTER_KEY=... coral-agents encrypt sk-...
    coral-agents doctor`)
}

// runFlags are the flags of the default command.
type runFlags struct {
	ConfigPath string
	Agents     []string
}

func parseRunFlags(args []string) (runFlags, error) {
	var rf runFlags
	fs := flag.NewFlagSet("coral-agents", flag.ContinueOnError)
	fs.StringVar(&rf.ConfigPath, "config", defaultConfigPath(), "config file path")
	fs.Func("agent", "agent id to run", func(v string) error {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				rf.Agents = append(rf.Agents, id)
			}
		}
		return nil
	})
	if err := fs.Parse(args); err != nil {
		return rf, err
	}
	if len(rf.Agents) == 0 {
		if id := os.Getenv("CORAL_AGENT_ID"); id != "" {
			rf.Agents = []string{id}
		}
	}
	return rf, nil
}

func defaultConfigPath() string {
	if p := os.Getenv("CORAL_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

// selectAgents narrows cfg.Agents to ids, keeping config order.
func selectAgents(cfg *config.Config, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	kept := cfg.Agents[:0]
	for _, a := range cfg.Agents {
		if want[a.ID] {
			kept = append(kept, a)
			delete(want, a.ID)
		}
	}
	if len(want) > 0 {
		missing := make([]string, 0, len(want))
		for id := range want {
			missing = append(missing, id)
		}
		return fmt.Errorf("unknown agent(s): %s", strings.Join(missing, ", "))
	}
	cfg.Agents = kept
	return nil
}

func run(args []string) error {
	// 1. Config
	flags, err := parseRunFlags(args)
	if err != nil {
		return err
	}
	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := selectAgents(cfg, flags.Agents); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx := context.Background()
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(ctx)

	// 3. LLM providers
	llmComp, err := initLLM(cfg, log)
	if err != nil {
		return fmt.Errorf("llm: %w", err)
	}

	// 4. Catalog, generation providers and the job poller
	svc, svcCleanup, err := initServices(cfg, log)
	if err != nil {
		return fmt.Errorf("services: %w", err)
	}
	defer svcCleanup()

	// 5. One poll loop per persona
	agents, err := initAgents(cfg, llmComp, svc, log)
	if err != nil {
		return fmt.Errorf("agents: %w", err)
	}

	// 6. Graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("coral-agents starting",
		"hub", redactURL(cfg.Hub.URL),
		"agents", agentIDs(agents),
		"provider", cfg.LLM.DefaultProvider,
		"catalog", cfg.Catalog.Backend,
		"async_songs", cfg.Generation.Async,
		"recheck", svc.Scheduler != nil,
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, a := range agents {
		g.Go(func() error {
			if err := a.Loop.Run(gctx); err != nil {
				return fmt.Errorf("agent %s: %w", a.ID, err)
			}
			return nil
		})
	}
	if svc.Scheduler != nil {
		g.Go(func() error { return svc.Scheduler.Run(gctx) })
	}

	err = g.Wait()

	// Background song jobs still polling are saved as pending by Close.
	svc.Poller.Close()
	for _, a := range agents {
		st := a.Loop.Stats()
		log.Info("agent stopped",
			"agent", a.ID,
			"polls", st.Polls,
			"messages", st.Messages,
			"reconnects", st.Reconnects,
		)
	}
	return err
}

func agentIDs(agents []*agentRuntime) []string {
	ids := make([]string, len(agents))
	for i, a := range agents {
		ids[i] = a.ID
	}
	return ids
}

// redactURL drops the path of the hub URL, which carries the session key.
func redactURL(raw string) string {
	if i := strings.Index(raw, "://"); i >= 0 {
		if j := strings.IndexByte(raw[i+3:], '/'); j >= 0 {
			return raw[:i+3+j] + "/..."
		}
	}
	return raw
}
