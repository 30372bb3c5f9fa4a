// Lantern is a local agent runtime: streaming generation over an
// on-device model, a token-budgeted context window with background
// summarization, and a tool-augmented response loop.
//
// Usage:
//
//	lantern chat             Start an interactive chat session
//	lantern ask <question>   Ask a single question and exit
//	lantern version          Print version and build information
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/lanternai/lantern/internal/agent"
	"github.com/lanternai/lantern/internal/buildinfo"
	"github.com/lanternai/lantern/internal/capability"
	"github.com/lanternai/lantern/internal/config"
	"github.com/lanternai/lantern/internal/contextwin"
	"github.com/lanternai/lantern/internal/conversation"
	"github.com/lanternai/lantern/internal/engine"
	"github.com/lanternai/lantern/internal/runtime"
)

// main constructs the OS-level environment and delegates to [run] so
// the full lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case command == "":
			command = args[i]
		default:
			cmdArgs = append(cmdArgs, args[i])
		}
	}

	switch command {
	case "version":
		info := buildinfo.Info()
		keys := make([]string, 0, len(info))
		for k := range info {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(stdout, "%-12s %s\n", k, info[k])
		}
		return nil

	case "chat", "ask", "":
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		logger, err := newLogger(stdout, cfg.LogLevel)
		if err != nil {
			return err
		}
		if command == "ask" {
			if len(cmdArgs) == 0 {
				return errors.New("ask requires a question")
			}
			return askOnce(ctx, stdout, logger, cfg, strings.Join(cmdArgs, " "))
		}
		return chat(ctx, stdout, logger, cfg)

	default:
		fmt.Fprintf(stderr, "unknown command %q\n", command)
		return printUsage(stdout)
	}
}

// loadConfig finds and loads the config file, falling back to defaults
// when none exists and no explicit path was given.
func loadConfig(explicit string) (*config.Config, error) {
	path, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, err
		}
		return config.Default(), nil
	}
	return config.Load(path)
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	lvl, err := config.ParseLogLevel(level)
	if err != nil {
		return nil, err
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       lvl,
		ReplaceAttr: config.ReplaceLogLevelNames,
	})
	return slog.New(handler), nil
}

// buildAgent wires the runtime session, engine, window manager, and
// capability registry into an agent.
func buildAgent(logger *slog.Logger, cfg *config.Config) (*agent.Agent, *runtime.Session, error) {
	be, err := openBackend(logger, cfg)
	if err != nil {
		return nil, nil, err
	}
	session := runtime.NewSession(be)

	eng := engine.New(session, logger)
	window := contextwin.NewManager(cfg.Window, eng, logger)
	registry := capability.NewRegistry(clockProvider{})

	agentCfg := cfg.Agent
	agentCfg.Sampling = cfg.Sampling
	return agent.New(agentCfg, eng, window, registry, logger), session, nil
}

func chat(ctx context.Context, stdout io.Writer, logger *slog.Logger, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ag, session, err := buildAgent(logger, cfg)
	if err != nil {
		return err
	}
	defer session.Close()

	logger.Info("starting chat", "build", buildinfo.String())
	fmt.Fprintln(stdout, "lantern chat (empty line or Ctrl-D exits)")

	conv := conversation.New()
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(stdout, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			return nil
		}
		if err := respond(ctx, stdout, ag, conv, line); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func askOnce(ctx context.Context, stdout io.Writer, logger *slog.Logger, cfg *config.Config, question string) error {
	ag, session, err := buildAgent(logger, cfg)
	if err != nil {
		return err
	}
	defer session.Close()
	return respond(ctx, stdout, ag, conversation.New(), question)
}

// respond streams one reply to stdout as it is generated.
func respond(ctx context.Context, stdout io.Writer, ag *agent.Agent, conv *conversation.Conversation, text string) error {
	_, err := ag.Respond(ctx, conv, text, func(ev agent.Event) {
		switch ev.Kind {
		case agent.EventToken:
			fmt.Fprint(stdout, ev.Text)
		case agent.EventToolCallStart:
			fmt.Fprintf(stdout, "\n[%s...]\n", ev.Operation)
		case agent.EventDone:
			fmt.Fprintln(stdout)
		}
	})
	return err
}

func printUsage(w io.Writer) error {
	fmt.Fprint(w, `Usage: lantern [-config path] <command>

Commands:
  chat             Start an interactive chat session
  ask <question>   Ask a single question and exit
  version          Print version and build information
`)
	return nil
}
