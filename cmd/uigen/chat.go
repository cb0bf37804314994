package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danshapiro/uigen/internal/agent"
	"github.com/danshapiro/uigen/internal/vfs"
)

// chat runs one turn locally. Events go to stderr as JSON lines and the
// final file tree goes to stdout.
func chat(args []string) {
	var configPath, filesPath string
	var words []string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			configPath = stringFlag(args, &i)
		case "--files":
			filesPath = stringFlag(args, &i)
		default:
			if strings.HasPrefix(args[i], "--") {
				fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
				os.Exit(1)
			}
			words = append(words, args[i])
		}
	}
	request := strings.TrimSpace(strings.Join(words, " "))
	if request == "" {
		usage()
		os.Exit(1)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	// Local runs are never gated.
	disabled := false
	cfg.RateLimit.Enabled = &disabled

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	a, err := buildApp(cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer a.Close()

	files, err := readSnapshot(filesPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := runChat(ctx, a.orch, request, files, os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		a.Close()
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res.Files); err != nil {
		fmt.Fprintln(os.Stderr, err)
		a.Close()
		os.Exit(1)
	}
}

func runChat(ctx context.Context, runner interface {
	RunTurn(context.Context, agent.TurnInput, agent.EventSink) (agent.TurnResult, error)
}, request string, files vfs.Snapshot, events io.Writer) (agent.TurnResult, error) {
	enc := json.NewEncoder(events)
	in := agent.TurnInput{
		Messages: []agent.ConversationMessage{{Role: "user", Content: request}},
		Files:    files,
	}
	return runner.RunTurn(ctx, in, func(ev agent.Event) {
		_ = enc.Encode(ev)
	})
}

func readSnapshot(path string) (vfs.Snapshot, error) {
	if path == "" {
		return vfs.Snapshot{}, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s vfs.Snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return s, nil
}
