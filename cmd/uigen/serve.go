package main

import (
	"fmt"
	"os"
	"time"

	"github.com/danshapiro/uigen/internal/config"
	"github.com/danshapiro/uigen/internal/server"
)

func serve(args []string) {
	var configPath, addr string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			configPath = stringFlag(args, &i)
		case "--addr":
			addr = stringFlag(args, &i)
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(1)
		}
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
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

	deps := server.Deps{
		Runner:   a.orch,
		Projects: a.projects,
		Auth:     a.auth,
		Logger:   logger,
	}
	// A nil *Limiter must not become a non-nil interface.
	if a.limiter != nil {
		deps.Limiter = a.limiter
	}
	srv, err := server.New(serverConfig(cfg), deps)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := srv.ListenAndServe(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		a.Close()
		os.Exit(1)
	}
}

func serverConfig(cfg *config.File) server.Config {
	return server.Config{
		Addr:            cfg.Server.Addr,
		ShutdownTimeout: time.Duration(cfg.Server.ShutdownTimeout) * time.Millisecond,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
	}
}
