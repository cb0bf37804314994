package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		serve(os.Args[2:])
	case "chat":
		chat(os.Args[2:])
	case "validate-config":
		validateConfig(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  uigen serve [--config <uigen.yaml>] [--addr <host:port>]")
	fmt.Fprintln(os.Stderr, "  uigen chat [--config <uigen.yaml>] [--files <snapshot.json>] <request>")
	fmt.Fprintln(os.Stderr, "  uigen validate-config --config <uigen.yaml>")
}

// stringFlag reads the value following args[*i] or exits.
func stringFlag(args []string, i *int) string {
	name := args[*i]
	*i++
	if *i >= len(args) {
		fmt.Fprintf(os.Stderr, "%s requires a value\n", name)
		os.Exit(1)
	}
	return args[*i]
}

func validateConfig(args []string) {
	var configPath string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			configPath = stringFlag(args, &i)
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(1)
		}
	}
	if configPath == "" {
		usage()
		os.Exit(1)
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("ok: model=%s/%s critic=%s/%s store=%s\n",
		cfg.Model.Provider, cfg.Model.Model, cfg.Critic.Provider, cfg.Critic.Model, cfg.Store.Path)
}
