// Command localstore is an interactive shell over a local document store:
// write mutations, run queries against the local view, allocate listen
// targets, load bundles, and trigger garbage collection, all against either
// a durable SQLite-backed store or a throwaway in-memory one.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/syncdoc/localstore/internal/engine/enginemem"
	"github.com/syncdoc/localstore/internal/engine/enginesql"
	"github.com/syncdoc/localstore/localstore"
)

func main() {
	os.Exit(run(os.Args, os.Environ()))
}

func run(args []string, env []string) int {
	fs := flag.NewFlagSet("localstore", flag.ContinueOnError)

	workDir := fs.StringP("cwd", "C", "", "run as if started in this directory")
	configPath := fs.StringP("config", "c", "", "explicit config file path")
	enginePath := fs.String("db", "", "override the SQLite database path")
	memEngine := fs.Bool("mem", false, "use a throwaway in-memory engine instead of SQLite")
	clientID := fs.String("client-id", "cli", "client id this shell identifies itself as")

	if err := fs.Parse(args[1:]); err != nil {
		if err == flag.ErrHelp {
			return 0
		}

		fmt.Fprintln(os.Stderr, "error:", err)

		return 1
	}

	dir := *workDir
	if dir == "" {
		var err error

		dir, err = os.Getwd()
		if err != nil {
			fmt.Fprintln(os.Stderr, "error: cannot get working directory:", err)

			return 1
		}
	}

	cliOverrides := localstore.Config{EnginePath: *enginePath}

	cfg, sources, err := localstore.LoadConfig(dir, *configPath, cliOverrides, *enginePath != "", env)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)

		return 1
	}

	_ = sources

	persistence, cleanup, err := openPersistence(cfg, *memEngine)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)

		return 1
	}
	defer cleanup()

	store := localstore.NewLocalStore(persistence, localstore.SimpleQueryEngine{}, *clientID)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		<-sigCh
		cancel()
	}()

	repl := newREPL(store, persistence, cfg)
	if err := repl.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)

		return 1
	}

	return 0
}

func openPersistence(cfg localstore.Config, useMem bool) (localstore.Persistence, func(), error) {
	if useMem {
		engine := enginemem.New()

		return engine, func() { _ = engine.Shutdown(context.Background()) }, nil
	}

	if dir := parentDir(cfg.EnginePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create engine directory: %w", err)
		}
	}

	engine, err := enginesql.Open(cfg.EnginePath, enginesql.DefaultEngineOptions())
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite engine: %w", err)
	}

	return engine, func() { _ = engine.Shutdown(context.Background()) }, nil
}

func parentDir(path string) string {
	idx := lastSlash(path)
	if idx < 0 {
		return ""
	}

	return path[:idx]
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}

	return -1
}
