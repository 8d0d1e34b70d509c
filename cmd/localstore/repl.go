package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"github.com/syncdoc/localstore/localstore"
)

// repl is the interactive command loop, structured the way the corpus's
// other liner-based shell paces prompt/read/dispatch, generalized from a
// single-file cache to a full LocalStore.
type repl struct {
	store       *localstore.LocalStore
	persistence localstore.Persistence
	cfg         localstore.Config
	liner       *liner.State

	targets map[string]int32
}

func newREPL(store *localstore.LocalStore, persistence localstore.Persistence, cfg localstore.Config) *repl {
	return &repl{store: store, persistence: persistence, cfg: cfg, targets: make(map[string]int32)}
}

func historyFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".localstore_history")
}

func (r *repl) Run(ctx context.Context) error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)

	if f, err := os.Open(historyFilePath()); err == nil {
		_, _ = r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Printf("localstore shell (engine_path=%s)\n", r.cfg.EnginePath)
	fmt.Println("Type 'help' for available commands.")

	for {
		line, err := r.liner.Prompt("localstore> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println("\nbye")

				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.liner.AppendHistory(line)

		if err := r.dispatch(ctx, line); err != nil {
			if err == errExit {
				break
			}

			fmt.Fprintln(os.Stderr, "error:", err)
		}
	}

	r.saveHistory()

	return nil
}

func (r *repl) saveHistory() {
	path := historyFilePath()
	if path == "" {
		return
	}

	if f, err := os.Create(path); err == nil {
		_, _ = r.liner.WriteHistory(f)
		f.Close()
	}
}

var errExit = fmt.Errorf("exit")

func (r *repl) dispatch(ctx context.Context, line string) error {
	parts := strings.Fields(line)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "exit", "quit", "q":
		return errExit
	case "help", "?":
		r.printHelp()
	case "set":
		return r.cmdSet(ctx, args)
	case "delete":
		return r.cmdDelete(ctx, args)
	case "get":
		return r.cmdGet(ctx, args)
	case "query":
		return r.cmdQuery(ctx, args)
	case "listen":
		return r.cmdListen(ctx, args)
	case "unlisten":
		return r.cmdUnlisten(ctx, args)
	case "targets":
		return r.cmdTargets(ctx)
	case "bundle":
		return r.cmdBundle(ctx, args)
	case "gc":
		return r.cmdGC(ctx, args)
	case "config":
		return r.cmdConfig(args)
	default:
		fmt.Printf("unknown command: %s (type 'help')\n", cmd)
	}

	return nil
}

func (r *repl) printHelp() {
	fmt.Println(`Commands:
  set <key> <json-fields>       Write a Set mutation for key
  delete <key>                  Write a Delete mutation for key
  get <key>                     Read key through the local view
  query <collection> [field op value]   Run a query against the local view
  listen <collection>            Allocate a listen target for a collection
  unlisten <collection>           Release a previously allocated target
  targets                         List active targets and their id/query
  bundle <path>                   Load a bundle file (JSON element stream)
  gc                              Run garbage collection
  config show                    Print the resolved config as JSON
  config init                    Write the resolved config to the project file
  help                            Show this help
  exit / quit / q                 Exit`)
}

func (r *repl) cmdConfig(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: config <show|init>")
	}

	switch args[0] {
	case "show":
		out, err := localstore.FormatConfig(r.cfg)
		if err != nil {
			return err
		}

		fmt.Println(out)

		return nil
	case "init":
		workDir, err := os.Getwd()
		if err != nil {
			return err
		}

		if err := localstore.WriteProjectConfig(workDir, r.cfg); err != nil {
			return err
		}

		fmt.Printf("wrote %s\n", filepath.Join(workDir, localstore.ConfigFileName))

		return nil
	default:
		return fmt.Errorf("usage: config <show|init>")
	}
}

func (r *repl) cmdSet(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: set <key> <json-fields>")
	}

	key, err := localstore.NewDocumentKey(args[0])
	if err != nil {
		return err
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(strings.Join(args[1:], " ")), &fields); err != nil {
		return fmt.Errorf("parse fields: %w", err)
	}

	mutation := localstore.NewSetMutation(key, fields, localstore.Precondition{})

	result, err := r.store.LocalWrite(ctx, []localstore.Mutation{mutation})
	if err != nil {
		return err
	}

	fmt.Printf("batch_id=%d\n", result.BatchID)

	return nil
}

func (r *repl) cmdDelete(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: delete <key>")
	}

	key, err := localstore.NewDocumentKey(args[0])
	if err != nil {
		return err
	}

	mutation := localstore.NewDeleteMutation(key, localstore.Precondition{})

	result, err := r.store.LocalWrite(ctx, []localstore.Mutation{mutation})
	if err != nil {
		return err
	}

	fmt.Printf("batch_id=%d\n", result.BatchID)

	return nil
}

func (r *repl) cmdGet(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: get <key>")
	}

	key, err := localstore.NewDocumentKey(args[0])
	if err != nil {
		return err
	}

	doc, err := r.store.ReadLocalDocument(ctx, key)
	if err != nil {
		return err
	}

	printDoc(doc)

	return nil
}

func printDoc(doc localstore.MaybeDocument) {
	if !doc.IsDocument() {
		fmt.Printf("%s: <no-document> version=%s\n", doc.Key, doc.Version)

		return
	}

	data, _ := json.Marshal(doc.Fields)
	fmt.Printf("%s: %s version=%s pending=%v\n", doc.Key, data, doc.Version, doc.HasPendingWrites)
}

func (r *repl) cmdQuery(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: query <collection> [field op value]")
	}

	query := localstore.Query{Path: args[0]}

	if len(args) == 4 {
		filter, err := parseFilter(args[1], args[2], args[3])
		if err != nil {
			return err
		}

		query.Filters = append(query.Filters, filter)
	}

	result, err := r.store.ExecuteQuery(ctx, query, false)
	if err != nil {
		return err
	}

	for _, doc := range result.Documents {
		printDoc(doc)
	}

	fmt.Printf("%d document(s)\n", len(result.Documents))

	return nil
}

func parseFilter(field, op, value string) (localstore.Filter, error) {
	var filterOp localstore.FilterOp

	switch op {
	case "==":
		filterOp = localstore.FilterEqual
	case "!=":
		filterOp = localstore.FilterNotEqual
	case "<":
		filterOp = localstore.FilterLessThan
	case "<=":
		filterOp = localstore.FilterLessThanOrEqual
	case ">":
		filterOp = localstore.FilterGreaterThan
	case ">=":
		filterOp = localstore.FilterGreaterThanOrEqual
	default:
		return localstore.Filter{}, fmt.Errorf("unknown operator: %s", op)
	}

	var parsed any = value
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		parsed = f
	}

	return localstore.Filter{Field: field, Op: filterOp, Value: parsed}, nil
}

func (r *repl) cmdListen(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: listen <collection>")
	}

	query := localstore.Query{Path: args[0]}

	data, err := r.store.AllocateTarget(ctx, query)
	if err != nil {
		return err
	}

	r.targets[args[0]] = data.TargetID
	fmt.Printf("target_id=%d\n", data.TargetID)

	return nil
}

func (r *repl) cmdUnlisten(_ context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: unlisten <collection>")
	}

	targetID, ok := r.targets[args[0]]
	if !ok {
		return fmt.Errorf("no active target for %s", args[0])
	}

	r.store.ReleaseTarget(context.Background(), targetID, false)
	delete(r.targets, args[0])

	return nil
}

func (r *repl) cmdTargets(_ context.Context) error {
	if len(r.targets) == 0 {
		fmt.Println("(no active targets)")

		return nil
	}

	for collection, id := range r.targets {
		fmt.Printf("%d: %s\n", id, collection)
	}

	return nil
}

func (r *repl) cmdGC(ctx context.Context, _ []string) error {
	var allKeys []localstore.DocumentKey

	err := r.persistence.RunTransaction(ctx, "gc_list_keys", localstore.TransactionReadOnly, func(_ context.Context, tx localstore.Transaction) error {
		docs, err := r.persistence.RemoteDocumentCache(tx).GetAllByCollection(tx, "", localstore.SnapshotVersionMin)
		if err != nil {
			return err
		}

		for key := range docs {
			allKeys = append(allKeys, key)
		}

		return nil
	})
	if err != nil {
		return err
	}

	evicted, err := r.store.CollectGarbage(ctx, defaultGarbageCollector{}, allKeys)
	if err != nil {
		return err
	}

	fmt.Printf("evicted %d document(s)\n", evicted)

	return nil
}

// defaultGarbageCollector evicts every unreferenced candidate immediately;
// a size- or count-bounded policy is future work once the shell tracks
// actual on-disk usage.
type defaultGarbageCollector struct{}

func (defaultGarbageCollector) SelectDocumentsToEvict(_ context.Context, candidates []localstore.DocumentKey, _ int64) []localstore.DocumentKey {
	return candidates
}
