package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/velora-app/velora/internal/assignment"
	"github.com/velora-app/velora/internal/daemon"
	"github.com/velora-app/velora/internal/model"
	"github.com/velora-app/velora/internal/notify"
	"github.com/velora-app/velora/internal/setup"
	"github.com/velora-app/velora/internal/store"
	"github.com/velora-app/velora/internal/uds"
)

const version = "1.0.0"

const configFileName = "velora.yaml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "setup":
		runSetup(os.Args[2:])
	case "daemon":
		runDaemon(os.Args[2:])
	case "stats":
		runStats(os.Args[2:])
	case "escalations":
		runEscalations(os.Args[2:])
	case "resolve":
		runResolve(os.Args[2:])
	case "version":
		fmt.Printf("velora %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// dataDir resolves the data directory from the first positional
// argument, defaulting to the working directory.
func dataDir(args []string) string {
	if len(args) > 0 && args[0] != "" {
		return args[0]
	}
	return "."
}

func loadConfig(dir string) (string, model.Config, error) {
	path := filepath.Join(dir, configFileName)
	cfg, err := model.LoadConfig(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// No config file: run on defaults.
			cfg = model.Config{}
			cfg.ApplyDefaults()
			return "", cfg, nil
		}
		return "", model.Config{}, err
	}
	return path, cfg, nil
}

func runSetup(args []string) {
	dir := dataDir(args)
	name := ""
	if len(args) > 1 {
		name = args[1]
	}
	if err := setup.Run(dir, name); err != nil {
		fmt.Fprintf(os.Stderr, "setup: %v\n", err)
		os.Exit(1)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	fmt.Printf("initialized %s\n", abs)
	fmt.Printf("edit %s, then run: velora daemon %s\n", filepath.Join(abs, configFileName), dir)
}

func runDaemon(args []string) {
	dir := dataDir(args)
	configPath, cfg, err := loadConfig(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	d, err := daemon.New(dir, configPath, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create daemon: %v\n", err)
		os.Exit(1)
	}
	if err := d.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "daemon: %v\n", err)
		os.Exit(1)
	}
}

// openStore opens the persistent store read-side for CLI queries. The
// daemon may be running concurrently; WAL mode permits this.
func openStore(dir string) (*store.Store, model.Config) {
	_, cfg, err := loadConfig(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	storePath := cfg.Store.Path
	if !filepath.IsAbs(storePath) {
		storePath = filepath.Join(dir, storePath)
	}
	st, err := store.Open(model.StoreConfig{
		Path:     storePath,
		PoolSize: 2,
	}, log.New(io.Discard, "", 0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		os.Exit(1)
	}
	return st, cfg
}

// controlClient returns a client for the daemon's control socket if a
// daemon is listening in the data directory, else nil.
func controlClient(dir string) *uds.Client {
	socketPath := filepath.Join(dir, uds.DefaultSocketName)
	if _, err := os.Stat(socketPath); err != nil {
		return nil
	}
	client := uds.NewClient(socketPath)
	client.SetTimeout(5 * time.Second)
	if resp, err := client.SendCommand("ping", nil); err != nil || !resp.Success {
		return nil
	}
	return client
}

func runStats(args []string) {
	dir := dataDir(args)

	// A running daemon knows the live queue; fall back to the database
	// when it is down.
	if client := controlClient(dir); client != nil {
		resp, err := client.SendCommand("stats", nil)
		if err != nil || !resp.Success {
			fmt.Fprintf(os.Stderr, "stats via daemon failed: %v %+v\n", err, resp)
			os.Exit(1)
		}
		var stats assignment.Stats
		if err := json.Unmarshal(resp.Data, &stats); err != nil {
			fmt.Fprintf(os.Stderr, "decode stats: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("queued: %d (avg wait %.1f min, oldest %.1f min)\n",
			stats.Total, stats.AverageWaitMinutes, stats.OldestWaitMinutes)
		for band, count := range stats.ByPriorityBand {
			fmt.Printf("  %-8s %d\n", band, count)
		}
		return
	}

	st, _ := openStore(dir)
	defer st.Close()

	ctx := context.Background()
	statuses := []model.ChatStatus{
		model.StatusUnqueued, model.StatusQueued, model.StatusAssigning,
		model.StatusActive, model.StatusIdle, model.StatusEscalated,
		model.StatusClosed,
	}

	fmt.Println("chats by status:")
	for _, status := range statuses {
		chats, err := st.ListChatsByStatus(ctx, status)
		if err != nil {
			fmt.Fprintf(os.Stderr, "list chats: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("  %-10s %d\n", status, len(chats))
	}

	open, err := st.ListOpenEscalations(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list escalations: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("open escalations: %d\n", len(open))
}

func runEscalations(args []string) {
	st, _ := openStore(dataDir(args))
	defer st.Close()

	open, err := st.ListOpenEscalations(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "list escalations: %v\n", err)
		os.Exit(1)
	}
	if len(open) == 0 {
		fmt.Println("no open escalations")
		return
	}
	for _, esc := range open {
		fmt.Printf("%s  chat=%s operator=%s attempts=%d reason=%q created=%s\n",
			esc.ID, esc.ChatID, esc.OperatorID, esc.Attempts, esc.Reason,
			esc.CreatedAt.Format(time.RFC3339))
	}
}

// runResolve marks an escalation resolved and requeues its chat. This
// is an offline admin tool: run it against a stopped daemon, or let
// the running daemon pick the requeued chat up on its next recovery.
func runResolve(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: velora resolve <escalation-id> [dir]")
		os.Exit(1)
	}
	escalationID := args[0]
	dir := dataDir(args[1:])

	// Resolution must reach the live queue when a daemon is running.
	if client := controlClient(dir); client != nil {
		resp, err := client.SendCommand("resolve", map[string]string{"escalation_id": escalationID})
		if err != nil {
			fmt.Fprintf(os.Stderr, "resolve: %v\n", err)
			os.Exit(1)
		}
		if !resp.Success {
			fmt.Fprintf(os.Stderr, "resolve: %s\n", resp.Error.Message)
			os.Exit(1)
		}
		fmt.Printf("escalation %s resolved; chat requeued\n", escalationID)
		return
	}

	st, cfg := openStore(dir)
	defer st.Close()

	d := daemonlessEscalator(st, cfg)
	if err := d.ResolveEscalation(context.Background(), escalationID); err != nil {
		fmt.Fprintf(os.Stderr, "resolve: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("escalation %s resolved; chat requeued\n", escalationID)
}

// daemonlessEscalator builds a standalone escalator for offline admin
// operations. The in-memory queue it fills is discarded; the running
// daemon recovers the requeued chat from its persisted status.
func daemonlessEscalator(st *store.Store, cfg model.Config) *assignment.Escalator {
	logger := log.New(os.Stderr, "", 0)
	return assignment.NewEscalator(st, assignment.NewQueue(), notify.NewLogSink(logger),
		cfg.Queue, logger, assignment.LogLevelWarn)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `velora %s - operator chat platform daemon

Usage: velora <command> [dir]

Commands:
  setup [dir] [name]        Initialize a data directory with a default config
  daemon [dir]              Run the daemon process
  stats [dir]               Show chat and queue statistics
  escalations [dir]         List open escalations
  resolve <id> [dir]        Resolve an escalation and requeue its chat
  version                   Show version
  help                      Show this help

The data directory defaults to the working directory and is expected
to contain %s (defaults apply when absent).

`, version, configFileName)
}
