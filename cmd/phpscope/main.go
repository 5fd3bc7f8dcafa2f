// phpscope indexes a PHP workspace and answers navigation queries about it:
// definitions, members, signatures, hierarchy, reference counts and routes.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"phpscope/internal/config"
	"phpscope/internal/daemon"
	"phpscope/internal/export"
	"phpscope/internal/extract"
	"phpscope/internal/logging"
	"phpscope/internal/mcp"
	"phpscope/internal/search/symbols"
	"phpscope/internal/tools"
	"phpscope/internal/workspace"
)

var logger *slog.Logger

const version = "0.1.0"

func main() {
	logger = logging.Default("phpscope")

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	args := os.Args[2:]
	switch os.Args[1] {
	case "index":
		runIndex(args)
	case "define":
		runDefine(args)
	case "members":
		runMembers(args)
	case "signature":
		runSignature(args)
	case "refs":
		runRefs(args)
	case "hierarchy":
		runHierarchy(args)
	case "symbols":
		runSymbols(args)
	case "routes":
		runRoutes(args)
	case "export":
		runExport(args)
	case "watch":
		runWatch(args)
	case "status":
		runStatus(args)
	case "stop":
		runStop(args)
	case "serve":
		runServe(args)
	case "version":
		fmt.Printf("phpscope v%s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		logger.Error("unknown command", "command", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("phpscope - PHP workspace symbol index")
	fmt.Println()
	fmt.Println("Usage: phpscope <command> [-root dir] [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  index [-force]                 Build the index and print statistics")
	fmt.Println("  define <file> <line> <col>     Resolve the name at a position (1-based)")
	fmt.Println("  members [-inherited] <class>   List a class's members")
	fmt.Println("  signature <key>                Show a function or method signature")
	fmt.Println("  refs <key>                     Count the call sites of a function or method")
	fmt.Println("  hierarchy <class>              Show direct supertypes and subtypes")
	fmt.Println("  symbols [-limit n] <query>     Fuzzy-search symbol keys")
	fmt.Println("  routes [name]                  List route names or locate one")
	fmt.Println("  export [-out path]             Write a sqlite snapshot of the index")
	fmt.Println("  watch [-socket path]           Keep the index current and serve queries")
	fmt.Println("  status, stop                   Query or stop a running watch")
	fmt.Println("  serve                          Run the MCP tool server on stdin/stdout")
	fmt.Println("  version                        Print the version")
	fmt.Println()
	fmt.Println("Settings are read from .phpscope.toml in the workspace root.")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  PHPSCOPE_LOG_LEVEL   Log level (debug, info, warn, error) [default: info]")
	fmt.Println("  PHPSCOPE_LOG_FORMAT  Output format (text, json) [default: text]")
	fmt.Println("  PHPSCOPE_LOG_FILE    Append logs to this file instead of stderr")
}

// command parses the common flags of a subcommand.
type command struct {
	*flag.FlagSet
	root *string
}

func newCommand(name string) command {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	return command{FlagSet: fs, root: fs.String("root", ".", "Workspace root")}
}

func (c command) config() config.Config {
	abs, err := filepath.Abs(*c.root)
	if err != nil {
		logger.Error("invalid root", "error", err)
		os.Exit(1)
	}
	cfg, err := config.Load(abs)
	if err != nil {
		logger.Error("loading settings failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

// open loads the settings and builds the index.
func (c command) open(ctx context.Context) *workspace.Engine {
	cfg := c.config()
	engine, err := workspace.Open(cfg, logger)
	if err != nil {
		logger.Error("opening workspace failed", "error", err)
		os.Exit(1)
	}
	if err := engine.EnsureBuilt(ctx); err != nil {
		logger.Error("indexing failed", "error", err)
		os.Exit(1)
	}
	return engine
}

// arg returns positional argument i or exits with usage.
func (c command) arg(i int, name string) string {
	if c.NArg() <= i {
		logger.Error("missing argument", "argument", name)
		c.Usage()
		os.Exit(1)
	}
	return c.Arg(i)
}

// printJSON writes data output to stdout.
func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		logger.Error("encoding output failed", "error", err)
		os.Exit(1)
	}
	fmt.Println(string(data))
}

func runIndex(args []string) {
	cmd := newCommand("index")
	force := cmd.Bool("force", false, "Rebuild every index, including references")
	cmd.Parse(args)

	ctx := context.Background()
	start := time.Now()
	engine := cmd.open(ctx)
	defer engine.Close()

	if *force {
		logger.Info("running full rebuild")
		if err := engine.Rebuild(ctx); err != nil {
			logger.Error("rebuild failed", "error", err)
			os.Exit(1)
		}
	}

	stats := engine.Stats()
	logger.Info("indexing complete",
		"files", stats.Symbols.Files,
		"keys", stats.Symbols.Keys,
		"classes", stats.Symbols.Classes,
		"routes", stats.Routes,
		"duration", time.Since(start).Round(time.Millisecond))
	printJSON(stats)
}

func runDefine(args []string) {
	cmd := newCommand("define")
	cmd.Parse(args)

	file := cmd.arg(0, "file")
	line, err1 := strconv.Atoi(cmd.arg(1, "line"))
	col, err2 := strconv.Atoi(cmd.arg(2, "col"))
	if err1 != nil || err2 != nil || line < 1 || col < 1 {
		logger.Error("line and column must be positive integers")
		os.Exit(1)
	}

	ctx := context.Background()
	engine := cmd.open(ctx)
	defer engine.Close()

	id := filepath.ToSlash(file)
	if filepath.IsAbs(file) {
		if rel, err := filepath.Rel(cmd.config().Root, file); err == nil {
			id = filepath.ToSlash(rel)
		}
	}
	printJSON(engine.ResolveDefinition(ctx, id, extract.Position{Line: line - 1, Column: col - 1}))
}

func runMembers(args []string) {
	cmd := newCommand("members")
	inherited := cmd.Bool("inherited", false, "Include inherited members")
	cmd.Parse(args)
	class := cmd.arg(0, "class")

	ctx := context.Background()
	engine := cmd.open(ctx)
	defer engine.Close()

	if *inherited {
		printJSON(engine.InheritedMembers(ctx, class))
		return
	}
	printJSON(engine.MembersOf(ctx, class))
}

func runSignature(args []string) {
	cmd := newCommand("signature")
	cmd.Parse(args)
	key := cmd.arg(0, "key")

	ctx := context.Background()
	engine := cmd.open(ctx)
	defer engine.Close()

	sigs := engine.SignatureFor(ctx, key)
	if len(sigs) == 0 {
		logger.Info("no signature found", "key", key)
		os.Exit(1)
	}
	printJSON(sigs)
}

func runRefs(args []string) {
	cmd := newCommand("refs")
	cmd.Parse(args)
	key := cmd.arg(0, "key")

	ctx := context.Background()
	engine := cmd.open(ctx)
	defer engine.Close()

	locs := engine.ReferenceCount(ctx, key)
	printJSON(map[string]any{"key": key, "count": len(locs), "locations": locs})
}

func runHierarchy(args []string) {
	cmd := newCommand("hierarchy")
	cmd.Parse(args)
	class := cmd.arg(0, "class")

	ctx := context.Background()
	engine := cmd.open(ctx)
	defer engine.Close()

	printJSON(map[string][]symbols.ClassInfo{
		"supertypes": engine.Supertypes(ctx, class),
		"subtypes":   engine.Subtypes(ctx, class),
	})
}

func runSymbols(args []string) {
	cmd := newCommand("symbols")
	limit := cmd.Int("limit", symbols.DefaultSearchLimit, "Maximum number of results")
	cmd.Parse(args)
	query := cmd.arg(0, "query")

	ctx := context.Background()
	engine := cmd.open(ctx)
	defer engine.Close()

	printJSON(engine.Search(ctx, query, *limit))
}

func runRoutes(args []string) {
	cmd := newCommand("routes")
	cmd.Parse(args)

	ctx := context.Background()
	engine := cmd.open(ctx)
	defer engine.Close()

	if cmd.NArg() == 0 {
		printJSON(engine.RouteNames(ctx))
		return
	}
	printJSON(engine.Routes(ctx, cmd.Arg(0)))
}

func runExport(args []string) {
	cmd := newCommand("export")
	out := cmd.String("out", "", "Snapshot path (default from settings)")
	cmd.Parse(args)

	ctx := context.Background()
	cfg := cmd.config()
	path := cfg.ExportPath()
	if *out != "" {
		path = *out
	}

	engine := cmd.open(ctx)
	defer engine.Close()

	db, err := export.OpenDB(path)
	if err != nil {
		logger.Error("opening snapshot failed", "path", path, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	sum, err := export.Write(ctx, db, engine.Snapshot(ctx), cfg.Root)
	if err != nil {
		logger.Error("export failed", "error", err)
		os.Exit(1)
	}
	logger.Info("export complete", "path", path, "symbols", sum.Symbols, "files", sum.Files)
	printJSON(sum)
}

func runWatch(args []string) {
	cmd := newCommand("watch")
	socket := cmd.String("socket", "", "IPC socket path (default per workspace)")
	cmd.Parse(args)

	cfg := cmd.config()
	if *socket == "" {
		*socket = daemon.DefaultSocketPath(cfg.Root)
	}
	if daemon.NewIPCClient(*socket).IsRunning() {
		logger.Error("already watching this workspace", "socket", *socket)
		os.Exit(1)
	}

	log, closeLog, err := logging.Open(logging.LoadConfigFromEnv("phpscope-watch"))
	if err != nil {
		logger.Error("opening log failed", "error", err)
		os.Exit(1)
	}
	defer closeLog()

	ctx := context.Background()
	engine, d := startDaemon(ctx, cfg, log)
	defer engine.Close()

	log.Info("watching", "root", cfg.Root, "socket", *socket, "pid", os.Getpid())
	if err := d.Run(ctx, *socket); err != nil {
		log.Error("watch failed", "error", err)
		os.Exit(1)
	}
}

// startDaemon opens the workspace, builds the index and creates a watcher
// over the same files.
func startDaemon(ctx context.Context, cfg config.Config, log *slog.Logger) (*workspace.Engine, *daemon.Daemon) {
	fsys, err := workspace.FS(cfg)
	if err != nil {
		log.Error("opening workspace failed", "error", err)
		os.Exit(1)
	}
	engine := workspace.OpenFS(cfg, fsys, log)
	if err := engine.EnsureBuilt(ctx); err != nil {
		log.Error("indexing failed", "error", err)
		os.Exit(1)
	}
	d, err := daemon.New(engine, fsys, log)
	if err != nil {
		log.Error("failed to create watcher", "error", err)
		os.Exit(1)
	}
	return engine, d
}

func runStatus(args []string) {
	cmd := newCommand("status")
	socket := cmd.String("socket", "", "IPC socket path (default per workspace)")
	cmd.Parse(args)
	if *socket == "" {
		*socket = daemon.DefaultSocketPath(cmd.config().Root)
	}

	status, err := daemon.NewIPCClient(*socket).Status()
	if err != nil {
		logger.Info("not watching", "socket", *socket)
		os.Exit(1)
	}
	printJSON(status)
}

func runStop(args []string) {
	cmd := newCommand("stop")
	socket := cmd.String("socket", "", "IPC socket path (default per workspace)")
	cmd.Parse(args)
	if *socket == "" {
		*socket = daemon.DefaultSocketPath(cmd.config().Root)
	}

	client := daemon.NewIPCClient(*socket)
	if !client.IsRunning() {
		logger.Error("not watching", "socket", *socket)
		os.Exit(1)
	}
	if err := client.Stop(); err != nil {
		logger.Error("failed to stop", "error", err)
		os.Exit(1)
	}
	logger.Info("stopped")
}

func runServe(args []string) {
	cmd := newCommand("serve")
	watch := cmd.Bool("watch", true, "Re-index files that change on disk")
	cmd.Parse(args)

	cfg := cmd.config()
	log, closeLog, err := logging.Open(logging.LoadConfigFromEnv("phpscope-mcp"))
	if err != nil {
		logger.Error("opening log failed", "error", err)
		os.Exit(1)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, d := startDaemon(ctx, cfg, log)
	defer engine.Close()
	if *watch {
		if err := d.Start(); err != nil {
			log.Warn("file watching unavailable", "error", err)
		}
	}
	defer d.Close()

	server := mcp.NewServer("phpscope", version, log)
	tools.RegisterAll(server, engine)

	log.Info("starting MCP server", "root", cfg.Root, "version", version)
	if err := server.Serve(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
