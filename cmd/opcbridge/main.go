package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/btouchard/opcbridge/internal/config"
	"github.com/btouchard/opcbridge/internal/opc"
	"github.com/btouchard/opcbridge/internal/pubsub"
	"github.com/btouchard/opcbridge/internal/ws"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "version":
		fmt.Printf("opcbridge %s\n", version)
	case "check":
		cmdCheck(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: opcbridge <command> [flags]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  serve     Start the OPC UA to WebSocket bridge\n")
	fmt.Fprintf(os.Stderr, "  check     Validate configuration\n")
	fmt.Fprintf(os.Stderr, "  version   Print version\n")
}

// serveFlags declares the serve/check flag set. Flags override config file
// and environment values.
type serveFlags struct {
	fs          *flag.FlagSet
	configPath  *string
	serverURL   *string
	monitorNode *string
	retryDelay  *time.Duration
	wsHost      *string
	wsPort      *int
	verbose     *bool
}

func newServeFlags(name string) *serveFlags {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	f := &serveFlags{fs: fs}
	f.configPath = fs.String("config", "", "path to config file")
	f.serverURL = fs.String("opc-server-url", "", "URL of the OPC UA server to connect")
	f.monitorNode = fs.String("opc-monitor-node", "", "ID of the OPC UA node to monitor")
	f.retryDelay = fs.Duration("opc-retry-delay", 0, "delay before retrying the OPC UA connection (default 5s)")
	f.wsHost = fs.String("ws-host", "", "WebSocket server bind address (default 0.0.0.0)")
	f.wsPort = fs.Int("ws-port", 0, "WebSocket server port (default 3000)")
	f.verbose = fs.Bool("v", false, "be more verbose (debugging information)")
	return f
}

// apply overlays explicitly set flags onto cfg.
func (f *serveFlags) apply(cfg *config.Config) {
	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "opc-server-url":
			cfg.OPC.ServerURL = *f.serverURL
		case "opc-monitor-node":
			cfg.OPC.MonitorNode = *f.monitorNode
		case "opc-retry-delay":
			cfg.OPC.RetryDelay = *f.retryDelay
		case "ws-host":
			cfg.WebSocket.Host = *f.wsHost
		case "ws-port":
			cfg.WebSocket.Port = *f.wsPort
		case "v":
			cfg.Log.Verbose = *f.verbose
		}
	})
}

func cmdServe(args []string) {
	f := newServeFlags("serve")
	_ = f.fs.Parse(args) // ExitOnError handles errors

	cfg, err := loadConfig(*f.configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	f.apply(cfg)
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	setupLogging(cfg)

	slog.Info("starting opcbridge",
		"version", version,
		"opc_server_url", cfg.OPC.ServerURL,
		"monitor_node", cfg.OPC.MonitorNode,
		"host", cfg.WebSocket.Host,
		"port", cfg.WebSocket.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGHUP, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("bridge error", "error", err)
		os.Exit(1)
	}

	slog.Info("shutdown successful")
}

func cmdCheck(args []string) {
	f := newServeFlags("check")
	_ = f.fs.Parse(args) // ExitOnError handles errors

	cfg, err := loadConfig(*f.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	f.apply(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("configuration is valid")
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func setupLogging(cfg *config.Config) {
	level := slog.LevelInfo
	if cfg.Log.Verbose {
		level = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// run wires the hub, the upstream connector and the WebSocket server, then
// blocks until ctx is cancelled or one of them fails. The first failure
// cancels everything else, so an unrecovered error anywhere is fatal to the
// whole process.
func run(ctx context.Context, cfg *config.Config) error {
	hub := pubsub.NewHub()

	dial := func(ctx context.Context) (opc.Session, error) {
		return opc.Dial(ctx, cfg.OPC.ServerURL, cfg.OPC.MonitorNode)
	}
	connector := opc.NewConnector(hub, dial, cfg.OPC.RetryDelay)
	server := ws.NewServer(hub, cfg.WebSocket.Host, cfg.WebSocket.Port)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return connector.Run(ctx) })
	g.Go(func() error { return server.Run(ctx) })

	return g.Wait()
}
