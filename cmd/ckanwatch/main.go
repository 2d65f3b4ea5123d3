// Command ckanwatch watches a CKAN catalog and notifies subscribers about new
// datasets, new distributions and distributions that grew.
//
// Usage:
//
//	ckanwatch -config ckanwatch.yaml             # scheduled runs + HTTP API
//	ckanwatch -config ckanwatch.yaml -once       # one cycle, then exit
//	ckanwatch -config ckanwatch.yaml -mcp        # MCP tools over stdio
//	ckanwatch -import-state last_ckan_state.json -import-missing missings.json
//	ckanwatch -hash-password 's3cret'            # bcrypt hash for http.admin_password_hash
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/ckanwatch/checker"
)

const version = "1.0.0"

type options struct {
	configPath    string
	once          bool
	mcpStdio      bool
	addr          string
	importState   string
	importMissing string
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "path to ckanwatch.yaml config file")
	flag.BoolVar(&opts.once, "once", false, "run a single cycle and exit")
	flag.BoolVar(&opts.mcpStdio, "mcp", false, "serve MCP tools over stdio")
	flag.StringVar(&opts.addr, "addr", "", "HTTP listen address (overrides http.addr)")
	flag.StringVar(&opts.importState, "import-state", "", "import a legacy JSON catalog state and exit")
	flag.StringVar(&opts.importMissing, "import-missing", "", "legacy JSON missing-dataset file, with -import-state")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error")
	hashPassword := flag.String("hash-password", "", "print the bcrypt hash of a password and exit")
	flag.Parse()

	if *hashPassword != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(*hashPassword), bcrypt.DefaultCost)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(string(hash))
		return
	}

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ckanwatch:", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if opts.addr != "" {
		cfg.HTTP.Addr = opts.addr
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, cfg, opts); err != nil {
		logger.Error("ckanwatch: fatal", "error", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*checker.Config, error) {
	if path == "" {
		cfg := checker.DefaultConfig()
		if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return checker.LoadConfigFile(path)
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg *checker.Config, opts options) error {
	svc, err := checker.Open(cfg, logger)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer svc.Close()

	switch {
	case opts.importState != "":
		return svc.ImportLegacy(ctx, opts.importState, opts.importMissing)
	case opts.once:
		_, err := svc.RunOnce(ctx)
		return err
	case opts.mcpStdio:
		srv := mcp.NewServer(&mcp.Implementation{Name: "ckanwatch", Version: version}, nil)
		svc.RegisterMCP(srv)
		return srv.Run(ctx, &mcp.StdioTransport{})
	}

	var httpSrv *http.Server
	if cfg.HTTP.Addr != "" {
		httpSrv = &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           svc.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		go func() {
			logger.Info("ckanwatch: http listening", "addr", cfg.HTTP.Addr)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("ckanwatch: http server", "error", err)
			}
		}()
	}

	logger.Info("ckanwatch: started", "interval", cfg.Schedule.Interval, "db", cfg.Store.Path)
	svc.Run(ctx)

	if httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("ckanwatch: http shutdown", "error", err)
		}
	}
	logger.Info("ckanwatch: stopped")
	return nil
}
