package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odvcencio/taskchat/pkg/backend"
	"github.com/odvcencio/taskchat/pkg/config"
	taskerrors "github.com/odvcencio/taskchat/pkg/errors"
	"github.com/odvcencio/taskchat/pkg/logging"
	"github.com/odvcencio/taskchat/pkg/observability"
	"github.com/odvcencio/taskchat/pkg/scheduler"
	"github.com/odvcencio/taskchat/pkg/session"
	"github.com/odvcencio/taskchat/pkg/telemetry"
)

type chatFlags struct {
	configPath string
	threadID   string
	baseURL    string
	managed    bool
	managedSet bool
	logLevel   string
	verbose    bool
}

func parseChatFlags(args []string) (chatFlags, error) {
	var f chatFlags
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", "", "path to a config file (default: ~/.taskchat/config.yaml)")
	fs.StringVar(&f.threadID, "thread", "", "thread id to resume")
	fs.StringVar(&f.baseURL, "base-url", "", "backend base URL")
	fs.BoolVar(&f.managed, "managed", false, "the host owns the thread; never recreate it")
	fs.StringVar(&f.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.BoolVar(&f.verbose, "verbose", false, "also write log events to stderr")
	if err := fs.Parse(args); err != nil {
		return f, err
	}
	fs.Visit(func(fl *flag.Flag) {
		if fl.Name == "managed" {
			f.managedSet = true
		}
	})
	return f, nil
}

func loadChatConfig(f chatFlags) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if f.configPath != "" {
		cfg, err = config.LoadFromPath(f.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if f.threadID != "" {
		cfg.Thread.ID = f.threadID
	}
	if f.baseURL != "" {
		cfg.Backend.BaseURL = f.baseURL
	}
	if f.managedSet {
		cfg.Thread.Managed = f.managed
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runChatCommand(args []string) error {
	f, err := parseChatFlags(args)
	if err != nil {
		return withUsage(err)
	}
	cfg, err := loadChatConfig(f)
	if err != nil {
		return withUsage(err)
	}

	sessionID := session.GenerateSessionID(session.LogName(cfg.Thread.ID))
	logger, err := logging.NewLogger(cfg.LogDir(), sessionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: file logging disabled: %v\n", err)
		logger = logging.NewWriterLogger(io.Discard, sessionID)
	}
	defer logger.Close()
	if f.verbose {
		logger.AddWriter(os.Stderr)
	}
	if level, err := logging.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetMinLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Observability.Tracing {
		tp, err := observability.NewTracerProvider("taskchat", version, os.Stderr)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(shutdownCtx)
		}()
	}

	if addr := cfg.Observability.MetricsAddr; addr != "" {
		metricsServer := startMetricsServer(addr, logger)
		defer metricsServer.Close()
	}

	hub := telemetry.NewHub()
	defer hub.Close()

	client := backend.NewHTTPClient(cfg.Backend.BaseURL, backend.Options{
		APIKey:    cfg.Backend.APIKey,
		Timeout:   cfg.Backend.Timeout,
		RateLimit: cfg.Backend.RateLimit,
		Burst:     cfg.Backend.Burst,
	})
	sess := session.New(client, scheduler.Real{}, session.FromConfig(cfg),
		session.WithLogger(logger),
		session.WithHub(hub),
		session.WithSessionID(sessionID),
	)
	defer sess.Close()

	r := newRenderer(os.Stdout, sessionView{sess})
	events, unsubscribe := hub.Subscribe()
	defer unsubscribe()
	go r.run(ctx, events)

	_ = logger.Info(logging.CategorySession, "started", "chat session started", map[string]any{
		"base_url": cfg.Backend.BaseURL,
		"managed":  cfg.Thread.Managed,
	})
	sess.Start()
	if cfg.Thread.ID == "" {
		fmt.Println("new conversation. Type a message, or /help.")
	}

	return runREPL(ctx, os.Stdin, os.Stdout, sess)
}

// sessionView adapts a session to the renderer.
type sessionView struct {
	*session.Session
}

func (v sessionView) IsRevealing(id string) bool {
	current, ok := v.Animator().Animating()
	return ok && current == id
}

func runREPL(ctx context.Context, in io.Reader, out io.Writer, sess chatSession) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			cmd, err := parseCommand(line)
			if err != nil {
				fmt.Fprintf(out, "! %v\n", err)
				continue
			}
			err = execute(ctx, sess, cmd, out)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				fmt.Fprintf(out, "! %s\n", taskerrors.UserMessage(err))
			}
		}
	}
}

func startMetricsServer(addr string, logger *logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = logger.Warn(logging.CategoryNetwork, "metrics_failed", err.Error(), map[string]any{"addr": addr})
		}
	}()
	return srv
}
