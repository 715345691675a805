package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/joho/godotenv"

	"feedbridge/internal/chat"
	"feedbridge/internal/chat/matrix"
	"feedbridge/internal/chat/telegram"
	"feedbridge/internal/config"
	"feedbridge/internal/fetcher"
	"feedbridge/internal/httpapi"
	"feedbridge/internal/render"
	"feedbridge/internal/resolver"
	"feedbridge/internal/scheduler"
	"feedbridge/internal/state"
)

type cli struct {
	Config   string `short:"c" default:"config.yaml" type:"path" help:"Configuration file (.yaml, .yml, .json or .hujson)."`
	EnvFile  string `name:"env-file" default:".env" type:"path" help:"Environment file loaded before the configuration, if present."`
	LogLevel string `name:"log-level" help:"Override the log level (debug, info, warn, error)."`
}

func main() {
	var args cli
	kong.Parse(&args,
		kong.Name("feedbridge"),
		kong.Description("Poll RSS and Atom feeds and post new entries to chat rooms."),
		kong.UsageOnError(),
	)

	if err := godotenv.Load(args.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("load env file", "path", args.EnvFile, "error", err)
		os.Exit(1)
	}
	if args.LogLevel != "" {
		if err := os.Setenv("LOG_LEVEL", args.LogLevel); err != nil {
			slog.Error("set log level", "error", err)
			os.Exit(1)
		}
	}

	cfg, err := config.Load(args.Config)
	if err != nil {
		slog.Error("load config", "path", args.Config, "error", err)
		os.Exit(1)
	}

	out := io.Writer(os.Stderr)
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			slog.Error("open log file", "path", cfg.LogFile, "error", err)
			os.Exit(1)
		}
		defer func() { _ = f.Close() }()
		out = io.MultiWriter(os.Stderr, f)
	}
	log := newLogger(out, cfg.SlogLevel())

	if err := run(cfg, out, log); err != nil {
		log.Error("bridge failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, out io.Writer, log *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := state.OpenStore(ctx, cfg.StateStore())
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer func() { _ = store.Close() }()

	ledger, err := state.OpenLedger(ctx, store, cfg.State.Strict, log.With("component", "state"))
	if err != nil {
		return err
	}

	transport, bot, err := newTransport(ctx, cfg, out, log)
	if err != nil {
		if errors.Is(err, chat.ErrAuth) {
			log.Error("chat login rejected, check credentials", "transport", cfg.Transport)
		}
		return err
	}

	fetch := fetcher.New(&http.Client{})
	fetch.SetTimeout(cfg.FetchTimeout())

	dispatch := scheduler.NewDispatcher(transport, render.New(cfg.Defaults.MaxSummary))
	dispatch.SetSendTimeout(cfg.SendTimeout())

	sched := scheduler.New(cfg.ModelFeeds(), resolver.New(transport, log.With("component", "resolver")), scheduler.LoopConfig{
		Fetcher:         fetch,
		Ledger:          ledger,
		Dispatcher:      dispatch,
		DefaultInterval: cfg.PollInterval(),
		SendPacing:      cfg.SendPacing(),
		MaxRejects:      cfg.Defaults.MaxRejects,
		Log:             log,
	})
	if bot != nil {
		bot.SetController(sched)
	}

	log.Info("starting bridge",
		"transport", cfg.Transport,
		"feeds", len(cfg.Feeds),
		"state", cfg.State.Driver,
	)

	var wg sync.WaitGroup
	wg.Go(func() {
		if err := transport.Run(ctx); err != nil {
			log.Error("chat event stream stopped", "error", err)
			cancel()
		}
	})
	if cfg.HTTP.Listen != "" {
		srv := httpapi.New(sched, log.With("component", "http"))
		wg.Go(func() {
			if err := srv.Serve(ctx, cfg.HTTP.Listen); err != nil {
				log.Error("status server stopped", "error", err)
				cancel()
			}
		})
	}
	wg.Go(func() {
		select {
		case <-sched.Ready():
			notify(log, daemon.SdNotifyReady)
		case <-ctx.Done():
		}
	})

	if err := sched.Run(ctx); err != nil {
		return err
	}
	// Every loop may have stopped early; keep commands and status up until shutdown.
	<-ctx.Done()

	notify(log, daemon.SdNotifyStopping)
	wg.Wait()
	log.Info("bridge stopped")
	return nil
}

func newTransport(ctx context.Context, cfg *config.Config, out io.Writer, log *slog.Logger) (chat.Transport, *telegram.Bot, error) {
	switch cfg.Transport {
	case config.TransportMatrix:
		client, err := matrix.New(ctx, matrix.Config{
			Homeserver:  cfg.Matrix.Server,
			UserID:      cfg.Matrix.Username,
			Password:    cfg.Matrix.Password,
			AccessToken: cfg.Matrix.AccessToken,
			DeviceName:  cfg.Matrix.DeviceName,
		}, out, cfg.SlogLevel(), log.With("component", "matrix"))
		if err != nil {
			return nil, nil, fmt.Errorf("connect to matrix: %w", err)
		}
		return client, nil, nil
	case config.TransportTelegram:
		bot, err := telegram.New(cfg.Telegram.Token, cfg.Telegram.AllowedUsers, log.With("component", "telegram"))
		if err != nil {
			return nil, nil, fmt.Errorf("connect to telegram: %w", err)
		}
		return bot, bot, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

func notify(log *slog.Logger, msg string) {
	sent, err := daemon.SdNotify(false, msg)
	if err != nil {
		log.Warn("notify systemd", "state", strings.TrimSuffix(msg, "=1"), "error", err)
		return
	}
	if sent {
		log.Debug("notified systemd", "state", msg)
	}
}

func newLogger(out io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
}
