package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/avalanche-app/rockclient/internal/api"
	"github.com/avalanche-app/rockclient/internal/jobs"
	"github.com/avalanche-app/rockclient/internal/resource"
	"github.com/avalanche-app/rockclient/pkg/config"
	"github.com/avalanche-app/rockclient/pkg/logger"
	"github.com/avalanche-app/rockclient/pkg/model"
	"github.com/avalanche-app/rockclient/pkg/observable"
)

const usage = `usage:
  rockclient serve
  rockclient get [-refresh] <path>
  rockclient login <username> <password>
  rockclient logout`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, args, ok := parseCommand(os.Args[1:])
	if !ok {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	// --- Load configuration ---
	cfg := config.Load()
	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	logg := logger.S()

	app, err := build(ctx, cfg, logg.Desugar())
	if err != nil {
		logg.Fatalw("failed to initialise", "error", err)
	}
	defer app.Close(logg.Desugar())

	code := 0
	switch cmd {
	case "serve":
		serve(ctx, cfg, app, logg.Desugar())
	case "get":
		code = get(ctx, app, args)
	case "login":
		code = login(ctx, app, args)
	case "logout":
		app.auth.Logout(ctx)
	}
	if code != 0 {
		app.Close(logg.Desugar())
		logger.Sync()
		os.Exit(code)
	}
}

// parseCommand picks the subcommand and checks its arguments before anything is
// opened or dialled. No arguments means serve.
func parseCommand(argv []string) (string, []string, bool) {
	if len(argv) == 0 {
		return "serve", nil, true
	}
	cmd, args := argv[0], argv[1:]
	switch cmd {
	case "serve", "logout":
		return cmd, args, len(args) == 0
	case "get":
		if len(args) > 0 && args[0] == "-refresh" {
			return cmd, args, len(args) == 2
		}
		return cmd, args, len(args) == 1
	case "login":
		return cmd, args, len(args) == 2
	default:
		return cmd, args, false
	}
}

func serve(ctx context.Context, cfg *config.Config, app *application, log *zap.Logger) {
	srv := fiber.New(fiber.Config{
		ReadTimeout:           cfg.HTTPReadTimeout,
		WriteTimeout:          cfg.HTTPWriteTimeout,
		IdleTimeout:           cfg.HTTPIdleTimeout,
		BodyLimit:             cfg.HTTPBodyLimit,
		DisableStartupMessage: true,
	})
	api.RegisterRoutes(srv, api.NewHandler(log, app.orch, app.auth), app.orch)

	go func() {
		log.Info("HTTP API listening", zap.Int("port", cfg.Port))
		if err := srv.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			log.Fatal("fiber.listen_failed", zap.Error(err))
		}
	}()

	// stops with ctx
	if cfg.PrefetchInterval > 0 && len(cfg.PrefetchPaths) > 0 {
		go jobs.NewPrewarmer(log, app.fetcher, cfg.PrefetchPaths, cfg.PrefetchInterval).Start(ctx)
	}

	<-ctx.Done()
	log.Info("shutting down [rockclient]...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.ShutdownWithContext(shutdownCtx); err != nil {
		log.Warn("fiber.shutdown_failed", zap.Error(err))
	}
}

// get prints every value the fetch publishes: the cached payload first and, when it was
// stale and the server has something newer, the correction after it.
func get(ctx context.Context, app *application, args []string) int {
	refresh := false
	if len(args) > 0 && args[0] == "-refresh" {
		refresh, args = true, args[1:]
	}
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, usage)
		return 2
	}

	holder := observable.New[string]()
	holder.Subscribe(func(payload string) { fmt.Println(payload) })
	resource.Fetch(ctx, app.orch, holder, args[0], refresh)
	app.orch.Wait()

	if _, ok := holder.Get(); !ok {
		fmt.Fprintln(os.Stderr, "no content available for", args[0])
		return 1
	}
	return 0
}

func login(ctx context.Context, app *application, args []string) int {
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, usage)
		return 2
	}
	result := app.auth.Login(ctx, args[0], args[1])
	fmt.Println(result)
	if result != model.LoginSuccess {
		return 1
	}
	return 0
}
