package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/yenjordan/terminus/internal/auth"
	"github.com/yenjordan/terminus/internal/broker"
	"github.com/yenjordan/terminus/internal/config"
	"github.com/yenjordan/terminus/internal/execution"
	"github.com/yenjordan/terminus/internal/handlers"
	"github.com/yenjordan/terminus/internal/logger"
	"github.com/yenjordan/terminus/internal/middleware"
	"github.com/yenjordan/terminus/internal/registry"
	"github.com/yenjordan/terminus/internal/repository"
	"github.com/yenjordan/terminus/internal/workspace"
)

func main() {
	cfg := config.LoadOrDefault()

	isDev := cfg.Logging.Development
	logger.Configure(cfg.Logging.Level, isDev)

	if err := os.MkdirAll(cfg.Workspace.Root, os.FileMode(cfg.Workspace.Mode)); err != nil {
		logger.Errorf("failed to create workspace root: %v", err)
		os.Exit(1)
	}

	store := repository.NewInMemory()
	verifier := auth.NewJWTVerifier(cfg.Auth.JWTSecret)
	wsMgr := workspace.NewManager(cfg.Workspace.Root, os.FileMode(cfg.Workspace.Mode), store)
	reg := registry.New(store, wsMgr, "bash", nil, cfg.Timeouts.IdleSessionTTL)
	reg.StartReaper(cfg.Timeouts.ReaperInterval, cfg.Timeouts.PTYKillGrace)
	defer reg.StopReaper()

	engine := execution.NewEngine(cfg.Timeouts.StdoutCapBytes, cfg.Timeouts.StderrCapBytes, cfg.Timeouts.ExecutionKillGrace)
	b := broker.New(verifier, reg, wsMgr, store, engine, &cfg.Timeouts)

	app := fiber.New(fiber.Config{
		DisableStartupMessage: !isDev,
	})

	api := app.Group("/api")
	handlers.NewTerminalHandler(b).RegisterRoutes(api)
	handlers.NewExecuteHandler(engine, wsMgr, store).RegisterRoutes(api, middleware.RequireAuth(verifier))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	go func() {
		addr := cfg.Server.Host + ":" + cfg.Server.Port
		logger.Infof("terminus listening on %s", addr)
		if err := app.Listen(addr); err != nil {
			logger.Errorf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Infof("shutting down")
	forceExit := time.AfterFunc(10*time.Second, func() {
		logger.Errorf("shutdown timed out, forcing exit")
		os.Exit(1)
	})
	_ = app.Shutdown()
	forceExit.Stop()
}
