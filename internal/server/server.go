package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/converse/config"
	core "github.com/mohammad-safakhou/converse/internal/agent/core"
	"github.com/mohammad-safakhou/converse/internal/agent/telemetry"
	"github.com/mohammad-safakhou/converse/internal/compactor"
	"github.com/mohammad-safakhou/converse/internal/memindex"
	"github.com/mohammad-safakhou/converse/internal/store"
)

// Run wires the whole service and blocks serving HTTP.
func Run(cfgPath string) error {
	cfg := config.LoadConfig(cfgPath)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	if err := Migrate("file://migrations", cfg.Storage.Postgres.DSN(), "up", 0); err != nil {
		baseLogger.Printf("migrate: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
	if err != nil {
		return err
	}

	tele := telemetry.NewTelemetry(cfg.Telemetry)
	provider, err := core.NewLLMProvider(cfg.LLM)
	if err != nil {
		return err
	}

	indexLogger := log.New(log.Writer(), "[MEMIDX] ", log.LstdFlags)
	var index *memindex.Index
	if cfg.Tools.MemorySearch.Enabled {
		index, err = memindex.New(cfg.Tools.MemorySearch.IndexDir, indexLogger)
		if err != nil {
			return fmt.Errorf("memory index: %w", err)
		}
		defer index.Close()
	}

	toolLogger := log.New(log.Writer(), "[TOOLS] ", log.LstdFlags)
	registry, err := buildRegistry(cfg, index, toolLogger)
	if err != nil {
		return err
	}

	// cross-instance compaction lock only when redis is configured
	var outerLock compactor.Locker
	if cfg.Storage.Redis.Enabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Host + ":" + cfg.Storage.Redis.Port,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		outerLock = compactor.NewRedisLocker(rdb)
	}

	compLogger := log.New(log.Writer(), "[COMPACT] ", log.LstdFlags)
	comp := compactor.New(cfg.Compaction, st, provider, outerLock, tele, compLogger)
	if cfg.Compaction.Enabled {
		comp.Start(ctx)
		defer comp.Close()
		if cfg.Compaction.SweepCron != "" {
			sweeper, err := compactor.NewSweeper(cfg.Compaction.SweepCron, comp, compLogger)
			if err != nil {
				return fmt.Errorf("sweep cron: %w", err)
			}
			go sweeper.Run(ctx)
		}
	}

	pipeLogger := log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags)
	ctrl := core.NewController(cfg, provider, &storeAdapter{st: st, index: index}, registry, comp, tele, pipeLogger)

	api := e.Group("/api")
	if cfg.Server.JWTSecret != "" {
		api.Use(authMiddleware([]byte(cfg.Server.JWTSecret)))
	}
	th := &TurnsHandler{Controller: ctrl, Store: st, Telemetry: tele}
	th.Register(api)

	return e.Start(cfg.Server.Address)
}
