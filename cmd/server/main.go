package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4" // Echo web framework
	"github.com/labstack/gommon/log"

	"github.com/iliyamo/event-booking-api/internal/clock"
	"github.com/iliyamo/event-booking-api/internal/config" // Internal config loader
	"github.com/iliyamo/event-booking-api/internal/handler"
	"github.com/iliyamo/event-booking-api/internal/middleware"
	"github.com/iliyamo/event-booking-api/internal/queue"
	"github.com/iliyamo/event-booking-api/internal/repository"
	"github.com/iliyamo/event-booking-api/internal/router" // Internal router setup
)

const shutdownTimeout = 10 * time.Second

func main() {
	e := echo.New() // Create Echo instance
	e.HideBanner = true

	cfg, err := config.Load() // Load environment config
	if err != nil {
		e.Logger.Fatalf("load config: %v", err)
	}
	e.Logger.SetLevel(logLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk := clock.NewSystem()
	store, closeStore, err := repository.Open(ctx, cfg.StoreURI, clk)
	if err != nil {
		e.Logger.Fatalf("open store: %v", err)
	}
	e.Logger.Info("store connected")

	var events queue.Publisher = queue.NopPublisher{}
	if cfg.Queue.URL != "" {
		p, err := queue.NewAMQPPublisher(cfg.Queue.URL, cfg.Queue.Exchange)
		if err != nil {
			e.Logger.Warnf("booking events: broker unavailable, will retry on publish: %v", err)
		}
		events = p
		if cfg.Queue.ConsumerEnabled {
			consumer := &queue.Consumer{URL: cfg.Queue.URL, Exchange: cfg.Queue.Exchange, Dir: cfg.Queue.LogDir, Logger: e.Logger}
			go func() {
				if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					e.Logger.Errorf("booking consumer stopped: %v", err)
				}
			}()
		}
	}

	var cacheMW []echo.MiddlewareFunc
	if cfg.Cache.Enabled {
		if rdb := config.NewRedisClient(cfg.Redis); rdb != nil {
			defer rdb.Close()
			cacheMW = append(cacheMW, middleware.NewRedisCache(cfg.Cache, rdb))
		} else {
			e.Logger.Warnf("response cache disabled: redis at %s unreachable", cfg.Redis.Addr)
		}
	}

	h := handler.NewBookingHandler(store, events, clk, cfg.StoreTimeout)
	router.RegisterMiddleware(e, cfg.CORSOrigins)
	router.RegisterRoutes(e) // Register application routes
	router.RegisterBookings(e, h, cacheMW...)

	addr := ":" + cfg.Port                                      // Address string with port
	e.Logger.Infof("listening on %s (env=%s)", addr, cfg.Env) // Print startup info

	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) { // Start HTTP server
			e.Logger.Errorf("server: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		e.Logger.Errorf("shutdown: %v", err)
	}
	h.Wait()
	if err := events.Close(); err != nil {
		e.Logger.Warnf("close publisher: %v", err)
	}
	if err := closeStore(shutdownCtx); err != nil {
		e.Logger.Warnf("close store: %v", err)
	}
}

func logLevel(s string) log.Lvl {
	switch s {
	case "debug":
		return log.DEBUG
	case "warn":
		return log.WARN
	case "error":
		return log.ERROR
	}
	return log.INFO
}
