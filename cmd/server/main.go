package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"elena/agent/internal/api"
	"elena/agent/internal/availability"
	"elena/agent/internal/booking"
	"elena/agent/internal/calendar"
	"elena/agent/internal/clientws"
	"elena/agent/internal/config"
	"elena/agent/internal/events"
	"elena/agent/internal/health"
	"elena/agent/internal/intent"
	"elena/agent/internal/llm"
	"elena/agent/internal/logging"
	"elena/agent/internal/orchestrator"
	"elena/agent/internal/sessions"
	"elena/agent/internal/store"
)

func main() {
	// Load .env file if present (ignored if missing)
	_ = godotenv.Load()

	cfg := config.Load()
	log, err := logging.New(cfg.Server.LogLevel, cfg.Server.Env)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}
	if err := run(cfg, log); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx := context.Background()
	loc := cfg.Location()
	checker := health.NewChecker(2 * time.Second)
	checker.Add("llm", health.Configured("GEMINI_API_KEY", cfg.LLM.APIKey))

	// Booking store: Postgres when configured, memory otherwise.
	var st store.Store = store.NewMemory()
	var pool *pgxpool.Pool
	if cfg.Database.URL != "" {
		p, err := store.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			return err
		}
		pool = p
		defer pool.Close()
		if err := store.Migrate(ctx, pool); err != nil {
			return err
		}
		st = store.NewPostgres(pool)
		checker.Add("postgres", health.Ping(pool))
		log.Info("booking store: postgres")
	} else {
		log.Warn("DATABASE_URL not set; bookings are kept in memory")
	}

	var snap availability.Snapshot = availability.NewMemorySnapshot()
	if cfg.Redis.Addr != "" {
		rdb, err := availability.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer rdb.Close()
		snap = availability.NewRedisSnapshot(rdb, time.Duration(cfg.Redis.SnapshotTTLMin)*time.Minute)
		checker.Add("redis", redisPing(rdb))
		log.Info("availability snapshot: redis", zap.String("addr", cfg.Redis.Addr))
	}

	hours := availability.HoursFrom(cfg.Agenda.OpenHour, cfg.Agenda.CloseHour, cfg.Agenda.SlotMinutes)
	avail := availability.New(st, snap, hours, log.Named("availability"))

	var syncer booking.Syncer
	if cfg.Calendar.CredentialsFile != "" {
		g, err := calendar.NewGoogle(ctx, cfg.Calendar.CredentialsFile, cfg.Calendar.CalendarID, loc)
		if err != nil {
			return err
		}
		syncer = calendar.Retrying{Next: g, MaxRetries: uint64(cfg.Calendar.SyncRetries), Initial: 500 * time.Millisecond}
		log.Info("calendar sync enabled", zap.String("calendar", cfg.Calendar.CalendarID))
	}

	engine := booking.New(st, avail, syncer, booking.Options{
		DefaultService:  cfg.Agenda.DefaultService,
		DefaultDuration: cfg.Agenda.DefaultDuration,
		MaxDuration:     cfg.Agenda.MaxDuration,
		WindowDays:      cfg.Agenda.BookingWindowDays,
		Location:        loc,
		SyncTimeout:     time.Duration(cfg.Calendar.SyncTimeoutSecs) * time.Second,
	}, log.Named("booking"))
	defer engine.Wait()

	gem, err := llm.NewGemini(ctx, llm.GeminiConfig{
		APIKey:          cfg.LLM.APIKey,
		Model:           cfg.LLM.Model,
		Temperature:     float32(cfg.LLM.Temperature),
		MaxOutputTokens: int32(cfg.LLM.MaxOutputTokens),
	})
	if err != nil {
		return err
	}
	defer gem.Close()

	extractor := intent.New(intent.Defaults{Servicio: cfg.Agenda.DefaultService, Duracion: cfg.Agenda.DefaultDuration})
	journal := events.NewStore(events.DefaultCap)
	reg := clientws.NewRegistry()
	connect := time.Duration(cfg.Avatar.ConnectSecs) * time.Second

	sess := sessions.NewStore(func(key string) *orchestrator.Controller {
		w := reg.Widget(key, connect)
		return orchestrator.New(key, orchestrator.Deps{
			Microphone:   w,
			Avatar:       w,
			Chat:         gem,
			Extractor:    extractor,
			Booker:       engine,
			Availability: avail,
			Journal:      journal,
			Log:          log.Named("session"),
		}, orchestrator.Options{SystemPrompt: cfg.LLM.SystemPrompt})
	}, journal, cfg.Server.MaxSessions)

	reapCtx, stopReaper := context.WithCancel(context.Background())
	defer stopReaper()
	go reapSessions(reapCtx, sess, log)

	wss := clientws.NewServer(clientws.Options{
		TokenSecret:    cfg.Avatar.TokenSecret,
		TokenSkew:      time.Duration(cfg.Avatar.TokenSkewSecs) * time.Second,
		AllowedOrigins: cfg.Avatar.AllowedOrigins,
		InboundPerSec:  cfg.Avatar.InboundPerSec,
		InboundBurst:   cfg.Avatar.InboundBurst,
		AckTimeout:     time.Duration(cfg.Avatar.AckTimeoutMS) * time.Millisecond,
	}, reg, sess, journal, log.Named("clientws"))

	h := api.NewHandlers(api.Deps{
		Bookings:     engine,
		Availability: avail,
		Sessions:     sess,
		Journal:      journal,
		Health:       checker,
		TokenSecret:  cfg.Avatar.TokenSecret,
		TokenTTL:     time.Duration(cfg.Avatar.TokenTTLMin) * time.Minute,
		Log:          log.Named("api"),
	})
	router := api.NewRouter(h, api.RouterOptions{
		AllowedOrigins: cfg.Avatar.AllowedOrigins,
		FormPerMinute:  cfg.Server.FormPerMinute,
		Widget:         wss.HandleClientWS,
	})

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.LogMiddleware(log, router),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Graceful shutdown on SIGINT/SIGTERM
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-sigc
		log.Info("shutdown signal received; stopping server")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		// End avatar sessions before draining HTTP
		sess.CloseAll(sctx)
		_ = srv.Shutdown(sctx)
	}()

	log.Info("server starting", zap.String("addr", addr), zap.String("model", cfg.LLM.Model))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	<-done
	return nil
}

// reapSessions periodically ends sessions that can no longer run.
func reapSessions(ctx context.Context, sess *sessions.Store, log *zap.Logger) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := sess.Reap(ctx); n > 0 {
				log.Debug("reaped sessions", zap.Int("count", n))
			}
		}
	}
}

func redisPing(rdb *redis.Client) health.Check {
	return func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
}
