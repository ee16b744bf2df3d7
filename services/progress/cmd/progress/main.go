package main

import (
	"context"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/cliniks-academy/internal/platform/analytics"
	"github.com/example/cliniks-academy/internal/platform/auth"
	"github.com/example/cliniks-academy/internal/platform/config"
	"github.com/example/cliniks-academy/internal/platform/db"
	"github.com/example/cliniks-academy/internal/platform/httpserver"
	"github.com/example/cliniks-academy/internal/platform/logging"
	"github.com/example/cliniks-academy/internal/platform/natsconn"
	"github.com/example/cliniks-academy/internal/platform/run"
	"github.com/example/cliniks-academy/services/progress/internal/cache"
	progressconfig "github.com/example/cliniks-academy/services/progress/internal/config"
	"github.com/example/cliniks-academy/services/progress/internal/handlers"
	"github.com/example/cliniks-academy/services/progress/internal/reconcile"
	"github.com/example/cliniks-academy/services/progress/internal/store"
	"github.com/example/cliniks-academy/services/progress/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	progressCfg := progressconfig.Load()

	pool, err := db.Open(context.Background())
	if err != nil {
		log.Error("db open", zap.Error(err))
		run.Exit(1)
	}
	defer pool.Close()

	progressRepo := store.NewPostgresProgressRepository(pool)
	enrollments := store.NewPostgresEnrollmentRepository(pool)

	var catalog store.CourseCatalog = store.NewPostgresCourseCatalog(pool)
	if progressCfg.RedisDSN != "" {
		cached, err := cache.New(progressCfg.RedisDSN, catalog, progressCfg.LessonSetTTL, log)
		if err != nil {
			log.Warn("redis unavailable, serving catalog from postgres", zap.Error(err))
		} else {
			log.Info("lesson set cache: redis")
			catalog = cached
		}
	}

	jwtSecret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
	verifier := auth.JWTVerifier{Secret: []byte(jwtSecret)}

	runner := run.New(log)
	code := runner.WithSignals(func(ctx context.Context) error {
		// NATS is optional: without it ticks are applied synchronously and
		// analytics events are dropped.
		events := analytics.New(nil, log)
		tickPublisher := handlers.NewEventPublisher(nil)

		nc, err := natsconn.Connect(natsconn.Options{})
		if err != nil {
			log.Error("nats connect", zap.Error(err))
		} else {
			defer nc.Close()
			js, jsErr := nc.JetStream()
			if jsErr != nil {
				log.Error("jetstream", zap.Error(jsErr))
			} else {
				events = analytics.New(js, log)
				tickPublisher = handlers.NewEventPublisher(js)
			}
		}

		rec := reconcile.New(progressRepo, enrollments, catalog, events, log)

		if nc != nil && err == nil {
			worker.StartTickConsumer(ctx, nc, pool, rec, progressCfg, log)
		}

		r := chi.NewRouter()
		httpserver.SetupRouter(r, httpserver.RouterConfig{ReadyFunc: func() error {
			return pool.Ping(context.Background())
		}})
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireUser(verifier))
			r.Post("/v1/progress", handlers.UpsertProgress(rec, tickPublisher, progressCfg.CompletionThresholdPercent))
			r.Post("/v1/lessons/{lesson_id}/complete", handlers.CompleteLesson(rec))
			r.Get("/v1/courses/{course_id}/progress", handlers.CourseProgress(rec, enrollments))
			r.Get("/v1/continue-watching", handlers.ContinueWatching(progressRepo))
			r.Post("/v1/resolve", handlers.ResolveVideo(events))

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireAdmin)
				r.Post("/v1/admin/users/{user_id}/courses/{course_id}/recompute", handlers.RecomputeCourseProgress(rec))
			})
		})

		srv := httpserver.New(httpserver.Options{Addr: cfg.HTTP.Addr, ServiceName: cfg.ServiceName, Logger: log, Router: r})
		go func() {
			<-ctx.Done()
			_ = srv.Shutdown(context.Background())
		}()
		return srv.Start(log)
	})

	log.Info("exit", zap.Int("code", code))
	run.Exit(code)
}
