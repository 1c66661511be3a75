package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"

	"github.com/quillpress/articles/internal/article"
	"github.com/quillpress/articles/internal/events"
	appMiddleware "github.com/quillpress/articles/internal/middleware"
	"github.com/quillpress/articles/internal/notify"

	_ "github.com/quillpress/articles/docs/swagger"
)

// formSweepInterval is how often idle forms are looked for.
const formSweepInterval = time.Minute

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the form pages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	var bus events.Bus = events.NewLocalBus()
	if cfg.RedisURL != "" {
		rb, err := events.ConnectRedis(cfg.RedisURL, log)
		if err != nil {
			return err
		}
		bus = rb
		log.Info("form events shared through redis")
	}
	defer bus.Close()

	// Wire dependencies: storage + repository → publisher → handler
	reg := prometheus.DefaultRegisterer
	notifier := notify.Multi{notify.NewBusNotifier(bus, log), notify.NewLogNotifier(log)}
	pub := a.publisher(notifier, nil, article.Options{
		Bus:     bus,
		Metrics: article.NewMetrics(reg),
	})
	forms := article.NewRegistry(time.Now, article.RegistryLimits{
		IdleTTL:  cfg.FormIdleTTL,
		MaxForms: cfg.MaxForms,
	})
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go forms.Run(sweepCtx, formSweepInterval)
	articleHandler := article.NewHandler(forms, pub, bus, log, article.HandlerConfig{
		MaxImageSize: cfg.MaxImageSize,
		APIBase:      "/api/v1",
	})

	// Router
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(appMiddleware.Logger(log))
	r.Use(chiMiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Swagger UI at http://localhost:8080/swagger/
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	// Form pages cannot send a bearer token, so they are only served while
	// the API is open too.
	if cfg.JWTSecret == "" {
		r.Route("/forms", articleHandler.ViewRoutes)
	} else {
		log.Info("form pages disabled while JWT_SECRET is set")
	}

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/forms", func(r chi.Router) {
			r.Use(appMiddleware.RequireAuth(cfg.JWTSecret))
			articleHandler.APIRoutes(r)
		})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine; wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	errc := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("port", cfg.Port), zap.String("env", cfg.AppEnv))
		log.Info("swagger UI at http://localhost:" + cfg.Port + "/swagger/")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-quit:
	}
	log.Info("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	log.Info("server stopped")
	return nil
}
