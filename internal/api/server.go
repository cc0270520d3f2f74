// Package api serves dashboard views as JSON to the chart layer.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lox/powerdash/internal/dashboard"
)

type Config struct {
	Addr        string
	Origins     []string
	RateLimit   float64
	RateBurst   int
	ReadTimeout time.Duration
}

type Server struct {
	svc     *dashboard.Service
	cfg     Config
	limiter *rate.Limiter
	log     *zap.Logger
}

func NewServer(svc *dashboard.Service, cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if len(cfg.Origins) == 0 {
		cfg.Origins = []string{"*"}
	}
	s := &Server{
		svc: svc,
		cfg: cfg,
		log: zap.L().With(zap.String("component", "api")),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.Origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Use(s.rateLimit)

		api.Get("/states", serveView(s, dashboard.ViewStates, func(ctx context.Context, _ string) (any, error) {
			return s.svc.States(ctx)
		}))
		api.Get("/map", serveView(s, dashboard.ViewMap, func(ctx context.Context, _ string) (any, error) {
			return s.svc.Map(ctx)
		}))
		api.Get("/regional", serveView(s, dashboard.ViewRegional, func(ctx context.Context, _ string) (any, error) {
			return s.svc.Regional(ctx)
		}))
		api.Get("/holidays", serveView(s, dashboard.ViewHolidays, func(ctx context.Context, state string) (any, error) {
			return s.svc.HolidayComparison(ctx, state)
		}))
		api.Get("/stats", serveView(s, dashboard.ViewStats, func(ctx context.Context, state string) (any, error) {
			return s.svc.Stats(ctx, state)
		}))
		api.Get("/consumption", serveView(s, dashboard.ViewConsumption, func(ctx context.Context, state string) (any, error) {
			return s.svc.StateConsumption(ctx, state)
		}))
		api.Get("/forecasts", serveView(s, dashboard.ViewForecasts, func(ctx context.Context, state string) (any, error) {
			return s.svc.ForecastConsumption(ctx, state)
		}))
		api.Get("/future", serveView(s, dashboard.ViewFuture, func(ctx context.Context, state string) (any, error) {
			return s.svc.FutureForecasts(ctx, state)
		}))
		api.Get("/models", serveView(s, dashboard.ViewModels, func(ctx context.Context, state string) (any, error) {
			return s.svc.ModelPerformance(ctx, state)
		}))
		api.Get("/weather-impact", s.handleWeatherImpact)
		api.Get("/dashboard", s.handleDashboard)
		api.Get("/export", s.handleExport)
		api.Post("/cache/invalidate", s.handleInvalidate)
	})
	return r
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	s.log.Info("listening", zap.String("addr", s.cfg.Addr))
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", requestID(r)),
		)
	})
}

func requestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}

// rateLimit rejects requests beyond the shared token bucket.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, failure{Error: "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
