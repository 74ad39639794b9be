package httpapi

import (
	"net/http"
	"os"
	"strings"

	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zhaokao/eduquery/internal/config"
	"github.com/zhaokao/eduquery/internal/graph"
	"github.com/zhaokao/eduquery/internal/metrics"
)

// NewRouter builds the chi router for the service, grounded on
// api/main.go's middleware stack and route registration from the
// teacher pack.
func NewRouter(deps *graph.Deps, cfg *config.Config) http.Handler {
	s := &Server{Deps: deps, Cfg: cfg}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)

	if cfg.SentryDSN != "" {
		sentryHandler := sentryhttp.New(sentryhttp.Options{Repanic: true})
		r.Use(sentryHandler.Handle)
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if txn := sentry.TransactionFromContext(r.Context()); txn != nil {
					if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
						txn.Name = r.Method + " " + rctx.RoutePattern()
					} else {
						txn.Name = r.Method + " " + r.URL.Path
					}
				}
				next.ServeHTTP(w, r)
			})
		})
	}

	r.Use(middleware.Recoverer)

	corsOrigins := []string{"*"}
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		corsOrigins = strings.Split(origins, ",")
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/chat", func(r chi.Router) {
		r.Use(metrics.Middleware("chat"))
		r.Use(RequireAuth(cfg.AccessTokenSecret))

		r.Post("/", s.Chat)
		r.Post("/stream", s.ChatStream)
		r.Get("/sessions", s.ListSessions)
		r.Get("/sessions/{id}/messages", s.ListSessionMessages)
		r.Delete("/sessions/{id}", s.DeleteSession)
		r.Delete("/sessions", s.DeleteAllSessions)
		r.Get("/downloads/{file}", s.Downloads)
	})

	return r
}
