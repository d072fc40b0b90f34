package app

import (
	"database/sql"
	"net/http"
	"time"

	"surveycmi/internal/app/apiresp"
	"surveycmi/internal/app/observability"
	"surveycmi/internal/question"
	"surveycmi/internal/submission"
	"surveycmi/internal/subscale"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(cfg Config, db *sql.DB) http.Handler {
	r := chi.NewRouter()
	obs := observability.NewCollector(db)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(obs.Middleware)
	r.Use(CORSMiddleware(cfg.CORSAllowedOrigins))

	questionHandler := question.NewHandler(question.NewService(db))
	submissionHandler := submission.NewHandler(submission.NewService(db))
	subscaleHandler := subscale.NewHandler(subscale.NewService(db))
	submitLimiter := NewIPRateLimiter(cfg.SubmitRateLimitPerMin, time.Minute)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apiresp.WriteError(w, r, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		apiresp.WriteError(w, r, http.StatusMethodNotAllowed, "")
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.Get("/metrics", obs.MetricsHandler)

	r.Route("/questions", func(qr chi.Router) {
		qr.Get("/", questionHandler.List)
		qr.Post("/", questionHandler.Create)
		qr.Patch("/{id}", questionHandler.Update)
		qr.Delete("/{id}", questionHandler.Delete)
	})

	r.Route("/submit", func(sr chi.Router) {
		sr.Use(RateLimitMiddleware(submitLimiter))
		sr.Post("/", submissionHandler.Submit)
	})

	r.Route("/users", func(ur chi.Router) {
		ur.Get("/", submissionHandler.ListUsers)
		ur.Get("/{id}", submissionHandler.GetUser)
		ur.Get("/{id}/responses", submissionHandler.ListUserResponses)
	})

	r.Route("/subscales", func(sr chi.Router) {
		sr.Get("/", subscaleHandler.List)
		sr.Post("/", subscaleHandler.Create)
		sr.Patch("/{id}", subscaleHandler.Update)
		sr.Delete("/{id}", subscaleHandler.Delete)
		sr.Get("/{id}/normalization-table/", subscaleHandler.NormalizationTable)
		sr.Get("/{id}/normalization-table.xlsx", subscaleHandler.ExportNormalizationTable)
		sr.Post("/{id}/upload-normalization/", subscaleHandler.UploadNormalization)
	})

	return r
}
