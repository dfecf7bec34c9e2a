package router

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/realestate-lead-bot/internal/conversation"
	httpmiddleware "github.com/wolfman30/realestate-lead-bot/internal/http/middleware"
	"github.com/wolfman30/realestate-lead-bot/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	BotHandler         *conversation.Handler
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	// RateLimiter throttles the /bot routes per client IP (optional).
	RateLimiter *httpmiddleware.RateLimiter
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	r.Get("/health", healthCheck)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if cfg.BotHandler != nil {
		r.Route("/bot", func(bot chi.Router) {
			if cfg.RateLimiter != nil {
				bot.Use(cfg.RateLimiter.Middleware)
			}
			bot.Post("/message", cfg.BotHandler.PostMessage)
			bot.Get("/history", cfg.BotHandler.GetHistory)
			bot.Delete("/history", cfg.BotHandler.DeleteHistory)
			bot.Get("/leads", cfg.BotHandler.ListLeads)
			bot.Patch("/leads/{phone}", cfg.BotHandler.PatchLead)
		})
	}

	return r
}

func healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
