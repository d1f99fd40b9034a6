package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	stdlog "log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/username/ledgerlens/src/config"
	"github.com/username/ledgerlens/src/database"
	"github.com/username/ledgerlens/src/handlers"
	"github.com/username/ledgerlens/src/logger"
	"github.com/username/ledgerlens/src/processors"
	"github.com/username/ledgerlens/src/services"
	"github.com/username/ledgerlens/src/store"
)

func proxyHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Forwarded-Proto") == "https" {
			r.URL.Scheme = "https"
			r.TLS = &tls.ConnectionState{}
		}
		next.ServeHTTP(w, r)
	})
}

var limiter = rate.NewLimiter(rate.Every(100*time.Millisecond), 30)

func rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			logger.L.Warn("Rate limit exceeded", "path", r.URL.Path)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowedOrigins := map[string]bool{
			"http://localhost:3000":    true,
			config.Cfg.FrontendBaseURL: true,
		}

		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-Requested-With, X-User-ID")
		} else if origin == "" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func main() {
	config.LoadConfig()
	logger.InitLogger(config.Cfg.LogLevel)

	logger.L.Info("LedgerLens server starting...")

	logger.L.Info("Initializing database...", "path", config.Cfg.DatabasePath)
	db := database.InitDB(config.Cfg.DatabasePath)
	database.RunMigrations(db, config.Cfg.DatabasePath)

	ledgerStore := store.New(db)

	extractor, err := services.NewGeminiExtractor(context.Background(), config.Cfg)
	if err != nil {
		logger.L.Error("Failed to initialize extraction client", "error", err)
		os.Exit(1)
	}

	writerService := services.NewWriterService(ledgerStore, config.Cfg.WriterConcurrency)
	qualityService := services.NewQualityService(
		ledgerStore,
		processors.NewIntegrityChecker(),
		processors.NewAccountMatcher(),
		writerService,
		extractor,
	)
	statementService := services.NewStatementService(ledgerStore, extractor, writerService, qualityService)

	statementHandler := handlers.NewStatementHandler(statementService)
	accountHandler := handlers.NewAccountHandler(statementService)

	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(handlers.ContextualLoggerMiddleware)
	r.Use(proxyHeadersMiddleware)
	r.Use(enableCORS)
	r.Use(rateLimitMiddleware)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"message": "LedgerLens is running"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(handlers.UserIdentityMiddleware)

			r.Post("/statements", statementHandler.HandleUpload)
			r.Get("/statements/{id}", statementHandler.HandleGetStatement)
			r.Get("/statements/{id}/quality", statementHandler.HandleGetQuality)
			r.Post("/statements/compare", statementHandler.HandleCompare)

			r.Get("/accounts", accountHandler.HandleListAccounts)
			r.Get("/accounts/{id}/holdings", accountHandler.HandleGetHoldings)
			r.Get("/reports/latest", accountHandler.HandleLatestReport)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/") {
			http.NotFound(w, r)
		}
	})

	serverAddr := ":" + config.Cfg.Port
	server := &http.Server{
		Addr:        serverAddr,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		// Uploads block on the extraction model, which runs in minutes, and a
		// failed quality check triggers a second model call.
		WriteTimeout: 2*config.Cfg.ExtractionTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.L.Info("Server starting", "address", serverAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		stdlog.Fatalf("Failed to start server: %v", err)
	}
}
