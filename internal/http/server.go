package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"registro/internal/cache"
	applog "registro/internal/log"
	"registro/internal/middleware/security"
	"registro/internal/report"
	"registro/internal/services"
	"registro/internal/session"
)

type Server struct {
	http.Server
	tracker     *services.Tracker
	rateLimiter *rateLimiter

	// Memoized report aggregations, purged on every write.
	reportCache *cache.LRU[report.Report]

	shutdownOnce sync.Once
}

// Simple in-memory rate limiter
type rateLimiter struct {
	mu           sync.Mutex
	clients      map[string]*clientInfo
	stopCleanup  chan struct{}
	shutdownOnce sync.Once
}

type clientInfo struct {
	lastRequest time.Time
	requests    int
}

func newRateLimiter() *rateLimiter {
	rl := &rateLimiter{
		clients:     make(map[string]*clientInfo),
		stopCleanup: make(chan struct{}),
	}
	go rl.startCleanup()
	return rl
}

// startCleanup runs periodic cleanup to remove stale client entries
func (rl *rateLimiter) startCleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanupStaleEntries()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanupStaleEntries removes client entries older than 10 minutes
func (rl *rateLimiter) cleanupStaleEntries() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-10 * time.Minute)
	for ip, client := range rl.clients {
		if client.lastRequest.Before(cutoff) {
			delete(rl.clients, ip)
		}
	}
}

func (rl *rateLimiter) stop() {
	rl.shutdownOnce.Do(func() {
		close(rl.stopCleanup)
	})
}

func (rl *rateLimiter) allow(clientIP string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	client, exists := rl.clients[clientIP]

	if !exists {
		rl.clients[clientIP] = &clientInfo{
			lastRequest: now,
			requests:    1,
		}
		return true
	}

	// Reset counter if more than 1 minute has passed
	if now.Sub(client.lastRequest) > time.Minute {
		client.requests = 1
		client.lastRequest = now
		return true
	}

	// Allow up to 60 requests per minute
	client.requests++
	client.lastRequest = now

	return client.requests <= 60
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.rateLimiter.allow(clientIP(r)) {
			respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr string, tracker *services.Tracker, verifier *session.Verifier, logger *applog.Logger) *Server {
	s := &Server{
		tracker:     tracker,
		rateLimiter: newRateLimiter(),
		reportCache: cache.NewLRU[report.Report](100, 5*time.Minute),
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(security.Headers(security.DefaultHeadersConfig()))
	r.Use(applog.Middleware(logger))
	r.Use(applog.RequestLogger(logger))
	r.Use(s.withRateLimit)
	r.Use(verifier.Middleware)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/entries", s.handleListEntries)
		r.Put("/entries", s.handleSaveEntry)
		r.Delete("/entries/{id}", s.handleDeleteEntry)

		r.Get("/advances", s.handleListAdvances)
		r.Post("/advances", s.handleSaveAdvance)
		r.Delete("/advances/{id}", s.handleDeleteAdvance)

		r.Get("/expenses", s.handleListExpenses)
		r.Post("/expenses", s.handleSaveExpense)
		r.Delete("/expenses/{id}", s.handleDeleteExpense)

		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handleSaveSettings)

		r.Get("/report", s.handleReport)

		r.Post("/session", s.handleBeginSession)
		r.Delete("/session", s.handleEndSession)
		r.Post("/sync", s.handleSyncAll)
		r.Post("/sync/pull", s.handlePull)
		r.Post("/cycle/close", s.handleCloseCycle)

		r.Get("/backup", s.handleExportBackup)
		r.Post("/backup", s.handleImportBackup)

		r.Get("/reminder", s.handleReminderDue)
		r.Post("/reminder/ack", s.handleReminderAck)
	})

	s.Server = http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Shutdown gracefully shuts down the server and cleanup routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
