package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/craftwatch/internal/clock/system"
	"github.com/JakeFAU/craftwatch/internal/config"
	"github.com/JakeFAU/craftwatch/internal/crawler"
	"github.com/JakeFAU/craftwatch/internal/inventory"
	"github.com/JakeFAU/craftwatch/internal/metrics"
	"github.com/JakeFAU/craftwatch/internal/results"
)

// InventoryReader loads published snapshots.
type InventoryReader interface {
	Latest(ctx context.Context) (inventory.Inventory, error)
	ForDate(ctx context.Context, date string) (inventory.Inventory, error)
}

// Server wires HTTP handlers to the results store.
type Server struct {
	router chi.Router
	reader InventoryReader
	runs   crawler.RunStore
	cfg    config.Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes. runs may be nil.
func NewServer(reader InventoryReader, runs crawler.RunStore, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		reader: reader,
		runs:   runs,
		cfg:    cfg,
		logger: logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(30 * time.Second))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/inventory", s.getInventory)
		r.Get("/items", s.listItems)
		r.Route("/breweries", func(r chi.Router) {
			r.Get("/", s.listBreweries)
			r.Get("/{brewery_id}", s.getBrewery)
		})
		r.Get("/runs/latest", s.latestRun)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz reports ready once the results store answers, even before the
// first snapshot exists.
func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.reader.Latest(r.Context()); err != nil && !errors.Is(err, results.ErrNoInventory) {
		s.logger.Warn("Results store not ready", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "results store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) getInventory(w http.ResponseWriter, r *http.Request) {
	inv, ok := s.loadInventory(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

type itemsResponse struct {
	Metadata inventory.Metadata `json:"metadata"`
	Count    int                `json:"count"`
	Items    []inventory.Item   `json:"items"`
}

func (s *Server) listItems(w http.ResponseWriter, r *http.Request) {
	filter, err := parseItemFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	inv, ok := s.loadInventory(w, r)
	if !ok {
		return
	}
	items := make([]inventory.Item, 0, len(inv.Items))
	for _, item := range inv.Items {
		if filter.match(item) {
			items = append(items, item)
		}
	}
	writeJSON(w, http.StatusOK, itemsResponse{Metadata: inv.Metadata, Count: len(items), Items: items})
}

type breweryView struct {
	ID string `json:"id"`
	inventory.Brewery
	Items int `json:"items"`
}

func (s *Server) listBreweries(w http.ResponseWriter, r *http.Request) {
	inv, ok := s.loadInventory(w, r)
	if !ok {
		return
	}
	counts := inv.CountByBrewery()
	views := make([]breweryView, 0, len(inv.Breweries))
	for _, b := range inv.Breweries {
		views = append(views, breweryView{ID: b.ID(), Brewery: b, Items: counts[b.ID()]})
	}
	writeJSON(w, http.StatusOK, map[string]any{"breweries": views})
}

func (s *Server) getBrewery(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "brewery_id")
	inv, ok := s.loadInventory(w, r)
	if !ok {
		return
	}
	for _, b := range inv.Breweries {
		if b.ID() != id {
			continue
		}
		items := make([]inventory.Item, 0)
		for _, item := range inv.Items {
			if item.BreweryID == id {
				items = append(items, item)
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"brewery": breweryView{ID: id, Brewery: b, Items: len(items)},
			"items":   items,
		})
		return
	}
	writeError(w, http.StatusNotFound, "brewery not found")
}

func (s *Server) latestRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusNotFound, "run history not configured")
		return
	}
	run, err := s.runs.LatestRun(r.Context())
	if errors.Is(err, crawler.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "no runs recorded")
		return
	}
	if err != nil {
		s.logger.Error("Failed to load latest run", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load latest run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// loadInventory resolves the optional ?date= and writes the error response
// itself when it returns false.
func (s *Server) loadInventory(w http.ResponseWriter, r *http.Request) (inventory.Inventory, bool) {
	var (
		inv inventory.Inventory
		err error
	)
	if date := r.URL.Query().Get("date"); date != "" {
		if _, perr := time.Parse(system.DateLayout, date); perr != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return inventory.Inventory{}, false
		}
		inv, err = s.reader.ForDate(r.Context(), date)
	} else {
		inv, err = s.reader.Latest(r.Context())
	}
	switch {
	case errors.Is(err, results.ErrNoInventory):
		writeError(w, http.StatusNotFound, "inventory not found")
		return inventory.Inventory{}, false
	case err != nil:
		s.logger.Error("Failed to load inventory", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load inventory")
		return inventory.Inventory{}, false
	}
	return inv, true
}

type itemFilter struct {
	brewery   string
	category  string
	available *bool
	onlyNew   *bool
}

func parseItemFilter(r *http.Request) (itemFilter, error) {
	q := r.URL.Query()
	f := itemFilter{brewery: q.Get("brewery"), category: q.Get("category")}
	var err error
	if f.available, err = optionalBool(q.Get("available")); err != nil {
		return itemFilter{}, fmt.Errorf("available: %w", err)
	}
	if f.onlyNew, err = optionalBool(q.Get("new")); err != nil {
		return itemFilter{}, fmt.Errorf("new: %w", err)
	}
	return f, nil
}

func (f itemFilter) match(item inventory.Item) bool {
	if f.brewery != "" && item.BreweryID != f.brewery {
		return false
	}
	if f.category != "" && !slices.Contains(item.Categories, f.category) {
		return false
	}
	if f.available != nil && item.Available != *f.available {
		return false
	}
	if f.onlyNew != nil && item.New != *f.onlyNew {
		return false
	}
	return true
}

func optionalBool(raw string) (*bool, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid boolean %q", raw)
	}
	return &v, nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Info("Request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", reqID),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("Panic recovered", zap.Any("panic", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/healthz" || r.URL.Path == "/readyz" {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
