package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/adrianmcphee/polystore"
)

// OwnerHeader carries the caller identity resolved by the auth layer in
// front of the server.
const OwnerHeader = "X-Owner-ID"

const maxBodyBytes = 10 << 20

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the router over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := prometheus.NewRegistry()
			registry.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			metrics := polystore.NewPrometheusMetrics(registry)

			router, logger, err := openRouter(cmd.Context(), metrics)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer router.Close()

			srv := &http.Server{
				Addr:         addr,
				Handler:      newHandler(router, registry, logger),
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 30 * time.Second,
				IdleTimeout:  60 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errc := make(chan error, 1)
			go func() {
				logger.Info("server listening", "addr", addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errc <- err
				}
				close(errc)
			}()

			select {
			case err := <-errc:
				return fmt.Errorf("server error: %w", err)
			case <-ctx.Done():
			}

			logger.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "address to listen on")
	return cmd
}

type server struct {
	router *polystore.Router
	logger polystore.Logger
}

// newHandler exposes the router under /analyze and /documents, with
// /healthz and /metrics alongside.
func newHandler(router *polystore.Router, registry *prometheus.Registry, logger polystore.Logger) http.Handler {
	s := &server{router: router, logger: logger}
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.Recoverer)

	mux.Get("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	mux.Post("/analyze", s.wrap(s.handleAnalyze))
	mux.Route("/documents", func(rt chi.Router) {
		rt.Post("/", s.wrap(s.handleStore))
		rt.Get("/", s.wrap(s.handleList))
		rt.Get("/{id}", s.wrap(s.handleGet))
		rt.Delete("/{id}", s.wrap(s.handleDelete))
	})
	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// wrap renders errors as a PublicError; the full error is only logged
func (s *server) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}
		public := polystore.ToPublicError(err)
		status := statusFor(public.Kind)
		if status >= http.StatusInternalServerError {
			s.logger.Error("request failed",
				"method", req.Method,
				"path", req.URL.Path,
				"request_id", middleware.GetReqID(req.Context()),
				"error", err,
			)
		} else {
			s.logger.Debug("request rejected",
				"method", req.Method,
				"path", req.URL.Path,
				"kind", public.Kind,
				"error", err,
			)
		}
		writeJSON(w, status, public)
	}
}

func statusFor(kind string) int {
	switch kind {
	case polystore.KindAnalysisError:
		return http.StatusBadRequest
	case polystore.KindNotFound:
		return http.StatusNotFound
	case polystore.KindUnauthorized:
		return http.StatusForbidden
	case polystore.KindBackendUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, req *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return polystore.WithContext(polystore.ErrAnalysis, map[string]interface{}{
			"reason": "malformed request body",
			"error":  err.Error(),
		})
	}
	return nil
}

func owner(req *http.Request) string {
	return req.Header.Get(OwnerHeader)
}

type analyzeRequest struct {
	Payload        json.RawMessage `json:"payload"`
	Comment        string          `json:"comment"`
	ReadWriteRatio *float64        `json:"read_write_ratio"`
}

// POST /analyze
// Body: {"payload": <json>, "comment": "...", "read_write_ratio": 3}
func (s *server) handleAnalyze(w http.ResponseWriter, req *http.Request) error {
	var body analyzeRequest
	if err := decodeBody(w, req, &body); err != nil {
		return err
	}
	payload, err := polystore.ParseValue(body.Payload)
	if err != nil {
		return err
	}
	result, err := s.router.Analyze(req.Context(), payload, polystore.AnalyzeOptions{
		Comment:        body.Comment,
		ReadWriteRatio: body.ReadWriteRatio,
	})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, result)
	return nil
}

type storeRequest struct {
	analyzeRequest
	Tags    []string `json:"tags"`
	Backend string   `json:"backend"`
}

// POST /documents
// Body: {"payload": <json>, "tags": [...], "backend": "sql"|"nosql"}
func (s *server) handleStore(w http.ResponseWriter, req *http.Request) error {
	var body storeRequest
	if err := decodeBody(w, req, &body); err != nil {
		return err
	}
	payload, err := polystore.ParseValue(body.Payload)
	if err != nil {
		return err
	}
	sr := polystore.StoreRequest{
		OwnerID:        owner(req),
		Payload:        payload,
		Tags:           body.Tags,
		Comment:        body.Comment,
		ReadWriteRatio: body.ReadWriteRatio,
	}
	if body.Backend != "" {
		if sr.ForceBackend, err = polystore.ParseBackendType(body.Backend); err != nil {
			return err
		}
	}

	result, err := s.router.Store(req.Context(), sr)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, result)
	return nil
}

type documentResponse struct {
	DocID       string                   `json:"doc_id"`
	BackendType polystore.BackendType    `json:"backend_type"`
	Payload     polystore.Value          `json:"payload"`
	Cached      bool                     `json:"cached"`
	Entry       polystore.DirectoryEntry `json:"entry"`
}

// GET /documents/{id}
func (s *server) handleGet(w http.ResponseWriter, req *http.Request) error {
	doc, err := s.router.Retrieve(req.Context(), chi.URLParam(req, "id"), owner(req))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, documentResponse{
		DocID:       doc.Entry.DocID,
		BackendType: doc.Entry.Backend,
		Payload:     doc.Payload,
		Cached:      doc.Cached,
		Entry:       doc.Entry,
	})
	return nil
}

// GET /documents?backend=sql&limit=20
func (s *server) handleList(w http.ResponseWriter, req *http.Request) error {
	limit := 0
	if v := req.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return polystore.WithContext(polystore.ErrInvalidData, map[string]interface{}{
				"field": "limit",
				"value": v,
			})
		}
		limit = n
	}
	backend := polystore.BackendType(req.URL.Query().Get("backend"))

	entries, err := s.router.List(req.Context(), owner(req), backend, limit)
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []polystore.DirectoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
	return nil
}

// DELETE /documents/{id}
func (s *server) handleDelete(w http.ResponseWriter, req *http.Request) error {
	deleted, err := s.router.Delete(req.Context(), chi.URLParam(req, "id"), owner(req))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
	return nil
}

// GET /healthz
func (s *server) handleHealth(w http.ResponseWriter, req *http.Request) {
	report := s.router.Health(req.Context())
	status := http.StatusOK
	for _, v := range report {
		if v != "ok" {
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, report)
}
