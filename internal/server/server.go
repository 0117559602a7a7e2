// Package server serves catalog layers over HTTP as GeoJSON.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geo-cli/internal/crs"
	"github.com/sells-group/geo-cli/internal/dataset"
	"github.com/sells-group/geo-cli/internal/layer"
	"github.com/sells-group/geo-cli/internal/spatial"
	"github.com/sells-group/geo-cli/internal/vectorio"
)

// Source lists and opens the layers the server exposes.
type Source interface {
	Names() []string
	OpenNamed(ctx context.Context, name string) (*layer.Layer, error)
}

// Options configures a Server.
type Options struct {
	CacheSize   int
	CORSOrigins []string
}

// Server is the feature server.
type Server struct {
	src    Source
	cache  *lru.Cache[uint64, cached]
	router chi.Router
	log    *zap.Logger
}

type cached struct {
	contentType string
	body        []byte
}

// New builds a server and its routes.
func New(src Source, opts Options) (*Server, error) {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 128
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	c, err := lru.New[uint64, cached](opts.CacheSize)
	if err != nil {
		return nil, eris.Wrap(err, "server: create cache")
	}
	s := &Server{
		src:   src,
		cache: c,
		log:   zap.L().With(zap.String("component", "server")),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(s.logRequests)

	r.Get("/health", s.handleHealth)
	r.Get("/layers", s.handleLayers)
	r.Get("/layers/{name}", s.handleFeatures)
	r.Get("/layers/{name}/info", s.handleInfo)
	s.router = r
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return eris.Wrap(srv.Shutdown(shutdownCtx), "server: shutdown")
	case err := <-errCh:
		return eris.Wrap(err, "server: listen")
	}
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
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLayers(w http.ResponseWriter, _ *http.Request) {
	names := s.src.Names()
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"layers": names})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	s.serveCached(w, r, func() (cached, int, error) {
		l, status, err := s.open(r.Context(), name)
		if err != nil {
			return cached{}, status, err
		}
		body, err := json.Marshal(l.Describe())
		if err != nil {
			return cached{}, http.StatusInternalServerError, eris.Wrap(err, "server: encode summary")
		}
		return cached{contentType: "application/json", body: body}, http.StatusOK, nil
	})
}

func (s *Server) handleFeatures(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	s.serveCached(w, r, func() (cached, int, error) {
		q, err := parseQuery(r)
		if err != nil {
			return cached{}, http.StatusBadRequest, err
		}
		l, status, err := s.open(r.Context(), name)
		if err != nil {
			return cached{}, status, err
		}
		out, err := q.apply(l)
		if err != nil {
			return cached{}, http.StatusBadRequest, err
		}
		var buf bytes.Buffer
		if err := vectorio.WriteGeoJSON(&buf, out); err != nil {
			return cached{}, http.StatusInternalServerError, err
		}
		return cached{contentType: "application/geo+json", body: buf.Bytes()}, http.StatusOK, nil
	})
}

// serveCached answers from the cache keyed by path and canonical query, or
// builds, stores and writes a fresh response. Errors are not cached.
func (s *Server) serveCached(w http.ResponseWriter, r *http.Request, build func() (cached, int, error)) {
	key := CacheKey(r.URL.Path, r.URL.Query().Encode())
	if c, ok := s.cache.Get(key); ok {
		w.Header().Set("X-Cache", "HIT")
		writeBody(w, c)
		return
	}
	c, status, err := build()
	if err != nil {
		s.log.Warn("request failed", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	s.cache.Add(key, c)
	w.Header().Set("X-Cache", "MISS")
	writeBody(w, c)
}

// CacheKey hashes a request path and its canonical query string.
func CacheKey(path, canonicalQuery string) uint64 {
	return xxhash.Sum64String(path + "?" + canonicalQuery)
}

func (s *Server) open(ctx context.Context, name string) (*layer.Layer, int, error) {
	l, err := s.src.OpenNamed(ctx, name)
	switch {
	case err == nil:
		return l, http.StatusOK, nil
	case errors.Is(err, dataset.ErrUnknownDataset), errors.Is(err, vectorio.ErrLayerNotFound), errors.Is(err, fs.ErrNotExist):
		return nil, http.StatusNotFound, err
	}
	return nil, http.StatusInternalServerError, err
}

// featureQuery is the parsed query string of a features request.
type featureQuery struct {
	target *crs.CRS
	bbox   *layer.BBox
	where  string
	limit  int
}

func parseQuery(r *http.Request) (featureQuery, error) {
	var q featureQuery
	v := r.URL.Query()
	if s := v.Get("crs"); s != "" {
		c, err := crs.Parse(s)
		if err != nil {
			return q, eris.Wrapf(err, "server: crs %q", s)
		}
		q.target = c
	}
	if s := v.Get("bbox"); s != "" {
		b, err := layer.ParseBBox(s)
		if err != nil {
			return q, err
		}
		q.bbox = &b
	}
	q.where = v.Get("where")
	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return q, eris.Errorf("server: limit %q must be a non-negative integer", s)
		}
		q.limit = n
	}
	return q, nil
}

// apply reprojects, then filters by bbox (in the output CRS) and where,
// then truncates to limit.
func (q featureQuery) apply(l *layer.Layer) (*layer.Layer, error) {
	out := l
	var err error
	if q.target != nil && (l.CRS == nil || !l.CRS.Equal(q.target)) {
		if out, err = out.Reproject(q.target); err != nil {
			return nil, err
		}
	}
	if q.bbox != nil {
		out = spatial.ClipBBox(out, *q.bbox)
	}
	if q.where != "" {
		if out, err = out.Where(q.where); err != nil {
			return nil, err
		}
	}
	if q.limit > 0 {
		out = out.Head(q.limit)
	}
	return out, nil
}

func writeBody(w http.ResponseWriter, c cached) {
	w.Header().Set("Content-Type", c.contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(c.body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
