// Package server exposes the registry operations over HTTP with chi.
//
// Every route is registered through the registry's operation table:
// update operations require a bearer token, query operations accept an
// optional one, and each response names its operation in the X-Operation
// and X-Operation-Kind headers.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Skryldev/student-registry/auth"
	"github.com/Skryldev/student-registry/db"
	"github.com/Skryldev/student-registry/metrics"
	"github.com/Skryldev/student-registry/models"
	"github.com/Skryldev/student-registry/registry"
)

type Config struct {
	JWTSecret string
	JWTIssuer string
}

type Server struct {
	cfg     Config
	reg     *registry.Registry
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New returns a Server. m and logger may be nil.
func New(cfg Config, reg *registry.Registry, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, reg: reg, metrics: m, logger: logger}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	s.route(r, http.MethodPost, "/students", registry.OpCreate, s.handleCreate)
	s.route(r, http.MethodGet, "/students", registry.OpGetAll, s.handleGetAll)
	s.route(r, http.MethodGet, "/students/count", registry.OpCount, s.handleCount)
	s.route(r, http.MethodGet, "/students/average-age", registry.OpAverageAge, s.handleAverageAge)
	s.route(r, http.MethodGet, "/students/by-name/{name}", registry.OpGetByName, s.handleGetByName)
	s.route(r, http.MethodGet, "/students/by-course/{course}", registry.OpGetByCourse, s.filterBy("course", s.reg.GetByCourse))
	s.route(r, http.MethodGet, "/students/by-location/{location}", registry.OpGetByLocation, s.filterBy("location", s.reg.GetByLocation))
	s.route(r, http.MethodGet, "/students/by-parent/{parent}", registry.OpGetByParent, s.filterBy("parent", s.reg.GetByParent))
	s.route(r, http.MethodGet, "/students/by-age/{age}", registry.OpGetByAge, s.handleGetByAge)
	s.route(r, http.MethodGet, "/students/admitted-after/{date}", registry.OpGetAdmittedAfter, s.filterBy("date", s.reg.GetAdmittedAfter))
	s.route(r, http.MethodGet, "/students/{id}", registry.OpGetByID, s.handleGetByID)
	s.route(r, http.MethodPut, "/students/{id}", registry.OpUpdate, s.handleUpdate)
	s.route(r, http.MethodDelete, "/students/{id}", registry.OpDelete, s.handleDelete)
	s.route(r, http.MethodPatch, "/students/{id}/course", registry.OpUpdateCourse, s.handleUpdateCourse)
	s.route(r, http.MethodGet, "/students/{id}/parent", registry.OpGetParent, s.handleGetParent)
	s.route(r, http.MethodGet, "/students/{id}/exists", registry.OpExists, s.handleExists)

	return r
}

// opHandler returns the status and payload of a successful call, or an
// error that route maps to a status.
type opHandler func(r *http.Request) (int, any, error)

func (s *Server) route(r chi.Router, method, pattern, op string, h opHandler) {
	kind, ok := registry.KindOf(op)
	if !ok {
		panic(fmt.Sprintf("server: unknown operation %q", op))
	}
	r.Method(method, pattern, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		w.Header().Set("X-Operation", op)
		w.Header().Set("X-Operation-Kind", string(kind))

		status, payload, err := s.serve(req, kind, h)
		if err != nil {
			status = statusFor(err)
			payload = map[string]string{"error": err.Error()}
		}
		writeJSON(w, status, payload)

		elapsed := time.Since(start)
		if s.metrics != nil {
			s.metrics.ObserveOperation(op, string(kind), elapsed, err == nil)
		}
		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		s.logger.Log(req.Context(), level, "request",
			"op", op,
			"kind", kind,
			"status", status,
			"duration", elapsed,
			"request_id", middleware.GetReqID(req.Context()),
		)
	}))
}

func (s *Server) serve(req *http.Request, kind registry.Kind, h opHandler) (int, any, error) {
	ctx, err := s.identify(req.Context(), req.Header.Get("Authorization"), kind == registry.KindUpdate)
	if err != nil {
		return 0, nil, err
	}
	return h(req.WithContext(ctx))
}

// ─────────────────────────────────────────────────────────────────────────────
// Auth
// ─────────────────────────────────────────────────────────────────────────────

var (
	errMissingToken = errors.New("missing_token")
	errInvalidToken = errors.New("invalid_token")
)

// identify attaches the token's caller to ctx. A missing token is only an
// error when required.
func (s *Server) identify(ctx context.Context, header string, required bool) (context.Context, error) {
	token := bearerToken(header)
	if token == "" {
		if required {
			return ctx, errMissingToken
		}
		return ctx, nil
	}
	claims, err := auth.ParseToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, token)
	if err != nil {
		return ctx, errInvalidToken
	}
	return registry.WithCaller(ctx, claims.Caller()), nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Handlers
// ─────────────────────────────────────────────────────────────────────────────

func (s *Server) handleCreate(r *http.Request) (int, any, error) {
	var p models.CreateStudentParams
	if err := decodeJSON(r, &p); err != nil {
		return 0, nil, err
	}
	st, err := s.reg.Create(r.Context(), p)
	return http.StatusCreated, st, err
}

func (s *Server) handleGetAll(r *http.Request) (int, any, error) {
	students, err := s.reg.GetAll(r.Context())
	return http.StatusOK, students, err
}

func (s *Server) handleCount(r *http.Request) (int, any, error) {
	n, err := s.reg.Count(r.Context())
	return http.StatusOK, map[string]int64{"count": n}, err
}

func (s *Server) handleAverageAge(r *http.Request) (int, any, error) {
	avg, err := s.reg.AverageAge(r.Context())
	return http.StatusOK, map[string]float64{"averageAge": avg}, err
}

func (s *Server) handleGetByName(r *http.Request) (int, any, error) {
	st, err := s.reg.GetByName(r.Context(), urlParam(r, "name"))
	return http.StatusOK, st, err
}

func (s *Server) filterBy(param string, fn func(context.Context, string) ([]*models.Student, error)) opHandler {
	return func(r *http.Request) (int, any, error) {
		students, err := fn(r.Context(), urlParam(r, param))
		return http.StatusOK, students, err
	}
}

func (s *Server) handleGetByAge(r *http.Request) (int, any, error) {
	age, err := strconv.Atoi(urlParam(r, "age"))
	if err != nil {
		return 0, nil, badRequest("age must be an integer")
	}
	students, err := s.reg.GetByAge(r.Context(), age)
	return http.StatusOK, students, err
}

func (s *Server) handleGetByID(r *http.Request) (int, any, error) {
	st, err := s.reg.GetByID(r.Context(), urlParam(r, "id"))
	return http.StatusOK, st, err
}

func (s *Server) handleUpdate(r *http.Request) (int, any, error) {
	var p models.UpdateStudentParams
	if err := decodeJSON(r, &p); err != nil {
		return 0, nil, err
	}
	st, err := s.reg.Update(r.Context(), urlParam(r, "id"), p)
	return http.StatusOK, st, err
}

func (s *Server) handleDelete(r *http.Request) (int, any, error) {
	st, err := s.reg.Delete(r.Context(), urlParam(r, "id"))
	return http.StatusOK, st, err
}

type courseRequest struct {
	Course *string `json:"course"`
}

func (s *Server) handleUpdateCourse(r *http.Request) (int, any, error) {
	var body courseRequest
	if err := decodeJSON(r, &body); err != nil {
		return 0, nil, err
	}
	if body.Course == nil {
		return 0, nil, badRequest("course is required")
	}
	st, err := s.reg.UpdateCourse(r.Context(), urlParam(r, "id"), *body.Course)
	return http.StatusOK, st, err
}

func (s *Server) handleGetParent(r *http.Request) (int, any, error) {
	parent, err := s.reg.GetParent(r.Context(), urlParam(r, "id"))
	return http.StatusOK, map[string]string{"parent": parent}, err
}

func (s *Server) handleExists(r *http.Request) (int, any, error) {
	ok, err := s.reg.Exists(r.Context(), urlParam(r, "id"))
	return http.StatusOK, map[string]bool{"exists": ok}, err
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

type badRequestError struct{ msg string }

func (e *badRequestError) Error() string { return e.msg }

func badRequest(msg string) error { return &badRequestError{msg: msg} }

func statusFor(err error) int {
	var bad *badRequestError
	switch {
	case errors.As(err, &bad):
		return http.StatusBadRequest
	case errors.Is(err, errMissingToken), errors.Is(err, errInvalidToken):
		return http.StatusUnauthorized
	case registry.IsNotFound(err), errors.Is(err, registry.ErrNoStudents):
		return http.StatusNotFound
	case db.IsUnavailable(err):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// urlParam returns a decoded path parameter. chi matches on RawPath when the
// request has one, and those values are still escaped.
func urlParam(r *http.Request, key string) string {
	v := chi.URLParam(r, key)
	if r.URL.RawPath == "" {
		return v
	}
	if decoded, err := url.PathUnescape(v); err == nil {
		return decoded
	}
	return v
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// decodeJSON accepts unknown fields: system fields such as id or parent
// may be present in a payload and are ignored.
func decodeJSON(r *http.Request, out interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return badRequest("invalid_json")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
