package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/roniherschmann/go-pulse/internal/auth"
	"github.com/roniherschmann/go-pulse/internal/config"
	"github.com/roniherschmann/go-pulse/internal/core"
	"github.com/roniherschmann/go-pulse/internal/domain"
	"github.com/roniherschmann/go-pulse/internal/metrics"
	"github.com/roniherschmann/go-pulse/internal/ratelimit"
)

// SourceHeader names the data source that answered a metric query.
const SourceHeader = "X-Pulse-Source"

type Router struct {
	cfg     config.Config
	svc     *core.Service
	limiter ratelimit.Admitter
	authz   *auth.Authorizer
}

func NewRouter(cfg config.Config, svc *core.Service, limiter ratelimit.Admitter, authz *auth.Authorizer) http.Handler {
	// Validate rejects malformed entries at startup.
	trusted, _ := cfg.TrustedPrefixes()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(realIP(trusted))
	r.Use(hlog.NewHandler(log.Logger))
	r.Use(hlog.RequestIDHandler("req_id", "Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", dur).
			Msg("request")
	}))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	api := &Router{
		cfg:     cfg,
		svc:     svc,
		limiter: limiter,
		authz:   authz,
	}

	r.MethodFunc(http.MethodGet, "/healthz", api.handleHealth)
	r.MethodFunc(http.MethodGet, "/readyz", api.handleReady)
	r.MethodFunc(http.MethodGet, "/metrics", metrics.Handler)

	r.Route("/api/v1", func(r chi.Router) {
		r.With(
			api.cors,
			allowMethods(http.MethodPost),
			api.admit("ingest", cfg.IngestLimit, cfg.IngestWindow, clientIP),
		).HandleFunc("/events", api.handleEvents)

		r.With(
			api.cors,
			allowMethods(http.MethodGet, http.MethodPost),
			api.admit("query", cfg.QueryLimit, cfg.QueryWindow, clientIP),
			api.authenticate,
			api.admit("query_subject", cfg.QueryLimit, cfg.QueryWindow, subject),
		).HandleFunc("/metrics", api.handleMetrics)
	})

	return r
}

type ingestResp struct {
	OK       bool `json:"ok"`
	Inserted int  `json:"insertedCount"`
}

func (rt *Router) handleEvents(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, rt.cfg.MaxBodyBytes)

	var body domain.Value
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, errorResp{Error: "request body too large", Kind: domain.KindValidation}, http.StatusRequestEntityTooLarge)
			return
		}
		writeError(w, r, domain.ValidationError("invalid json"))
		return
	}

	items, ok := eventItems(body)
	if !ok {
		writeError(w, r, domain.ValidationError("expected an array of events"))
		return
	}

	n := rt.svc.Ingest(r.Context(), items)
	writeJSON(w, ingestResp{OK: true, Inserted: n}, http.StatusOK)
}

// eventItems accepts either a bare array or {"events": [...]}.
func eventItems(body domain.Value) ([]domain.Value, bool) {
	if items, ok := body.AsList(); ok {
		return items, true
	}
	if ev, ok := body.Get("events"); ok {
		return ev.AsList()
	}
	return nil, false
}

type metricsReq struct {
	Metric string `json:"metric"`
	Days   any    `json:"days"`
	Page   any    `json:"page"`
	Limit  any    `json:"limit"`
}

type metricsResp struct {
	Metric domain.Metric `json:"metric"`
	Days   int           `json:"days"`
	Page   string        `json:"page,omitempty"`
	Rows   []domain.Row  `json:"rows"`
}

func (rt *Router) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var req metricsReq
	if r.Method == http.MethodPost {
		r.Body = http.MaxBytesReader(w, r.Body, rt.cfg.MaxBodyBytes)
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&req); err != nil {
			writeError(w, r, domain.ValidationError("invalid json"))
			return
		}
	} else {
		qs := r.URL.Query()
		req = metricsReq{
			Metric: qs.Get("metric"),
			Days:   qs.Get("days"),
			Page:   qs.Get("page"),
			Limit:  qs.Get("limit"),
		}
	}

	q := domain.Query{
		Metric: domain.Metric(strings.TrimSpace(req.Metric)),
		Days:   domain.ParseDays(scalarText(req.Days)),
		Page:   domain.ParsePage(pageText(req.Page)),
		Limit:  domain.ParseLimit(scalarText(req.Limit)),
	}

	res, err := rt.svc.Query(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := metricsResp{Metric: q.Metric, Days: q.Days, Rows: res.Rows}
	if q.Metric == domain.MetricHeatmap {
		resp.Page = q.Page
	}
	w.Header().Set(SourceHeader, res.Source)
	writeJSON(w, resp, http.StatusOK)
}

// scalarText renders a JSON number or string for the lenient integer parsers.
func scalarText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

func pageText(v any) string {
	s, _ := v.(string)
	return s
}

func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (rt *Router) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), rt.cfg.DBOpTimeout)
	defer cancel()
	if err := rt.svc.Ready(ctx); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("readiness check failed")
		http.Error(w, "datastore unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}

type errorResp struct {
	Error string           `json:"error"`
	Kind  domain.ErrorKind `json:"kind"`
}

// writeError renders err with its stable message. Errors that are not a
// *domain.Error are logged and reported as internal.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var de *domain.Error
	if !errors.As(err, &de) {
		hlog.FromRequest(r).Error().Err(err).Msg("request failed")
		writeJSON(w, errorResp{Error: "internal error", Kind: domain.KindInternal}, http.StatusInternalServerError)
		return
	}
	writeJSON(w, errorResp{Error: de.Message, Kind: de.Kind}, statusFor(de.Kind))
}

func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindAuthorization:
		return http.StatusUnauthorized
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindAdmissionRejected:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// clientIP is the connection address, already rewritten by realIP when the
// request came through a trusted proxy.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// subject keys admission by the verified caller, falling back to the client
// address outside authenticate.
func subject(r *http.Request) string {
	if id, ok := auth.FromContext(r.Context()); ok {
		return "sub:" + id.Subject
	}
	return clientIP(r)
}
