// Package httpapi exposes the lookup pipeline over HTTP. One endpoint
// does the work; everything else is plumbing around it.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ipsleuth/ipsleuth/internal"
	"github.com/ipsleuth/ipsleuth/lib/extract"
	"github.com/ipsleuth/ipsleuth/lib/fault"
)

// Runner is the part of the pipeline the API needs.
type Runner interface {
	Run(ctx context.Context, target string, forceRefresh bool) (*extract.Record, error)
}

// Options configures the API server.
type Options struct {
	Pipeline Runner

	// BearerToken, when set, gates /query behind a static bearer token.
	BearerToken string

	// HS512Secret, when set, additionally accepts HS512-signed JWTs as
	// bearer tokens. Either credential form unlocks the endpoint.
	HS512Secret []byte
}

type Server struct {
	opts Options
	mux  *http.ServeMux
}

func New(opts Options) *Server {
	s := &Server{opts: opts, mux: http.NewServeMux()}

	s.mux.HandleFunc("GET /query", s.handleQuery)
	s.mux.HandleFunc("POST /query", s.handleQuery)
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)

	return s
}

// Handler returns the API wrapped in response compression.
func (s *Server) Handler() http.Handler {
	return internal.GzipMiddleware(1, s.mux)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("OK"))
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)

	if !s.authorized(r) {
		lg.Debug("query refused, missing or invalid bearer credential")
		respondError(w, http.StatusUnauthorized, "authorization required")
		return
	}

	target := r.FormValue("ip")
	forceRefresh, _ := strconv.ParseBool(r.FormValue("force_refresh"))

	rec, err := s.opts.Pipeline.Run(r.Context(), target, forceRefresh)
	if err != nil {
		status, message := classify(err)
		lg.Info("lookup failed", "target", target, "status", status, "err", err)
		respondError(w, status, message)
		return
	}

	lg.Debug("lookup succeeded", "target", target, "ip", rec.IP)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(rec); err != nil {
		lg.Error("can't encode record", "err", err)
	}
}

// classify maps a pipeline failure onto the response status. Known
// upstream statuses pass through so a caller can tell a rate limit from
// an outage; failures on our side of the wire read as a bad gateway.
func classify(err error) (int, string) {
	var ferr *fault.Error
	if !errors.As(err, &ferr) {
		return http.StatusInternalServerError, "internal error"
	}

	if ferr.StatusCode != 0 {
		return ferr.StatusCode, ferr.Message
	}

	switch ferr.Code {
	case fault.EmptyResult:
		return http.StatusNotFound, ferr.Message
	case fault.MissingParameters, fault.ScriptUnavailable, fault.IncompleteCredentials, fault.UnrecognizedPage:
		return http.StatusBadGateway, ferr.Message
	case fault.TransportTimeout:
		return http.StatusGatewayTimeout, ferr.Message
	case fault.TransportRefused, fault.TransportUnreachable, fault.TlsFailure, fault.DnsFailure:
		return http.StatusBadGateway, ferr.Message
	default:
		return http.StatusInternalServerError, ferr.Message
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"message": message,
		"status":  status,
	})
}
