package runtime

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drblury/luaflow/internal/runtime/jsoncodec"
)

// StartWebUIServer registers the status API and, when enabled, the metrics
// endpoint on the web UI port. The server itself starts with Start.
func (s *Service) StartWebUIServer() {
	if !s.Conf.WebUIEnabled {
		return
	}

	port := s.Conf.Port()
	s.RegisterHTTPHandler(port, "/api/channels", http.HandlerFunc(s.handleGetChannels))
	s.RegisterHTTPHandler(port, "/api/channels/{name}", http.HandlerFunc(s.handleGetChannel))
	if s.Conf.MetricsEnabled {
		s.RegisterHTTPHandler(port, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

func (s *Service) handleGetChannels(w http.ResponseWriter, r *http.Request) {
	if s.preflight(w, r) {
		return
	}
	s.writeJSON(w, s.Status())
}

func (s *Service) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	if s.preflight(w, r) {
		return
	}
	l, err := s.Channel(r.PathValue("name"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	s.writeJSON(w, channelInfo(l, s.metrics))
}

// preflight sets the CORS headers and reports whether the request was a
// preflight that is fully answered.
func (s *Service) preflight(w http.ResponseWriter, r *http.Request) bool {
	if s.Conf != nil && len(s.Conf.WebUICORSAllowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		allowedOrigin := s.getAllowedCORSOrigin(origin)
		if allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
	}

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return true
	}
	return false
}

func (s *Service) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := jsoncodec.Encode(w, v); err != nil {
		s.Logger.Error("Failed to encode status", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// getAllowedCORSOrigin checks if the request origin is allowed and returns the appropriate
// Access-Control-Allow-Origin value.
func (s *Service) getAllowedCORSOrigin(requestOrigin string) string {
	if s.Conf == nil {
		return ""
	}
	for _, allowed := range s.Conf.WebUICORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
