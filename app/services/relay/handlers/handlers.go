// Package handlers manages the different versions of the API.
package handlers

import (
	"crypto/subtle"
	"expvar"
	"net/http"
	"net/http/pprof"
	"os"
	"strings"

	v1 "github.com/blocksprint/relay/app/services/relay/handlers/v1"
	"github.com/blocksprint/relay/business/sys/metrics"
	"github.com/blocksprint/relay/business/web/v1/mid"
	"github.com/blocksprint/relay/foundation/events"
	"github.com/blocksprint/relay/foundation/relay/channel"
	"github.com/blocksprint/relay/foundation/web"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MuxConfig contains all the mandatory systems required by handlers.
type MuxConfig struct {
	Shutdown chan os.Signal
	Log      *zap.SugaredLogger
	Channel  *channel.Channel
	Evts     *events.Events
}

// PublicMux constructs a http.Handler with all application routes defined.
func PublicMux(cfg MuxConfig) http.Handler {

	// Construct the web.App which holds all routes as well as common Middleware.
	app := web.NewApp(
		cfg.Shutdown,
		mid.Logger(cfg.Log),
		mid.Errors(cfg.Log),
		mid.Metrics(),
		mid.Cors("*"),
		mid.Panics(),
	)

	// Load the v1 routes.
	v1.PublicRoutes(app, v1.Config{
		Log:     cfg.Log,
		Channel: cfg.Channel,
		Evts:    cfg.Evts,
	})

	return app
}

// MetricsMux constructs a http.Handler serving the prometheus text
// exposition. The metrics surface is a separate trust boundary from the
// public API, so it carries its own bearer token check. Unauthenticated
// requests receive a 401 with no body.
func MetricsMux(token string, log *zap.SugaredLogger) http.Handler {
	exposition := promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		bearer, found := strings.CutPrefix(auth, "Bearer ")
		if !found || subtle.ConstantTimeCompare([]byte(bearer), []byte(token)) != 1 {
			log.Infow("metrics", "status", "unauthorized", "remoteaddr", r.RemoteAddr)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		exposition.ServeHTTP(w, r)
	})

	return mux
}

// DebugStandardLibraryMux registers all the debug routes from the standard
// library into a new mux bypassing the use of the DefaultServerMux. Using the
// DefaultServerMux would be a security risk since a dependency could inject a
// handler into our service without us knowing it.
func DebugStandardLibraryMux() *http.ServeMux {
	mux := http.NewServeMux()

	// Register all the standard library debug endpoints.
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/debug/vars", expvar.Handler())

	return mux
}

// DebugMux registers all the debug standard library routes and then custom
// debug application routes for the service.
func DebugMux(build string, log *zap.SugaredLogger) http.Handler {
	mux := DebugStandardLibraryMux()

	mux.HandleFunc("/debug/readiness", func(w http.ResponseWriter, r *http.Request) {
		status := struct {
			Status string `json:"status"`
		}{
			Status: "OK",
		}
		respondJSON(w, status)
	})

	mux.HandleFunc("/debug/liveness", func(w http.ResponseWriter, r *http.Request) {
		host, err := os.Hostname()
		if err != nil {
			host = "unavailable"
		}
		status := struct {
			Status string `json:"status"`
			Build  string `json:"build"`
			Host   string `json:"host"`
		}{
			Status: "up",
			Build:  build,
			Host:   host,
		}
		respondJSON(w, status)
	})

	return mux
}
