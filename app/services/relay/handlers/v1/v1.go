// Package v1 contains the full set of handler functions and routes
// supported by the v1 web api.
package v1

import (
	"net/http"

	"github.com/blocksprint/relay/app/services/relay/handlers/v1/public"
	"github.com/blocksprint/relay/foundation/events"
	"github.com/blocksprint/relay/foundation/relay/channel"
	"github.com/blocksprint/relay/foundation/web"
	"go.uber.org/zap"
)

const version = "v1"

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Log     *zap.SugaredLogger
	Channel *channel.Channel
	Evts    *events.Events
}

// PublicRoutes binds all the version 1 public routes.
func PublicRoutes(app *web.App, cfg Config) {
	pbl := public.Handlers{
		Log:     cfg.Log,
		Channel: cfg.Channel,
		Evts:    cfg.Evts,
	}

	app.Handle(http.MethodGet, version, "/entropy", pbl.Entropy)
	app.Handle(http.MethodGet, version, "/status", pbl.Status)
	app.Handle(http.MethodGet, version, "/health/:host", pbl.Health)
	app.Handle(http.MethodGet, version, "/events", pbl.Events)
}
