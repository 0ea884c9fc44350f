package mid

import (
	"context"
	"net/http"

	"github.com/blocksprint/relay/business/sys/metrics"
	"github.com/blocksprint/relay/foundation/web"
)

// Metrics updates program counters for every request that flows through
// the application.
func Metrics() web.Middleware {

	// This is the actual middleware function to be executed.
	m := func(handler web.Handler) web.Handler {

		// Create the handler that will be attached in the middleware chain.
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			metrics.Requests.Inc()

			err := handler(ctx, w, r)
			if err != nil {
				metrics.Errors.Inc()
			}

			return err
		}

		return h
	}

	return m
}
