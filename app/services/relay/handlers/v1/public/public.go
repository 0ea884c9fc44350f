// Package public maintains the group of handlers for public access.
package public

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/blocksprint/relay/business/sys/metrics"
	"github.com/blocksprint/relay/business/sys/validate"
	v1 "github.com/blocksprint/relay/business/web/v1"
	"github.com/blocksprint/relay/foundation/events"
	"github.com/blocksprint/relay/foundation/relay/channel"
	"github.com/blocksprint/relay/foundation/relay/entropy"
	"github.com/blocksprint/relay/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handlers manages the set of public endpoints.
type Handlers struct {
	Log     *zap.SugaredLogger
	Channel *channel.Channel
	WS      websocket.Upgrader
	Evts    *events.Events
}

// Entropy serves mixed entropy at the requested tier and length.
func (h Handlers) Entropy(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	req := entropyRequest{
		Tier:   r.URL.Query().Get("tier"),
		Length: 32,
	}
	if l := r.URL.Query().Get("length"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil {
			return v1.NewRequestError(errors.New("length must be an integer"), http.StatusBadRequest)
		}
		req.Length = n
	}
	if err := validate.Check(req); err != nil {
		return err
	}

	tier := entropy.TierFast
	if req.Tier != "" {
		t, ok := entropy.ParseTier(req.Tier)
		if !ok {
			return v1.NewRequestError(errors.New("unknown tier"), http.StatusBadRequest)
		}
		tier = t
	}

	res, err := h.Channel.Entropy(ctx, tier, req.Length)
	if err != nil {
		switch {
		case errors.Is(err, entropy.ErrLength):
			return v1.NewRequestError(err, http.StatusBadRequest)
		case errors.Is(err, entropy.ErrUnavailable):
			return v1.NewRequestError(err, http.StatusServiceUnavailable)
		}
		return err
	}

	metrics.EntropySourcesActive.Set(float64(res.SourcesActive))
	metrics.EntropyQuality.WithLabelValues(res.Served.String()).Set(float64(res.Quality))
	if res.Served < res.Requested {
		metrics.EntropyDowngrades.WithLabelValues(res.Requested.String(), res.Served.String()).Inc()
	}

	resp := entropyResponse{
		Bytes:     hex.EncodeToString(res.Bytes),
		Requested: res.Requested.String(),
		Served:    res.Served.String(),
		Quality:   res.Quality,
		Sources:   res.SourcesActive,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Status returns the pool and breaker overview.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	stats := h.Channel.PoolStats()

	resp := statusResponse{
		Live:  stats.Live,
		InUse: stats.InUse,
		Idle:  stats.Idle,
	}

	for _, ep := range h.Channel.Endpoints() {
		snap := h.Channel.Health(ep)
		resp.Endpoints = append(resp.Endpoints, endpointStatus{
			Endpoint:    ep.String(),
			Breaker:     h.Channel.BreakerState(ep).String(),
			P50:         snap.P50,
			P95:         snap.P95,
			P99:         snap.P99,
			ErrorRate:   snap.ErrorRate,
			SampleCount: snap.SampleCount,
		})
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Health returns the rolling statistics for one endpoint.
func (h Handlers) Health(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	host := web.Param(r, "host")

	for _, ep := range h.Channel.Endpoints() {
		if !ep.Match(host) {
			continue
		}

		snap := h.Channel.Health(ep)
		resp := endpointStatus{
			Endpoint:    ep.String(),
			Breaker:     h.Channel.BreakerState(ep).String(),
			P50:         snap.P50,
			P95:         snap.P95,
			P99:         snap.P99,
			ErrorRate:   snap.ErrorRate,
			SampleCount: snap.SampleCount,
		}
		return web.Respond(ctx, w, resp, http.StatusOK)
	}

	return v1.NewRequestError(errors.New("endpoint not configured"), http.StatusNotFound)
}

// Events handles a web socket to provide events to a client.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	ch := h.Evts.Acquire(v.TraceID)
	defer h.Evts.Release(v.TraceID)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, wd := <-ch:
			if !wd {
				return nil
			}

			if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return err
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}
