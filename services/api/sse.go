package api

import (
	"fmt"
	"net/http"
	"time"

	"messmate/pkg/apperr"
)

// stream relays broker events on topic as server-sent events until the
// client goes away. A comment line keeps idle connections open.
func (a *API) stream(topic string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		events, err := a.svc.Broker.Subscribe(ctx, topic)
		if err != nil {
			a.respondError(w, r, apperr.Wrap(apperr.Upstream, err, "event stream unavailable"))
			return
		}

		rc := http.NewResponseController(w)
		// Streams outlive the server write timeout.
		_ = rc.SetWriteDeadline(time.Time{})

		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
			return
		}
		if err := rc.Flush(); err != nil {
			a.log.Warn().Err(err).Msg("event stream cannot flush")
			return
		}

		keepalive := time.NewTicker(a.cfg.KeepAlive)
		defer keepalive.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case data, ok := <-events:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
					return
				}
			case <-keepalive.C:
				if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
					return
				}
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}
