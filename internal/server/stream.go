package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"
)

// registerStream mounts the SSE notification feed. It lives outside huma
// because the response is a long-lived event stream, not a JSON body.
//
// Each connection joins its team's room plus the shared observer room, so a
// team sees both its own handoffs and the cross-team component updates.
func registerStream(router chi.Router, basePath string, cfg Config) {
	shared := "decoration"
	source := "source"
	if ec := cfg.Engine.Config; ec != nil {
		if ec.Rooms.Shared != "" {
			shared = ec.Rooms.Shared
		}
		if ec.Rooms.Source != "" {
			source = ec.Rooms.Source
		}
	}

	router.Get(path.Join(basePath, "stream"), func(w http.ResponseWriter, r *http.Request) {
		p, ok := principalFromContext(r.Context())
		if !ok || p.Team == "" {
			writeAuthError(w, "authentication required")
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		rooms := []string{p.Team, shared}
		if p.Team == source {
			rooms = []string{source, shared}
		}
		sub := cfg.Hub.Subscribe(rooms...)
		defer sub.Close()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case n, ok := <-sub.C:
				if !ok {
					// Dropped as a slow consumer; the client reconnects.
					return
				}
				data, err := json.Marshal(map[string]any{
					"room":    n.Room,
					"payload": n.Payload,
				})
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", n.Event, data)
				flusher.Flush()
			}
		}
	})
}
