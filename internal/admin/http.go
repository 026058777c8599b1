// Package admin exposes a small operator-facing HTTP surface over the
// live runtime: registered service names, process-store occupancy, and
// a WebSocket upgrade path for peers that can't open a bare TCP socket.
// Grounded on the teacher's lp/delivery.go chi-routed handler,
// generalized from long-poll event delivery to a JSON status endpoint
// plus a ws/delivery.go-style upgrade-then-pump handler.
package admin

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/hearthspace/hearth/internal/conn"
	"github.com/hearthspace/hearth/internal/handle"
	"github.com/hearthspace/hearth/internal/registry"
)

// StoreStats is the /debug/store response shape.
type StoreStats struct {
	LiveEntries int `json:"live_entries"`
}

// ServicesResponse is the /debug/services response shape.
type ServicesResponse struct {
	Services []string `json:"services"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Router builds a chi router exposing the debug endpoints and, when
// onPeer is non-nil, a /peer/ws upgrade endpoint. store and reg are
// read-only from this package's perspective — admin never mutates the
// substrate, only observes it.
func Router(store *handle.Store, reg *registry.Registry, logger *slog.Logger, onPeer func(io.ReadWriteCloser)) http.Handler {
	r := chi.NewRouter()

	r.Get("/debug/services", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, ServicesResponse{Services: reg.List()})
	})

	r.Get("/debug/store", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, StoreStats{LiveEntries: store.Count()})
	})

	if onPeer != nil {
		r.Get("/peer/ws", func(w http.ResponseWriter, req *http.Request) {
			rwc, err := conn.Upgrade(w, req, upgrader)
			if err != nil {
				if logger != nil {
					logger.Warn("admin: websocket upgrade failed", slog.String("err", err.Error()))
				}
				return
			}
			onPeer(rwc)
		})
	}

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
