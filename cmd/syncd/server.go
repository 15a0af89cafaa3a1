// Local HTTP API for the UI and the syncd CLI subcommands.
package main

import (
	"encoding/json"
	"net/http"

	"github.com/converso-app/backend/internal/logging"
	syncpkg "github.com/converso-app/backend/internal/sync"
)

// newAPIServer builds the loopback HTTP server: health and status for the
// UI/CLI, retry and resume actions, and the websocket event stream.
func newAPIServer(addr string, coord *syncpkg.Coordinator, hub *WSHub) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","service":"converso-syncd"}`))
	})

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(coord.Status()); err != nil {
			logging.Error("Failed to encode status", err, nil)
		}
	})

	mux.HandleFunc("/api/retry", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := coord.ForceSync(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/api/resume", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		coord.Resume()
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/ws", HandleWebSocket(hub))

	return &http.Server{Addr: addr, Handler: mux}
}
