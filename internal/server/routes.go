package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Message contract
	mux.HandleFunc("/api/messages", s.app.MessageHandler.HandleMessage) // POST
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	mux.HandleFunc("/api/status", s.app.StatusHandler.GetStatusHandler) // GET

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return mux
}
