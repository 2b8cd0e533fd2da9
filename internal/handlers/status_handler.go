package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/credsync/internal/common"
	"github.com/ternarybob/credsync/internal/interfaces"
	"github.com/ternarybob/credsync/internal/services/reconcile"
)

// Status is the GET /api/status body
type Status struct {
	Status    string                           `json:"status"`
	Version   string                           `json:"version"`
	Profile   string                           `json:"profile"`
	Capture   bool                             `json:"capture"`
	Backend   string                           `json:"backend"`
	Uptime    string                           `json:"uptime"`
	WSClients int                              `json:"ws_clients"`
	Scheduler bool                             `json:"scheduler_running"`
	Jobs      map[string]*interfaces.JobStatus `json:"jobs,omitempty"`
}

// StatusHandler handles HTTP requests for application status
type StatusHandler struct {
	engine    *reconcile.Engine
	scheduler interfaces.SchedulerService
	ws        *WebSocketHandler
	capture   bool
	backend   string
	started   time.Time
	logger    arbor.ILogger
}

// NewStatusHandler creates a new StatusHandler. scheduler and ws may be nil.
func NewStatusHandler(engine *reconcile.Engine, scheduler interfaces.SchedulerService, ws *WebSocketHandler, capture bool, backend string, logger arbor.ILogger) *StatusHandler {
	return &StatusHandler{
		engine:    engine,
		scheduler: scheduler,
		ws:        ws,
		capture:   capture,
		backend:   backend,
		started:   time.Now(),
		logger:    logger,
	}
}

// GetStatusHandler handles GET /api/status
func (h *StatusHandler) GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	profile, err := h.engine.Profile(r.Context())
	if err != nil {
		h.logger.Debug().Err(err).Msg("Status without a resolved profile")
	}

	status := Status{
		Status:  "ok",
		Version: common.GetVersion(),
		Profile: profile,
		Capture: h.capture,
		Backend: h.backend,
		Uptime:  time.Since(h.started).Truncate(time.Second).String(),
	}
	if h.ws != nil {
		status.WSClients = h.ws.ClientCount()
	}
	if h.scheduler != nil {
		status.Scheduler = h.scheduler.IsRunning()
		status.Jobs = h.scheduler.GetAllJobStatuses()
	}

	WriteJSON(w, http.StatusOK, status)
}
