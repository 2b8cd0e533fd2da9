package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/credsync/internal/interfaces"
	"github.com/ternarybob/credsync/internal/models"
	"github.com/ternarybob/credsync/internal/services/credentials"
	"github.com/ternarybob/credsync/internal/services/reconcile"
)

// Message types accepted by the message contract
const (
	MsgGetCookies       = "GET_COOKIES"
	MsgGetCSRFToken     = "GET_CSRF_TOKEN"
	MsgGetJWTTokens     = "GET_JWT_TOKENS"
	MsgFetchCookiesNow  = "FETCH_COOKIES_NOW"
	MsgGetTokenInfo     = "GET_TOKEN_INFO"
	MsgGetLinks         = "GET_LINKS"
	MsgGetAuthMethods   = "GET_AUTH_METHODS"
	MsgSync             = "SYNC"
	MsgCreate           = "CREATE"
	MsgLink             = "LINK"
	MsgUnlink           = "UNLINK"
	MsgSweep            = "SWEEP"
	MsgDeleteAuthMethod = "DELETE_AUTH_METHOD"
	MsgGetSession       = "GET_SESSION"
	MsgLogin            = "LOGIN"
	MsgLogout           = "LOGOUT"
	MsgGetJobs          = "GET_JOBS"
	MsgRunJob           = "RUN_JOB"
	MsgEnableJob        = "ENABLE_JOB"
	MsgDisableJob       = "DISABLE_JOB"
)

// Message is an inbound request. ID is echoed back for correlation.
type Message struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Reply answers exactly one Message
type Reply struct {
	ID    string      `json:"id,omitempty"`
	Type  string      `json:"type"`
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type domainPayload struct {
	Domain string `json:"domain"`
}

type platformPayload struct {
	Platform string `json:"platform" validate:"required"`
}

type syncPayload struct {
	Platform string `json:"platform" validate:"required"`
	Token    string `json:"token"`
	LinkedID int64  `json:"linked_id" validate:"gte=0"`
}

type linkPayload struct {
	Platform string `json:"platform" validate:"required"`
	ID       int64  `json:"id" validate:"gt=0"`
}

type jobPayload struct {
	Name string `json:"name" validate:"required"`
}

type refreshPayload struct {
	Refresh bool `json:"refresh"`
}

// ProfileCache is reset when the signed-in user changes
type ProfileCache interface {
	Reset()
}

// MessageHandler dispatches the message contract onto the services.
// capture, profiles and jobs may be nil.
type MessageHandler struct {
	creds    interfaces.CredentialStore
	capture  interfaces.CaptureService
	engine   *reconcile.Engine
	sessions interfaces.SessionClient
	profiles ProfileCache
	jobs     interfaces.SchedulerService
	validate *validator.Validate
	logger   arbor.ILogger
	now      func() time.Time
}

// NewMessageHandler creates a new MessageHandler
func NewMessageHandler(
	creds interfaces.CredentialStore,
	capture interfaces.CaptureService,
	engine *reconcile.Engine,
	sessions interfaces.SessionClient,
	profiles ProfileCache,
	jobs interfaces.SchedulerService,
	logger arbor.ILogger,
) *MessageHandler {
	return &MessageHandler{
		creds:    creds,
		capture:  capture,
		engine:   engine,
		sessions: sessions,
		profiles: profiles,
		jobs:     jobs,
		validate: validator.New(),
		logger:   logger,
		now:      time.Now,
	}
}

// HandleMessage handles POST /api/messages
func (h *MessageHandler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var msg Message
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&msg); err != nil {
		WriteJSON(w, http.StatusBadRequest, Reply{Error: "invalid message: " + err.Error()})
		return
	}

	reply := h.Dispatch(r.Context(), msg)
	WriteJSON(w, http.StatusOK, reply)
}

// Dispatch handles one message. Every message gets exactly one reply;
// failures are reported in Reply.Error.
func (h *MessageHandler) Dispatch(ctx context.Context, msg Message) Reply {
	data, err := h.dispatch(ctx, msg)
	reply := Reply{ID: msg.ID, Type: msg.Type}
	if err != nil {
		reply.Error = err.Error()
		h.logger.Debug().Err(err).Str("type", msg.Type).Msg("Message failed")
		return reply
	}
	reply.OK = true
	reply.Data = data
	return reply
}

func (h *MessageHandler) dispatch(ctx context.Context, msg Message) (interface{}, error) {
	switch msg.Type {
	case MsgGetCookies:
		var p domainPayload
		if err := h.decode(msg, &p); err != nil {
			return nil, err
		}
		if p.Domain != "" {
			cookies, err := h.creds.Cookies(ctx, p.Domain)
			if err != nil {
				return nil, err
			}
			if cookies == nil {
				cookies = []models.Cookie{}
			}
			return cookies, nil
		}
		return h.creds.AllCookies(ctx)

	case MsgGetCSRFToken:
		token, err := h.creds.CSRFToken(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]string{"csrfToken": token}, nil

	case MsgGetJWTTokens:
		return h.creds.Tokens(ctx)

	case MsgFetchCookiesNow:
		if h.capture == nil {
			return nil, models.ErrCaptureUnavailable
		}
		return h.capture.FetchNow(ctx)

	case MsgGetTokenInfo:
		return h.tokenInfo(ctx)

	case MsgGetLinks:
		return h.engine.Links(ctx)

	case MsgGetAuthMethods:
		var p refreshPayload
		if err := h.decode(msg, &p); err != nil {
			return nil, err
		}
		methods, err := h.engine.AuthMethods(ctx, p.Refresh)
		if err != nil {
			return nil, err
		}
		if methods == nil {
			methods = []models.RemoteAuthMethod{}
		}
		return methods, nil

	case MsgSync, MsgCreate:
		var p syncPayload
		if err := h.decode(msg, &p); err != nil {
			return nil, err
		}
		allowCreate := msg.Type == MsgCreate
		platform := models.Platform(p.Platform)
		if p.Token == "" && p.LinkedID == 0 {
			return h.engine.SyncCaptured(ctx, platform, allowCreate), nil
		}
		token := p.Token
		if token == "" {
			parsed, err := models.ParsePlatform(p.Platform)
			if err != nil {
				return nil, err
			}
			if token, err = h.creds.Credential(ctx, parsed); err != nil {
				return nil, err
			}
		}
		return h.engine.Sync(ctx, models.SyncRequest{
			Platform:    platform,
			Token:       token,
			LinkedID:    p.LinkedID,
			AllowCreate: allowCreate,
		}), nil

	case MsgLink:
		var p linkPayload
		if err := h.decode(msg, &p); err != nil {
			return nil, err
		}
		if err := h.engine.Link(ctx, models.Platform(p.Platform), p.ID); err != nil {
			return nil, err
		}
		return h.engine.Links(ctx)

	case MsgUnlink:
		var p platformPayload
		if err := h.decode(msg, &p); err != nil {
			return nil, err
		}
		if err := h.engine.Unlink(ctx, models.Platform(p.Platform)); err != nil {
			return nil, err
		}
		return h.engine.Links(ctx)

	case MsgSweep:
		return h.engine.Sweep(ctx)

	case MsgDeleteAuthMethod:
		var p linkPayload
		if err := h.decode(msg, &p); err != nil {
			return nil, err
		}
		if err := h.engine.DeleteAuthMethod(ctx, p.ID, models.Platform(p.Platform)); err != nil {
			return nil, err
		}
		return map[string]int64{"deleted": p.ID}, nil

	case MsgGetSession:
		session, err := h.sessions.Session(ctx)
		if err != nil {
			if errors.Is(err, models.ErrNoSession) {
				return map[string]interface{}{"authenticated": false}, nil
			}
			return nil, err
		}
		return map[string]interface{}{"authenticated": true, "user": session.User}, nil

	case MsgLogin:
		var p models.LoginCredentials
		if err := h.decode(msg, &p); err != nil {
			return nil, err
		}
		if err := h.sessions.Login(ctx, p); err != nil {
			return nil, err
		}
		h.resetProfile()
		profile, err := h.engine.Profile(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"authenticated": true, "profile": profile}, nil

	case MsgLogout:
		if err := h.sessions.Logout(ctx); err != nil {
			return nil, err
		}
		h.resetProfile()
		return map[string]interface{}{"authenticated": false}, nil

	case MsgGetJobs:
		if h.jobs == nil {
			return nil, errNoScheduler
		}
		return map[string]interface{}{
			"running": h.jobs.IsRunning(),
			"jobs":    h.jobs.GetAllJobStatuses(),
		}, nil

	case MsgRunJob, MsgEnableJob, MsgDisableJob:
		if h.jobs == nil {
			return nil, errNoScheduler
		}
		var p jobPayload
		if err := h.decode(msg, &p); err != nil {
			return nil, err
		}
		return h.controlJob(ctx, msg.Type, p.Name)

	default:
		return nil, fmt.Errorf("unknown message type %q", msg.Type)
	}
}

var errNoScheduler = errors.New("background jobs are not available")

// controlJob applies a job control message and returns the job's status
func (h *MessageHandler) controlJob(ctx context.Context, msgType, name string) (*interfaces.JobStatus, error) {
	var err error
	switch msgType {
	case MsgRunJob:
		err = h.jobs.RunNow(ctx, name)
	case MsgEnableJob:
		err = h.jobs.EnableJob(name)
	case MsgDisableJob:
		err = h.jobs.DisableJob(name)
	}
	if err != nil {
		return nil, err
	}
	return h.jobs.GetJobStatus(name)
}

// tokenInfo describes every stored derived token
func (h *MessageHandler) tokenInfo(ctx context.Context) ([]models.TokenInfo, error) {
	infos := make([]models.TokenInfo, 0, len(models.AllPlatforms))
	now := h.now()
	for _, platform := range models.AllPlatforms {
		token, err := h.creds.Token(ctx, platform)
		if err != nil {
			return nil, err
		}
		if token == "" {
			continue
		}
		infos = append(infos, credentials.InspectToken(platform, token, now))
	}
	return infos, nil
}

func (h *MessageHandler) decode(msg Message, out interface{}) error {
	if len(msg.Payload) > 0 && string(msg.Payload) != "null" {
		if err := json.Unmarshal(msg.Payload, out); err != nil {
			return fmt.Errorf("invalid %s payload: %w", msg.Type, err)
		}
	}
	if err := h.validate.Struct(out); err != nil {
		return fmt.Errorf("invalid %s payload: %w", msg.Type, err)
	}
	return nil
}

func (h *MessageHandler) resetProfile() {
	if h.profiles != nil {
		h.profiles.Reset()
	}
}
