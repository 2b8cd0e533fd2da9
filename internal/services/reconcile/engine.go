// Package reconcile pushes captured credentials to the backend and keeps the
// local link state consistent with the backend's auth method list.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/credsync/internal/interfaces"
	"github.com/ternarybob/credsync/internal/models"
	"github.com/ternarybob/credsync/internal/services/authmethods"
)

const (
	msgNotLinked      = "Please link an auth method first"
	msgRateLimited    = "Too many requests, please wait a moment"
	msgMissingToken   = "No captured token for this platform"
	msgNetworkError   = "Could not reach the backend, please try again"
	msgSessionExpired = "Backend session expired, please sign in again"
	msgStorageError   = "Local link state is unavailable"
	msgIDUnrecovered  = "Created, but the new auth method could not be identified; link it manually"
)

// Config tunes the engine
type Config struct {
	DebounceWindow time.Duration
	CacheTTL       time.Duration
	CacheSize      int
	AdoptActive    bool
}

// Engine is the Reconciliation & Sync Engine. It never returns errors from
// Sync; every failure is a SyncResult outcome.
type Engine struct {
	client   interfaces.AuthMethodClient
	links    interfaces.LinkStore
	creds    interfaces.CredentialStore
	profiles interfaces.ProfileResolver
	events   interfaces.EventService
	logger   arbor.ILogger

	debounce    *Debouncer
	cache       *expirable.LRU[string, []models.RemoteAuthMethod]
	adoptActive bool
	validate    *validator.Validate

	pushedMu sync.Mutex
	pushed   map[models.Platform]string // last value pushed by auto-sync
}

// NewEngine creates an engine. events may be nil.
func NewEngine(
	client interfaces.AuthMethodClient,
	links interfaces.LinkStore,
	creds interfaces.CredentialStore,
	profiles interfaces.ProfileResolver,
	events interfaces.EventService,
	config Config,
	logger arbor.ILogger,
) *Engine {
	if config.CacheSize <= 0 {
		config.CacheSize = 16
	}
	return &Engine{
		client:      client,
		links:       links,
		creds:       creds,
		profiles:    profiles,
		events:      events,
		logger:      logger,
		debounce:    NewDebouncer(config.DebounceWindow),
		cache:       expirable.NewLRU[string, []models.RemoteAuthMethod](config.CacheSize, nil, config.CacheTTL),
		adoptActive: config.AdoptActive,
		validate:    validator.New(),
		pushed:      make(map[models.Platform]string),
	}
}

// Profile returns the active profile id
func (e *Engine) Profile(ctx context.Context) (string, error) {
	return e.profiles.Profile(ctx)
}

// Sync pushes req.Token to the backend: update when an id is resolvable,
// create only when req.AllowCreate is set.
func (e *Engine) Sync(ctx context.Context, req models.SyncRequest) models.SyncResult {
	result := models.SyncResult{Platform: req.Platform}

	if err := e.validate.Struct(req); err != nil {
		return fail(result, models.SyncOutcomeInvalid, err.Error())
	}
	platform, err := models.ParsePlatform(string(req.Platform))
	if err != nil {
		return fail(result, models.SyncOutcomeInvalid, err.Error())
	}
	result.Platform = platform

	if req.Token == "" {
		return fail(result, models.SyncOutcomeMissingToken, msgMissingToken)
	}

	profile, err := e.profiles.Profile(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Str("platform", platform.String()).Msg("Sync without a resolvable profile")
		return fail(result, models.SyncOutcomeNetworkError, msgNetworkError)
	}

	id := req.LinkedID
	if id == 0 {
		linked, ok, err := e.links.Get(ctx, profile, platform)
		if err != nil {
			e.logger.Error().Err(err).Str("platform", platform.String()).Msg("Failed to read link state")
			return fail(result, models.SyncOutcomeStorageError, msgStorageError)
		}
		if ok {
			id = linked
		}
	}

	if id == 0 && !req.AllowCreate {
		return fail(result, models.SyncOutcomeNotLinked, msgNotLinked)
	}

	if !e.debounce.TryAcquire("sync:" + platform.String()) {
		e.logger.Debug().Str("platform", platform.String()).Msg("Sync discarded inside debounce window")
		return fail(result, models.SyncOutcomeRateLimited, msgRateLimited)
	}

	if id != 0 {
		result = e.update(ctx, result, id, req.Token)
	} else {
		result = e.create(ctx, result, profile, req.Token)
	}

	e.publish(ctx, interfaces.EventSyncCompleted, map[string]interface{}{
		"platform":       platform.String(),
		"outcome":        string(result.Outcome),
		"auth_method_id": result.AuthMethodID,
		"created":        result.Created,
		"profile":        profile,
	})
	return result
}

func (e *Engine) update(ctx context.Context, result models.SyncResult, id int64, token string) models.SyncResult {
	if err := e.client.Update(ctx, id, result.Platform, token); err != nil {
		return e.remoteFailure(result, "update", err)
	}
	e.cache.Purge()

	e.logger.Info().Str("platform", result.Platform.String()).Int64("auth_method_id", id).Msg("Synced auth method")
	result.Success = true
	result.Outcome = models.SyncOutcomeOK
	result.AuthMethodID = id
	return result
}

func (e *Engine) create(ctx context.Context, result models.SyncResult, profile, token string) models.SyncResult {
	platform := result.Platform

	echoed, err := e.client.Create(ctx, platform, token)
	if err != nil {
		return e.remoteFailure(result, "create", err)
	}
	e.cache.Purge()

	result.Success = true
	result.Outcome = models.SyncOutcomeOK
	result.Created = true

	// Creation responses do not reliably carry the id; the list is authoritative.
	id := echoed
	methods, err := e.client.List(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Str("platform", platform.String()).Msg("Failed to re-list after create")
	} else {
		id = newestFor(methods, platform, echoed)
		e.cache.Add(profile, methods)
		e.prune(ctx, profile, methods)
	}

	if id == 0 {
		// Not retried: another create would provision a duplicate.
		result.Message = msgIDUnrecovered
		return result
	}

	result.AuthMethodID = id
	if err := e.links.Link(ctx, profile, platform, id); err != nil {
		e.logger.Error().Err(err).Str("platform", platform.String()).Int64("auth_method_id", id).Msg("Failed to record link after create")
		result.Message = msgIDUnrecovered
		return result
	}

	e.publish(ctx, interfaces.EventLinksChanged, map[string]interface{}{
		"platform": platform.String(),
		"profile":  profile,
	})
	return result
}

// newestFor picks the id to link after a create: the echoed id when the list
// confirms it, else the most recently created entry for platform.
func newestFor(methods []models.RemoteAuthMethod, platform models.Platform, echoed int64) int64 {
	var best *models.RemoteAuthMethod
	for i := range methods {
		m := &methods[i]
		if p, err := models.ParsePlatform(string(m.Platform)); err != nil || p != platform {
			continue
		}
		if echoed != 0 && m.ID == echoed {
			return echoed
		}
		if best == nil || m.CreatedAt > best.CreatedAt || (m.CreatedAt == best.CreatedAt && m.ID > best.ID) {
			best = m
		}
	}
	if best == nil {
		return echoed
	}
	return best.ID
}

func (e *Engine) remoteFailure(result models.SyncResult, op string, err error) models.SyncResult {
	log := e.logger.Warn().Err(err).Str("platform", result.Platform.String()).Str("operation", op)

	var rejected *authmethods.RemoteRejectedError
	switch {
	case errors.As(err, &rejected):
		log.Msg("Backend rejected sync")
		return fail(result, models.SyncOutcomeRemoteRejected, rejected.Message)
	case errors.Is(err, models.ErrNoSession):
		log.Msg("Sync failed without a backend session")
		return fail(result, models.SyncOutcomeNetworkError, msgSessionExpired)
	default:
		log.Msg("Sync failed")
		return fail(result, models.SyncOutcomeNetworkError, msgNetworkError)
	}
}

func fail(result models.SyncResult, outcome models.SyncOutcome, message string) models.SyncResult {
	result.Success = false
	result.Outcome = outcome
	result.Message = message
	return result
}

// SyncCaptured syncs the credential currently held in the credential store
func (e *Engine) SyncCaptured(ctx context.Context, platform models.Platform, allowCreate bool) models.SyncResult {
	p, err := models.ParsePlatform(string(platform))
	if err != nil {
		return fail(models.SyncResult{Platform: platform}, models.SyncOutcomeInvalid, err.Error())
	}

	value, err := e.creds.Credential(ctx, p)
	if err != nil {
		e.logger.Error().Err(err).Str("platform", p.String()).Msg("Failed to read captured credential")
		return fail(models.SyncResult{Platform: p}, models.SyncOutcomeStorageError, "Captured credentials are unavailable")
	}

	return e.Sync(ctx, models.SyncRequest{Platform: p, Token: value, AllowCreate: allowCreate})
}

// AutoSync pushes the captured credential of every linked platform whose
// value changed since the last auto-sync
func (e *Engine) AutoSync(ctx context.Context) []models.SyncResult {
	profile, err := e.profiles.Profile(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("Auto-sync skipped without a resolvable profile")
		return nil
	}
	state, err := e.links.Load(ctx, profile)
	if err != nil {
		e.logger.Error().Err(err).Msg("Auto-sync could not load link state")
		return nil
	}

	var results []models.SyncResult
	for _, platform := range models.SortedPlatforms(state) {
		value, err := e.creds.Credential(ctx, platform)
		if err != nil || value == "" {
			continue
		}

		e.pushedMu.Lock()
		unchanged := e.pushed[platform] == value
		e.pushedMu.Unlock()
		if unchanged {
			continue
		}

		result := e.Sync(ctx, models.SyncRequest{Platform: platform, Token: value})
		if result.Success {
			e.pushedMu.Lock()
			e.pushed[platform] = value
			e.pushedMu.Unlock()
		}
		results = append(results, result)
	}
	return results
}

// Links returns the link state of the active profile
func (e *Engine) Links(ctx context.Context) (models.LinkState, error) {
	profile, err := e.profiles.Profile(ctx)
	if err != nil {
		return nil, err
	}
	return e.links.Load(ctx, profile)
}

// Link associates platform with an existing remote auth method
func (e *Engine) Link(ctx context.Context, platform models.Platform, id int64) error {
	p, err := models.ParsePlatform(string(platform))
	if err != nil {
		return err
	}

	methods, err := e.AuthMethods(ctx, true)
	if err != nil {
		return fmt.Errorf("failed to verify auth method %d: %w", id, err)
	}

	found := false
	for _, m := range methods {
		if mp, err := models.ParsePlatform(string(m.Platform)); err == nil && mp == p && m.ID == id {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %s #%d", models.ErrUnknownAuthMethod, p, id)
	}

	profile, err := e.profiles.Profile(ctx)
	if err != nil {
		return err
	}
	if err := e.links.Link(ctx, profile, p, id); err != nil {
		return err
	}
	e.publish(ctx, interfaces.EventLinksChanged, map[string]interface{}{"platform": p.String(), "profile": profile})
	return nil
}

// Unlink removes the link of platform
func (e *Engine) Unlink(ctx context.Context, platform models.Platform) error {
	p, err := models.ParsePlatform(string(platform))
	if err != nil {
		return err
	}

	profile, err := e.profiles.Profile(ctx)
	if err != nil {
		return err
	}
	if err := e.links.Unlink(ctx, profile, p); err != nil {
		return err
	}
	e.publish(ctx, interfaces.EventLinksChanged, map[string]interface{}{"platform": p.String(), "profile": profile})
	return nil
}

// AuthMethods returns the remote auth method list, from cache unless refresh
// is set. Every fresh fetch prunes stale links.
func (e *Engine) AuthMethods(ctx context.Context, refresh bool) ([]models.RemoteAuthMethod, error) {
	profile, err := e.profiles.Profile(ctx)
	if err != nil {
		return nil, err
	}
	if !refresh {
		if methods, ok := e.cache.Get(profile); ok {
			return methods, nil
		}
	}

	methods, err := e.client.List(ctx)
	if err != nil {
		return nil, err
	}
	e.cache.Add(profile, methods)
	e.prune(ctx, profile, methods)

	return methods, nil
}

// prune drops links absent from a freshly fetched remote list. Callers keep
// going on failure; the next fetch or sweep retries.
func (e *Engine) prune(ctx context.Context, profile string, methods []models.RemoteAuthMethod) {
	removed, err := e.links.Reconcile(ctx, profile, methods)
	if err != nil {
		e.logger.Warn().Err(err).Str("profile", profile).Msg("Failed to prune links after fetching auth methods")
		return
	}
	if len(removed) > 0 {
		e.publish(ctx, interfaces.EventLinksChanged, map[string]interface{}{"profile": profile, "removed": removed})
	}
}

// DeleteAuthMethod deletes a remote auth method and any link pointing at it
func (e *Engine) DeleteAuthMethod(ctx context.Context, id int64, platform models.Platform) error {
	p, err := models.ParsePlatform(string(platform))
	if err != nil {
		return err
	}

	if err := e.client.Delete(ctx, id, p); err != nil {
		return err
	}
	e.cache.Purge()
	e.publish(ctx, interfaces.EventAuthMethodsChanged, map[string]interface{}{"platform": p.String()})

	profile, err := e.profiles.Profile(ctx)
	if err != nil {
		return err
	}
	linked, ok, err := e.links.Get(ctx, profile, p)
	if err != nil {
		return err
	}
	if ok && linked == id {
		return e.Unlink(ctx, p)
	}
	return nil
}

func (e *Engine) publish(ctx context.Context, eventType interfaces.EventType, payload map[string]interface{}) {
	if e.events == nil {
		return
	}
	if err := e.events.Publish(ctx, interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		e.logger.Debug().Err(err).Str("event_type", string(eventType)).Msg("Event not published")
	}
}
