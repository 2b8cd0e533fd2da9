// Package links persists the per-profile Platform -> auth method id mapping.
package links

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/credsync/internal/interfaces"
	"github.com/ternarybob/credsync/internal/models"
)

const (
	linkStateSuffix = ":linkedAuthMethods"
	// legacyKey held the unscoped map written before link state became profile-qualified
	legacyKey = "linkedAuthMethods"
)

// Key returns the storage key of a profile's link state
func Key(profile string) string {
	return strings.TrimSpace(profile) + linkStateSuffix
}

// Store is the Link-State Store. A mutex serialises read-modify-write of the
// stored map within the process.
type Store struct {
	kv     interfaces.KeyValueStorage
	logger arbor.ILogger
	mu     sync.Mutex
}

// NewStore creates a link-state store
func NewStore(kv interfaces.KeyValueStorage, logger arbor.ILogger) *Store {
	return &Store{kv: kv, logger: logger}
}

var _ interfaces.LinkStore = (*Store)(nil)

// Load returns the link state of profile. Legacy platform spellings are
// rewritten to the stable form and the result persisted.
func (s *Store) Load(ctx context.Context, profile string) (models.LinkState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx, profile)
}

// Get returns the linked id of platform
func (s *Store) Get(ctx context.Context, profile string, platform models.Platform) (int64, bool, error) {
	state, err := s.Load(ctx, profile)
	if err != nil {
		return 0, false, err
	}
	id, ok := state[platform]
	return id, ok, nil
}

// Link records platform -> id, replacing any previous link
func (s *Store) Link(ctx context.Context, profile string, platform models.Platform, id int64) error {
	if !platform.IsValid() {
		return fmt.Errorf("%w: %q", models.ErrUnknownPlatform, platform)
	}
	if id <= 0 {
		return fmt.Errorf("invalid auth method id %d", id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load(ctx, profile)
	if err != nil {
		return err
	}
	if state[platform] == id {
		return nil
	}
	state[platform] = id

	s.logger.Info().Str("profile", profile).Str("platform", platform.String()).Int64("auth_method_id", id).Msg("Linked platform")
	return s.save(ctx, profile, state)
}

// Unlink removes the link of platform. Unlinking an unlinked platform is a no-op.
func (s *Store) Unlink(ctx context.Context, profile string, platform models.Platform) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load(ctx, profile)
	if err != nil {
		return err
	}
	if _, ok := state[platform]; !ok {
		return nil
	}
	delete(state, platform)

	s.logger.Info().Str("profile", profile).Str("platform", platform.String()).Msg("Unlinked platform")
	return s.save(ctx, profile, state)
}

// Reconcile removes every entry whose (platform, id) pair is absent from the
// authoritative remote list and returns the removed platforms
func (s *Store) Reconcile(ctx context.Context, profile string, remote []models.RemoteAuthMethod) ([]models.Platform, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load(ctx, profile)
	if err != nil {
		return nil, err
	}

	type pair struct {
		platform models.Platform
		id       int64
	}
	existing := make(map[pair]struct{}, len(remote))
	for _, m := range remote {
		platform := m.Platform
		if p, err := models.ParsePlatform(string(m.Platform)); err == nil {
			platform = p
		}
		existing[pair{platform, m.ID}] = struct{}{}
	}

	var removed []models.Platform
	for _, platform := range models.SortedPlatforms(state) {
		if _, ok := existing[pair{platform, state[platform]}]; ok {
			continue
		}
		s.logger.Info().
			Str("profile", profile).
			Str("platform", platform.String()).
			Int64("auth_method_id", state[platform]).
			Msg("Pruning stale link")
		delete(state, platform)
		removed = append(removed, platform)
	}

	if len(removed) == 0 {
		return nil, nil
	}
	return removed, s.save(ctx, profile, state)
}

// load reads and migrates the stored map. Callers hold s.mu.
func (s *Store) load(ctx context.Context, profile string) (models.LinkState, error) {
	key := Key(profile)
	raw, err := s.kv.Get(ctx, key)
	migrated := false

	if errors.Is(err, interfaces.ErrKeyNotFound) {
		raw, err = s.kv.Get(ctx, legacyKey)
		if errors.Is(err, interfaces.ErrKeyNotFound) {
			return models.LinkState{}, nil
		}
		if err == nil {
			s.logger.Info().Str("profile", profile).Msg("Adopting unscoped link state for profile")
			migrated = true
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read link state: %w", err)
	}

	var stored map[string]int64
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, fmt.Errorf("failed to decode link state for %s: %w", profile, err)
	}

	state := make(models.LinkState, len(stored))
	for name, id := range stored {
		platform, err := models.ParsePlatform(name)
		if err != nil {
			s.logger.Warn().Str("profile", profile).Str("platform", name).Msg("Dropping link for unknown platform")
			migrated = true
			continue
		}
		if string(platform) != name {
			migrated = true
		}
		if id <= 0 {
			migrated = true
			continue
		}
		state[platform] = id
	}

	if migrated {
		if err := s.save(ctx, profile, state); err != nil {
			return nil, err
		}
		if err := s.kv.Delete(ctx, legacyKey); err != nil && !errors.Is(err, interfaces.ErrKeyNotFound) {
			s.logger.Warn().Err(err).Msg("Failed to remove unscoped link state")
		}
	}
	return state, nil
}

func (s *Store) save(ctx context.Context, profile string, state models.LinkState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode link state: %w", err)
	}
	if err := s.kv.Set(ctx, Key(profile), string(data), "linked auth methods"); err != nil {
		return fmt.Errorf("failed to store link state for %s: %w", profile, err)
	}
	return nil
}
