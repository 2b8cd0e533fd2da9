package reconcile

import (
	"context"
	"fmt"

	"github.com/ternarybob/credsync/internal/interfaces"
	"github.com/ternarybob/credsync/internal/models"
)

// Sweep fetches the authoritative list and prunes links whose (platform, id)
// no longer exists remotely. With adopt_active, unlinked platforms are linked
// to their newest active auth method.
func (e *Engine) Sweep(ctx context.Context) (*models.SweepReport, error) {
	if !e.debounce.TryAcquire("sweep") {
		return nil, models.ErrRateLimited
	}

	profile, err := e.profiles.Profile(ctx)
	if err != nil {
		return nil, fmt.Errorf("sweep: %w", err)
	}
	methods, err := e.client.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("sweep: %w", err)
	}
	e.cache.Add(profile, methods)

	removed, err := e.links.Reconcile(ctx, profile, methods)
	if err != nil {
		return nil, fmt.Errorf("sweep: %w", err)
	}

	report := &models.SweepReport{Profile: profile, Removed: removed}

	if e.adoptActive {
		adopted, err := e.adopt(ctx, profile, methods)
		if err != nil {
			return nil, fmt.Errorf("sweep: %w", err)
		}
		report.Adopted = adopted
	}

	state, err := e.links.Load(ctx, profile)
	if err != nil {
		return nil, fmt.Errorf("sweep: %w", err)
	}
	report.Links = state

	if len(report.Removed) > 0 || len(report.Adopted) > 0 {
		e.publish(ctx, interfaces.EventLinksChanged, map[string]interface{}{"profile": profile})
	}

	e.logger.Debug().
		Str("profile", profile).
		Int("remote", len(methods)).
		Int("removed", len(report.Removed)).
		Int("adopted", len(report.Adopted)).
		Msg("Reconciliation sweep complete")

	return report, nil
}

func (e *Engine) adopt(ctx context.Context, profile string, methods []models.RemoteAuthMethod) ([]models.Platform, error) {
	state, err := e.links.Load(ctx, profile)
	if err != nil {
		return nil, err
	}

	var active []models.RemoteAuthMethod
	for _, m := range methods {
		if m.Active {
			active = append(active, m)
		}
	}

	var adopted []models.Platform
	for _, platform := range models.AllPlatforms {
		if _, linked := state[platform]; linked {
			continue
		}
		id := newestFor(active, platform, 0)
		if id == 0 {
			continue
		}
		if err := e.links.Link(ctx, profile, platform, id); err != nil {
			return adopted, err
		}
		adopted = append(adopted, platform)
	}
	return adopted, nil
}
