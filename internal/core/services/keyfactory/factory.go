// Package keyfactory satisfies requests for cryptographic key material
// without blocking the enforcer on HSM latency (spec §4.2). Claims against
// the pre-generated pool are serialised by the repository's transaction;
// shortages are reported on a channel the caller drains. The daemon logs
// and counts each shortage event; no key-generate task is enqueued.
package keyfactory

import (
	"context"
	"log/slog"

	"github.com/poyrazK/enforcerd/internal/core/domain"
	"github.com/poyrazK/enforcerd/internal/core/ports"
)

// Factory implements create-new-key/create-shared-key/use-shared-key/
// get-by-locator against a KeyMaterialRepository.
type Factory struct {
	repo     ports.KeyMaterialRepository
	shortage chan<- ports.ShortageEvent
	logger   *slog.Logger
}

// New returns a Factory publishing shortage events on shortage. The
// channel must be drained by the scheduler; New never blocks sending to
// it with an unbuffered nil channel — callers must supply a buffered
// channel sized to their expected shortage rate.
func New(repo ports.KeyMaterialRepository, shortage chan<- ports.ShortageEvent, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{repo: repo, shortage: shortage, logger: logger}
}

func (f *Factory) emitShortage(filter ports.HsmKeyFilter) {
	evt := ports.ShortageEvent{
		PolicyName: filter.PolicyName,
		Role:       filter.Role,
		Algorithm:  filter.Algorithm,
		Bits:       filter.Bits,
		Repository: filter.Repository,
	}
	f.logger.Warn("key material shortage", "policy", evt.PolicyName, "role", evt.Role, "bits", evt.Bits, "repository", evt.Repository)
	select {
	case f.shortage <- evt:
	default:
		f.logger.Error("shortage event channel full, dropping event", "policy", evt.PolicyName, "role", evt.Role)
	}
}

// CreateNewKey atomically claims an unused pre-generated HsmKey matching
// filter exactly. Returns domain.ErrShortage if no such row exists.
func (f *Factory) CreateNewKey(ctx context.Context, filter ports.HsmKeyFilter) (*domain.HsmKey, error) {
	filter.Unclaimed = true
	key, err := f.repo.CreateNewKey(ctx, filter)
	if err != nil {
		return nil, err
	}
	if key == nil {
		f.emitShortage(filter)
		return nil, domain.ErrShortage
	}
	return key, nil
}

// CreateSharedKey is CreateNewKey plus marking the claimed key as a
// sharing candidate and recording the requesting zone.
func (f *Factory) CreateSharedKey(ctx context.Context, filter ports.HsmKeyFilter, zone string) (*domain.HsmKey, error) {
	filter.Unclaimed = true
	key, err := f.repo.CreateSharedKey(ctx, filter, zone)
	if err != nil {
		return nil, err
	}
	if key == nil {
		f.emitShortage(filter)
		return nil, domain.ErrShortage
	}
	return key, nil
}

// UseSharedKey finds an in-use HsmKey matching filter whose used-by-zones
// does not already include zone, and records zone against it.
func (f *Factory) UseSharedKey(ctx context.Context, filter ports.HsmKeyFilter, zone string) (*domain.HsmKey, error) {
	key, err := f.repo.UseSharedKey(ctx, filter, zone)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, domain.ErrShortage
	}
	return key, nil
}

// GetByLocator looks up an HsmKey by its opaque HSM locator.
func (f *Factory) GetByLocator(ctx context.Context, locator string) (*domain.HsmKey, error) {
	return f.repo.GetByLocator(ctx, locator)
}
